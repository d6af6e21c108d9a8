package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrMissingToken is returned when the premium tier has no access token.
var ErrMissingToken = errors.New("hugging face access token required")

// HuggingFace calls the inference API, which answers with raw image bytes.
type HuggingFace struct {
	url     string
	token   string
	limiter *rate.Limiter
	store   ObjectStore
	client  *http.Client
}

// NewHuggingFace builds the backend. rps <= 0 disables rate limiting and a
// nil client means http.DefaultClient.
func NewHuggingFace(url, token string, rps float64, store ObjectStore, client *http.Client) *HuggingFace {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HuggingFace{
		url:     url,
		token:   token,
		limiter: rate.NewLimiter(limit, 1),
		store:   store,
		client:  client,
	}
}

func (h *HuggingFace) Name() string  { return "Hugging Face" }
func (h *HuggingFace) Model() string { return "FLUX.1-schnell" }

func (h *HuggingFace) Generate(ctx context.Context, prompt string, _ int64) (string, error) {
	if h.token == "" {
		return "", ErrMissingToken
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"inputs": prompt,
		"parameters": map[string]any{
			"num_inference_steps": 4,
			"guidance_scale":      0,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("hugging face returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(img)
	}

	if h.store != nil {
		key := "images/" + uuid.NewString() + extension(contentType)
		return h.store.Put(ctx, key, img, contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img), nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
