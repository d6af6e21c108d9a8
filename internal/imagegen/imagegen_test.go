package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/goyais/streamgate/internal/config"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestBackendForTier(t *testing.T) {
	cases := map[string]string{
		"":            "pollinations",
		"free":        "pollinations",
		"observer":    "pollinations",
		"vega":        "prodia",
		"Sirius":      "huggingface",
		"singularity": "huggingface",
	}
	for tier, want := range cases {
		if got := BackendForTier(tier); got != want {
			t.Errorf("BackendForTier(%q) = %s, want %s", tier, got, want)
		}
	}
}

func TestPollinationsURL(t *testing.T) {
	p := &Pollinations{BaseURL: "https://image.pollinations.ai/"}
	got, err := p.Generate(context.Background(), "a red fox / night", 42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	if u.Path != "/prompt/a red fox / night" && u.EscapedPath() != "/prompt/a%20red%20fox%20%2F%20night" {
		t.Fatalf("unexpected path %q", u.EscapedPath())
	}
	q := u.Query()
	if q.Get("model") != "flux" || q.Get("seed") != "42" || q.Get("nologo") != "true" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestProdiaURL(t *testing.T) {
	got, _ := (&Prodia{BaseURL: "https://image.prodia.com"}).Generate(context.Background(), "castle", 7)
	u, _ := url.Parse(got)
	q := u.Query()
	if u.Path != "/generate" || q.Get("prompt") != "castle" || q.Get("model") != "sdxl" || q.Get("steps") != "25" {
		t.Fatalf("unexpected url %s", got)
	}
}

func hfServer(t *testing.T, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if status >= 400 {
			http.Error(w, "model loading", status)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestHuggingFaceDataURL(t *testing.T) {
	srv, got := hfServer(t, http.StatusOK)
	h := NewHuggingFace(srv.URL, "hf-token", 0, nil, srv.Client())

	out, err := h.Generate(context.Background(), "a lighthouse", 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
	if (*got)["inputs"] != "a lighthouse" {
		t.Fatalf("unexpected request body %v", *got)
	}
	params := (*got)["parameters"].(map[string]any)
	if params["num_inference_steps"] != float64(4) {
		t.Fatalf("unexpected parameters %v", params)
	}
}

type memObjects struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string][]byte{}
	}
	m.keys[key] = data
	return "https://cdn.example/" + key, nil
}

func TestHuggingFaceUploadsToObjectStore(t *testing.T) {
	srv, _ := hfServer(t, http.StatusOK)
	objects := &memObjects{}
	h := NewHuggingFace(srv.URL, "hf-token", 0, objects, srv.Client())

	out, err := h.Generate(context.Background(), "a lighthouse", 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(out, "https://cdn.example/images/") || !strings.HasSuffix(out, ".png") {
		t.Fatalf("unexpected url %q", out)
	}
	if len(objects.keys) != 1 {
		t.Fatalf("expected one uploaded object, got %d", len(objects.keys))
	}
}

func TestHuggingFaceErrors(t *testing.T) {
	h := NewHuggingFace("http://unused", "", 0, nil, nil)
	if _, err := h.Generate(context.Background(), "x", 1); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	srv, _ := hfServer(t, http.StatusServiceUnavailable)
	h = NewHuggingFace(srv.URL, "hf-token", 0, nil, srv.Client())
	if _, err := h.Generate(context.Background(), "x", 1); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}

func TestHuggingFaceRateLimitHonoursContext(t *testing.T) {
	srv, _ := hfServer(t, http.StatusOK)
	h := NewHuggingFace(srv.URL, "hf-token", 0.001, nil, srv.Client())
	if _, err := h.Generate(context.Background(), "first", 1); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Generate(ctx, "second", 1); err == nil {
		t.Fatalf("expected rate limit wait to fail on cancelled context")
	}
}

type failing struct{}

func (failing) Name() string  { return "Broken" }
func (failing) Model() string { return "none" }
func (failing) Generate(context.Context, string, int64) (string, error) {
	return "", errors.New("down")
}

func TestGeneratorFallsBack(t *testing.T) {
	g := NewGenerator(failing{}, &Pollinations{BaseURL: "https://p"})
	res, err := g.Generate(context.Background(), "  sunset  ")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Fallback || res.Provider != "Pollinations.ai" || !strings.HasPrefix(res.URL, "https://p/prompt/sunset?") {
		t.Fatalf("unexpected result %+v", res)
	}
	if g.Provider() != "Broken" {
		t.Fatalf("provider should name the primary backend, got %s", g.Provider())
	}

	if _, err := NewGenerator(failing{}, nil).Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected error without fallback")
	}
}

func TestGeneratorTruncatesPrompt(t *testing.T) {
	var seen string
	g := NewGenerator(backendFunc(func(p string) { seen = p }), nil)
	_, _ = g.Generate(context.Background(), strings.Repeat("é", 1500))
	if n := len([]rune(seen)); n != maxPromptRunes {
		t.Fatalf("backend saw %d runes, want %d", n, maxPromptRunes)
	}
}

type backendFunc func(string)

func (b backendFunc) Name() string  { return "func" }
func (b backendFunc) Model() string { return "func" }
func (b backendFunc) Generate(_ context.Context, p string, _ int64) (string, error) {
	b(p)
	return "ok", nil
}

func TestFromConfig(t *testing.T) {
	cfg := config.ImageConfig{PollinationsURL: "https://p", ProdiaURL: "https://d", HuggingFaceURL: "https://h"}
	cfg.Tier = "free"
	if got := FromConfig(cfg, nil).Provider(); got != "Pollinations.ai" {
		t.Fatalf("free tier provider = %s", got)
	}
	cfg.Tier = "vega"
	if got := FromConfig(cfg, nil).Provider(); got != "Prodia" {
		t.Fatalf("vega tier provider = %s", got)
	}
	cfg.Tier = "supernova"
	g := FromConfig(cfg, nil)
	if g.Provider() != "Hugging Face" {
		t.Fatalf("supernova tier provider = %s", g.Provider())
	}
	// No token configured: the premium backend fails and pollinations answers.
	res, err := g.Generate(context.Background(), "owl")
	if err != nil || !res.Fallback {
		t.Fatalf("expected fallback result, got %+v, %v", res, err)
	}
}

func TestMinioStorePut(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = data
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	store, err := NewMinioStore(context.Background(), config.ImageConfig{
		S3Endpoint:  endpoint,
		S3AccessKey: "ak",
		S3SecretKey: "sk",
		S3Bucket:    "images",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	got, err := store.Put(context.Background(), "images/a.png", pngHeader, "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if got != "http://"+endpoint+"/images/images/a.png" {
		t.Fatalf("unexpected url %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := objects["/images/images/a.png"]; !ok {
		t.Fatalf("object not uploaded, have %v", objects)
	}
}

func TestNewMinioStoreDisabled(t *testing.T) {
	store, err := NewMinioStore(context.Background(), config.ImageConfig{})
	if err != nil || store != nil {
		t.Fatalf("expected nil store without endpoint, got %v, %v", store, err)
	}
}
