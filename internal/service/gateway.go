package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/model"
	"github.com/goyais/streamgate/internal/provider"
	"github.com/goyais/streamgate/internal/toolcall"
)

const (
	emptyPromptNotice = "\n> ❌ **Error:** Empty prompt. Please describe the image you want to generate.\n\n"
	jobUnavailable    = "\n> ❌ **Error:** Image generation is unavailable right now. Please try again.\n\n"
)

// ChunkWriter is the client side of one chat stream.
type ChunkWriter interface {
	Content(text string) error
	Error(message string) error
	Done() error
}

// ImageDispatcher starts detached fulfillment of an already created job.
type ImageDispatcher interface {
	Provider() string
	Dispatch(jobID, prompt string)
}

// Gateway relays one chat turn from an upstream provider to a client and
// turns generate_image calls into asynchronous jobs.
type Gateway struct {
	adapters     provider.Set
	client       *http.Client
	store        jobstore.Store
	images       ImageDispatcher
	frameTimeout time.Duration
	maxPrompt    int
	newID        func() string
}

func NewGateway(adapters provider.Set, client *http.Client, store jobstore.Store, images ImageDispatcher, cfg config.UpstreamConfig) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		adapters:     adapters,
		client:       client,
		store:        store,
		images:       images,
		frameTimeout: cfg.FrameTimeout,
		maxPrompt:    cfg.MaxPromptLength,
		newID:        uuid.NewString,
	}
}

// Stream runs one turn to completion. Unless ctx is cancelled by the client,
// exactly one Done is written. The returned error is non-nil only when the
// client went away.
func (g *Gateway) Stream(ctx context.Context, turn *model.ChatTurn, out ChunkWriter) error {
	adapter := provider.Route(turn, g.adapters)
	logger := log.Ctx(ctx).With().Str("provider", adapter.Name()).Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var acc toolcall.Accumulator
	for ev := range provider.Open(relayCtx, g.client, adapter, turn, g.frameTimeout) {
		if ev.FatalError != "" {
			if err := out.Error(ev.FatalError); err != nil {
				return err
			}
			break
		}
		if ev.ContentDelta != "" {
			if err := out.Content(ev.ContentDelta); err != nil {
				return err
			}
		}
		if ev.ToolCall != nil {
			acc.Feed(ev.ToolCall.Name, ev.ToolCall.ArgsFragment)
		}
		if ev.FinishReason == "" {
			continue
		}
		call, ok, err := acc.FinishErr(ev.FinishReason)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping tool call with malformed arguments")
			continue
		}
		if ok {
			if err := g.fulfill(ctx, call, out); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return out.Done()
}

func (g *Gateway) fulfill(ctx context.Context, call toolcall.Call, out ChunkWriter) error {
	if call.Name != provider.ImageToolName {
		log.Ctx(ctx).Debug().Str("tool", call.Name).Msg("ignoring unknown tool call")
		return nil
	}
	prompt := strings.TrimSpace(call.Arg("prompt"))
	if prompt == "" {
		return out.Content(emptyPromptNotice)
	}
	if n := len([]rune(prompt)); g.maxPrompt > 0 && n > g.maxPrompt {
		if err := out.Content(TruncationNotice(n, g.maxPrompt)); err != nil {
			return err
		}
		prompt = string([]rune(prompt)[:g.maxPrompt])
	}

	job := &model.Job{
		ID:       g.newID(),
		Status:   model.JobGenerating,
		Prompt:   prompt,
		Provider: g.images.Provider(),
	}
	// Create before the directive goes out so the first poll finds the job.
	if err := g.store.Create(context.WithoutCancel(ctx), job); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("create image job")
		return out.Content(jobUnavailable)
	}
	directive, err := Directive(job.ID, prompt)
	if err != nil {
		return err
	}
	werr := out.Content(directive)
	g.images.Dispatch(job.ID, prompt)
	log.Ctx(ctx).Info().Str("job_id", job.ID).Msg("image job dispatched")
	return werr
}

// TruncationNotice tells the user a prompt of n runes was cut to limit.
func TruncationNotice(n, limit int) string {
	return fmt.Sprintf("\n> ⚠️ **Warning:** Prompt too long (%d characters). Truncating to %d characters...\n\n", n, limit)
}

// Directive renders the progressive image widget marker for a job.
func Directive(jobID, prompt string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		JobID  string `json:"jobId"`
		Prompt string `json:"prompt"`
	}{jobID, prompt}); err != nil {
		return "", fmt.Errorf("encode directive: %w", err)
	}
	return "[[WIDGET:progressive_image|" + strings.TrimSuffix(buf.String(), "\n") + "]]\n\n", nil
}
