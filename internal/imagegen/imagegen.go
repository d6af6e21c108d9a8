// Package imagegen fulfills generate_image calls against tiered providers.
package imagegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/config"
)

// maxPromptRunes caps what any backend receives.
const maxPromptRunes = 1000

// Result is a finished image.
type Result struct {
	URL      string
	Provider string
	Model    string
	Fallback bool
}

// Backend is one image provider.
type Backend interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string, seed int64) (string, error)
}

// Generator runs the tier's backend and falls back to the free one on error.
type Generator struct {
	primary  Backend
	fallback Backend
	seed     func() int64
}

// NewGenerator pairs a primary backend with an optional fallback.
func NewGenerator(primary, fallback Backend) *Generator {
	return &Generator{
		primary:  primary,
		fallback: fallback,
		seed:     func() int64 { return time.Now().UnixMilli() },
	}
}

// BackendForTier maps a subscription tier to a provider key.
func BackendForTier(tier string) string {
	switch strings.ToLower(tier) {
	case "sirius", "antares", "supernova", "singularity":
		return "huggingface"
	case "vega":
		return "prodia"
	default:
		return "pollinations"
	}
}

// FromConfig builds the generator for cfg.Tier. store may be nil, in which
// case byte-returning providers yield data URLs.
func FromConfig(cfg config.ImageConfig, store ObjectStore) *Generator {
	free := &Pollinations{BaseURL: cfg.PollinationsURL}
	switch BackendForTier(cfg.Tier) {
	case "huggingface":
		return NewGenerator(NewHuggingFace(cfg.HuggingFaceURL, cfg.HuggingFaceToken, cfg.HuggingFaceRPS, store, nil), free)
	case "prodia":
		return NewGenerator(&Prodia{BaseURL: cfg.ProdiaURL}, free)
	default:
		return NewGenerator(free, nil)
	}
}

// Provider names the backend a new job is expected to use.
func (g *Generator) Provider() string { return g.primary.Name() }

func (g *Generator) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = sanitize(prompt)
	seed := g.seed()
	url, err := g.primary.Generate(ctx, prompt, seed)
	if err == nil {
		return Result{URL: url, Provider: g.primary.Name(), Model: g.primary.Model()}, nil
	}
	if g.fallback == nil || ctx.Err() != nil {
		return Result{}, fmt.Errorf("%s: %w", g.primary.Name(), err)
	}
	log.Warn().Err(err).Str("provider", g.primary.Name()).Str("fallback", g.fallback.Name()).
		Msg("image provider failed, falling back")
	url, ferr := g.fallback.Generate(ctx, prompt, seed)
	if ferr != nil {
		return Result{}, fmt.Errorf("%s failed (%v), fallback %s: %w", g.primary.Name(), err, g.fallback.Name(), ferr)
	}
	return Result{URL: url, Provider: g.fallback.Name(), Model: g.fallback.Model(), Fallback: true}, nil
}

func sanitize(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if r := []rune(prompt); len(r) > maxPromptRunes {
		prompt = string(r[:maxPromptRunes])
	}
	return prompt
}
