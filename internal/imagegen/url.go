package imagegen

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// Pollinations renders on request, so the image URL itself is the result.
type Pollinations struct {
	BaseURL string
}

func (p *Pollinations) Name() string  { return "Pollinations.ai" }
func (p *Pollinations) Model() string { return "Flux" }

func (p *Pollinations) Generate(_ context.Context, prompt string, seed int64) (string, error) {
	q := url.Values{}
	q.Set("nologo", "true")
	q.Set("private", "true")
	q.Set("enhance", "true")
	q.Set("model", "flux")
	q.Set("seed", strconv.FormatInt(seed, 10))
	return strings.TrimRight(p.BaseURL, "/") + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode(), nil
}

// Prodia also renders on request.
type Prodia struct {
	BaseURL string
}

func (p *Prodia) Name() string  { return "Prodia" }
func (p *Prodia) Model() string { return "SDXL" }

func (p *Prodia) Generate(_ context.Context, prompt string, seed int64) (string, error) {
	q := url.Values{}
	q.Set("prompt", prompt)
	q.Set("model", "sdxl")
	q.Set("seed", strconv.FormatInt(seed, 10))
	q.Set("negative_prompt", "blurry, low quality, distorted")
	q.Set("steps", "25")
	q.Set("cfg", "7")
	return strings.TrimRight(p.BaseURL, "/") + "/generate?" + q.Encode(), nil
}
