package provider

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goyais/streamgate/internal/model"
)

type altPart struct {
	Text string `json:"text"`
}

type altContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []altPart `json:"parts"`
}

type altRequest struct {
	Contents          []altContent `json:"contents"`
	SystemInstruction *altContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *struct {
		Temperature *float64 `json:"temperature,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type altResponse struct {
	Candidates []struct {
		Content altContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AlternateAdapter makes a single non-streaming generateContent call and
// replays the whole answer as one content event followed by stop. URL may
// contain a {model} placeholder.
type AlternateAdapter struct {
	URL    string
	Model  string
	APIKey string
}

func (a *AlternateAdapter) Name() string { return "alternate" }

func (a *AlternateAdapter) modelID(turn *model.ChatTurn) string {
	if turn.Model != "" {
		return turn.Model
	}
	return a.Model
}

func (a *AlternateAdapter) BuildRequest(turn *model.ChatTurn) (*Request, error) {
	var body altRequest
	for _, m := range PrepareMessages(turn) {
		if m.Role == "system" {
			continue
		}
		role := "model"
		if m.Role == "user" {
			role = "user"
		}
		body.Contents = append(body.Contents, altContent{Role: role, Parts: []altPart{{Text: m.Content}}})
	}
	body.SystemInstruction = &altContent{Parts: []altPart{{Text: SystemContent(turn)}}}
	if turn.Temperature != nil {
		body.GenerationConfig = &struct {
			Temperature *float64 `json:"temperature,omitempty"`
		}{Temperature: turn.Temperature}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		h.Set("x-goog-api-key", a.APIKey)
	}
	return &Request{
		URL:    strings.ReplaceAll(a.URL, "{model}", a.modelID(turn)),
		Header: h,
		Body:   data,
	}, nil
}

func (a *AlternateAdapter) NewDecoder() Decoder { return &bufferedDecoder{} }

// bufferedDecoder holds the whole body until Close.
type bufferedDecoder struct {
	buf bytes.Buffer
}

func (d *bufferedDecoder) Decode(chunk []byte) []Event {
	d.buf.Write(chunk)
	return nil
}

func (d *bufferedDecoder) Close() []Event {
	var resp altResponse
	if err := json.Unmarshal(d.buf.Bytes(), &resp); err != nil {
		return []Event{{FatalError: "AI Provider Error: invalid response"}}
	}
	if resp.Error != nil {
		return []Event{{FatalError: "AI Provider Error: " + resp.Error.Message}}
	}
	var text strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	var events []Event
	if text.Len() > 0 {
		events = append(events, Event{ContentDelta: text.String()})
	}
	return append(events, Event{FinishReason: "stop"})
}
