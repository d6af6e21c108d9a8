package provider

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goyais/streamgate/internal/model"
	"github.com/goyais/streamgate/internal/sse"
)

// ImageToolName is the only tool the chat adapter declares.
const ImageToolName = "generate_image"

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	AgentID     string        `json:"agent_id,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Tools       []tool        `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

var imageTool = tool{
	Type: "function",
	Function: toolFunction{
		Name:        ImageToolName,
		Description: "Generates an image based on a prompt using Flux model.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The visual description of the image to generate.",
				},
			},
		},
	},
}

// ChatAdapter streams chat completions and declares the generate_image tool.
type ChatAdapter struct {
	URL    string
	Model  string
	APIKey string
}

func (a *ChatAdapter) Name() string { return "chat" }

func (a *ChatAdapter) BuildRequest(turn *model.ChatTurn) (*Request, error) {
	body := chatRequest{
		Model:       a.Model,
		Messages:    toChatMessages(PrepareMessages(turn)),
		Stream:      true,
		Tools:       []tool{imageTool},
		ToolChoice:  "auto",
		Temperature: turn.Temperature,
	}
	return jsonRequest(a.URL, a.APIKey, body)
}

func (a *ChatAdapter) NewDecoder() Decoder { return newStreamDecoder() }

func toChatMessages(msgs []model.Message) []chatMessage {
	out := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func jsonRequest(url, apiKey string, body any) (*Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return &Request{URL: url, Header: h, Body: data}, nil
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Normalize maps one chat-completions frame onto events. Only the first
// choice is considered.
func Normalize(frame []byte) ([]Event, error) {
	var chunk chatChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		return nil, err
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]
	var events []Event
	if choice.Delta.Content != "" {
		events = append(events, Event{ContentDelta: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		if tc.Function.Name == "" && tc.Function.Arguments == "" {
			continue
		}
		events = append(events, Event{ToolCall: &ToolCallDelta{
			Name:         tc.Function.Name,
			ArgsFragment: tc.Function.Arguments,
		}})
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		events = append(events, Event{FinishReason: *choice.FinishReason})
	}
	return events, nil
}

// streamDecoder reassembles SSE frames and drops any that fail to parse.
type streamDecoder struct {
	frames sse.Reassembler
}

func newStreamDecoder() *streamDecoder { return &streamDecoder{} }

func (d *streamDecoder) Decode(chunk []byte) []Event {
	return normalizeAll(d.frames.Feed(chunk))
}

func (d *streamDecoder) Close() []Event {
	return normalizeAll(d.frames.Flush())
}

func normalizeAll(payloads []string) []Event {
	var out []Event
	for _, p := range payloads {
		events, err := Normalize([]byte(p))
		if err != nil {
			continue
		}
		out = append(out, events...)
	}
	return out
}
