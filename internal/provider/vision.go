package provider

import (
	"github.com/goyais/streamgate/internal/model"
)

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// VisionAdapter posts to an agents endpoint for turns that carry images. It
// declares no tools, so it never produces tool-call events.
type VisionAdapter struct {
	URL     string
	AgentID string
	APIKey  string
}

func (a *VisionAdapter) Name() string { return "vision" }

func (a *VisionAdapter) BuildRequest(turn *model.ChatTurn) (*Request, error) {
	msgs := toChatMessages(PrepareMessages(turn))
	if last := lastUserIndex(msgs); last >= 0 {
		text, _ := msgs[last].Content.(string)
		parts := []contentPart{{Type: "text", Text: text}}
		for _, img := range turn.ImageAttachments() {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: img.ImageURL()})
		}
		msgs[last].Content = parts
	}
	body := chatRequest{
		AgentID:     a.AgentID,
		Messages:    msgs,
		Stream:      true,
		Temperature: turn.Temperature,
	}
	return jsonRequest(a.URL, a.APIKey, body)
}

func (a *VisionAdapter) NewDecoder() Decoder { return newStreamDecoder() }

func lastUserIndex(msgs []chatMessage) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return i
		}
	}
	return -1
}
