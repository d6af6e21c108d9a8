package provider

import (
	"strings"

	"github.com/goyais/streamgate/internal/model"
)

// DefaultPersona is used when a turn carries no system instruction.
const DefaultPersona = "You are a helpful assistant. When the user asks for a picture, call the generate_image tool with a detailed visual description."

// SystemContent is the persona followed by any attached text files.
func SystemContent(turn *model.ChatTurn) string {
	content := turn.SystemInstruction
	if strings.TrimSpace(content) == "" {
		content = DefaultPersona
	}
	var files []string
	for _, a := range turn.Attachments {
		if a.Text == "" {
			continue
		}
		files = append(files, "[File: "+a.Name+"]\n"+a.Text)
	}
	if len(files) > 0 {
		content += "\n\nAttached Files:\n" + strings.Join(files, "\n\n")
	}
	return content
}

// PrepareMessages returns the system message, the non-empty history with the
// "model" role mapped to "assistant", and the new user message if any.
func PrepareMessages(turn *model.ChatTurn) []model.Message {
	out := make([]model.Message, 0, len(turn.Messages)+2)
	out = append(out, model.Message{Role: "system", Content: SystemContent(turn)})
	for _, m := range turn.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := m.Role
		if role == "model" {
			role = "assistant"
		}
		out = append(out, model.Message{Role: role, Content: m.Content})
	}
	if strings.TrimSpace(turn.Message) != "" {
		out = append(out, model.Message{Role: "user", Content: turn.Message})
	}
	return out
}
