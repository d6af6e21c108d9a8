package model

import "strings"

// AttachmentKind tags what a client attached to a turn.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentText     AttachmentKind = "text"
	AttachmentScript   AttachmentKind = "script"
)

// Message is one prior entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a file the client sent alongside the new message.
type Attachment struct {
	Type     AttachmentKind `json:"type"`
	Name     string         `json:"name,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	URL      string         `json:"url,omitempty"`
	MaxRes   string         `json:"maxRes,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// IsImage matches the client's tagging as well as an image mime type.
func (a Attachment) IsImage() bool {
	return a.Type == AttachmentImage || strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}

// ImageURL prefers the full-resolution source when the client sent one.
func (a Attachment) ImageURL() string {
	if a.MaxRes != "" {
		return a.MaxRes
	}
	return a.URL
}

// ChatTurn is one inbound chat request. It is never mutated by the gateway.
type ChatTurn struct {
	Messages          []Message    `json:"messages"`
	Message           string       `json:"message,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	SystemInstruction string       `json:"systemInstruction,omitempty"`
	Model             string       `json:"model,omitempty"`
	Temperature       *float64     `json:"temperature,omitempty"`
}

// ImageAttachments returns the attachments the vision path must forward.
func (t *ChatTurn) ImageAttachments() []Attachment {
	var out []Attachment
	for _, a := range t.Attachments {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}

// HasImages reports whether at least one attachment is an image.
func (t *ChatTurn) HasImages() bool {
	for _, a := range t.Attachments {
		if a.IsImage() {
			return true
		}
	}
	return false
}
