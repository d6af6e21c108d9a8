// Package provider adapts upstream LLM APIs to one normalized event stream.
package provider

import (
	"net/http"
	"strings"

	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/model"
)

// ToolCallDelta is one fragment of a tool invocation.
type ToolCallDelta struct {
	Name         string
	ArgsFragment string
}

// Event is one normalized unit of upstream output. At most one of
// ContentDelta and ToolCall is set.
type Event struct {
	ContentDelta string
	ToolCall     *ToolCallDelta
	FinishReason string
	// FatalError ends the stream. It is already phrased for the end user.
	FatalError string
}

// Request is a fully built upstream call.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte
}

// Decoder converts raw response bytes into events. Decode is called for every
// chunk read from the body and Close once at end of body.
type Decoder interface {
	Decode(chunk []byte) []Event
	Close() []Event
}

// Adapter is one upstream provider.
type Adapter interface {
	Name() string
	BuildRequest(turn *model.ChatTurn) (*Request, error)
	NewDecoder() Decoder
}

// Set is the collection of configured adapters. Vision and Alternate are
// optional.
type Set struct {
	Chat            Adapter
	Vision          Adapter
	Alternate       Adapter
	AlternatePrefix string
}

// Route picks the adapter for a turn. Image attachments win over the model
// prefix; anything else goes to the chat adapter.
func Route(turn *model.ChatTurn, s Set) Adapter {
	if s.Vision != nil && turn.HasImages() {
		return s.Vision
	}
	if s.Alternate != nil && s.AlternatePrefix != "" && strings.HasPrefix(turn.Model, s.AlternatePrefix) {
		return s.Alternate
	}
	return s.Chat
}

// NewSet builds adapters from configuration. The vision adapter needs an agent
// id and the alternate adapter needs a key; otherwise they stay unset.
func NewSet(cfg config.UpstreamConfig) Set {
	s := Set{
		Chat:            &ChatAdapter{URL: cfg.ChatURL, Model: cfg.ChatModel, APIKey: cfg.ChatKey},
		AlternatePrefix: cfg.AlternatePrefix,
	}
	if cfg.VisionAgentID != "" {
		s.Vision = &VisionAdapter{URL: cfg.VisionURL, AgentID: cfg.VisionAgentID, APIKey: cfg.ChatKey}
	}
	if cfg.AlternateKey != "" {
		s.Alternate = &AlternateAdapter{URL: cfg.AlternateURL, Model: cfg.AlternateModel, APIKey: cfg.AlternateKey}
	}
	return s
}
