package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/model"
	"github.com/goyais/streamgate/internal/service"
	"github.com/goyais/streamgate/internal/sse"
)

// ChatStreamer runs one turn against a chunk writer.
type ChatStreamer interface {
	Stream(ctx context.Context, turn *model.ChatTurn, out service.ChunkWriter) error
}

type ChatHandler struct {
	gateway ChatStreamer
}

func NewChatHandler(gateway ChatStreamer) *ChatHandler {
	return &ChatHandler{gateway: gateway}
}

// POST /v1/chat/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var turn model.ChatTurn
	if err := decodeBody(w, r, &turn); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", "invalid chat turn: "+err.Error())
		return
	}

	out, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "E_INTERNAL", err.Error())
		return
	}

	err = h.gateway.Stream(r.Context(), &turn, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(r.Context()).Warn().Err(err).Msg("chat stream ended early")
	}
}
