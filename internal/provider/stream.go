package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/model"
)

const readChunkSize = 32 * 1024

type readResult struct {
	data []byte
	err  error
}

// Open starts the upstream call for turn and returns its events. The channel
// is closed when the body ends, a FatalError has been sent, or ctx is done.
// Transport failures, non-2xx statuses and stalls longer than frameTimeout
// arrive as a single FatalError event; no error escapes any other way.
func Open(ctx context.Context, client *http.Client, a Adapter, turn *model.ChatTurn, frameTimeout time.Duration) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		relay(ctx, client, a, turn, frameTimeout, out)
	}()
	return out
}

func relay(ctx context.Context, client *http.Client, a Adapter, turn *model.ChatTurn, frameTimeout time.Duration, out chan<- Event) {
	logger := log.With().Str("provider", a.Name()).Logger()
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	built, err := a.BuildRequest(turn)
	if err != nil {
		logger.Error().Err(err).Msg("build upstream request")
		emit(Event{FatalError: "AI Provider Error: invalid request"})
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, built.URL, bytes.NewReader(built.Body))
	if err != nil {
		logger.Error().Err(err).Msg("new upstream request")
		emit(Event{FatalError: "AI Provider Error: invalid request"})
		return
	}
	req.Header = built.Header.Clone()

	// The frame timeout also bounds the wait for response headers.
	var stalled atomic.Bool
	var headerTimer *time.Timer
	if frameTimeout > 0 {
		headerTimer = time.AfterFunc(frameTimeout, func() {
			stalled.Store(true)
			cancel()
		})
	}
	resp, err := client.Do(req)
	if headerTimer != nil && !headerTimer.Stop() && stalled.Load() {
		if err == nil {
			resp.Body.Close()
		}
		logger.Warn().Dur("frame_timeout", frameTimeout).Msg("upstream sent no headers")
		emit(Event{FatalError: "AI Provider Error: upstream timed out"})
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("upstream unreachable")
		emit(Event{FatalError: "AI Provider Error: upstream unreachable"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn().Int("status", resp.StatusCode).Str("body", string(snippet)).Msg("upstream rejected request")
		emit(Event{FatalError: fmt.Sprintf("AI Provider Error: %d", resp.StatusCode)})
		return
	}

	chunks := make(chan readResult)
	go readBody(reqCtx, resp.Body, chunks)

	var timeout <-chan time.Time
	var timer *time.Timer
	if frameTimeout > 0 {
		timer = time.NewTimer(frameTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	dec := a.NewDecoder()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			logger.Warn().Dur("frame_timeout", frameTimeout).Msg("upstream stalled")
			emit(Event{FatalError: "AI Provider Error: upstream timed out"})
			return
		case r := <-chunks:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(frameTimeout)
			}
			if len(r.data) > 0 && !emitAll(dec.Decode(r.data), emit) {
				return
			}
			if r.err == nil {
				continue
			}
			if errors.Is(r.err, io.EOF) {
				emitAll(dec.Close(), emit)
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(r.err).Msg("upstream stream interrupted")
			emit(Event{FatalError: "AI Provider Error: stream interrupted"})
			return
		}
	}
}

// emitAll forwards events until one is fatal or the consumer is gone. It
// reports whether the stream should keep going.
func emitAll(events []Event, emit func(Event) bool) bool {
	for _, ev := range events {
		if !emit(ev) {
			return false
		}
		if ev.FatalError != "" {
			return false
		}
	}
	return true
}

func readBody(ctx context.Context, body io.Reader, out chan<- readResult) {
	for {
		buf := make([]byte, readChunkSize)
		n, err := body.Read(buf)
		select {
		case out <- readResult{data: buf[:n], err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
