package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aigateway/internal/dispatch"
	"aigateway/internal/providers"
	"aigateway/internal/timing"
	"aigateway/internal/utils"
)

// StreamDelta is the increment carried by one chunk.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// StreamChunk is the data of one server-sent event.
type StreamChunk struct {
	Delta        StreamDelta      `json:"delta"`
	FinishReason string           `json:"finishReason,omitempty"`
	Usage        *providers.Usage `json:"usage,omitempty"`
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) done() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamChat relays a chat stream as server-sent events. Errors before the
// first chunk are plain JSON answers; later ones become an error event.
func (d *Dependencies) streamChat(w http.ResponseWriter, r *http.Request, req *dispatch.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := d.Dispatcher.ChatStream(ctx, req)
	if err != nil {
		d.respondError(w, r, err)
		return
	}
	defer stream.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Trailer", "Server-Timing")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t := timing.FromContext(ctx)
	sse := &sseWriter{w: w, flusher: flusher}
	logger := d.logger.With("requestId", req.ID, "provider", stream.Vendor())

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("Client went away during stream")
				return
			}
			logger.Warn("Stream failed after first chunk", "error", err)
			if err := sse.send("error", utils.ErrorResponse{Error: utils.ErrorBody{Message: "upstream stream failed"}}); err != nil {
				logger.Debug("Failed to send error event", "error", err)
			}
			return
		}

		t.MarkFirstByte()
		out := StreamChunk{
			Delta:        StreamDelta{Role: chunk.Role, Content: chunk.Content},
			FinishReason: chunk.FinishReason,
			Usage:        chunk.Usage,
		}
		if err := sse.send("", out); err != nil {
			logger.Debug("Client went away during stream", "error", err)
			return
		}
	}

	t.Finish()
	if t != nil {
		if err := sse.send("timing", t); err != nil {
			logger.Debug("Failed to send timing event", "error", err)
			return
		}
		h.Set("Server-Timing", t.ServerTiming())
	}
	if err := sse.done(); err != nil {
		logger.Debug("Failed to end stream", "error", err)
	}
}
