package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/unalkalkan/bookcast/internal/logger"
)

const writeDeadline = 60 * time.Second

// Handler streams events as text/event-stream. The optional "job" query
// parameter limits the stream to one conversion.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new SSE handler.
func NewHandler(manager *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		manager: manager,
		logger:  logger.Component(log, "sse"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Context().Err() != nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", "error", err)
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client := h.manager.Subscribe(r.URL.Query().Get("job"))
	defer h.manager.Unsubscribe(client.ID)

	log := h.logger.With("client_id", client.ID)

	if err := h.send(w, rc, "connected", map[string]string{
		"client_id": client.ID,
		"job_id":    client.JobID,
	}); err != nil {
		log.Warn("failed to send connection message", "error", err)
		return
	}

	ctx := r.Context()
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := h.send(w, rc, string(event.Type), event); err != nil {
				log.Debug("client disconnected during send")
				return
			}

		case <-client.Done:
			log.Debug("client closed by manager")
			return

		case <-ctx.Done():
			return
		}
	}
}

// send writes one event frame and flushes it.
func (h *Handler) send(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	// Not every ResponseWriter supports deadlines.
	_ = rc.SetWriteDeadline(time.Now().Add(writeDeadline))
	return nil
}
