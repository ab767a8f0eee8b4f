package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/installmatch/backend/internal/models"
)

const heartbeatInterval = 25 * time.Second

// IdentityFunc resolves the authenticated caller from a request context.
type IdentityFunc func(ctx context.Context) (models.Identity, bool)

// StreamHandler serves the caller's events as server-sent events. Admins
// receive every event.
type StreamHandler struct {
	broker   *Broker
	identity IdentityFunc
	log      *slog.Logger
}

func NewStreamHandler(broker *Broker, identity IdentityFunc, log *slog.Logger) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHandler{broker: broker, identity: identity, log: log}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	msgs, unsubscribe := h.broker.Subscribe(id.AccountID, id.IsAdmin())
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, msg.Payload); err != nil {
				h.log.Debug("event stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
