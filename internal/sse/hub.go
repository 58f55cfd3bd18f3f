// Package sse streams firewall events to browsers over Server-Sent Events.
package sse

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aegis-waf/aegis-go/internal/events"
)

// keepAliveInterval spaces the comment frames that hold idle connections
// open through proxies.
const keepAliveInterval = 30 * time.Second

// Handler serves the event stream endpoint from a bus subscription.
type Handler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewHandler creates an SSE handler over bus.
func NewHandler(bus *events.Bus, logger *slog.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

// ServeHTTP subscribes the client and streams events until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.JSON())
			flusher.Flush()
		}
	}
}
