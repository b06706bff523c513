package panel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rendis/skillscript/internal/streaming"
)

// handleSSEGlobal streams events to the client via Server-Sent Events,
// filtered by the actor and type query params.
func (s *PanelServer) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := streaming.EventFilter{ActorID: q.Get("actor")}
	if t := q.Get("type"); t != "" {
		filter.EventTypes = []string{t}
	}
	s.serveSSE(w, r, filter)
}

// handleSSETask streams events for a specific task.
func (s *PanelServer) handleSSETask(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{TaskID: r.PathValue("id")})
}

func (s *PanelServer) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if s.deps.Hub == nil {
		http.Error(w, "event hub is disabled", http.StatusNotImplemented)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", slog.String("error", err.Error()))
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
