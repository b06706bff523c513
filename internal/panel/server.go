package panel

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/diagram"
	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/scripts"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/internal/streaming"
)

// EventSource lists journaled events. Satisfied by *store.LibSQLJournal.
type EventSource interface {
	ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error)
}

// PanelDeps holds the dependencies for the panel server. Events and Steps
// are optional.
type PanelDeps struct {
	Scheduler *scheduler.Scheduler
	Caster    *scheduler.Caster
	Scripts   *scripts.Library
	Actors    *actors.Directory
	Hub       streaming.EventHub
	Events    EventSource
	Steps     diagram.StepLookup
	Logger    *slog.Logger
}

// PanelServer serves a JSON API and live event streams over HTTP.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks", s.handleCast)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/scripts", s.handleScripts)
	mux.HandleFunc("POST /api/scripts/reload", s.handleReload)
	mux.HandleFunc("GET /api/scripts/{name}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/actors", s.handleActors)
	mux.HandleFunc("GET /api/actors/{id}/inbox", s.handleInbox)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/tasks/{id}", s.handleSSETask)

	return mux
}

// ListenAndServe serves Handler on addr until ctx is cancelled.
func (s *PanelServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.deps.Logger.Info("panel listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
