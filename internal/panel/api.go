package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/diagram"
	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/store"
)

func (s *PanelServer) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.deps.Scheduler.List(),
		"ticks": s.deps.Scheduler.Ticks(),
	})
}

func (s *PanelServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	info, ok := s.deps.Scheduler.Snapshot(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleCast registers the actor when needed and casts the script.
func (s *PanelServer) handleCast(w http.ResponseWriter, r *http.Request) {
	var req scheduler.CastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.ActorID != "" {
		if _, err := s.deps.Actors.Register(req.ActorID); err != nil {
			writeScriptError(w, err)
			return
		}
	}

	id, err := s.deps.Caster.Cast(r.Context(), req)
	if err != nil {
		writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

func (s *PanelServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Scheduler.Cancel(id) {
		writeError(w, http.StatusNotFound, "task not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "task_id": id})
}

type scriptInfo struct {
	Name     string   `json:"name"`
	Triggers []string `json:"triggers"`
}

func (s *PanelServer) handleScripts(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Scripts.Names()
	infos := make([]scriptInfo, 0, len(names))
	for _, name := range names {
		def, err := s.deps.Scripts.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, scriptInfo{Name: name, Triggers: def.TriggerNames()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scripts": infos,
		"skipped": s.deps.Scripts.Skipped(),
	})
}

func (s *PanelServer) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Scripts.Load(r.Context())
	if err != nil {
		writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": n, "skipped": s.deps.Scripts.Skipped()})
}

// handleDiagram renders one trigger as mermaid (default), ascii or svg.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Scripts.Get(r.PathValue("name"))
	if err != nil {
		writeScriptError(w, err)
		return
	}
	model, err := diagram.Build(def, r.URL.Query().Get("trigger"), s.deps.Steps)
	if err != nil {
		writeScriptError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCII(model))
	case "svg":
		svg, err := diagram.RenderGraphviz(r.Context(), model, diagram.FormatSVG)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(svg)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

func (s *PanelServer) handleActors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actors": s.deps.Actors.IDs()})
}

// handleInbox returns an actor's messages; ?drain=true clears them.
func (s *PanelServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Actors.Get(id); !ok {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}
	var msgs []actors.Message
	if r.URL.Query().Get("drain") == "true" {
		msgs = s.deps.Actors.Drain(id)
	} else {
		msgs = s.deps.Actors.Inbox(id)
	}
	if msgs == nil {
		msgs = []actors.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *PanelServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusNotImplemented, "event journal is disabled")
		return
	}
	q := r.URL.Query()
	events, err := s.deps.Events.ListEvents(r.Context(), store.EventFilter{
		TaskID:    q.Get("task_id"),
		ActorID:   q.Get("actor"),
		EventType: q.Get("event_type"),
		Limit:     queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
