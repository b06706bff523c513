package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/store"
)

// handleCast starts a script for an actor, registering the actor first.
func (s *Server) handleCast(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script, err := req.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError("script is required"), nil
	}
	actorID, err := req.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError("actor is required"), nil
	}
	if s.caster == nil || s.actors == nil {
		return mcp.NewToolResultError("casting is not available"), nil
	}
	trigger := req.GetString("trigger", "")
	vars := mcp.ParseStringMap(req, "variables", nil)

	if _, regErr := s.actors.Register(actorID); regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register actor: %v", regErr)), nil
	}
	s.captureSession(ctx, actorID)

	taskID, castErr := s.caster.Cast(ctx, scheduler.CastRequest{
		Script:    script,
		Trigger:   trigger,
		ActorID:   actorID,
		Variables: vars,
	})
	if castErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cast failed: %v", castErr)), nil
	}

	return marshalResult(map[string]any{
		"task_id": taskID,
		"script":  script,
		"trigger": trigger,
		"actor":   actorID,
	})
}

// handleCancel flags one task or all tasks of an actor.
func (s *Server) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	actorID := req.GetString("actor", "")
	if s.sched == nil {
		return mcp.NewToolResultError("scheduler is not available"), nil
	}

	switch {
	case taskID != "":
		ok := s.sched.Cancel(taskID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("task %q is not running", taskID)), nil
		}
		return marshalResult(map[string]any{"task_id": taskID, "cancelled": true})
	case actorID != "":
		n := s.sched.CancelAll(actorID)
		return marshalResult(map[string]any{"actor": actorID, "cancelled": n})
	default:
		return mcp.NewToolResultError("either task_id or actor is required"), nil
	}
}

// handleStatus reports one task, or every live task.
func (s *Server) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.sched == nil {
		return mcp.NewToolResultError("scheduler is not available"), nil
	}
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return marshalResult(map[string]any{
			"tasks": s.sched.List(),
			"ticks": s.sched.Ticks(),
		})
	}
	info, ok := s.sched.Snapshot(taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task %q not found", taskID)), nil
	}
	return marshalResult(info)
}

type scriptInfo struct {
	Name     string   `json:"name"`
	Triggers []string `json:"triggers"`
}

// handleScripts lists the script library.
func (s *Server) handleScripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scripts == nil {
		return mcp.NewToolResultError("no script library configured"), nil
	}
	if req.GetBool("reload", false) {
		if _, err := s.scripts.Load(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reload failed: %v", err)), nil
		}
	}

	names := s.scripts.Names()
	out := make([]scriptInfo, 0, len(names))
	for _, name := range names {
		def, err := s.scripts.Get(name)
		if err != nil {
			continue
		}
		out = append(out, scriptInfo{Name: name, Triggers: def.TriggerNames()})
	}
	return marshalResult(map[string]any{
		"scripts": out,
		"skipped": s.scripts.Skipped(),
	})
}

// handleEvents queries the journal.
func (s *Server) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return mcp.NewToolResultError("event journal is disabled"), nil
	}

	if taskID := req.GetString("task_id", ""); taskID != "" {
		since := int64(req.GetFloat("since", 0))
		events, err := s.events.GetEvents(ctx, taskID, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": nonNilEvents(events)})
	}

	filter := store.EventFilter{
		ActorID:   req.GetString("actor", ""),
		EventType: req.GetString("event_type", ""),
		Limit:     extractInt(req.GetArguments(), "limit", 100),
	}
	events, err := s.events.ListEvents(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": nonNilEvents(events)})
}

// handleInbox returns, and optionally clears, an actor's messages.
func (s *Server) handleInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, err := req.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError("actor is required"), nil
	}
	if s.actors == nil {
		return mcp.NewToolResultError("no actor directory configured"), nil
	}
	s.captureSession(ctx, actorID)

	msgs := s.actors.Inbox(actorID)
	if req.GetBool("drain", false) {
		msgs = s.actors.Drain(actorID)
	}
	if msgs == nil {
		msgs = []actors.Message{}
	}
	return marshalResult(map[string]any{"actor": actorID, "messages": msgs, "count": len(msgs)})
}

// handleTriggers manages cron triggers.
func (s *Server) handleTriggers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	if s.triggers == nil {
		return mcp.NewToolResultError("triggers need the event journal, which is disabled"), nil
	}

	switch action {
	case "list":
		list, lerr := s.triggers.List(ctx, req.GetString("actor", ""))
		if lerr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", lerr)), nil
		}
		if list == nil {
			list = []*store.Trigger{}
		}
		return marshalResult(map[string]any{"triggers": list})
	case "add":
		cronExpr, cerr := req.RequireString("cron")
		if cerr != nil {
			return mcp.NewToolResultError("cron is required"), nil
		}
		tr, aerr := s.triggers.Add(ctx, cronExpr, req.GetString("script", ""), req.GetString("trigger", ""), req.GetString("actor", ""))
		if aerr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("add failed: %v", aerr)), nil
		}
		return marshalResult(tr)
	case "remove", "enable", "disable":
		id, ierr := req.RequireString("id")
		if ierr != nil {
			return mcp.NewToolResultError("id is required"), nil
		}
		var opErr error
		if action == "remove" {
			opErr = s.triggers.Remove(ctx, id)
		} else {
			opErr = s.triggers.SetEnabled(ctx, id, action == "enable")
		}
		if opErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, opErr)), nil
		}
		return marshalResult(map[string]any{"id": id, "ok": true, "action": action})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// --- Internal helpers ---

func nonNilEvents(events []*store.Event) []*store.Event {
	if events == nil {
		return []*store.Event{}
	}
	return events
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the actor ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, actorID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(actorID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
