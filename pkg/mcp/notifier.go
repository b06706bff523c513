package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/skillscript/internal/actors"
)

// ActorNotifier pushes notifications to the client driving an actor.
type ActorNotifier interface {
	Notify(ctx context.Context, actorID string, payload map[string]any) error
}

// MCPNotifier implements ActorNotifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes through the given server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the actor's session.
// Best-effort: returns nil if no client drives the actor.
func (n *MCPNotifier) Notify(_ context.Context, actorID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(actorID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// notifyDelivery forwards a delivered message to the recipient's client.
func (s *Server) notifyDelivery(ctx context.Context, msg actors.Message) {
	payload := map[string]any{
		"level":  "info",
		"logger": "skillscript",
		"data": map[string]any{
			"type":    "message",
			"task_id": msg.TaskID,
			"from":    msg.From,
			"to":      msg.To,
			"text":    msg.Text,
		},
	}
	if err := s.notifier.Notify(ctx, msg.To, payload); err != nil {
		s.logger.WarnContext(ctx, "notify actor", slog.String("actor_id", msg.To), slog.String("error", err.Error()))
	}
}
