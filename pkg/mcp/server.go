package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/skillscript/internal/actors"
	"github.com/rendis/skillscript/internal/scheduler"
	"github.com/rendis/skillscript/internal/scripts"
	"github.com/rendis/skillscript/internal/store"
)

// EventSource reads the task event journal.
type EventSource interface {
	GetEvents(ctx context.Context, taskID string, since int64) ([]*store.Event, error)
	ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error)
}

// TriggerManager manages cron triggers. Satisfied by *scheduler.Triggers.
type TriggerManager interface {
	Add(ctx context.Context, cronExpr, script, trigger, actorID string) (*store.Trigger, error)
	Remove(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	List(ctx context.Context, actorID string) ([]*store.Trigger, error)
}

// ServerDeps holds the dependencies for creating a Server. Events and
// Triggers are optional; their tools report an error when absent.
type ServerDeps struct {
	Scheduler *scheduler.Scheduler
	Caster    *scheduler.Caster
	Scripts   *scripts.Library
	Actors    *actors.Directory
	Events    EventSource
	Triggers  TriggerManager
	Logger    *slog.Logger
}

// Server wraps an MCP server with skillscript tool handlers.
type Server struct {
	sched     *scheduler.Scheduler
	caster    *scheduler.Caster
	scripts   *scripts.Library
	actors    *actors.Directory
	events    EventSource
	triggers  TriggerManager
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  ActorNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered. Messages delivered
// to an actor cast from an MCP session are pushed to that session.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		sched:    deps.Scheduler,
		caster:   deps.Caster,
		scripts:  deps.Scripts,
		actors:   deps.Actors,
		events:   deps.Events,
		triggers: deps.Triggers,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"skillscript",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("skillscript runs tick-driven scripts on behalf of actors. Use skillscript.cast to start a script, skillscript.status to inspect tasks, skillscript.cancel to stop them, skillscript.inbox to read delivered messages, skillscript.events for the task journal, skillscript.scripts to list scripts and skillscript.triggers to manage cron triggers."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)

	if s.actors != nil {
		s.actors.OnDeliver(s.notifyDelivery)
	}
	return s
}

// Version is reported to MCP clients.
var Version = "dev"

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: castTool(), Handler: s.handleCast},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: scriptsTool(), Handler: s.handleScripts},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: inboxTool(), Handler: s.handleInbox},
		{Tool: triggersTool(), Handler: s.handleTriggers},
	}
}

// --- Tool definitions ---

func castTool() mcp.Tool {
	return mcp.NewTool("skillscript.cast",
		mcp.WithDescription("Start a script trigger for an actor"),
		mcp.WithString("script", mcp.Required(), mcp.Description("Script name (file name without extension)")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Actor the task runs for; registered on first use")),
		mcp.WithString("trigger", mcp.Description("Trigger block to run (default: OnCast)")),
		mcp.WithObject("variables", mcp.Description("Initial task variables")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("skillscript.cancel",
		mcp.WithDescription("Cancel a task, or every task of an actor"),
		mcp.WithString("task_id", mcp.Description("Task to cancel")),
		mcp.WithString("actor", mcp.Description("Cancel all tasks of this actor")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("skillscript.status",
		mcp.WithDescription("Get task status"),
		mcp.WithString("task_id", mcp.Description("Task to inspect; omit to list live tasks")),
	)
}

func scriptsTool() mcp.Tool {
	return mcp.NewTool("skillscript.scripts",
		mcp.WithDescription("List loaded scripts and their triggers"),
		mcp.WithBoolean("reload", mcp.Description("Re-read the scripts folder first")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("skillscript.events",
		mcp.WithDescription("Query the task event journal"),
		mcp.WithString("task_id", mcp.Description("Events of one task, in sequence order")),
		mcp.WithNumber("since", mcp.Description("With task_id: only events after this sequence number")),
		mcp.WithString("actor", mcp.Description("Filter by actor")),
		mcp.WithString("event_type", mcp.Description("Filter by event type")),
		mcp.WithNumber("limit", mcp.Description("Maximum events without task_id (default 100)")),
	)
}

func inboxTool() mcp.Tool {
	return mcp.NewTool("skillscript.inbox",
		mcp.WithDescription("Read messages delivered to an actor"),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Actor whose inbox to read")),
		mcp.WithBoolean("drain", mcp.Description("Clear the inbox after reading")),
	)
}

func triggersTool() mcp.Tool {
	return mcp.NewTool("skillscript.triggers",
		mcp.WithDescription("Manage cron triggers that cast scripts"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "add", "remove", "enable", "disable"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("id", mcp.Description("Trigger ID (remove, enable, disable)")),
		mcp.WithString("cron", mcp.Description("Five-field cron expression (add)")),
		mcp.WithString("script", mcp.Description("Script name (add)")),
		mcp.WithString("trigger", mcp.Description("Trigger block (add, default OnCast)")),
		mcp.WithString("actor", mcp.Description("Actor (add; filter for list)")),
	)
}
