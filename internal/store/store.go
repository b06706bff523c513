package store

import "context"

// Journal is the persistence contract: an append-only event log plus the
// cron trigger table. It never holds execution state.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, taskID string, since int64) ([]*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Triggers
	CreateTrigger(ctx context.Context, trigger *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}
