package store

import (
	"encoding/json"
	"time"
)

// Event is one journal entry. Sequence is assigned per task on append.
type Event struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	ActorID   string          `json:"actor_id,omitempty"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventFilter specifies criteria for listing events across tasks.
type EventFilter struct {
	TaskID    string     `json:"task_id,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Trigger casts Script's Trigger block for ActorID on a cron schedule.
type Trigger struct {
	ID             string     `json:"id"`
	CronExpression string     `json:"cron_expression"`
	Script         string     `json:"script"`
	TriggerName    string     `json:"trigger_name"`
	ActorID        string     `json:"actor_id"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TriggerUpdate specifies mutable fields of a trigger.
type TriggerUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// TriggerFilter specifies criteria for listing triggers.
type TriggerFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
