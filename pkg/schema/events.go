package schema

// Event type constants for the task journal and the live event hub.
const (
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"

	EventStepSkipped = "step_skipped"
	EventStepFailed  = "step_failed"

	EventMessageSent  = "message_sent"
	EventTriggerFired = "trigger_fired"
)

// TaskStatus represents the lifecycle state of one script invocation.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
