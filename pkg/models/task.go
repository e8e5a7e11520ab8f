package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusDone      = "done"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// Task is one agent's unit of work within a Job. Status only moves forward:
// queued -> running -> done|failed|cancelled, or queued -> cancelled.
type Task struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	JobID      uuid.UUID `db:"job_id"      json:"job_id"`
	EntityID   uuid.UUID `db:"entity_id"   json:"entity_id"`
	WindowSize int       `db:"window_size" json:"window_size"`
	Status     string    `db:"status"      json:"status"`
	Error      *string   `db:"error"       json:"error,omitempty"`
	Repaired   bool      `db:"repaired"    json:"repaired"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

// IsTerminal reports whether a task in this status will never be touched again.
func IsTerminal(status string) bool {
	switch status {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskCounts is the per-status breakdown of a job's tasks, always computed
// from the task table.
type TaskCounts struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Sum returns the number of tasks covered by the counts.
func (c TaskCounts) Sum() int {
	return c.Queued + c.Running + c.Done + c.Failed + c.Cancelled
}

// Drained reports whether every task has reached a terminal state.
func (c TaskCounts) Drained() bool {
	return c.Queued == 0 && c.Running == 0
}

// Percent returns round(done/total*100). A zero total reports 100.
func (c TaskCounts) Percent(total int) int {
	if total <= 0 {
		return 100
	}
	return (c.Done*100 + total/2) / total
}
