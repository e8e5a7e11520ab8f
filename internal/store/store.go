package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrTaskNotRunning is returned when a terminal transition is attempted on a
// task that is no longer running (reaped, cancelled, or already finished).
var ErrTaskNotRunning = errors.New("task is not running")

// IdentityStore resolves callers and the scopes they own.
type IdentityStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	// ResolveAgents returns the agents under refID that accountID may score,
	// oldest first. An unowned or unknown refID yields an empty slice.
	ResolveAgents(ctx context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) ([]uuid.UUID, error)
	OwnsScope(ctx context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) (bool, error)
	OwnsAgent(ctx context.Context, accountID uuid.UUID, agentID uuid.UUID) (bool, error)
}

// JobRepository persists jobs. Job status and progress are only ever written
// from counts recomputed out of the task table.
type JobRepository interface {
	// CreateJob inserts the job and its full task fan-out in one transaction.
	CreateJob(ctx context.Context, job *models.Job, tasks []*models.Task) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, p JobProgress) error
	RequestJobCancel(ctx context.Context, id uuid.UUID) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// TaskRepository persists tasks. Every transition is a conditional update, so
// a task never moves backwards even under concurrent callers.
type TaskRepository interface {
	// ClaimTasks atomically moves up to take queued tasks to running and
	// returns exactly the rows it transitioned, oldest first.
	ClaimTasks(ctx context.Context, jobID uuid.UUID, take int) ([]*models.Task, error)
	CountTasks(ctx context.Context, jobID uuid.UUID) (models.TaskCounts, error)
	// StartTask refreshes a claimed task's updated_at just before work on it
	// begins. Returns ErrTaskNotRunning if it was reaped or cancelled first.
	StartTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, reason string) error
	CancelTask(ctx context.Context, taskID uuid.UUID) error
	CancelQueuedTasks(ctx context.Context, jobID uuid.UUID) (int, error)
	ReapStaleTasks(ctx context.Context, jobID uuid.UUID, runningSince time.Time, reason string) (int, error)
	ListFailedTasks(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.Task, error)
}

// ConversationReader is the windowed read over the conversation store.
type ConversationReader interface {
	// RecentConversations returns up to limit records for agentID, newest first.
	RecentConversations(ctx context.Context, agentID uuid.UUID, limit int) ([]*models.Conversation, error)
}

// ScoreStore records scoring results.
type ScoreStore interface {
	// CompleteTask marks a running task done and writes its snapshot and
	// history point atomically. Returns ErrTaskNotRunning if the task left
	// the running state in the meantime.
	CompleteTask(ctx context.Context, taskID uuid.UUID, snapshot *models.ScoreSnapshot, point *models.HistoryPoint) error
	ListHistory(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.HistoryPoint, error)
	LatestSnapshot(ctx context.Context, entityID uuid.UUID) (*models.ScoreSnapshot, error)
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	IdentityStore
	JobRepository
	TaskRepository
	ConversationReader
	ScoreStore
}

// JobProgress is the recomputed view written back onto a job row.
type JobProgress struct {
	Status   string
	Progress int
	Error    *string
}
