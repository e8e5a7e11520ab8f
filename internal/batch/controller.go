// Package batch creates scoring jobs and drives them to completion through
// repeated, bounded run invocations.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/analysis"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

const (
	// failedSampleSize is how many recent failures Status reports.
	failedSampleSize = 5
	// failureScanLimit bounds the failed tasks grouped into FailureGroups.
	failureScanLimit = 500
)

// Controller creates jobs and reports their progress. Counts are always
// recomputed from the task table.
type Controller struct {
	store store.Store
	now   func() time.Time
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s, now: time.Now}
}

// CreateParams is the input to Create.
type CreateParams struct {
	Scope      string
	RefID      uuid.UUID
	WindowSize int
}

// FailedSample is one failed task surfaced for diagnosis.
type FailedSample struct {
	TaskID    uuid.UUID `json:"task_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	Error     string    `json:"error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the polled view of a job.
type Status struct {
	Job              *models.Job
	Counts           models.TaskCounts
	Percent          int
	LastFailedSample []FailedSample
	FailureGroups    []analysis.FailureGroup
}

// Create validates the request, resolves the agents the caller owns under
// the scope and writes the job with one queued task per agent.
func (c *Controller) Create(ctx context.Context, accountID uuid.UUID, p CreateParams) (*models.Job, error) {
	if !models.ValidScope(p.Scope) {
		return nil, ErrInvalidScope
	}
	if p.RefID == uuid.Nil {
		return nil, ErrMissingRef
	}
	if p.WindowSize < MinWindowSize || p.WindowSize > MaxWindowSize {
		return nil, ErrInvalidWindowSize
	}

	entities, err := c.store.ResolveAgents(ctx, accountID, p.Scope, p.RefID)
	if err != nil {
		return nil, fmt.Errorf("resolve agents: %w", err)
	}
	if len(entities) == 0 {
		return nil, ErrNoEntitiesFound
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	job := &models.Job{
		ID:         uuid.New(),
		AccountID:  accountID,
		Scope:      p.Scope,
		RefID:      p.RefID,
		WindowSize: p.WindowSize,
		Status:     models.JobStatusQueued,
		Total:      len(entities),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tasks := make([]*models.Task, len(entities))
	for i, entityID := range entities {
		tasks[i] = &models.Task{
			ID:         uuid.New(),
			JobID:      job.ID,
			EntityID:   entityID,
			WindowSize: p.WindowSize,
			Status:     models.TaskStatusQueued,
			// Distinct timestamps keep the claim order equal to fan-out order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		}
	}

	if err := c.store.CreateJob(ctx, job, tasks); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Authorize loads the job and checks that accountID owns its scope.
func (c *Controller) Authorize(ctx context.Context, jobID, accountID uuid.UUID) (*models.Job, error) {
	if jobID == uuid.Nil {
		return nil, ErrMissingJobID
	}

	job, err := c.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	owned, err := c.store.OwnsScope(ctx, accountID, job.Scope, job.RefID)
	if err != nil {
		return nil, fmt.Errorf("check ownership: %w", err)
	}
	if !owned {
		return nil, ErrNotFound
	}
	return job, nil
}

// Status returns the job with freshly counted tasks and a sample of the most
// recent failures.
func (c *Controller) Status(ctx context.Context, jobID, accountID uuid.UUID) (*Status, error) {
	job, err := c.Authorize(ctx, jobID, accountID)
	if err != nil {
		return nil, err
	}
	return c.status(ctx, job)
}

func (c *Controller) status(ctx context.Context, job *models.Job) (*Status, error) {
	counts, err := c.store.CountTasks(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	var failed []*models.Task
	if counts.Failed > 0 {
		failed, err = c.store.ListFailedTasks(ctx, job.ID, failureScanLimit)
		if err != nil {
			return nil, fmt.Errorf("list failed tasks: %w", err)
		}
	}

	sample := make([]FailedSample, 0, min(len(failed), failedSampleSize))
	failures := make([]analysis.Failure, 0, len(failed))
	for _, t := range failed {
		var msg string
		if t.Error != nil {
			msg = *t.Error
		}
		if len(sample) < failedSampleSize {
			sample = append(sample, FailedSample{TaskID: t.ID, EntityID: t.EntityID, Error: msg, UpdatedAt: t.UpdatedAt})
		}
		failures = append(failures, analysis.Failure{Error: msg, At: t.UpdatedAt})
	}

	return &Status{
		Job:              job,
		Counts:           counts,
		Percent:          counts.Percent(job.Total),
		LastFailedSample: sample,
		FailureGroups:    analysis.GroupFailures(failures),
	}, nil
}

// Recompute counts the job's tasks and writes status, progress and the
// failure summary back onto the job row.
func (c *Controller) Recompute(ctx context.Context, jobID uuid.UUID) (models.TaskCounts, error) {
	counts, err := c.store.CountTasks(ctx, jobID)
	if err != nil {
		return counts, fmt.Errorf("count tasks: %w", err)
	}

	if err := c.store.UpdateJobProgress(ctx, jobID, progressFor(counts)); err != nil {
		return counts, err
	}
	return counts, nil
}

// progressFor derives the job row from task counts. A job is done once no
// task is queued or running, however many failed.
func progressFor(counts models.TaskCounts) store.JobProgress {
	p := store.JobProgress{Status: models.JobStatusRunning, Progress: counts.Done}
	if counts.Drained() {
		p.Status = models.JobStatusDone
	}
	if counts.Failed > 0 {
		summary := fmt.Sprintf("failed_tasks=%d", counts.Failed)
		p.Error = &summary
	}
	return p
}

// Cancel flags the job and moves every queued task to cancelled. Tasks
// already claimed by an in-flight run are cancelled by that run before it
// starts them.
func (c *Controller) Cancel(ctx context.Context, jobID, accountID uuid.UUID) (*Status, error) {
	job, err := c.Authorize(ctx, jobID, accountID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusDone {
		if err := c.store.RequestJobCancel(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("request cancel: %w", err)
		}
		if _, err := c.store.CancelQueuedTasks(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("cancel queued tasks: %w", err)
		}
		if _, err := c.Recompute(ctx, job.ID); err != nil {
			return nil, err
		}
		if job, err = c.store.GetJob(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("reload job: %w", err)
		}
	}
	return c.status(ctx, job)
}

// Delete removes the job and, by cascade, its tasks.
func (c *Controller) Delete(ctx context.Context, jobID, accountID uuid.UUID) error {
	if _, err := c.Authorize(ctx, jobID, accountID); err != nil {
		return err
	}
	if err := c.store.DeleteJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}
