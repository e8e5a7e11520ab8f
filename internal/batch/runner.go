package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/internal/metrics"
	"github.com/kiranshivaraju/agentscore/internal/scoring"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

const abandonedReason = "Timeout: task abandoned"

// RunResult reports what one run invocation did and the job's counts after it.
type RunResult struct {
	JobID     uuid.UUID
	Processed int
	Counts    models.TaskCounts
}

// Runner claims a bounded slice of a job's queued tasks and drives each one
// through fetch, score, validate and persist. Tasks are processed one at a
// time.
type Runner struct {
	controller *Controller
	store      store.Store
	fetcher    *window.Fetcher
	scorer     *scoring.Client
	quota      *Quota
	metrics    *metrics.Metrics
	cfg        config.BatchConfig
	logger     *slog.Logger
	now        func() time.Time
}

// RunnerDeps are the collaborators of a Runner. Quota may be nil.
type RunnerDeps struct {
	Controller *Controller
	Store      store.Store
	Fetcher    *window.Fetcher
	Scorer     *scoring.Client
	Quota      *Quota
	Metrics    *metrics.Metrics
	Config     config.BatchConfig
	Logger     *slog.Logger
}

func NewRunner(d RunnerDeps) *Runner {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		controller: d.Controller,
		store:      d.Store,
		fetcher:    d.Fetcher,
		scorer:     d.Scorer,
		quota:      d.Quota,
		metrics:    d.Metrics,
		cfg:        d.Config,
		logger:     logger,
		now:        time.Now,
	}
}

// ClampTake applies the configured default and upper bound to a requested take.
func (r *Runner) ClampTake(take int) int {
	if take <= 0 {
		return r.cfg.DefaultTake
	}
	if take > r.cfg.MaxTake {
		return r.cfg.MaxTake
	}
	return take
}

// Run performs one bounded unit of work on the job. Individual task failures
// are recorded on the tasks and never returned; only authorization,
// configuration, quota and storage errors are.
func (r *Runner) Run(ctx context.Context, jobID, accountID uuid.UUID, take int) (*RunResult, error) {
	start := r.now()
	defer func() { r.metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	job, err := r.controller.Authorize(ctx, jobID, accountID)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusDone {
		counts, err := r.store.CountTasks(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("count tasks: %w", err)
		}
		return &RunResult{JobID: job.ID, Counts: counts}, nil
	}

	if err := r.scorer.Provider().CheckConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// Claimed tasks must reach a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	reservation, err := r.quota.Reserve(ctx, accountID, r.ClampTake(take))
	if errors.Is(err, ErrQuotaExceeded) {
		return nil, err
	}
	if err != nil {
		r.logger.Warn("quota reservation failed, continuing", "job_id", job.ID, "error", err)
	}
	take = reservation.Tasks

	var calls int
	defer func() {
		if err := reservation.Settle(ctx, calls); err != nil {
			r.logger.Warn("quota settle failed", "job_id", job.ID, "calls", calls, "error", err)
		}
	}()

	if err := r.store.MarkJobRunning(ctx, job.ID); err != nil {
		return nil, err
	}
	if reaped, err := r.store.ReapStaleTasks(ctx, job.ID, r.now().Add(-r.cfg.StaleTaskAfter), abandonedReason); err != nil {
		return nil, err
	} else if reaped > 0 {
		r.logger.Warn("reaped stale tasks", "job_id", job.ID, "count", reaped)
		r.metrics.TasksTotal.WithLabelValues(metrics.OutcomeFailed).Add(float64(reaped))
	}

	var claimed []*models.Task
	if job.CancelRequested {
		if _, err := r.store.CancelQueuedTasks(ctx, job.ID); err != nil {
			return nil, err
		}
	} else {
		claimed, err = r.store.ClaimTasks(ctx, job.ID, take)
		if err != nil {
			return nil, err
		}
		r.metrics.ClaimedTasks.Add(float64(len(claimed)))
	}

	processed, calls, runErr := r.processClaimed(ctx, job, claimed)

	counts, err := r.controller.Recompute(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("run finished",
		"job_id", job.ID,
		"claimed", len(claimed),
		"processed", processed,
		"ai_calls", calls,
		"queued", counts.Queued,
		"done", counts.Done,
		"failed", counts.Failed,
	)

	if runErr != nil {
		return nil, runErr
	}
	return &RunResult{JobID: job.ID, Processed: processed, Counts: counts}, nil
}

// processClaimed works through the claimed tasks in order. It stops early on
// cancellation or a configuration failure, closing out every remaining task.
func (r *Runner) processClaimed(ctx context.Context, job *models.Job, claimed []*models.Task) (processed, calls int, runErr error) {
	for i, task := range claimed {
		cancelled, err := r.cancelRequested(ctx, job.ID)
		if err != nil {
			r.logger.Warn("cancellation check failed", "job_id", job.ID, "error", err)
		}
		if cancelled {
			r.cancelRemaining(ctx, claimed[i:])
			if _, err := r.store.CancelQueuedTasks(ctx, job.ID); err != nil {
				r.logger.Warn("cancel queued tasks failed", "job_id", job.ID, "error", err)
			}
			return processed, calls, nil
		}

		if err := r.store.StartTask(ctx, task.ID); err != nil {
			if errors.Is(err, store.ErrTaskNotRunning) {
				r.logger.Warn("claimed task left running state before start, skipped", "job_id", job.ID, "task_id", task.ID)
			} else {
				r.logger.Error("start task", "task_id", task.ID, "error", err)
				r.failTask(ctx, task, FormatTaskError(Classify(err), err))
			}
			continue
		}

		n, kind, err := r.processTask(ctx, task)
		calls += n
		processed++

		if kind == KindConfiguration {
			msg := FormatTaskError(kind, err)
			for _, rest := range claimed[i+1:] {
				r.failTask(ctx, rest, msg)
			}
			return processed, calls, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}
	return processed, calls, nil
}

func (r *Runner) cancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

func (r *Runner) cancelRemaining(ctx context.Context, tasks []*models.Task) {
	for _, t := range tasks {
		err := r.store.CancelTask(ctx, t.ID)
		if err != nil && !errors.Is(err, store.ErrTaskNotRunning) {
			r.logger.Error("cancel task failed", "task_id", t.ID, "error", err)
			continue
		}
		if err == nil {
			r.metrics.TasksTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
	}
}

// processTask scores one task under the per-task timeout. It returns the
// number of model calls made and, on failure, the failure kind.
func (r *Runner) processTask(ctx context.Context, task *models.Task) (int, Kind, error) {
	log := r.logger.With("job_id", task.JobID, "task_id", task.ID, "entity_id", task.EntityID)

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	fail := func(err error) (Kind, error) {
		kind := Classify(err)
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		msg := FormatTaskError(kind, err)
		log.Warn("task failed", "kind", string(kind), "error", msg)
		r.failTask(ctx, task, msg)
		return kind, err
	}

	items, err := r.fetcher.Fetch(taskCtx, task.EntityID, task.WindowSize)
	if err != nil {
		kind, err := fail(err)
		return 0, kind, err
	}

	prompt, err := scoring.BuildPrompt(task.EntityID, task.WindowSize, items)
	if err != nil {
		kind, err := fail(err)
		return 0, kind, err
	}

	provider := r.scorer.Provider().Name()
	outcome, err := r.scorer.ScoreWithRepair(taskCtx, prompt)
	if outcome.UsedRepair {
		r.metrics.RepairsTotal.Inc()
	}
	if err != nil {
		// The last call failed; any earlier one returned text.
		r.metrics.AICallsTotal.WithLabelValues(provider, metrics.CallOK).Add(float64(outcome.Calls - 1))
		r.metrics.AICallsTotal.WithLabelValues(provider, metrics.CallError).Inc()
		kind, err := fail(err)
		return outcome.Calls, kind, err
	}
	r.metrics.AICallsTotal.WithLabelValues(provider, metrics.CallOK).Add(float64(outcome.Calls))

	now := r.now().UTC()
	s := outcome.Score
	snapshot := &models.ScoreSnapshot{
		ID:                uuid.New(),
		JobID:             task.JobID,
		TaskID:            task.ID,
		EntityID:          task.EntityID,
		WindowSize:        task.WindowSize,
		ComplianceRisk:    s.ComplianceRisk,
		SentimentScore:    s.SentimentScore,
		ResolutionQuality: s.ResolutionQuality,
		OverallScore:      s.OverallScore,
		Confidence:        s.Confidence,
		Strengths:         s.Strengths,
		Weaknesses:        s.Weaknesses,
		Patterns:          s.Patterns,
		Repaired:          outcome.UsedRepair,
		Provider:          provider,
		Model:             r.scorer.Provider().Model(),
		CreatedAt:         now,
	}
	point := &models.HistoryPoint{
		ID:         uuid.New(),
		EntityID:   task.EntityID,
		Score:      s.OverallScore,
		WindowSize: task.WindowSize,
		RecordedAt: now,
	}

	if err := r.store.CompleteTask(ctx, task.ID, snapshot, point); err != nil {
		if errors.Is(err, store.ErrTaskNotRunning) {
			log.Warn("task left running state before completion, result dropped")
			return outcome.Calls, "", nil
		}
		kind, err := fail(err)
		return outcome.Calls, kind, err
	}

	r.metrics.TasksTotal.WithLabelValues(metrics.OutcomeDone).Inc()
	log.Info("task scored", "overall_score", s.OverallScore, "repaired", outcome.UsedRepair, "ai_calls", outcome.Calls)
	return outcome.Calls, "", nil
}

func (r *Runner) failTask(ctx context.Context, task *models.Task, msg string) {
	err := r.store.FailTask(ctx, task.ID, msg)
	switch {
	case err == nil:
		r.metrics.TasksTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	case errors.Is(err, store.ErrTaskNotRunning):
		r.logger.Warn("task left running state before failure was recorded", "task_id", task.ID)
	default:
		r.logger.Error("fail task", "task_id", task.ID, "error", err)
	}
}
