package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Scope ownership ---

const agentsByTeamQuery = `SELECT a.id FROM agents a
	 JOIN teams t ON t.id = a.team_id
	 JOIN organizations o ON o.id = t.org_id
	 WHERE t.id = $1 AND o.owner_id = $2
	 ORDER BY a.created_at, a.id`

const agentsByOrgQuery = `SELECT a.id FROM agents a
	 JOIN teams t ON t.id = a.team_id
	 JOIN organizations o ON o.id = t.org_id
	 WHERE o.id = $1 AND o.owner_id = $2
	 ORDER BY a.created_at, a.id`

func (s *PostgresStore) ResolveAgents(ctx context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) ([]uuid.UUID, error) {
	var query string
	switch scope {
	case models.ScopeTeam:
		query = agentsByTeamQuery
	case models.ScopeOrg:
		query = agentsByOrgQuery
	default:
		return nil, fmt.Errorf("resolve agents: unsupported scope %q", scope)
	}

	rows, err := s.pool.Query(ctx, query, refID, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve agents: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) OwnsScope(ctx context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) (bool, error) {
	var query string
	switch scope {
	case models.ScopeTeam:
		query = `SELECT EXISTS (SELECT 1 FROM teams t JOIN organizations o ON o.id = t.org_id
			 WHERE t.id = $1 AND o.owner_id = $2)`
	case models.ScopeOrg:
		query = `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1 AND owner_id = $2)`
	default:
		return false, nil
	}

	var owned bool
	if err := s.pool.QueryRow(ctx, query, refID, accountID).Scan(&owned); err != nil {
		return false, fmt.Errorf("check scope ownership: %w", err)
	}
	return owned, nil
}

func (s *PostgresStore) OwnsAgent(ctx context.Context, accountID uuid.UUID, agentID uuid.UUID) (bool, error) {
	var owned bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents a
		 JOIN teams t ON t.id = a.team_id
		 JOIN organizations o ON o.id = t.org_id
		 WHERE a.id = $1 AND o.owner_id = $2)`, agentID, accountID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check agent ownership: %w", err)
	}
	return owned, nil
}

// --- Jobs ---

const jobColumns = `id, account_id, scope, ref_id, window_size, status, total, progress, error, cancel_requested, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.AccountID, &j.Scope, &j.RefID, &j.WindowSize, &j.Status, &j.Total,
		&j.Progress, &j.Error, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job, tasks []*models.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO score_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.AccountID, job.Scope, job.RefID, job.WindowSize, job.Status, job.Total,
		job.Progress, job.Error, job.CancelRequested, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"score_tasks"},
		[]string{"id", "job_id", "entity_id", "window_size", "status", "repaired", "created_at", "updated_at"},
		pgx.CopyFromSlice(len(tasks), func(i int) ([]any, error) {
			t := tasks[i]
			return []any{t.ID, t.JobID, t.EntityID, t.WindowSize, t.Status, t.Repaired, t.CreatedAt, t.UpdatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy tasks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM score_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE score_jobs SET status = 'running', updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// UpdateJobProgress writes recomputed counts back. A done job is never
// reopened and progress never decreases.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, p JobProgress) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE score_jobs
		 SET status = CASE WHEN status = 'done' THEN status ELSE $2 END,
		     progress = GREATEST(progress, $3),
		     error = $4,
		     updated_at = NOW()
		 WHERE id = $1`, id, p.Status, p.Progress, p.Error)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequestJobCancel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("request job cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM score_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tasks ---

const taskColumns = `id, job_id, entity_id, window_size, status, error, repaired, created_at, updated_at`

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.JobID, &t.EntityID, &t.WindowSize, &t.Status, &t.Error,
			&t.Repaired, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ClaimTasks moves up to take queued tasks to running in a single statement.
// Rows locked by a concurrent claim are skipped, so two overlapping callers
// never receive the same task.
func (s *PostgresStore) ClaimTasks(ctx context.Context, jobID uuid.UUID, take int) ([]*models.Task, error) {
	if take <= 0 {
		return []*models.Task{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE score_tasks SET status = 'running', updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM score_tasks
		   WHERE job_id = $1 AND status = 'queued'
		   ORDER BY created_at, id
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 ) AND status = 'queued'
		 RETURNING `+taskColumns, jobID, take)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
	return tasks, nil
}

func (s *PostgresStore) CountTasks(ctx context.Context, jobID uuid.UUID) (models.TaskCounts, error) {
	var c models.TaskCounts
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM score_tasks WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("scan task count: %w", err)
		}
		switch status {
		case models.TaskStatusQueued:
			c.Queued = n
		case models.TaskStatusRunning:
			c.Running = n
		case models.TaskStatusDone:
			c.Done = n
		case models.TaskStatusFailed:
			c.Failed = n
		case models.TaskStatusCancelled:
			c.Cancelled = n
		}
	}
	return c, rows.Err()
}

func (s *PostgresStore) StartTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_tasks SET updated_at = NOW() WHERE id = $1 AND status = 'running'`, taskID)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotRunning
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, taskID uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_tasks SET status = 'failed', error = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, taskID, reason)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotRunning
	}
	return nil
}

func (s *PostgresStore) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_tasks SET status = 'cancelled', error = 'Cancelled: job cancelled', updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, taskID)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotRunning
	}
	return nil
}

func (s *PostgresStore) CancelQueuedTasks(ctx context.Context, jobID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_tasks SET status = 'cancelled', error = 'Cancelled: job cancelled', updated_at = NOW()
		 WHERE job_id = $1 AND status = 'queued'`, jobID)
	if err != nil {
		return 0, fmt.Errorf("cancel queued tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReapStaleTasks(ctx context.Context, jobID uuid.UUID, runningSince time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE score_tasks SET status = 'failed', error = $3, updated_at = NOW()
		 WHERE job_id = $1 AND status = 'running' AND updated_at < $2`, jobID, runningSince, reason)
	if err != nil {
		return 0, fmt.Errorf("reap stale tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListFailedTasks(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM score_tasks
		 WHERE job_id = $1 AND status = 'failed'
		 ORDER BY updated_at DESC, id LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	return scanTasks(rows)
}

// --- Conversations ---

func (s *PostgresStore) RecentConversations(ctx context.Context, agentID uuid.UUID, limit int) ([]*models.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, transcript, report, occurred_at
		 FROM conversations WHERE agent_id = $1
		 ORDER BY occurred_at DESC, id DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	convs := []*models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Transcript, &c.Report, &c.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// --- Scores ---

func (s *PostgresStore) CompleteTask(ctx context.Context, taskID uuid.UUID, snap *models.ScoreSnapshot, point *models.HistoryPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete task: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE score_tasks SET status = 'done', repaired = $2, error = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, taskID, snap.Repaired)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotRunning
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO score_snapshots (id, job_id, task_id, entity_id, window_size, compliance_risk, sentiment_score,
		   resolution_quality, overall_score, confidence, strengths, weaknesses, patterns, repaired, provider, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		snap.ID, snap.JobID, snap.TaskID, snap.EntityID, snap.WindowSize, snap.ComplianceRisk, snap.SentimentScore,
		snap.ResolutionQuality, snap.OverallScore, snap.Confidence, snap.Strengths, snap.Weaknesses, snap.Patterns,
		snap.Repaired, snap.Provider, snap.Model, snap.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert score snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO score_history (id, entity_id, score, window_size, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		point.ID, point.EntityID, point.Score, point.WindowSize, point.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert history point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.HistoryPoint, error) {
	if limit <= 0 {
		limit = 30
	}
	if limit > 365 {
		limit = 365
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, score, window_size, recorded_at
		 FROM score_history WHERE entity_id = $1 ORDER BY recorded_at DESC LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	points := []*models.HistoryPoint{}
	for rows.Next() {
		var p models.HistoryPoint
		if err := rows.Scan(&p.ID, &p.EntityID, &p.Score, &p.WindowSize, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		points = append(points, &p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, entityID uuid.UUID) (*models.ScoreSnapshot, error) {
	var sn models.ScoreSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, task_id, entity_id, window_size, compliance_risk, sentiment_score, resolution_quality,
		   overall_score, confidence, strengths, weaknesses, patterns, repaired, provider, model, created_at
		 FROM score_snapshots WHERE entity_id = $1 ORDER BY created_at DESC LIMIT 1`, entityID,
	).Scan(&sn.ID, &sn.JobID, &sn.TaskID, &sn.EntityID, &sn.WindowSize, &sn.ComplianceRisk, &sn.SentimentScore,
		&sn.ResolutionQuality, &sn.OverallScore, &sn.Confidence, &sn.Strengths, &sn.Weaknesses, &sn.Patterns,
		&sn.Repaired, &sn.Provider, &sn.Model, &sn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &sn, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
