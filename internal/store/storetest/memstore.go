// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// MemStore is an in-memory store.Store with the same conditional transition
// rules as the Postgres implementation. One mutex makes every method atomic.
type MemStore struct {
	mu sync.Mutex

	teams  map[uuid.UUID]uuid.UUID   // team -> org
	orgs   map[uuid.UUID]uuid.UUID   // org -> owner account
	agents map[uuid.UUID][]uuid.UUID // team -> agents, creation order

	jobs      map[uuid.UUID]*models.Job
	tasks     map[uuid.UUID]*models.Task
	convs     map[uuid.UUID][]*models.Conversation
	snapshots []*models.ScoreSnapshot
	history   []*models.HistoryPoint
	keys      []*models.APIKey

	now func() time.Time

	// OnGetJob runs inside GetJob without the lock held.
	OnGetJob func()
}

var _ store.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		teams:  make(map[uuid.UUID]uuid.UUID),
		orgs:   make(map[uuid.UUID]uuid.UUID),
		agents: make(map[uuid.UUID][]uuid.UUID),
		jobs:   make(map[uuid.UUID]*models.Job),
		tasks:  make(map[uuid.UUID]*models.Task),
		convs:  make(map[uuid.UUID][]*models.Conversation),
		now:    time.Now,
	}
}

// Seed creates an org owned by account with one team of n agents, each given
// records conversations.
func (s *MemStore) Seed(account uuid.UUID, n, records int) (orgID, teamID uuid.UUID, agents []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orgID, teamID = uuid.New(), uuid.New()
	s.orgs[orgID] = account
	s.teams[teamID] = orgID
	for i := 0; i < n; i++ {
		agentID := uuid.New()
		agents = append(agents, agentID)
		s.agents[teamID] = append(s.agents[teamID], agentID)
		s.setConversationsLocked(agentID, records)
	}
	return orgID, teamID, agents
}

func (s *MemStore) SetConversations(agentID uuid.UUID, records int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConversationsLocked(agentID, records)
}

func (s *MemStore) setConversationsLocked(agentID uuid.UUID, records int) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	convs := make([]*models.Conversation, records)
	for i := range convs {
		convs[i] = &models.Conversation{
			ID:         uuid.New(),
			AgentID:    agentID,
			Transcript: fmt.Sprintf("customer: question %d\nagent: answer %d", i, i),
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	s.convs[agentID] = convs
}

func (s *MemStore) TaskByEntity(entityID uuid.UUID) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.EntityID == entityID {
			c := *t
			return &c
		}
	}
	return nil
}

func (s *MemStore) JobTasks(jobID uuid.UUID) []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			c := *t
			out = append(out, &c)
		}
	}
	sortTasks(out)
	return out
}

func (s *MemStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *MemStore) HistoryFor(entityID uuid.UUID) []*models.HistoryPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.HistoryPoint
	for _, p := range s.history {
		if p.EntityID == entityID {
			out = append(out, p)
		}
	}
	return out
}

// SetTaskUpdatedAt backdates a task to simulate a crashed worker.
func (s *MemStore) SetTaskUpdatedAt(taskID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID].UpdatedAt = at
}

func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}

func (s *MemStore) Ping(context.Context) error { return nil }

// --- IdentityStore ---

// AddAPIKey stores a key row as the auth middleware would find it.
func (s *MemStore) AddAPIKey(key *models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
}

func (s *MemStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }

func (s *MemStore) ResolveAgents(_ context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []uuid.UUID{}
	switch scope {
	case models.ScopeTeam:
		org, ok := s.teams[refID]
		if !ok || s.orgs[org] != accountID {
			return out, nil
		}
		out = append(out, s.agents[refID]...)
	case models.ScopeOrg:
		if owner, ok := s.orgs[refID]; !ok || owner != accountID {
			return out, nil
		}
		for team, org := range s.teams {
			if org == refID {
				out = append(out, s.agents[team]...)
			}
		}
	}
	return out, nil
}

func (s *MemStore) OwnsScope(_ context.Context, accountID uuid.UUID, scope string, refID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch scope {
	case models.ScopeTeam:
		org, ok := s.teams[refID]
		return ok && s.orgs[org] == accountID, nil
	case models.ScopeOrg:
		owner, ok := s.orgs[refID]
		return ok && owner == accountID, nil
	}
	return false, nil
}

func (s *MemStore) OwnsAgent(_ context.Context, accountID, agentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for team, agents := range s.agents {
		for _, a := range agents {
			if a == agentID {
				return s.orgs[s.teams[team]] == accountID, nil
			}
		}
	}
	return false, nil
}

// --- JobRepository ---

func (s *MemStore) CreateJob(_ context.Context, job *models.Job, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	j := *job
	s.jobs[job.ID] = &j
	for _, t := range tasks {
		c := *t
		s.tasks[t.ID] = &c
	}
	return nil
}

func (s *MemStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if s.OnGetJob != nil {
		s.OnGetJob()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *MemStore) MarkJobRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusQueued {
		j.Status = models.JobStatusRunning
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemStore) UpdateJobProgress(_ context.Context, id uuid.UUID, p store.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if j.Status != models.JobStatusDone {
		j.Status = p.Status
	}
	j.Progress = max(j.Progress, p.Progress)
	j.Error = p.Error
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) RequestJobCancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.CancelRequested = true
	return nil
}

func (s *MemStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	for tid, t := range s.tasks {
		if t.JobID == id {
			delete(s.tasks, tid)
		}
	}
	return nil
}

// --- TaskRepository ---

func (s *MemStore) ClaimTasks(_ context.Context, jobID uuid.UUID, take int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Task{}
	if take <= 0 {
		return out, nil
	}
	var queued []*models.Task
	for _, t := range s.tasks {
		if t.JobID == jobID && t.Status == models.TaskStatusQueued {
			queued = append(queued, t)
		}
	}
	sortTasks(queued)
	for _, t := range queued {
		if len(out) == take {
			break
		}
		t.Status = models.TaskStatusRunning
		t.UpdatedAt = s.now()
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemStore) CountTasks(_ context.Context, jobID uuid.UUID) (models.TaskCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.TaskCounts
	for _, t := range s.tasks {
		if t.JobID != jobID {
			continue
		}
		switch t.Status {
		case models.TaskStatusQueued:
			c.Queued++
		case models.TaskStatusRunning:
			c.Running++
		case models.TaskStatusDone:
			c.Done++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}

func (s *MemStore) transition(taskID uuid.UUID, to string, reason *string) error {
	t, ok := s.tasks[taskID]
	if !ok || t.Status != models.TaskStatusRunning {
		return store.ErrTaskNotRunning
	}
	t.Status = to
	t.Error = reason
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) StartTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status != models.TaskStatusRunning {
		return store.ErrTaskNotRunning
	}
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) FailTask(_ context.Context, taskID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(taskID, models.TaskStatusFailed, &reason)
}

func (s *MemStore) CancelTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason := "Cancelled: job cancelled"
	return s.transition(taskID, models.TaskStatusCancelled, &reason)
}

func (s *MemStore) CancelQueuedTasks(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.JobID == jobID && t.Status == models.TaskStatusQueued {
			t.Status = models.TaskStatusCancelled
			t.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ReapStaleTasks(_ context.Context, jobID uuid.UUID, runningSince time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.JobID == jobID && t.Status == models.TaskStatusRunning && t.UpdatedAt.Before(runningSince) {
			r := reason
			t.Status = models.TaskStatusFailed
			t.Error = &r
			t.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListFailedTasks(_ context.Context, jobID uuid.UUID, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.JobID == jobID && t.Status == models.TaskStatusFailed {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- ConversationReader ---

func (s *MemStore) RecentConversations(_ context.Context, agentID uuid.UUID, limit int) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.convs[agentID]
	out := make([]*models.Conversation, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// --- ScoreStore ---

func (s *MemStore) CompleteTask(_ context.Context, taskID uuid.UUID, snapshot *models.ScoreSnapshot, point *models.HistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(taskID, models.TaskStatusDone, nil); err != nil {
		return err
	}
	s.tasks[taskID].Repaired = snapshot.Repaired
	s.snapshots = append(s.snapshots, snapshot)
	s.history = append(s.history, point)
	return nil
}

func (s *MemStore) ListHistory(_ context.Context, entityID uuid.UUID, limit int) ([]*models.HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.HistoryPoint
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].EntityID == entityID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func (s *MemStore) LatestSnapshot(_ context.Context, entityID uuid.UUID) (*models.ScoreSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].EntityID == entityID {
			return s.snapshots[i], nil
		}
	}
	return nil, store.ErrNotFound
}
