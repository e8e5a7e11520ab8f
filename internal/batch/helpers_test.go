package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/batch"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/internal/metrics"
	"github.com/kiranshivaraju/agentscore/internal/scoring"
	"github.com/kiranshivaraju/agentscore/internal/store/storetest"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/kiranshivaraju/agentscore/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const minRecords = 5

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		DefaultTake:      3,
		MaxTake:          10,
		TaskTimeout:      2 * time.Second,
		StaleTaskAfter:   30 * time.Minute,
		MinRecords:       minRecords,
		TranscriptPrefix: 200,
	}
}

type harness struct {
	store      *storetest.MemStore
	controller *batch.Controller
	runner     *batch.Runner
	metrics    *metrics.Metrics
	account    uuid.UUID
	orgID      uuid.UUID
	teamID     uuid.UUID
	agents     []uuid.UUID
}

type harnessOpt func(*harnessOpts)

type harnessOpts struct {
	cfg   config.BatchConfig
	quota *batch.Quota
}

func withConfig(fn func(*config.BatchConfig)) harnessOpt {
	return func(o *harnessOpts) { fn(&o.cfg) }
}

func withQuota(q *batch.Quota) harnessOpt {
	return func(o *harnessOpts) { o.quota = q }
}

// newHarness seeds one account owning a team of agents, each with enough
// conversations to be scored.
func newHarness(t *testing.T, provider models.AIProvider, agents int, opts ...harnessOpt) *harness {
	t.Helper()

	o := harnessOpts{cfg: testBatchConfig()}
	for _, fn := range opts {
		fn(&o)
	}

	s := storetest.NewMemStore()
	account := uuid.New()
	orgID, teamID, ids := s.Seed(account, agents, 12)

	m := metrics.New(prometheus.NewRegistry())
	controller := batch.NewController(s)
	runner := batch.NewRunner(batch.RunnerDeps{
		Controller: controller,
		Store:      s,
		Fetcher:    window.NewFetcher(s, o.cfg.MinRecords, o.cfg.TranscriptPrefix),
		Scorer:     scoring.NewClient(provider, 800),
		Quota:      o.quota,
		Metrics:    m,
		Config:     o.cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &harness{
		store:      s,
		controller: controller,
		runner:     runner,
		metrics:    m,
		account:    account,
		orgID:      orgID,
		teamID:     teamID,
		agents:     ids,
	}
}

func (h *harness) createTeamJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := h.controller.Create(context.Background(), h.account, batch.CreateParams{
		Scope:      models.ScopeTeam,
		RefID:      h.teamID,
		WindowSize: 20,
	})
	require.NoError(t, err)
	return job
}

// drain calls Run until the job is done, failing the test after maxRuns calls.
func (h *harness) drain(t *testing.T, jobID uuid.UUID, take, maxRuns int) *batch.RunResult {
	t.Helper()
	var last *batch.RunResult
	for i := 0; i < maxRuns; i++ {
		res, err := h.runner.Run(context.Background(), jobID, h.account, take)
		require.NoError(t, err)
		last = res
		job, err := h.store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == models.JobStatusDone {
			return last
		}
	}
	t.Fatalf("job %s not done after %d runs", jobID, maxRuns)
	return last
}

// fakeCache is an in-memory cache.Cache.
type fakeCache struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{counters: make(map[string]int64)}
}

func (c *fakeCache) Ping(context.Context) error { return c.err }

func (c *fakeCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return c.IncrByWithExpiry(ctx, key, 1, expiry)
}

func (c *fakeCache) IncrByWithExpiry(_ context.Context, key string, n int64, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counters[key] += n
	return c.counters[key], nil
}

func (c *fakeCache) GetInt(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.counters[key], nil
}

func (c *fakeCache) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum int64
	for _, v := range c.counters {
		sum += v
	}
	return sum
}

var errRedisDown = errors.New("dial tcp: connection refused")
