package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/analysis"
	mw "github.com/kiranshivaraju/agentscore/internal/api/middleware"
	"github.com/kiranshivaraju/agentscore/internal/batch"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// --- mock JobService ---

type mockJobs struct {
	create func(accountID uuid.UUID, p batch.CreateParams) (*models.Job, error)
	status func(jobID, accountID uuid.UUID) (*batch.Status, error)
	cancel func(jobID, accountID uuid.UUID) (*batch.Status, error)
	delete func(jobID, accountID uuid.UUID) error
}

func (m *mockJobs) Create(_ context.Context, accountID uuid.UUID, p batch.CreateParams) (*models.Job, error) {
	return m.create(accountID, p)
}
func (m *mockJobs) Status(_ context.Context, jobID, accountID uuid.UUID) (*batch.Status, error) {
	return m.status(jobID, accountID)
}
func (m *mockJobs) Cancel(_ context.Context, jobID, accountID uuid.UUID) (*batch.Status, error) {
	return m.cancel(jobID, accountID)
}
func (m *mockJobs) Delete(_ context.Context, jobID, accountID uuid.UUID) error {
	return m.delete(jobID, accountID)
}

// --- mock BatchRunner ---

type mockRunner struct {
	fn func(jobID, accountID uuid.UUID, take int) (*batch.RunResult, error)
}

func (m *mockRunner) Run(_ context.Context, jobID, accountID uuid.UUID, take int) (*batch.RunResult, error) {
	return m.fn(jobID, accountID, take)
}

// --- helpers ---

func jsonReq(t *testing.T, method, path string, body any, accountID uuid.UUID) *http.Request {
	t.Helper()
	var b []byte
	switch v := body.(type) {
	case nil:
	case string:
		b = []byte(v)
	default:
		b, _ = json.Marshal(v)
	}
	r := httptest.NewRequest(method, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r.WithContext(mw.SetAccountID(r.Context(), accountID))
}

// withURLParam sets a chi path parameter as the router would.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func parseOK(t *testing.T, rec *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func createdJob(accountID uuid.UUID, p batch.CreateParams) (*models.Job, error) {
	return &models.Job{
		ID:         uuid.New(),
		AccountID:  accountID,
		Scope:      p.Scope,
		RefID:      p.RefID,
		WindowSize: p.WindowSize,
		Status:     models.JobStatusQueued,
		Total:      4,
	}, nil
}

// --- create ---

func TestCreateJobHandler_Success(t *testing.T) {
	var captured batch.CreateParams
	var capturedAccount uuid.UUID
	svc := &mockJobs{create: func(accountID uuid.UUID, p batch.CreateParams) (*models.Job, error) {
		captured, capturedAccount = p, accountID
		return createdJob(accountID, p)
	}}
	h := NewCreateJobHandler(svc, NewValidator())

	account, team := uuid.New(), uuid.New()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, "POST", "/api/v1/jobs", map[string]any{
		"scope": "team", "ref_id": team.String(), "window_size": 25,
	}, account))

	data := parseOK(t, rec, http.StatusCreated)
	if data["total"] != float64(4) {
		t.Errorf("unexpected total: %v", data["total"])
	}
	if data["status"] != "queued" {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if _, err := uuid.Parse(fmt.Sprint(data["job_id"])); err != nil {
		t.Errorf("job_id is not a UUID: %v", data["job_id"])
	}
	if capturedAccount != account {
		t.Errorf("account not passed through")
	}
	if captured.Scope != "team" || captured.RefID != team || captured.WindowSize != 25 {
		t.Errorf("unexpected params: %+v", captured)
	}
}

func TestCreateJobHandler_Validation(t *testing.T) {
	svc := &mockJobs{create: func(uuid.UUID, batch.CreateParams) (*models.Job, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	h := NewCreateJobHandler(svc, NewValidator())
	ref := uuid.NewString()

	tests := []struct {
		name string
		body any
		code string
	}{
		{"bad json", "{", "INVALID_REQUEST"},
		{"missing scope", map[string]any{"ref_id": ref, "window_size": 20}, "INVALID_SCOPE"},
		{"unknown scope", map[string]any{"scope": "agent", "ref_id": ref, "window_size": 20}, "INVALID_SCOPE"},
		{"missing ref", map[string]any{"scope": "org", "window_size": 20}, "MISSING_REF"},
		{"window too small", map[string]any{"scope": "org", "ref_id": ref, "window_size": 5}, "INVALID_WINDOW_SIZE"},
		{"window too large", map[string]any{"scope": "org", "ref_id": ref, "window_size": 500}, "INVALID_WINDOW_SIZE"},
		{"window missing", map[string]any{"scope": "org", "ref_id": ref}, "INVALID_WINDOW_SIZE"},
		{"ref not a uuid", map[string]any{"scope": "org", "ref_id": "team-7", "window_size": 20}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, jsonReq(t, "POST", "/api/v1/jobs", tt.body, uuid.New()))

			status, code := parseErr(t, rec)
			if status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
			if code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
		})
	}
}

func TestCreateJobHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{batch.ErrNoEntitiesFound, http.StatusNotFound, "NO_ENTITIES_FOUND"},
		{batch.ErrInvalidScope, http.StatusBadRequest, "INVALID_SCOPE"},
		{batch.ErrInvalidWindowSize, http.StatusBadRequest, "INVALID_WINDOW_SIZE"},
		{errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &mockJobs{create: func(uuid.UUID, batch.CreateParams) (*models.Job, error) {
				return nil, tt.err
			}}
			h := NewCreateJobHandler(svc, NewValidator())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, jsonReq(t, "POST", "/api/v1/jobs", map[string]any{
				"scope": "org", "ref_id": uuid.NewString(), "window_size": 10,
			}, uuid.New()))

			status, code := parseErr(t, rec)
			if status != tt.status || code != tt.code {
				t.Errorf("expected %d %s, got %d %s", tt.status, tt.code, status, code)
			}
		})
	}
}

func TestCreateJobHandler_NoAccount(t *testing.T) {
	h := NewCreateJobHandler(&mockJobs{}, NewValidator())
	r := httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// --- run ---

func TestRunJobHandler_Success(t *testing.T) {
	jobID := uuid.New()
	var gotTake int
	runner := &mockRunner{fn: func(id, _ uuid.UUID, take int) (*batch.RunResult, error) {
		gotTake = take
		return &batch.RunResult{
			JobID:     id,
			Processed: 3,
			Counts:    models.TaskCounts{Queued: 2, Done: 2, Failed: 1},
		}, nil
	}}
	h := NewRunJobHandler(runner, NewValidator())

	rec := httptest.NewRecorder()
	req := jsonReq(t, "POST", "/api/v1/jobs/"+jobID.String()+"/run", map[string]any{"take": 3}, uuid.New())
	h.ServeHTTP(rec, withURLParam(req, "jobID", jobID.String()))

	data := parseOK(t, rec, http.StatusOK)
	if gotTake != 3 {
		t.Errorf("expected take 3, got %d", gotTake)
	}
	if data["job_id"] != jobID.String() {
		t.Errorf("unexpected job_id: %v", data["job_id"])
	}
	want := map[string]float64{"processed": 3, "queued": 2, "running": 0, "done": 2, "failed": 1, "cancelled": 0}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, data[k])
		}
	}
}

func TestRunJobHandler_EmptyBodyUsesDefaultTake(t *testing.T) {
	gotTake := -1
	runner := &mockRunner{fn: func(id, _ uuid.UUID, take int) (*batch.RunResult, error) {
		gotTake = take
		return &batch.RunResult{JobID: id}, nil
	}}
	h := NewRunJobHandler(runner, NewValidator())
	jobID := uuid.NewString()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withURLParam(jsonReq(t, "POST", "/run", nil, uuid.New()), "jobID", jobID))

	parseOK(t, rec, http.StatusOK)
	if gotTake != 0 {
		t.Errorf("expected take 0 for runner default, got %d", gotTake)
	}
}

func TestRunJobHandler_BadInput(t *testing.T) {
	runner := &mockRunner{fn: func(uuid.UUID, uuid.UUID, int) (*batch.RunResult, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}}
	h := NewRunJobHandler(runner, NewValidator())

	tests := []struct {
		name  string
		jobID string
		body  any
		code  string
	}{
		{"missing job id", "", nil, "MISSING_JOB_ID"},
		{"malformed job id", "job-1", nil, "INVALID_REQUEST"},
		{"negative take", uuid.NewString(), map[string]any{"take": -1}, "INVALID_REQUEST"},
		{"bad json", uuid.NewString(), "{take", "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, withURLParam(jsonReq(t, "POST", "/run", tt.body, uuid.New()), "jobID", tt.jobID))

			status, code := parseErr(t, rec)
			if status != http.StatusBadRequest || code != tt.code {
				t.Errorf("expected 400 %s, got %d %s", tt.code, status, code)
			}
		})
	}
}

func TestRunJobHandler_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{batch.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{batch.ErrMissingJobID, http.StatusBadRequest, "MISSING_JOB_ID"},
		{fmt.Errorf("%w: missing OPENAI_API_KEY", batch.ErrConfiguration), http.StatusServiceUnavailable, "AI_NOT_CONFIGURED"},
		{batch.ErrQuotaExceeded, http.StatusTooManyRequests, "QUOTA_EXCEEDED"},
		{errors.New("deadlock detected"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			runner := &mockRunner{fn: func(uuid.UUID, uuid.UUID, int) (*batch.RunResult, error) {
				return nil, tt.err
			}}
			h := NewRunJobHandler(runner, NewValidator())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, withURLParam(jsonReq(t, "POST", "/run", nil, uuid.New()), "jobID", uuid.NewString()))

			if tt.code == "QUOTA_EXCEEDED" && rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			status, code := parseErr(t, rec)
			if status != tt.status || code != tt.code {
				t.Errorf("expected %d %s, got %d %s", tt.status, tt.code, status, code)
			}
		})
	}
}

func TestUntilMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	if got := untilMidnight(now); got != time.Minute {
		t.Errorf("expected 1m, got %s", got)
	}
	if got := untilMidnight(now.In(time.FixedZone("UTC+2", 2*3600))); got != time.Minute {
		t.Errorf("expected UTC day boundary, got %s", got)
	}
}

// --- status / cancel / delete ---

func sampleStatus(jobID uuid.UUID) *batch.Status {
	msg := "InsufficientData: too few records: found 2, need 5"
	return &batch.Status{
		Job: &models.Job{
			ID:     jobID,
			Scope:  models.ScopeTeam,
			Status: models.JobStatusRunning,
			Total:  4,
			Error:  &msg,
		},
		Counts:  models.TaskCounts{Queued: 1, Done: 2, Failed: 1},
		Percent: 50,
		LastFailedSample: []batch.FailedSample{
			{TaskID: uuid.New(), EntityID: uuid.New(), Error: msg},
		},
		FailureGroups: []analysis.FailureGroup{
			{Kind: "InsufficientData", Count: 1, Sample: msg},
		},
	}
}

func TestJobStatusHandler_Success(t *testing.T) {
	jobID := uuid.New()
	svc := &mockJobs{status: func(id, _ uuid.UUID) (*batch.Status, error) {
		return sampleStatus(id), nil
	}}
	h := NewJobStatusHandler(svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withURLParam(jsonReq(t, "GET", "/", nil, uuid.New()), "jobID", jobID.String()))

	data := parseOK(t, rec, http.StatusOK)
	job := data["job"].(map[string]any)
	if job["id"] != jobID.String() {
		t.Errorf("unexpected job id: %v", job["id"])
	}
	if job["percent"] != float64(50) {
		t.Errorf("unexpected percent: %v", job["percent"])
	}
	if job["counts"].(map[string]any)["done"] != float64(2) {
		t.Errorf("job counts missing: %v", job["counts"])
	}
	if data["counts"].(map[string]any)["failed"] != float64(1) {
		t.Errorf("unexpected counts: %v", data["counts"])
	}
	sample := data["last_failed_sample"].([]any)
	if len(sample) != 1 {
		t.Fatalf("expected one failed sample, got %d", len(sample))
	}
	if sample[0].(map[string]any)["error"] == "" {
		t.Error("failed sample has no error text")
	}
	groups := data["failure_groups"].([]any)
	if len(groups) != 1 || groups[0].(map[string]any)["kind"] != "InsufficientData" {
		t.Errorf("unexpected failure groups: %v", groups)
	}
}

func TestJobStatusHandler_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{batch.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		svc := &mockJobs{status: func(uuid.UUID, uuid.UUID) (*batch.Status, error) { return nil, tt.err }}
		rec := httptest.NewRecorder()
		NewJobStatusHandler(svc).ServeHTTP(rec, withURLParam(jsonReq(t, "GET", "/", nil, uuid.New()), "jobID", uuid.NewString()))

		status, code := parseErr(t, rec)
		if status != tt.status || code != tt.code {
			t.Errorf("expected %d %s, got %d %s", tt.status, tt.code, status, code)
		}
	}
}

func TestCancelJobHandler(t *testing.T) {
	jobID := uuid.New()
	svc := &mockJobs{cancel: func(id, _ uuid.UUID) (*batch.Status, error) {
		st := sampleStatus(id)
		st.Job.CancelRequested = true
		st.Counts = models.TaskCounts{Done: 2, Failed: 1, Cancelled: 1}
		return st, nil
	}}

	rec := httptest.NewRecorder()
	NewCancelJobHandler(svc).ServeHTTP(rec, withURLParam(jsonReq(t, "POST", "/", nil, uuid.New()), "jobID", jobID.String()))

	data := parseOK(t, rec, http.StatusOK)
	if data["job"].(map[string]any)["cancel_requested"] != true {
		t.Error("expected cancel_requested")
	}
	if data["counts"].(map[string]any)["cancelled"] != float64(1) {
		t.Errorf("unexpected counts: %v", data["counts"])
	}
}

func TestDeleteJobHandler(t *testing.T) {
	var deleted uuid.UUID
	svc := &mockJobs{delete: func(id, _ uuid.UUID) error {
		if deleted != uuid.Nil {
			return batch.ErrNotFound
		}
		deleted = id
		return nil
	}}
	h := NewDeleteJobHandler(svc)
	jobID := uuid.NewString()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withURLParam(jsonReq(t, "DELETE", "/", nil, uuid.New()), "jobID", jobID))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if deleted.String() != jobID {
		t.Errorf("deleted wrong job: %s", deleted)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withURLParam(jsonReq(t, "DELETE", "/", nil, uuid.New()), "jobID", jobID))
	if status, code := parseErr(t, rec); status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", status, code)
	}
}
