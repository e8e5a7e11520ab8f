package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func TestCreate(t *testing.T) {
	jobID, ref := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "org", body["scope"])
		assert.Equal(t, float64(40), body["window_size"])
		writeData(w, http.StatusCreated, map[string]any{"job_id": jobID, "total": 12, "status": "queued"})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--api-key", "as_k",
		"create", "--scope", "org", "--ref", ref.String(), "--window", "40")

	require.NoError(t, err)
	assert.Contains(t, out, jobID.String())
	assert.Contains(t, out, "12 tasks")
}

func TestCreate_InvalidRef(t *testing.T) {
	_, err := execute(t, "--api-key", "as_k", "create", "--ref", "team-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --ref")
}

func TestRequiresAPIKey(t *testing.T) {
	t.Setenv("AGENTSCORE_API_KEY", "")
	_, err := execute(t, "status", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestRun_InvalidJobID(t *testing.T) {
	_, err := execute(t, "--api-key", "as_k", "run", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job id")
}

func TestStatus_PrintsFailures(t *testing.T) {
	jobID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{
			"job":    map[string]any{"id": jobID, "status": "done", "total": 3, "percent": 67},
			"counts": map[string]any{"done": 2, "failed": 1},
			"last_failed_sample": []map[string]any{
				{"entity_id": uuid.New(), "error": "InsufficientData: too few records: found 3, need 5"},
			},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--api-key", "as_k", "status", jobID.String())

	require.NoError(t, err)
	assert.Contains(t, out, "done 67%")
	assert.Contains(t, out, "failed=1")
	assert.Contains(t, out, "found 3, need 5")
}

func TestDrain(t *testing.T) {
	var runs atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(runs.Add(1))
		writeData(w, http.StatusOK, map[string]any{"processed": 3, "queued": 9 - 3*n, "done": 3 * n})
	}))
	defer srv.Close()

	jobID := uuid.NewString()
	out, err := execute(t, "--server", srv.URL, "--api-key", "as_k", "drain", jobID, "--pause", "1ms")

	require.NoError(t, err)
	assert.Equal(t, int32(3), runs.Load())
	assert.Contains(t, out, "done=9")
	assert.Contains(t, out, "job "+jobID+" drained")
}

func TestCancel_ReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"Job not found"}}`))
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "--api-key", "as_k", "cancel", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}
