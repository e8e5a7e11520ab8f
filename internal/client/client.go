// Package client is a thin HTTP client for the Agent Score API, used by the
// scorectl operator CLI.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// ErrDrainIncomplete is returned when Drain gives up before the job is done.
var ErrDrainIncomplete = errors.New("job not drained")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// Client calls the Agent Score API with a bearer API key.
type Client struct {
	http *resty.Client
}

// New returns a client rooted at baseURL. timeout bounds each request and
// must cover a full run call.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New()
	c.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	c.SetHeader("Content-Type", "application/json")
	c.SetHeader("Accept", "application/json")
	c.SetAuthToken(apiKey)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

// CreateJobRequest mirrors POST /api/v1/jobs.
type CreateJobRequest struct {
	Scope      string    `json:"scope"`
	RefID      uuid.UUID `json:"ref_id"`
	WindowSize int       `json:"window_size"`
}

// CreatedJob is the response to CreateJob.
type CreatedJob struct {
	JobID  uuid.UUID `json:"job_id"`
	Total  int       `json:"total"`
	Status string    `json:"status"`
}

// RunResult is the response to Run.
type RunResult struct {
	JobID     uuid.UUID `json:"job_id"`
	Processed int       `json:"processed"`
	Queued    int       `json:"queued"`
	Running   int       `json:"running"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
}

// Finished reports whether no task is left queued or running.
func (r *RunResult) Finished() bool {
	return r.Queued == 0 && r.Running == 0
}

// FailedSample is one recent failure in a status response.
type FailedSample struct {
	TaskID   uuid.UUID `json:"task_id"`
	EntityID uuid.UUID `json:"entity_id"`
	Error    string    `json:"error"`
}

// FailureGroup is a recurring failure pattern in a status response.
type FailureGroup struct {
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
	Sample string `json:"sample"`
}

// JobStatus is the response to Status and Cancel.
type JobStatus struct {
	Job struct {
		models.Job
		Percent int `json:"percent"`
	} `json:"job"`
	Counts           models.TaskCounts `json:"counts"`
	LastFailedSample []FailedSample    `json:"last_failed_sample"`
	FailureGroups    []FailureGroup    `json:"failure_groups"`
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*CreatedJob, error) {
	var out envelope[CreatedJob]
	if err := c.do(ctx, "POST", "/api/v1/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Run performs one bounded run. take 0 lets the server pick its default.
func (c *Client) Run(ctx context.Context, jobID uuid.UUID, take int) (*RunResult, error) {
	var body any
	if take > 0 {
		body = map[string]int{"take": take}
	}
	var out envelope[RunResult]
	if err := c.do(ctx, "POST", "/api/v1/jobs/"+jobID.String()+"/run", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) Status(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	var out envelope[JobStatus]
	if err := c.do(ctx, "GET", "/api/v1/jobs/"+jobID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) Cancel(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	var out envelope[JobStatus]
	if err := c.do(ctx, "POST", "/api/v1/jobs/"+jobID.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Drain calls Run until the job has nothing queued or running, invoking
// progress after every run. It stops after maxRuns calls with
// ErrDrainIncomplete, or early when ctx is done.
func (c *Client) Drain(ctx context.Context, jobID uuid.UUID, take, maxRuns int, pause time.Duration, progress func(*RunResult)) (*RunResult, error) {
	var last *RunResult
	for i := 0; i < maxRuns; i++ {
		res, err := c.Run(ctx, jobID, take)
		if err != nil {
			return last, err
		}
		last = res
		if progress != nil {
			progress(res)
		}
		if res.Finished() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(pause):
		}
	}
	return last, fmt.Errorf("%w after %d runs", ErrDrainIncomplete, maxRuns)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out).SetError(&errorEnvelope{})
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Code: "UNKNOWN", Message: resp.Status()}
		if env, ok := resp.Error().(*errorEnvelope); ok && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	return nil
}
