package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/analysis"
	"github.com/kiranshivaraju/agentscore/internal/api/response"
	"github.com/kiranshivaraju/agentscore/internal/batch"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// JobService is the job lifecycle the handlers depend on.
type JobService interface {
	Create(ctx context.Context, accountID uuid.UUID, p batch.CreateParams) (*models.Job, error)
	Status(ctx context.Context, jobID, accountID uuid.UUID) (*batch.Status, error)
	Cancel(ctx context.Context, jobID, accountID uuid.UUID) (*batch.Status, error)
	Delete(ctx context.Context, jobID, accountID uuid.UUID) error
}

// BatchRunner performs one bounded run over a job.
type BatchRunner interface {
	Run(ctx context.Context, jobID, accountID uuid.UUID, take int) (*batch.RunResult, error)
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createJobRequest struct {
	Scope      string `json:"scope"       validate:"oneof=team org"`
	RefID      string `json:"ref_id"      validate:"required"`
	WindowSize int    `json:"window_size" validate:"min=10,max=100"`
}

// createFieldCodes maps a failed request field to its error code.
var createFieldCodes = map[string]string{
	"scope":       "INVALID_SCOPE",
	"ref_id":      "MISSING_REF",
	"window_size": "INVALID_WINDOW_SIZE",
}

type createJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Total  int       `json:"total"`
	Status string    `json:"status"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountFrom(w, r)
		if !ok {
			return
		}

		var req createJobRequest
		if err := decodeBody(r, &req, false); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := v.Struct(&req); err != nil {
			details := validationDetails(err)
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				if code, ok := createFieldCodes[verrs[0].Field()]; ok {
					response.Error(w, http.StatusBadRequest, code, "Validation failed", details)
					return
				}
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", details)
			return
		}

		refID, err := uuid.Parse(req.RefID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "ref_id must be a UUID", nil)
			return
		}

		job, err := svc.Create(r.Context(), accountID, batch.CreateParams{
			Scope:      req.Scope,
			RefID:      refID,
			WindowSize: req.WindowSize,
		})
		if err != nil {
			switch {
			case errors.Is(err, batch.ErrInvalidScope):
				response.Error(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			case errors.Is(err, batch.ErrMissingRef):
				response.Error(w, http.StatusBadRequest, "MISSING_REF", err.Error(), nil)
			case errors.Is(err, batch.ErrInvalidWindowSize):
				response.Error(w, http.StatusBadRequest, "INVALID_WINDOW_SIZE", err.Error(), nil)
			case errors.Is(err, batch.ErrNoEntitiesFound):
				response.Error(w, http.StatusNotFound, "NO_ENTITIES_FOUND", err.Error(), nil)
			default:
				slog.Error("create job", "account_id", accountID, "error", err)
				internalError(w)
			}
			return
		}

		slog.Info("job created", "job_id", job.ID, "scope", job.Scope, "ref_id", job.RefID, "total", job.Total)
		response.Created(w, createJobResponse{JobID: job.ID, Total: job.Total, Status: job.Status})
	}
}

type runJobRequest struct {
	Take int `json:"take" validate:"gte=0"`
}

type runJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Processed int       `json:"processed"`
	Queued    int       `json:"queued"`
	Running   int       `json:"running"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
}

// NewRunJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/run.
// Task failures are reported in the counts, never as an HTTP error.
func NewRunJobHandler(runner BatchRunner, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "MISSING_JOB_ID")
		if !ok {
			return
		}

		var req runJobRequest
		if err := decodeBody(r, &req, true); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := v.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "take must not be negative", validationDetails(err))
			return
		}

		res, err := runner.Run(r.Context(), jobID, accountID, req.Take)
		if err != nil {
			switch {
			case errors.Is(err, batch.ErrMissingJobID):
				response.Error(w, http.StatusBadRequest, "MISSING_JOB_ID", err.Error(), nil)
			case errors.Is(err, batch.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			case errors.Is(err, batch.ErrConfiguration):
				slog.Error("run aborted", "job_id", jobID, "error", err)
				response.Error(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
					"The AI provider is not configured", nil)
			case errors.Is(err, batch.ErrQuotaExceeded):
				response.TooManyRequests(w, untilMidnight(time.Now()), "QUOTA_EXCEEDED", err.Error())
			default:
				slog.Error("run job", "job_id", jobID, "error", err)
				internalError(w)
			}
			return
		}

		c := res.Counts
		response.JSON(w, runJobResponse{
			JobID:     res.JobID,
			Processed: res.Processed,
			Queued:    c.Queued,
			Running:   c.Running,
			Done:      c.Done,
			Failed:    c.Failed,
			Cancelled: c.Cancelled,
		})
	}
}

// untilMidnight returns the time left until the next UTC day, when the daily
// quota resets.
func untilMidnight(now time.Time) time.Duration {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC).Sub(now)
}

type jobView struct {
	*models.Job
	Counts  models.TaskCounts `json:"counts"`
	Percent int               `json:"percent"`
}

type statusResponse struct {
	Job              jobView                 `json:"job"`
	Counts           models.TaskCounts       `json:"counts"`
	LastFailedSample []batch.FailedSample    `json:"last_failed_sample"`
	FailureGroups    []analysis.FailureGroup `json:"failure_groups"`
}

func newStatusResponse(st *batch.Status) statusResponse {
	return statusResponse{
		Job:              jobView{Job: st.Job, Counts: st.Counts, Percent: st.Percent},
		Counts:           st.Counts,
		LastFailedSample: st.LastFailedSample,
		FailureGroups:    st.FailureGroups,
	}
}

// jobLookupError writes the response for an Authorize-class error.
func jobLookupError(w http.ResponseWriter, op string, jobID uuid.UUID, err error) {
	switch {
	case errors.Is(err, batch.ErrMissingJobID):
		response.Error(w, http.StatusBadRequest, "MISSING_JOB_ID", err.Error(), nil)
	case errors.Is(err, batch.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	default:
		slog.Error(op, "job_id", jobID, "error", err)
		internalError(w)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "MISSING_JOB_ID")
		if !ok {
			return
		}

		st, err := svc.Status(r.Context(), jobID, accountID)
		if err != nil {
			jobLookupError(w, "job status", jobID, err)
			return
		}
		response.JSON(w, newStatusResponse(st))
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "MISSING_JOB_ID")
		if !ok {
			return
		}

		st, err := svc.Cancel(r.Context(), jobID, accountID)
		if err != nil {
			jobLookupError(w, "cancel job", jobID, err)
			return
		}
		slog.Info("job cancelled", "job_id", jobID, "cancelled", st.Counts.Cancelled)
		response.JSON(w, newStatusResponse(st))
	}
}

// NewDeleteJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "MISSING_JOB_ID")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), jobID, accountID); err != nil {
			jobLookupError(w, "delete job", jobID, err)
			return
		}
		response.NoContent(w)
	}
}
