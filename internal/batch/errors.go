package batch

import "errors"

// Request validation errors returned by Controller.Create.
var (
	ErrInvalidScope      = errors.New("scope must be one of team, org")
	ErrMissingRef        = errors.New("ref_id is required")
	ErrInvalidWindowSize = errors.New("window_size must be between 10 and 100")
	ErrNoEntitiesFound   = errors.New("no agents found for the requested scope")
)

var (
	ErrMissingJobID = errors.New("job id is required")
	// ErrNotFound covers both absent jobs and jobs whose scope the caller
	// does not own.
	ErrNotFound = errors.New("job not found")
	// ErrConfiguration aborts a run: every remaining task would fail the same way.
	ErrConfiguration = errors.New("ai provider is not configured")
	ErrQuotaExceeded = errors.New("daily AI call quota exceeded")
)

const (
	MinWindowSize = 10
	MaxWindowSize = 100
)
