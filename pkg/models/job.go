package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
)

const (
	ScopeTeam = "team"
	ScopeOrg  = "org"
)

// Job is one scoring batch covering every agent in a team or organization.
// The client creates it once, then calls run until status is done.
//
// Progress is a cache of the number of done tasks; the task table is authoritative.
type Job struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	AccountID       uuid.UUID `db:"account_id"       json:"account_id"`
	Scope           string    `db:"scope"            json:"scope"`
	RefID           uuid.UUID `db:"ref_id"           json:"ref_id"`
	WindowSize      int       `db:"window_size"      json:"window_size"`
	Status          string    `db:"status"           json:"status"`
	Total           int       `db:"total"            json:"total"`
	Progress        int       `db:"progress"         json:"progress"`
	Error           *string   `db:"error"            json:"error,omitempty"`
	CancelRequested bool      `db:"cancel_requested" json:"cancel_requested"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// ValidScope reports whether s names a supported entity selection granularity.
func ValidScope(s string) bool {
	return s == ScopeTeam || s == ScopeOrg
}
