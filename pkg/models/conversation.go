package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one historical record for an agent. Transcript text is
// redacted before it is written; Report holds a precomputed structured
// summary when one exists.
type Conversation struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	AgentID    uuid.UUID `db:"agent_id"    json:"agent_id"`
	Transcript string    `db:"transcript"  json:"transcript"`
	Report     *string   `db:"report"      json:"report,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
