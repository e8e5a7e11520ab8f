package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is an authenticated caller. Organizations are owned by accounts;
// teams belong to organizations and agents belong to teams.
type Account struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
