package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoreSnapshot is the immutable result of one successful task.
type ScoreSnapshot struct {
	ID                uuid.UUID `db:"id"                 json:"id"`
	JobID             uuid.UUID `db:"job_id"             json:"job_id"`
	TaskID            uuid.UUID `db:"task_id"            json:"task_id"`
	EntityID          uuid.UUID `db:"entity_id"          json:"entity_id"`
	WindowSize        int       `db:"window_size"        json:"window_size"`
	ComplianceRisk    float64   `db:"compliance_risk"    json:"compliance_risk"`
	SentimentScore    float64   `db:"sentiment_score"    json:"sentiment_score"`
	ResolutionQuality float64   `db:"resolution_quality" json:"resolution_quality"`
	OverallScore      float64   `db:"overall_score"      json:"overall_score"`
	Confidence        float64   `db:"confidence"         json:"confidence"`
	Strengths         []string  `db:"strengths"          json:"strengths"`
	Weaknesses        []string  `db:"weaknesses"         json:"weaknesses"`
	Patterns          []string  `db:"patterns"           json:"patterns"`
	Repaired          bool      `db:"repaired"           json:"repaired"`
	Provider          string    `db:"provider"           json:"provider"`
	Model             string    `db:"model"              json:"model"`
	CreatedAt         time.Time `db:"created_at"         json:"created_at"`
}

// HistoryPoint is an append-only trend sample written alongside every snapshot.
type HistoryPoint struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	EntityID   uuid.UUID `db:"entity_id"   json:"entity_id"`
	Score      float64   `db:"score"       json:"score"`
	WindowSize int       `db:"window_size" json:"window_size"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}
