package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/api/response"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
)

// AgentScores reads an agent's scoring results.
type AgentScores interface {
	OwnsAgent(ctx context.Context, accountID, agentID uuid.UUID) (bool, error)
	ListHistory(ctx context.Context, entityID uuid.UUID, limit int) ([]*models.HistoryPoint, error)
	LatestSnapshot(ctx context.Context, entityID uuid.UUID) (*models.ScoreSnapshot, error)
}

// ownedAgent resolves the agentID path parameter and checks the caller owns it.
func ownedAgent(w http.ResponseWriter, r *http.Request, s AgentScores) (uuid.UUID, bool) {
	accountID, ok := accountFrom(w, r)
	if !ok {
		return uuid.Nil, false
	}
	agentID, ok := uuidParam(w, r, "agentID", "MISSING_AGENT_ID")
	if !ok {
		return uuid.Nil, false
	}

	owned, err := s.OwnsAgent(r.Context(), accountID, agentID)
	if err != nil {
		slog.Error("check agent ownership", "agent_id", agentID, "error", err)
		internalError(w)
		return uuid.Nil, false
	}
	if !owned {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
		return uuid.Nil, false
	}
	return agentID, true
}

type historyResponse struct {
	AgentID uuid.UUID              `json:"agent_id"`
	Points  []*models.HistoryPoint `json:"points"`
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/agents/{agentID}/history.
// Points are newest first; limit defaults to 30 and is capped at 365.
func NewHistoryHandler(s AgentScores) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		agentID, ok := ownedAgent(w, r, s)
		if !ok {
			return
		}

		points, err := s.ListHistory(r.Context(), agentID, limit)
		if err != nil {
			slog.Error("list history", "agent_id", agentID, "error", err)
			internalError(w)
			return
		}
		if points == nil {
			points = []*models.HistoryPoint{}
		}
		response.JSON(w, historyResponse{AgentID: agentID, Points: points})
	}
}

// NewLatestScoreHandler returns an http.HandlerFunc for GET /api/v1/agents/{agentID}/score.
func NewLatestScoreHandler(s AgentScores) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, ok := ownedAgent(w, r, s)
		if !ok {
			return
		}

		snap, err := s.LatestSnapshot(r.Context(), agentID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NO_SCORE", "Agent has not been scored yet", nil)
			return
		}
		if err != nil {
			slog.Error("latest snapshot", "agent_id", agentID, "error", err)
			internalError(w)
			return
		}
		response.JSON(w, snap)
	}
}
