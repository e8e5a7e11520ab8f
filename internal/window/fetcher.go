// Package window reads an agent's most recent conversations and shapes them
// into the compact item list embedded in a scoring prompt.
package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/store"
)

// ErrInsufficientData is returned when an agent has fewer records than the
// configured minimum.
var ErrInsufficientData = errors.New("too few records")

// Item is one conversation as presented to the model. Exactly one of Report
// or Transcript is set.
type Item struct {
	ID         uuid.UUID       `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Report     json.RawMessage `json:"report,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
}

// Fetcher performs the windowed read over the conversation store.
type Fetcher struct {
	reader      store.ConversationReader
	minRecords  int
	prefixChars int
}

func NewFetcher(reader store.ConversationReader, minRecords, prefixChars int) *Fetcher {
	return &Fetcher{reader: reader, minRecords: minRecords, prefixChars: prefixChars}
}

// Fetch returns up to windowSize items for entityID, newest first. A stored
// report is embedded as-is when it is valid JSON; otherwise a prefix of the
// transcript is used.
func (f *Fetcher) Fetch(ctx context.Context, entityID uuid.UUID, windowSize int) ([]Item, error) {
	convs, err := f.reader.RecentConversations(ctx, entityID, windowSize)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	if len(convs) < f.minRecords {
		return nil, fmt.Errorf("%w: found %d, need %d", ErrInsufficientData, len(convs), f.minRecords)
	}

	items := make([]Item, 0, len(convs))
	for _, c := range convs {
		item := Item{ID: c.ID, OccurredAt: c.OccurredAt}
		if c.Report != nil && isJSONObject(*c.Report) {
			item.Report = json.RawMessage(strings.TrimSpace(*c.Report))
		} else {
			item.Transcript = prefixRunes(strings.TrimSpace(c.Transcript), f.prefixChars)
		}
		items = append(items, item)
	}
	return items, nil
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// prefixRunes returns at most n characters of s, never splitting a rune.
func prefixRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
