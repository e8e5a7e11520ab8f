package window_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/kiranshivaraju/agentscore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	convs []*models.Conversation
	err   error
	limit int
}

func (f *fakeReader) RecentConversations(_ context.Context, _ uuid.UUID, limit int) ([]*models.Conversation, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.convs) > limit {
		return f.convs[:limit], nil
	}
	return f.convs, nil
}

func conversations(n int, report *string, transcript string) []*models.Conversation {
	out := make([]*models.Conversation, n)
	now := time.Now().UTC()
	for i := range out {
		out[i] = &models.Conversation{
			ID:         uuid.New(),
			AgentID:    uuid.New(),
			Transcript: transcript,
			Report:     report,
			OccurredAt: now.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

func ptr(s string) *string { return &s }

func TestFetch_InsufficientData(t *testing.T) {
	f := window.NewFetcher(&fakeReader{convs: conversations(3, nil, "hi")}, 5, 1200)

	_, err := f.Fetch(context.Background(), uuid.New(), 20)
	require.Error(t, err)
	assert.ErrorIs(t, err, window.ErrInsufficientData)
	assert.Contains(t, err.Error(), "found 3, need 5")
}

func TestFetch_RespectsWindowSize(t *testing.T) {
	r := &fakeReader{convs: conversations(30, nil, "hello")}
	f := window.NewFetcher(r, 5, 1200)

	items, err := f.Fetch(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Len(t, items, 10)
	assert.Equal(t, 10, r.limit)
}

func TestFetch_PrefersValidReport(t *testing.T) {
	f := window.NewFetcher(&fakeReader{convs: conversations(5, ptr(`{"resolved":true}`), "raw transcript")}, 5, 1200)

	items, err := f.Fetch(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	for _, it := range items {
		assert.JSONEq(t, `{"resolved":true}`, string(it.Report))
		assert.Empty(t, it.Transcript)
	}

	payload, err := json.Marshal(items)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "raw transcript")
}

func TestFetch_InvalidReportFallsBackToTranscript(t *testing.T) {
	f := window.NewFetcher(&fakeReader{convs: conversations(5, ptr(`{"resolved":`), "raw transcript")}, 5, 1200)

	items, err := f.Fetch(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Nil(t, items[0].Report)
	assert.Equal(t, "raw transcript", items[0].Transcript)
}

func TestFetch_TranscriptPrefixIsRuneSafe(t *testing.T) {
	long := strings.Repeat("é", 1500)
	f := window.NewFetcher(&fakeReader{convs: conversations(5, nil, long)}, 5, 1200)

	items, err := f.Fetch(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1200, len([]rune(items[0].Transcript)))
	assert.True(t, strings.HasPrefix(long, items[0].Transcript))
}

func TestFetch_ReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	f := window.NewFetcher(&fakeReader{err: boom}, 5, 1200)

	_, err := f.Fetch(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, window.ErrInsufficientData)
}
