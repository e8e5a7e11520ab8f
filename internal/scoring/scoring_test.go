package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/ai"
	"github.com/kiranshivaraju/agentscore/internal/ai/mock"
	"github.com/kiranshivaraju/agentscore/internal/scoring"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const valid = mock.ValidScoreJSON

// --- ExtractJSONObject ---

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", valid, valid},
		{"fenced with tag", "```json\n" + valid + "\n```", valid},
		{"fenced without tag", "```\n" + valid + "\n```", valid},
		{"fenced single line", "```" + valid + "```", valid},
		{"leading prose", "Sure! " + valid, valid},
		{"trailing prose", valid + " Let me know if you need more.", valid},
		{"prose on both sides", "Here you go:\n" + valid + "\nThanks", valid},
		{"nested braces", `x {"a":{"b":1}} y`, `{"a":{"b":1}}`},
		{"prose after closing fence", "```json\n" + valid + "\n```\nWant {more}?", valid},
		{"second block after fence", "```json\n" + valid + "\n```\n```json\n{\"x\":1}\n```", valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scoring.ExtractJSONObject(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	for _, in := range []string{"", "I cannot help with that.", "} reversed {", "only { opening", "```json\n```"} {
		_, err := scoring.ExtractJSONObject(in)
		assert.ErrorIs(t, err, scoring.ErrNonJSONOutput, "input %q", in)
	}
}

// --- Validate ---

func withoutKey(t *testing.T, key string) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(valid), &m))
	delete(m, key)
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

func TestValidate_Valid(t *testing.T) {
	s, err := scoring.Validate(valid)
	require.NoError(t, err)
	assert.Equal(t, 76.0, s.OverallScore)
	assert.Equal(t, 12.0, s.ComplianceRisk)
	assert.Equal(t, []string{"clear greeting"}, s.Strengths)
	assert.Equal(t, []string{"repeat callers"}, s.Patterns)
}

func TestValidate_ExtraKeysTolerated(t *testing.T) {
	in := strings.Replace(valid, "{", `{"notes":"extra",`, 1)
	_, err := scoring.Validate(in)
	assert.NoError(t, err)
}

func TestValidate_MissingKeyNamed(t *testing.T) {
	for _, key := range scoring.RequiredKeys {
		t.Run(key, func(t *testing.T) {
			_, err := scoring.Validate(withoutKey(t, key))
			var sv *scoring.SchemaViolationError
			require.ErrorAs(t, err, &sv)
			assert.Equal(t, key, sv.Key)
		})
	}
}

func TestValidate_FirstMissingKeyInDeclaredOrder(t *testing.T) {
	_, err := scoring.Validate(`{"complianceRisk":1,"strengths":[]}`)
	var sv *scoring.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, scoring.KeySentimentScore, sv.Key)
}

func TestValidate_MissingKeyReportedBeforeTypeMismatch(t *testing.T) {
	in := strings.Replace(withoutKey(t, scoring.KeyPatterns), `"complianceRisk":12`, `"complianceRisk":"high"`, 1)
	_, err := scoring.Validate(in)
	var sv *scoring.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, scoring.KeyPatterns, sv.Key)
}

func TestValidate_TypeMismatch(t *testing.T) {
	tests := map[string]string{
		scoring.KeyOverallScore: strings.Replace(valid, `"overallScore":76`, `"overallScore":"76"`, 1),
		scoring.KeyConfidence:   strings.Replace(valid, `"confidence":64`, `"confidence":null`, 1),
		scoring.KeyStrengths:    strings.Replace(valid, `"strengths":["clear greeting"]`, `"strengths":"clear greeting"`, 1),
		scoring.KeyWeaknesses:   strings.Replace(valid, `"weaknesses":["long holds"]`, `"weaknesses":[1,2]`, 1),
	}
	for key, in := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := scoring.Validate(in)
			var sv *scoring.SchemaViolationError
			require.ErrorAs(t, err, &sv)
			assert.Equal(t, key, sv.Key)
		})
	}
}

func TestValidate_ClampsAndTidies(t *testing.T) {
	in := `{"complianceRisk":-5,"sentimentScore":140,"resolutionQuality":50,"overallScore":50,"confidence":50,` +
		`"strengths":["  a  ",""],"weaknesses":[],"patterns":[]}`
	s, err := scoring.Validate(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.ComplianceRisk)
	assert.Equal(t, 100.0, s.SentimentScore)
	assert.Equal(t, []string{"a"}, s.Strengths)
	assert.NotNil(t, s.Weaknesses)
}

func TestValidate_BrokenJSON(t *testing.T) {
	_, err := scoring.Validate(`{"overallScore": 5,}`)
	assert.ErrorIs(t, err, scoring.ErrNonJSONOutput)
}

// --- BuildPrompt ---

func TestBuildPrompt_EmbedsEntityWindowAndItems(t *testing.T) {
	entity := uuid.New()
	items := []window.Item{{ID: uuid.New(), OccurredAt: time.Now().UTC(), Transcript: "caller asked for refund"}}

	prompt, err := scoring.BuildPrompt(entity, 25, items)
	require.NoError(t, err)
	assert.Contains(t, prompt, entity.String())
	assert.Contains(t, prompt, "Window size: 25")
	assert.Contains(t, prompt, "caller asked for refund")
	for _, key := range scoring.RequiredKeys {
		assert.Contains(t, prompt, `"`+key+`"`)
	}
}

func TestScore_UsesTokenBudget(t *testing.T) {
	p := mock.NewMockProvider()
	c := scoring.NewClient(p, 800)

	raw, err := c.Score(context.Background(), uuid.New(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, valid, raw)
	assert.Equal(t, 800, p.Requests()[0].MaxTokens)
	assert.NotEmpty(t, p.Requests()[0].System)
}

// --- ScoreWithRepair ---

func TestScoreWithRepair_FencedOutputNoRepair(t *testing.T) {
	p := mock.NewScriptedProvider(mock.Reply{Text: "```json\n" + valid + "\n```"})
	c := scoring.NewClient(p, 800)

	out, err := c.ScoreWithRepair(context.Background(), "prompt")
	require.NoError(t, err)
	assert.False(t, out.UsedRepair)
	assert.Equal(t, 1, out.Calls)
	assert.Equal(t, 1, p.Calls())
}

func TestScoreWithRepair_LeadingProseNoRepair(t *testing.T) {
	p := mock.NewScriptedProvider(mock.Reply{Text: "Sure! " + valid})
	c := scoring.NewClient(p, 800)

	out, err := c.ScoreWithRepair(context.Background(), "prompt")
	require.NoError(t, err)
	assert.False(t, out.UsedRepair)
	assert.Equal(t, 76.0, out.Score.OverallScore)
}

func TestScoreWithRepair_RepairSucceeds(t *testing.T) {
	p := mock.NewScriptedProvider(
		mock.Reply{Text: withoutKey(t, scoring.KeyConfidence)},
		mock.Reply{Text: valid},
	)
	c := scoring.NewClient(p, 800)

	out, err := c.ScoreWithRepair(context.Background(), "prompt")
	require.NoError(t, err)
	assert.True(t, out.UsedRepair)
	assert.Equal(t, 2, out.Calls)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Prompt, withoutKey(t, scoring.KeyConfidence))
}

func TestScoreWithRepair_NoThirdCall(t *testing.T) {
	p := mock.NewScriptedProvider(
		mock.Reply{Text: "I think this agent did well."},
		mock.Reply{Text: "Still prose, sorry."},
		mock.Reply{Text: valid},
	)
	c := scoring.NewClient(p, 800)

	out, err := c.ScoreWithRepair(context.Background(), "prompt")
	assert.ErrorIs(t, err, scoring.ErrNonJSONOutput)
	assert.True(t, out.UsedRepair)
	assert.Equal(t, 2, p.Calls())
}

func TestScoreWithRepair_RepairSchemaViolationPropagates(t *testing.T) {
	p := mock.NewScriptedProvider(
		mock.Reply{Text: "nope"},
		mock.Reply{Text: withoutKey(t, scoring.KeyPatterns)},
	)
	c := scoring.NewClient(p, 800)

	_, err := c.ScoreWithRepair(context.Background(), "prompt")
	var sv *scoring.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, scoring.KeyPatterns, sv.Key)
}

func TestScoreWithRepair_TransportErrorNotRepaired(t *testing.T) {
	p := mock.NewFailingProvider(ai.ErrProviderUnavailable)
	c := scoring.NewClient(p, 800)

	out, err := c.ScoreWithRepair(context.Background(), "prompt")
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
	assert.False(t, out.UsedRepair)
	assert.Equal(t, 1, p.Calls())
}

func TestScoreWithRepair_RepairTransportError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	p := mock.NewScriptedProvider(mock.Reply{Text: "prose"}, mock.Reply{Err: boom})
	c := scoring.NewClient(p, 800)

	_, err := c.ScoreWithRepair(context.Background(), "prompt")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, p.Calls())
}
