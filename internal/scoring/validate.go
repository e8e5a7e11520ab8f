package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Required keys, in the order violations are reported.
const (
	KeyComplianceRisk    = "complianceRisk"
	KeySentimentScore    = "sentimentScore"
	KeyResolutionQuality = "resolutionQuality"
	KeyOverallScore      = "overallScore"
	KeyConfidence        = "confidence"
	KeyStrengths         = "strengths"
	KeyWeaknesses        = "weaknesses"
	KeyPatterns          = "patterns"
)

var numericKeys = []string{KeyComplianceRisk, KeySentimentScore, KeyResolutionQuality, KeyOverallScore, KeyConfidence}
var listKeys = []string{KeyStrengths, KeyWeaknesses, KeyPatterns}

// RequiredKeys lists every key a score object must carry.
var RequiredKeys = append(append([]string{}, numericKeys...), listKeys...)

const (
	maxListItems = 10
	maxItemBytes = 200
)

// SchemaViolationError names the first required key that is missing or has
// the wrong type.
type SchemaViolationError struct {
	Key    string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("key %q %s", e.Key, e.Reason)
}

// ValidatedScore is a score object that passed validation. Numeric fields are
// clamped to 0..100.
type ValidatedScore struct {
	ComplianceRisk    float64
	SentimentScore    float64
	ResolutionQuality float64
	OverallScore      float64
	Confidence        float64
	Strengths         []string
	Weaknesses        []string
	Patterns          []string
}

// Validate decodes jsonText and checks every required key. Extra keys are
// ignored. A missing key is always reported before a type mismatch.
func Validate(jsonText string) (ValidatedScore, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &fields); err != nil {
		return ValidatedScore{}, fmt.Errorf("%w: %v", ErrNonJSONOutput, err)
	}

	for _, key := range RequiredKeys {
		if _, ok := fields[key]; !ok {
			return ValidatedScore{}, &SchemaViolationError{Key: key, Reason: "is missing"}
		}
	}

	nums := make(map[string]float64, len(numericKeys))
	for _, key := range numericKeys {
		var n float64
		if err := json.Unmarshal(fields[key], &n); err != nil || isNull(fields[key]) {
			return ValidatedScore{}, &SchemaViolationError{Key: key, Reason: "must be a number"}
		}
		nums[key] = clamp(n)
	}

	lists := make(map[string][]string, len(listKeys))
	for _, key := range listKeys {
		var items []string
		if err := json.Unmarshal(fields[key], &items); err != nil || isNull(fields[key]) {
			return ValidatedScore{}, &SchemaViolationError{Key: key, Reason: "must be an array of strings"}
		}
		lists[key] = tidy(items)
	}

	return ValidatedScore{
		ComplianceRisk:    nums[KeyComplianceRisk],
		SentimentScore:    nums[KeySentimentScore],
		ResolutionQuality: nums[KeyResolutionQuality],
		OverallScore:      nums[KeyOverallScore],
		Confidence:        nums[KeyConfidence],
		Strengths:         lists[KeyStrengths],
		Weaknesses:        lists[KeyWeaknesses],
		Patterns:          lists[KeyPatterns],
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func clamp(n float64) float64 {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// tidy trims entries, drops blanks and caps list and entry length.
func tidy(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, truncateString(s, maxItemBytes))
		if len(out) == maxListItems {
			break
		}
	}
	return out
}
