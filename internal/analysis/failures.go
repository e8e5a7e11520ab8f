// Package analysis groups task failures into recurring patterns so an
// operator can see why a job's tasks failed without reading every row.
package analysis

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reDuration   = regexp.MustCompile(`\b\d+(\.\d+)?(ns|µs|us|ms|s|m|h)\b`)
	reNumber     = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	reQuoted     = regexp.MustCompile(`"[^"]*"`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// maxSampleBytes bounds the example message kept per group.
const maxSampleBytes = 300

// Failure is one failed task's stored error.
type Failure struct {
	Error string
	At    time.Time
}

// FailureGroup is a set of failures whose messages differ only in ids,
// numbers, durations or quoted values.
type FailureGroup struct {
	Fingerprint string    `json:"fingerprint"`
	Kind        string    `json:"kind"`
	Count       int       `json:"count"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Sample      string    `json:"sample"`
}

// GroupFailures deduplicates failures by fingerprint.
// Returns groups sorted by (Count DESC, Kind ASC, Fingerprint ASC).
// Returns empty slice for empty input (never nil).
func GroupFailures(failures []Failure) []FailureGroup {
	if len(failures) == 0 {
		return []FailureGroup{}
	}

	groups := make(map[string]*FailureGroup)
	for _, f := range failures {
		fp := Fingerprint(f.Error)
		g, ok := groups[fp]
		if !ok {
			g = &FailureGroup{
				Fingerprint: fp,
				Kind:        KindOf(f.Error),
				FirstSeenAt: f.At,
				LastSeenAt:  f.At,
				Sample:      truncateString(f.Error, maxSampleBytes),
			}
			groups[fp] = g
		}

		g.Count++
		if f.At.Before(g.FirstSeenAt) {
			g.FirstSeenAt = f.At
		}
		if f.At.After(g.LastSeenAt) {
			g.LastSeenAt = f.At
			g.Sample = truncateString(f.Error, maxSampleBytes)
		}
	}

	out := make([]FailureGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// KindOf returns the failure kind prefixed to a stored task error
// ("Timeout: ..." gives "Timeout"), or "Unknown" when there is none.
func KindOf(msg string) string {
	kind, _, ok := strings.Cut(msg, ":")
	if !ok || kind == "" || strings.ContainsAny(kind, " \t\n") {
		return "Unknown"
	}
	return kind
}

// Fingerprint computes a stable SHA-256 fingerprint for a task error.
func Fingerprint(msg string) string {
	hash := sha256.Sum256([]byte(NormalizeMessage(msg)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeMessage replaces the variable parts of a task error so that
// failures of the same cause compare equal.
func NormalizeMessage(msg string) string {
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reQuoted.ReplaceAllString(msg, `"S"`)
	msg = reDuration.ReplaceAllString(msg, "D")
	msg = reNumber.ReplaceAllString(msg, "N")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	return truncateString(msg, 500)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
