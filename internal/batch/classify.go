package batch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/agentscore/internal/ai"
	"github.com/kiranshivaraju/agentscore/internal/scoring"
	"github.com/kiranshivaraju/agentscore/internal/window"
)

// Kind is the failure class stored in front of a task's error message.
type Kind string

const (
	KindInsufficientData Kind = "InsufficientData"
	KindNonJSONOutput    Kind = "NonJsonOutput"
	KindSchemaViolation  Kind = "SchemaViolation"
	KindTimeout          Kind = "Timeout"
	KindConfiguration    Kind = "ConfigurationError"
	KindCancelled        Kind = "Cancelled"
	KindUnknown          Kind = "Unknown"
)

// maxErrorBytes bounds the stored task error, kind prefix included.
const maxErrorBytes = 300

// Classify maps a task failure onto its Kind.
func Classify(err error) Kind {
	var sv *scoring.SchemaViolationError
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, window.ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ai.ErrInferenceTimeout):
		return KindTimeout
	case errors.As(err, &sv):
		return KindSchemaViolation
	case errors.Is(err, scoring.ErrNonJSONOutput):
		return KindNonJSONOutput
	default:
		return KindUnknown
	}
}

// FormatTaskError renders "<Kind>: <detail>" with the detail sanitized and
// the whole message capped at maxErrorBytes.
func FormatTaskError(kind Kind, err error) string {
	detail := "no detail"
	if err != nil {
		if s := Sanitize(err.Error()); s != "" {
			detail = s
		}
	}
	return truncateString(fmt.Sprintf("%s: %s", kind, detail), maxErrorBytes)
}

// Sanitization regexes compiled once at package init.
var (
	reGoroutine   = regexp.MustCompile(`goroutine \d+ \[[^\]]*\]:?`)
	reStackFrame  = regexp.MustCompile(`\S+\.go:\d+(\s+\+0x[0-9a-fA-F]+)?`)
	reHexAddr     = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reParserPos   = regexp.MustCompile(`(?i)\s*\(?\b(at )?(byte )?(offset|position|pos|char(acter)?) \d+\)?`)
	reLineColumn  = regexp.MustCompile(`(?i)\s*\(?\b(at )?line \d+,? col(umn)? \d+\)?`)
	reEmptyParens = regexp.MustCompile(`\(\s*\)`)
	reWhitespace  = regexp.MustCompile(`\s+`)
)

// Sanitize reduces an error string to one line stripped of stack frames,
// goroutine headers, memory addresses and parser positions.
func Sanitize(msg string) string {
	if i := strings.Index(msg, "\ngoroutine "); i != -1 {
		msg = msg[:i]
	}
	if i := strings.IndexAny(msg, "\r\n"); i != -1 {
		msg = msg[:i]
	}
	msg = reGoroutine.ReplaceAllString(msg, "")
	msg = reStackFrame.ReplaceAllString(msg, "")
	msg = reHexAddr.ReplaceAllString(msg, "")
	msg = reLineColumn.ReplaceAllString(msg, "")
	msg = reParserPos.ReplaceAllString(msg, "")
	msg = reEmptyParens.ReplaceAllString(msg, "")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
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
