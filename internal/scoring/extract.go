package scoring

import (
	"errors"
	"strings"
)

// ErrNonJSONOutput is returned when model output holds no JSON object.
var ErrNonJSONOutput = errors.New("model output is not a JSON object")

const fence = "```"

// ExtractJSONObject strips one surrounding fenced code block, if any, and
// returns the text from the first '{' through the last '}' inclusive.
func ExtractJSONObject(raw string) (string, error) {
	text := stripFence(strings.TrimSpace(raw))

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNonJSONOutput
	}
	return text[start : end+1], nil
}

// stripFence returns the body of a leading fenced block: the text after the
// opening ``` line (with optional language tag) up to the closing fence.
// Anything after the closing fence is dropped. Text without a leading fence
// is returned unchanged.
func stripFence(text string) string {
	if !strings.HasPrefix(text, fence) {
		return text
	}
	text = strings.TrimPrefix(text, fence)
	if nl := strings.IndexByte(text, '\n'); nl != -1 {
		// Drop the info string ("json", "JSON", ...) on the opening line.
		if !strings.Contains(text[:nl], "{") {
			text = text[nl+1:]
		}
	}
	if end := strings.Index(text, fence); end != -1 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}
