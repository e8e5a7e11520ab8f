// Package scoring turns a window of conversations into a validated score:
// it builds the prompt, calls the model, extracts and validates the JSON
// object and performs at most one repair call.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

const systemPrompt = `You are a quality analyst for customer support agents. ` +
	`You read a window of an agent's recent conversations and rate the agent. ` +
	`You answer with exactly one JSON object and nothing else.`

const scoreInstruction = `Return a single JSON object with exactly these keys:
  "complianceRisk": number 0-100 (higher means more risk),
  "sentimentScore": number 0-100,
  "resolutionQuality": number 0-100,
  "overallScore": number 0-100,
  "confidence": number 0-100,
  "strengths": array of short strings,
  "weaknesses": array of short strings,
  "patterns": array of short strings.
Do not wrap the object in markdown. Do not add commentary.`

const repairInstruction = `Your previous answer could not be parsed as the required JSON object.
Rewrite it as a single valid JSON object with exactly these keys: %s.
Numbers must be JSON numbers, lists must be arrays of strings.
Output only the JSON object, nothing else.

Previous answer:
%s`

// maxRepairEcho bounds how much of a bad answer is sent back to the model.
const maxRepairEcho = 8000

// Client wraps one call to the text-generation provider with a fixed prompt
// template and output budget.
type Client struct {
	provider  models.AIProvider
	maxTokens int
}

func NewClient(provider models.AIProvider, maxTokens int) *Client {
	return &Client{provider: provider, maxTokens: maxTokens}
}

// Provider returns the provider requests are sent to.
func (c *Client) Provider() models.AIProvider { return c.provider }

// BuildPrompt embeds the entity, window size and serialized items in the
// scoring instruction.
func BuildPrompt(entityID uuid.UUID, windowSize int, items []window.Item) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("serialize window: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Agent: %s\n", entityID)
	fmt.Fprintf(&sb, "Window size: %d (conversations provided: %d)\n\n", windowSize, len(items))
	sb.WriteString("Conversations, newest first:\n")
	sb.Write(payload)
	sb.WriteString("\n\n")
	sb.WriteString(scoreInstruction)
	return sb.String(), nil
}

// BuildRepairPrompt asks the model to correct its previous answer.
func BuildRepairPrompt(previous string) string {
	return fmt.Sprintf(repairInstruction, strings.Join(RequiredKeys, ", "), truncateString(previous, maxRepairEcho))
}

// Score builds the prompt for one entity and returns the raw model output.
// Transport errors are returned unchanged.
func (c *Client) Score(ctx context.Context, entityID uuid.UUID, windowSize int, items []window.Item) (string, error) {
	prompt, err := BuildPrompt(entityID, windowSize, items)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	return c.provider.Complete(ctx, models.CompletionRequest{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: c.maxTokens,
	})
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
