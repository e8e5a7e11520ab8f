package scoring

import "context"

// Outcome reports how a score was obtained. Calls counts model invocations
// and is set on failure as well.
type Outcome struct {
	Score      ValidatedScore
	UsedRepair bool
	Calls      int
}

// Parse runs extraction and validation over raw model output.
func Parse(raw string) (ValidatedScore, error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return ValidatedScore{}, err
	}
	return Validate(obj)
}

// ScoreWithRepair sends prompt and parses the answer. If the answer cannot be
// parsed, exactly one repair call is made with the first answer embedded, and
// its failure is returned as is. An error from the first call itself is
// returned without repair since there is no output to correct.
func (c *Client) ScoreWithRepair(ctx context.Context, prompt string) (Outcome, error) {
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return Outcome{Calls: 1}, err
	}

	score, err := Parse(raw)
	if err == nil {
		return Outcome{Score: score, Calls: 1}, nil
	}

	repaired, err := c.complete(ctx, BuildRepairPrompt(raw))
	if err != nil {
		return Outcome{UsedRepair: true, Calls: 2}, err
	}

	score, err = Parse(repaired)
	if err != nil {
		return Outcome{UsedRepair: true, Calls: 2}, err
	}
	return Outcome{Score: score, UsedRepair: true, Calls: 2}, nil
}
