package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/schema"
)

// SelectionInput is what the model selection agent sees.
type SelectionInput struct {
	TaskKind domain.TaskKind
	Results  []domain.AlgorithmResult
}

type selectionReply struct {
	Best string `mapstructure:"best"`
}

// ModelSelectionAgent picks the best trained model.
type ModelSelectionAgent struct{}

var _ Adapter[SelectionInput, string] = ModelSelectionAgent{}

func (ModelSelectionAgent) Name() string { return "model_selection" }

func (ModelSelectionAgent) BuildPrompt(in SelectionInput) (string, error) {
	if len(in.Results) == 0 {
		return "", fmt.Errorf("no trained models to choose from")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You pick the best model of a %s experiment.\n", in.TaskKind)
	b.WriteString("Results:\n")
	for _, r := range sortedResults(in.Results) {
		fmt.Fprintf(&b, "  - %s: cv=%.4f", r.Name, r.CrossValidationScore)
		for _, k := range sortedKeys(r.TestMetrics) {
			fmt.Fprintf(&b, " %s=%.4f", k, r.TestMetrics[k])
		}
		fmt.Fprintf(&b, " (%dms)\n", r.TrainingDurationMs)
	}
	b.WriteString("Reply with a single JSON object with the keys:\n")
	b.WriteString("  \"best\": the chosen model name,\n")
	b.WriteString("  \"confidence\": number between 0 and 1,\n")
	b.WriteString("  \"reasoning\": short explanation.\n")
	return b.String(), nil
}

func (ModelSelectionAgent) ParseResponse(text string) (Parsed[string], error) {
	var reply selectionReply
	env, err := decodePayload(text, &reply, schema.Schema{"best": schema.String()})
	if err != nil {
		return Parsed[string]{}, err
	}
	best := strings.TrimSpace(reply.Best)
	if best == "" {
		return Parsed[string]{}, fmt.Errorf("empty model name")
	}
	return Parsed[string]{Decision: best, Confidence: env.Confidence, Reasoning: env.Reasoning}, nil
}

// Check rejects models that were not trained.
func (ModelSelectionAgent) Check(in SelectionInput, best *string) error {
	for _, r := range in.Results {
		if r.Name == *best {
			return nil
		}
	}
	return fmt.Errorf("model %q was not trained", *best)
}

// DefaultDecision picks the highest cross-validation score, ties broken by name.
func (ModelSelectionAgent) DefaultDecision(in SelectionInput) (string, error) {
	if len(in.Results) == 0 {
		return "", domain.ErrNoSafeDefault
	}
	best := in.Results[0]
	for _, r := range in.Results[1:] {
		if r.CrossValidationScore > best.CrossValidationScore ||
			(r.CrossValidationScore == best.CrossValidationScore && r.Name < best.Name) {
			best = r
		}
	}
	return best.Name, nil
}

func sortedResults(rs []domain.AlgorithmResult) []domain.AlgorithmResult {
	out := append([]domain.AlgorithmResult(nil), rs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
