package agent

import (
	"fmt"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/schema"
)

var (
	missingStrategies = []string{"median", "mean", "most_frequent", "drop"}
	scalers           = []string{"standard", "minmax", "robust", "none"}
	encoders          = []string{"onehot", "ordinal", "target", "none"}
)

// PreprocessingInput is what the preprocessing agent sees.
type PreprocessingInput struct {
	Config  domain.PipelineConfig
	Profile *domain.DatasetProfile
}

// PreprocessingAgent picks the data preparation strategy.
type PreprocessingAgent struct{}

var _ Adapter[PreprocessingInput, domain.Preprocessing] = PreprocessingAgent{}

func (PreprocessingAgent) Name() string { return "preprocessing" }

func (PreprocessingAgent) BuildPrompt(in PreprocessingInput) (string, error) {
	var b strings.Builder
	b.WriteString("You choose the preprocessing of a tabular dataset.\n")
	fmt.Fprintf(&b, "Target: %s (%s)\n", in.Config.Target, in.Config.TaskKind)
	writeProfile(&b, in.Profile)
	b.WriteString("Reply with a single JSON object with the keys:\n")
	fmt.Fprintf(&b, "  \"missing_values\": one of %s,\n", strings.Join(missingStrategies, ", "))
	fmt.Fprintf(&b, "  \"scaling\": one of %s,\n", strings.Join(scalers, ", "))
	fmt.Fprintf(&b, "  \"encoding\": one of %s,\n", strings.Join(encoders, ", "))
	b.WriteString("  \"confidence\": number between 0 and 1,\n")
	b.WriteString("  \"reasoning\": short explanation.\n")
	return b.String(), nil
}

func (PreprocessingAgent) ParseResponse(text string) (Parsed[domain.Preprocessing], error) {
	var p domain.Preprocessing
	env, err := decodePayload(text, &p, schema.Schema{
		"missing_values": schema.String(),
		"scaling":        schema.String(),
		"encoding":       schema.String(),
	})
	if err != nil {
		return Parsed[domain.Preprocessing]{}, err
	}
	if err := oneOf("missing_values", p.MissingValues, missingStrategies...); err != nil {
		return Parsed[domain.Preprocessing]{}, err
	}
	if err := oneOf("scaling", p.Scaling, scalers...); err != nil {
		return Parsed[domain.Preprocessing]{}, err
	}
	if err := oneOf("encoding", p.Encoding, encoders...); err != nil {
		return Parsed[domain.Preprocessing]{}, err
	}
	return Parsed[domain.Preprocessing]{Decision: p, Confidence: env.Confidence, Reasoning: env.Reasoning}, nil
}

func (PreprocessingAgent) DefaultDecision(PreprocessingInput) (domain.Preprocessing, error) {
	return domain.Preprocessing{MissingValues: "median", Scaling: "standard", Encoding: "onehot"}, nil
}
