package agent

import (
	"fmt"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/schema"
)

// AlgorithmInput is what the algorithm agent sees.
type AlgorithmInput struct {
	Config        domain.PipelineConfig
	Preprocessing domain.Preprocessing
	Profile       *domain.DatasetProfile
}

type algorithmReply struct {
	Algorithms []string `mapstructure:"algorithms"`
}

// AlgorithmAgent selects which catalogue algorithms to train.
type AlgorithmAgent struct{}

var _ Adapter[AlgorithmInput, []string] = AlgorithmAgent{}

func (AlgorithmAgent) Name() string { return "algorithm" }

func (AlgorithmAgent) BuildPrompt(in AlgorithmInput) (string, error) {
	available := Catalogue(in.Config.TaskKind)
	if len(available) == 0 {
		return "", fmt.Errorf("no algorithms for task kind %q", in.Config.TaskKind)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You select algorithms for a %s problem predicting %q.\n", in.Config.TaskKind, in.Config.Target)
	writeProfile(&b, in.Profile)
	fmt.Fprintf(&b, "Preprocessing: missing=%s scaling=%s encoding=%s\n",
		in.Preprocessing.MissingValues, in.Preprocessing.Scaling, in.Preprocessing.Encoding)
	b.WriteString("Available algorithms:\n")
	for _, a := range available {
		fmt.Fprintf(&b, "  - %s\n", a.Name)
	}
	b.WriteString("Reply with a single JSON object with the keys:\n")
	b.WriteString("  \"algorithms\": list of 1 to 5 names from the list above,\n")
	b.WriteString("  \"confidence\": number between 0 and 1,\n")
	b.WriteString("  \"reasoning\": short explanation.\n")
	return b.String(), nil
}

func (AlgorithmAgent) ParseResponse(text string) (Parsed[[]string], error) {
	var reply algorithmReply
	env, err := decodePayload(text, &reply, schema.Schema{"algorithms": schema.Slice(schema.String())})
	if err != nil {
		return Parsed[[]string]{}, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, n := range reply.Algorithms {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	if len(names) == 0 {
		return Parsed[[]string]{}, fmt.Errorf("no algorithms selected")
	}
	return Parsed[[]string]{Decision: names, Confidence: env.Confidence, Reasoning: env.Reasoning}, nil
}

// Check rejects algorithms outside the catalogue of the task kind.
func (AlgorithmAgent) Check(in AlgorithmInput, names *[]string) error {
	for _, n := range *names {
		a, ok := Lookup(n)
		if !ok || a.TaskKind != in.Config.TaskKind {
			return fmt.Errorf("algorithm %q is not available for %s", n, in.Config.TaskKind)
		}
	}
	return nil
}

func (AlgorithmAgent) DefaultDecision(in AlgorithmInput) ([]string, error) {
	names := Baseline(in.Config.TaskKind)
	if len(names) == 0 {
		return nil, domain.ErrNoSafeDefault
	}
	return names, nil
}
