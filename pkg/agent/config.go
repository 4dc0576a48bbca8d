package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/schema"
)

// Default split ratios.
const (
	DefaultTestSize       = 0.2
	DefaultValidationSize = 0.1
)

// ConfigInput is what the configuration agent sees.
type ConfigInput struct {
	Task    string
	Profile *domain.DatasetProfile
}

// ConfigAgent extracts the pipeline configuration from the task description.
// It has no safe default when no target column can be inferred.
type ConfigAgent struct{}

var _ Adapter[ConfigInput, domain.PipelineConfig] = ConfigAgent{}

func (ConfigAgent) Name() string { return "config" }

func (ConfigAgent) BuildPrompt(in ConfigInput) (string, error) {
	if strings.TrimSpace(in.Task) == "" {
		return "", fmt.Errorf("empty task description")
	}
	var b strings.Builder
	b.WriteString("You configure a supervised machine learning pipeline.\n")
	fmt.Fprintf(&b, "Task: %s\n", in.Task)
	writeProfile(&b, in.Profile)
	b.WriteString("Reply with a single JSON object with the keys:\n")
	b.WriteString(`  "target": name of the column to predict,` + "\n")
	b.WriteString(`  "task_kind": "classification" or "regression",` + "\n")
	b.WriteString(`  "test_size": fraction of rows held out for testing (0-0.5),` + "\n")
	b.WriteString(`  "validation_size": fraction of rows for validation (0-0.5),` + "\n")
	b.WriteString(`  "confidence": number between 0 and 1,` + "\n")
	b.WriteString(`  "reasoning": short explanation.` + "\n")
	return b.String(), nil
}

func (ConfigAgent) ParseResponse(text string) (Parsed[domain.PipelineConfig], error) {
	var cfg domain.PipelineConfig
	env, err := decodePayload(text, &cfg, schema.Schema{"target": schema.String()})
	if err != nil {
		return Parsed[domain.PipelineConfig]{}, err
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		return Parsed[domain.PipelineConfig]{}, fmt.Errorf("empty target")
	}
	if cfg.TaskKind != "" {
		if err := oneOf("task_kind", string(cfg.TaskKind), string(domain.TaskClassification), string(domain.TaskRegression)); err != nil {
			return Parsed[domain.PipelineConfig]{}, err
		}
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = DefaultTestSize
	}
	if cfg.ValidationSize == 0 {
		cfg.ValidationSize = DefaultValidationSize
	}
	if cfg.TestSize <= 0 || cfg.TestSize > 0.5 || cfg.ValidationSize < 0 || cfg.ValidationSize > 0.5 {
		return Parsed[domain.PipelineConfig]{}, fmt.Errorf("split ratios out of range: test %v, validation %v", cfg.TestSize, cfg.ValidationSize)
	}
	return Parsed[domain.PipelineConfig]{Decision: cfg, Confidence: env.Confidence, Reasoning: env.Reasoning}, nil
}

// Check rejects targets missing from the dataset and infers an omitted task kind.
func (ConfigAgent) Check(in ConfigInput, cfg *domain.PipelineConfig) error {
	if in.Profile != nil && len(in.Profile.Columns) > 0 && !in.Profile.HasColumn(cfg.Target) {
		return fmt.Errorf("target %q is not a dataset column", cfg.Target)
	}
	if cfg.TaskKind == "" {
		cfg.TaskKind = InferTaskKind(in.Task, in.Profile, cfg.Target)
	}
	return nil
}

func (ConfigAgent) DefaultDecision(in ConfigInput) (domain.PipelineConfig, error) {
	target, ok := InferTarget(in.Task, in.Profile)
	if !ok {
		return domain.PipelineConfig{}, domain.ErrNoSafeDefault
	}
	return domain.PipelineConfig{
		Target:         target,
		TaskKind:       InferTaskKind(in.Task, in.Profile, target),
		TestSize:       DefaultTestSize,
		ValidationSize: DefaultValidationSize,
	}, nil
}

var quoted = regexp.MustCompile("['\"`]([^'\"`]+)['\"`]")

// InferTarget returns the first quoted name in the task that is a dataset
// column, or the first quoted name when the profile lists no columns.
func InferTarget(task string, profile *domain.DatasetProfile) (string, bool) {
	for _, m := range quoted.FindAllStringSubmatch(task, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		if profile == nil || len(profile.Columns) == 0 || profile.HasColumn(name) {
			return name, true
		}
	}
	return "", false
}

var classificationHints = []string{"classif", "categor", "whether", "churn", "fraud", "spam", "label", "detect", "yes/no", "binary"}

// InferTaskKind guesses the task kind from the target column type, then from
// keywords in the task. It defaults to regression.
func InferTaskKind(task string, profile *domain.DatasetProfile, target string) domain.TaskKind {
	if profile != nil {
		switch strings.ToLower(profile.Types[target]) {
		case "string", "object", "bool", "boolean", "category":
			return domain.TaskClassification
		}
	}
	lower := strings.ToLower(task)
	for _, h := range classificationHints {
		if strings.Contains(lower, h) {
			return domain.TaskClassification
		}
	}
	return domain.TaskRegression
}

func writeProfile(b *strings.Builder, p *domain.DatasetProfile) {
	if p == nil {
		b.WriteString("Dataset: not profiled.\n")
		return
	}
	fmt.Fprintf(b, "Dataset: %d rows, %d columns.\n", p.Rows, len(p.Columns))
	for _, c := range p.Columns {
		fmt.Fprintf(b, "  - %s", c)
		if t, ok := p.Types[c]; ok {
			fmt.Fprintf(b, " (%s)", t)
		}
		if n := p.Missing[c]; n > 0 {
			fmt.Fprintf(b, ", %d missing", n)
		}
		b.WriteString("\n")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
