package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/schema"
)

// Question IDs of the default review.
const (
	QuestionTarget     = "target"
	QuestionAlgorithms = "algorithms"
	QuestionTestSize   = "test_size"
	QuestionProceed    = "proceed"
)

// Answers to the algorithms question.
const (
	AnswerProposed = "proposed"
	AnswerBaseline = "baseline"
)

// ReviewInput is what the review agent sees.
type ReviewInput struct {
	Config        domain.PipelineConfig
	Preprocessing domain.Preprocessing
	Algorithms    []string
}

type reviewReply struct {
	Questions []domain.Question `mapstructure:"questions"`
}

// ReviewAgent drafts the questions a human answers before training.
type ReviewAgent struct{}

var _ Adapter[ReviewInput, []domain.Question] = ReviewAgent{}

func (ReviewAgent) Name() string { return "review" }

func (ReviewAgent) BuildPrompt(in ReviewInput) (string, error) {
	var b strings.Builder
	b.WriteString("You prepare a short review of a training plan for a human approver.\n")
	fmt.Fprintf(&b, "Target: %s (%s), test size %s, validation size %s\n",
		in.Config.Target, in.Config.TaskKind, formatRatio(in.Config.TestSize), formatRatio(in.Config.ValidationSize))
	fmt.Fprintf(&b, "Preprocessing: missing=%s scaling=%s encoding=%s\n",
		in.Preprocessing.MissingValues, in.Preprocessing.Scaling, in.Preprocessing.Encoding)
	fmt.Fprintf(&b, "Algorithms: %s\n", strings.Join(in.Algorithms, ", "))
	b.WriteString("Reply with a single JSON object with the keys:\n")
	b.WriteString("  \"questions\": ordered list of {\"id\", \"text\", \"options\", \"recommended\"},\n")
	b.WriteString("  \"confidence\": number between 0 and 1,\n")
	b.WriteString("  \"reasoning\": short explanation.\n")
	return b.String(), nil
}

func (ReviewAgent) ParseResponse(text string) (Parsed[[]domain.Question], error) {
	var reply reviewReply
	env, err := decodePayload(text, &reply, schema.Schema{"questions": schema.Slice(schema.Object())})
	if err != nil {
		return Parsed[[]domain.Question]{}, err
	}
	if err := validateQuestions(reply.Questions); err != nil {
		return Parsed[[]domain.Question]{}, err
	}
	return Parsed[[]domain.Question]{Decision: reply.Questions, Confidence: env.Confidence, Reasoning: env.Reasoning}, nil
}

func validateQuestions(qs []domain.Question) error {
	if len(qs) == 0 {
		return fmt.Errorf("no questions")
	}
	ids := make(map[string]bool, len(qs))
	for _, q := range qs {
		if q.ID == "" || strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question needs an id and a text")
		}
		if ids[q.ID] {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		ids[q.ID] = true
		if q.Recommended != "" && len(q.Options) > 0 {
			if err := oneOf("recommended answer of "+q.ID, q.Recommended, q.Options...); err != nil {
				return err
			}
		}
	}
	return nil
}

// DefaultDecision returns the four fixed questions: target, algorithms, test split, proceed.
func (ReviewAgent) DefaultDecision(in ReviewInput) ([]domain.Question, error) {
	testSize := formatRatio(in.Config.TestSize)
	splits := []string{"0.1", "0.2", "0.3"}
	if !contains(splits, testSize) {
		splits = append(splits, testSize)
	}
	return []domain.Question{
		{
			ID:          QuestionTarget,
			Text:        fmt.Sprintf("Is %q the correct target column for a %s model?", in.Config.Target, in.Config.TaskKind),
			Options:     []string{"yes", "no"},
			Recommended: "yes",
		},
		{
			ID:          QuestionAlgorithms,
			Text:        fmt.Sprintf("Train the proposed algorithms (%s) or only the baseline set?", strings.Join(in.Algorithms, ", ")),
			Options:     []string{AnswerProposed, AnswerBaseline},
			Recommended: AnswerProposed,
		},
		{
			ID:          QuestionTestSize,
			Text:        "Which fraction of the rows should be held out for testing?",
			Options:     splits,
			Recommended: testSize,
		},
		{
			ID:          QuestionProceed,
			Text:        "Proceed with training?",
			Options:     []string{"yes", "no"},
			Recommended: "yes",
		},
	}, nil
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
