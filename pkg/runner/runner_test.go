package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
)

func reviewGraph() *graph.Graph {
	b := graph.New()
	b.Task("propose", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		task, _, err := domain.Decode[string](s, domain.FieldTask)
		if err != nil {
			return nil, err
		}
		return domain.NewPatch().Set(domain.FieldReviewQuestions, []domain.Question{
			{ID: "ship", Text: "Ship " + task + "?", Options: []string{"yes", "no"}, Recommended: "yes"},
		}), nil
	}).Reads(domain.FieldTask).Writes(domain.FieldReviewQuestions).Go("review")

	b.Barrier("review", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		return nil, nil
	}).Reads(domain.FieldReviewQuestions).Go("ship")

	b.Task("ship", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		answers, _, err := domain.Decode[map[string]string](s, domain.FieldReviewAnswers)
		if err != nil {
			return nil, err
		}
		return domain.NewPatch().Set("shipped", answers["ship"]), nil
	}).Reads(domain.FieldReviewAnswers).Writes("shipped")
	return b.MustBuild()
}

func newEngine(t *testing.T) *conduit.Engine {
	t.Helper()
	eng, err := conduit.New(conduit.WithGraph(reviewGraph()), conduit.WithLogger(logging.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func field[T any](t *testing.T, s domain.State, name string) T {
	t.Helper()
	v, ok, err := domain.Decode[T](s, name)
	require.NoError(t, err)
	require.True(t, ok, "missing field %s", name)
	return v
}

func TestRunner_AutoHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler AutoHandler
		want    domain.RunStatus
	}{
		{"approve", AutoHandler{Approve: true}, domain.StatusCompleted},
		{"reject", AutoHandler{Feedback: "not now"}, domain.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(WithHandler(tt.handler), WithLogger(logging.NewNop()))
			rec, err := r.Run(context.Background(), newEngine(t), map[string]any{domain.FieldTask: "churn"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)
			if tt.want == domain.StatusCompleted {
				assert.Equal(t, "yes", field[string](t, rec.State, "shipped"))
			}
		})
	}
}

func TestRunner_TextHandler(t *testing.T) {
	var out bytes.Buffer
	h := NewTextHandler(strings.NewReader("maybe\nno\ny\nship it later\n"), &out)

	rec, err := New(WithHandler(h), WithLogger(logging.NewNop())).
		Run(context.Background(), newEngine(t), map[string]any{domain.FieldTask: "churn"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, "no", field[string](t, rec.State, "shipped"))
	assert.Equal(t, "ship it later", field[string](t, rec.State, domain.FieldReviewFeedback))

	printed := out.String()
	assert.Contains(t, printed, "? Ship churn? [yes/no] (yes): ")
	assert.Contains(t, printed, `"maybe" is not one of yes, no`)
	assert.Contains(t, printed, "completed")
}

func TestTextHandler_EmptyAnswerKeepsRecommendation(t *testing.T) {
	var out bytes.Buffer
	h := NewTextHandler(strings.NewReader("\nyes\n"), &out)

	rs := &domain.ReviewSession{Questions: []domain.Question{{ID: "q", Text: "Go?", Options: []string{"a", "b"}, Recommended: "b"}}}
	approval, err := h.Ask(context.Background(), rs)
	require.NoError(t, err)
	assert.True(t, approval.Approved)
	assert.Empty(t, approval.Answers)
	assert.Empty(t, approval.Feedback)
	assert.Equal(t, map[string]string{"q": "b"}, rs.Resolve(approval))
}

func TestTextHandler_EndOfInput(t *testing.T) {
	h := NewTextHandler(strings.NewReader(""), io.Discard)
	_, err := h.Ask(context.Background(), &domain.ReviewSession{Questions: []domain.Question{{ID: "q", Text: "Go?"}}})
	assert.ErrorIs(t, err, io.EOF)
}

func TestTextHandler_HonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	h := NewTextHandler(pr, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.Ask(ctx, &domain.ReviewSession{Questions: []domain.Question{{ID: "q", Text: "Go?"}}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func readMessages(t *testing.T, data []byte) []Message {
	t.Helper()
	var msgs []Message
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestRunner_JSONHandler(t *testing.T) {
	var out bytes.Buffer
	in := strings.Join([]string{
		`{"approved": true, "answers": {"ship": "maybe"}}`,
		``,
		`{"approved": "true", "answers": {"ship": "no"}, "feedback": "ok"}`,
	}, "\n") + "\n"
	h := NewJSONHandler(strings.NewReader(in), &out)

	rec, err := New(WithHandler(h), WithLogger(logging.NewNop())).
		Run(context.Background(), newEngine(t), map[string]any{domain.FieldTask: "churn"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, "no", field[string](t, rec.State, "shipped"))

	msgs := readMessages(t, out.Bytes())
	require.Len(t, msgs, 3)
	assert.Equal(t, MessageReview, msgs[0].Type)
	assert.Equal(t, "review", msgs[0].Review.Node)
	assert.Equal(t, MessageReview, msgs[1].Type)
	assert.Equal(t, MessageRecord, msgs[2].Type)
	assert.Equal(t, domain.StatusCompleted, msgs[2].Record.Status)
}

func TestJSONHandler_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "approve please\n"},
		{"unknown key", `{"approved": true, "reason": "x"}` + "\n"},
		{"bad type", `{"approved": {"nested": true}}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewJSONHandler(strings.NewReader(tt.in), io.Discard)
			_, err := h.Ask(context.Background(), &domain.ReviewSession{})
			assert.ErrorIs(t, err, domain.ErrInvalidApproval)
		})
	}
}

func TestRunner_Attach(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	runID, err := eng.Start(ctx, map[string]any{domain.FieldTask: "churn"})
	require.NoError(t, err)

	rec, err := New(WithHandler(AutoHandler{Approve: true}), WithLogger(logging.NewNop())).Attach(ctx, eng, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, rec.RunID)
	assert.Equal(t, []string{"propose", "review", "ship"}, rec.History)
}
