package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/domain"
)

// TextHandler asks review questions one line at a time.
// An empty answer keeps the recommended option.
type TextHandler struct {
	in     *lineReader
	out    io.Writer
	render tui.Renderer
}

// TextOption configures a TextHandler.
type TextOption func(*TextHandler)

// WithRenderer sets how markdown is turned into terminal output.
func WithRenderer(r tui.Renderer) TextOption {
	return func(h *TextHandler) {
		h.render = r
	}
}

// NewTextHandler creates a handler reading answers from in and writing to out.
func NewTextHandler(in io.Reader, out io.Writer, opts ...TextOption) *TextHandler {
	h := &TextHandler{
		in:     newLineReader(in),
		out:    out,
		render: tui.Plain,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Present prints the run summary.
func (h *TextHandler) Present(_ context.Context, rec *domain.RunRecord) error {
	return h.print(tui.RunMarkdown(rec))
}

// Ask prints the review and prompts for each question, the approval and feedback.
func (h *TextHandler) Ask(ctx context.Context, rs *domain.ReviewSession) (domain.Approval, error) {
	if err := h.print(tui.ReviewMarkdown(rs)); err != nil {
		return domain.Approval{}, err
	}

	approval := domain.Approval{Answers: make(map[string]string)}
	for _, q := range rs.Questions {
		answer, err := h.askQuestion(ctx, q)
		if err != nil {
			return domain.Approval{}, err
		}
		if answer != "" {
			approval.Answers[q.ID] = answer
		}
	}

	approved, err := h.confirm(ctx, "Approve the plan? [y/N]: ")
	if err != nil {
		return domain.Approval{}, err
	}
	approval.Approved = approved

	feedback, err := h.prompt(ctx, "Feedback (optional): ")
	if err != nil && !errors.Is(err, io.EOF) {
		return domain.Approval{}, err
	}
	approval.Feedback = feedback
	return approval, nil
}

func (h *TextHandler) askQuestion(ctx context.Context, q domain.Question) (string, error) {
	label := q.Text
	if len(q.Options) > 0 {
		label += " [" + strings.Join(q.Options, "/") + "]"
	}
	if q.Recommended != "" {
		label += " (" + q.Recommended + ")"
	}
	for {
		answer, err := h.prompt(ctx, "? "+label+": ")
		if err != nil {
			return "", err
		}
		if answer == "" || len(q.Options) == 0 || slices.Contains(q.Options, answer) {
			return answer, nil
		}
		fmt.Fprintf(h.out, "  %q is not one of %s\n", answer, strings.Join(q.Options, ", "))
	}
}

func (h *TextHandler) confirm(ctx context.Context, label string) (bool, error) {
	answer, err := h.prompt(ctx, label)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (h *TextHandler) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(h.out, label)
	line, err := h.in.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return CleanReply(line)
}

func (h *TextHandler) print(markdown string) error {
	out, err := h.render(markdown)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_, err = fmt.Fprintln(h.out, out)
	return err
}
