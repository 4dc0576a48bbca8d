package runner

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/aretw0/conduit/pkg/domain"
)

// Handler presents runs and collects the decision on a paused one.
type Handler interface {
	// Present shows the record of a run that stopped executing.
	Present(ctx context.Context, rec *domain.RunRecord) error

	// Ask shows the review questions and returns the human decision.
	Ask(ctx context.Context, rs *domain.ReviewSession) (domain.Approval, error)
}

// AutoHandler answers every review without a human.
// Questions are left unanswered so they take their recommended option.
type AutoHandler struct {
	Approve  bool
	Feedback string
}

// Present does nothing.
func (AutoHandler) Present(context.Context, *domain.RunRecord) error { return nil }

// Ask returns the configured decision.
func (h AutoHandler) Ask(context.Context, *domain.ReviewSession) (domain.Approval, error) {
	return domain.Approval{Approved: h.Approve, Feedback: h.Feedback}, nil
}

type lineResult struct {
	line string
	err  error
}

// lineReader reads lines on a background goroutine so a blocked read does not
// prevent the caller from honouring ctx cancellation.
type lineReader struct {
	once  sync.Once
	src   *bufio.Reader
	lines chan lineResult
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{src: bufio.NewReader(r), lines: make(chan lineResult)}
}

func (l *lineReader) start() {
	go func() {
		for {
			line, err := l.src.ReadString('\n')
			if line != "" || err == nil {
				l.lines <- lineResult{line: line}
			}
			if err != nil {
				l.lines <- lineResult{err: err}
				return
			}
		}
	}()
}

// ReadLine returns the next line including its terminator.
// Reads after the source is exhausted return io.EOF.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	l.once.Do(l.start)
	select {
	case res, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			close(l.lines)
			return "", res.err
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
