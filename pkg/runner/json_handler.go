package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/conduit/pkg/domain"
)

// Message kinds written by JSONHandler.
const (
	MessageRecord = "record"
	MessageReview = "review"
)

// Message is one line written by JSONHandler.
type Message struct {
	Type   string                `json:"type"`
	Record *domain.RunRecord     `json:"record,omitempty"`
	Review *domain.ReviewSession `json:"review,omitempty"`
}

// JSONHandler writes records and reviews as JSON lines and reads one approval
// object per line. Values are decoded loosely, so "approved": "true" is accepted.
type JSONHandler struct {
	in  *lineReader
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONHandler creates a handler reading approvals from in and writing to out.
func NewJSONHandler(in io.Reader, out io.Writer) *JSONHandler {
	return &JSONHandler{in: newLineReader(in), enc: json.NewEncoder(out)}
}

// Present writes a record message.
func (h *JSONHandler) Present(_ context.Context, rec *domain.RunRecord) error {
	return h.write(Message{Type: MessageRecord, Record: rec})
}

// Ask writes a review message and reads the next non-empty line as an approval.
func (h *JSONHandler) Ask(ctx context.Context, rs *domain.ReviewSession) (domain.Approval, error) {
	if err := h.write(Message{Type: MessageReview, Review: rs}); err != nil {
		return domain.Approval{}, err
	}
	for {
		line, err := h.in.ReadLine(ctx)
		if err != nil {
			return domain.Approval{}, err
		}
		clean, err := CleanReply(line)
		if err != nil {
			return domain.Approval{}, err
		}
		if clean == "" {
			continue
		}
		return decodeApproval([]byte(clean))
	}
}

func (h *JSONHandler) write(msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(msg)
}

func decodeApproval(data []byte) (domain.Approval, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Approval{}, fmt.Errorf("%w: %v", domain.ErrInvalidApproval, err)
	}

	var approval domain.Approval
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &approval,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return domain.Approval{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return domain.Approval{}, fmt.Errorf("%w: %v", domain.ErrInvalidApproval, err)
	}
	return approval, nil
}
