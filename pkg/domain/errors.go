package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures for logging and propagation.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindDecisionQuality ErrorKind = "decision_quality"
	KindValidation      ErrorKind = "validation"
	KindRouting         ErrorKind = "routing"
	KindPartialFailure  ErrorKind = "partial_failure"
	KindFatal           ErrorKind = "fatal"
)

var (
	// ErrRunNotFound is returned when a run ID is unknown to the store.
	ErrRunNotFound = errors.New("run not found")

	// ErrReviewNotFound is returned when a run has no review session.
	ErrReviewNotFound = errors.New("review session not found")

	// ErrReviewClosed is returned when a decided review is submitted again.
	ErrReviewClosed = errors.New("review session already decided")

	// ErrInvalidApproval is returned when an approval payload does not match the review questions.
	ErrInvalidApproval = errors.New("invalid approval")

	// ErrRunNotAwaiting is returned when resume is requested for a run that is not paused.
	ErrRunNotAwaiting = errors.New("run is not awaiting approval")

	// ErrRunTerminal is returned when an operation requires a non-terminal run.
	ErrRunTerminal = errors.New("run already reached a terminal status")

	// ErrNoSafeDefault is returned by agents that cannot produce a fallback decision.
	ErrNoSafeDefault = errors.New("no safe default decision")
)

// MissingStateFieldError is raised before a node runs without a required input.
type MissingStateFieldError struct {
	Node  string
	Field string
}

func (e *MissingStateFieldError) Error() string {
	return fmt.Sprintf("node %q requires state field %q which is missing", e.Node, e.Field)
}

// OwnershipError is raised when a node writes a field it did not declare.
type OwnershipError struct {
	Node   string
	Fields []string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("node %q wrote undeclared fields: %s", e.Node, strings.Join(e.Fields, ", "))
}

// DecodeError is raised when a State field does not hold the expected type,
// typically malformed caller input.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RoutingError is raised when no conditional edge matches.
type RoutingError struct {
	Node string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no matching route out of node %q", e.Node)
}

// AgentFailureError is raised when an agent with no safe default exhausts its attempts.
// Callers surface it to the user; it never crashes the host.
type AgentFailureError struct {
	Agent    string
	Attempts int
	Cause    error
}

func (e *AgentFailureError) Error() string {
	return fmt.Sprintf("agent %q failed after %d attempts: %v", e.Agent, e.Attempts, e.Cause)
}

func (e *AgentFailureError) Unwrap() error { return e.Cause }

// CheckpointNotFoundError is returned by resume when no checkpoint exists.
type CheckpointNotFoundError struct {
	RunID string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("no checkpoint for run %q", e.RunID)
}

// AlreadyResumedError is returned by resume when the checkpoint was consumed.
type AlreadyResumedError struct {
	RunID string
}

func (e *AlreadyResumedError) Error() string {
	return fmt.Sprintf("run %q was already resumed", e.RunID)
}

// BranchError records one failed branch of a parallel region.
type BranchError struct {
	Branch string
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("branch %q: %v", e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// BranchFailuresError is raised at the join when every branch failed.
type BranchFailuresError struct {
	Node     string
	Failures []*BranchError
}

func (e *BranchFailuresError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all %d branches of %q failed: %s", len(e.Failures), e.Node, strings.Join(parts, "; "))
}

// CheckpointWriteError wraps a failed barrier write. It is the only node-level
// failure that propagates to the caller of start/resume.
type CheckpointWriteError struct {
	RunID string
	Node  string
	Err   error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint for run %q at node %q not persisted: %v", e.RunID, e.Node, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error { return e.Err }

// DecisionWriteError is returned when a review decision was not stored after
// its checkpoint had been consumed. The run can no longer be resumed.
type DecisionWriteError struct {
	RunID string
	Node  string
	Err   error
}

func (e *DecisionWriteError) Error() string {
	return fmt.Sprintf("decision for run %q at node %q not persisted: %v", e.RunID, e.Node, e.Err)
}

func (e *DecisionWriteError) Unwrap() error { return e.Err }

// KindOf maps an error to its taxonomy class.
func KindOf(err error) ErrorKind {
	var (
		missing   *MissingStateFieldError
		ownership *OwnershipError
		decode    *DecodeError
		routing   *RoutingError
		branches  *BranchFailuresError
		agent     *AgentFailureError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing), errors.As(err, &ownership), errors.As(err, &decode), errors.Is(err, ErrInvalidApproval):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.As(err, &routing):
		return KindRouting
	case errors.As(err, &branches):
		return KindPartialFailure
	case errors.As(err, &agent):
		return KindDecisionQuality
	default:
		return KindFatal
	}
}
