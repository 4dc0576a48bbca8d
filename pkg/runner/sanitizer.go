package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Environment overrides for Limits.
const (
	EnvMaxTaskLength = "CONDUIT_MAX_TASK_LENGTH"
	EnvMaxReplySize  = "CONDUIT_MAX_REPLY_SIZE"
)

var (
	ErrEmptyTask   = errors.New("a task description is required")
	ErrTaskTooLong = errors.New("task description too long")
	ErrReplyTooBig = errors.New("reply exceeds maximum size")
	ErrInvalidUTF8 = errors.New("input contains invalid UTF-8 sequences")
)

// Limits bounds the text a person feeds into a run. The task description is
// quoted into every agent prompt; replies carry review answers and feedback.
type Limits struct {
	// MaxTaskLength counts characters, not bytes.
	MaxTaskLength int
	// MaxReplySize counts bytes of one input line.
	MaxReplySize int
}

// DefaultLimits allows a paragraph-sized task and a 16KB reply line.
func DefaultLimits() Limits {
	return Limits{MaxTaskLength: 2000, MaxReplySize: 16 << 10}
}

// LimitsFromEnv returns DefaultLimits with any valid environment overrides applied.
func LimitsFromEnv() Limits {
	l := DefaultLimits()
	l.MaxTaskLength = envInt(EnvMaxTaskLength, l.MaxTaskLength)
	l.MaxReplySize = envInt(EnvMaxReplySize, l.MaxReplySize)
	return l
}

// Task normalizes a task description to a single line: control characters
// are dropped and whitespace runs collapse to one space. Oversized
// descriptions are rejected rather than cut, since a truncated task would
// change what the agents are asked to do.
func (l Limits) Task(task string) (string, error) {
	if !utf8.ValidString(task) {
		return "", ErrInvalidUTF8
	}
	clean := strings.Join(strings.Fields(stripControl(task)), " ")
	if clean == "" {
		return "", ErrEmptyTask
	}
	if n := utf8.RuneCountInString(clean); n > l.MaxTaskLength {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrTaskTooLong, n, l.MaxTaskLength)
	}
	return clean, nil
}

// Reply cleans one line typed by a reviewer. The size is checked on the raw
// line; the cleaned line has no control characters or surrounding space.
func (l Limits) Reply(line string) (string, error) {
	if len(line) > l.MaxReplySize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrReplyTooBig, len(line), l.MaxReplySize)
	}
	if !utf8.ValidString(line) {
		return "", ErrInvalidUTF8
	}
	return strings.TrimSpace(stripControl(line)), nil
}

// CleanTask applies LimitsFromEnv().Task.
func CleanTask(task string) (string, error) {
	return LimitsFromEnv().Task(task)
}

// CleanReply applies LimitsFromEnv().Reply.
func CleanReply(line string) (string, error) {
	return LimitsFromEnv().Reply(line)
}

// stripControl drops ANSI escapes, NUL, BEL and similar; \n and \r become
// spaces so they can be trimmed or collapsed by the caller.
func stripControl(s string) string {
	if !strings.ContainsFunc(s, unicode.IsControl) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\t', r == '\n', r == '\r':
			b.WriteRune(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
