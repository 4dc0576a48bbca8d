package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits_Task(t *testing.T) {
	l := Limits{MaxTaskLength: 10, MaxReplySize: 64}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "churn", "churn", nil},
		{"collapses whitespace", "  predict\n\tprice  ", "predict price", nil},
		{"ANSI escape dropped", "\x1b[31mrisk\x1b[0m", "[31mrisk[0m", nil},
		{"null byte dropped", "pri\x00ce", "price", nil},
		{"exact limit", strings.Repeat("a", 10), strings.Repeat("a", 10), nil},
		{"limit counts characters", strings.Repeat("é", 10), strings.Repeat("é", 10), nil},
		{"over limit", strings.Repeat("a", 11), "", ErrTaskTooLong},
		{"blank", " \n\t\x07 ", "", ErrEmptyTask},
		{"invalid utf8", "\xbd\xb2=", "", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Task(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimits_Reply(t *testing.T) {
	l := Limits{MaxTaskLength: 10, MaxReplySize: 8}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"line terminator trimmed", "yes\r\n", "yes", nil},
		{"bell dropped", "ok\x07", "ok", nil},
		{"size checked before cleaning", "12345678\n", "", ErrReplyTooBig},
		{"exact size", "1234567\n", "1234567", nil},
		{"invalid utf8", "\xbd\n", "", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Reply(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimitsFromEnv(t *testing.T) {
	assert.Equal(t, DefaultLimits(), LimitsFromEnv())

	t.Setenv(EnvMaxTaskLength, "5")
	t.Setenv(EnvMaxReplySize, "not-a-number")
	l := LimitsFromEnv()
	assert.Equal(t, 5, l.MaxTaskLength)
	assert.Equal(t, DefaultLimits().MaxReplySize, l.MaxReplySize)

	_, err := CleanTask("predict price")
	assert.ErrorIs(t, err, ErrTaskTooLong)
	_, err = CleanTask("churn")
	assert.NoError(t, err)
}
