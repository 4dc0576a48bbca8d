package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
)

// Mask replaces a sensitive value.
const Mask = "***"

type piiMiddleware struct {
	ports.Store
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of keys matching
// the patterns in run records (input and State fields, nested objects included).
// Checkpoints keep the real values so a paused run resumes intact; combine with
// NewEncryptionMiddleware to protect them.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.Store) ports.Store {
		return &piiMiddleware{Store: next, patterns: patterns}
	}
}

func (m *piiMiddleware) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	// Deep Clone to avoid side effects on the in-memory record used by the Engine.
	cloned := *rec
	cloned.Input = deepCopyMap(rec.Input)
	maskMap(cloned.Input, m.patterns)

	state, err := m.maskState(rec.State)
	if err != nil {
		return err
	}
	cloned.State = state

	return m.Store.SaveRun(ctx, &cloned)
}

func (m *piiMiddleware) maskState(s domain.State) (domain.State, error) {
	masked := make(map[string]any)
	for _, k := range s.Keys() {
		if m.matches(k) {
			masked[k] = Mask
			continue
		}
		raw, _ := s.Get(k)
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return domain.State{}, fmt.Errorf("field %q: %w", k, err)
		}
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if maskMap(sub, m.patterns) {
			masked[k] = sub
		}
	}
	if len(masked) == 0 {
		return s, nil
	}
	return s.With(masked)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

// maskMap masks in place and reports whether anything changed.
func maskMap(m map[string]any, patterns []*regexp.Regexp) bool {
	changed := false
	for k, v := range m {
		matched := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				matched = true
				changed = true
				break
			}
		}
		if matched {
			continue
		}

		if subMap, ok := v.(map[string]any); ok && maskMap(subMap, patterns) {
			changed = true
		}
	}
	return changed
}
