package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema maps required keys to their expected types.
type Schema map[string]Type

// FieldError reports one key that failed validation.
type FieldError struct {
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
}

// AggregateError holds every FieldError of one validation.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// Validate checks that every key of s is present in data with a value of the
// expected type. Keys absent from s are ignored. Failures are sorted by key.
func Validate(s Schema, data map[string]any) error {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		value, ok := data[key]
		if !ok || value == nil {
			errs = append(errs, &FieldError{Key: key, Reason: "required"})
			continue
		}
		if err := s[key].Validate(value); err != nil {
			errs = append(errs, &FieldError{Key: key, Reason: err.Error()})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
