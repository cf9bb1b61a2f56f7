package referral

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("referral not found")
	// ErrVersionConflict means the referral changed since it was read.
	ErrVersionConflict = errors.New("referral was modified concurrently")
	// ErrResourceNotFound means the referred-to resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// InvalidTransitionError reports a status change the state graph forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("referral is %s and cannot change to %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists field-level input problems.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "invalid referral input: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Message: msg})
}

func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
