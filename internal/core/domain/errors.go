package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Error classes. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrEngineUnavailable = errors.New("forecast engine unavailable")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCancelled         = errors.New("cancelled")
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrAlreadyTerminal   = errors.New("job already terminal")
	ErrPoolClosed        = errors.New("pool closed")
	ErrQueueFull         = errors.New("task queue full")
	ErrQueueClosed       = errors.New("task queue closed")
)

var (
	ErrJobNotFound = errors.Mark(errors.New("job not found"), ErrNotFound)
)

type FieldProblem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+" "+p.Reason)
	}
	return "invalid forecast request: " + strings.Join(parts, "; ")
}

func NewValidationError(problems ...FieldProblem) error {
	var err error = &ValidationError{Problems: problems}
	for _, p := range problems {
		err = errors.WithDetailf(err, "field: %s", p.Field)
	}
	return errors.Mark(err, ErrValidation)
}

// NewNotFoundError reports a missing entity of the given kind.
func NewNotFoundError(kind string, id any) error {
	return errors.Mark(errors.Newf("%s not found: %v", kind, id), ErrNotFound)
}

const maxErrorMessageLen = 500

// SafeMessage renders err for storage in a job row: the first line of the
// message, bounded in length, with no stack or detail payload.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = Truncate(msg, maxErrorMessageLen)
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return msg
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
