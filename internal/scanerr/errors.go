// Package scanerr defines the error taxonomy shared by the OCR and
// extraction stages.
package scanerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrBackend              = errors.New("backend failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrBudgetExceeded       = errors.New("budget exceeded")
	ErrAllBackendsExhausted = errors.New("all backends exhausted")
)

// ValidationError reports malformed, empty or unreadable input. It is never retried.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Reason, e.Err)
	}
	return "invalid input: " + e.Reason
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Validation builds a ValidationError with a formatted reason.
func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// BackendError reports that a specific backend is unreachable, errored or
// returned output that could not be used. Recoverable errors are retried.
type BackendError struct {
	Backend     string
	Recoverable bool
	Attempts    int
	Err         error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s", e.Backend)
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *BackendError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBackend, e.Err}
	}
	return []error{ErrBackend}
}

// Recoverable wraps err as a retryable BackendError.
func Recoverable(backend string, err error) error {
	return &BackendError{Backend: backend, Recoverable: true, Err: err}
}

// Permanent wraps err as a BackendError that must not be retried.
func Permanent(backend string, err error) error {
	return &BackendError{Backend: backend, Recoverable: false, Err: err}
}

// RateLimitError reports that the limiter refused a call before dispatch.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("rate limit reached for backend %s", e.Backend)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRateLimited, e.Err}
	}
	return []error{ErrRateLimited}
}

// BudgetScope names the ceiling a BudgetExceededError tripped.
type BudgetScope string

const (
	ScopeRequest BudgetScope = "request"
	ScopeDaily   BudgetScope = "daily"
)

// BudgetExceededError is fatal for the current item. Callers running a batch
// are expected to halt.
type BudgetExceededError struct {
	Scope     BudgetScope
	Estimated float64
	Spent     float64
	Limit     float64
}

func (e *BudgetExceededError) Error() string {
	if e.Scope == ScopeRequest {
		return fmt.Sprintf("estimated cost %.4f exceeds per-request limit %.4f", e.Estimated, e.Limit)
	}
	return fmt.Sprintf("estimated cost %.4f would push daily spend %.4f over limit %.4f", e.Estimated, e.Spent, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// Failure records why one backend was skipped during fallback.
type Failure struct {
	Backend string
	Err     error
}

// AllBackendsExhaustedError is returned when every backend failed or none met
// the confidence floor. When HasResult is set the stage also returned its
// best result, tagged below threshold.
type AllBackendsExhaustedError struct {
	Stage          string
	Threshold      float64
	HasResult      bool
	BestBackend    string
	BestConfidence float64
	Failures       []Failure
}

func (e *AllBackendsExhaustedError) Error() string {
	if e.HasResult {
		return fmt.Sprintf("%s: no backend met confidence %.2f, best was %s at %.2f",
			e.Stage, e.Threshold, e.BestBackend, e.BestConfidence)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Backend, f.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: no backend available", e.Stage)
	}
	return fmt.Sprintf("%s: all backends failed: %s", e.Stage, strings.Join(parts, "; "))
}

func (e *AllBackendsExhaustedError) Unwrap() error { return ErrAllBackendsExhausted }

// IsRecoverable reports whether err should consume retry budget rather than
// fail immediately.
func IsRecoverable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Recoverable
	}
	return false
}

// IsBelowThreshold reports whether err only tags a returned result as below
// the confidence floor.
func IsBelowThreshold(err error) bool {
	var ex *AllBackendsExhaustedError
	return errors.As(err, &ex) && ex.HasResult
}

// Aborts reports whether err must stop backend fallback immediately.
func Aborts(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBudgetExceeded)
}
