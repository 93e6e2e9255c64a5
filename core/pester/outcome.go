package pester

import (
	"errors"
	"fmt"
)

// Outcome classifies how a single test case ended.
type Outcome int

const (
	OutcomePassed Outcome = iota
	OutcomeFailed
	OutcomeErrored
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeErrored:
		return "errored"
	case OutcomeSkipped:
		return "skipped"
	default:
		panic("unexpected outcome value")
	}
}

// Result is one finished test case: its name, how it ended, and the detail
// lines the report prints for failures and errors.
type Result struct {
	Name     string
	Outcome  Outcome
	Detail   string
	Response string
}

// FailError is the failure a test body raises when the server under test did
// something wrong. Response optionally carries a rendering of the offending
// reply for the report.
type FailError struct {
	Reason   string
	Response string
}

func (e *FailError) Error() string {
	return "test case failed: " + e.Reason
}

// SkipError marks a case as not runnable under the active configuration.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "test case skipped: " + e.Reason
}

// Fail raises a failure with the given reason.
func Fail(reason string) error {
	return &FailError{Reason: reason}
}

// Failf raises a failure with a formatted reason.
func Failf(format string, args ...any) error {
	return &FailError{Reason: fmt.Sprintf(format, args...)}
}

// FailResponse raises a failure carrying a rendering of the server's reply.
func FailResponse(reason, response string) error {
	return &FailError{Reason: reason, Response: response}
}

// Skip marks the current case as skipped.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// classify maps a test body's error to the outcome taxonomy: nil is Passed,
// FailError is Failed, SkipError is Skipped, anything else is Errored.
func classify(name string, err error) Result {
	if err == nil {
		return Result{Name: name, Outcome: OutcomePassed}
	}
	var failErr *FailError
	if errors.As(err, &failErr) {
		return Result{Name: name, Outcome: OutcomeFailed, Detail: failErr.Reason, Response: failErr.Response}
	}
	var skipErr *SkipError
	if errors.As(err, &skipErr) {
		return Result{Name: name, Outcome: OutcomeSkipped, Detail: skipErr.Reason}
	}
	return Result{Name: name, Outcome: OutcomeErrored, Detail: err.Error()}
}
