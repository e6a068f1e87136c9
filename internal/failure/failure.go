// Package failure defines the error taxonomy shared by every provisioning
// component. Each failure carries a Kind so front-ends can decide how to
// present it and whether a retry or a fresh start is needed.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a provisioning failure.
type Kind string

const (
	MalformedManifest    Kind = "MalformedManifest"
	UntrustedSource      Kind = "UntrustedSource"
	FetchRejected        Kind = "FetchRejected"
	FetchFailed          Kind = "FetchFailed"
	IntegrityError       Kind = "IntegrityError"
	UnsafeArchiveEntry   Kind = "UnsafeArchiveEntry"
	IncompatibleBaseData Kind = "IncompatibleBaseData"
	BuildStepFailed      Kind = "BuildStepFailed"
	StepTimeout          Kind = "StepTimeout"
	StateCorrupt         Kind = "StateCorrupt"
	Cancelled            Kind = "Cancelled"
	IOFailure            Kind = "IOFailure"
)

// Retryable reports whether resuming the run may succeed without the user
// changing anything. Integrity and safety failures never heal on their own.
func (k Kind) Retryable() bool {
	switch k {
	case FetchFailed, StepTimeout, Cancelled, IOFailure, BuildStepFailed:
		return true
	}
	return false
}

// Error is a classified provisioning failure.
type Error struct {
	Kind Kind

	// Step identifies the failing step. Index is -1 for failures that
	// happen outside any step (manifest parsing, base data checks).
	Index    int
	StepID   string
	StepKind string

	Op       string
	Err      error
	ExitCode int // BuildStepFailed only
	Hint     string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StepID != "" {
		msg += " in step " + e.StepID
	}
	if e.Op != "" {
		msg += ": " + e.Op + " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind not tied to a step.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Index: -1, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// WithHint sets the hint and returns the receiver.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the Kind of err. Unclassified errors report IOFailure,
// and the zero Kind is returned only for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return IOFailure
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// AtStep annotates err with step identity. If err is already a classified
// Error the annotation is applied in place, otherwise err is wrapped with
// fallback as its kind.
func AtStep(err error, fallback Kind, index int, id, kind string) *Error {
	var fe *Error
	if !errors.As(err, &fe) {
		fe = &Error{Kind: fallback, Err: err}
	}
	fe.Index = index
	fe.StepID = id
	fe.StepKind = kind
	return fe
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Subject string
	Errors  []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s validation failed: %s", e.Subject, e.Errors[0])
	}
	msg := e.Subject + " validation failed:"
	for _, s := range e.Errors {
		msg += "\n  - " + s
	}
	return msg
}
