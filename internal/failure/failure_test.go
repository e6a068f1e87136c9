package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(IntegrityError, "verify", errors.New("sha256 mismatch"))
	wrapped := fmt.Errorf("step 3: %w", base)

	if got := KindOf(wrapped); got != IntegrityError {
		t.Errorf("KindOf = %q, want %q", got, IntegrityError)
	}
	if !Is(wrapped, IntegrityError) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(wrapped, FetchRejected) {
		t.Error("Is matched the wrong kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("disk full")); got != IOFailure {
		t.Errorf("KindOf = %q, want %q", got, IOFailure)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestAtStepKeepsKind(t *testing.T) {
	err := AtStep(New(StepTimeout, "run", errors.New("deadline")), BuildStepFailed, 4, "04-run-abcd1234", "run")
	if err.Kind != StepTimeout {
		t.Errorf("Kind = %q, want %q", err.Kind, StepTimeout)
	}
	if err.Index != 4 || err.StepID != "04-run-abcd1234" {
		t.Errorf("step identity not applied: %+v", err)
	}
	if !strings.Contains(err.Error(), "04-run-abcd1234") {
		t.Errorf("message should name the step: %s", err.Error())
	}
}

func TestAtStepFallback(t *testing.T) {
	cause := errors.New("permission denied")
	err := AtStep(cause, IOFailure, 0, "00-copy-00000000", "copy")
	if err.Kind != IOFailure {
		t.Errorf("Kind = %q, want %q", err.Kind, IOFailure)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should remain reachable")
	}
}

func TestRetryable(t *testing.T) {
	if IntegrityError.Retryable() {
		t.Error("IntegrityError must not be retryable")
	}
	if UnsafeArchiveEntry.Retryable() {
		t.Error("UnsafeArchiveEntry must not be retryable")
	}
	if !FetchFailed.Retryable() {
		t.Error("FetchFailed should be retryable")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	one := &ValidationError{Subject: "manifest", Errors: []string{"step[0]: 'kind' is required"}}
	if !strings.HasPrefix(one.Error(), "manifest validation failed: step[0]") {
		t.Errorf("single error message: %q", one.Error())
	}

	many := &ValidationError{Subject: "manifest", Errors: []string{"a", "b"}}
	if !strings.Contains(many.Error(), "\n  - a\n  - b") {
		t.Errorf("multi error message: %q", many.Error())
	}
}

func TestHint(t *testing.T) {
	err := Newf(StateCorrupt, "load state", "bad yaml").WithHint("start fresh with --fresh")
	if !strings.HasSuffix(err.Error(), "(hint: start fresh with --fresh)") {
		t.Errorf("hint missing: %s", err.Error())
	}
}
