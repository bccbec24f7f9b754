package errors

import (
	"fmt"
	"testing"
)

func TestNilErrorHasNoExitCode(t *testing.T) {
	if NewError(nil, ConfigErrorExitCode) != nil {
		t.Fatal("expected nil ExitCodeError for nil error")
	}
	var e *ExitCodeError
	if e.GetExitCode() != 0 {
		t.Fatal("expected 0 exit code from nil ExitCodeError")
	}
}

func TestExitCodeOf(t *testing.T) {
	if ExitCodeOf(nil) != 0 {
		t.Fatal("expected 0 for nil")
	}
	if c := ExitCodeOf(fmt.Errorf("boom")); c != GenericFailureExitCode {
		t.Fatalf("expected generic failure, got %d", c)
	}
	err := NewError(fmt.Errorf("members [1 3] failed"), PartialFailureExitCode)
	if c := ExitCodeOf(err); c != PartialFailureExitCode {
		t.Fatalf("expected partial failure, got %d", c)
	}
	if err.Unwrap().Error() != "members [1 3] failed" {
		t.Fatalf("unexpected wrapped error %v", err.Unwrap())
	}
}
