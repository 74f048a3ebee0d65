package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorForReplyCode(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{"RATE_LIMITED", ExitRateLimited},
		{"NOT_FOUND", ExitNotFound},
		{"INVALID", ExitUsage},
		{"UNKNOWN", ExitRuntime},
	}

	for _, test := range tests {
		err := ErrorForReplyCode(test.code, "message")
		if err.Code != test.expected {
			t.Fatalf("code %s expected %d got %d", test.code, test.expected, err.Code)
		}
	}
}

func TestExitCodeUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("queue ls: %w", &CLIError{Code: ExitNotFound, Msg: "gone"})
	if ExitCode(wrapped) != ExitNotFound {
		t.Fatalf("expected wrapped exit code")
	}
	if ExitCode(errors.New("plain")) != ExitRuntime {
		t.Fatalf("expected runtime exit code")
	}
	if ExitCode(nil) != ExitOK {
		t.Fatalf("expected ok")
	}
}
