package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "num_tests must be positive")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeConfigInvalid {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConfigInvalid)
	}
	if err.Message != "num_tests must be positive" {
		t.Errorf("Message = %v, want 'num_tests must be positive'", err.Message)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("chrome exited")
	err := Wrap(underlying, ErrCodeLaunchFailed, "launch treatment session")

	if err.Underlying != underlying {
		t.Errorf("Underlying = %v, want %v", err.Underlying, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
	if Wrap(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestErrorStringIncludesSortedContext(t *testing.T) {
	err := New(ErrCodeStoreWrite, "flush failed").
		WithContext("sheet", "example.com").
		WithContext("file", "out.xlsx")

	got := err.Error()
	want := "[STORE_WRITE] flush failed {file: out.xlsx, sheet: example.com}"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringIncludesUnderlying(t *testing.T) {
	err := Wrap(errors.New("disk full"), ErrCodeStoreWrite, "save workbook")
	if !strings.HasSuffix(err.Error(), ": disk full") {
		t.Errorf("Error() = %q, want suffix %q", err.Error(), ": disk full")
	}
}

func TestIsCodeFollowsWrapChain(t *testing.T) {
	coded := New(ErrCodeLaunchFailed, "no browser")
	wrapped := fmt.Errorf("restart baseline: %w", coded)

	if !IsCode(wrapped, ErrCodeLaunchFailed) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(wrapped, ErrCodeStoreWrite) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, ErrCodeLaunchFailed) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("x"), want: ErrCodeInternal},
		{name: "coded", err: New(ErrCodeResetFailed, "x"), want: ErrCodeResetFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryableAndRemediation(t *testing.T) {
	err := New(ErrCodeLaunchFailed, "x").
		WithRetryable(true).
		WithUserMessage("Could not start the browser").
		WithRemediation("install chromium", "set browser.bin")

	if !IsRetryable(err) || !err.IsRetryable() {
		t.Error("expected retryable")
	}
	if err.UserMessage != "Could not start the browser" {
		t.Errorf("UserMessage = %q", err.UserMessage)
	}
	if len(err.Remediation) != 2 {
		t.Errorf("Remediation = %v", err.Remediation)
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !strings.HasPrefix(err.StackTrace(), "Stack trace:") {
		t.Error("StackTrace should have a header")
	}
}
