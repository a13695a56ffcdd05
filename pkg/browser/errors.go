package browser

import (
	"context"
	"errors"
	"fmt"

	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

var (
	ErrUnavailable   = errors.New("browser runtime unavailable")
	ErrSessionClosed = errors.New("browser session closed")
	ErrPageTimeout   = errors.New("page load timeout")
)

// TransientError marks a driver failure that restarting the session recovers
// from: navigation errors, page load timeouts, lost connections.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transient %s failure", e.Op)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable NAVIGATION_TRANSIENT error around a
// TransientError for op. It returns nil for nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return bberrors.Wrap(&TransientError{Op: op, Err: err}, bberrors.ErrCodeNavigationTransient, "restart required").
		WithRetryable(true)
}

// IsTransient reports whether err is recoverable by restarting the session.
// Page timeouts count as transient even when the driver did not wrap them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if bberrors.IsRetryable(err) {
		return true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, ErrPageTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// NewLaunchError reports that a session for role could not be started.
func NewLaunchError(role Role, attempts int, err error) *bberrors.Error {
	return bberrors.Wrap(err, bberrors.ErrCodeLaunchFailed, "launch browser session").
		WithContext("role", string(role)).
		WithContext("attempts", attempts).
		WithUserMessage(fmt.Sprintf("Could not start the %s browser", role)).
		WithRemediation(
			"check that chromium is installed or set browser.bin",
			"check that the extension path points at an unpacked extension",
		)
}

// IsLaunchError reports whether err came from a failed session launch.
func IsLaunchError(err error) bool {
	return bberrors.IsCode(err, bberrors.ErrCodeLaunchFailed)
}
