package browser

import (
	"context"
	"errors"
	"fmt"

	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

// Reset clears local storage and all cookies so the next visit starts cold.
// Both steps are attempted even if the first fails.
func Reset(ctx context.Context, sess *Session) error {
	if !sess.Alive() {
		return ErrSessionClosed
	}
	var errs []error
	if err := sess.handle.ClearStorage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear storage: %w", err))
	}
	if err := sess.handle.ClearCookies(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear cookies: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return bberrors.Wrap(errors.Join(errs...), bberrors.ErrCodeResetFailed, "reset session state").
		WithContext("role", string(sess.role)).
		WithContext("session_id", sess.id)
}
