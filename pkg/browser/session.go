package browser

import "context"

//go:generate mockgen -package=browser -destination=mock_browser_test.go github.com/odvcencio/blockbench/pkg/browser Launcher,Handle

// Launcher starts controlled browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)
}

// Handle is the port implemented by browser driver adapters. Operations that
// fail for reasons a fresh browser would fix return a *TransientError.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context) error
	ClearStorage(ctx context.Context) error
	ClearCookies(ctx context.Context) error
	WindowRect(ctx context.Context) (Rect, error)
	SetWindowPosition(ctx context.Context, x, y int) error
	Close() error
}
