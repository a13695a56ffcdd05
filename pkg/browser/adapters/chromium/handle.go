package chromium

import (
	"context"
	"errors"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/odvcencio/blockbench/pkg/browser"
)

// Handle is a single Chromium process with one page.
type Handle struct {
	browser   *rod.Browser
	page      *rod.Page
	launcher  *launcher.Launcher
	extension string
}

// Extension returns the absolute path of the loaded extension, if any.
func (h *Handle) Extension() string {
	return h.extension
}

// Navigate implements browser.Handle.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	return classify("navigate", h.page.Context(ctx).Navigate(url))
}

// WaitReady blocks until the document has a body element.
func (h *Handle) WaitReady(ctx context.Context) error {
	_, err := h.page.Context(ctx).Element("body")
	return classify("wait_ready", err)
}

// ClearStorage implements browser.Handle.
func (h *Handle) ClearStorage(ctx context.Context) error {
	_, err := h.page.Context(ctx).Eval(`() => window.localStorage.clear()`)
	return classify("clear_storage", err)
}

// ClearCookies removes every cookie in the browser.
func (h *Handle) ClearCookies(ctx context.Context) error {
	return classify("clear_cookies", h.browser.Context(ctx).SetCookies(nil))
}

// WindowRect implements browser.Handle.
func (h *Handle) WindowRect(ctx context.Context) (browser.Rect, error) {
	bounds, err := h.page.Context(ctx).GetWindow()
	if err != nil {
		return browser.Rect{}, classify("window_rect", err)
	}
	return browser.Rect{
		X:      deref(bounds.Left),
		Y:      deref(bounds.Top),
		Width:  deref(bounds.Width),
		Height: deref(bounds.Height),
	}, nil
}

// SetWindowPosition implements browser.Handle.
func (h *Handle) SetWindowPosition(ctx context.Context, x, y int) error {
	err := h.page.Context(ctx).SetWindow(&proto.BrowserBounds{
		Left:        &x,
		Top:         &y,
		WindowState: proto.BrowserWindowStateNormal,
	})
	return classify("set_window_position", err)
}

// Close shuts the browser down and removes its profile directory.
func (h *Handle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	err := h.browser.Context(ctx).Close()
	h.launcher.Kill()
	h.launcher.Cleanup()
	return err
}

// classify marks driver errors as transient: any of them is recovered by
// relaunching the browser. Cancellation by the caller is passed through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return browser.Transient(op, errors.Join(browser.ErrPageTimeout, err))
	}
	return browser.Transient(op, err)
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

var _ browser.Handle = (*Handle)(nil)
var _ browser.Launcher = (*Launcher)(nil)
