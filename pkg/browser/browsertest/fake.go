// Package browsertest provides scripted in-memory browser drivers for tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/blockbench/pkg/browser"
)

// Clock is a manually advanced clock shared by a Launcher's handles.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Step scripts the outcome of one Navigate call.
type Step struct {
	Load  time.Duration
	Err   error
	Panic any
}

// Load is a successful navigation taking ms milliseconds.
func Load(ms int) Step {
	return Step{Load: time.Duration(ms) * time.Millisecond}
}

// Timeout is a navigation that hits the page load ceiling.
func Timeout() Step {
	return Step{Err: browser.Transient("navigate", browser.ErrPageTimeout)}
}

// Fail is a navigation returning err as-is.
func Fail(err error) Step {
	return Step{Err: err}
}

// Launcher is a scripted browser.Launcher. Scripts are kept per role and
// survive restarts, so a test can describe a whole run up front.
type Launcher struct {
	mu          sync.Mutex
	clock       *Clock
	defaultLoad time.Duration
	rect        browser.Rect
	scripts     map[browser.Role][]Step
	launchErrs  map[browser.Role][]error
	resetErrs   map[browser.Role][]error
	handles     map[browser.Role][]*Handle
	events      []string
}

// NewLauncher creates a Launcher driven by clock.
func NewLauncher(clock *Clock) *Launcher {
	return &Launcher{
		clock:       clock,
		defaultLoad: 100 * time.Millisecond,
		rect:        browser.Rect{Width: 1280, Height: 720},
		scripts:     make(map[browser.Role][]Step),
		launchErrs:  make(map[browser.Role][]error),
		resetErrs:   make(map[browser.Role][]error),
		handles:     make(map[browser.Role][]*Handle),
	}
}

// Script queues navigation outcomes for role.
func (l *Launcher) Script(role browser.Role, steps ...Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[role] = append(l.scripts[role], steps...)
}

// FailLaunch makes the next len(errs) launches for role fail.
func (l *Launcher) FailLaunch(role browser.Role, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErrs[role] = append(l.launchErrs[role], errs...)
}

// FailReset makes the next len(errs) ClearStorage calls for role fail.
func (l *Launcher) FailReset(role browser.Role, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetErrs[role] = append(l.resetErrs[role], errs...)
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if errs := l.launchErrs[opts.Role]; len(errs) > 0 {
		l.launchErrs[opts.Role] = errs[1:]
		l.events = append(l.events, "launch_failed:"+string(opts.Role))
		return nil, errs[0]
	}
	h := &Handle{
		launcher: l,
		Serial:   len(l.handles[opts.Role]) + 1,
		Options:  opts,
		rect:     l.rect,
	}
	l.handles[opts.Role] = append(l.handles[opts.Role], h)
	l.events = append(l.events, "launch:"+string(opts.Role))
	return h, nil
}

// Handles returns every handle launched for role, oldest first.
func (l *Launcher) Handles(role browser.Role) []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.handles[role]...)
}

// Events returns the ordered launch/visit/reset/close log.
func (l *Launcher) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *Launcher) nextStep(role browser.Role) Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps := l.scripts[role]
	if len(steps) == 0 {
		return Step{Load: l.defaultLoad}
	}
	l.scripts[role] = steps[1:]
	return steps[0]
}

func (l *Launcher) record(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *Launcher) nextResetErr(role browser.Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := l.resetErrs[role]
	if len(errs) == 0 {
		return nil
	}
	l.resetErrs[role] = errs[1:]
	return errs[0]
}

// Handle is a scripted browser.Handle.
type Handle struct {
	launcher *Launcher
	rect     browser.Rect

	mu            sync.Mutex
	Serial        int
	Options       browser.LaunchOptions
	Position      *browser.Point
	Visited       []string
	StorageClears int
	CookieClears  int
	Closed        bool
}

func (h *Handle) role() browser.Role { return h.Options.Role }

// Navigate implements browser.Handle.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	h.mu.Lock()
	closed := h.Closed
	h.Visited = append(h.Visited, url)
	h.mu.Unlock()
	if closed {
		return browser.ErrSessionClosed
	}
	h.launcher.record("visit:" + string(h.role()))
	step := h.launcher.nextStep(h.role())
	h.launcher.clock.Advance(step.Load)
	if step.Panic != nil {
		panic(step.Panic)
	}
	if step.Err != nil {
		return step.Err
	}
	return ctx.Err()
}

// WaitReady implements browser.Handle.
func (h *Handle) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

// ClearStorage implements browser.Handle.
func (h *Handle) ClearStorage(context.Context) error {
	h.launcher.record("reset:" + string(h.role()))
	h.mu.Lock()
	h.StorageClears++
	h.mu.Unlock()
	return h.launcher.nextResetErr(h.role())
}

// ClearCookies implements browser.Handle.
func (h *Handle) ClearCookies(context.Context) error {
	h.mu.Lock()
	h.CookieClears++
	h.mu.Unlock()
	return nil
}

// WindowRect implements browser.Handle.
func (h *Handle) WindowRect(context.Context) (browser.Rect, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rect
	if h.Position != nil {
		r.X, r.Y = h.Position.X, h.Position.Y
	}
	return r, nil
}

// SetWindowPosition implements browser.Handle.
func (h *Handle) SetWindowPosition(_ context.Context, x, y int) error {
	h.mu.Lock()
	h.Position = &browser.Point{X: x, Y: y}
	h.mu.Unlock()
	return nil
}

// Close implements browser.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.Closed = true
	h.mu.Unlock()
	h.launcher.record("close:" + string(h.role()))
	return nil
}

// Resets returns how many times storage was cleared on this handle.
func (h *Handle) Resets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StorageClears
}

// IsClosed reports whether Close was called.
func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Closed
}
