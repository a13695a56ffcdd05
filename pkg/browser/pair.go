package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/blockbench/pkg/logging"
)

// Session is one controlled browser bound to a role. A restart replaces the
// Session value; callers must re-read it from the Pair after a restart.
type Session struct {
	role       Role
	id         string
	generation int
	handle     Handle
	alive      bool
}

func (s *Session) Role() Role { return s.role }

func (s *Session) ID() string { return s.id }

func (s *Session) Generation() int { return s.generation }

func (s *Session) Handle() Handle { return s.handle }

func (s *Session) Alive() bool { return s != nil && s.alive && s.handle != nil }

// PairConfig controls how the two sessions are launched and placed.
type PairConfig struct {
	ExtensionPath     string
	TreatmentPosition Point
	PlaceWindows      bool
	LaunchAttempts    int
	LaunchBackoff     time.Duration
}

// DefaultPairConfig returns the recommended pair defaults.
func DefaultPairConfig() PairConfig {
	return PairConfig{
		PlaceWindows:   true,
		LaunchAttempts: 3,
		LaunchBackoff:  2 * time.Second,
	}
}

// PairOption customizes a Pair.
type PairOption func(*Pair)

// WithMetrics records launches and closes into m.
func WithMetrics(m *Metrics) PairOption {
	return func(p *Pair) { p.metrics = m }
}

// WithLogger sends session lifecycle events to l.
func WithLogger(l *logging.Logger) PairOption {
	return func(p *Pair) { p.logger = l }
}

// Pair owns the treatment and baseline sessions.
type Pair struct {
	launcher    Launcher
	cfg         PairConfig
	sessions    map[Role]*Session
	generations map[Role]int
	metrics     *Metrics
	logger      *logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPair creates a Pair backed by launcher. No browser is started until
// Start or Create is called.
func NewPair(launcher Launcher, cfg PairConfig, opts ...PairOption) (*Pair, error) {
	if launcher == nil {
		return nil, ErrUnavailable
	}
	if cfg.LaunchAttempts <= 0 {
		cfg.LaunchAttempts = 1
	}
	p := &Pair{
		launcher:    launcher,
		cfg:         cfg,
		sessions:    make(map[Role]*Session, 2),
		generations: make(map[Role]int, 2),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches treatment then baseline.
func (p *Pair) Start(ctx context.Context) error {
	for _, role := range Roles {
		if _, err := p.Create(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the current session for role, or nil.
func (p *Pair) Session(role Role) *Session {
	return p.sessions[role]
}

// Create launches a fresh session for role. The treatment session gets the
// extension. The baseline window is placed relative to the treatment window,
// so treatment must be created first for placement to apply.
func (p *Pair) Create(ctx context.Context, role Role) (*Session, error) {
	if existing := p.sessions[role]; existing.Alive() {
		return nil, fmt.Errorf("%s session already exists: %s", role, existing.id)
	}

	opts := LaunchOptions{Role: role}
	if role == RoleTreatment {
		opts.ExtensionPath = p.cfg.ExtensionPath
	}

	handle, err := p.launch(ctx, opts)
	if err != nil {
		return nil, err
	}

	p.generations[role]++
	sess := &Session{
		role:       role,
		id:         ulid.Make().String(),
		generation: p.generations[role],
		handle:     handle,
		alive:      true,
	}
	p.sessions[role] = sess
	p.place(ctx, sess)

	_ = p.logger.Info(logging.CategorySession, "session_launched", "", map[string]any{
		"role":       string(role),
		"session_id": sess.id,
		"generation": sess.generation,
	})
	return sess, nil
}

func (p *Pair) launch(ctx context.Context, opts LaunchOptions) (Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.LaunchAttempts; attempt++ {
		handle, err := p.launcher.Launch(ctx, opts)
		if err == nil {
			p.metrics.RecordLaunch(true)
			return handle, nil
		}
		p.metrics.RecordLaunch(false)
		lastErr = err
		_ = p.logger.Warn(logging.CategorySession, "launch_failed", err.Error(), map[string]any{
			"role":    string(opts.Role),
			"attempt": attempt,
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < p.cfg.LaunchAttempts {
			if err := p.sleep(ctx, p.cfg.LaunchBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, NewLaunchError(opts.Role, p.cfg.LaunchAttempts, lastErr)
}

// place applies the side-by-side window layout. Placement is cosmetic, so
// failures are logged and otherwise ignored.
func (p *Pair) place(ctx context.Context, sess *Session) {
	if !p.cfg.PlaceWindows {
		return
	}
	pos, err := p.position(ctx, sess.role)
	if err == nil {
		err = sess.handle.SetWindowPosition(ctx, pos.X, pos.Y)
	}
	if err != nil {
		_ = p.logger.Warn(logging.CategorySession, "window_placement_failed", err.Error(), map[string]any{
			"role": string(sess.role),
		})
	}
}

func (p *Pair) position(ctx context.Context, role Role) (Point, error) {
	if role == RoleTreatment {
		return p.cfg.TreatmentPosition, nil
	}
	treatment := p.sessions[RoleTreatment]
	if !treatment.Alive() {
		return Point{}, errors.New("treatment session not running")
	}
	rect, err := treatment.handle.WindowRect(ctx)
	if err != nil {
		return Point{}, fmt.Errorf("read treatment window: %w", err)
	}
	return Point{X: rect.Width / 2, Y: rect.Height / 4}, nil
}

// Restart tears down the session for role, ignoring close errors, and
// launches a replacement with the role's original configuration.
func (p *Pair) Restart(ctx context.Context, role Role) error {
	p.teardown(role)
	if _, err := p.Create(ctx, role); err != nil {
		return err
	}
	return nil
}

// RestartBoth restarts treatment then baseline.
func (p *Pair) RestartBoth(ctx context.Context) error {
	for _, role := range Roles {
		if err := p.Restart(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pair) teardown(role Role) error {
	sess := p.sessions[role]
	if !sess.Alive() {
		return nil
	}
	sess.alive = false
	err := sess.handle.Close()
	p.metrics.RecordClose(err)
	if err != nil {
		_ = p.logger.Warn(logging.CategorySession, "close_failed", err.Error(), map[string]any{
			"role":       string(role),
			"session_id": sess.id,
		})
	}
	return err
}

// Close tears down both sessions.
func (p *Pair) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, role := range Roles {
		if err := p.teardown(role); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
