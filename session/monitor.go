package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit/state"
)

// Monitor replaces the pile of overlapping intervals (activity tracker,
// session check, refresh check) with one coordinator that always sleeps
// until the soonest upcoming deadline among refresh-due, inactivity timeout
// and hard expiry.
type Monitor struct {
	store   *state.Store
	manager *Manager

	// onSessionExpired is invoked once per forced logout so the UI layer
	// can show a "session expired" notice.
	onSessionExpired func()

	minWake time.Duration
	maxWake time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithExpiryNotice sets the callback fired when the monitor forces logout.
func WithExpiryNotice(fn func()) MonitorOption {
	return func(m *Monitor) { m.onSessionExpired = fn }
}

// WithWakeBounds overrides the minimum and maximum sleep between checks.
func WithWakeBounds(min, max time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.minWake = min
		m.maxWake = max
	}
}

// WithMonitorClock injects a clock, for tests.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithMonitorLogger attaches a logger.
func WithMonitorLogger(log zerolog.Logger) MonitorOption {
	return func(m *Monitor) { m.log = log }
}

// NewMonitor creates a Monitor over the store and manager.
func NewMonitor(store *state.Store, manager *Manager, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:   store,
		manager: manager,
		minWake: time.Second,
		maxWake: time.Minute,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks, checking the session on each wakeup until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(m.NextWake())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.Check(ctx)
		timer.Reset(m.NextWake())
	}
}

// NextWake computes how long to sleep until the soonest deadline, clamped
// to the wake bounds. The clamp also bounds the staleness of the
// inactivity check.
func (m *Monitor) NextWake() time.Duration {
	if !m.store.IsAuthenticated() {
		return m.maxWake
	}

	now := m.now()
	next := now.Add(m.maxWake)
	for _, d := range m.deadlines() {
		if d.After(now) && d.Before(next) {
			next = d
		}
	}

	wake := next.Sub(now)
	if wake < m.minWake {
		wake = m.minWake
	}
	if wake > m.maxWake {
		wake = m.maxWake
	}
	return wake
}

func (m *Monitor) deadlines() []time.Time {
	var ds []time.Time
	if exp := m.store.ExpiresAt(); !exp.IsZero() {
		ds = append(ds,
			exp, // hard expiry
			exp.Add(-m.store.RefreshThreshold()), // refresh due
		)
	}
	if last := m.store.LastActivity(); !last.IsZero() {
		ds = append(ds, last.Add(m.store.InactivityTimeout()))
	}
	return ds
}

// Check runs one monitor pass: force logout on an invalid session, or
// trigger a proactive refresh when one is due.
func (m *Monitor) Check(ctx context.Context) {
	if !m.store.IsAuthenticated() {
		return
	}

	if !m.store.IsSessionValid() {
		m.log.Info().Msg("session invalid (expired or inactive), forcing logout")
		m.manager.Clear()
		if m.onSessionExpired != nil {
			m.onSessionExpired()
		}
		return
	}

	if m.store.ShouldRefresh() {
		if err := m.manager.RefreshAccessToken(ctx); err != nil {
			m.log.Warn().Err(err).Msg("proactive refresh failed")
		}
	}
}
