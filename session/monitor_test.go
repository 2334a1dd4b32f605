package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/state"
)

func monitorFixture(t *testing.T, refresher Refresher, now func() time.Time) (*Monitor, *Manager, *state.Store) {
	t.Helper()
	jar := cookie.NewMemoryJar().WithClock(now)
	store := state.NewStore(state.WithClock(now))
	m := NewManager(jar, cookie.Defaults("", true), store, refresher, WithManagerClock(now))
	mon := NewMonitor(store, m, WithMonitorClock(now))
	return mon, m, store
}

func TestNextWake_UnauthenticatedUsesMaxBound(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon, _, _ := monitorFixture(t, &fakeRefresher{}, func() time.Time { return base })

	assert.Equal(t, time.Minute, mon.NextWake())
}

func TestNextWake_PicksSoonestDeadline(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	mon, _, store := monitorFixture(t, &fakeRefresher{}, func() time.Time { return now })

	// Expiry in 15m means refresh-due in 10m, inactivity in 30m. All are
	// beyond the max bound, so the clamp wins.
	store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, base.Add(authkit.AccessTokenTTL))
	assert.Equal(t, time.Minute, mon.NextWake())

	// 30 seconds before the refresh threshold: the refresh deadline is the
	// soonest and sits inside the bounds.
	now = base.Add(authkit.AccessTokenTTL - authkit.RefreshThreshold - 30*time.Second)
	assert.Equal(t, 30*time.Second, mon.NextWake())
}

func TestNextWake_ClampedToMinBound(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	mon, _, store := monitorFixture(t, &fakeRefresher{}, func() time.Time { return now })

	store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, base.Add(authkit.AccessTokenTTL))

	// 100ms before hard expiry: never spin faster than the min bound.
	now = base.Add(authkit.AccessTokenTTL - 100*time.Millisecond)
	assert.Equal(t, time.Second, mon.NextWake())
}

func TestCheck_ExpiredSessionForcesLogout(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	mon, _, store := monitorFixture(t, &fakeRefresher{}, func() time.Time { return now })

	store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, base.Add(authkit.AccessTokenTTL))

	var notified bool
	mon.onSessionExpired = func() { notified = true }

	now = base.Add(authkit.AccessTokenTTL + time.Second)
	mon.Check(context.Background())

	assert.False(t, store.IsAuthenticated())
	assert.True(t, notified)
}

func TestCheck_InactivityForcesLogout(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	mon, _, store := monitorFixture(t, &fakeRefresher{}, func() time.Time { return now })

	// Long expiry so only inactivity can invalidate.
	store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, base.Add(2*time.Hour))

	now = base.Add(authkit.InactivityTimeout + time.Second)
	mon.Check(context.Background())

	assert.False(t, store.IsAuthenticated())
}

func TestCheck_RefreshesWhenDue(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	refresher := &fakeRefresher{result: &RefreshResult{
		Pair: authkit.TokenPair{
			AccessToken:      "access-2",
			RefreshToken:     "refresh-2",
			ExpiresAt:        base.Add(20 * time.Minute),
			RefreshExpiresAt: base.Add(authkit.RefreshTokenTTL),
		},
		SessionID: "sess-1",
	}}
	mon, m, store := monitorFixture(t, refresher, func() time.Time { return now })
	require.NoError(t, m.StoreTokenPair(authkit.TokenPair{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		ExpiresAt:        base.Add(authkit.AccessTokenTTL),
		RefreshExpiresAt: base.Add(authkit.RefreshTokenTTL),
	}, "sess-1"))
	store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, base.Add(authkit.AccessTokenTTL))

	// Inside the refresh window but still valid.
	now = base.Add(authkit.AccessTokenTTL - authkit.RefreshThreshold + time.Second)
	mon.Check(context.Background())

	assert.Equal(t, int32(1), refresher.callCount())
	assert.Equal(t, base.Add(20*time.Minute), store.ExpiresAt())
	assert.True(t, store.IsAuthenticated())
}

func TestCheck_NoopWhenUnauthenticated(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	refresher := &fakeRefresher{}
	mon, _, _ := monitorFixture(t, refresher, func() time.Time { return base })

	mon.Check(context.Background())
	assert.Equal(t, int32(0), refresher.callCount())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	mon, _, _ := monitorFixture(t, &fakeRefresher{}, time.Now)
	mon.minWake = time.Millisecond
	mon.maxWake = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}
