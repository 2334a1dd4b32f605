package cookie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJar_SetGetDelete(t *testing.T) {
	jar := NewMemoryJar()

	jar.Set(AccessToken, "tok", Config{Name: AccessToken, MaxAge: time.Minute})

	got, ok := jar.Get(AccessToken)
	require.True(t, ok)
	assert.Equal(t, "tok", got)

	jar.Delete(AccessToken)
	_, ok = jar.Get(AccessToken)
	assert.False(t, ok)
	assert.Zero(t, jar.Len())
}

func TestMemoryJar_ExpiryHonored(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	jar := NewMemoryJar().WithClock(func() time.Time { return now })

	jar.Set(CSRFToken, "tok", Config{Name: CSRFToken, MaxAge: 15 * time.Minute})

	_, ok := jar.Get(CSRFToken)
	require.True(t, ok)

	now = base.Add(16 * time.Minute)
	_, ok = jar.Get(CSRFToken)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestMemoryJar_ZeroMaxAgeIsSessionCookie(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	jar := NewMemoryJar().WithClock(func() time.Time { return now })

	jar.Set(DeviceID, "dev", Config{Name: DeviceID})

	now = base.Add(24 * time.Hour)
	got, ok := jar.Get(DeviceID)
	require.True(t, ok)
	assert.Equal(t, "dev", got)
}

func TestDefaults(t *testing.T) {
	cfgs := Defaults("gradeloop.com", true)

	assert.True(t, cfgs.AccessToken.HttpOnly)
	assert.True(t, cfgs.RefreshToken.HttpOnly)
	// The CSRF cookie must be readable by the client for the double submit.
	assert.False(t, cfgs.CSRFToken.HttpOnly)

	assert.True(t, cfgs.AccessToken.Secure)
	assert.Equal(t, "gradeloop.com", cfgs.AccessToken.Domain)
	assert.Equal(t, cfgs.AccessToken.MaxAge, cfgs.CSRFToken.MaxAge,
		"csrf token lifetime tracks the access token")
}
