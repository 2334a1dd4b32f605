package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(token, session string, exp time.Time) Entry {
	return Entry{
		TokenHash: HashToken(token),
		SessionID: session,
		UserID:    "u-1",
		UsedAt:    time.Now(),
		ExpiresAt: exp,
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("refresh-token-1")
	b := HashToken("refresh-token-1")
	c := HashToken("refresh-token-2")

	assert.Equal(t, a, b, "deterministic")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "sha256 hex")
	assert.NotContains(t, a, "refresh-token", "raw token never leaks into the key")
}

func TestMemoryLedger_MarkUsedOnce(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, l.MarkUsed(ctx, entry("tok-1", "sess-1", exp)))

	seen, err := l.Seen(ctx, HashToken("tok-1"))
	require.NoError(t, err)
	assert.True(t, seen)

	err = l.MarkUsed(ctx, entry("tok-1", "sess-1", exp))
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestMemoryLedger_ExpiredTokenIsNoop(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ctx := context.Background()

	// A token past its own expiry cannot be replayed; recording it would
	// only grow the ledger.
	require.NoError(t, l.MarkUsed(ctx, entry("tok-old", "sess-1", time.Now().Add(-time.Minute))))
	seen, err := l.Seen(ctx, HashToken("tok-old"))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryLedger_SessionRevocation(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ctx := context.Background()

	revoked, err := l.IsSessionRevoked(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, l.RevokeSession(ctx, "sess-1", time.Now().Add(time.Hour)))

	revoked, err = l.IsSessionRevoked(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestCheckAndRotate_FirstUsePasses(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()

	err := CheckAndRotate(context.Background(), l, entry("tok-1", "sess-1", time.Now().Add(time.Hour)))
	assert.NoError(t, err)
}

func TestCheckAndRotate_ReplayRevokesSession(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, CheckAndRotate(ctx, l, entry("tok-1", "sess-1", exp)))

	// Same token presented again: the rotation chain forked.
	err := CheckAndRotate(ctx, l, entry("tok-1", "sess-1", exp))
	assert.ErrorIs(t, err, ErrReplayed)

	revoked, err2 := l.IsSessionRevoked(ctx, "sess-1")
	require.NoError(t, err2)
	assert.True(t, revoked, "replay revokes the whole session")

	// Even a never-seen token of the revoked session is now refused.
	err = CheckAndRotate(ctx, l, entry("tok-2", "sess-1", exp))
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestCheckAndRotate_OtherSessionsUnaffected(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, CheckAndRotate(ctx, l, entry("tok-1", "sess-1", exp)))
	_ = CheckAndRotate(ctx, l, entry("tok-1", "sess-1", exp)) // revokes sess-1

	err := CheckAndRotate(ctx, l, entry("tok-9", "sess-2", exp))
	assert.NoError(t, err)
}
