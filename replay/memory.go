package replay

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryLedger keeps consumed tokens in a ttlcache. Suitable for a single
// node; a fleet needs the redis or mongo backend.
type MemoryLedger struct {
	tokens  *ttlcache.Cache[string, Entry]
	revoked *ttlcache.Cache[string, time.Time]
	now     func() time.Time
}

// NewMemoryLedger creates a ledger whose entries expire automatically.
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{
		tokens: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
		revoked: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
		now: time.Now,
	}
	go l.tokens.Start()
	go l.revoked.Start()
	return l
}

// WithClock injects a clock, for tests.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

// MarkUsed implements Ledger.
func (l *MemoryLedger) MarkUsed(_ context.Context, entry Entry) error {
	if l.tokens.Has(entry.TokenHash) {
		return ErrReplayed
	}
	ttl := entry.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		// Already past its own expiry; nothing can replay it.
		return nil
	}
	l.tokens.Set(entry.TokenHash, entry, ttl)
	return nil
}

// Seen implements Ledger.
func (l *MemoryLedger) Seen(_ context.Context, tokenHash string) (bool, error) {
	return l.tokens.Has(tokenHash), nil
}

// RevokeSession implements Ledger.
func (l *MemoryLedger) RevokeSession(_ context.Context, sessionID string, until time.Time) error {
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	l.revoked.Set(sessionID, until, ttl)
	return nil
}

// IsSessionRevoked implements Ledger.
func (l *MemoryLedger) IsSessionRevoked(_ context.Context, sessionID string) (bool, error) {
	return l.revoked.Has(sessionID), nil
}

// Close stops the cleanup goroutines.
func (l *MemoryLedger) Close() error {
	l.tokens.Stop()
	l.revoked.Stop()
	return nil
}
