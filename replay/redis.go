package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger shares the replay ledger across a fleet through Redis. Keys
// expire with the token they shadow, so the set never grows past the live
// refresh-token population.
type RedisLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLedger creates a ledger on the given client. prefix namespaces the
// keys, e.g. "gradeloop".
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLedger) tokenKey(tokenHash string) string {
	return fmt.Sprintf("%s:replay:token:%s", l.prefix, tokenHash)
}

func (l *RedisLedger) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:replay:revoked:%s", l.prefix, sessionID)
}

// MarkUsed implements Ledger. SET NX is the atomic claim: exactly one caller
// per token wins, every later one sees ErrReplayed.
func (l *RedisLedger) MarkUsed(ctx context.Context, entry Entry) error {
	ttl := entry.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.tokenKey(entry.TokenHash), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}

// Seen implements Ledger.
func (l *RedisLedger) Seen(ctx context.Context, tokenHash string) (bool, error) {
	n, err := l.client.Exists(ctx, l.tokenKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return n > 0, nil
}

// RevokeSession implements Ledger.
func (l *RedisLedger) RevokeSession(ctx context.Context, sessionID string, until time.Time) error {
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := l.client.Set(ctx, l.sessionKey(sessionID), until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// IsSessionRevoked implements Ledger.
func (l *RedisLedger) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
