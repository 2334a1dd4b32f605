// Package replay closes the refresh-token rotation gap: every rotated-out
// refresh token is recorded, and a token that shows up again after rotation
// marks the whole session as compromised. Backends exist for memory
// (single-node), redis (shared) and mongo (durable).
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrReplayed is returned by MarkUsed when the token was already consumed by
// an earlier rotation. The caller must treat this as credential theft and
// revoke the session.
var ErrReplayed = errors.New("refresh token replayed")

// Entry records one consumed refresh token.
type Entry struct {
	TokenHash string    `json:"token_hash" bson:"_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	UsedAt    time.Time `json:"used_at" bson:"used_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// Ledger tracks consumed refresh tokens and revoked sessions. Entries only
// need to live as long as the token they shadow; backends expire them at
// ExpiresAt.
type Ledger interface {
	// MarkUsed records that the token was consumed by a rotation. Returns
	// ErrReplayed when it was already recorded.
	MarkUsed(ctx context.Context, entry Entry) error
	// Seen reports whether the token was already consumed.
	Seen(ctx context.Context, tokenHash string) (bool, error)
	// RevokeSession invalidates every token of a session until expiry.
	RevokeSession(ctx context.Context, sessionID string, until time.Time) error
	// IsSessionRevoked reports whether the session has been revoked.
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

// HashToken derives the ledger key from a raw refresh token. Raw tokens are
// never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CheckAndRotate is the one call sites use: it verifies the incoming token
// was not already consumed and its session not revoked, then records it. On
// replay it revokes the session before reporting ErrReplayed.
func CheckAndRotate(ctx context.Context, l Ledger, entry Entry) error {
	revoked, err := l.IsSessionRevoked(ctx, entry.SessionID)
	if err != nil {
		return err
	}
	if revoked {
		return ErrReplayed
	}

	err = l.MarkUsed(ctx, entry)
	if errors.Is(err, ErrReplayed) {
		// Someone presented a token that was already rotated out. Either the
		// legitimate client or the thief holds the newer token; revoking the
		// session cuts off both.
		if revokeErr := l.RevokeSession(ctx, entry.SessionID, entry.ExpiresAt); revokeErr != nil {
			return errors.Join(err, revokeErr)
		}
		return err
	}
	return err
}
