// Package token encodes, decodes and inspects the signed session tokens
// issued by the IAM service. Full verification (signature, issuer, audience,
// expiry) is used wherever a token is trusted; the unverified helpers exist
// only as cheap client-side heuristics and must never back an authorization
// decision.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gradeloop/authkit"
)

// Typed decode failures.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
)

const (
	// Leeway tolerated when validating exp/iat, to absorb clock skew.
	ClockSkewLeeway = 30 * time.Second

	defaultIssuer   = "gradeloop.com"
	defaultAudience = "gradeloop-web"
	signingMethod   = "HS256"
)

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	Email       string   `json:"email"`
	UserType    string   `json:"user_type"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"session_id"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims embedded in a refresh token. TokenID is the
// rotation identifier tracked by the server-side replay ledger.
type RefreshClaims struct {
	SessionID string `json:"session_id"`
	TokenID   string `json:"token_id"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh tokens with separate HS256
// secrets.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTLs overrides the access and refresh token lifetimes.
func WithTTLs(access, refresh time.Duration) Option {
	return func(c *Codec) {
		c.accessTTL = access
		c.refreshTTL = refresh
	}
}

// WithIssuerAudience overrides the expected issuer and audience.
func WithIssuerAudience(iss, aud string) Option {
	return func(c *Codec) {
		c.issuer = iss
		c.audience = aud
	}
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a Codec. The two secrets must differ so an access token
// can never be replayed as a refresh token.
func NewCodec(accessSecret, refreshSecret []byte, opts ...Option) *Codec {
	c := &Codec{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		accessTTL:     authkit.AccessTokenTTL,
		refreshTTL:    authkit.RefreshTokenTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EncodeAccess mints a signed access token for the user bound to sessionID.
func (c *Codec) EncodeAccess(user *authkit.User, sessionID string) (string, *AccessClaims, error) {
	now := c.now()
	claims := &AccessClaims{
		Email:       user.Email,
		UserType:    user.UserType,
		Roles:       user.RoleNames(),
		Permissions: user.Permissions(),
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// EncodeRefresh mints a signed refresh token for the session. Each call
// produces a fresh TokenID, which is what rotates on refresh.
func (c *Codec) EncodeRefresh(userID, sessionID string) (string, *RefreshClaims, error) {
	now := c.now()
	claims := &RefreshClaims{
		SessionID: sessionID,
		TokenID:   uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims, nil
}

// DecodeAccess verifies an access token and returns its claims.
func (c *Codec) DecodeAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.decode(tokenString, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", ErrTokenMalformed)
	}
	return claims, nil
}

// DecodeRefresh verifies a refresh token and returns its claims.
func (c *Codec) DecodeRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.decode(tokenString, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.TokenID == "" {
		return nil, fmt.Errorf("%w: missing subject or token id", ErrTokenMalformed)
	}
	return claims, nil
}

func (c *Codec) decode(tokenString string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithLeeway(ClockSkewLeeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		// Bad signature, wrong issuer/audience, not yet valid, wrong alg.
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// IsExpired checks the exp claim without verifying the signature. Any decode
// failure counts as expired (fail safe).
func (c *Codec) IsExpired(tokenString string) bool {
	exp, ok := unverifiedExpiry(tokenString)
	if !ok {
		return true
	}
	return !c.now().Before(exp)
}

// TimeUntilExpiry returns how long until the token's exp claim, without
// verifying the signature. Zero when already expired or undecodable.
func (c *Codec) TimeUntilExpiry(tokenString string) time.Duration {
	exp, ok := unverifiedExpiry(tokenString)
	if !ok {
		return 0
	}
	d := exp.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// ShouldRefresh reports whether the token is inside the proactive refresh
// window: still alive but with no more than RefreshThreshold remaining.
func (c *Codec) ShouldRefresh(tokenString string) bool {
	d := c.TimeUntilExpiry(tokenString)
	return d > 0 && d <= authkit.RefreshThreshold
}

// ExtractSessionID pulls session_id without verification.
func ExtractSessionID(tokenString string) string {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.SessionID
}

// ExtractUserID pulls the subject without verification.
func ExtractUserID(tokenString string) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.Subject
}

// ExpiryOf returns the exp claim without verification. The second return is
// false when the token cannot be decoded or carries no expiry.
func ExpiryOf(tokenString string) (time.Time, bool) {
	return unverifiedExpiry(tokenString)
}

func unverifiedExpiry(tokenString string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
