// Package iam is the typed client for the gradeloop IAM service. It rides on
// the gateway for request plumbing and validates every decoded response
// against its schema before any field is trusted.
package iam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/gateway"
	"github.com/gradeloop/authkit/session"
	"github.com/gradeloop/authkit/state"
	"github.com/gradeloop/authkit/token"
)

// authResponse is the payload returned by login and refresh.
type authResponse struct {
	AccessToken  string        `json:"access_token" validate:"required"`
	RefreshToken string        `json:"refresh_token" validate:"required"`
	User         *authkit.User `json:"user" validate:"required"`
}

type userResponse struct {
	User *authkit.User `json:"user" validate:"required"`
}

type validateResponse struct {
	User *authkit.User `json:"user"`
}

// Client exposes the IAM endpoints as typed operations.
type Client struct {
	gw       *gateway.Client
	store    *state.Store
	manager  *session.Manager
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates an IAM client over the gateway, state store and session
// manager.
func NewClient(gw *gateway.Client, store *state.Store, manager *session.Manager, opts ...ClientOption) *Client {
	c := &Client{
		gw:       gw,
		store:    store,
		manager:  manager,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates against POST /auth/login, stores the issued token pair
// and transitions the state store to authenticated. The loading flag is held
// for the duration so guards can render their loading state.
func (c *Client) Login(ctx context.Context, email, password string) (*authkit.User, error) {
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	var resp authResponse
	if err := c.gw.Post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := c.checkSchema(&resp); err != nil {
		return nil, err
	}

	now := c.now()
	pair := pairFromResponse(&resp, now)
	sessionID := token.ExtractSessionID(resp.AccessToken)
	if sessionID == "" {
		sessionID = resp.User.ID
	}

	if err := c.manager.StoreTokenPair(pair, sessionID); err != nil {
		return nil, err
	}
	c.store.Login(resp.User, &authkit.Session{
		ID:             sessionID,
		UserID:         resp.User.ID,
		CreatedAt:      now,
		ExpiresAt:      pair.RefreshExpiresAt,
		LastActivityAt: now,
	}, pair.ExpiresAt)

	c.log.Info().Str("user_id", resp.User.ID).Msg("login succeeded")
	return resp.User, nil
}

// Logout notifies the server, then tears down local session state. The local
// teardown happens even when the server call fails: a dead backend must never
// keep a client logged in.
func (c *Client) Logout(ctx context.Context) error {
	err := c.gw.Post(ctx, "/auth/logout", nil, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("server-side logout failed, clearing local session anyway")
	}
	c.manager.Clear()
	return err
}

// Validate asks the server whether the current session is still good. A 401
// means "not valid" rather than an error.
func (c *Client) Validate(ctx context.Context) (bool, *authkit.User, error) {
	var resp validateResponse
	err := c.gw.Get(ctx, "/auth/validate", &resp)
	if err != nil {
		var authErr *authkit.AuthenticationError
		if errors.As(err, &authErr) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if resp.User != nil {
		if err := c.validate.Struct(resp.User); err != nil {
			return false, nil, schemaError(err)
		}
		c.store.SetUser(resp.User)
	}
	return true, resp.User, nil
}

// CurrentUser fetches the authenticated principal from GET /users/me and
// updates the state store with the result.
func (c *Client) CurrentUser(ctx context.Context) (*authkit.User, error) {
	var resp userResponse
	if err := c.gw.Get(ctx, "/users/me", &resp); err != nil {
		return nil, err
	}
	if err := c.checkSchema(&resp); err != nil {
		return nil, err
	}
	c.store.SetUser(resp.User)
	return resp.User, nil
}

// ForgotPassword requests a reset email. Unauthenticated endpoint.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.gw.Post(ctx, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword completes a reset flow with the emailed token.
// Unauthenticated endpoint.
func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return c.gw.Post(ctx, "/auth/reset-password", map[string]string{
		"token":    resetToken,
		"password": newPassword,
	}, nil)
}

// ChangePassword updates the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.gw.Patch(ctx, "/users/me/password", map[string]string{
		"current_password": current,
		"new_password":     next,
	}, nil)
}

func (c *Client) checkSchema(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError converts a validator failure on a decoded response into the
// typed taxonomy: a malformed server reply is a validation problem, not an
// auth one.
func schemaError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		return &authkit.ValidationError{Message: "response failed schema validation", Fields: fields}
	}
	return &authkit.ValidationError{Message: fmt.Sprintf("response failed schema validation: %v", err)}
}

// pairFromResponse builds the token pair, preferring the exp claims embedded
// in the tokens and falling back to the default lifetimes when a token is
// opaque.
func pairFromResponse(resp *authResponse, now time.Time) authkit.TokenPair {
	pair := authkit.TokenPair{
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		ExpiresAt:        now.Add(authkit.AccessTokenTTL),
		RefreshExpiresAt: now.Add(authkit.RefreshTokenTTL),
	}
	if exp, ok := token.ExpiryOf(resp.AccessToken); ok {
		pair.ExpiresAt = exp
	}
	if exp, ok := token.ExpiryOf(resp.RefreshToken); ok {
		pair.RefreshExpiresAt = exp
	}
	return pair
}
