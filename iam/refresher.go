package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/gateway"
	"github.com/gradeloop/authkit/session"
	"github.com/gradeloop/authkit/token"
)

// Refresher performs the POST /auth/refresh exchange on a bare http.Client.
// It deliberately bypasses the gateway pipeline: the exchange is what the
// pipeline falls back on, so routing it through the pipeline would recurse.
type Refresher struct {
	baseURL  string
	httpc    *http.Client
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherHTTPClient overrides the underlying http.Client (tests).
func WithRefresherHTTPClient(httpc *http.Client) RefresherOption {
	return func(r *Refresher) { r.httpc = httpc }
}

// WithRefresherClock injects a clock, for tests.
func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithRefresherLogger attaches a logger.
func WithRefresherLogger(log zerolog.Logger) RefresherOption {
	return func(r *Refresher) { r.log = log }
}

// NewRefresher creates a Refresher against the IAM base URL.
func NewRefresher(baseURL string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpc:    &http.Client{Timeout: authkit.RequestTimeout},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges the refresh token for a new pair. A 401 or 403 from the
// server comes back as *authkit.AuthenticationError so the session manager
// tears the session down; everything else is transient.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, &authkit.ValidationError{Message: "encode refresh request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return nil, &authkit.NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, &authkit.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &authkit.NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The rotation ledger rejects reused tokens with 403; both statuses
		// mean this refresh token is dead.
		r.log.Warn().Int("status", resp.StatusCode).Msg("refresh token rejected")
		return nil, &authkit.AuthenticationError{Message: "refresh token rejected"}
	case resp.StatusCode >= 400:
		return nil, gateway.MapStatus(resp.StatusCode, body, resp.Header)
	}

	var ar authResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, &authkit.ValidationError{Message: "decode refresh response: " + err.Error()}
	}
	if err := r.validate.Struct(&ar); err != nil {
		return nil, schemaError(err)
	}

	now := r.now()
	res := &session.RefreshResult{
		Pair:      pairFromResponse(&ar, now),
		User:      ar.User,
		SessionID: token.ExtractSessionID(ar.AccessToken),
	}
	if res.SessionID == "" {
		res.SessionID = ar.User.ID
	}
	return res, nil
}
