// Package gateway wraps HTTP access to the IAM service: it injects the
// access token and CSRF header, refreshes pre-emptively when a refresh is
// due, and turns HTTP failures into the typed error taxonomy. A 401 on an
// authenticated request triggers exactly one refresh-and-retry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/csrf"
	"github.com/gradeloop/authkit/session"
	"github.com/gradeloop/authkit/state"
)

// Endpoints that are called without credentials.
var noAuthEndpoints = []string{
	"/auth/login",
	"/auth/forgot-password",
	"/auth/reset-password",
}

// Endpoints whose own 401 must never trigger the refresh-and-retry path.
var authEndpoints = []string{
	"/auth/login",
	"/auth/refresh",
}

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Client is the authenticated HTTP client for the IAM service.
type Client struct {
	baseURL string
	httpc   *http.Client
	manager *session.Manager
	store   *state.Store
	log     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client (tests).
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// New creates a gateway Client. Requests time out after
// authkit.RequestTimeout; a timeout surfaces as a NetworkError, never as an
// auth failure.
func New(baseURL string, manager *session.Manager, store *state.Store, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: authkit.RequestTimeout},
		manager: manager,
		store:   store,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET and decodes the JSON response into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do performs one request through the full auth pipeline.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &authkit.ValidationError{Message: fmt.Sprintf("encode request body: %v", err)}
		}
	}

	needsAuth := !isNoAuthEndpoint(path)

	if needsAuth && c.manager.ShouldRefresh() {
		// Pre-emptive refresh. A transient failure here is logged and the
		// request proceeds with the current token; the 401 path below is
		// the backstop.
		if err := c.manager.RefreshAccessToken(ctx); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("pre-request refresh failed")
		}
	}

	resp, respBody, err := c.send(ctx, method, path, payload, needsAuth)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && needsAuth && !isAuthEndpoint(path) {
		// Exactly one refresh-and-retry, then surface the failure.
		if err := c.manager.RefreshAccessToken(ctx); err != nil {
			return &authkit.AuthenticationError{Message: "session expired"}
		}
		resp, respBody, err = c.send(ctx, method, path, payload, needsAuth)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &authkit.AuthenticationError{Message: "authentication required"}
		}
	}

	if resp.StatusCode >= 400 {
		return MapStatus(resp.StatusCode, respBody, resp.Header)
	}

	if c.store.IsAuthenticated() {
		c.store.UpdateLastActivity()
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &authkit.ValidationError{Message: fmt.Sprintf("decode response body: %v", err)}
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, needsAuth bool) (*http.Response, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, &authkit.NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Time", time.Now().UTC().Format(time.RFC3339))

	if needsAuth {
		if token, ok := c.manager.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if mutatingMethods[method] {
		if token, ok := c.manager.CSRFToken(); ok {
			req.Header.Set(csrf.HeaderName, token)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("network error")
		return nil, nil, &authkit.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &authkit.NetworkError{Err: err}
	}
	return resp, respBody, nil
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

// MapStatus converts an HTTP error status and body into the typed error
// taxonomy. Exposed for collaborators that talk to the IAM service outside
// the gateway pipeline (the refresh exchange).
func MapStatus(status int, body []byte, header http.Header) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &authkit.ValidationError{Message: msg, Fields: eb.Fields}
	case status == http.StatusUnauthorized:
		return &authkit.AuthenticationError{Message: msg}
	case status == http.StatusForbidden:
		return &authkit.AuthorizationError{Message: msg}
	case status == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &authkit.RateLimitError{Message: msg, RetryAfter: retryAfter}
	case status >= 500:
		return &authkit.ServerError{Status: status, Message: msg}
	default:
		return &authkit.ServerError{Status: status, Message: msg}
	}
}

// matchesEndpoint compares the request path against an endpoint, ignoring any
// query string. Exact match only: a business route that merely embeds an auth
// path (e.g. /users/auth/login-history) carries credentials like any other.
func matchesEndpoint(path, endpoint string) bool {
	path, _, _ = strings.Cut(path, "?")
	return path == endpoint
}

func isNoAuthEndpoint(path string) bool {
	for _, e := range noAuthEndpoints {
		if matchesEndpoint(path, e) {
			return true
		}
	}
	return false
}

func isAuthEndpoint(path string) bool {
	for _, e := range authEndpoints {
		if matchesEndpoint(path, e) {
			return true
		}
	}
	return false
}
