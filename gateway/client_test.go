package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeloop/authkit"
	"github.com/gradeloop/authkit/cookie"
	"github.com/gradeloop/authkit/csrf"
	"github.com/gradeloop/authkit/session"
	"github.com/gradeloop/authkit/state"
)

type stubRefresher struct {
	calls  int32
	result *session.RefreshResult
	err    error
}

func (s *stubRefresher) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type fixture struct {
	client    *Client
	jar       *cookie.MemoryJar
	store     *state.Store
	manager   *session.Manager
	refresher *stubRefresher
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	jar := cookie.NewMemoryJar()
	store := state.NewStore()
	refresher := &stubRefresher{}
	manager := session.NewManager(jar, cookie.Defaults("", true), store, refresher)
	client := New(baseURL, manager, store)
	return &fixture{client: client, jar: jar, store: store, manager: manager, refresher: refresher}
}

func (f *fixture) login(t *testing.T, accessToken string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.manager.StoreTokenPair(authkit.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     "refresh-1",
		ExpiresAt:        now.Add(authkit.AccessTokenTTL),
		RefreshExpiresAt: now.Add(authkit.RefreshTokenTTL),
	}, "sess-1"))
	f.store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, now.Add(authkit.AccessTokenTTL))
}

func TestDo_InjectsBearerAndContentType(t *testing.T) {
	var gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")

	var out map[string]string
	require.NoError(t, f.client.Get(context.Background(), "/courses", &out))

	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "yes", out["ok"])
}

func TestDo_MutatingRequestCarriesCSRFHeader(t *testing.T) {
	var gotCSRF string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCSRF = r.Header.Get(csrf.HeaderName)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")
	want, _ := f.jar.Get(cookie.CSRFToken)

	require.NoError(t, f.client.Post(context.Background(), "/courses", map[string]string{"name": "algebra"}, nil))
	assert.Equal(t, want, gotCSRF)

	gotCSRF = "unset"
	require.NoError(t, f.client.Get(context.Background(), "/courses", nil))
	assert.Empty(t, gotCSRF, "GET must not carry the CSRF header")
}

func TestDo_NoCredentialsOnAllowListedEndpoints(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")

	require.NoError(t, f.client.Post(context.Background(), "/auth/forgot-password", map[string]string{"email": "x@y.z"}, nil))
	assert.Empty(t, gotAuth)
}

func TestDo_PreemptiveRefreshBeforeExpiry(t *testing.T) {
	var attempts int32
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	// Three minutes of access-token lifetime left puts the session inside the
	// refresh window.
	now := time.Now()
	require.NoError(t, f.manager.StoreTokenPair(authkit.TokenPair{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		ExpiresAt:        now.Add(3 * time.Minute),
		RefreshExpiresAt: now.Add(authkit.RefreshTokenTTL),
	}, "sess-1"))
	f.store.Login(&authkit.User{ID: "u-1"}, &authkit.Session{ID: "sess-1"}, now.Add(3*time.Minute))

	f.refresher.result = &session.RefreshResult{
		Pair: authkit.TokenPair{
			AccessToken:      "access-2",
			RefreshToken:     "refresh-2",
			ExpiresAt:        time.Now().Add(authkit.AccessTokenTTL),
			RefreshExpiresAt: time.Now().Add(authkit.RefreshTokenTTL),
		},
		SessionID: "sess-1",
	}

	require.NoError(t, f.client.Get(context.Background(), "/courses", nil))

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refresher.calls), "exactly one refresh, before the business request")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "the business request is sent once, no 401 retry")
	assert.Equal(t, "Bearer access-2", gotAuth, "the request carries the rotated token")

	// The rotated pair pushed expiry out, so the next call refreshes nothing.
	require.NoError(t, f.client.Get(context.Background(), "/courses", nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refresher.calls))
}

func TestDo_PathEmbeddingAuthRouteStillCarriesCredentials(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")

	// Only the exact auth paths are allow-listed; a business route that
	// happens to embed one is authenticated like any other.
	require.NoError(t, f.client.Get(context.Background(), "/users/auth/login-history", nil))
	assert.Equal(t, "Bearer access-1", gotAuth)

	gotAuth = "unset"
	require.NoError(t, f.client.Get(context.Background(), "/auth/login?next=/home", nil))
	assert.Empty(t, gotAuth, "query strings do not defeat the allow-list match")
}

func TestDo_RetriesOnceAfter401(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")
	f.refresher.result = &session.RefreshResult{
		Pair: authkit.TokenPair{
			AccessToken:      "access-2",
			RefreshToken:     "refresh-2",
			ExpiresAt:        time.Now().Add(authkit.AccessTokenTTL),
			RefreshExpiresAt: time.Now().Add(authkit.RefreshTokenTTL),
		},
		SessionID: "sess-1",
	}

	require.NoError(t, f.client.Get(context.Background(), "/courses", nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refresher.calls))
}

func TestDo_SecondConsecutive401IsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")
	f.refresher.result = &session.RefreshResult{
		Pair: authkit.TokenPair{
			AccessToken:      "access-2",
			RefreshToken:     "refresh-2",
			ExpiresAt:        time.Now().Add(authkit.AccessTokenTTL),
			RefreshExpiresAt: time.Now().Add(authkit.RefreshTokenTTL),
		},
		SessionID: "sess-1",
	}

	err := f.client.Get(context.Background(), "/courses", nil)
	require.Error(t, err)

	var authErr *authkit.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.refresher.calls), "exactly one refresh attempt")
}

func TestDo_FailedRefreshAfter401SurfacesSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")
	f.refresher.err = &authkit.AuthenticationError{Message: "refresh token rejected"}

	err := f.client.Get(context.Background(), "/courses", nil)
	require.Error(t, err)

	var authErr *authkit.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "session expired", authErr.Message)
	assert.False(t, f.store.IsAuthenticated(), "failed refresh tears the session down")
}

func TestDo_AuthEndpoints401DoesNotTriggerRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")

	err := f.client.Post(context.Background(), "/auth/login", map[string]string{"email": "x", "password": "y"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.refresher.calls), "a 401 from login is a real rejection")
}

func TestDo_ErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{
			name:   "validation 400",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				var e *authkit.ValidationError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name:   "validation 422",
			status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, err error) {
				var e *authkit.ValidationError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name:   "authorization 403",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var e *authkit.AuthorizationError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name:   "rate limit 429",
			status: http.StatusTooManyRequests,
			header: http.Header{"Retry-After": []string{"30"}},
			check: func(t *testing.T, err error) {
				var e *authkit.RateLimitError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 30*time.Second, e.RetryAfter)
			},
		},
		{
			name:   "server 500",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var e *authkit.ServerError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, http.StatusInternalServerError, e.Status)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vs := range tc.header {
					for _, v := range vs {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			f := newFixture(t, srv.URL)
			f.login(t, "access-1")

			err := f.client.Get(context.Background(), "/courses", nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestDo_NetworkErrorWrapped(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1") // nothing listens here
	f.login(t, "access-1")

	err := f.client.Get(context.Background(), "/courses", nil)
	require.Error(t, err)

	var netErr *authkit.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.True(t, authkit.IsRetryable(err))
}

func TestDo_SuccessRecordsActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	f.login(t, "access-1")
	before := f.store.LastActivity()

	// The store coalesces activity writes to 30s; a same-instant success is
	// deliberately dropped, so only assert it does not move backwards.
	require.NoError(t, f.client.Get(context.Background(), "/courses", nil))
	assert.False(t, f.store.LastActivity().Before(before))
}
