package iam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeloop/authkit"
)

func TestRefresher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/refresh", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body["refresh_token"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"user":          validUserJSON(),
		})
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL)
	res, err := r.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-access", res.Pair.AccessToken)
	assert.Equal(t, "new-refresh", res.Pair.RefreshToken)
	require.NotNil(t, res.User)
	assert.Equal(t, res.User.ID, res.SessionID, "opaque token falls back to the user id")
	assert.WithinDuration(t, time.Now().Add(authkit.AccessTokenTTL), res.Pair.ExpiresAt, time.Minute)
}

func TestRefresher_401IsAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL)
	_, err := r.Refresh(context.Background(), "dead-refresh")
	require.Error(t, err)

	var authErr *authkit.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRefresher_403IsAuthenticationError(t *testing.T) {
	// The rotation ledger answers replayed tokens with 403.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL)
	_, err := r.Refresh(context.Background(), "replayed-refresh")
	require.Error(t, err)

	var authErr *authkit.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRefresher_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL)
	_, err := r.Refresh(context.Background(), "refresh")
	require.Error(t, err)

	var authErr *authkit.AuthenticationError
	assert.False(t, errors.As(err, &authErr), "5xx must not tear the session down")
	assert.True(t, authkit.IsRetryable(err))
}

func TestRefresher_NetworkError(t *testing.T) {
	r := NewRefresher("http://127.0.0.1:1")
	_, err := r.Refresh(context.Background(), "refresh")
	require.Error(t, err)

	var netErr *authkit.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestRefresher_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "only-this"})
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL)
	_, err := r.Refresh(context.Background(), "refresh")
	require.Error(t, err)

	var valErr *authkit.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
