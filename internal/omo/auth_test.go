package omo

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
)

func newTestAuth(serverURL string) *Auth {
	gw := NewGateway(http.DefaultClient, serverURL, "1.6.0")
	auth := NewAuth(gw, "test@email.com", "password123")
	gw.SetTokenSource(auth)
	return auth
}

func TestAuth_LoginSuccess(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{
			"data": {
				"accessToken": "access_token_123",
				"refreshToken": "refresh_token_456",
				"accessTokenExpiresIn": 1999999999000
			},
			"message": "Success!",
			"success": true
		}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)

	var persisted []any
	auth.OnTokenUpdate(func(accessToken, refreshToken string, expiresAt int64) error {
		persisted = []any{accessToken, refreshToken, expiresAt}
		return nil
	})

	err := auth.Login(context.Background())
	require.NoError(t, err)

	token := auth.Tokens()
	assert.Equal(t, "access_token_123", token.AccessToken)
	assert.Equal(t, "refresh_token_456", token.RefreshToken)
	assert.Equal(t, int64(1999999999), token.ExpiresAt, "millisecond expiry normalized to seconds")

	assert.Equal(t, "test@email.com", gotBody["username"])
	assert.Equal(t, "password123", gotBody["password"])
	assert.Equal(t, false, gotBody["isPassportLogin"])
	assert.Equal(t, DeriveDeviceID("test@email.com"), gotBody["deviceId"])

	require.NotNil(t, persisted, "token update callback must fire on login")
	assert.Equal(t, "access_token_123", persisted[0])
}

func TestAuth_LoginInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"data":null,"message":"Invalid credentials","success":false}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	err := auth.Login(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestAuth_LoginMissingAccessTokenIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"refreshToken":"only-refresh"},"success":true}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	err := auth.Login(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestAuth_RelativeExpiresInIsAnchoredToNow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"accessToken":"a","refreshToken":"r","expiresIn":3600}}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	now := time.Unix(1_700_000_000, 0)
	auth.now = func() time.Time { return now }

	require.NoError(t, auth.Login(context.Background()))
	assert.Equal(t, now.Unix()+3600, auth.Tokens().ExpiresAt)
}

func TestAuth_FailedLoginsBackOff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	now := time.Unix(1_700_000_000, 0)
	auth.now = func() time.Time { return now }

	// First attempt hits the network and fails.
	err := auth.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), calls.Load())

	// Inside the 2s window the next attempt fails fast, no network call.
	now = now.Add(1 * time.Second)
	err = auth.Login(context.Background())
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "rate-limited")
	assert.Equal(t, int32(1), calls.Load(), "rate-limited attempt must not reach the network")

	// Past the window the attempt goes through (and fails again).
	now = now.Add(2 * time.Second)
	err = auth.Login(context.Background())
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoginBackoff_Windows(t *testing.T) {
	assert.Equal(t, time.Duration(0), loginBackoff(0))
	assert.Equal(t, 2*time.Second, loginBackoff(1))
	assert.Equal(t, 4*time.Second, loginBackoff(2))
	assert.Equal(t, 256*time.Second, loginBackoff(8))
	assert.Equal(t, 300*time.Second, loginBackoff(9), "window is capped at 300s")
	assert.Equal(t, 300*time.Second, loginBackoff(50))
}

func TestAuth_SuccessResetsFailureCounter(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"data":{"accessToken":"a","refreshToken":"r","accessTokenExpiresIn":1999999999}}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	now := time.Unix(1_700_000_000, 0)
	auth.now = func() time.Time { return now }

	require.Error(t, auth.Login(context.Background()))

	fail.Store(false)
	now = now.Add(10 * time.Second)
	require.NoError(t, auth.Login(context.Background()))

	// The next attempt is never rate-limited after a success.
	require.NoError(t, auth.Login(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuth_EnsureValidIsNoOpWithFreshToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	auth.SetTokens("access", "refresh", 9999999999)

	require.NoError(t, auth.EnsureValid(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}

func TestAuth_EnsureValidRefreshesThenFallsBackToLogin(t *testing.T) {
	var refreshCalls, loginCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshCalls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		case "/auth/login":
			loginCalls.Add(1)
			w.Write([]byte(`{"data":{"accessToken":"new-access","refreshToken":"new-refresh","accessTokenExpiresIn":1999999999}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	auth.SetTokens("stale", "refresh-token", 1000) // long expired

	require.NoError(t, auth.EnsureValid(context.Background()))
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(1), loginCalls.Load())
	assert.Equal(t, "new-access", auth.Tokens().AccessToken)
}

func TestAuth_EnsureValidUsesRefreshToken(t *testing.T) {
	var loginCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "refresh-token", body["refreshToken"])
			w.Write([]byte(`{"data":{"accessToken":"refreshed","accessTokenExpiresIn":1999999999}}`))
		case "/auth/login":
			loginCalls.Add(1)
		}
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	auth.SetTokens("stale", "refresh-token", 1000)

	require.NoError(t, auth.EnsureValid(context.Background()))
	token := auth.Tokens()
	assert.Equal(t, "refreshed", token.AccessToken)
	assert.Equal(t, "refresh-token", token.RefreshToken, "refresh token kept when the response omits one")
	assert.Equal(t, int32(0), loginCalls.Load())
}

func TestAuth_SetTokensNormalizesExpiry(t *testing.T) {
	auth := newTestAuth("http://unused")
	auth.SetTokens("a", "r", 1749692400000)
	assert.Equal(t, int64(1749692400), auth.Tokens().ExpiresAt)
}

func TestAuth_PersistenceFailureDoesNotFailLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"accessToken":"a","accessTokenExpiresIn":1999999999}}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	auth.OnTokenUpdate(func(string, string, int64) error {
		return assert.AnError
	})

	require.NoError(t, auth.Login(context.Background()))
}
