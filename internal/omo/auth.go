package omo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	maxLoginBackoffSeconds = 300
	defaultTokenTTLSeconds = 3600

	// Normalized expiry values below this are a relative duration ("expires
	// in N seconds"), not an epoch timestamp. The cutoff sits past any
	// plausible token lifetime and before any current epoch value.
	minAbsoluteExpiry = 1_000_000_000
)

// TokenUpdateFunc receives the new token triple after every successful
// login or refresh so an external store can persist it. A returned error is
// logged and swallowed; persistence failure never fails the login.
type TokenUpdateFunc func(accessToken, refreshToken string, expiresAt int64) error

// Auth owns the token lifecycle for one account: login, refresh-token
// exchange, expiry checks and the fail-fast backoff after repeated login
// failures. All methods are safe for concurrent use; at most one login is
// in flight at a time.
type Auth struct {
	gw       *Gateway
	username string
	password string
	deviceID string
	now      func() time.Time

	mu          sync.Mutex
	token       Token
	onUpdate    TokenUpdateFunc
	failures    int
	lastAttempt time.Time
}

// NewAuth creates an auth client for the given credentials.
func NewAuth(gw *Gateway, username, password string) *Auth {
	return &Auth{
		gw:       gw,
		username: username,
		password: password,
		deviceID: DeriveDeviceID(username),
		now:      time.Now,
	}
}

// OnTokenUpdate registers the single persistence observer.
func (a *Auth) OnTokenUpdate(fn TokenUpdateFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUpdate = fn
}

// SetTokens seeds the auth state from externally persisted tokens. The raw
// expiry is normalized to seconds here, at ingestion.
func (a *Auth) SetTokens(accessToken, refreshToken string, expiresAtRaw int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    NormalizeExpiry(expiresAtRaw),
		DeviceID:     a.deviceID,
	}
}

// Tokens returns a copy of the current token state.
func (a *Auth) Tokens() Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// IsTokenExpired reports whether the current token is missing, expired, or
// inside the safety margin.
func (a *Auth) IsTokenExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token.IsExpiredAt(a.now())
}

// EnsureValid makes sure a usable access token is held, refreshing or
// re-logging in as needed. It is a no-op while the token has more than the
// safety margin of life left.
func (a *Auth) EnsureValid(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.token.IsExpiredAt(a.now()) {
		return nil
	}

	if a.token.RefreshToken != "" {
		if err := a.refreshLocked(ctx); err == nil {
			return nil
		}
		// Refresh failure falls through to a full login and is never
		// surfaced on its own.
	}
	return a.loginLocked(ctx)
}

// Login authenticates with username and password unconditionally.
func (a *Auth) Login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked(ctx)
}

// accessToken implements tokenSource.
func (a *Auth) accessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token.AccessToken
}

// reauthenticate implements tokenSource. A 401 means the cached token was
// already rejected, so this goes straight to a full login.
func (a *Auth) reauthenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked(ctx)
}

// loginBackoff returns how long after the last failed attempt further
// logins are refused, given the consecutive failure count.
func loginBackoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	secs := int64(maxLoginBackoffSeconds)
	if failures < 9 {
		secs = int64(1) << failures
		if secs > maxLoginBackoffSeconds {
			secs = maxLoginBackoffSeconds
		}
	}
	return time.Duration(secs) * time.Second
}

// loginLocked performs the login call. Callers must hold a.mu, which is
// what keeps concurrent triggers down to a single in-flight login.
func (a *Auth) loginLocked(ctx context.Context) error {
	if a.failures > 0 {
		window := loginBackoff(a.failures)
		if wait := a.lastAttempt.Add(window).Sub(a.now()); wait > 0 {
			return &AuthError{Message: fmt.Sprintf(
				"login rate-limited after %d failures, retry in %ds",
				a.failures, int(wait.Seconds())+1)}
		}
	}

	a.lastAttempt = a.now()

	body := map[string]any{
		"username":        a.username,
		"password":        a.password,
		"isPassportLogin": false,
		"deviceId":        a.deviceID,
	}

	payload, err := a.gw.Request(ctx, http.MethodPost, "/auth/login", body, nil, false)
	if err != nil {
		a.failures++
		return &AuthError{Message: fmt.Sprintf("login failed: %v", err)}
	}

	token, err := a.tokenFromPayload(payload, true)
	if err != nil {
		a.failures++
		return &AuthError{Message: fmt.Sprintf("login failed: %v", err)}
	}

	a.failures = 0
	a.token = token
	log.Printf("Logged in as %s", a.username)
	a.notifyLocked()
	return nil
}

// refreshLocked exchanges the refresh token for fresh credentials. Callers
// must hold a.mu.
func (a *Auth) refreshLocked(ctx context.Context) error {
	body := map[string]any{"refreshToken": a.token.RefreshToken}

	payload, err := a.gw.Request(ctx, http.MethodPost, "/auth/refresh", body, nil, false)
	if err != nil {
		log.Printf("Token refresh failed, falling back to login: %v", err)
		return err
	}

	token, err := a.tokenFromPayload(payload, false)
	if err != nil {
		log.Printf("Token refresh returned malformed payload, falling back to login: %v", err)
		return err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = a.token.RefreshToken
	}

	a.token = token
	log.Printf("Access token refreshed")
	a.notifyLocked()
	return nil
}

// tokenFromPayload builds a Token from a login or refresh response payload.
func (a *Auth) tokenFromPayload(payload json.RawMessage, requireAccess bool) (Token, error) {
	var resp struct {
		AccessToken          string `json:"accessToken"`
		RefreshToken         string `json:"refreshToken"`
		AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
		ExpiresIn            int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Token{}, fmt.Errorf("malformed auth payload: %w", err)
	}
	if requireAccess && resp.AccessToken == "" {
		return Token{}, fmt.Errorf("auth payload is missing access token")
	}

	raw := resp.AccessTokenExpiresIn
	if raw == 0 {
		raw = resp.ExpiresIn
	}

	var expiresAt int64
	switch normalized := NormalizeExpiry(raw); {
	case normalized == 0:
		expiresAt = a.now().Unix() + defaultTokenTTLSeconds
	case normalized < minAbsoluteExpiry:
		expiresAt = a.now().Unix() + normalized
	default:
		expiresAt = normalized
	}

	return Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		DeviceID:     a.deviceID,
	}, nil
}

// notifyLocked invokes the persistence observer with the current token.
func (a *Auth) notifyLocked() {
	if a.onUpdate == nil {
		return
	}
	t := a.token
	if err := a.onUpdate(t.AccessToken, t.RefreshToken, t.ExpiresAt); err != nil {
		log.Printf("Warning: token persistence callback failed: %v", err)
	}
}
