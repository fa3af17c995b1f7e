package omo

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	// expiryMarginSeconds is how long before the actual expiry a token is
	// already treated as expired, so a poll never starts with a token that
	// dies mid-request.
	expiryMarginSeconds = 300

	// maxSaneEpochSeconds is the largest value still interpreted as epoch
	// seconds (year 2286). Anything bigger must be epoch milliseconds.
	maxSaneEpochSeconds = 9_999_999_999

	deviceIDSalt   = "omo_lavanderia_"
	deviceIDHexLen = 32
)

// Token holds the authentication state for one account. ExpiresAt is always
// epoch seconds; normalization from milliseconds happens once, when the raw
// value enters via NormalizeExpiry.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	DeviceID     string
}

// NormalizeExpiry converts a raw expiry value to epoch seconds. The upstream
// API reports expiry in milliseconds on some endpoints and seconds on
// others; a magnitude check disambiguates. Call this exactly once per raw
// value — an already-normalized value passed again keeps its meaning only
// because sane epoch-second values never exceed the threshold.
func NormalizeExpiry(raw int64) int64 {
	if raw > maxSaneEpochSeconds {
		return raw / 1000
	}
	return raw
}

// DeriveDeviceID produces a stable device identifier for a username. The
// upstream API requires a deviceId on login; hashing keeps it consistent
// across restarts without persisting anything.
func DeriveDeviceID(username string) string {
	sum := sha256.Sum256([]byte(deviceIDSalt + username))
	return hex.EncodeToString(sum[:])[:deviceIDHexLen]
}

// IsExpiredAt reports whether the token is expired (or within the safety
// margin of expiring) at the given time. A token without an access token is
// always expired.
func (t Token) IsExpiredAt(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	return now.Unix() >= t.ExpiresAt-expiryMarginSeconds
}
