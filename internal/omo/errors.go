package omo

import "fmt"

// ApiError is returned for upstream failures: any non-401 status >= 400,
// a malformed response body, or a transport-level failure (in which case
// StatusCode is zero).
type ApiError struct {
	Message    string
	StatusCode int
}

func (e *ApiError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

// AuthError is returned when credentials or tokens are rejected, or when a
// login attempt is refused by the client-side backoff window.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Message)
}
