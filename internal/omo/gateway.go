package omo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
)

// tokenSource supplies bearer tokens to the gateway and re-authenticates
// when the upstream rejects one.
type tokenSource interface {
	accessToken() string
	reauthenticate(ctx context.Context) error
}

// Gateway is the authenticated request wrapper around the upstream API. It
// attaches standard headers, unwraps the response envelope, classifies HTTP
// statuses into domain errors and retries exactly once after a 401.
type Gateway struct {
	client     *http.Client
	baseURL    string
	appVersion string
	tokens     tokenSource
}

// NewGateway creates a gateway talking to baseURL through the given client.
// The token source is attached separately because the auth client itself
// logs in through the gateway.
func NewGateway(client *http.Client, baseURL, appVersion string) *Gateway {
	return &Gateway{
		client:     client,
		baseURL:    baseURL,
		appVersion: appVersion,
	}
}

// SetTokenSource attaches the token source used for authenticated requests.
func (g *Gateway) SetTokenSource(ts tokenSource) {
	g.tokens = ts
}

// Request performs one API call and returns the logical payload with the
// response envelope already stripped. body is JSON-marshalled when non-nil.
// With requireAuth, a 401 triggers a single forced re-login and retry; a
// second 401 surfaces as AuthError.
func (g *Gateway) Request(ctx context.Context, method, path string, body any, query url.Values, requireAuth bool) (json.RawMessage, error) {
	payload, status, err := g.do(ctx, method, path, body, query, requireAuth)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && requireAuth {
		log.Printf("Received 401 for %s %s, re-authenticating and retrying once", method, path)
		if err := g.tokens.reauthenticate(ctx); err != nil {
			return nil, err
		}
		payload, status, err = g.do(ctx, method, path, body, query, requireAuth)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{Message: "token rejected after re-login"}
		}
	} else if status == http.StatusUnauthorized {
		return nil, &AuthError{Message: "authentication failed"}
	}

	if status >= 400 {
		return nil, &ApiError{Message: truncateBody(payload), StatusCode: status}
	}

	if len(payload) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(payload) {
		return nil, &ApiError{Message: fmt.Sprintf("invalid JSON in response: %s", truncateBody(payload))}
	}
	return unwrapEnvelope(payload), nil
}

// do performs a single HTTP round-trip and returns the raw body and status.
// Transport failures are wrapped as ApiError so callers can tell them apart
// from credential problems.
func (g *Gateway) do(ctx context.Context, method, path string, body any, query url.Values, requireAuth bool) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	reqURL := g.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-app-version", g.appVersion)
	if requireAuth && g.tokens != nil {
		if token := g.tokens.accessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, &ApiError{Message: fmt.Sprintf("connection error: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ApiError{Message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	return respBody, resp.StatusCode, nil
}

// unwrapEnvelope strips the upstream's {data, success, message} envelope.
// Some endpoints return the payload directly; those pass through unchanged.
func unwrapEnvelope(raw json.RawMessage) json.RawMessage {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return raw
	}
	if probe.Data != nil {
		return probe.Data
	}
	return raw
}

func truncateBody(body []byte) string {
	const limit = 500
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
