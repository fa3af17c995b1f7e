package omo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Client exposes the typed operations of the Machine Guardian API. Every
// call ensures a valid token first; the gateway underneath handles the
// 401-retry and envelope unwrapping.
type Client struct {
	gw   *Gateway
	auth *Auth
}

// NewClient wires a gateway and auth client together around the given HTTP
// client. The HTTP client is shared, not owned; its timeout bounds every
// call.
func NewClient(httpClient *http.Client, baseURL, appVersion, username, password string) *Client {
	gw := NewGateway(httpClient, baseURL, appVersion)
	auth := NewAuth(gw, username, password)
	gw.SetTokenSource(auth)
	return &Client{gw: gw, auth: auth}
}

// Auth returns the client's auth state for token seeding and persistence.
func (c *Client) Auth() *Auth {
	return c.auth
}

// ListLaundries fetches one page of laundries of the given type.
func (c *Client) ListLaundries(ctx context.Context, laundryType string, page int) ([]Laundry, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("type", laundryType)
	query.Set("page", strconv.Itoa(page))

	payload, err := c.gw.Request(ctx, http.MethodGet, "/laundry/paginated", nil, query, true)
	if err != nil {
		return nil, err
	}

	// The paginated payload nests the page under items; some deployments
	// return the array directly.
	var paged struct {
		Items []Laundry `json:"items"`
	}
	if err := json.Unmarshal(payload, &paged); err == nil && paged.Items != nil {
		return paged.Items, nil
	}

	var laundries []Laundry
	if err := json.Unmarshal(payload, &laundries); err != nil {
		return nil, &ApiError{Message: fmt.Sprintf("unexpected laundry list payload: %v", err)}
	}
	return laundries, nil
}

// GetLaundry fetches the detail view of one laundry, including its machine
// roster.
func (c *Client) GetLaundry(ctx context.Context, laundryID string) (*Laundry, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	payload, err := c.gw.Request(ctx, http.MethodGet, "/laundry/"+laundryID, nil, nil, true)
	if err != nil {
		return nil, err
	}

	var laundry Laundry
	if err := json.Unmarshal(payload, &laundry); err != nil {
		return nil, &ApiError{Message: fmt.Sprintf("unexpected laundry payload: %v", err)}
	}
	return &laundry, nil
}

// ActiveOrders fetches the user's in-flight orders across all laundries.
func (c *Client) ActiveOrders(ctx context.Context) ([]ActiveOrder, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	payload, err := c.gw.Request(ctx, http.MethodGet, "/order/actives", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var orders []ActiveOrder
	if err := json.Unmarshal(payload, &orders); err != nil {
		return nil, &ApiError{Message: fmt.Sprintf("unexpected active orders payload: %v", err)}
	}
	return orders, nil
}

// PaymentCards fetches the user's stored payment cards.
func (c *Client) PaymentCards(ctx context.Context) ([]PaymentCard, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	payload, err := c.gw.Request(ctx, http.MethodGet, "/user/credit-card", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var cards []PaymentCard
	if err := json.Unmarshal(payload, &cards); err != nil {
		return nil, &ApiError{Message: fmt.Sprintf("unexpected payment cards payload: %v", err)}
	}
	return cards, nil
}

// User fetches the authenticated user's profile.
func (c *Client) User(ctx context.Context) (*UserInfo, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	payload, err := c.gw.Request(ctx, http.MethodGet, "/user", nil, nil, true)
	if err != nil {
		return nil, err
	}

	var user UserInfo
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, &ApiError{Message: fmt.Sprintf("unexpected user payload: %v", err)}
	}
	return &user, nil
}

// PayAndStart charges the card and unlocks the machine, in that order. The
// two legs fail differently on purpose: a checkout failure means nothing
// was charged and surfaces as an error or a Success=false result, while an
// unlock failure after a successful checkout still returns Success=true
// with a Warning, because the money has already moved and the order can be
// unlocked later.
func (c *Client) PayAndStart(ctx context.Context, machineID, cardID, laundryID string) (StartResult, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return StartResult{}, err
	}

	checkoutBody := map[string]any{
		"machineId": machineID,
		"cardId":    cardID,
		"laundryId": laundryID,
	}

	payload, err := c.gw.Request(ctx, http.MethodPost, "/order/payment-checkout", checkoutBody, nil, true)
	if err != nil {
		return StartResult{}, err
	}

	orderID := extractOrderID(payload)
	if orderID == "" {
		// The HTTP call succeeded, so payment may have been charged even
		// though no order id came back. Report a logical failure the
		// caller must inspect rather than raising.
		return StartResult{
			Success: false,
			Message: "checkout response contained no order id; verify whether payment was charged",
		}, nil
	}

	result, err := c.Unlock(ctx, machineID, laundryID, orderID)
	if err != nil {
		return StartResult{
			Success:     true,
			OrderID:     orderID,
			UsageStatus: UsageAwaitingUnlock,
			Warning:     fmt.Sprintf("payment succeeded but unlock failed: %v", err),
		}, nil
	}

	usageStatus := UsageInUse
	var unlockResp struct {
		UsageStatus string `json:"usageStatus"`
	}
	if err := json.Unmarshal(result, &unlockResp); err == nil && unlockResp.UsageStatus != "" {
		usageStatus = unlockResp.UsageStatus
	}

	return StartResult{
		Success:     true,
		OrderID:     orderID,
		UsageStatus: usageStatus,
	}, nil
}

// Unlock starts a machine against an already-paid order. Used by
// PayAndStart and standalone for deferred unlocks.
func (c *Client) Unlock(ctx context.Context, machineID, laundryID, orderID string) (json.RawMessage, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"machineId": machineID,
		"laundryId": laundryID,
		"orderId":   orderID,
	}
	return c.gw.Request(ctx, http.MethodPost, "/machine/start-machine", body, nil, true)
}

// extractOrderID pulls the order id out of a checkout payload. Observed
// response shapes nest it differently; precedence is order.id, then
// orderId, then id.
func extractOrderID(payload json.RawMessage) string {
	var probe struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
		OrderID string `json:"orderId"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}

	switch {
	case probe.Order.ID != "":
		return probe.Order.ID
	case probe.OrderID != "":
		return probe.OrderID
	default:
		return probe.ID
	}
}
