// Package payment initializes checkout payments with an external gateway.
// The gateway is opaque: it either returns an authorization URL the
// customer is redirected to, or fails.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer identifies the payer.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// LineItem is the gateway view of a cart line.
type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// Request is a payment initialization request.
type Request struct {
	OrderID    string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	Customer   Customer        `json:"customer"`
	Items      []LineItem      `json:"items"`
	PickupTime time.Time       `json:"pickup_time"`
}

// Result is a successful initialization.
type Result struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// Gateway initializes payments.
type Gateway interface {
	Initialize(ctx context.Context, req Request) (Result, error)
}

// HTTPGateway talks to a gateway exposing POST /transaction/initialize.
type HTTPGateway struct {
	client      *resty.Client
	callbackURL string
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    Result `json:"data"`
}

// NewHTTPGateway builds a client for baseURL authenticated with secret.
func NewHTTPGateway(baseURL, secret, callbackURL string, timeout time.Duration) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payment gateway url is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ristoro-api/1.0")
	if secret = strings.TrimSpace(secret); secret != "" {
		client.SetAuthToken(secret)
	}
	return &HTTPGateway{client: client, callbackURL: callbackURL}, nil
}

// Initialize posts req and returns the redirect URL.
func (g *HTTPGateway) Initialize(ctx context.Context, req Request) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, errors.New("payment amount must be greater than zero")
	}
	body := map[string]any{
		"reference":    req.OrderID,
		"amount":       req.Amount.StringFixed(2),
		"email":        req.Customer.Email,
		"customer":     req.Customer,
		"items":        req.Items,
		"pickup_time":  req.PickupTime.UTC().Format(time.RFC3339),
		"callback_url": g.callbackURL,
	}
	var out initializeResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewSHA1(uuid.NameSpaceURL, []byte("ristoro:order:"+req.OrderID)).String()).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/transaction/initialize")
	if err != nil {
		return Result{}, fmt.Errorf("payment gateway: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("payment gateway: status %d: %s", resp.StatusCode(), out.Message)
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		msg := out.Message
		if msg == "" {
			msg = "no authorization url returned"
		}
		return Result{}, fmt.Errorf("payment gateway: %s", msg)
	}
	if out.Data.Reference == "" {
		out.Data.Reference = req.OrderID
	}
	return out.Data, nil
}

// StaticGateway is the development gateway: it approves everything and
// redirects straight to the callback.
type StaticGateway struct {
	CallbackURL string
}

func (g StaticGateway) Initialize(_ context.Context, req Request) (Result, error) {
	if !req.Amount.IsPositive() {
		return Result{}, errors.New("payment amount must be greater than zero")
	}
	u, err := url.Parse(g.CallbackURL)
	if err != nil || g.CallbackURL == "" {
		u = &url.URL{Path: "/v1/payments/callback"}
	}
	q := u.Query()
	q.Set("reference", req.OrderID)
	u.RawQuery = q.Encode()
	return Result{AuthorizationURL: u.String(), Reference: req.OrderID}, nil
}
