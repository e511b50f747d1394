package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGatewayInitialize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://pay.example/abc","reference":"ref-1"}}`))
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "sk_test", "https://shop.example/callback", time.Second)
	require.NoError(t, err)

	res, err := gw.Initialize(context.Background(), Request{
		OrderID:    "order-1",
		Amount:     decimal.RequireFromString("24.50"),
		Customer:   Customer{Name: "Ada", Email: "ada@example.com"},
		Items:      []LineItem{{Name: "Margherita", Quantity: 2, Amount: decimal.RequireFromString("12.25")}},
		PickupTime: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", res.AuthorizationURL)
	assert.Equal(t, "ref-1", res.Reference)
	assert.Equal(t, "24.50", got["amount"])
	assert.Equal(t, "order-1", got["reference"])
	assert.Equal(t, "https://shop.example/callback", got["callback_url"])
}

func TestHTTPGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"invalid email"}`))
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", "", time.Second)
	require.NoError(t, err)

	_, err = gw.Initialize(context.Background(), Request{OrderID: "o", Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email")
}

func TestHTTPGatewayDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":false,"message":"merchant disabled"}`))
	}))
	defer srv.Close()

	gw, _ := NewHTTPGateway(srv.URL, "", "", time.Second)
	_, err := gw.Initialize(context.Background(), Request{OrderID: "o", Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merchant disabled")
}

func TestGatewayRejectsNonPositiveAmount(t *testing.T) {
	gw, err := NewHTTPGateway("http://127.0.0.1:1", "", "", time.Second)
	require.NoError(t, err)
	_, err = gw.Initialize(context.Background(), Request{OrderID: "o", Amount: decimal.Zero})
	require.Error(t, err)

	_, err = StaticGateway{}.Initialize(context.Background(), Request{OrderID: "o", Amount: decimal.NewFromInt(-1)})
	require.Error(t, err)

	_, err = NewHTTPGateway(" ", "", "", 0)
	require.Error(t, err)
}

func TestStaticGateway(t *testing.T) {
	res, err := StaticGateway{CallbackURL: "http://localhost:8080/v1/payments/callback"}.Initialize(context.Background(),
		Request{OrderID: "order-9", Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/payments/callback?reference=order-9", res.AuthorizationURL)
	assert.Equal(t, "order-9", res.Reference)
}
