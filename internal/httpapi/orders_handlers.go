package httpapi

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ristoro.dev/internal/orders"
)

const paymentSignatureHeader = "X-Payment-Signature"

type updateStatusRequest struct {
	Status orders.Status `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type paymentCallback struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Metadata  struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	} `json:"data"`
}

type listOrdersResponse struct {
	Items []orders.Order `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

type actionsResponse struct {
	OrderID string          `json:"order_id"`
	Actions []orders.Action `json:"actions"`
}

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.checkout(w, r)
	case http.MethodGet:
		a.listOrders(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	var req orders.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.deps.Orders.Checkout(r.Context(), claimsOf(r), req)
	if err != nil {
		if errors.Is(err, orders.ErrPaymentFailed) && o.ID != "" {
			payload := map[string]any{
				"error": err.Error(),
				"code":  "payment_failed",
				"order": o,
			}
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				payload["request_id"] = rid
			}
			writeJSON(w, http.StatusBadGateway, payload)
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := orders.Filter{Status: orders.Status(strings.TrimSpace(q.Get("status"))), Limit: limit}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	list, err := a.deps.Orders.List(r.Context(), claimsOf(r), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Items: list, AsOf: time.Now().UTC()})
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	id, action := splitResource(r.URL.Path, "/v1/orders/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "order not found")
		return
	}
	if action == "" || action == "actions" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
	} else if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	ctx, claims := r.Context(), claimsOf(r)
	var (
		o   orders.Order
		err error
	)
	switch action {
	case "":
		o, err = a.deps.Orders.Get(ctx, claims, id)
	case "actions":
		var list []orders.Action
		list, err = a.deps.Orders.GetActions(ctx, claims, id)
		if err == nil {
			if list == nil {
				list = []orders.Action{}
			}
			writeJSON(w, http.StatusOK, actionsResponse{OrderID: id, Actions: list})
			return
		}
	case "status":
		var req updateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		o, err = a.deps.Orders.UpdateStatus(ctx, claims, id, req.Status)
	case "cancel":
		var req cancelRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
		}
		o, err = a.deps.Orders.Cancel(ctx, claims, id, req.Reason)
	case "refund":
		var req refundRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		o, err = a.deps.Orders.Refund(ctx, claims, id, req.Amount, req.Reason)
	case "assign":
		var req assignRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		o, err = a.deps.Orders.Assign(ctx, claims, id, req.AssigneeID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	stats, err := a.deps.Orders.Stats(r.Context(), claimsOf(r), since)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handlePaymentCallback accepts the gateway webhook (POST) and, when no
// signing secret is configured, the browser redirect of the development
// gateway (GET ?reference=).
func (a *API) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if a.deps.PaymentSecret != "" {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markPaid(w, r, r.URL.Query().Get("reference"), "")
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unreadable body")
			return
		}
		if a.deps.PaymentSecret != "" && !validSignature(body, r.Header.Get(paymentSignatureHeader), a.deps.PaymentSecret) {
			writeErrorCode(w, r, http.StatusUnauthorized, "invalid_signature", "invalid signature")
			return
		}
		var cb paymentCallback
		if err := json.Unmarshal(body, &cb); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if cb.Event != "" && cb.Event != "charge.success" {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		orderID := cb.Data.Metadata.OrderID
		if orderID == "" {
			orderID = cb.Data.Reference
		}
		a.markPaid(w, r, orderID, cb.Data.Reference)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) markPaid(w http.ResponseWriter, r *http.Request, orderID, reference string) {
	o, err := a.deps.Orders.MarkPaid(r.Context(), orderID, reference)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"order_id":       o.ID,
		"payment_status": o.PaymentStatus,
	})
}

func validSignature(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
