package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/orders"
	"ristoro.dev/internal/payment"
	"ristoro.dev/internal/store/memory"
	"ristoro.dev/internal/stream"
	"ristoro.dev/internal/users"
)

type apiClient struct {
	t        *testing.T
	server   *httptest.Server
	verifier *auth.TokenVerifier
}

func newTestAPI(t *testing.T, paymentSecret string) *apiClient {
	t.Helper()
	verifier := testVerifier(t)
	logger := audit.NewLogger(memory.NewAudit())
	userSvc, err := users.NewService(memory.NewUsers(), logger)
	if err != nil {
		t.Fatal(err)
	}
	events := stream.New(16)
	orderSvc, err := orders.NewService(memory.NewOrders(), userSvc, payment.StaticGateway{}, logger, orders.WithEvents(events))
	if err != nil {
		t.Fatal(err)
	}
	menuSvc, err := menu.NewService(memory.NewMenu(), userSvc, logger)
	if err != nil {
		t.Fatal(err)
	}
	api, err := New(Deps{
		Verifier:      verifier,
		Users:         userSvc,
		Orders:        orderSvc,
		Menu:          menuSvc,
		Audit:         logger,
		Events:        events,
		PaymentSecret: paymentSecret,
	}, "test", WithRateLimit(1000, 1000))
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server, verifier: verifier}
}

func (c *apiClient) obtainToken(sub string, role auth.Role) string {
	c.t.Helper()
	return issue(c.t, c.verifier, sub, string(role))
}

func (c *apiClient) do(method, path, token string, body any, out any) int {
	c.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.server.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func checkoutBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{{
			"meal_id":    "m1",
			"name":       "Margherita",
			"quantity":   2,
			"unit_price": "9.50",
		}},
		"customer":    map[string]any{"name": "Ada", "email": "ada@example.com"},
		"pickup_time": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t, "")

	var health map[string]any
	if code := c.do(http.MethodGet, "/healthz", "", nil, &health); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if health["service"] != serviceName {
		t.Fatalf("unexpected health body: %v", health)
	}
	if code := c.do(http.MethodGet, "/readyz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	var info map[string]any
	c.do(http.MethodGet, "/v1/info", "", nil, &info)
	if roles, ok := info["roles"].([]any); !ok || len(roles) != 4 {
		t.Fatalf("unexpected roles: %v", info["roles"])
	}
}

func TestMeRequiresToken(t *testing.T) {
	c := newTestAPI(t, "")

	var errBody map[string]any
	if code := c.do(http.MethodGet, "/v1/me", "", nil, &errBody); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if errBody["code"] != "authentication_required" {
		t.Fatalf("unexpected code: %v", errBody["code"])
	}
	if code := c.do(http.MethodGet, "/v1/me", "not-a-jwt", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}

	var profile users.Profile
	if code := c.do(http.MethodGet, "/v1/me", c.obtainToken("diner-1", auth.RoleStaff), nil, &profile); code != http.StatusOK {
		t.Fatalf("me: %d", code)
	}
	if profile.User.Subject != "diner-1" || profile.User.Role != auth.RoleStaff {
		t.Fatalf("unexpected profile: %+v", profile.User)
	}
	if len(profile.Permissions) == 0 {
		t.Fatal("expected permissions in profile")
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t, "")
	diner := c.obtainToken("diner-1", auth.RoleCustomer)
	kitchen := c.obtainToken("kitchen-1", auth.RoleStaff)

	var created orders.Order
	if code := c.do(http.MethodPost, "/v1/orders", diner, checkoutBody(), &created); code != http.StatusCreated {
		t.Fatalf("checkout: %d", code)
	}
	if created.Status != orders.StatusPending || !strings.Contains(created.PaymentURL, "reference="+created.ID) {
		t.Fatalf("unexpected order: %+v", created)
	}

	var paid map[string]any
	if code := c.do(http.MethodGet, "/v1/payments/callback?reference="+created.ID, "", nil, &paid); code != http.StatusOK {
		t.Fatalf("callback: %d", code)
	}
	if paid["payment_status"] != string(orders.PaymentPaid) {
		t.Fatalf("unexpected callback body: %v", paid)
	}

	var errBody map[string]any
	if code := c.do(http.MethodPost, "/v1/orders/"+created.ID+"/status", diner, map[string]any{"status": "confirmed"}, &errBody); code != http.StatusForbidden {
		t.Fatalf("customer status change: expected 403, got %d", code)
	}
	if code := c.do(http.MethodPost, "/v1/orders/"+created.ID+"/status", kitchen, map[string]any{"status": "ready"}, &errBody); code != http.StatusConflict {
		t.Fatalf("skip ahead: expected 409, got %d", code)
	}
	if errBody["code"] != "invalid_transition" {
		t.Fatalf("unexpected code: %v", errBody["code"])
	}

	var updated orders.Order
	if code := c.do(http.MethodPost, "/v1/orders/"+created.ID+"/status", kitchen, map[string]any{"status": "confirmed"}, &updated); code != http.StatusOK {
		t.Fatalf("confirm: %d", code)
	}
	if updated.Status != orders.StatusConfirmed {
		t.Fatalf("unexpected status: %s", updated.Status)
	}

	var actions actionsResponse
	if code := c.do(http.MethodGet, "/v1/orders/"+created.ID+"/actions", kitchen, nil, &actions); code != http.StatusOK {
		t.Fatalf("actions: %d", code)
	}
	if len(actions.Actions) != 2 || actions.Actions[0].Name != "mark_preparing" {
		t.Fatalf("unexpected actions: %+v", actions.Actions)
	}

	other := c.obtainToken("diner-2", auth.RoleCustomer)
	if code := c.do(http.MethodGet, "/v1/orders/"+created.ID, other, nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign order: expected 404, got %d", code)
	}
	var list listOrdersResponse
	c.do(http.MethodGet, "/v1/orders", other, nil, &list)
	if len(list.Items) != 0 {
		t.Fatalf("expected no orders for other customer, got %d", len(list.Items))
	}
	c.do(http.MethodGet, "/v1/orders?status=confirmed", kitchen, nil, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 confirmed order, got %d", len(list.Items))
	}

	if code := c.do(http.MethodPost, "/v1/orders/"+created.ID+"/cancel", diner, map[string]any{"reason": "late"}, &updated); code != http.StatusOK {
		t.Fatalf("cancel: %d", code)
	}
	if updated.Status != orders.StatusCancelled || updated.CancelReason != "late" {
		t.Fatalf("unexpected cancelled order: %+v", updated)
	}
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	c := newTestAPI(t, "")
	diner := c.obtainToken("diner-1", auth.RoleCustomer)

	if code := c.do(http.MethodPost, "/v1/orders", "", checkoutBody(), nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous checkout: expected 401, got %d", code)
	}
	if code := c.do(http.MethodPost, "/v1/orders", diner, `{"items":[],"bogus":1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", code)
	}
	body := checkoutBody()
	body["items"] = []map[string]any{}
	var errBody map[string]any
	if code := c.do(http.MethodPost, "/v1/orders", diner, body, &errBody); code != http.StatusBadRequest {
		t.Fatalf("empty cart: expected 400, got %d", code)
	}
	if errBody["code"] != "invalid_input" {
		t.Fatalf("unexpected code: %v", errBody["code"])
	}
	if code := c.do(http.MethodDelete, "/v1/orders", diner, nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestSignedPaymentCallback(t *testing.T) {
	const secret = "whsec"
	c := newTestAPI(t, secret)
	diner := c.obtainToken("diner-1", auth.RoleCustomer)

	var created orders.Order
	c.do(http.MethodPost, "/v1/orders", diner, checkoutBody(), &created)

	if code := c.do(http.MethodGet, "/v1/payments/callback?reference="+created.ID, "", nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("redirect callback with secret: expected 405, got %d", code)
	}

	payload := []byte(`{"event":"charge.success","data":{"reference":"ps_1","metadata":{"order_id":"` + created.ID + `"}}}`)
	post := func(sig string) int {
		req, _ := http.NewRequest(http.MethodPost, c.server.URL+"/v1/payments/callback", bytes.NewReader(payload))
		req.Header.Set(paymentSignatureHeader, sig)
		resp, err := c.server.Client().Do(req)
		if err != nil {
			t.Fatalf("post callback: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := post("deadbeef"); code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", code)
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	if code := post(hex.EncodeToString(mac.Sum(nil))); code != http.StatusOK {
		t.Fatalf("signed callback: expected 200, got %d", code)
	}

	var got orders.Order
	c.do(http.MethodGet, "/v1/orders/"+created.ID, diner, nil, &got)
	if got.PaymentStatus != orders.PaymentPaid || got.PaymentReference != "ps_1" {
		t.Fatalf("unexpected payment state: %s %q", got.PaymentStatus, got.PaymentReference)
	}
}

func TestMenuPermissionsOverHTTP(t *testing.T) {
	c := newTestAPI(t, "")
	admin := c.obtainToken("admin-1", auth.RoleAdmin)
	kitchen := c.obtainToken("kitchen-1", auth.RoleStaff)

	if code := c.do(http.MethodPost, "/v1/menu/categories", kitchen, map[string]any{"name": "Pizza"}, nil); code != http.StatusForbidden {
		t.Fatalf("staff category create: expected 403, got %d", code)
	}
	var cat menu.Category
	if code := c.do(http.MethodPost, "/v1/menu/categories", admin, map[string]any{"name": "Pizza"}, &cat); code != http.StatusCreated {
		t.Fatalf("category create: %d", code)
	}
	if cat.Slug != "pizza" {
		t.Fatalf("unexpected slug: %q", cat.Slug)
	}

	mealBody := map[string]any{"category_id": cat.ID, "name": "Margherita", "price": "9.50"}
	var errBody map[string]any
	if code := c.do(http.MethodPost, "/v1/menu/meals", kitchen, mealBody, &errBody); code != http.StatusForbidden {
		t.Fatalf("staff meal create: expected 403, got %d", code)
	}
	var meal menu.Meal
	if code := c.do(http.MethodPost, "/v1/menu/meals", admin, mealBody, &meal); code != http.StatusCreated {
		t.Fatalf("meal create: %d", code)
	}
	if code := c.do(http.MethodPut, "/v1/menu/meals/"+meal.ID, kitchen, map[string]any{"category_id": cat.ID, "name": "Margherita", "price": "10.00", "is_available": false}, &meal); code != http.StatusOK {
		t.Fatalf("staff meal update: %d", code)
	}

	var anon listMealsResponse
	if code := c.do(http.MethodGet, "/v1/menu/meals", "", nil, &anon); code != http.StatusOK {
		t.Fatalf("anonymous menu: %d", code)
	}
	if len(anon.Items) != 0 {
		t.Fatalf("unavailable meal must be hidden, got %d", len(anon.Items))
	}
	var staffList listMealsResponse
	c.do(http.MethodGet, "/v1/menu/meals?category_id="+cat.ID, kitchen, nil, &staffList)
	if len(staffList.Items) != 1 {
		t.Fatalf("staff should see unavailable meal, got %d", len(staffList.Items))
	}

	if code := c.do(http.MethodDelete, "/v1/menu/categories/"+cat.ID, admin, nil, nil); code != http.StatusConflict {
		t.Fatalf("delete category in use: expected 409, got %d", code)
	}
	if code := c.do(http.MethodDelete, "/v1/menu/meals/"+meal.ID, kitchen, nil, nil); code != http.StatusForbidden {
		t.Fatalf("staff meal delete: expected 403, got %d", code)
	}
	if code := c.do(http.MethodDelete, "/v1/menu/meals/"+meal.ID, admin, nil, nil); code != http.StatusNoContent {
		t.Fatalf("meal delete: %d", code)
	}
	if code := c.do(http.MethodDelete, "/v1/menu/categories/"+cat.ID, admin, nil, nil); code != http.StatusNoContent {
		t.Fatalf("category delete: %d", code)
	}
}

func TestAdminBlocksUserAndAuditTrail(t *testing.T) {
	c := newTestAPI(t, "")
	admin := c.obtainToken("admin-1", auth.RoleAdmin)
	diner := c.obtainToken("diner-1", auth.RoleCustomer)

	var me, adminProfile users.Profile
	c.do(http.MethodGet, "/v1/me", diner, nil, &me)
	c.do(http.MethodGet, "/v1/me", admin, nil, &adminProfile)

	if code := c.do(http.MethodPut, "/v1/users/"+me.User.ID+"/role", diner, map[string]any{"role": "admin"}, nil); code != http.StatusForbidden {
		t.Fatalf("self promotion: expected 403, got %d", code)
	}
	var u users.User
	if code := c.do(http.MethodPut, "/v1/users/"+me.User.ID+"/blocked", admin, map[string]any{"blocked": true}, &u); code != http.StatusOK {
		t.Fatalf("block: %d", code)
	}
	if !u.IsBlocked {
		t.Fatal("expected blocked user")
	}

	var errBody map[string]any
	if code := c.do(http.MethodGet, "/v1/menu/meals", diner, nil, &errBody); code != http.StatusForbidden {
		t.Fatalf("blocked user: expected 403, got %d", code)
	}
	if errBody["code"] != "user_blocked" {
		t.Fatalf("unexpected code: %v", errBody["code"])
	}

	if code := c.do(http.MethodGet, "/v1/audit", diner, nil, nil); code != http.StatusForbidden {
		t.Fatalf("blocked audit read: expected 403, got %d", code)
	}
	var trail listAuditResponse
	if code := c.do(http.MethodGet, "/v1/audit?resource=user&limit=10", admin, nil, &trail); code != http.StatusOK {
		t.Fatalf("audit: %d", code)
	}
	found := false
	for _, e := range trail.Items {
		if e.Action == "user.block" && e.ResourceID == me.User.ID && e.UserID == adminProfile.User.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected user.block entry, got %+v", trail.Items)
	}
	if code := c.do(http.MethodGet, "/v1/audit?limit=9999", admin, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("audit limit: expected 400, got %d", code)
	}
}

func TestOrderStreamDeliversCheckout(t *testing.T) {
	c := newTestAPI(t, "")
	kitchen := c.obtainToken("kitchen-1", auth.RoleStaff)
	diner := c.obtainToken("diner-1", auth.RoleCustomer)

	if code := c.do(http.MethodGet, "/v1/orders/stream", diner, nil, nil); code != http.StatusForbidden {
		t.Fatalf("customer stream: expected 403, got %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.server.URL+"/v1/orders/stream", nil)
	req.Header.Set("Authorization", "Bearer "+kitchen)
	resp, err := c.server.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("unexpected preamble: %q", line)
	}

	var created orders.Order
	if code := c.do(http.MethodPost, "/v1/orders", diner, checkoutBody(), &created); code != http.StatusCreated {
		t.Fatalf("checkout: %d", code)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Type != "order.checkout" || evt.OrderID != created.ID {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}
