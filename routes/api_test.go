package routes

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sevasetu/donation-service/models"
	"github.com/sevasetu/donation-service/services"
)

const (
	testJWTSecret     = "test_jwt_secret"
	testKeySecret     = "route_key_secret"
	testWebhookSecret = "route_webhook_secret"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type stubGateway struct {
	mu     sync.Mutex
	orders int
}

func (g *stubGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (*services.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return &services.GatewayOrder{
		ID:       fmt.Sprintf("order_rt%04d", g.orders),
		Amount:   amountPaise,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *stubGateway) RefundPayment(ctx context.Context, paymentID string, amountPaise int64) error {
	return nil
}

type stubStore struct {
	mu        sync.Mutex
	nextID    uint
	donations map[string]*models.Donation
	events    map[string]bool
}

func newStubStore() *stubStore {
	return &stubStore{
		donations: make(map[string]*models.Donation),
		events:    make(map[string]bool),
	}
}

func (s *stubStore) Create(ctx context.Context, d *models.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.ID = s.nextID
	copied := *d
	s.donations[d.RazorpayOrderID] = &copied
	return nil
}

func (s *stubStore) ByOrderID(ctx context.Context, orderID string) (*models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[orderID]
	if !ok {
		return nil, services.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *stubStore) ByID(ctx context.Context, id uint) (*models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.donations {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, services.ErrNotFound
}

func (s *stubStore) MarkPaid(ctx context.Context, orderID, paymentID, signature string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[orderID]
	if !ok || d.Status != models.StatusCreated {
		return false, nil
	}
	d.Status = models.StatusPaid
	d.RazorpayPaymentID = paymentID
	d.RazorpaySignature = signature
	d.PaidAt = &paidAt
	return true, nil
}

func (s *stubStore) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[orderID]
	if !ok || d.Status != models.StatusCreated {
		return false, nil
	}
	d.Status = models.StatusFailed
	return true, nil
}

func (s *stubStore) MarkRefunded(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[orderID]
	if !ok || d.Status != models.StatusPaid {
		return false, nil
	}
	d.Status = models.StatusRefunded
	return true, nil
}

func (s *stubStore) PaidByUser(ctx context.Context, userID uint) ([]models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Donation
	for _, d := range s.donations {
		if d.UserID != nil && *d.UserID == userID && d.Status == models.StatusPaid {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubStore) List(ctx context.Context, limit, offset int) ([]models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Donation
	for _, d := range s.donations {
		out = append(out, *d)
	}
	return out, nil
}

func (s *stubStore) Stats(ctx context.Context) (*services.DonationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &services.DonationStats{}
	for _, d := range s.donations {
		if d.Status == models.StatusPaid {
			stats.TotalDonations++
			stats.TotalAmount += int64(d.Amount)
		}
	}
	if stats.TotalDonations > 0 {
		stats.AverageAmount = stats.TotalAmount / stats.TotalDonations
	}
	return stats, nil
}

func (s *stubStore) SaveEvent(ctx context.Context, ev *models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events[ev.EventID] {
		return services.ErrDuplicateEvent
	}
	s.events[ev.EventID] = true
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *stubStore) {
	t.Helper()
	store := newStubStore()
	svc := services.NewDonationService(store, &stubGateway{}, services.DonationConfig{
		MaxAmount:     100000,
		Currency:      "INR",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	})
	router := gin.New()
	NewAPIRoutes(svc, testJWTSecret, "https://example.org/donate").SetupRoutes(router)
	return router, store
}

func signToken(t *testing.T, userID uint, role string) string {
	t.Helper()
	claims := AuthClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createOrderFor(t *testing.T, router *gin.Engine, amount int, headers map[string]string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/donation/create-order", gin.H{
		"amount": amount,
		"name":   "Asha Rao",
		"email":  "asha@example.org",
	}, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("create-order status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	orderID, _ := resp["orderId"].(string)
	if orderID == "" {
		t.Fatalf("create-order response missing orderId: %v", resp)
	}
	return orderID
}

func TestCreateOrderEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	orderID := createOrderFor(t, router, 500, nil)
	d, err := store.ByOrderID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("donation not persisted: %v", err)
	}
	if d.Status != models.StatusCreated {
		t.Fatalf("status = %q, want %q", d.Status, models.StatusCreated)
	}

	// Validation failures map to 400.
	w := doJSON(t, router, http.MethodPost, "/api/donation/create-order", gin.H{"amount": 0, "name": "A", "email": "a@b.c"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("amount 0: status = %d, want 400", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/donation/create-order", gin.H{"amount": 100001, "name": "A", "email": "a@b.c"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("amount above ceiling: status = %d, want 400", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/donation/create-order", gin.H{"amount": 100}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("guest without identity: status = %d, want 400", w.Code)
	}
}

func TestCreateOrderAttachesAuthenticatedUser(t *testing.T) {
	router, store := newTestRouter(t)

	token := signToken(t, 42, models.RoleUser)
	w := doJSON(t, router, http.MethodPost, "/api/donation/create-order", gin.H{"amount": 250},
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	orderID := resp["orderId"].(string)

	d, _ := store.ByOrderID(context.Background(), orderID)
	if d.UserID == nil || *d.UserID != 42 {
		t.Fatalf("donation not attributed to user 42: %+v", d.UserID)
	}
}

func TestVerifyDonationEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	orderID := createOrderFor(t, router, 500, nil)
	paymentID := "pay_route1"

	// Wrong signature is a 400 and leaves the order pending.
	w := doJSON(t, router, http.MethodPost, "/api/donation/verify-donation", gin.H{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  "deadbeef",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/status/"+orderID, nil, nil)
	if resp := decodeBody(t, w); resp["status"] != models.StatusCreated {
		t.Fatalf("status after rejected signature = %v, want created", resp["status"])
	}

	// Correct signature settles the order.
	w = doJSON(t, router, http.MethodPost, "/api/donation/verify-donation", gin.H{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  sign([]byte(orderID+"|"+paymentID), testKeySecret),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("valid signature: status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/status/"+orderID, nil, nil)
	if resp := decodeBody(t, w); resp["status"] != models.StatusPaid {
		t.Fatalf("status after confirmation = %v, want paid", resp["status"])
	}
}

func TestStatusEndpointUnknownOrder(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/donation/status/order_missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	orderID := createOrderFor(t, router, 500, nil)
	body, _ := json.Marshal(gin.H{
		"entity": "event",
		"event":  "payment.captured",
		"payload": gin.H{
			"payment": gin.H{
				"entity": gin.H{"id": "pay_hook", "order_id": orderID, "status": "captured"},
			},
		},
	})

	// Missing signature header.
	w := doJSON(t, router, http.MethodPost, "/api/donation/webhook", json.RawMessage(body), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: status = %d, want 400", w.Code)
	}

	// Wrong signature.
	w = doJSON(t, router, http.MethodPost, "/api/donation/webhook", json.RawMessage(body),
		map[string]string{"x-razorpay-signature": "deadbeef"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature: status = %d, want 400", w.Code)
	}
	if d, _ := store.ByOrderID(context.Background(), orderID); d.Status != models.StatusCreated {
		t.Fatalf("rejected webhook mutated status to %q", d.Status)
	}

	// Valid delivery reconciles and is acknowledged.
	headers := map[string]string{
		"x-razorpay-signature": sign(body, testWebhookSecret),
		"x-razorpay-event-id":  "evt_route1",
	}
	w = doJSON(t, router, http.MethodPost, "/api/donation/webhook", json.RawMessage(body), headers)
	if w.Code != http.StatusOK {
		t.Fatalf("valid webhook: status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeBody(t, w); resp["received"] != true {
		t.Fatalf("response = %v, want received:true", resp)
	}
	if d, _ := store.ByOrderID(context.Background(), orderID); d.Status != models.StatusPaid {
		t.Fatalf("status after webhook = %q, want paid", d.Status)
	}

	// Redelivery is acknowledged the same way.
	w = doJSON(t, router, http.MethodPost, "/api/donation/webhook", json.RawMessage(body), headers)
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d, want 200", w.Code)
	}
}

func TestWebhookUnknownOrderReturns200(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(gin.H{
		"entity": "event",
		"event":  "payment.captured",
		"payload": gin.H{
			"payment": gin.H{
				"entity": gin.H{"id": "pay_x", "order_id": "order_foreign"},
			},
		},
	})
	w := doJSON(t, router, http.MethodPost, "/api/donation/webhook", json.RawMessage(body),
		map[string]string{"x-razorpay-signature": sign(body, testWebhookSecret)})
	if w.Code != http.StatusOK {
		t.Fatalf("unknown order: status = %d, want 200", w.Code)
	}
}

func TestMyDonationsAuth(t *testing.T) {
	router, store := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/donation/my-donations", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/my-donations", nil,
		map[string]string{"Authorization": "Bearer not.a.token"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", w.Code)
	}

	// Seed one paid donation for user 7.
	userID := uint(7)
	paidAt := time.Now()
	store.Create(context.Background(), &models.Donation{
		UserID:          &userID,
		Amount:          300,
		Currency:        "INR",
		RazorpayOrderID: "order_mine",
		Status:          models.StatusPaid,
		PaidAt:          &paidAt,
	})

	w = doJSON(t, router, http.MethodGet, "/api/donation/my-donations", nil,
		map[string]string{"Authorization": "Bearer " + signToken(t, 7, models.RoleUser)})
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	donations, _ := resp["donations"].([]interface{})
	if len(donations) != 1 {
		t.Fatalf("got %d donations, want 1", len(donations))
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, _ := newTestRouter(t)

	userToken := signToken(t, 7, models.RoleUser)
	adminToken := signToken(t, 1, models.RoleAdmin)

	w := doJSON(t, router, http.MethodGet, "/api/donation/all-donations", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/all-donations", nil,
		map[string]string{"Authorization": "Bearer " + userToken})
	if w.Code != http.StatusForbidden {
		t.Fatalf("user token: status = %d, want 403", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/all-donations", nil,
		map[string]string{"Authorization": "Bearer " + adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("admin token: status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/donation/donation-stats", nil,
		map[string]string{"Authorization": "Bearer " + adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("donation-stats: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRefundEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	adminToken := signToken(t, 1, models.RoleAdmin)

	orderID := createOrderFor(t, router, 500, nil)

	// Refund before capture is a 400.
	w := doJSON(t, router, http.MethodPost, "/api/donation/refund/"+orderID, nil,
		map[string]string{"Authorization": "Bearer " + adminToken})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("refund of created donation: status = %d, want 400", w.Code)
	}

	paymentID := "pay_refund"
	w = doJSON(t, router, http.MethodPost, "/api/donation/verify-donation", gin.H{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  sign([]byte(orderID+"|"+paymentID), testKeySecret),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/donation/refund/"+orderID, nil,
		map[string]string{"Authorization": "Bearer " + adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refund: status = %d, body %s", w.Code, w.Body.String())
	}
	if d, _ := store.ByOrderID(context.Background(), orderID); d.Status != models.StatusRefunded {
		t.Fatalf("status after refund = %q, want refunded", d.Status)
	}
}

func TestQRCodeEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/donation/qrcode", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q, want image/png", ct)
	}
	if w.Body.Len() == 0 {
		t.Fatal("empty PNG body")
	}
}
