package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dezenmart/escrow-core/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminAddr     = "0xaaaa000000000000000000000000000000000001"
	sellerAddr    = "0xbbbb000000000000000000000000000000000002"
	buyerAddr     = "0xcccc000000000000000000000000000000000003"
	logisticsAddr = "0xdddd000000000000000000000000000000000004"
)

// testConfig returns a minimal config for testing (in-memory storage)
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		AdminAddress: adminAddr,
		RateLimitRPM: 100000,
	}
}

// newTestServer creates a server with in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// doJSON performs a request with an optional JSON body and API key
func doJSON(t *testing.T, s *Server, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// register creates an account for the role and returns its API key
func register(t *testing.T, s *Server, role, address string) string {
	t.Helper()

	w := doJSON(t, s, "POST", "/v1/register/"+role, gin.H{"address": address}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to register %s: %d %s", role, w.Code, w.Body.String())
	}

	var resp struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse registration response: %v", err)
	}
	if resp.APIKey == "" {
		t.Fatal("Expected API key in registration response")
	}
	return resp.APIKey
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/ready", nil, "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	registered := make(map[string]bool)
	for _, r := range s.router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /v1/trades",
		"POST /v1/trades",
		"POST /v1/purchases",
		"POST /v1/purchases/:id/confirm",
		"POST /v1/purchases/:id/dispute",
		"POST /v1/purchases/:id/cancel",
		"GET /v1/protocol/stats",
		"POST /v1/admin/fees/withdraw",
		"POST /v1/admin/purchases/:id/resolve",
		"POST /v1/register/seller",
		"POST /v1/register/buyer",
		"POST /v1/register/logistics",
	}

	for _, route := range want {
		if !registered[route] {
			t.Errorf("Route not registered: %s", route)
		}
	}
}

// ---------------------------------------------------------------------------
// Registration tests
// ---------------------------------------------------------------------------

func TestRegisterSellerReturnsAPIKey(t *testing.T) {
	s := newTestServer(t)

	key := register(t, s, "seller", sellerAddr)
	if len(key) < 10 {
		t.Errorf("Suspiciously short API key: %q", key)
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	s := newTestServer(t)

	register(t, s, "buyer", buyerAddr)
	w := doJSON(t, s, "POST", "/v1/register/buyer", gin.H{"address": buyerAddr}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate registration, got %d", w.Code)
	}
}

func TestRegisterRejectsInvalidAddress(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/register/seller", gin.H{"address": "not-an-address"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid address, got %d", w.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/trades", gin.H{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle tests (in-memory, end to end over HTTP)
// ---------------------------------------------------------------------------

func TestFullPurchaseLifecycle(t *testing.T) {
	s := newTestServer(t)

	sellerKey := register(t, s, "seller", sellerAddr)
	buyerKey := register(t, s, "buyer", buyerAddr)
	register(t, s, "logistics", logisticsAddr)

	// Seller lists a trade: unit cost 1000, 10 units, delivery at 100/unit
	w := doJSON(t, s, "POST", "/v1/trades", gin.H{
		"productCost":   1000,
		"totalQuantity": 10,
		"logisticsOptions": []gin.H{
			{"provider": logisticsAddr, "cost": 100},
		},
	}, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to create trade: %d %s", w.Code, w.Body.String())
	}

	var tradeResp struct {
		Trade struct {
			TradeID uint64 `json:"tradeId"`
		} `json:"trade"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tradeResp); err != nil {
		t.Fatalf("Failed to parse trade response: %v", err)
	}
	tradeID := tradeResp.Trade.TradeID

	// Buyer purchases 2 units: 2*(1000+100) + fee 2*1000*250/10000 = 2250
	w = doJSON(t, s, "POST", "/v1/purchases", gin.H{
		"tradeId":           tradeID,
		"quantity":          2,
		"logisticsProvider": logisticsAddr,
		"tenderedAmount":    2250,
	}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to buy: %d %s", w.Code, w.Body.String())
	}

	var buyResp struct {
		Purchase struct {
			PurchaseID  uint64 `json:"purchaseId"`
			State       string `json:"state"`
			TotalAmount uint64 `json:"totalAmount"`
			EscrowFee   uint64 `json:"escrowFee"`
		} `json:"purchase"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &buyResp); err != nil {
		t.Fatalf("Failed to parse purchase response: %v", err)
	}
	if buyResp.Purchase.State != "paid" {
		t.Errorf("Expected state paid, got %s", buyResp.Purchase.State)
	}
	if buyResp.Purchase.EscrowFee != 50 {
		t.Errorf("Expected escrow fee 50, got %d", buyResp.Purchase.EscrowFee)
	}
	purchaseID := buyResp.Purchase.PurchaseID

	// Wrong tender is rejected exactly
	w = doJSON(t, s, "POST", "/v1/purchases", gin.H{
		"tradeId":           tradeID,
		"quantity":          1,
		"logisticsProvider": logisticsAddr,
		"tenderedAmount":    1100, // missing the fee
	}, buyerKey)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for wrong tender, got %d %s", w.Code, w.Body.String())
	}

	// Only the buyer may confirm delivery
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/purchases/%d/confirm", purchaseID), nil, sellerKey)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 when seller confirms, got %d", w.Code)
	}

	// Buyer confirms; custody releases to seller and provider
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/purchases/%d/confirm", purchaseID), nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to confirm delivery: %d %s", w.Code, w.Body.String())
	}

	// Receipt now available
	w = doJSON(t, s, "GET", fmt.Sprintf("/v1/purchases/%d/receipt", purchaseID), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to fetch receipt: %d %s", w.Code, w.Body.String())
	}

	// Confirm is terminal: a second confirm conflicts
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/purchases/%d/confirm", purchaseID), nil, buyerKey)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for double confirm, got %d", w.Code)
	}
}

func TestDisputeResolutionFlow(t *testing.T) {
	s := newTestServer(t)

	sellerKey := register(t, s, "seller", sellerAddr)
	buyerKey := register(t, s, "buyer", buyerAddr)
	register(t, s, "logistics", logisticsAddr)
	// The admin authenticates like anyone else; the services check identity
	adminKey := register(t, s, "seller", adminAddr)

	w := doJSON(t, s, "POST", "/v1/trades", gin.H{
		"productCost":   1000,
		"totalQuantity": 5,
		"logisticsOptions": []gin.H{
			{"provider": logisticsAddr, "cost": 100},
		},
	}, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to create trade: %d %s", w.Code, w.Body.String())
	}
	var tradeResp struct {
		Trade struct {
			TradeID uint64 `json:"tradeId"`
		} `json:"trade"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tradeResp)

	w = doJSON(t, s, "POST", "/v1/purchases", gin.H{
		"tradeId":           tradeResp.Trade.TradeID,
		"quantity":          1,
		"logisticsProvider": logisticsAddr,
		"tenderedAmount":    1125, // 1100 + fee 25
	}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to buy: %d %s", w.Code, w.Body.String())
	}
	var buyResp struct {
		Purchase struct {
			PurchaseID uint64 `json:"purchaseId"`
		} `json:"purchase"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &buyResp)
	purchaseID := buyResp.Purchase.PurchaseID

	// Buyer raises a dispute
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/purchases/%d/dispute", purchaseID), nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to raise dispute: %d %s", w.Code, w.Body.String())
	}

	// Non-admin cannot arbitrate
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/admin/purchases/%d/resolve", purchaseID),
		gin.H{"outcome": "refund"}, sellerKey)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin resolve, got %d", w.Code)
	}

	// Admin refunds the buyer
	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/admin/purchases/%d/resolve", purchaseID),
		gin.H{"outcome": "refund"}, adminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to resolve dispute: %d %s", w.Code, w.Body.String())
	}

	// Refund restores inventory
	w = doJSON(t, s, "GET", fmt.Sprintf("/v1/trades/%d", tradeResp.Trade.TradeID), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to get trade: %d", w.Code)
	}
	var afterResp struct {
		Trade struct {
			RemainingQuantity uint64 `json:"remainingQuantity"`
		} `json:"trade"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &afterResp)
	if afterResp.Trade.RemainingQuantity != 5 {
		t.Errorf("Expected quantity restored to 5 after refund, got %d", afterResp.Trade.RemainingQuantity)
	}
}

func TestAdminFeeWithdrawal(t *testing.T) {
	s := newTestServer(t)

	sellerKey := register(t, s, "seller", sellerAddr)
	buyerKey := register(t, s, "buyer", buyerAddr)
	register(t, s, "logistics", logisticsAddr)
	adminKey := register(t, s, "buyer", adminAddr)

	w := doJSON(t, s, "POST", "/v1/trades", gin.H{
		"productCost":   1000,
		"totalQuantity": 5,
		"logisticsOptions": []gin.H{
			{"provider": logisticsAddr, "cost": 100},
		},
	}, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to create trade: %d %s", w.Code, w.Body.String())
	}
	var tradeResp struct {
		Trade struct {
			TradeID uint64 `json:"tradeId"`
		} `json:"trade"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tradeResp)

	w = doJSON(t, s, "POST", "/v1/purchases", gin.H{
		"tradeId":           tradeResp.Trade.TradeID,
		"quantity":          1,
		"logisticsProvider": logisticsAddr,
		"tenderedAmount":    1125,
	}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to buy: %d %s", w.Code, w.Body.String())
	}
	var buyResp struct {
		Purchase struct {
			PurchaseID uint64 `json:"purchaseId"`
		} `json:"purchase"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &buyResp)

	// Fees accrue when funds are released, not on payment
	w = doJSON(t, s, "POST", "/v1/admin/fees/withdraw", nil, adminKey)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 before any fee accrual, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "POST", fmt.Sprintf("/v1/purchases/%d/confirm", buyResp.Purchase.PurchaseID), nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to confirm: %d %s", w.Code, w.Body.String())
	}

	// Non-admin withdrawal is forbidden
	w = doJSON(t, s, "POST", "/v1/admin/fees/withdraw", nil, sellerKey)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin withdrawal, got %d", w.Code)
	}

	// Admin sweeps the whole pool (fee was 25)
	w = doJSON(t, s, "POST", "/v1/admin/fees/withdraw", nil, adminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("Failed to withdraw fees: %d %s", w.Code, w.Body.String())
	}
	var withdrawResp struct {
		Withdrawn uint64 `json:"withdrawn"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &withdrawResp)
	if withdrawResp.Withdrawn != 25 {
		t.Errorf("Expected 25 withdrawn, got %d", withdrawResp.Withdrawn)
	}
}
