// Package integration provides a reusable test harness for end-to-end
// integration testing of the tripdesk approval server. It starts a full HTTP
// server with a mock finance backend, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/internal/approval"
	"github.com/haneul-labs/tripdesk/internal/capability"
	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/internal/finance"
	"github.com/haneul-labs/tripdesk/internal/idempotency"
	"github.com/haneul-labs/tripdesk/internal/notify"
	"github.com/haneul-labs/tripdesk/internal/observability"
	"github.com/haneul-labs/tripdesk/internal/transport"
	"github.com/haneul-labs/tripdesk/model"
)

// TestHarness encapsulates a fully wired approval server with a mock finance
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store            *approval.MemoryStore
	Engine           *approval.Engine
	IdempotencyStore *idempotency.MemoryStore
	Notifications    *notify.MemorySink
	CapResolver      model.CapabilityResolver

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyFile          string
	handlerTimeout      time.Duration
	idempotencyDisabled bool
	financeRecords      map[string]model.FinanceRecord
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithoutIdempotency disables the idempotency store.
func WithoutIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyDisabled = true
	}
}

// WithFinanceRecord registers a record served by the mock finance backend.
func WithFinanceRecord(rec model.FinanceRecord) HarnessOption {
	return func(c *harnessConfig) {
		if c.financeRecords == nil {
			c.financeRecords = make(map[string]model.FinanceRecord)
		}
		c.financeRecords[rec.ID] = rec
	}
}

// NewTestHarness creates and starts a full approval server test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		financeRecords: map[string]model.FinanceRecord{
			"fin-100": {ID: "fin-100", Amount: 2500000, Currency: "KRW"},
		},
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}

	h := &TestHarness{t: t}

	// Step 1: Start the mock finance backend.
	financeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/finance/records/")
		rec, ok := hc.financeRecords[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": rec})
	}))
	t.Cleanup(financeSrv.Close)

	// Step 2: Build capability resolver with caching disabled.
	evaluator, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	h.CapResolver = capability.NewResolver(evaluator, 0)

	// Step 3: Build in-memory collaborators.
	h.Store = approval.NewMemoryStore()
	h.Notifications = notify.NewMemorySink()
	if !hc.idempotencyDisabled {
		h.IdempotencyStore = idempotency.NewMemoryStore()
	}

	financeClient := finance.NewClient(config.FinanceConfig{
		BaseURL: financeSrv.URL,
		Timeout: 5 * time.Second,
	})

	// Step 4: Build the engine.
	h.Engine = approval.NewEngine(h.Store, financeClient, h.Notifications, h.CapResolver)

	// Step 5: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 6: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Idempotency.Enabled = !hc.idempotencyDisabled
	h.cfg.Observability.Metrics.Enabled = false

	// Step 7: Build router with the full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, zap.NewNop())

	var idemStore idempotency.Store
	if h.IdempotencyStore != nil {
		idemStore = h.IdempotencyStore
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             zap.NewNop(),
		Engine:             h.Engine,
		CapabilityResolver: h.CapResolver,
		Idempotency:        idemStore,
		Readiness: observability.ReadinessChecks{
			ApprovalStore: h.Store,
		},
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
	})

	// Step 8: Start the test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// StaffClaims returns TestClaims for a staff user who files requests.
func StaffClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-staff",
		Email:     "staff@haneul.example.com",
		Roles:     []string{"staff"},
	}
}

// ApproverClaims returns TestClaims for an approver with the given subject.
func ApproverClaims(subjectID string) TestClaims {
	return TestClaims{
		SubjectID: subjectID,
		Email:     subjectID + "@haneul.example.com",
		Roles:     []string{"approver"},
	}
}

// AdminClaims returns TestClaims for an admin user.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@haneul.example.com",
		Roles:     []string{"admin"},
	}
}

// AuditorClaims returns TestClaims for a view-only auditor.
func AuditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-auditor",
		Email:     "auditor@haneul.example.com",
		Roles:     []string{"auditor"},
	}
}

// --- Fixtures ---

// CreateBody returns a typical custom-target create payload with the given
// approver chain.
func CreateBody(approvers ...string) map[string]any {
	steps := make([]map[string]any, len(approvers))
	for i, a := range approvers {
		steps[i] = map[string]any{"approver_id": a, "order": i + 1}
	}
	return map[string]any{
		"title":       "Business trip to Busan",
		"content":     "KTX and two hotel nights",
		"target_type": "custom",
		"amount":      450000,
		"steps":       steps,
	}
}

// CreateApproval files an approval through the API and returns it.
func (h *TestHarness) CreateApproval(t *testing.T, token string, approvers ...string) model.Approval {
	t.Helper()
	resp := h.POST("/approvals", CreateBody(approvers...), token)

	var body struct {
		Data model.Approval `json:"data"`
	}
	h.AssertJSON(t, resp, http.StatusCreated, &body)
	return body.Data
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
