package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() {
		Version, Commit = origVersion, origCommit
	})
	Version = "1.2.3"
	Commit = "abc1234"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HandleHealth()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func healthOK(context.Context) error { return nil }

func healthFail(context.Context) error { return errors.New("connection refused") }

func TestHandleReady_allHealthy(t *testing.T) {
	checks := ReadinessChecks{
		ApprovalStore:    HealthCheckFunc(healthOK),
		FinanceService:   HealthCheckFunc(healthOK),
		IdempotencyStore: HealthCheckFunc(healthOK),
		NotifyBroker:     HealthCheckFunc(healthOK),
	}

	rec := httptest.NewRecorder()
	HandleReady(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 4 {
		t.Errorf("checks = %d, want 4", len(resp.Checks))
	}
	for name, result := range resp.Checks {
		if result.Status != "ok" {
			t.Errorf("check %q status = %q, want ok", name, result.Status)
		}
	}
}

func TestHandleReady_storeFailure(t *testing.T) {
	checks := ReadinessChecks{
		ApprovalStore:  HealthCheckFunc(healthFail),
		FinanceService: HealthCheckFunc(healthOK),
	}

	rec := httptest.NewRecorder()
	HandleReady(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	store := resp.Checks["approval_store"]
	if store.Status != "error" {
		t.Errorf("approval_store status = %q, want error", store.Status)
	}
	if store.Error != "connection refused" {
		t.Errorf("approval_store error = %q", store.Error)
	}
	if resp.Checks["finance_service"].Status != "ok" {
		t.Errorf("finance_service should stay ok when store fails")
	}
}

func TestHandleReady_missingStore(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleReady(ReadinessChecks{})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Checks["approval_store"].Error != "no approval store configured" {
		t.Errorf("approval_store error = %q", resp.Checks["approval_store"].Error)
	}
}

func TestHandleReady_skipsNilOptionalChecks(t *testing.T) {
	checks := ReadinessChecks{
		ApprovalStore: HealthCheckFunc(healthOK),
	}

	rec := httptest.NewRecorder()
	HandleReady(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks = %d, want only approval_store", len(resp.Checks))
	}
	if _, ok := resp.Checks["finance_service"]; ok {
		t.Error("finance_service should not be checked when nil")
	}
}
