package finance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haneul-labs/tripdesk/internal/config"
	"github.com/haneul-labs/tripdesk/model"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.FinanceConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	})
}

func TestClient_FindByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/finance/records/fin-100" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"fin-100","amount":2500000,"currency":"KRW"}}`))
	}))
	defer srv.Close()

	record, err := newTestClient(srv).FindByID(context.Background(), "fin-100")
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if record.ID != "fin-100" {
		t.Errorf("ID = %q", record.ID)
	}
	if record.Amount != 2500000 {
		t.Errorf("Amount = %v", record.Amount)
	}
	if record.Currency != "KRW" {
		t.Errorf("Currency = %q", record.Currency)
	}
}

func TestClient_FindByID_topLevelRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fin-7","amount":1800,"currency":"USD"}`))
	}))
	defer srv.Close()

	record, err := newTestClient(srv).FindByID(context.Background(), "fin-7")
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if record.Currency != "USD" {
		t.Errorf("Currency = %q", record.Currency)
	}
}

func TestClient_FindByID_notFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FindByID(context.Background(), "fin-missing")
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if envErr.Code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrNotFound)
	}
}

func TestClient_FindByID_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FindByID(context.Background(), "fin-100")
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if envErr.Code != model.ErrBackendUnavailable {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrBackendUnavailable)
	}
}

func TestClient_FindByID_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	_, err := newTestClient(srv).FindByID(context.Background(), "fin-100")
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if envErr.Code != model.ErrBackendUnavailable {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrBackendUnavailable)
	}
}

func TestClient_FindByID_noRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, _ = newTestClient(srv).FindByID(context.Background(), "fin-100")
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", calls)
	}
}
