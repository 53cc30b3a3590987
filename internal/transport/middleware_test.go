package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/model"
)

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 after panic", w.Code)
	}
}

func TestRequestID_generatesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Error("correlation ID should be generated")
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("header = %q, context = %q, want equal", got, seen)
	}
}

func TestRequestID_echoesProvided(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "corr-7" {
		t.Errorf("correlation ID = %q, want corr-7", seen)
	}
}

func TestBuildRequestContext(t *testing.T) {
	var rctx *model.RequestContext
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	})

	claims := map[string]any{
		"sub":   "user-1",
		"email": "user@example.com",
		"roles": []any{"approver", "staff"},
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "ko-KR")
	req = req.WithContext(WithClaims(req.Context(), claims))

	BuildRequestContext(inner).ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("request context not built")
	}
	if rctx.SubjectID != "user-1" {
		t.Errorf("subject = %q", rctx.SubjectID)
	}
	if rctx.Email != "user@example.com" {
		t.Errorf("email = %q", rctx.Email)
	}
	if len(rctx.Roles) != 2 || rctx.Roles[0] != "approver" {
		t.Errorf("roles = %v", rctx.Roles)
	}
	if rctx.Locale != "ko-KR" {
		t.Errorf("locale = %q", rctx.Locale)
	}
}

func TestResolveCapabilities_storesCaps(t *testing.T) {
	resolver := &stubCapResolver{caps: model.CapabilitySet{"approvals:view": true}}

	var caps model.CapabilitySet
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(model.WithRequestContext(req.Context(), requesterContext()))
	ResolveCapabilities(resolver, zap.NewNop())(inner).ServeHTTP(httptest.NewRecorder(), req)

	if !caps.Has("approvals:view") {
		t.Error("resolved capabilities should be in context")
	}
}

func TestRequireCapability(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := RequireCapability("approvals:delete")(inner)

	// Without the capability.
	req := httptest.NewRequest("DELETE", "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), capabilitiesKey{},
		model.CapabilitySet{"approvals:view": true}))
	w := httptest.NewRecorder()
	guard.ServeHTTP(w, req)
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}

	// With a matching wildcard.
	req = httptest.NewRequest("DELETE", "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), capabilitiesKey{},
		model.CapabilitySet{"approvals:*": true}))
	w = httptest.NewRecorder()
	guard.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireCapability_noCapsInContext(t *testing.T) {
	guard := RequireCapability("approvals:view")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	guard.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 403 {
		t.Errorf("status = %d, want 403 with no capability set", w.Code)
	}
}

func TestHandlerTimeout(t *testing.T) {
	var deadlineSet bool
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, deadlineSet = r.Context().Deadline()
	})

	HandlerTimeout(time.Second)(inner).ServeHTTP(
		httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !deadlineSet {
		t.Error("deadline should be set")
	}

	deadlineSet = false
	HandlerTimeout(0)(inner).ServeHTTP(
		httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if deadlineSet {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestClaimHelpers(t *testing.T) {
	if got := claimString(nil, "sub"); got != "" {
		t.Errorf("claimString(nil) = %q, want empty", got)
	}
	if got := claimStringSlice(nil, "roles"); got != nil {
		t.Errorf("claimStringSlice(nil) = %v, want nil", got)
	}

	claims := map[string]any{
		"sub":   "u-1",
		"count": 3,
		"roles": []any{"a", 2, "b"},
	}
	if got := claimString(claims, "count"); got != "" {
		t.Errorf("non-string claim = %q, want empty", got)
	}
	if got := claimStringSlice(claims, "roles"); len(got) != 2 {
		t.Errorf("roles = %v, want non-strings skipped", got)
	}
}
