package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newValidator(t *testing.T, spec string) *StaticAPIKeyValidator {
	t.Helper()
	v, err := NewStaticAPIKeyValidator(spec)
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator(%q): %v", spec, err)
	}
	return v
}

func TestStaticAPIKeyValidatorParsesEntries(t *testing.T) {
	v := newValidator(t, "k1:trading-desk:query_executor|query_admin, k2:risk:query_executor")

	identity, ok := v.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected k1 to validate")
	}
	if identity.ClientID != "trading-desk" {
		t.Fatalf("ClientID = %q", identity.ClientID)
	}
	if !identity.HasRole("query_admin") || !identity.HasRole("query_executor") {
		t.Fatalf("roles = %v", identity.Roles)
	}
	if identity.HasRole("superuser") {
		t.Fatal("unexpected role")
	}

	if _, ok := v.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key validated")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{
		"k1",
		"k1:client",
		"k1::role",
		":client:role",
		"k1:client:",
	} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Errorf("spec %q: expected error", spec)
		}
	}
}

func TestEmptySpecRejectsEveryKey(t *testing.T) {
	v := newValidator(t, "")
	if _, ok := v.Validate(context.Background(), "anything"); ok {
		t.Fatal("empty validator accepted a key")
	}
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	v := newValidator(t, "k1:trading-desk:query_executor")
	h := Middleware(nil, v)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries/execute", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMiddlewareAcceptsHeaderAndBearer(t *testing.T) {
	v := newValidator(t, "k1:trading-desk:query_executor")
	var identity Identity
	h := Middleware(nil, v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("header auth status = %d", rr.Code)
	}
	if identity.ClientID != "trading-desk" {
		t.Fatalf("identity = %+v", identity)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/queries/execute", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer auth status = %d", rr.Code)
	}
}

func TestMiddlewareRejectsInvalidKey(t *testing.T) {
	v := newValidator(t, "k1:trading-desk:query_executor")
	h := Middleware(nil, v)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}
