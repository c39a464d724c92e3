package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTenantMiddleware(t *testing.T) {
	var seen string
	h := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTenantID(r.Context())
	}))

	tests := []struct {
		tenant string
		status int
	}{
		{"tenant-001", http.StatusOK},
		{"Acme_Bank", http.StatusOK},
		{"", http.StatusBadRequest},
		{"*", http.StatusBadRequest},
		{"acme.bank", http.StatusBadRequest},
		{"acme:bank", http.StatusBadRequest},
		{"has space", http.StatusBadRequest},
	}
	for _, tt := range tests {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.tenant != "" {
			req.Header.Set(TenantIDHeader, tt.tenant)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tt.status {
			t.Errorf("tenant %q: expected %d, got %d", tt.tenant, tt.status, rr.Code)
		}
		if tt.status == http.StatusOK && seen != tt.tenant {
			t.Errorf("tenant %q not propagated, got %q", tt.tenant, seen)
		}
	}
}

func TestTenantLimiter(t *testing.T) {
	tl := newTenantLimiter(0.5, 1)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if ok, _ := tl.reserve("tenant-001", now); !ok {
		t.Fatal("first request must pass")
	}
	ok, wait := tl.reserve("tenant-001", now)
	if ok {
		t.Fatal("second request must be limited")
	}
	if wait < time.Second || wait > 2*time.Second {
		t.Errorf("expected a wait of up to 2s, got %v", wait)
	}
	if ok, _ := tl.reserve("tenant-001", now.Add(2*time.Second)); !ok {
		t.Error("token must refill after the wait")
	}

	// A later call sweeps buckets idle for longer than idleTTL.
	tl.reserve("tenant-002", now.Add(tl.idleTTL+time.Hour))
	tl.mu.Lock()
	_, kept := tl.buckets["tenant-001"]
	n := len(tl.buckets)
	tl.mu.Unlock()
	if kept || n != 1 {
		t.Errorf("expected only the active bucket to remain, got %d (tenant-001 kept: %v)", n, kept)
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	h := TenantMiddleware(RateLimitMiddleware(0.25, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantIDHeader, "tenant-001")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if got := last.Header().Get("Retry-After"); got != "4" {
		t.Errorf("expected Retry-After 4, got %q", got)
	}
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := newStatusRecorder(rr)
	if newStatusRecorder(sr) != sr {
		t.Error("nested middleware must share the recorder")
	}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK)
	sr.Write([]byte("short and stout"))

	if sr.status != http.StatusTeapot || sr.written != 15 {
		t.Errorf("unexpected recorder state status=%d written=%d", sr.status, sr.written)
	}
}
