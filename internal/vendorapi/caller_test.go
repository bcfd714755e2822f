package vendorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPCallerSuccessReturnsDecodedRows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("method") != "daily" {
			t.Errorf("method = %q, want daily", r.URL.Query().Get("method"))
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"symbol": "600000.SH", "trade_date": "20240102", "close": 10.1},
		})
	}))
	defer srv.Close()

	c := NewHTTPCaller("")
	rows, err := c.Call(context.Background(), srv.URL, "daily", map[string]string{"symbol": "600000.SH"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(rows) != 1 || rows[0]["symbol"] != "600000.SH" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestHTTPCallerRetriesOnServerErrorThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{"symbol": "600000.SH"}})
	}))
	defer srv.Close()

	c := NewHTTPCaller("")
	c.BaseBackoff = 5 * time.Millisecond
	rows, err := c.Call(context.Background(), srv.URL, "daily", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestHTTPCallerDoesNotRetryOnClientError(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPCaller("")
	c.BaseBackoff = 5 * time.Millisecond
	_, err := c.Call(context.Background(), srv.URL, "daily", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (client errors must not retry)", calls)
	}
}

func TestHTTPCallerExhaustsRetriesOnPersistentServerError(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPCaller("")
	c.BaseBackoff = 2 * time.Millisecond
	c.MaxRetries = 3
	_, err := c.Call(context.Background(), srv.URL, "daily", nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestHTTPCallerSendsTokenFromEnv(t *testing.T) {
	t.Setenv("VENDOR_TOKEN", "secret-token")

	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := NewHTTPCaller("VENDOR_TOKEN")
	if _, err := c.Call(context.Background(), srv.URL, "daily", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotToken != "secret-token" {
		t.Fatalf("token = %q, want secret-token", gotToken)
	}
}
