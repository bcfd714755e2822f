package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/lake"
	"ashare-lake/internal/ratelimit"
	"ashare-lake/internal/vendorapi"
)

const testCatalogTOML = `
[[dataset]]
name = "daily"
primary_key = ["symbol", "trade_date"]
date_column = "trade_date"
strategy = "incremental"
per_symbol = true

  [[dataset.columns]]
  name = "symbol"
  type = "string"

  [[dataset.columns]]
  name = "trade_date"
  type = "date"

  [[dataset.columns]]
  name = "close"
  type = "float64"

  [dataset.api]
  method = "daily"
  base = "__BASE__"
  required = ["symbol", "start", "end"]

[[group]]
name = "daily_group"
tasks = ["daily"]
`

func newTestOrchestrator(t *testing.T, vendorURL string) (*Orchestrator, *lake.Lake) {
	t.Helper()
	toml := replaceOnce(testCatalogTOML, "__BASE__", vendorURL)
	reg, err := catalog.Parse([]byte(toml))
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}

	root := t.TempDir()
	lk, err := lake.Open(filepath.Join(root, "data"), filepath.Join(root, "manifest.db"))
	if err != nil {
		t.Fatalf("lake.Open: %v", err)
	}
	t.Cleanup(func() { lk.Close() })

	limiter := ratelimit.NewManager(map[string]int{"daily": 6000})
	factory := vendorapi.NewFactory(reg, limiter, vendorapi.NewHTTPCaller(""))

	orch, err := New(Config{
		QueueStorePath: filepath.Join(root, "queue.db"),
		FastWorkers:    2,
		LeaseFor:       time.Second,
		MaxAttempts:    3,
		BaseBackoff:    10 * time.Millisecond,
		MaintInterval:  time.Hour, // effectively disabled for this test
		SymbolOverride: []string{"600000.SH"},
		BackfillStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, reg, lk, factory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { orch.store.Close() })
	return orch, lk
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}

func TestPlanDownloadPersistEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		json.NewEncoder(w).Encode([]map[string]any{
			{"symbol": symbol, "trade_date": "20240102", "close": 11.5},
			{"symbol": symbol, "trade_date": "20240103", "close": 11.8},
		})
	}))
	defer srv.Close()

	orch, lk := newTestOrchestrator(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orch.Start(ctx)
	if _, err := orch.SubmitPlan("daily_group", "corr-1"); err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var latest time.Time
	var lastErr error
	for time.Now().Before(deadline) {
		latest, lastErr = lk.LatestDate(ctx, "daily", "600000.SH")
		if lastErr == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if lastErr != nil {
		t.Fatalf("never observed persisted data: %v", lastErr)
	}
	want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if !latest.Equal(want) {
		t.Fatalf("latest date = %v, want %v", latest, want)
	}

	summary := orch.Shutdown(context.Background())
	if total := summary.FastPending + summary.SlowPending + summary.MaintPending; total != 0 {
		t.Fatalf("pending after drain = %d, want 0 (summary=%+v)", total, summary)
	}
	for q, n := range summary.DeadLetters {
		if n != 0 {
			t.Fatalf("dead letters on %s = %d, want 0", q, n)
		}
	}
}

func TestCancelRemovesQueuedTaskBeforeItRuns(t *testing.T) {
	t.Parallel()
	orch, _ := newTestOrchestrator(t, "http://127.0.0.1:0")

	if err := orch.SubmitMaintenance("daily", MaintCompact); err != nil {
		t.Fatalf("SubmitMaintenance: %v", err)
	}
	n, err := orch.store.Len(queueName(KindMaintenance))
	if err != nil || n != 1 {
		t.Fatalf("pending maint = %d, err=%v, want 1", n, err)
	}

	if err := orch.Cancel(KindMaintenance, 1); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	n, _ = orch.store.Len(queueName(KindMaintenance))
	if n != 0 {
		t.Fatalf("pending maint after cancel = %d, want 0", n)
	}
}
