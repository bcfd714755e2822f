package vendorapi

import (
	"context"
	"errors"
	"testing"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
	"ashare-lake/internal/ratelimit"
)

type stubCaller struct {
	rows []map[string]any
	err  error
	seen int
}

func (s *stubCaller) Call(_ context.Context, _, _ string, _ map[string]string) ([]map[string]any, error) {
	s.seen++
	return s.rows, s.err
}

const fetcherTOML = `
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
  base = "https://vendor.example/api"
  required = ["symbol", "start", "end"]
`

func newTestFactory(t *testing.T, caller Caller) (*Factory, *catalog.Registry) {
	t.Helper()
	reg, err := catalog.Parse([]byte(fetcherTOML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return NewFactory(reg, ratelimit.NewManager(map[string]int{"daily": 600}), caller), reg
}

func TestBuildRejectsMissingRequiredParams(t *testing.T) {
	t.Parallel()
	f, _ := newTestFactory(t, &stubCaller{})
	_, err := f.Build("daily", map[string]string{"symbol": "600000.SH"})
	if !errors.Is(err, model.ErrBadParams) {
		t.Fatalf("err = %v, want ErrBadParams", err)
	}
}

func TestBuildIsPureNoCallerInvocationUntilFetcherRuns(t *testing.T) {
	t.Parallel()
	stub := &stubCaller{rows: []map[string]any{{"symbol": "600000.SH", "trade_date": "20240102", "close": 10.1}}}
	f, _ := newTestFactory(t, stub)

	fetcher, err := f.Build("daily", map[string]string{"symbol": "600000.SH", "start": "20240101", "end": "20240131"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stub.seen != 0 {
		t.Fatalf("Build invoked the caller; want zero calls until fetcher() runs")
	}

	table, err := fetcher(context.Background())
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	if stub.seen != 1 {
		t.Fatalf("seen = %d, want 1", stub.seen)
	}
	if len(table.Rows) != 1 || table.Rows[0]["symbol"] != "600000.SH" {
		t.Fatalf("rows = %v", table.Rows)
	}
	if table.Rows[0]["close"] != 10.1 {
		t.Fatalf("close = %v, want 10.1", table.Rows[0]["close"])
	}
}

func TestFetcherReturnsSchemaMismatchOnMissingKeyColumn(t *testing.T) {
	t.Parallel()
	stub := &stubCaller{rows: []map[string]any{{"symbol": "600000.SH", "close": 10.1}}} // missing trade_date
	f, _ := newTestFactory(t, stub)

	fetcher, err := f.Build("daily", map[string]string{"symbol": "600000.SH", "start": "20240101", "end": "20240131"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = fetcher(context.Background())
	if !errors.Is(err, model.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestFetcherPropagatesCallerError(t *testing.T) {
	t.Parallel()
	stub := &stubCaller{err: model.ErrServerError}
	f, _ := newTestFactory(t, stub)

	fetcher, err := f.Build("daily", map[string]string{"symbol": "600000.SH", "start": "20240101", "end": "20240131"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = fetcher(context.Background())
	if !errors.Is(err, model.ErrServerError) {
		t.Fatalf("err = %v, want ErrServerError", err)
	}
}
