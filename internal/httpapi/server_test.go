package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marlin/internal/backtest"
	"marlin/internal/domain"
	"marlin/internal/store"
)

const momentumDoc = `{
	"name": "momentum",
	"indicators": [],
	"longEntry": [{"crossover": {"columnName": "close", "target": 102}}],
	"shortEntry": [{"lt": {"columnName": "close", "target": 0.000001}}],
	"longExit": [{"lt": {"columnName": "close", "target": 101}}],
	"shortExit": [{"lt": {"columnName": "close", "target": 0.000001}}]
}`

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore, string) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "marlin.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exportDir := t.TempDir()
	runner := backtest.NewRunner(st, st, nil)
	srv := httptest.NewServer(NewServer(runner, st, domain.RunConfig{}, exportDir, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, st, exportDir
}

func seedCandles(t *testing.T, st *store.SQLiteStore) time.Time {
	t.Helper()
	base := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 103, 105, 100, 99}
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
		}
	}
	if err := st.WriteCandles(context.Background(), candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}
	return base
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestStrategyCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Save.
	resp := postJSON(t, srv.URL+"/api/strategy", momentumDoc)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save status = %d, want 201", resp.StatusCode)
	}
	var saved StrategySavedResponse
	json.NewDecoder(resp.Body).Decode(&saved)
	resp.Body.Close()
	if saved.Name != "momentum" {
		t.Errorf("saved name = %q, want momentum", saved.Name)
	}

	// Duplicate save conflicts.
	resp = postJSON(t, srv.URL+"/api/strategy", momentumDoc)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate save status = %d, want 409", resp.StatusCode)
	}

	// Invalid document is rejected before persisting.
	bad := `{"name":"bad","longEntry":[{"frobnicate":{"columnName":"close","target":1}}]}`
	resp = postJSON(t, srv.URL+"/api/strategy", bad)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid doc status = %d, want 422", resp.StatusCode)
	}

	// List.
	resp, err := http.Get(srv.URL + "/api/strategy")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	var list StrategyListResponse
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Strategies) != 1 || list.Strategies[0] != "momentum" {
		t.Errorf("list = %v, want [momentum]", list.Strategies)
	}

	// Get.
	resp, err = http.Get(srv.URL + "/api/strategy/momentum")
	if err != nil {
		t.Fatalf("GET strategy: %v", err)
	}
	var doc map[string]any
	json.NewDecoder(resp.Body).Decode(&doc)
	resp.Body.Close()
	if doc["name"] != "momentum" {
		t.Errorf("fetched doc name = %v", doc["name"])
	}

	// Get unknown.
	resp, _ = http.Get(srv.URL + "/api/strategy/nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", resp.StatusCode)
	}

	// Update.
	updated := strings.Replace(momentumDoc, `"target": 101`, `"target": 100`, 1)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/strategy/momentum", bytes.NewReader([]byte(updated)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT strategy: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("update status = %d, want 200", resp.StatusCode)
	}

	// Update with a mismatched document name.
	mismatched := strings.Replace(momentumDoc, `"momentum"`, `"other"`, 1)
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/strategy/momentum", bytes.NewReader([]byte(mismatched)))
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched update status = %d, want 400", resp.StatusCode)
	}
}

func TestBacktestEndpoint(t *testing.T) {
	srv, st, exportDir := newTestServer(t)
	seedCandles(t, st)
	if err := st.SaveStrategy(context.Background(), "momentum", []byte(momentumDoc)); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}

	body := `{"symbol":"TEST","start":"2021-03-01","end":"2021-03-02","strategyName":"momentum"}`
	resp := postJSON(t, srv.URL+"/api/backtest", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out BacktestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(out.Trades))
	}
	if out.Trades[0].EntryPx != 103 || out.Trades[0].ExitPx != 100 {
		t.Errorf("entry/exit = %v/%v, want 103/100", out.Trades[0].EntryPx, out.Trades[0].ExitPx)
	}
	if out.Summary == nil || out.Summary.TotalTrades != 1 {
		t.Errorf("summary = %+v, want one trade", out.Summary)
	}

	// CSV export on demand.
	resp = postJSON(t, srv.URL+"/api/backtest?csv=true", body)
	defer resp.Body.Close()
	var withCSV BacktestResponse
	json.NewDecoder(resp.Body).Decode(&withCSV)
	if withCSV.CSVPath == "" {
		t.Fatal("csvPath missing")
	}
	if !strings.HasPrefix(withCSV.CSVPath, exportDir) {
		t.Errorf("csvPath = %q, want under %q", withCSV.CSVPath, exportDir)
	}
	if _, err := os.Stat(withCSV.CSVPath); err != nil {
		t.Errorf("exported file: %v", err)
	}
}

func TestBacktestEndpointErrors(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedCandles(t, st)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown strategy", `{"symbol":"TEST","start":"2021-03-01","end":"2021-03-02","strategyName":"nope"}`, http.StatusBadRequest},
		{"missing symbol", `{"start":"2021-03-01","end":"2021-03-02","strategyName":"momentum"}`, http.StatusBadRequest},
		{"bad start", `{"symbol":"TEST","start":"yesterday","end":"2021-03-02","strategyName":"momentum"}`, http.StatusBadRequest},
		{"malformed body", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/backtest", tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestBacktestInvalidStoredStrategy(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedCandles(t, st)
	// A document that bypassed validation (e.g. written by an older build).
	broken := `{"name":"broken","longEntry":[{"gt":{"target":1}}]}`
	if err := st.SaveStrategy(context.Background(), "broken", []byte(broken)); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}

	body := `{"symbol":"TEST","start":"2021-03-01","end":"2021-03-02","strategyName":"broken"}`
	resp := postJSON(t, srv.URL+"/api/backtest", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/backtest", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}
