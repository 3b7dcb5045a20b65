package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etlite-io/etlite/internal/dataset"
)

func TestRegistryKnowsBuiltins(t *testing.T) {
	for _, kind := range []string{"csv_local", "http_json"} {
		if !Known(kind) {
			t.Fatalf("adapter %s not registered", kind)
		}
	}
	if _, err := New("carrier_pigeon", nil); err == nil {
		t.Fatalf("expected error for unknown adapter kind")
	}
}

func TestCSVLocalEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.csv")
	content := "id,fare,started_at,city\n" +
		"1,12.5,2024-03-01T10:00:00Z,riga\n" +
		"2,,2024-03-01T11:00:00Z,vilnius\n" +
		"3,7.25,2024-03-01,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	a, err := New("csv_local", map[string]any{"path": path})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ds, err := Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run adapter: %v", err)
	}

	if ds.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", ds.Len())
	}
	byName := map[string]dataset.Column{}
	for _, c := range ds.Columns {
		byName[c.Name] = c
	}
	if byName["id"].Type != dataset.TypeBigint {
		t.Fatalf("id type: %s", byName["id"].Type)
	}
	if byName["fare"].Type != dataset.TypeDouble {
		t.Fatalf("fare type: %s", byName["fare"].Type)
	}
	if byName["started_at"].Type != dataset.TypeTimestamp {
		t.Fatalf("started_at type: %s", byName["started_at"].Type)
	}

	// Empty cells are nulls.
	if ds.Rows[1][ds.ColumnIndex("fare")] != nil {
		t.Fatalf("empty fare must be null")
	}
	if ds.Rows[2][ds.ColumnIndex("city")] != nil {
		t.Fatalf("empty city must be null")
	}
	if ts, ok := ds.Rows[0][ds.ColumnIndex("started_at")].(time.Time); !ok || ts.Hour() != 10 {
		t.Fatalf("unexpected timestamp: %v", ds.Rows[0][ds.ColumnIndex("started_at")])
	}
}

func TestCSVLocalCustomDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a;b\n1;2\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	a, err := New("csv_local", map[string]any{"path": path, "delimiter": ";"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ds, err := Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run adapter: %v", err)
	}
	if len(ds.Columns) != 2 || ds.Len() != 1 {
		t.Fatalf("unexpected shape: %d cols %d rows", len(ds.Columns), ds.Len())
	}
}

func TestCSVLocalRequiresPath(t *testing.T) {
	if _, err := New("csv_local", map[string]any{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestHTTPJSONEndToEnd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("city") != "riga" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"id":1,"name":"a","geo":{"lat":56.9,"lon":24.1}},
			{"id":2,"name":"b","geo":{"lat":54.7,"lon":25.3},"tags":["x","y"]}
		]}`))
	}))
	defer ts.Close()

	a, err := New("http_json", map[string]any{
		"url":     ts.URL,
		"query":   map[string]any{"city": "riga"},
		"headers": map[string]any{"X-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ds, err := Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run adapter: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", ds.Len())
	}
	// Nested objects are flattened with dotted keys.
	if ds.ColumnIndex("geo.lat") < 0 || ds.ColumnIndex("geo.lon") < 0 {
		t.Fatalf("expected flattened geo columns, got %v", ds.ColumnNames())
	}
	// Arrays survive as JSON text.
	tags := ds.Rows[1][ds.ColumnIndex("tags")]
	if s, ok := tags.(string); !ok || s != `["x","y"]` {
		t.Fatalf("unexpected tags cell: %v", tags)
	}
	// Ragged records leave nulls in the missing cells.
	if ds.Rows[0][ds.ColumnIndex("tags")] != nil {
		t.Fatalf("missing tags must be null")
	}
}

func TestHTTPJSONKeyChainSelectRenameEnrich(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payload":{"rows":[{"a":1,"b":"x","c":true},{"a":2,"b":"y","c":false}]}}`))
	}))
	defer ts.Close()

	a, err := New("http_json", map[string]any{
		"url":               ts.URL,
		"records_key_chain": []any{"payload", "rows"},
		"select":            []any{"a", "b"},
		"rename":            map[string]any{"a": "id"},
		"enrich":            map[string]any{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ds, err := Run(context.Background(), a)
	if err != nil {
		t.Fatalf("run adapter: %v", err)
	}
	want := []string{"id", "b", "origin"}
	got := ds.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("columns: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("columns: got %v want %v", got, want)
		}
	}
	if ds.Rows[0][2] != "test" || ds.Rows[1][2] != "test" {
		t.Fatalf("enrich column must be constant")
	}
}

func TestHTTPJSONNon200Fails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a, err := New("http_json", map[string]any{"url": ts.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if _, err := Run(context.Background(), a); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestLocateRecordsFallbacks(t *testing.T) {
	payload := map[string]any{"data": []any{map[string]any{"a": 1.0}}}
	if got := locateRecords(payload, nil); len(got) != 1 {
		t.Fatalf("data wrapper fallback: got %d records", len(got))
	}

	single := map[string]any{"a": 1.0, "b": 2.0}
	if got := locateRecords(single, nil); len(got) != 1 {
		t.Fatalf("single object normalizes to one row: got %d", len(got))
	}

	nested := map[string]any{"outer": []any{
		map[string]any{"inner": []any{map[string]any{"a": 1.0}}},
	}}
	got := locateRecords(nested, []any{"outer", 0, "inner"})
	if len(got) != 1 {
		t.Fatalf("key chain with list index: got %d records", len(got))
	}
}

func TestResolveNowToken(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	if got := resolveNowToken("@now"); got != today {
		t.Fatalf("@now = %s, want %s", got, today)
	}
	week := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	if got := resolveNowToken("@now-7d"); got != week {
		t.Fatalf("@now-7d = %s, want %s", got, week)
	}
	if got := resolveNowToken("plain"); got != "plain" {
		t.Fatalf("non-token values pass through, got %s", got)
	}
}
