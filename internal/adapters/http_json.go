package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/etlite-io/etlite/internal/dataset"
	"github.com/etlite-io/etlite/internal/ratelimit"
)

func init() {
	Register("http_json", newHTTPJSON)
}

const defaultHTTPTimeout = 60 * time.Second

type httpParams struct {
	URL             string            `yaml:"url"`
	Query           map[string]any    `yaml:"query"`
	Headers         map[string]string `yaml:"headers"`
	RecordsKeyChain []any             `yaml:"records_key_chain"`
	ExplodeKey      string            `yaml:"explode_properties"`
	Select          []string          `yaml:"select"`
	Rename          map[string]string `yaml:"rename"`
	Enrich          map[string]any    `yaml:"enrich"`
	TimeoutSeconds  int               `yaml:"timeout_seconds"`
	RateLimit       *ratelimit.Config `yaml:"rate_limit"`
}

// HTTPJSON consumes a JSON API and normalizes the response into a
// dataset. Query values support the @now, @now-7d and @now-24h tokens;
// records are located by an optional key chain and flattened generically
// with select/rename/enrich hooks.
type HTTPJSON struct {
	params     httpParams
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

func newHTTPJSON(params map[string]any) (Adapter, error) {
	var p httpParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, fmt.Errorf("http_json: params.url is required")
	}
	timeout := defaultHTTPTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	limiterCfg := ratelimit.DefaultConfig()
	if p.RateLimit != nil {
		limiterCfg = *p.RateLimit
	}
	return &HTTPJSON{
		params:     p,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.NewLimiter(limiterCfg),
	}, nil
}

// Fetch calls the API and decodes the JSON body.
func (h *HTTPJSON) Fetch(ctx context.Context) (any, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range h.params.Query {
		q.Set(k, resolveNowToken(fmt.Sprintf("%v", v)))
	}
	u := h.params.URL
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range h.params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return data, nil
}

// Normalize locates the records and flattens them into a dataset.
func (h *HTTPJSON) Normalize(raw any) (*dataset.Dataset, error) {
	records := locateRecords(raw, h.params.RecordsKeyChain)

	if h.params.ExplodeKey != "" {
		exploded := make([]any, 0, len(records))
		for _, rec := range records {
			if m, ok := rec.(map[string]any); ok {
				exploded = append(exploded, m[h.params.ExplodeKey])
			}
		}
		records = exploded
	}

	names, rows := flattenRecords(records)
	names, rows = h.selectColumns(names, rows)
	names = h.renameColumns(names)
	names, rows = h.enrichColumns(names, rows)

	return buildDataset(names, rows), nil
}

// resolveNowToken resolves @now, @now-7d and @now-24h to UTC dates, and
// returns any other value unchanged.
func resolveNowToken(val string) string {
	now := time.Now().UTC()
	switch val {
	case "@now":
		return now.Format("2006-01-02")
	case "@now-7d":
		return now.AddDate(0, 0, -7).Format("2006-01-02")
	case "@now-24h":
		return now.Add(-24 * time.Hour).Format(time.RFC3339)
	}
	return val
}

// locateRecords digs into the payload following the key chain, then
// falls back to the conventional results/data/items wrappers. A payload
// with no clear list normalizes to a single row.
func locateRecords(data any, chain []any) []any {
	cur := data
	for _, step := range chain {
		key := fmt.Sprintf("%v", step)
		switch node := cur.(type) {
		case []any:
			n, err := strconv.Atoi(key)
			if err != nil || n < 0 || n >= len(node) {
				return nil
			}
			cur = node[n]
		case map[string]any:
			cur = node[key]
		default:
			return nil
		}
	}

	if list, ok := cur.([]any); ok {
		return list
	}
	if m, ok := cur.(map[string]any); ok {
		if len(chain) == 0 {
			for _, cand := range []string{"results", "data", "items"} {
				if list, isList := m[cand].([]any); isList {
					return list
				}
			}
		}
		return []any{m}
	}
	return nil
}

// flattenRecords flattens record maps into rows, dotting nested object
// keys up to two levels and JSON-encoding anything deeper. Column order
// follows first appearance.
func flattenRecords(records []any) ([]string, [][]any) {
	var names []string
	index := map[string]int{}
	flat := make([]map[string]any, 0, len(records))

	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			m = map[string]any{"value": rec}
		}
		fm := map[string]any{}
		flattenInto(fm, "", m, 2)
		for _, k := range sortedKeys(fm) {
			if _, seen := index[k]; !seen {
				index[k] = len(names)
				names = append(names, k)
			}
		}
		flat = append(flat, fm)
	}

	rows := make([][]any, len(flat))
	for i, fm := range flat {
		row := make([]any, len(names))
		for k, v := range fm {
			row[index[k]] = normalizeScalar(v)
		}
		rows[i] = row
	}
	return names, rows
}

func flattenInto(dst map[string]any, prefix string, m map[string]any, depth int) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && depth > 1 {
			flattenInto(dst, key, sub, depth-1)
			continue
		}
		dst[key] = v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeScalar settles JSON values into the dataset value domain.
// Containers that survived flattening are kept as JSON text.
func normalizeScalar(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func (h *HTTPJSON) selectColumns(names []string, rows [][]any) ([]string, [][]any) {
	if len(h.params.Select) == 0 {
		return names, rows
	}
	idx := map[string]int{}
	for i, n := range names {
		idx[n] = i
	}
	keep := make([]string, 0, len(h.params.Select))
	keepIdx := make([]int, 0, len(h.params.Select))
	for _, n := range h.params.Select {
		if i, ok := idx[n]; ok {
			keep = append(keep, n)
			keepIdx = append(keepIdx, i)
		}
	}
	out := make([][]any, len(rows))
	for r, row := range rows {
		nr := make([]any, len(keepIdx))
		for c, i := range keepIdx {
			nr[c] = row[i]
		}
		out[r] = nr
	}
	return keep, out
}

func (h *HTTPJSON) renameColumns(names []string) []string {
	if len(h.params.Rename) == 0 {
		return names
	}
	out := make([]string, len(names))
	for i, n := range names {
		if to, ok := h.params.Rename[n]; ok {
			n = to
		}
		out[i] = n
	}
	return out
}

func (h *HTTPJSON) enrichColumns(names []string, rows [][]any) ([]string, [][]any) {
	if len(h.params.Enrich) == 0 {
		return names, rows
	}
	for _, k := range sortedKeys(h.params.Enrich) {
		v := normalizeScalar(h.params.Enrich[k])
		names = append(names, k)
		for i := range rows {
			rows[i] = append(rows[i], v)
		}
	}
	return names, rows
}
