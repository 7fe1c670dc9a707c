package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/core"
	"github.com/JonMunkholm/feedpipe/internal/feedsource"
	"github.com/JonMunkholm/feedpipe/internal/lock"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/store/sqlite"
)

const ws = "ws-web"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Ingest: config.IngestConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			BatchSize:     10,
			Timeout:       30 * time.Second,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...core.Option) (*Server, *core.Service) {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := core.NewService(st, cfg, opts...)
	for _, f := range []model.CustomField{
		{WorkspaceID: ws, Key: "title", Name: "Title", Datatype: model.DatatypeText},
		{WorkspaceID: ws, Key: "ean", Name: "EAN", Datatype: model.DatatypeText, DisplayOrder: 1},
		{WorkspaceID: ws, Key: "price", Name: "Price", Datatype: model.DatatypeNumber, DisplayOrder: 2},
	} {
		if err := svc.SaveCustomField(ctx, f); err != nil {
			t.Fatalf("SaveCustomField: %v", err)
		}
	}
	return NewServer(svc, feedsource.New(5*time.Second), cfg), svc
}

func do(t *testing.T, s *Server, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// multipartFeed builds an upload body with the feed in part "file".
func multipartFeed(t *testing.T, name, feed string, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(feed))
	}
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func uploadAndWait(t *testing.T, s *Server, supplier, feed string) ingestResponse {
	t.Helper()
	body, ct := multipartFeed(t, supplier+".csv", feed, map[string]string{"wait": "true"})
	rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/suppliers/"+supplier+"/ingest", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body)
	}
	return decode[ingestResponse](t, rec)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %v, want ok", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestIngestUpload_WaitReturnsFinalStatus(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := uploadAndWait(t, s, "acme", "sku,title,price\nA1,Alpha,10\n,,3\nA3,Gamma,3\n")
	if resp.Status == nil {
		t.Fatal("missing status for waited run")
	}
	if resp.Status.Status != model.RunCompleted || resp.Status.Success != 2 || resp.Status.Errors != 1 {
		t.Errorf("status = %+v, want completed 2/1", resp.Status.Run)
	}

	rec := do(t, s, http.MethodGet, "/api/runs/"+resp.RunID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get run status = %d", rec.Code)
	}
	if got := decode[model.Run](t, rec); got.Total != 3 {
		t.Errorf("total = %d, want 3", got.Total)
	}

	rec = do(t, s, http.MethodGet, "/api/runs/"+resp.RunID+"/errors", nil, "")
	errs := decode[struct {
		Errors []model.FeedError `json:"errors"`
	}](t, rec)
	if len(errs.Errors) != 1 || errs.Errors[0].ItemIndex != 1 {
		t.Errorf("errors = %+v, want one at index 1", errs.Errors)
	}
}

func TestIngestUpload_Async(t *testing.T) {
	s, svc := newTestServer(t, testConfig())

	body, ct := multipartFeed(t, "feed.csv", "sku,title\nA1,Alpha\n", nil)
	rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/suppliers/acme/ingest", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[ingestResponse](t, rec)
	if resp.RunID == "" || resp.Status != nil {
		t.Fatalf("response = %+v, want run id only", resp)
	}

	// The spooled upload must stay readable after the handler returned.
	st, err := svc.WaitRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if st.Status != model.RunCompleted || st.Success != 1 {
		t.Errorf("run = %+v, want completed with 1 success", st.Run)
	}
}

func TestIngestFromURL(t *testing.T) {
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"sku":"J1","title":"One"},{"sku":"J2","title":"Two"}]`))
	}))
	defer feedSrv.Close()

	s, _ := newTestServer(t, testConfig())

	payload, _ := json.Marshal(map[string]any{"url": feedSrv.URL + "/products.json", "wait": true})
	rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/suppliers/acme/ingest", payload, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[ingestResponse](t, rec)
	if resp.Status == nil || resp.Status.Format != "json" || resp.Status.Success != 2 {
		t.Errorf("status = %+v, want json run with 2 successes", resp.Status)
	}
}

func TestIngest_Rejections(t *testing.T) {
	noFile, noFileCT := multipartFeed(t, "", "", map[string]string{"format": "csv"})
	badFormat, badFormatCT := multipartFeed(t, "feed.txt", "a,b\n", map[string]string{"format": "yaml"})
	tooBig, tooBigCT := multipartFeed(t, "big.csv", "sku\n"+strings.Repeat("x", 2048)+"\n", nil)

	tests := []struct {
		name     string
		body     []byte
		ct       string
		max      int64
		wantCode int
		wantErr  string
	}{
		{name: "no file part", body: noFile, ct: noFileCT, wantCode: http.StatusBadRequest, wantErr: "FEED005"},
		{name: "unknown format", body: badFormat, ct: badFormatCT, wantCode: http.StatusBadRequest, wantErr: "FEED003"},
		{name: "upload over limit", body: tooBig, ct: tooBigCT, max: 1024, wantCode: http.StatusRequestEntityTooLarge, wantErr: "FEED001"},
		{name: "url missing", body: []byte(`{"format":"csv"}`), ct: "application/json", wantCode: http.StatusBadRequest, wantErr: "VAL004"},
		{name: "unsupported scheme", body: []byte(`{"url":"ftp://host/feed.csv"}`), ct: "application/json", wantCode: http.StatusBadRequest, wantErr: "FEED007"},
		{name: "local files disabled", body: []byte(`{"url":"/etc/hosts"}`), ct: "application/json", wantCode: http.StatusBadRequest, wantErr: "FEED007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.max > 0 {
				cfg.Ingest.MaxFileSize = tt.max
			}
			s, _ := newTestServer(t, cfg)

			rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/suppliers/acme/ingest", tt.body, tt.ct)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec).Code; got != tt.wantErr {
				t.Errorf("code = %s, want %s", got, tt.wantErr)
			}
		})
	}
}

func TestRunEndpoints_UnknownRun(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/runs/nope"},
		{http.MethodGet, "/api/runs/nope/errors"},
		{http.MethodPost, "/api/runs/nope/cancel"},
	} {
		rec := do(t, s, tc.method, tc.path, nil, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, rec.Code)
			continue
		}
		if got := decode[ErrorResponse](t, rec).Code; got != "RUN003" {
			t.Errorf("%s %s code = %s, want RUN003", tc.method, tc.path, got)
		}
	}
}

func TestDefinitionsEndpoints(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/fields/stock",
		[]byte(`{"name":"Stock","datatype":"number","display_order":3}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put field status = %d, body %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/workspaces/"+ws+"/fields", nil, "")
	fields := decode[[]model.CustomField](t, rec)
	if len(fields) != 4 || fields[3].Key != "stock" {
		t.Errorf("fields = %+v, want stock appended", fields)
	}

	rec = do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/fields/Bad-Key",
		[]byte(`{"name":"Bad","datatype":"text"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid field key status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/suppliers/acme/mappings",
		[]byte(`[{"source_key":"Cost EUR","target_key":"price","transform":{"type":"extract_number"}}]`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put mappings status = %d, body %s", rec.Code, rec.Body)
	}
	if rules := decode[[]model.FieldMapping](t, rec); len(rules) != 1 || rules[0].SupplierID != "acme" {
		t.Errorf("stored rules = %+v", rules)
	}

	rec = do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/suppliers/acme/mappings",
		[]byte(`[{"source_key":"x","target_key":"price","transform":{"type":"explode"}}]`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid transform status = %d, want 400", rec.Code)
	}

	rec = do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/dedup-rules/cheapest",
		[]byte(`{"match_key":"ean","selection_policy":"lowest_price","active":true}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put dedup rule status = %d, body %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/workspaces/"+ws+"/dedup-rules", nil, "")
	if rules := decode[[]model.DedupRule](t, rec); len(rules) != 1 || rules[0].ID != "cheapest" {
		t.Errorf("dedup rules = %+v", rules)
	}
}

func TestDedupAndProducts(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	uploadAndWait(t, s, "a", "sku,ean,price\nA-1,4006381333931,10.00\n")
	uploadAndWait(t, s, "b", "sku,ean,price\nB-1,4006381333931,8.50\n")
	do(t, s, http.MethodPut, "/api/workspaces/"+ws+"/dedup-rules/cheapest",
		[]byte(`{"match_key":"ean","selection_policy":"lowest_price","active":true}`), "application/json")

	rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/dedup", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dedup status = %d, body %s", rec.Code, rec.Body)
	}
	if report := decode[core.DedupReport](t, rec); report.Stats.Winners != 1 || len(report.Conflicts) != 1 {
		t.Errorf("report = %+v, want 1 winner and 1 conflict", report)
	}

	rec = do(t, s, http.MethodGet, "/api/workspaces/"+ws+"/final-products", nil, "")
	finals := decode[struct {
		Count    int                  `json:"count"`
		Products []model.FinalProduct `json:"products"`
	}](t, rec)
	if finals.Count != 1 || finals.Products[0].SupplierID != "b" {
		t.Errorf("final products = %+v, want b", finals)
	}

	rec = do(t, s, http.MethodDelete, "/api/workspaces/"+ws+"/suppliers/b/products/B-1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	rec = do(t, s, http.MethodDelete, "/api/workspaces/"+ws+"/suppliers/b/products/missing", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown status = %d, want 404", rec.Code)
	}
}

func TestDedup_LockedWorkspace(t *testing.T) {
	locker := lock.NewLocal(0)
	s, _ := newTestServer(t, testConfig(), core.WithLocker(locker))

	release, err := locker.Acquire(context.Background(), "dedup:"+ws)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	rec := do(t, s, http.MethodPost, "/api/workspaces/"+ws+"/dedup", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec).Code; got != "DEDUP001" {
		t.Errorf("code = %s, want DEDUP001", got)
	}
}

func TestResetUIDCounter(t *testing.T) {
	s, svc := newTestServer(t, testConfig())
	ctx := context.Background()

	if _, err := svc.Allocator().AllocateBatch(ctx, ws, 5); err != nil {
		t.Fatalf("AllocateBatch: %v", err)
	}

	rec := do(t, s, http.MethodPost, "/api/admin/workspaces/"+ws+"/uid-counter/reset", []byte(`{"value":2}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if next, _ := svc.Allocator().AllocateOne(ctx, ws); next != 3 {
		t.Errorf("next uid = %d, want 3", next)
	}

	rec = do(t, s, http.MethodPost, "/api/admin/workspaces/"+ws+"/uid-counter/reset", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body status = %d", rec.Code)
	}
	if next, _ := svc.Allocator().AllocateOne(ctx, ws); next != 1 {
		t.Errorf("next uid after zero reset = %d, want 1", next)
	}

	rec = do(t, s, http.MethodPost, "/api/admin/workspaces/"+ws+"/uid-counter/reset", []byte(`{"value":-4}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative value status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s, _ := newTestServer(t, cfg)

	if rec := do(t, s, http.MethodGet, "/api/workspaces/"+ws+"/fields", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without key", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/"+ws+"/fields", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	do(t, s, http.MethodGet, "/healthz", nil, "")

	rec := do(t, s, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/healthz") {
		t.Error("request metrics missing the healthz route")
	}
}
