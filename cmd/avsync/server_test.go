package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/avreports/avsync"
)

type fakeService struct {
	indexErr  error
	syncErr   error // ctx.Err() seen by the last sync
	pdfLimit  int
	runsLimit int
	runsOpen  bool
	requeued  struct {
		keys      []string
		allFailed bool
	}
}

func (f *fakeService) SyncIndex(ctx context.Context) (*avsync.IndexResult, error) {
	f.syncErr = ctx.Err()
	if f.indexErr != nil {
		return &avsync.IndexResult{RunID: "run_1", Status: avsync.RunFailed}, f.indexErr
	}
	return &avsync.IndexResult{RunID: "run_1", Seen: 3, New: 3, Status: avsync.RunSuccess}, nil
}

func (f *fakeService) SyncPDFs(ctx context.Context, limit int) (*avsync.PDFResult, error) {
	f.pdfLimit, f.syncErr = limit, ctx.Err()
	return &avsync.PDFResult{RunID: "run_2", Attempted: 2, Fetched: 2, Parsed: 2, Status: avsync.RunSuccess}, nil
}

func (f *fakeService) Runs(_ context.Context, limit int, open bool) ([]*avsync.Run, error) {
	f.runsLimit, f.runsOpen = limit, open
	return []*avsync.Run{{ID: "run_2", Kind: avsync.KindPDFSync, Status: avsync.RunSuccess}}, nil
}

func (f *fakeService) Summary(context.Context) (*avsync.Summary, error) {
	return &avsync.Summary{Entries: avsync.EntryCounts{Pending: 1, Parsed: 2}, Accidents: 2, Documents: 2}, nil
}

func (f *fakeService) Latest(context.Context, int) ([]*avsync.LatestItem, error) {
	return nil, errors.New("disk on fire")
}

func (f *fakeService) Requeue(_ context.Context, keys []string, allFailed bool) (int, error) {
	if len(keys) == 0 && !allFailed {
		return 0, fmt.Errorf("%w: nothing to requeue", avsync.ErrInvalidInput)
	}
	f.requeued.keys, f.requeued.allFailed = keys, allFailed
	return len(keys), nil
}

func (f *fakeService) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "avsync_runs_total 1\n")
	})
}

func testRouter(t *testing.T, svc service, mut func(*avsync.Config)) http.Handler {
	t.Helper()
	return testRouterCtx(t, context.Background(), svc, mut)
}

func testRouterCtx(t *testing.T, lifetime context.Context, svc service, mut func(*avsync.Config)) http.Handler {
	t.Helper()
	cfg := avsync.DefaultConfig()
	if mut != nil {
		mut(cfg)
	}
	return newRouter(lifetime, svc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h := testRouter(t, &fakeService{}, nil)
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "avsync_runs_total") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestSyncIndex_Statuses(t *testing.T) {
	// WHAT: Source outages map to 502 with the run id; overlapping runs to 409.
	// WHY: Operators read the run id from the 502 to find the failed row in /runs.
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"ok", nil, http.StatusOK, `"new":3`},
		{"source down", &avsync.SourceUnavailableError{URL: "https://dmv.test/", RunID: "run_1", Err: errors.New("503")}, http.StatusBadGateway, `"run_id":"run_1"`},
		{"in progress", fmt.Errorf("tracker: index_sync: %w", avsync.ErrRunInProgress), http.StatusConflict, "run in progress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testRouter(t, &fakeService{indexErr: tt.err}, nil)
			rec := do(t, h, http.MethodPost, "/api/v1/sync-index", "")
			if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.want) {
				t.Fatalf("got %d %s, want %d containing %s", rec.Code, rec.Body.String(), tt.status, tt.want)
			}
		})
	}
}

func TestSyncPDFs_Limit(t *testing.T) {
	svc := &fakeService{}
	h := testRouter(t, svc, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/sync-pdfs?limit=2", "")
	if rec.Code != http.StatusOK || svc.pdfLimit != 2 {
		t.Fatalf("got %d limit %d", rec.Code, svc.pdfLimit)
	}
	var res avsync.PDFResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Parsed != 2 || res.RunID != "run_2" {
		t.Fatalf("result = %+v", res)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/sync-pdfs?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestSync_OutlivesClient(t *testing.T) {
	// WHAT: A sync triggered by a client that already hung up still runs uncancelled.
	// WHY: A dropped connection must not turn a long pdf batch into a failed run.
	svc := &fakeService{}
	h := testRouter(t, svc, nil)
	for _, target := range []string{"/api/v1/sync-index", "/api/v1/sync-pdfs"} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, target, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || svc.syncErr != nil {
			t.Fatalf("%s: got %d, service ctx err %v", target, rec.Code, svc.syncErr)
		}
	}
}

func TestSync_StopsOnShutdown(t *testing.T) {
	// WHAT: Server shutdown cancels a triggered sync.
	// WHY: The batch must stop dispatching so the drain window is honored.
	lifetime, stop := context.WithCancel(context.Background())
	stop()
	svc := &fakeService{}
	h := testRouterCtx(t, lifetime, svc, nil)
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-pdfs", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !errors.Is(svc.syncErr, context.Canceled) {
		t.Fatalf("service ctx err = %v, want canceled", svc.syncErr)
	}
}

func TestQueries(t *testing.T) {
	svc := &fakeService{}
	h := testRouter(t, svc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/runs?limit=5&open=1", "")
	if rec.Code != http.StatusOK || svc.runsLimit != 5 || !svc.runsOpen {
		t.Fatalf("runs = %d limit %d open %v", rec.Code, svc.runsLimit, svc.runsOpen)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/summary", "")
	var sum avsync.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Entries.Pending != 1 || sum.Accidents != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestInternalErrorHidden(t *testing.T) {
	// WHAT: Unexpected errors answer 500 with a generic message.
	// WHY: Storage errors carry paths and SQL that must not leak to clients.
	h := testRouter(t, &fakeService{}, nil)
	rec := do(t, h, http.MethodGet, "/api/v1/latest", "")
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("latest = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequeue(t *testing.T) {
	svc := &fakeService{}
	h := testRouter(t, svc, func(c *avsync.Config) { c.API.MaxBodyBytes = 256 })

	rec := do(t, h, http.MethodPost, "/api/v1/requeue", `{"entry_keys":["waymo|2025|a-pdf"],"all_failed":true}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"requeued":1`) {
		t.Fatalf("requeue = %d %s", rec.Code, rec.Body.String())
	}
	if len(svc.requeued.keys) != 1 || !svc.requeued.allFailed {
		t.Fatalf("requeued = %+v", svc.requeued)
	}

	for name, body := range map[string]string{
		"empty":         `{}`,
		"unknown field": `{"keys":["a"]}`,
		"not json":      `keys=a`,
	} {
		if rec := do(t, h, http.MethodPost, "/api/v1/requeue", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}

	big := `{"entry_keys":["` + strings.Repeat("k", 1024) + `"]}`
	if rec := do(t, h, http.MethodPost, "/api/v1/requeue", big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d, want 413", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	// WHAT: With a token hash configured, POST endpoints need the matching bearer token; GETs stay open.
	// WHY: Sync triggers hit the DMV site and write the database.
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := testRouter(t, &fakeService{}, func(c *avsync.Config) { c.API.TokenHash = string(hash) })

	if rec := do(t, h, http.MethodPost, "/api/v1/sync-index", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-index", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-index", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("good token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/summary", ""); rec.Code != http.StatusOK {
		t.Fatalf("summary without token = %d", rec.Code)
	}
}

func TestSyncRateLimited(t *testing.T) {
	h := testRouter(t, &fakeService{}, func(c *avsync.Config) { c.API.SyncPerMin = 1 })
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-pdfs", ""); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-pdfs", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", rec.Code)
	}
	// The limit is per route.
	if rec := do(t, h, http.MethodPost, "/api/v1/sync-index", ""); rec.Code != http.StatusOK {
		t.Fatalf("other route = %d", rec.Code)
	}
}
