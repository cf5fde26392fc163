package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/jimmychuckball/pythonmap/scanner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router *gin.Engine
	store  *RedisStore
	redis  *miniredis.Miniredis
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	return newLoggedTestAPI(t, opts, nil)
}

func newLoggedTestAPI(t *testing.T, opts RouterOptions, logger *slog.Logger) *testAPI {
	t.Helper()
	store, client, mr := newTestStore(t)
	if opts.Limiter == nil && (opts.RequestLimit > 0 || opts.PortBudget > 0) {
		opts.Limiter = NewRateLimiter(client, time.Minute)
	}
	server := NewServer(store, scanner.DefaultPolicy(), logger)
	return &testAPI{router: NewRouter(server, opts, logger), store: store, redis: mr}
}

func (a *testAPI) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateScan_AcceptsAndQueues(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodPost, "/api/v1/scans", `{"host":"127.0.0.1","ports":"20-100","retries":2,"timeout_ms":750}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var accepted ScanAcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if accepted.Status != StatusPending || !uuidV4Pattern.MatchString(accepted.ID) {
		t.Fatalf("unexpected response %+v", accepted)
	}

	ctx := context.Background()
	task, err := a.store.GetTask(ctx, accepted.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	want := TaskPolicy{Retries: 2, TimeoutMS: 750, Concurrency: scanner.DefaultMaxConcurrency}
	if task.Policy != want {
		t.Errorf("expected policy %+v, got %+v", want, task.Policy)
	}
	if task.Host != "127.0.0.1" || task.Ports != "20-100" {
		t.Errorf("unexpected task target %+v", task)
	}

	queued, err := a.store.PopFromQueue(ctx, time.Second)
	if err != nil || queued != accepted.ID {
		t.Fatalf("expected %s on the queue, got %q (%v)", accepted.ID, queued, err)
	}
}

func TestCreateScan_RejectsInvalidInput(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	cases := map[string]string{
		"malformed json":   `{"host":`,
		"missing host":     `{"ports":"20-100"}`,
		"blank host":       `{"host":"  ","ports":"20-100"}`,
		"reversed range":   `{"host":"127.0.0.1","ports":"100-20"}`,
		"not a number":     `{"host":"127.0.0.1","ports":"abc"}`,
		"out of range":     `{"host":"127.0.0.1","ports":"1-70000"}`,
		"zero retries":     `{"host":"127.0.0.1","ports":"80","retries":0}`,
		"zero concurrency": `{"host":"127.0.0.1","ports":"80","concurrency":0}`,
	}
	for name, body := range cases {
		rec := a.do(http.MethodPost, "/api/v1/scans", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestGetScan(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	ctx := context.Background()

	task := &ScanTask{
		ID:        "a3f5c62e-1234-4f72-a84a-1c2d3e4f5678",
		Status:    StatusRunning,
		Host:      "127.0.0.1",
		Ports:     "1-40",
		Policy:    policyFrom(scanner.DefaultPolicy()),
		Progress:  scanner.Progress{Completed: 20, Total: 40, Percent: 50},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	rec := a.do(http.MethodGet, "/api/v1/scans/"+task.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got ScanTask
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusRunning || got.Progress.Completed != 20 || got.Progress.Total != 40 {
		t.Fatalf("unexpected task %+v", got)
	}

	if rec := a.do(http.MethodGet, "/api/v1/scans/not-a-uuid", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/api/v1/scans/b3f5c62e-1234-4f72-a84a-1c2d3e4f5678", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestAPI(t, RouterOptions{APIKey: "secret"})
	body := `{"host":"127.0.0.1","ports":"80"}`

	if rec := a.do(http.MethodPost, "/api/v1/scans", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: expected 401, got %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, "/api/v1/scans", body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, "/api/v1/scans", body, map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusAccepted {
		t.Errorf("valid key: expected 202, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz must not require a key, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	a := newTestAPI(t, RouterOptions{RequestLimit: 2})
	path := "/api/v1/scans/a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"

	for i := 0; i < 2; i++ {
		if rec := a.do(http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Fatalf("request %d: expected 404, got %d", i+1, rec.Code)
		}
	}
	rec := a.do(http.MethodGet, path, "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestCreateScan_PortBudget(t *testing.T) {
	a := newTestAPI(t, RouterOptions{PortBudget: 100})
	submit := func(ports string) *httptest.ResponseRecorder {
		return a.do(http.MethodPost, "/api/v1/scans", `{"host":"127.0.0.1","ports":"`+ports+`"}`, nil)
	}

	if rec := submit("1-60"); rec.Code != http.StatusAccepted {
		t.Fatalf("first scan: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := submit("1-60")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over budget: expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "port budget exceeded") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60, got %q", got)
	}
	// The rejected scan is refunded.
	if got, err := a.redis.Get("ratelimit:ports:192.0.2.1"); err != nil || got != "60" {
		t.Errorf("expected 60 ports charged, got %q (%v)", got, err)
	}

	if rec := submit("61-100"); rec.Code != http.StatusAccepted {
		t.Fatalf("exactly at budget: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	// Polling status is not billed against the budget.
	if rec := a.do(http.MethodGet, "/api/v1/scans/a3f5c62e-1234-4f72-a84a-1c2d3e4f5678", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := submit("80"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted budget: expected 429, got %d", rec.Code)
	}

	a.redis.FastForward(time.Minute)
	if rec := submit("1-60"); rec.Code != http.StatusAccepted {
		t.Fatalf("new window: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateScan_OversizedRangeNeverFits(t *testing.T) {
	a := newTestAPI(t, RouterOptions{PortBudget: 100})

	rec := a.do(http.MethodPost, "/api/v1/scans", `{"host":"127.0.0.1","ports":"1-1000"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, "/api/v1/scans", `{"host":"127.0.0.1","ports":"1-100"}`, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("rejected range must not consume the budget, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestLoggingMiddleware_NamesTask(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	a := newLoggedTestAPI(t, RouterOptions{}, logger)

	rec := a.do(http.MethodPost, "/api/v1/scans", `{"host":"127.0.0.1","ports":"20-100"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var accepted ScanAcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}

	var line map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		if entry["msg"] == "request completed" {
			line = entry
		}
	}
	if line == nil {
		t.Fatalf("no request log line in %q", buf.String())
	}
	if line["task_id"] != accepted.ID || line["ports"] != float64(81) || line["status_code"] != float64(http.StatusAccepted) {
		t.Errorf("unexpected request log line %v", line)
	}

	buf.Reset()
	a.do(http.MethodGet, "/healthz", "", nil)
	if strings.Contains(buf.String(), "task_id") {
		t.Errorf("health checks must not carry a task id: %q", buf.String())
	}
}

func TestSecurityHeadersAndHealth(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("missing security headers: %v", rec.Header())
	}
}
