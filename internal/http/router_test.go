package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/repository/fixture"
	"github.com/hysmio/deployments-dashboard/internal/service/auth"
	"github.com/hysmio/deployments-dashboard/internal/service/catalog"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
	"github.com/hysmio/deployments-dashboard/internal/service/events"
	"github.com/hysmio/deployments-dashboard/internal/service/stats"
	"github.com/hysmio/deployments-dashboard/internal/ws"
	"github.com/hysmio/deployments-dashboard/pkg/config"
	jwtpkg "github.com/hysmio/deployments-dashboard/pkg/jwt"
)

const testSecret = "router-test-secret"

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type resetCounter struct{ calls int }

func (r *resetCounter) Reset(context.Context) error {
	r.calls++
	return nil
}

type brokenServices struct{}

func (brokenServices) ListServices(context.Context) ([]domain.Service, error) {
	return nil, errors.New("connection refused")
}

func (brokenServices) GetServiceByName(context.Context, string) (*domain.Service, error) {
	return nil, errors.New("connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServices(t *testing.T) (Services, *fixture.Store) {
	t.Helper()
	store, err := fixture.Load("../repository/fixture/testdata", repository.VariantInstance)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	logger := testLogger()
	return Services{
		Auth:    auth.New(logger, config.APIConfig{JWTSecret: testSecret}),
		Catalog: catalog.New(store, store),
		Deploy:  deploy.New(store, logger),
		Events:  events.New(store),
		Stats:   stats.New(store, 30, logger).WithClock(func() time.Time { return fixedNow }),
	}, store
}

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	svcs, _ := testServices(t)
	router := NewRouter(testLogger(), svcs, opts)
	t.Cleanup(router.Close)
	return router
}

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(jwtpkg.Identity{UserID: userID, Email: userID + "@acme.dev"}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router := newTestRouter(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestRouterHealthzIsPublic(t *testing.T) {
	router := newTestRouter(t, Options{Health: []HealthCheck{
		{Name: "database", Check: func(context.Context) error { return nil }},
	}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", body)
	}
}

func TestRouterHealthzReportsDegraded(t *testing.T) {
	router := newTestRouter(t, Options{Health: []HealthCheck{
		{Name: "database", Check: func(context.Context) error { return errors.New("down") }},
	}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouterEchoesRequestID(t *testing.T) {
	router := newTestRouter(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, "user-1"))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	rec = do(t, router, http.MethodGet, "/services")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestRouterServices(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/services")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	services := decode[[]domain.Service](t, rec)
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %+v", services)
	}

	rec = do(t, router, http.MethodGet, "/services?name=payments")
	if rec.Code != http.StatusOK || decode[domain.Service](t, rec).Name != "payments" {
		t.Fatalf("unexpected single service response: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/services?name=ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/services")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRouterDeploymentsRequireScope(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/deployments")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if !strings.Contains(body["error"], "instanceId") {
		t.Fatalf("unexpected error body: %v", body)
	}

	rec = do(t, router, http.MethodGet, "/deployments?service=payments&page=0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page=0, got %d", rec.Code)
	}
}

func TestRouterDeploymentsPaginated(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/deployments?service=payments&limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := decode[struct {
		Total      int                 `json:"total"`
		TotalPages int                 `json:"totalPages"`
		Data       []domain.Deployment `json:"data"`
	}](t, rec)
	if page.Total != 3 || page.TotalPages != 2 || len(page.Data) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Data[0].ID != "evt-6" || page.Data[1].ID != "evt-4" {
		t.Fatalf("expected newest first, got %s, %s", page.Data[0].ID, page.Data[1].ID)
	}

	rec = do(t, router, http.MethodGet, "/deployments?service=payments&environment=prod&buildkite_build_url=https://buildkite.com/acme/payments/builds/1")
	page = decode[struct {
		Total      int                 `json:"total"`
		TotalPages int                 `json:"totalPages"`
		Data       []domain.Deployment `json:"data"`
	}](t, rec)
	if page.Total != 1 || page.Data[0].Status != domain.StatusSucceeded {
		t.Fatalf("unexpected filtered page: %+v", page)
	}
}

func TestRouterHugePageReturnsEmptyPage(t *testing.T) {
	router := newTestRouter(t, Options{})
	for _, target := range []string{
		"/deployments?service=payments&page=922337203685477582",
		"/events?instanceId=inst-pay-prod&page=922337203685477582",
		"/instances?page=922337203685477582",
	} {
		rec := do(t, router, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", target, rec.Code, rec.Body.String())
		}
		page := decode[struct {
			Data []json.RawMessage `json:"data"`
		}](t, rec)
		if len(page.Data) != 0 {
			t.Fatalf("%s: expected empty page, got %d items", target, len(page.Data))
		}
	}
}

func TestRouterDeploymentByID(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/deployments/evt-4")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	dep := decode[domain.Deployment](t, rec)
	if dep.Status != domain.StatusFailed || dep.Environment != "prod" {
		t.Fatalf("unexpected deployment: %+v", dep)
	}
	if len(dep.FailedJobs) != 1 || dep.FailedJobs[0] != "apply" {
		t.Fatalf("unexpected failed jobs: %v", dep.FailedJobs)
	}

	rec = do(t, router, http.MethodGet, "/deployments/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouterEvents(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/events?instanceId=inst-pay-prod&limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := decode[struct {
		Total int            `json:"total"`
		Data  []domain.Event `json:"data"`
	}](t, rec)
	if page.Total != 5 || len(page.Data) != 2 || page.Data[0].ID != "evt-5" {
		t.Fatalf("unexpected events page: %+v", page)
	}

	rec = do(t, router, http.MethodGet, "/events?instanceId=nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/events/find-start?completionEventId=evt-3")
	if rec.Code != http.StatusOK || decode[domain.Event](t, rec).ID != "evt-1" {
		t.Fatalf("unexpected find-start response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouterStats(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/stats/deployments?service=payments")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	counts := decode[domain.DeploymentCounts](t, rec)
	if counts.Succeeded != 1 || counts.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	rec = do(t, router, http.MethodGet, "/stats/deployments")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without service, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodGet, "/stats?service=payments&days=-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative days, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/stats?service=payments")
	got := decode[domain.ServiceStats](t, rec)
	if got.TotalDeployments != 3 || got.InstancesByEnvironment["prod"] != 1 {
		t.Fatalf("unexpected service stats: %+v", got)
	}
}

func TestRouterDashboard(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/services/dashboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rows := decode[[]domain.ServiceSummary](t, rec)
	if len(rows) != 2 || rows[0].Name != "payments" {
		t.Fatalf("unexpected dashboard rows: %+v", rows)
	}
	if rows[0].ProdDeployment == nil || rows[0].ProdDeployment.ID != "evt-4" {
		t.Fatalf("unexpected prod deployment: %+v", rows[0].ProdDeployment)
	}
}

func TestRouterEnvironmentsAndInstances(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/environments")
	envs := decode[[]string](t, rec)
	if len(envs) != 2 || envs[0] != "dev" || envs[1] != "prod" {
		t.Fatalf("unexpected environments: %v", envs)
	}

	rec = do(t, router, http.MethodGet, "/instances?service=payments")
	page := decode[struct {
		Total int               `json:"total"`
		Data  []domain.Instance `json:"data"`
	}](t, rec)
	if page.Total != 2 {
		t.Fatalf("unexpected instances page: %+v", page)
	}

	rec = do(t, router, http.MethodGet, "/instances?id=inst-search-prod")
	if rec.Code != http.StatusOK || decode[domain.Instance](t, rec).Service != "search" {
		t.Fatalf("unexpected instance: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouterCacheReset(t *testing.T) {
	cache := &resetCounter{}
	router := newTestRouter(t, Options{Cache: cache})
	rec := do(t, router, http.MethodGet, "/admin/cache/reset")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodPost, "/admin/cache/reset")
	if rec.Code != http.StatusOK || cache.calls != 1 {
		t.Fatalf("expected one reset, got %d calls and status %d", cache.calls, rec.Code)
	}
}

func TestRouterUpstreamFailureIncludesDetails(t *testing.T) {
	svcs, store := testServices(t)
	svcs.Catalog = catalog.New(brokenServices{}, store)
	router := NewRouter(testLogger(), svcs, Options{})
	t.Cleanup(router.Close)

	rec := do(t, router, http.MethodGet, "/services")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] == "" || !strings.Contains(body["details"], "connection refused") {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestRouterRateLimit(t *testing.T) {
	router := newTestRouter(t, Options{ReadLimit: 2})
	token := testToken(t, "busy-user")
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/environments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected rate limit headers, got %v", last.Header())
	}
}

func TestRouterStreamDisabledWithoutHub(t *testing.T) {
	router := newTestRouter(t, Options{})
	rec := do(t, router, http.MethodGet, "/events/stream?instanceId=inst-pay-prod")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouterEventStreamDeliversNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub()
	go hub.Run(ctx)

	router := newTestRouter(t, Options{Hub: hub})
	srv := httptest.NewServer(router)
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream?instanceId=inst-pay-prod&access_token="+testToken(t, "viewer"), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("inst-pay-prod") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast("inst-pay-prod", []byte(`{"instance_id":"inst-pay-prod","event_id":"evt-9"}`))

	reader := bufio.NewReader(resp.Body)
	var frame []string
	for len(frame) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			frame = append(frame, line)
		}
	}
	if frame[0] != "event: deployment_event" || !strings.Contains(frame[1], "evt-9") {
		t.Fatalf("unexpected frame: %v", frame)
	}
}
