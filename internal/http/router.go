package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hysmio/deployments-dashboard/internal/presenter"
	"github.com/hysmio/deployments-dashboard/internal/service/catalog"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
	"github.com/hysmio/deployments-dashboard/internal/service/events"
	"github.com/hysmio/deployments-dashboard/internal/service/stats"
	"github.com/hysmio/deployments-dashboard/internal/ws"
)

// Services groups the domain services the router exposes.
type Services struct {
	Auth    Authorizer
	Catalog catalog.Service
	Deploy  deploy.Service
	Events  events.Service
	Stats   stats.Service
}

// CacheResetter drops cached reads.
type CacheResetter interface {
	Reset(ctx context.Context) error
}

// HealthCheck probes one backing component for /healthz.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

// Options carries the optional collaborators of a Router.
type Options struct {
	Limiter RateLimiter
	// ReadLimit is the per-user request budget per minute; 0 uses the default.
	ReadLimit int
	Cache     CacheResetter
	Hub       *ws.Hub
	Pages     presenter.PageParams
	Health    []HealthCheck
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     Authorizer
	catalog  catalog.Service
	deploy   deploy.Service
	events   events.Service
	stats    stats.Service
	cache    CacheResetter
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	reads    rateClass
	pages    presenter.PageParams
	health   []HealthCheck

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
	wsPingInterval     = 30 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svcs Services, opts Options) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    svcs.Auth,
		catalog: svcs.Catalog,
		deploy:  svcs.Deploy,
		events:  svcs.Events,
		stats:   svcs.Stats,
		cache:   opts.Cache,
		hub:     opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: opts.Limiter,
		reads:   readClass(opts.ReadLimit),
		pages:   opts.Pages,
		health:  opts.Health,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	read := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return r.audit(route, r.requireAuth(r.limited(route, r.reads, h)))
	}
	stream := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return r.audit(route, r.requireStreamAuth(r.limited(route, streamClass, h)))
	}
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/services", read("/services", r.handleServices))
	r.mux.HandleFunc("/services/dashboard", read("/services/dashboard", r.handleDashboard))
	r.mux.HandleFunc("/instances", read("/instances", r.handleInstances))
	r.mux.HandleFunc("/events", read("/events", r.handleEvents))
	r.mux.HandleFunc("/events/find-start", read("/events/find-start", r.handleFindStart))
	r.mux.HandleFunc("/deployments", read("/deployments", r.handleDeployments))
	r.mux.HandleFunc("/deployments/", read("/deployments/{id}", r.handleDeploymentByID))
	r.mux.HandleFunc("/stats", read("/stats", r.handleStats))
	r.mux.HandleFunc("/stats/deployments", read("/stats/deployments", r.handleDeploymentStats))
	r.mux.HandleFunc("/environments", read("/environments", r.handleEnvironments))
	r.mux.HandleFunc("/admin/cache/reset", r.audit("/admin/cache/reset", r.requireAuth(r.limited("/admin/cache/reset", adminClass, r.handleCacheReset))))
	r.mux.HandleFunc("/events/stream", stream("/events/stream", r.handleEventStream))
	r.mux.HandleFunc("/ws/events", stream("/ws/events", r.handleEventsWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	components := map[string]any{}
	for _, hc := range r.health {
		if hc.Check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[hc.Name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[hc.Name] = map[string]any{"status": "up"}
	}
	if r.hub != nil {
		components["live_feed"] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
			req.Header.Set("X-Request-ID", reqID)
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
			if info.Email != "" {
				fields = append(fields, "email", info.Email)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		// A hijacked websocket reports its upgrade as the final status.
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
