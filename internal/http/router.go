package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/experiment"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/logs"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/researcher"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/resource"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/schedule"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/tag"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/config"
)

// Services groups the domain services served by the router.
type Services struct {
	Access      access.Service
	Experiments experiment.Service
	Schedule    schedule.Service
	Resources   resource.Service
	Researchers researcher.Service
	Logs        logs.Service
	Tags        tag.Service
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux             *http.ServeMux
	logger          *slog.Logger
	access          access.Service
	experiments     experiment.Service
	schedule        schedule.Service
	resources       resource.Service
	researchers     researcher.Service
	logs            logs.Service
	tags            tag.Service
	upgrader        websocket.Upgrader
	limiter         RateLimiter
	dbHealth        func(context.Context) error
	pageSize        int
	maxPageSize     int
	streamHeartbeat time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	conflictChecks     *prometheus.CounterVec
}

const (
	healthCheckTimeout     = 2 * time.Second
	defaultStreamHeartbeat = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, services Services, cfg config.APIConfig, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		access:      services.Access,
		experiments: services.Experiments,
		schedule:    services.Schedule,
		resources:   services.Resources,
		researchers: services.Researchers,
		logs:        services.Logs,
		tags:        services.Tags,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         limiter,
		dbHealth:        dbHealth,
		pageSize:        cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		streamHeartbeat: defaultStreamHeartbeat,
	}
	if r.pageSize <= 0 {
		r.pageSize = defaultPageSize
	}
	if r.maxPageSize <= 0 {
		r.maxPageSize = defaultMaxPageSize
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
	r.mux.Handle("/metrics", r.metricsHandler())
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.HandleFunc("/auth/signin", r.audit("auth_signin", r.withRateLimit("auth_signin", policySignIn, rateLimitKeyIP, r.handleSignIn)))
	r.mux.HandleFunc("/auth/refresh", r.audit("auth_refresh", r.withRateLimit("auth_refresh", policySignIn, rateLimitKeyIP, r.handleRefresh)))
	r.mux.HandleFunc("/auth/me", r.audit("auth_me", r.handlerAuthRate("auth_me", r.handleMe)))
	r.mux.HandleFunc("/experiments", r.audit("experiments", r.handlerAuthRate("experiments", r.handleExperiments)))
	r.mux.HandleFunc("/experiments/", r.audit("experiment", r.handlerAuthRate("experiment", r.handleExperimentSubroutes)))
	r.mux.HandleFunc("/researchers", r.audit("researchers", r.handlerAuthRate("researchers", r.handleResearchers)))
	r.mux.HandleFunc("/researchers/", r.audit("researcher", r.handlerAuthRate("researcher", r.handleResearcher)))
	r.mux.HandleFunc("/resources", r.audit("resources", r.handlerAuthRate("resources", r.handleResources)))
	r.mux.HandleFunc("/resources/", r.audit("resource", r.handlerAuthRate("resource", r.handleResource)))
	r.mux.HandleFunc("/logs", r.audit("logs", r.handlerAuthRate("logs", r.handleLogs)))
	r.mux.HandleFunc("/tags", r.audit("tags", r.handlerAuthRate("tags", r.handleTags)))
	r.mux.HandleFunc("/admin/users", r.audit("admin_users", r.requireAdmin(r.withRateLimit("admin_users", policyAdmin, r.rateLimitKeyUser, r.handleAdminUsers))))
	r.mux.HandleFunc("/ws/logs", r.audit("ws_logs", r.requireAuth(r.withRateLimit("ws_logs", policyStream, r.rateLimitKeyUser, r.handleLogsWS))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
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
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			switch {
			case info.AdminKey:
				actor = "admin_key"
			default:
				actor = "user"
				fields = append(fields, "user_id", info.UserID)
			}
		} else if strings.TrimSpace(req.Header.Get(headerGatewayToken)) != "" {
			actor = "gateway"
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
	if sr.status == 0 {
		sr.status = code
	}
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

// pathSegments splits the path below prefix, ignoring surrounding slashes.
func pathSegments(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
