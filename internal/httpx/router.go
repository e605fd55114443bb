package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skiffhq/skiff/internal/repository"
	"github.com/skiffhq/skiff/internal/service/deploy"
	"github.com/skiffhq/skiff/internal/service/logs"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitTrigger   = 10
	rateLimitRead      = 120
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
)

// Router wires control-plane HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	deploy       *deploy.Service
	logs         logs.Service
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	jwtSecret    string
	sseHeartbeat time.Duration
	dbHealth     func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deploySvc *deploy.Service, logSvc logs.Service, limiter RateLimiter, jwtSecret string, sseHeartbeat time.Duration, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		deploy: deploySvc,
		logs:   logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		jwtSecret:    jwtSecret,
		sseHeartbeat: sseHeartbeat,
		dbHealth:     dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.sseHeartbeat <= 0 {
		r.sseHeartbeat = 15 * time.Second
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
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
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/deploy", r.requireAuth(r.withRateLimit(rateLimitTrigger, rateWindowDefault, r.rateLimitKeyUser, r.handleDeploy)))
	r.mux.HandleFunc("/deploy/", r.requireAuth(r.withRateLimit(rateLimitRead, rateWindowDefault, r.rateLimitKeyUser, r.handleDeploymentByID)))
	r.mux.HandleFunc("/deployments", r.requireAuth(r.withRateLimit(rateLimitRead, rateWindowDefault, r.rateLimitKeyUser, r.handleDeployments)))
	r.mux.HandleFunc("/ws/logs", r.requireAuth(r.withRateLimit(rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser, r.handleLogsWS)))
	r.mux.HandleFunc("/logs/", r.requireAuth(r.withRateLimit(rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser, r.handleLogsSSE)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Error("health check database failure", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// requesterID pulls the authenticated user out of the context; requireAuth
// guarantees presence on registered routes.
func requesterID(req *http.Request) string {
	id, _ := userIDFromContext(req.Context())
	return id
}

func httpStatusForError(err error) int {
	var validation *deploy.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// pathSuffix strips a route prefix, returning the remainder without slashes.
func pathSuffix(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
