package api

import (
	"net/http"

	"github.com/campusbridge/campusbridge/internal/auth"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/health"
	"github.com/campusbridge/campusbridge/internal/logger"
	"github.com/campusbridge/campusbridge/internal/metrics"
	"github.com/campusbridge/campusbridge/internal/middleware"
	"github.com/campusbridge/campusbridge/internal/posts"
	"github.com/campusbridge/campusbridge/internal/websocket"
)

const defaultMaxBodyBytes = 1 << 20

// Deps are the handlers and services the router mounts. Metrics, Limiter and
// Feed are optional.
type Deps struct {
	Auth     *auth.Handlers
	Verifier *auth.Verifier
	Posts    *posts.Handlers
	Feed     *websocket.Handler
	Health   *health.Handler
	Metrics  *metrics.Metrics
	Limiter  *middleware.RateLimiter

	AllowedOrigins []string
	MaxBodyBytes   int64
}

type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	deps     Deps
	withAuth func(http.Handler) http.Handler
	log      *logger.Logger
}

func NewRouter(deps Deps) *Router {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}

	var recorder auth.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	r := &Router{
		mux:      http.NewServeMux(),
		deps:     deps,
		withAuth: auth.Middleware(deps.Verifier, recorder),
		log:      logger.Default().WithComponent("api"),
	}
	r.setupRoutes()
	r.handler = r.wrap()
	return r
}

// wrap puts the mux behind the full middleware stack.
func (r *Router) wrap() http.Handler {
	stack := []func(http.Handler) http.Handler{
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
	}
	stack = append(stack,
		middleware.SecurityHeaders,
		middleware.CORS(r.deps.AllowedOrigins),
		middleware.MaxBodyBytes(r.deps.MaxBodyBytes),
	)
	// Metrics sits directly on the dispatcher so it sees the matched pattern.
	if r.deps.Metrics != nil {
		stack = append(stack, metrics.MetricsMiddleware(r.deps.Metrics))
	}
	return middleware.Chain(http.HandlerFunc(r.dispatch), stack...)
}

// dispatch routes through the mux but answers unknown paths and wrong
// methods with the JSON error envelope instead of the mux's plain text.
func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	h, pattern := r.mux.Handler(req)
	if pattern != "" {
		r.mux.ServeHTTP(w, req)
		return
	}

	rec := &routeRecorder{header: make(http.Header), status: http.StatusOK}
	h.ServeHTTP(rec, req)

	requestID := apperrors.GetRequestID(req.Context())
	switch rec.status {
	case http.StatusNotFound:
		apperrors.WriteError(w, requestID, apperrors.NotFound("route"))
	case http.StatusMethodNotAllowed:
		if allow := rec.header.Get("Allow"); allow != "" {
			w.Header().Set("Allow", allow)
		}
		apperrors.WriteError(w, requestID, apperrors.MethodNotAllowed(req.Method))
	default:
		// Path-cleaning redirects pass through untouched.
		for k, v := range rec.header {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.status)
		_, _ = w.Write(rec.body)
	}
}

// routeRecorder captures the mux's fallback response so dispatch can decide
// what the client sees.
type routeRecorder struct {
	header http.Header
	status int
	body   []byte
}

func (rr *routeRecorder) Header() http.Header { return rr.header }

func (rr *routeRecorder) WriteHeader(status int) { rr.status = status }

func (rr *routeRecorder) Write(b []byte) (int, error) {
	rr.body = append(rr.body, b...)
	return len(b), nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	a := r.deps.Auth
	p := r.deps.Posts

	r.mux.HandleFunc("GET /health", r.deps.Health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.deps.Health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.deps.Health.ReadinessHandler)
	if r.deps.Metrics != nil {
		r.mux.Handle("GET /metrics", r.deps.Metrics.Handler())
	}

	// Users
	r.mux.Handle("POST /api/v1/users/register", r.limited(r.handle(a.Register)))
	r.mux.Handle("POST /api/v1/users/login", r.limited(r.handle(a.Login)))
	r.mux.Handle("POST /api/v1/users/refresh-token", r.handle(a.RefreshToken))
	r.mux.Handle("POST /api/v1/users/logout", r.withAuth(r.handle(a.Logout)))
	r.mux.Handle("GET /api/v1/users/profile", r.withAuth(r.handle(a.Profile)))
	r.mux.Handle("POST /api/v1/users/change-password", r.withAuth(r.handle(a.ChangePassword)))

	// Posts
	r.mux.Handle("POST /api/v1/posts/createpost", r.withAuth(r.handle(p.Create)))
	r.mux.Handle("GET /api/v1/posts/allposts", r.handle(p.List))
	r.mux.Handle("GET /api/v1/posts/post/{postId}", r.handle(p.Get))
	r.mux.Handle("POST /api/v1/posts/editpost/{postId}", r.withAuth(r.handle(p.Update)))
	r.mux.Handle("DELETE /api/v1/posts/deletepost/{postId}", r.withAuth(r.handle(p.Delete)))
	if r.deps.Feed != nil {
		r.mux.Handle("GET /api/v1/posts/feed", r.withAuth(r.handle(r.deps.Feed.ServeWS)))
	}
}

func (r *Router) handle(h apperrors.Handler) http.Handler {
	return apperrors.HandleFunc(h, r.logServerError)
}

func (r *Router) limited(next http.Handler) http.Handler {
	if r.deps.Limiter == nil {
		return next
	}
	return r.deps.Limiter.Middleware(next)
}

// logServerError logs the cause of every 5xx; clients only see a generic message.
func (r *Router) logServerError(req *http.Request, err *apperrors.AppError) {
	if err.HTTPStatus < http.StatusInternalServerError {
		return
	}
	cause := err.Cause
	if cause == nil {
		cause = err
	}
	r.log.Error(req.Context(), err.Message, cause, map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
		"code":   err.Code,
	})
}
