package server

import (
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/stackdesk/stackdesk/internal/auth"
	stackmiddleware "github.com/stackdesk/stackdesk/internal/middleware"
	"github.com/stackdesk/stackdesk/internal/notifications"
	"github.com/stackdesk/stackdesk/internal/tasks"
)

// RouterOptions controls the construction of the HTTP router. The zero
// value is not useful: TaskService, NotificationService and Enforcer are
// required for the v1 API to be mounted.
type RouterOptions struct {
	TaskService         *tasks.Service
	NotificationService *notifications.Service
	Enforcer            casbin.IEnforcer
	JWTSecret           string
	CORSOptions         *cors.Options
	Middleware          []func(http.Handler) http.Handler
	HealthHandler       http.HandlerFunc
	ExtraRoutes         func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy,
// and the v1 handlers mounted behind authentication and per-action
// Casbin enforcement. Token endpoints stay outside authentication: the
// token string itself is the credential.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.TaskService != nil {
		h := NewHandlers(opts.TaskService, opts.NotificationService)
		authn := stackmiddleware.NewAuthnMiddleware(opts.JWTSecret)

		r.Route("/v1", func(v1 chi.Router) {
			v1.Group(func(g chi.Router) {
				g.Use(authn)

				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskCreate)).
					Post("/tasks", h.CreateTask)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskList)).
					Get("/tasks", h.ListTasks)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskRead)).
					Get("/tasks/{id}", h.GetTask)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskUpdate)).
					Put("/tasks/{id}", h.UpdateTask)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskApprove)).
					Post("/tasks/{id}/approve", h.ApproveTask)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.TaskCancel)).
					Delete("/tasks/{id}", h.CancelTask)

				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.NotificationList)).
					Get("/notifications", h.ListNotifications)
				g.With(stackmiddleware.RequireAction(opts.Enforcer, auth.NotificationAck)).
					Post("/notifications/{id}/ack", h.AckNotification)
			})

			// Token holder endpoints; the token is the credential.
			v1.Get("/tokens/{token}", h.DescribeToken)
			v1.Post("/tokens/{token}", h.SubmitToken)
		})
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2
// over cleartext for development clients.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
