package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/metrics"
	"physiodesk/backend/internal/service/booking"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type RouterConfig struct {
	Service booking.Service
	Logger  *slog.Logger
	// Auth enables bearer authentication on /v1. Nil leaves the API open and
	// cancel reads the actor from the request body.
	Auth        *auth.Authenticator
	RateLimit   func(http.Handler) http.Handler
	ReadyChecks []ReadyCheck
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithAccessLog(log.With(slog.String("component", "http"))))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(cfg.ReadyChecks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h := NewHandler(cfg.Service, log, cfg.Auth != nil)
	r.Group(func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}
		if cfg.Auth != nil {
			r.Use(Authenticate(cfg.Auth))
		}
		r.Mount("/v1", h.Routes())
	})

	return otelhttp.NewHandler(r, "physiodesk.http")
}

func readyHandler(checks []ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var failures []string
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := check.Check(ctx)
			cancel()
			if err != nil {
				name := check.Name
				if name == "" {
					name = "dependency"
				}
				failures = append(failures, name+": "+err.Error())
			}
		}
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
