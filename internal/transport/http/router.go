// Package httptransport mounts the module handlers on one chi router.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "examboard/internal/jwt_token"
	"examboard/internal/platform/metrics"
	"examboard/pkg/platform/httputil"
	"examboard/pkg/platform/middleware/auth"
	"examboard/pkg/platform/middleware/metadata"
	"examboard/pkg/platform/middleware/request"
	"examboard/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// FinanceRegistrar mounts the routes finance officers may also call.
type FinanceRegistrar interface {
	Registrar
	RegisterFinance(r chi.Router)
}

type Handlers struct {
	Invoices     FinanceRegistrar
	Students     Registrar
	Credentials  Registrar
	Verification Registrar
}

type RateLimiter interface {
	PerIP(scope string) func(http.Handler) http.Handler
}

type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Tokens    auth.JWTValidator
	RateLimit RateLimiter
	Health    func(ctx context.Context) error

	// TrustedProxies decides whose forwarding headers name the client for
	// rate limiting and audit.
	TrustedProxies metadata.TrustedProxies
}

// NewRouter builds the public verification surface and the role-guarded
// administrative surface.
func NewRouter(h Handlers, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata(opts.TrustedProxies))
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(metrics.LatencyMiddleware(opts.Metrics))

	r.Get("/healthz", healthz(opts.Health))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit.PerIP("verify"))
		}
		h.Verification.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireRole(opts.Tokens, logger, jwttoken.RoleAdmin))
		h.Invoices.Register(r)
		h.Students.Register(r)
		h.Credentials.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireRole(opts.Tokens, logger, jwttoken.RoleAdmin, jwttoken.RoleFinance))
		h.Invoices.RegisterFinance(r)
	})

	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
