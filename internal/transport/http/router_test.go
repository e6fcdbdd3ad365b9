package httptransport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "examboard/internal/jwt_token"
	"examboard/internal/platform/metrics"
	"examboard/pkg/testutil"
)

type stubRoutes struct{ path string }

func (s stubRoutes) Register(r chi.Router) {
	r.Post(s.path, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

type stubInvoices struct{ stubRoutes }

func (stubInvoices) RegisterFinance(r chi.Router) {
	r.Post("/admin/invoices/{id}/confirm", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

type stubVerification struct{}

func (stubVerification) Register(r chi.Router) {
	r.Get("/verify/{token}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

type countingLimiter struct{ scopes []string }

func (c *countingLimiter) PerIP(scope string) func(http.Handler) http.Handler {
	c.scopes = append(c.scopes, scope)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", "30")
			next.ServeHTTP(w, r)
		})
	}
}

func newTestRouter(t *testing.T, health func(context.Context) error) (http.Handler, *jwttoken.JWTService, *countingLimiter) {
	t.Helper()
	tokens := jwttoken.NewJWTService("test-signing-key", "examboard", "examboard-admin")
	limiter := &countingLimiter{}
	reg := prometheus.NewRegistry()
	router := NewRouter(Handlers{
		Invoices:     stubInvoices{stubRoutes{path: "/admin/invoices"}},
		Students:     stubRoutes{path: "/admin/students/{id}/approve"},
		Credentials:  stubRoutes{path: "/admin/credentials"},
		Verification: stubVerification{},
	}, Options{
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Tokens:    jwttoken.NewJWTServiceAdapter(tokens),
		RateLimit: limiter,
		Health:    health,
	})
	return router, tokens, limiter
}

func bearer(t *testing.T, tokens *jwttoken.JWTService, role string) string {
	t.Helper()
	token, err := tokens.GenerateAccessToken(uuid.New(), role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_RoleGroups(t *testing.T) {
	router, tokens, _ := newTestRouter(t, nil)

	cases := []struct {
		name   string
		path   string
		role   string
		status int
	}{
		{"admin route without token", "/admin/credentials", "", http.StatusUnauthorized},
		{"admin route as admin", "/admin/credentials", jwttoken.RoleAdmin, http.StatusNoContent},
		{"admin route as finance", "/admin/credentials", jwttoken.RoleFinance, http.StatusForbidden},
		{"generate invoice as finance", "/admin/invoices", jwttoken.RoleFinance, http.StatusForbidden},
		{"confirm payment as finance", "/admin/invoices/abc/confirm", jwttoken.RoleFinance, http.StatusNoContent},
		{"confirm payment as admin", "/admin/invoices/abc/confirm", jwttoken.RoleAdmin, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, tc.path, map[string]string{})
			if tc.role != "" {
				req.Header.Set("Authorization", bearer(t, tokens, tc.role))
			}
			rr := testutil.DoRequest(router, req)
			switch tc.status {
			case http.StatusUnauthorized:
				testutil.AssertStatusAndError(t, rr, tc.status, "unauthorized")
			case http.StatusForbidden:
				testutil.AssertStatusAndError(t, rr, tc.status, "forbidden")
			default:
				testutil.AssertStatus(t, rr, tc.status)
			}
		})
	}
}

func TestRouter_VerifyIsPublicAndLimited(t *testing.T) {
	router, _, limiter := newTestRouter(t, nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verify/some-token"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "30", rr.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, []string{"verify"}, limiter.scopes)
}

func TestRouter_Health(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")

	router, _, _ = newTestRouter(t, func(context.Context) error { return errors.New("database: connection refused") })
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/verify/some-token"))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), `examboard_http_requests_total{method="GET",route="/verify/{token}",status="200"} 1`)
}
