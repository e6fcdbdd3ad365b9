package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"examboard/internal/ratelimit"
	"examboard/pkg/platform/audit"
	"examboard/pkg/requestcontext"
)

type recordingPublisher struct{ events []audit.SecurityEvent }

func (p *recordingPublisher) Emit(_ context.Context, e audit.SecurityEvent) {
	p.events = append(p.events, e)
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("boom")
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/verify/abc", nil)
	r = r.WithContext(requestcontext.WithClientMetadata(r.Context(), ip, "curl/8"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPerIP(t *testing.T) {
	publisher := &recordingPublisher{}
	m := New(ratelimit.New(nil, 2, time.Minute), quiet(), WithSecurityPublisher(publisher))
	h := m.PerIP("verify")(ok())

	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.1").Code)
	rec := serve(h, "198.51.100.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(h, "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.2").Code, "other clients unaffected")

	if assert.Len(t, publisher.events, 1) {
		assert.Equal(t, audit.EventRateLimitExceeded, publisher.events[0].Action)
		assert.Equal(t, "198.51.100.1", publisher.events[0].IP)
	}
}

func TestPerIP_FailsOpen(t *testing.T) {
	h := New(failingLimiter{}, quiet()).PerIP("verify")(ok())
	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.1").Code)
}

func TestPerIP_Disabled(t *testing.T) {
	h := New(ratelimit.New(nil, 0, time.Minute), quiet(), WithDisabled(true)).PerIP("verify")(ok())
	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.1").Code)
}
