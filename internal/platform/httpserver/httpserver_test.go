package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"examboard/internal/platform/config"
)

func TestNew_TimesOutSlowRequests(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	srv := New(config.Server{Addr: ":0", RequestTimeout: 20 * time.Millisecond}, slow)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/credentials", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, timeoutBody, rec.Body.String())
	assert.Equal(t, 5*time.Second+20*time.Millisecond, srv.WriteTimeout)
}
