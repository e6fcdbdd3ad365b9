package rendering

//go:generate mockgen -source=rendering.go -destination=mocks/mocks.go -package=mocks Renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examboard/pkg/platform/circuit"
)

func payload() Payload {
	return Payload{Kind: "certificate", DocumentNumber: "CERT-2026-00001234", StudentName: "Aisha Nakato", ExamYear: 2026}
}

func TestHTTPRenderer_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/render", r.URL.Path)
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "CERT-2026-00001234", p.DocumentNumber)
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "s3://docs/cert-2026-00001234.pdf"})
	}))
	defer srv.Close()

	m := NewMetrics(prometheus.NewRegistry())
	ref, err := NewHTTPRenderer(srv.URL+"/", time.Second, WithMetrics(m)).Render(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, Reference("s3://docs/cert-2026-00001234.pdf"), ref)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("ok")))
}

func TestHTTPRenderer_FailuresOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMetrics(prometheus.NewRegistry())
	r := NewHTTPRenderer(srv.URL, time.Second,
		WithMetrics(m),
		WithBreaker(circuit.New("renderer", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))

	for i := 0; i < 3; i++ {
		_, err := r.Render(context.Background(), payload())
		assert.ErrorIs(t, err, ErrRendering)
	}
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the third call")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerOpen))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("breaker_open")))
}

func TestHTTPRenderer_EmptyReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPRenderer(srv.URL, time.Second).Render(context.Background(), payload())
	assert.ErrorIs(t, err, ErrRendering)
}

func TestLocalRenderer(t *testing.T) {
	ref, err := LocalRenderer{}.Render(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, Reference("local://certificate/cert-2026-00001234.pdf"), ref)

	_, err = LocalRenderer{}.Render(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrRendering)
}
