package rendering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"examboard/pkg/platform/circuit"
)

// HTTPRenderer calls a document rendering service over JSON. A breaker stops
// calls to a failing service until its cooldown has passed.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type HTTPOption func(*HTTPRenderer)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(r *HTTPRenderer) { r.client = c }
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(r *HTTPRenderer) { r.breaker = b }
}

func WithMetrics(m *Metrics) HTTPOption {
	return func(r *HTTPRenderer) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(r *HTTPRenderer) { r.logger = logger }
}

func NewHTTPRenderer(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPRenderer {
	r := &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.New("renderer"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type renderResponse struct {
	Reference string `json:"reference"`
}

func (r *HTTPRenderer) Render(ctx context.Context, p Payload) (Reference, error) {
	if !r.breaker.Allow(time.Now()) {
		r.metrics.IncRequest("breaker_open")
		return "", fmt.Errorf("%w: renderer unavailable", ErrRendering)
	}

	start := time.Now()
	ref, err := r.call(ctx, p)
	r.metrics.ObserveDuration(time.Since(start).Seconds())
	if err != nil {
		r.metrics.IncRequest("error")
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.metrics.SetBreakerOpen(true)
			r.logger.WarnContext(ctx, "renderer breaker opened", "error", err)
		}
		return "", fmt.Errorf("%w: %w", ErrRendering, err)
	}
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.metrics.SetBreakerOpen(false)
		r.logger.InfoContext(ctx, "renderer breaker closed")
	}
	r.metrics.IncRequest("ok")
	return ref, nil
}

func (r *HTTPRenderer) call(ctx context.Context, p Payload) (Reference, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}
	var out renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode renderer response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("renderer returned no reference")
	}
	return Reference(out.Reference), nil
}
