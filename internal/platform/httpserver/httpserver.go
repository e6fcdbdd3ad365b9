// Package httpserver builds the board's HTTP server from its config.
package httpserver

import (
	"net/http"
	"time"

	"examboard/internal/platform/config"
)

const timeoutBody = `{"error":"timeout","error_description":"request took too long"}`

// New bounds every request by cfg.RequestTimeout. The write timeout leaves
// room for the timeout body to be sent.
func New(cfg config.Server, handler http.Handler) *http.Server {
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.RequestTimeout, timeoutBody)
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
