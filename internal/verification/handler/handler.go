package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examboard/internal/verification"
	"examboard/pkg/platform/httputil"
	"examboard/pkg/requestcontext"
)

type Service interface {
	Verify(ctx context.Context, token, kindHint string) (verification.Result, error)
}

// Handler serves the public verification route.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/verify/{token}", h.HandleVerify)
}

// HandleVerify answers 404 for unknown and malformed tokens alike, and 200
// for known tokens whatever their status.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")

	result, err := h.service.Verify(ctx, chi.URLParam(r, "token"), r.URL.Query().Get("kind"))
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if result.Status == verification.StatusNotFound {
		httputil.WriteJSON(w, http.StatusNotFound, result)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
