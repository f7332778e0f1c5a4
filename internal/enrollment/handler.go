package enrollment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler wires the public enrollment endpoint. No token required: this is
// how principals come to exist in the first place.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the enrollment endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.enroll)
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	var input EnrollInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}

	result, err := h.service.Enroll(r.Context(), input)
	if err != nil {
		h.logFailure(err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) logFailure(err error) {
	if h.logger == nil {
		return
	}
	switch shared.KindOf(err) {
	case shared.KindTransientStorage, shared.KindUnknown:
		h.logger.Error("enroll", slog.Any("error", err))
	}
}
