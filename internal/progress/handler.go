package progress

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/gateway"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler wires the sync and read endpoints. Ownership checks live here, in
// front of the engine: the engine reconciles whatever the transport admits.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	pipeline *gateway.Pipeline
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pipeline *gateway.Pipeline) *Handler {
	return &Handler{logger: logger, service: service, pipeline: pipeline}
}

// MountRoutes registers the progress endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.Require(capability.ManageOwnProgress))
		r.Put("/sync", h.sync)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.RequireAuth)
		r.Get("/{subjectID}", h.listForSubject)
	})
}

type syncForm struct {
	SubjectID string `json:"subject_id"`
	LessonID  string `json:"lesson_id"`
	Completed bool   `json:"completed"`
	Score     *int   `json:"score"`
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	var form syncForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}

	id, _ := shared.IdentityFromContext(r.Context())
	target := form.SubjectID
	if target == "" {
		target = id.SubjectID
	}
	if !capability.CanModifyResource(id.SubjectID, target, id.Role) {
		httpx.RespondError(w, shared.Authorization("requires ownership or role ADMIN"))
		return
	}

	record, err := h.service.Sync(r.Context(), SyncInput{
		SubjectID: target,
		LessonID:  form.LessonID,
		Completed: form.Completed,
		Score:     form.Score,
	})
	if err != nil {
		h.logFailure("sync progress", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) listForSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	id, _ := shared.IdentityFromContext(r.Context())
	if !capability.CanViewResource(id.SubjectID, subjectID, id.Role) {
		httpx.RespondError(w, shared.Authorization("requires ownership or role TEACHER or ADMIN"))
		return
	}

	records, err := h.service.ListForSubject(r.Context(), subjectID)
	if err != nil {
		h.logFailure("list progress", err)
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *Handler) logFailure(op string, err error) {
	if h.logger == nil {
		return
	}
	switch shared.KindOf(err) {
	case shared.KindTransientStorage, shared.KindUnknown:
		h.logger.Error(op, slog.Any("error", err))
	}
}
