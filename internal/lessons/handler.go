package lessons

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/gateway"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler wires HTTP endpoints for the catalog. Reads need any authenticated
// principal; writes need manageContent; delete needs deleteAny.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	pipeline  *gateway.Pipeline
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pipeline *gateway.Pipeline) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		pipeline:  pipeline,
		validator: validator.New(),
	}
}

// MountRoutes registers the catalog endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.RequireAuth)
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.Require(capability.ManageContent))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.Require(capability.DeleteAny))
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.service.List(r.Context())
	if err != nil {
		h.logFailure("list lessons", err)
		httpx.RespondError(w, err)
		return
	}
	if lessons == nil {
		lessons = []Lesson{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lessons})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	lesson, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure("get lesson", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lesson)
}

type createLessonForm struct {
	Title    string `json:"title" validate:"required,min=1"`
	Position int    `json:"position" validate:"omitempty,min=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createLessonForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation("title is required"))
		return
	}

	lesson, err := h.service.Create(r.Context(), CreateInput{Title: form.Title, Position: form.Position})
	if err != nil {
		h.logFailure("create lesson", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lesson)
}

type updateLessonForm struct {
	Title    *string `json:"title" validate:"omitempty,min=1"`
	Position *int    `json:"position" validate:"omitempty,min=0"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var form updateLessonForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation("title must not be empty"))
		return
	}

	lesson, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), UpdateInput{
		Title:    form.Title,
		Position: form.Position,
	})
	if err != nil {
		h.logFailure("update lesson", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lesson)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.logFailure("delete lesson", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
