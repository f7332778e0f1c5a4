package accounts

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/gateway"
	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler wires HTTP endpoints for login, profile, and user administration.
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

// MountAuthRoutes registers the public credential endpoints.
func (h *Handler) MountAuthRoutes(r chi.Router) {
	r.Post("/login", h.login)
}

// MountProfileRoutes registers the self-service endpoints.
func (h *Handler) MountProfileRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.RequireAuth)
		r.Get("/", h.me)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.Require(capability.UpdateOwnProfile))
		r.Patch("/", h.updateProfile)
	})
}

// MountUserRoutes registers the admin-only management endpoints.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.pipeline.Require(capability.ManageUsers))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Put("/{id}/role", h.changeRole)
		r.Put("/{id}/active", h.setActive)
	})
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation(describeFieldError(err)))
		return
	}

	result, err := h.service.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		h.logFailure("login", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	principal, err := h.service.Get(r.Context(), id.SubjectID)
	if err != nil {
		h.logFailure("get profile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, principal)
}

type updateProfileForm struct {
	Name     *string `json:"name" validate:"omitempty,min=1"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var form updateProfileForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation(describeFieldError(err)))
		return
	}

	id, _ := shared.IdentityFromContext(r.Context())
	principal, err := h.service.UpdateProfile(r.Context(), id.SubjectID, UpdateProfileInput{
		Name:     form.Name,
		Password: form.Password,
	})
	if err != nil {
		h.logFailure("update profile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, principal)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Search: r.URL.Query().Get("search")}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.Per, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := capability.ParseRole(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validation("role must be STUDENT, TEACHER or ADMIN"))
			return
		}
		filter.Role = &role
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	principals, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logFailure("list users", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       principals,
		"pagination": pagination,
	})
}

type createUserForm struct {
	Name     string `json:"name" validate:"required,min=1"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=STUDENT TEACHER ADMIN"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createUserForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation(describeFieldError(err)))
		return
	}

	principal, err := h.service.Create(r.Context(), CreateInput{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		Role:     capability.Role(form.Role),
	})
	if err != nil {
		h.logFailure("create user", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, principal)
}

type changeRoleForm struct {
	Role string `json:"role" validate:"required,oneof=STUDENT TEACHER ADMIN"`
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	var form changeRoleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation(describeFieldError(err)))
		return
	}

	principal, err := h.service.ChangeRole(r.Context(), chi.URLParam(r, "id"), capability.Role(form.Role))
	if err != nil {
		h.logFailure("change role", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, principal)
}

type setActiveForm struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var form setActiveForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, shared.Validation("request body must be valid JSON"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, shared.Validation(describeFieldError(err)))
		return
	}

	principal, err := h.service.SetActive(r.Context(), chi.URLParam(r, "id"), *form.Active)
	if err != nil {
		h.logFailure("set active", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, principal)
}

// logFailure records unexpected failures. Expected domain outcomes (401, 403,
// 400, 404, 409) are the caller's business, not log noise.
func (h *Handler) logFailure(op string, err error) {
	if h.logger == nil {
		return
	}
	switch shared.KindOf(err) {
	case shared.KindTransientStorage, shared.KindUnknown:
		h.logger.Error(op, slog.Any("error", err))
	}
}

// describeFieldError phrases the first validator failure for clients.
func describeFieldError(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "request validation failed"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "email":
		return fmt.Sprintf("%s must be a valid email address", strings.ToLower(fe.Field()))
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
}
