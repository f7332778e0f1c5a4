// Package enrollment is the one write path that spans identity and progress:
// register (or re-register) a principal by email and give it a progress row
// for every lesson, atomically. The whole workflow is idempotent, so a client
// that timed out can blindly retry.
package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/accounts"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/jobs"
)

// Mailer enqueues the welcome email. jobs.Client satisfies it; nil disables
// the send.
type Mailer interface {
	EnqueueWelcome(ctx context.Context, name, email string) error
}

// Service runs the enrollment workflow.
type Service struct {
	repo      Repository
	mailer    Mailer
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs a Service.
func NewService(repo Repository, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		mailer:    mailer,
		logger:    logger,
		validator: validator.New(),
	}
}

// EnrollInput carries a registration request.
type EnrollInput struct {
	Name     string `json:"name" validate:"required,min=1"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Result reports the enrolled principal and how many progress rows this call
// actually created. A retry that finds everything in place reports zero.
type Result struct {
	Principal           accounts.Principal `json:"principal"`
	ProgressInitialized int                `json:"progress_initialized"`
}

// Enroll registers the principal and initializes progress for the whole
// catalog in one transaction. Existing principals keep their role and active
// flag; existing progress rows are never overwritten. Any storage failure
// rolls the whole transaction back and surfaces as retry-safe.
func (s *Service) Enroll(ctx context.Context, input EnrollInput) (*Result, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, shared.Validation(describeEnrollError(err))
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)

	// Hashing is CPU work; keep it outside the transaction.
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		principal, err := tx.UpsertPrincipal(ctx, accounts.Principal{
			ID:           uuid.NewString(),
			Name:         name,
			Email:        email,
			PasswordHash: string(hash),
		})
		if err != nil {
			return err
		}

		lessonIDs, err := tx.LessonIDs(ctx)
		if err != nil {
			return err
		}

		created, err := tx.InitProgress(ctx, principal.ID, lessonIDs)
		if err != nil {
			return err
		}

		result = Result{Principal: *principal, ProgressInitialized: created}
		return nil
	})
	if err != nil {
		var tagged *shared.Error
		if errors.As(err, &tagged) {
			return nil, err
		}
		return nil, shared.TransientStorage(err)
	}

	s.sendWelcome(ctx, result.Principal)
	return &result, nil
}

// sendWelcome is best effort. The enrollment already committed; a queue
// outage must not turn it into an error.
func (s *Service) sendWelcome(ctx context.Context, p accounts.Principal) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.EnqueueWelcome(ctx, p.Name, p.Email); err != nil {
		s.logger.Warn("welcome email enqueue failed",
			slog.String("email", p.Email), slog.Any("error", err))
	}
}

func describeEnrollError(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "enrollment payload is invalid"
	}
	switch fe := fieldErrs[0]; fe.Tag() {
	case "required":
		return strings.ToLower(fe.Field()) + " is required"
	case "email":
		return "email must be a valid email address"
	case "min":
		return strings.ToLower(fe.Field()) + " must be at least " + fe.Param() + " characters"
	default:
		return strings.ToLower(fe.Field()) + " is invalid"
	}
}

// AsynqMailer adapts jobs.Client to the Mailer interface.
type AsynqMailer struct {
	Client *jobs.Client
}

// EnqueueWelcome queues the welcome email task.
func (m AsynqMailer) EnqueueWelcome(ctx context.Context, name, email string) error {
	if m.Client == nil {
		return nil
	}
	_, err := m.Client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      email,
		Subject: "Welcome to Meridian",
		Body:    "Hi " + name + ", your enrollment is complete. Every lesson is ready for you.",
	})
	return err
}
