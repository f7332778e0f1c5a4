package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/token"
)

// Service wraps principal business rules.
type Service struct {
	repo   Repository
	tokens *token.Service
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *token.Service) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// LoginResult carries the issued token together with the authenticated
// principal.
type LoginResult struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
}

// Login validates credentials and issues a token. Unknown email, wrong
// password, and deactivated account all produce the same tagged error so the
// response cannot be used to enumerate accounts. Only a storage fault is
// reported differently; clients must see an outage as retryable, not as bad
// credentials.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	principal, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, shared.TransientStorage(err)
	}
	if !principal.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	signed, err := s.tokens.Issue(principal.ID, principal.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: signed, Principal: *principal}, nil
}

// Get returns the principal by id.
func (s *Service) Get(ctx context.Context, id string) (*Principal, error) {
	principal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("principal does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return principal, nil
}

// UpdateProfileInput carries the self-service profile changes. Nil fields are
// left untouched.
type UpdateProfileInput struct {
	Name     *string
	Password *string
}

// UpdateProfile applies profile changes for the principal itself.
func (s *Service) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*Principal, error) {
	if input.Name == nil && input.Password == nil {
		return nil, shared.Validation("at least one of name or password is required")
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return nil, shared.Validation("name must not be empty")
	}

	var passwordHash *string
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashed := string(hash)
		passwordHash = &hashed
	}

	principal, err := s.repo.UpdateProfile(ctx, id, input.Name, passwordHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("principal does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return principal, nil
}

// List returns principals for the admin surface.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Principal, shared.Pagination, error) {
	principals, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, shared.TransientStorage(err)
	}
	return principals, shared.NewPagination(filter.Page, filter.Per, total), nil
}

// CreateInput carries an admin-created account.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     capability.Role
}

// Create inserts a principal on behalf of an admin. Unlike enrollment this is
// not idempotent: a duplicate email is a 409 the admin must resolve.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Principal, error) {
	role := input.Role
	if role == "" {
		role = capability.RoleStudent
	}
	if !role.Valid() {
		return nil, shared.Validation("role must be STUDENT, TEACHER or ADMIN")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	principal, err := s.repo.Create(ctx, Principal{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(input.Name),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		var tagged *shared.Error
		if errors.As(err, &tagged) {
			return nil, err
		}
		return nil, shared.TransientStorage(err)
	}
	return principal, nil
}

// ChangeRole sets the persisted role for a principal. Tokens already in
// flight keep their issued role until expiry.
func (s *Service) ChangeRole(ctx context.Context, id string, role capability.Role) (*Principal, error) {
	if !role.Valid() {
		return nil, shared.Validation("role must be STUDENT, TEACHER or ADMIN")
	}
	principal, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("principal does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return principal, nil
}

// SetActive toggles login for a principal.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Principal, error) {
	principal, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.NotFound("principal does not exist")
		}
		return nil, shared.TransientStorage(err)
	}
	return principal, nil
}
