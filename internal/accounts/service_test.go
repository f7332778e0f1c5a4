package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/token"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	principals map[string]*Principal
	byEmail    map[string]*Principal

	// Error injection
	findByEmailError error
	getByIDError     error
	listError        error
	createError      error
	updateError      error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		principals: make(map[string]*Principal),
		byEmail:    make(map[string]*Principal),
	}
}

func (m *mockRepository) put(p *Principal) {
	m.principals[p.ID] = p
	m.byEmail[p.Email] = p
}

func (m *mockRepository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	if m.findByEmailError != nil {
		return nil, m.findByEmailError
	}
	p, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockRepository) GetByID(ctx context.Context, id string) (*Principal, error) {
	if m.getByIDError != nil {
		return nil, m.getByIDError
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockRepository) List(ctx context.Context, filter ListFilter) ([]Principal, int, error) {
	if m.listError != nil {
		return nil, 0, m.listError
	}
	result := []Principal{}
	for _, p := range m.principals {
		if filter.Role != nil && p.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		result = append(result, *p)
	}
	return result, len(result), nil
}

func (m *mockRepository) Create(ctx context.Context, p Principal) (*Principal, error) {
	if m.createError != nil {
		return nil, m.createError
	}
	if _, taken := m.byEmail[p.Email]; taken {
		return nil, shared.Conflict(shared.CodeEmailTaken, "email is already registered")
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.put(&p)
	copied := p
	return &copied, nil
}

func (m *mockRepository) UpdateProfile(ctx context.Context, id string, name, passwordHash *string) (*Principal, error) {
	if m.updateError != nil {
		return nil, m.updateError
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if name != nil {
		p.Name = *name
	}
	if passwordHash != nil {
		p.PasswordHash = *passwordHash
	}
	p.UpdatedAt = time.Now().UTC()
	copied := *p
	return &copied, nil
}

func (m *mockRepository) UpdateRole(ctx context.Context, id string, role capability.Role) (*Principal, error) {
	if m.updateError != nil {
		return nil, m.updateError
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Role = role
	copied := *p
	return &copied, nil
}

func (m *mockRepository) SetActive(ctx context.Context, id string, active bool) (*Principal, error) {
	if m.updateError != nil {
		return nil, m.updateError
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Active = active
	copied := *p
	return &copied, nil
}

var _ Repository = (*mockRepository)(nil)

// ============================================================================
// HELPERS
// ============================================================================

func newTestService(t *testing.T, repo Repository) (*Service, *token.Service) {
	t.Helper()
	tokens, err := token.NewService(token.Config{
		Secret: "accounts-service-test-secret",
		Issuer: "meridian",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	return NewService(repo, tokens), tokens
}

func storedPrincipal(t *testing.T, password string, role capability.Role, active bool) *Principal {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &Principal{
		ID:           "0b9c2a0e-8e6d-4f13-9f03-0f6c7f6f0001",
		Name:         "Dana Whitfield",
		Email:        "dana@meridian.test",
		PasswordHash: string(hash),
		Role:         role,
		Active:       active,
	}
}

// ============================================================================
// LOGIN
// ============================================================================

func TestLoginIssuesVerifiableToken(t *testing.T) {
	repo := newMockRepository()
	repo.put(storedPrincipal(t, "correct horse battery", capability.RoleTeacher, true))
	svc, tokens := newTestService(t, repo)

	result, err := svc.Login(context.Background(), "dana@meridian.test", "correct horse battery")
	require.NoError(t, err)
	require.NotNil(t, result)

	body, err := json.Marshal(result)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "password")

	claims, err := tokens.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "0b9c2a0e-8e6d-4f13-9f03-0f6c7f6f0001", claims.SubjectID)
	assert.Equal(t, capability.RoleTeacher, claims.Role)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	repo := newMockRepository()
	repo.put(storedPrincipal(t, "correct horse battery", capability.RoleStudent, true))
	inactive := storedPrincipal(t, "correct horse battery", capability.RoleStudent, false)
	inactive.ID = "0b9c2a0e-8e6d-4f13-9f03-0f6c7f6f0002"
	inactive.Email = "frozen@meridian.test"
	repo.put(inactive)
	svc, _ := newTestService(t, repo)

	cases := map[string]struct {
		email    string
		password string
	}{
		"unknown email":       {email: "nobody@meridian.test", password: "correct horse battery"},
		"wrong password":      {email: "dana@meridian.test", password: "incorrect"},
		"deactivated account": {email: "frozen@meridian.test", password: "correct horse battery"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := svc.Login(context.Background(), tc.email, tc.password)
			require.Nil(t, result)
			require.ErrorIs(t, err, shared.ErrInvalidCredentials)
			// Same tagged value in every branch: same code, same message.
			var tagged *shared.Error
			require.ErrorAs(t, err, &tagged)
			assert.Equal(t, shared.CodeInvalidCredentials, tagged.Code)
			assert.Equal(t, shared.ErrInvalidCredentials.Message, tagged.Message)
		})
	}
}

func TestLoginStorageFaultIsNotCredentialFailure(t *testing.T) {
	repo := newMockRepository()
	repo.findByEmailError = errors.New("dial tcp: connection refused")
	svc, _ := newTestService(t, repo)

	result, err := svc.Login(context.Background(), "dana@meridian.test", "whatever")
	require.Nil(t, result)
	require.NotErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Equal(t, shared.KindTransientStorage, shared.KindOf(err))
}

// ============================================================================
// PROFILE
// ============================================================================

func TestUpdateProfileRequiresAField(t *testing.T) {
	svc, _ := newTestService(t, newMockRepository())

	_, err := svc.UpdateProfile(context.Background(), "any", UpdateProfileInput{})
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestUpdateProfileRehashesPassword(t *testing.T) {
	repo := newMockRepository()
	stored := storedPrincipal(t, "old password 123", capability.RoleStudent, true)
	repo.put(stored)
	oldHash := stored.PasswordHash
	svc, _ := newTestService(t, repo)

	newPassword := "new password 456"
	_, err := svc.UpdateProfile(context.Background(), stored.ID, UpdateProfileInput{Password: &newPassword})
	require.NoError(t, err)

	updated := repo.principals[stored.ID]
	assert.NotEqual(t, oldHash, updated.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte(newPassword)))
	assert.NotContains(t, updated.PasswordHash, newPassword)
}

func TestUpdateProfileUnknownPrincipal(t *testing.T) {
	svc, _ := newTestService(t, newMockRepository())

	name := "Someone"
	_, err := svc.UpdateProfile(context.Background(), "missing", UpdateProfileInput{Name: &name})
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

// ============================================================================
// ADMIN CREATE / ROLE / ACTIVE
// ============================================================================

func TestCreateDefaultsToStudent(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(t, repo)

	created, err := svc.Create(context.Background(), CreateInput{
		Name:     "  Riley Chen ",
		Email:    "Riley.Chen@Meridian.Test",
		Password: "first login pw",
	})
	require.NoError(t, err)
	assert.Equal(t, capability.RoleStudent, created.Role)
	assert.Equal(t, "Riley Chen", created.Name)
	assert.Equal(t, "riley.chen@meridian.test", created.Email)
	assert.True(t, created.Active)
	assert.NotEmpty(t, created.ID)

	stored := repo.principals[created.ID]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("first login pw")))
}

func TestCreateDuplicateEmailSurfacesConflict(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(t, repo)

	input := CreateInput{Name: "Riley", Email: "riley@meridian.test", Password: "first login pw"}
	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), input)
	require.Error(t, err)
	var tagged *shared.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, shared.CodeEmailTaken, tagged.Code)
	assert.Equal(t, shared.KindConflict, tagged.Kind)
}

func TestChangeRoleRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t, newMockRepository())

	_, err := svc.ChangeRole(context.Background(), "any", capability.Role("SUPERUSER"))
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestChangeRoleUpdatesStoredRoleOnly(t *testing.T) {
	repo := newMockRepository()
	stored := storedPrincipal(t, "pw pw pw pw", capability.RoleStudent, true)
	repo.put(stored)
	svc, _ := newTestService(t, repo)

	updated, err := svc.ChangeRole(context.Background(), stored.ID, capability.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, capability.RoleTeacher, updated.Role)
}

func TestSetActiveTogglesLogin(t *testing.T) {
	repo := newMockRepository()
	stored := storedPrincipal(t, "pw pw pw pw", capability.RoleStudent, true)
	repo.put(stored)
	svc, _ := newTestService(t, repo)

	_, err := svc.SetActive(context.Background(), stored.ID, false)
	require.NoError(t, err)

	result, err := svc.Login(context.Background(), stored.Email, "pw pw pw pw")
	require.Nil(t, result)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestListWrapsPagination(t *testing.T) {
	repo := newMockRepository()
	repo.put(storedPrincipal(t, "pw pw pw pw", capability.RoleStudent, true))
	svc, _ := newTestService(t, repo)

	principals, pagination, err := svc.List(context.Background(), ListFilter{Page: 1, Per: 10})
	require.NoError(t, err)
	assert.Len(t, principals, 1)
	assert.Equal(t, 1, pagination.Total)
	assert.Equal(t, 10, pagination.PerPage)
}
