package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meridian-lms/meridian-lms/internal/accounts"
	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/enrollment"
	"github.com/meridian-lms/meridian-lms/internal/gateway"
	"github.com/meridian-lms/meridian-lms/internal/lessons"
	"github.com/meridian-lms/meridian-lms/internal/progress"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	_ "github.com/meridian-lms/meridian-lms/internal/testing/guard"
	"github.com/meridian-lms/meridian-lms/internal/token"
)

// memoryState backs every repository interface so a full router can run
// without Postgres. The wrappers below share it the way the real
// repositories share one pool.
type memoryState struct {
	mu      sync.Mutex
	users   map[string]accounts.Principal
	byEmail map[string]string
	catalog map[string]lessons.Lesson
	records map[string]progress.Record
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:   make(map[string]accounts.Principal),
		byEmail: make(map[string]string),
		catalog: make(map[string]lessons.Lesson),
		records: make(map[string]progress.Record),
	}
}

func recordKey(subjectID, lessonID string) string {
	return subjectID + "|" + lessonID
}

type memAccounts struct{ s *memoryState }

func (m memAccounts) FindByEmail(_ context.Context, email string) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byEmail[email]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	p := m.s.users[id]
	return &p, nil
}

func (m memAccounts) GetByID(_ context.Context, id string) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.users[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return &p, nil
}

func (m memAccounts) List(_ context.Context, filter accounts.ListFilter) ([]accounts.Principal, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []accounts.Principal
	for _, p := range m.s.users {
		if filter.Role != nil && p.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (m memAccounts) Create(_ context.Context, p accounts.Principal) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.byEmail[p.Email]; exists {
		return nil, shared.Conflict(shared.CodeEmailTaken, "email is already registered")
	}
	m.s.users[p.ID] = p
	m.s.byEmail[p.Email] = p.ID
	return &p, nil
}

func (m memAccounts) UpdateProfile(_ context.Context, id string, name, passwordHash *string) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.users[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	if name != nil {
		p.Name = *name
	}
	if passwordHash != nil {
		p.PasswordHash = *passwordHash
	}
	p.UpdatedAt = time.Now().UTC()
	m.s.users[id] = p
	return &p, nil
}

func (m memAccounts) UpdateRole(_ context.Context, id string, role capability.Role) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.users[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	p.Role = role
	m.s.users[id] = p
	return &p, nil
}

func (m memAccounts) SetActive(_ context.Context, id string, active bool) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.users[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	p.Active = active
	m.s.users[id] = p
	return &p, nil
}

type memLessons struct{ s *memoryState }

func (m memLessons) List(_ context.Context) ([]lessons.Lesson, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []lessons.Lesson
	for _, l := range m.s.catalog {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (m memLessons) GetByID(_ context.Context, id string) (*lessons.Lesson, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.catalog[id]
	if !ok {
		return nil, lessons.ErrNotFound
	}
	return &l, nil
}

func (m memLessons) Create(_ context.Context, l lessons.Lesson) (*lessons.Lesson, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.catalog {
		if existing.Slug == l.Slug {
			return nil, shared.Conflict(shared.CodeSlugTaken, "a lesson with this slug already exists")
		}
	}
	m.s.catalog[l.ID] = l
	return &l, nil
}

func (m memLessons) Update(_ context.Context, id string, title, slug string, position int) (*lessons.Lesson, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.catalog[id]
	if !ok {
		return nil, lessons.ErrNotFound
	}
	l.Title = title
	l.Slug = slug
	l.Position = position
	l.UpdatedAt = time.Now().UTC()
	m.s.catalog[id] = l
	return &l, nil
}

func (m memLessons) Delete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.catalog[id]; !ok {
		return lessons.ErrNotFound
	}
	delete(m.s.catalog, id)
	return nil
}

type memProgress struct{ s *memoryState }

func (m memProgress) Upsert(_ context.Context, rec progress.Record) (*progress.Record, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[rec.SubjectID]; !ok {
		return nil, progress.ErrUnknownReference
	}
	if _, ok := m.s.catalog[rec.LessonID]; !ok {
		return nil, progress.ErrUnknownReference
	}
	m.s.records[recordKey(rec.SubjectID, rec.LessonID)] = rec
	return &rec, nil
}

func (m memProgress) ListForSubject(_ context.Context, subjectID string) ([]progress.Record, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []progress.Record
	for _, rec := range m.s.records {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

func (m memProgress) Get(_ context.Context, subjectID, lessonID string) (*progress.Record, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rec, ok := m.s.records[recordKey(subjectID, lessonID)]
	if !ok {
		return nil, progress.ErrNotFound
	}
	return &rec, nil
}

type memEnrollment struct{ s *memoryState }

func (m memEnrollment) WithTx(ctx context.Context, fn func(context.Context, enrollment.TxRepository) error) error {
	return fn(ctx, memTx{s: m.s})
}

type memTx struct{ s *memoryState }

func (m memTx) UpsertPrincipal(_ context.Context, p accounts.Principal) (*accounts.Principal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existingID, ok := m.s.byEmail[p.Email]; ok {
		existing := m.s.users[existingID]
		existing.Name = p.Name
		existing.PasswordHash = p.PasswordHash
		existing.UpdatedAt = time.Now().UTC()
		m.s.users[existingID] = existing
		return &existing, nil
	}
	p.Role = capability.RoleStudent
	p.Active = true
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.s.users[p.ID] = p
	m.s.byEmail[p.Email] = p.ID
	return &p, nil
}

func (m memTx) LessonIDs(_ context.Context) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var all []lessons.Lesson
	for _, l := range m.s.catalog {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Position < all[j].Position })
	ids := make([]string, len(all))
	for i, l := range all {
		ids[i] = l.ID
	}
	return ids, nil
}

func (m memTx) InitProgress(_ context.Context, subjectID string, lessonIDs []string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	created := 0
	for _, lessonID := range lessonIDs {
		key := recordKey(subjectID, lessonID)
		if _, ok := m.s.records[key]; ok {
			continue
		}
		m.s.records[key] = progress.Record{
			SubjectID: subjectID,
			LessonID:  lessonID,
			Completed: false,
			UpdatedAt: time.Now().UTC(),
		}
		created++
	}
	return created, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.DecisionLog
}

func (r *recordingAudit) Record(_ context.Context, entry shared.DecisionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) count(decision string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Decision == decision {
			n++
		}
	}
	return n
}

type recordingMailer struct {
	mu       sync.Mutex
	welcomes []string
}

func (m *recordingMailer) EnqueueWelcome(_ context.Context, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, email)
	return nil
}

func newLearnerApp(t *testing.T) (http.Handler, *memoryState, *recordingAudit, *recordingMailer) {
	t.Helper()
	state := newMemoryState()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := token.NewService(token.Config{Secret: "e2e-secret", Issuer: "meridian-test", TTL: time.Hour})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	audit := &recordingAudit{}
	pipeline := gateway.NewPipeline(tokens, audit, nil, logger)

	accountsService := accounts.NewService(memAccounts{s: state}, tokens)
	lessonsService := lessons.NewService(memLessons{s: state}, nil, logger)
	progressService := progress.NewService(memProgress{s: state}, nil)
	mailer := &recordingMailer{}
	enrollmentService := enrollment.NewService(memEnrollment{s: state}, mailer, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            &app.Config{AppEnv: "test"},
		AccountsHandler:   accounts.NewHandler(logger, accountsService, pipeline),
		EnrollmentHandler: enrollment.NewHandler(logger, enrollmentService),
		LessonsHandler:    lessons.NewHandler(logger, lessonsService, pipeline),
		ProgressHandler:   progress.NewHandler(logger, progressService, pipeline),
	})
	return router, state, audit, mailer
}

func seedLesson(state *memoryState, id, title string, position int) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.catalog[id] = lessons.Lesson{
		ID:        id,
		Title:     title,
		Slug:      lessons.Slugify(title),
		Position:  position,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLearnerEnrollLoginSyncFlow(t *testing.T) {
	router, state, audit, mailer := newLearnerApp(t)

	seedLesson(state, "11111111-1111-1111-1111-111111111111", "Getting Started", 1)
	seedLesson(state, "22222222-2222-2222-2222-222222222222", "Variables and Types", 2)

	res := doRequest(t, router, http.MethodPost, "/enroll", "",
		`{"name":"Leo Tanaka","email":"leo@example.com","password":"correct horse battery"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("enroll: expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	var enrolled struct {
		Principal           accounts.Principal `json:"principal"`
		ProgressInitialized int                `json:"progress_initialized"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &enrolled); err != nil {
		t.Fatalf("decode enroll response: %v", err)
	}
	if enrolled.ProgressInitialized != 2 {
		t.Fatalf("expected 2 initialized records, got %d", enrolled.ProgressInitialized)
	}
	if enrolled.Principal.Role != capability.RoleStudent {
		t.Fatalf("expected STUDENT role, got %s", enrolled.Principal.Role)
	}
	subjectID := enrolled.Principal.ID

	mailer.mu.Lock()
	welcomes := len(mailer.welcomes)
	mailer.mu.Unlock()
	if welcomes != 1 {
		t.Fatalf("expected 1 welcome email, got %d", welcomes)
	}

	res = doRequest(t, router, http.MethodPost, "/auth/login", "",
		`{"email":"leo@example.com","password":"correct horse battery"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a token")
	}

	res = doRequest(t, router, http.MethodGet, "/lessons", "", "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous catalog read: expected 401, got %d", res.Code)
	}

	res = doRequest(t, router, http.MethodGet, "/lessons", login.Token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("catalog read: expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	var catalog struct {
		Data []lessons.Lesson `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(catalog.Data) != 2 {
		t.Fatalf("expected 2 lessons, got %d", len(catalog.Data))
	}

	// An offline client replays the same completion twice; both attempts
	// succeed and the record converges instead of duplicating.
	syncBody := fmt.Sprintf(`{"lesson_id":%q,"completed":true,"score":91}`, catalog.Data[0].ID)
	for attempt := 0; attempt < 2; attempt++ {
		res = doRequest(t, router, http.MethodPut, "/progress/sync", login.Token, syncBody)
		if res.Code != http.StatusOK {
			t.Fatalf("sync attempt %d: expected 200, got %d body=%s", attempt, res.Code, res.Body.String())
		}
	}

	res = doRequest(t, router, http.MethodGet, "/progress/"+subjectID, login.Token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("progress read: expected 200, got %d body=%s", res.Code, res.Body.String())
	}
	var listing struct {
		Data []progress.Record `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if len(listing.Data) != 2 {
		t.Fatalf("expected 2 records, got %d", len(listing.Data))
	}
	var synced *progress.Record
	for i := range listing.Data {
		if listing.Data[i].LessonID == catalog.Data[0].ID {
			synced = &listing.Data[i]
		}
	}
	if synced == nil || !synced.Completed || synced.Score == nil || *synced.Score != 91 {
		t.Fatalf("expected converged completion with score 91, got %+v", synced)
	}

	res = doRequest(t, router, http.MethodDelete, "/lessons/"+catalog.Data[0].ID, login.Token, "")
	if res.Code != http.StatusForbidden {
		t.Fatalf("student delete: expected 403, got %d", res.Code)
	}

	if audit.count(shared.DecisionDeny) < 2 {
		t.Fatalf("expected the anonymous read and the forbidden delete in the audit trail, got %d denies", audit.count(shared.DecisionDeny))
	}
	if audit.count(shared.DecisionAllow) == 0 {
		t.Fatal("expected allowed requests in the audit trail")
	}
}

func TestReEnrollKeepsExistingProgress(t *testing.T) {
	router, state, _, _ := newLearnerApp(t)

	lessonID := "11111111-1111-1111-1111-111111111111"
	seedLesson(state, lessonID, "Getting Started", 1)

	body := `{"name":"Mia Silva","email":"mia@example.com","password":"a long password"}`
	res := doRequest(t, router, http.MethodPost, "/enroll", "", body)
	if res.Code != http.StatusOK {
		t.Fatalf("enroll: expected 200, got %d", res.Code)
	}
	var first struct {
		Principal           accounts.Principal `json:"principal"`
		ProgressInitialized int                `json:"progress_initialized"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.ProgressInitialized != 1 {
		t.Fatalf("expected 1 initialized record, got %d", first.ProgressInitialized)
	}

	// Complete the lesson between the two enrollments; the retry must not
	// reset it back to the blank initial record.
	res = doRequest(t, router, http.MethodPost, "/auth/login", "",
		`{"email":"mia@example.com","password":"a long password"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", res.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	res = doRequest(t, router, http.MethodPut, "/progress/sync", login.Token,
		fmt.Sprintf(`{"lesson_id":%q,"completed":true,"score":88}`, lessonID))
	if res.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	res = doRequest(t, router, http.MethodPost, "/enroll", "", body)
	if res.Code != http.StatusOK {
		t.Fatalf("re-enroll: expected 200, got %d", res.Code)
	}
	var second struct {
		Principal           accounts.Principal `json:"principal"`
		ProgressInitialized int                `json:"progress_initialized"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Principal.ID != first.Principal.ID {
		t.Fatal("re-enrollment must keep the same principal")
	}
	if second.ProgressInitialized != 0 {
		t.Fatalf("expected no new records on re-enroll, got %d", second.ProgressInitialized)
	}

	res = doRequest(t, router, http.MethodGet, "/progress/"+first.Principal.ID, login.Token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("progress read: expected 200, got %d", res.Code)
	}
	var listing struct {
		Data []progress.Record `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if len(listing.Data) != 1 {
		t.Fatalf("expected 1 record, got %d", len(listing.Data))
	}
	if rec := listing.Data[0]; !rec.Completed || rec.Score == nil || *rec.Score != 88 {
		t.Fatalf("re-enrollment reset the synced record: %+v", rec)
	}
}
