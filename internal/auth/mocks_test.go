package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/dashboard/internal/model"
	"github.com/hitoshi/dashboard/internal/repository"
)

// --- モック定義 ---

type mockUserFinder struct {
	findByUsernameFn func(ctx context.Context, username string) (*model.User, error)
}

func (m *mockUserFinder) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, session *model.Session) error
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	updateFn        func(ctx context.Context, session *model.Session) error
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Update(ctx context.Context, session *model.Session) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockLoginRecorder struct {
	err   error
	calls int
	id    string
	at    time.Time
}

func (m *mockLoginRecorder) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.calls++
	m.id = id
	m.at = at
	return m.err
}

// memorySessionRepo はセッションをメモリ上に保持するテスト用リポジトリ。
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]model.Session)}
}

func (m *memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memorySessionRepo) Update(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return repository.ErrSessionNotFound
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func (m *memorySessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// --- compile-time interface checks ---
var _ UserFinder = (*mockUserFinder)(nil)
var _ LoginRecorder = (*mockLoginRecorder)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.SessionRepository = (*memorySessionRepo)(nil)

func strPtr(s string) *string {
	return &s
}
