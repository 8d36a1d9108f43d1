package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/dashboard/internal/model"
)

// mockSessionLoader はSessionLoaderのモック実装。
type mockSessionLoader struct {
	loadFn  func(ctx context.Context, id string) (*model.Session, error)
	startFn func(ctx context.Context) (*model.Session, error)
}

func (m *mockSessionLoader) Load(ctx context.Context, id string) (*model.Session, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionLoader) Start(ctx context.Context) (*model.Session, error) {
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	return &model.Session{ID: "new-session", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// mockTokenIssuer はTokenIssuerのモック実装。
type mockTokenIssuer struct {
	getOrCreateFn func(ctx context.Context, session *model.Session) (string, error)
	calls         int
}

func (m *mockTokenIssuer) GetOrCreate(ctx context.Context, session *model.Session) (string, error) {
	m.calls++
	if m.getOrCreateFn != nil {
		return m.getOrCreateFn(ctx, session)
	}
	if session.CSRFToken == "" {
		session.CSRFToken = fmt.Sprintf("token-%d", m.calls)
	}
	return session.CSRFToken, nil
}

// memorySessions はセッションをメモリ上に保持するSessionLoader。
// ミドルウェアチェーンのテストで複数リクエストにまたがる状態を再現する。
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	seq      int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*model.Session)}
}

func (m *memorySessions) Load(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memorySessions) Start(_ context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s := &model.Session{
		ID:        fmt.Sprintf("session-%d", m.seq),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	copied := *s
	m.sessions[s.ID] = &copied
	return s, nil
}

// GetOrCreate はauth.TokenIssuerと同じくトークンが空のときだけ発行して保存する。
func (m *memorySessions) GetOrCreate(_ context.Context, session *model.Session) (string, error) {
	if session.CSRFToken != "" {
		return session.CSRFToken, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	session.CSRFToken = fmt.Sprintf("csrf-%d", m.seq)
	if stored, ok := m.sessions[session.ID]; ok {
		stored.CSRFToken = session.CSRFToken
	}
	return session.CSRFToken, nil
}

func strPtr(s string) *string { return &s }

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
