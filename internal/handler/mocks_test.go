package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/dashboard/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, creds model.Credentials) (model.AuthResult, error)
	lastCreds      model.Credentials
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, creds model.Credentials) (model.AuthResult, error) {
	m.lastCreds = creds
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, creds)
	}
	return model.AuthResult{}, nil
}

type mockSessionController struct {
	loginFn  func(ctx context.Context, session *model.Session, user *model.User) error
	logoutFn func(ctx context.Context, session *model.Session) error

	loginCalls  int
	logoutCalls int
}

func (m *mockSessionController) Login(ctx context.Context, session *model.Session, user *model.User) error {
	m.loginCalls++
	if m.loginFn != nil {
		return m.loginFn(ctx, session, user)
	}
	userID := user.ID
	session.ID = "rotated-" + session.ID
	session.UserID = &userID
	return nil
}

func (m *mockSessionController) Logout(ctx context.Context, session *model.Session) error {
	m.logoutCalls++
	if m.logoutFn != nil {
		return m.logoutFn(ctx, session)
	}
	session.ID = ""
	session.UserID = nil
	return nil
}

func (m *mockSessionController) IsAuthenticated(session *model.Session) bool {
	return session.IsAuthenticated()
}

type mockUserLookup struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserLookup) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// acceptAlice は alice / secret のみを受け付ける認証関数。
func acceptAlice(ctx context.Context, creds model.Credentials) (model.AuthResult, error) {
	if creds.Username != nil && creds.Password != nil && *creds.Username == "alice" && *creds.Password == "secret" {
		return model.AuthResult{Identity: &model.User{ID: "user-alice", Username: "alice"}}, nil
	}
	return model.AuthResult{}, nil
}

func strPtr(s string) *string { return &s }

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
