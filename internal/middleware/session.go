// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dashboard/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionLoader はセッションの取得と新規作成に必要なインターフェース。
// auth.SessionManagerの部分集合として定義する。
type SessionLoader interface {
	Load(ctx context.Context, id string) (*model.Session, error)
	Start(ctx context.Context) (*model.Session, error)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // 秒
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取るミドルウェアを返す。
// Cookieがない、またはセッションが期限切れの場合は未ログインのセッションを新規作成し、
// Cookieを発行する。セッションはリクエストコンテキストに格納して後続に渡す。
func NewSessionMiddleware(loader SessionLoader, config SessionCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var session *model.Session

			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				session, err = loader.Load(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to load session",
						slog.String("error", err.Error()),
						slog.String("path", r.URL.Path),
					)
					WriteInternalServerError(w)
					return
				}
			}

			if session == nil {
				started, err := loader.Start(r.Context())
				if err != nil {
					slog.Error("failed to start session",
						slog.String("error", err.Error()),
						slog.String("path", r.URL.Path),
					)
					WriteInternalServerError(w)
					return
				}
				session = started
				WriteSessionCookie(w, session, config)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// WriteSessionCookie はセッションIDをHTTP Only Cookieとして設定する。
// ログインでセッションIDが再発行された場合にもハンドラーから呼び出す。
func WriteSessionCookie(w http.ResponseWriter, session *model.Session, config SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return session, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// UserIDFromContext はリクエストコンテキストのセッションからログイン済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, err := SessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	if !session.IsAuthenticated() {
		return "", fmt.Errorf("session is not authenticated")
	}
	return *session.UserID, nil
}
