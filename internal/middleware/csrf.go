package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dashboard/internal/model"
)

const (
	// CSRFCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	CSRFCookieName = "csrftoken"

	// CSRFHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFFormField はフォーム送信時にCSRFトークンを読み取るフィールド名。
	CSRFFormField = "csrfmiddlewaretoken"
)

// TokenIssuer はセッション単位のCSRFトークンを取得または発行するインターフェース。
// auth.TokenIssuerが実装する。
type TokenIssuer interface {
	GetOrCreate(ctx context.Context, session *model.Session) (string, error)
}

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	CookieMaxAge int // 秒
}

// NewCSRFCookieMiddleware はすべてのレスポンスにCSRFトークンCookieを付与するミドルウェアを返す。
// ハンドラーの実行前にトークンを取得または発行し、同じセッションでは常に同じ値を設定する。
// レスポンスのボディとステータスは変更しない。
func NewCSRFCookieMiddleware(issuer TokenIssuer, config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ensureCSRFToken(r, issuer)
			if token != "" {
				setCSRFCookie(w, token, config)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFVerifyMiddleware は状態変更メソッドのCSRFトークンを検証するミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップする。
// 期待値はセッションのトークン（セッションがない場合はCookie）で、
// X-CSRF-Tokenヘッダーまたはcsrfmiddlewaretokenフォームフィールドと照合する。
func NewCSRFVerifyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			expected := expectedCSRFToken(r)
			if expected == "" {
				slog.Warn("CSRF validation failed: no token issued",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, model.NewCSRFFailedError())
				return
			}

			received := r.Header.Get(CSRFHeaderName)
			if received == "" {
				received = r.PostFormValue(CSRFFormField)
			}
			if received == "" {
				slog.Warn("CSRF validation failed: missing request token",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, model.NewCSRFFailedError())
				return
			}

			if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
				slog.Warn("CSRF validation failed: token mismatch",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, model.NewCSRFFailedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ensureCSRFToken はリクエストに対応するCSRFトークンを返す。
// セッションがあればTokenIssuerに委譲し、なければ既存Cookieを再利用するか新規生成する。
// 発行に失敗した場合は空文字を返す。
func ensureCSRFToken(r *http.Request, issuer TokenIssuer) string {
	if session, err := SessionFromContext(r.Context()); err == nil {
		token, err := issuer.GetOrCreate(r.Context(), session)
		if err != nil {
			slog.Error("failed to issue CSRF token",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
			)
			return ""
		}
		return token
	}

	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return ""
	}
	return token
}

// expectedCSRFToken は検証時の期待値を返す。
func expectedCSRFToken(r *http.Request) string {
	if session, err := SessionFromContext(r.Context()); err == nil {
		return session.CSRFToken
	}
	if cookie, err := r.Cookie(CSRFCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func setCSRFCookie(w http.ResponseWriter, token string, config CSRFConfig) {
	maxAge := config.CookieMaxAge
	if maxAge == 0 {
		maxAge = 365 * 24 * 60 * 60
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: false, // フロントエンドから読み取り可能
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
