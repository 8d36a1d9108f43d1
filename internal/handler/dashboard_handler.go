// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/dashboard/internal/metrics"
	"github.com/hitoshi/dashboard/internal/middleware"
	"github.com/hitoshi/dashboard/internal/model"
)

// maxLoginBodyBytes はログインリクエストボディの上限サイズ。
const maxLoginBodyBytes = 1 << 20

//go:embed templates/*.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

// Authenticator は資格情報を検証するインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials) (model.AuthResult, error)
}

// SessionController はセッションのログイン状態を遷移させるインターフェース。
type SessionController interface {
	Login(ctx context.Context, session *model.Session, user *model.User) error
	Logout(ctx context.Context, session *model.Session) error
	IsAuthenticated(session *model.Session) bool
}

// UserLookup はダッシュボード表示用にユーザーを取得するインターフェース。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// DashboardHandler はダッシュボード、ログイン、ログアウト、ログイン状態確認のHTTPハンドラー。
type DashboardHandler struct {
	authenticator Authenticator
	sessions      SessionController
	users         UserLookup
	cookie        middleware.SessionCookieConfig
	metrics       metrics.MetricsCollector
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(
	authenticator Authenticator,
	sessions SessionController,
	users UserLookup,
	cookie middleware.SessionCookieConfig,
	collector metrics.MetricsCollector,
) *DashboardHandler {
	return &DashboardHandler{
		authenticator: authenticator,
		sessions:      sessions,
		users:         users,
		cookie:        cookie,
		metrics:       metrics.OrNop(collector),
	}
}

// sessionHandlerFunc はセッションを明示的な引数として受け取るハンドラー関数。
type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, session *model.Session)

// withSession はコンテキストのセッションを取り出してハンドラーに渡すアダプター。
// セッションミドルウェアの内側でのみ使用する。
func withSession(fn sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := middleware.SessionFromContext(r.Context())
		if err != nil {
			slog.Error("session missing from request context",
				slog.String("path", r.URL.Path),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		fn(w, r, session)
	}
}

// dashboardPage はダッシュボードテンプレートに渡す値。
type dashboardPage struct {
	Authenticated bool
	Username      string
	CSRFToken     string
}

// Dashboard はダッシュボードページを描画する。
// GET /
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request, session *model.Session) {
	page := dashboardPage{CSRFToken: session.CSRFToken}

	if h.sessions.IsAuthenticated(session) && h.users != nil {
		user, err := h.users.FindByID(r.Context(), *session.UserID)
		if err != nil {
			slog.Error("failed to find user for dashboard",
				slog.String("error", err.Error()),
				slog.String("user_id", *session.UserID),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		if user == nil {
			// ユーザーが削除済みのセッションはログアウト状態に戻す
			slog.Warn("session user not found, logging out",
				slog.String("user_id", *session.UserID),
			)
			if err := h.sessions.Logout(r.Context(), session); err != nil {
				slog.Error("failed to logout orphaned session", slog.String("error", err.Error()))
			}
			middleware.ClearSessionCookie(w, h.cookie)
		} else {
			page.Authenticated = true
			page.Username = user.Username
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := dashboardTemplate.Execute(w, page); err != nil {
		slog.Error("failed to render dashboard", slog.String("error", err.Error()))
	}
}

// loginRequest はJSONログインリクエストのボディ。
// 欠落したフィールドはnilのまま残る。
type loginRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// loginResponse はログイン結果のレスポンスボディ。
type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// loginStatusResponse はログイン状態確認のレスポンスボディ。
type loginStatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
}

// Login は資格情報を検証し、成功した場合にセッションをログイン状態にする。
// POST /login
func (h *DashboardHandler) Login(w http.ResponseWriter, r *http.Request, session *model.Session) {
	if r.Method != http.MethodPost {
		middleware.WriteErrorResponse(w, model.NewInvalidRequestMethodError())
		return
	}

	creds, err := parseCredentials(w, r)
	if err != nil {
		slog.Warn("invalid login request body",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, model.NewInvalidRequestBodyError())
		return
	}

	result, err := h.authenticator.Authenticate(r.Context(), creds)
	if err != nil {
		slog.Error("failed to authenticate",
			slog.String("error", err.Error()),
		)
		h.metrics.RecordLoginAttempt(metrics.LoginResultError)
		middleware.WriteInternalServerError(w)
		return
	}

	if !result.OK() {
		h.metrics.RecordLoginAttempt(metrics.LoginResultInvalid)
		middleware.WriteErrorResponse(w, model.NewInvalidCredentialsError())
		return
	}

	if err := h.sessions.Login(r.Context(), session, result.Identity); err != nil {
		slog.Error("failed to log in session",
			slog.String("error", err.Error()),
			slog.String("user_id", result.Identity.ID),
		)
		h.metrics.RecordLoginAttempt(metrics.LoginResultError)
		middleware.WriteInternalServerError(w)
		return
	}

	// ログインでセッションIDが変わるためCookieを書き換える
	middleware.WriteSessionCookie(w, session, h.cookie)
	h.metrics.RecordLoginAttempt(metrics.LoginResultSuccess)

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: model.MsgLoginSuccessful,
	})
}

// CheckLoginStatus はセッションがログイン済みかどうかを返す。
// GET /check-login-status/
func (h *DashboardHandler) CheckLoginStatus(w http.ResponseWriter, r *http.Request, session *model.Session) {
	writeJSON(w, http.StatusOK, loginStatusResponse{
		IsAuthenticated: h.sessions.IsAuthenticated(session),
	})
}

// Logout はセッションを終了し、ダッシュボードにリダイレクトする。
// GET|POST /logout/
func (h *DashboardHandler) Logout(w http.ResponseWriter, r *http.Request, session *model.Session) {
	if err := h.sessions.Logout(r.Context(), session); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	middleware.ClearSessionCookie(w, h.cookie)
	http.Redirect(w, r, "/", http.StatusFound)
}

// parseCredentials はリクエストボディからユーザー名とパスワードを取り出す。
// JSONボディとフォーム（urlencoded / multipart）の両方を受け付ける。
func parseCredentials(w http.ResponseWriter, r *http.Request) (model.Credentials, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return model.Credentials{}, err
		}
		return model.Credentials{Username: req.Username, Password: req.Password}, nil
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxLoginBodyBytes); err != nil {
			return model.Credentials{}, err
		}
	} else if err := r.ParseForm(); err != nil {
		return model.Credentials{}, err
	}

	return model.Credentials{
		Username: formValue(r, "username"),
		Password: formValue(r, "password"),
	}, nil
}

// formValue はPOSTフォームの値を返す。フィールドがない場合はnil。
func formValue(r *http.Request, key string) *string {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", slog.String("error", err.Error()))
	}
}
