package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dashboard/internal/metrics"
	"github.com/hitoshi/dashboard/internal/middleware"
)

// HealthChecker は依存先の疎通確認を行うインターフェース。
// *sql.DBやRedisセッションストアが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionLoader     middleware.SessionLoader
	TokenIssuer       middleware.TokenIssuer
	SessionCookie     middleware.SessionCookieConfig
	CSRF              middleware.CSRFConfig
	CSRFEnforce       bool
	CORSAllowedOrigin string
	TrustedProxies    []netip.Prefix
	LoginRateLimiter  *middleware.LoginRateLimiter
	Logger            *slog.Logger

	// 認証
	Authenticator Authenticator
	Sessions      SessionController
	Users         UserLookup

	// 運用
	HealthCheckers map[string]HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → TrustedProxy → Session → Logging → CSRFCookie (→ CSRFVerify)
//
// /health と /metrics はセッションを必要としないためセッショングループの外に配置する。
// ログにuser_idを含めるため、LoggingはSessionの内側に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthCheckers))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	h := NewDashboardHandler(deps.Authenticator, deps.Sessions, deps.Users, deps.SessionCookie, deps.Metrics)

	// --- セッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader, deps.SessionCookie))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
		r.Use(middleware.NewCSRFCookieMiddleware(deps.TokenIssuer, deps.CSRF))
		if deps.CSRFEnforce {
			r.Use(middleware.NewCSRFVerifyMiddleware())
		}

		r.Get("/", withSession(h.Dashboard))

		// メソッド検証はハンドラーで行い、POST以外には400を返す
		login := r.With()
		if deps.LoginRateLimiter != nil {
			login = r.With(deps.LoginRateLimiter.Middleware())
		}
		login.HandleFunc("/login", withSession(h.Login))

		r.Get("/check-login-status/", withSession(h.CheckLoginStatus))

		// CSRF検証が有効な場合、検証対象外のGETでのログアウトは受け付けない
		if !deps.CSRFEnforce {
			r.Get("/logout/", withSession(h.Logout))
		}
		r.Post("/logout/", withSession(h.Logout))
	})

	return r
}

// healthResponse はヘルスチェックのレスポンスボディ。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler は依存先へのPingを行い、すべて成功すれば200、失敗があれば503を返す。
func healthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK

		if len(checkers) > 0 {
			resp.Checks = make(map[string]string, len(checkers))
		}
		for name, checker := range checkers {
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		writeJSON(w, status, resp)
	}
}
