package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsMaxAge はプリフライト結果をブラウザにキャッシュさせる秒数。
const corsMaxAge = 86400

// NewCORSMiddleware はダッシュボードのフロントエンドを配信する単一オリジンに
// Cookie付きのクロスオリジン要求を許可するミドルウェアを返す。
// allowedOriginが空の場合はCORSヘッダーを付与しない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	if allowedOrigin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:       []string{allowedOrigin},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type", CSRFHeaderName},
		AllowCredentials:     true,
		MaxAge:               corsMaxAge,
		OptionsSuccessStatus: http.StatusNoContent,
	})
}
