package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/dashboard/internal/metrics"
)

// accessLogMessage はアクセスログのメッセージ。
const accessLogMessage = "http_request"

// responseRecorder はハンドラーが書き込んだステータスコードとボディのバイト数を記録する。
// WriteHeaderが呼ばれずにWriteされた場合は200とみなす。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// statusCode は記録したステータスを返す。何も書き込まれていなければ200を返す。
func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// NewLoggingMiddleware はリクエストごとにJSON構造化のアクセスログを1行出力するミドルウェアを返す。
// 出力項目はmethod、path、status、bytes、duration_ms、client_ip、user_id（ログイン済みの場合）。
// ステータスコード別のレスポンス数をcollectorに記録する。collectorはnilでもよい。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	collector = metrics.OrNop(collector)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			collector.RecordHTTPStatus(status)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("client_ip", ClientIP(r)),
			}
			if userID, err := UserIDFromContext(r.Context()); err == nil && userID != "" {
				args = append(args, slog.String("user_id", userID))
			}

			logger.Log(r.Context(), levelForStatus(status), accessLogMessage, args...)
		})
	}
}

// levelForStatus は5xxをError、4xxをWarn、それ以外をInfoに対応付ける。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
