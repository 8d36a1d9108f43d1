// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン試行結果のラベル値
const (
	LoginResultSuccess     = "success"
	LoginResultInvalid     = "invalid_credentials"
	LoginResultRateLimited = "rate_limited"
	LoginResultError       = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLoginAttempt(result string)
	RecordLogout()
	RecordSessionCreated()
	RecordCSRFTokenIssued()
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts    *prometheus.CounterVec
	logouts          prometheus.Counter
	sessionsCreated  prometheus.Counter
	csrfTokensIssued prometheus.Counter
	sessionsPurged   prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_logouts_total",
			Help: "ログアウトの合計数",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		csrfTokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_csrf_tokens_issued_total",
			Help: "新規発行されたCSRFトークンの合計数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.logouts,
		c.sessionsCreated,
		c.csrfTokensIssued,
		c.sessionsPurged,
		c.httpStatus,
	)

	return c
}

// RecordLoginAttempt はログイン試行を結果ラベル付きで記録する。
func (c *Collector) RecordLoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordCSRFTokenIssued はCSRFトークンの新規発行を記録する。
func (c *Collector) RecordCSRFTokenIssued() {
	c.csrfTokensIssued.Inc()
}

// RecordSessionsPurged は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type nopCollector struct{}

func (nopCollector) RecordLoginAttempt(string)  {}
func (nopCollector) RecordLogout()              {}
func (nopCollector) RecordSessionCreated()      {}
func (nopCollector) RecordCSRFTokenIssued()     {}
func (nopCollector) RecordSessionsPurged(int64) {}
func (nopCollector) RecordHTTPStatus(int)       {}

// Nop は何も記録しないMetricsCollectorを返す。
func Nop() MetricsCollector {
	return nopCollector{}
}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop()
	}
	return c
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
