package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dashboard/internal/model"
)

// LoginRateLimiterConfig はログイン試行のレート制限設定を保持する。
type LoginRateLimiterConfig struct {
	Rate            rate.Limit    // ログイン試行のレート（req/sec）
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultLoginRateLimiterConfig はデフォルトのレート制限設定を返す。
// 1分あたり attemptsPerMinute 回までのログイン試行をクライアントIPごとに許可する。
func DefaultLoginRateLimiterConfig(attemptsPerMinute int) LoginRateLimiterConfig {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 10
	}
	return LoginRateLimiterConfig{
		Rate:            rate.Limit(float64(attemptsPerMinute) / 60.0),
		Burst:           attemptsPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginRateLimiter はクライアントIPごとのログイン試行回数を制限する。
type LoginRateLimiter struct {
	config LoginRateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	onLimited func()
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewLoginRateLimiter は新しいLoginRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
// onLimitedは制限超過時に呼び出され、nilでもよい。
func NewLoginRateLimiter(config LoginRateLimiterConfig, onLimited func()) *LoginRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &LoginRateLimiter{
		config:    config,
		limiters:  make(map[string]*clientLimiter),
		onLimited: onLimited,
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出してもよい。
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はログインエンドポイント用のレート制限ミドルウェアを返す。
// POST以外のリクエストは制限対象外とし、ハンドラーのメソッド検証に委ねる。
func (rl *LoginRateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !rl.getOrCreateLimiter(ip).Allow() {
				slog.Warn("login rate limit exceeded",
					slog.String("client_ip", ip),
				)
				if rl.onLimited != nil {
					rl.onLimited()
				}
				writeRateLimitResponse(w, rl.config.Rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *LoginRateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *LoginRateLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, exists := rl.limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (rl *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *LoginRateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// ClientIP はリクエスト元のIPアドレスを返す。
// 信頼済みプロキシ経由の場合はNewTrustedProxyMiddlewareが設定したアドレスを返す。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, model.NewTooManyAttemptsError())
}
