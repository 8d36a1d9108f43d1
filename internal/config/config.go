package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッションストアのバックエンド
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session
	SessionMaxAge          int
	SessionBackend         string
	RedisURL               string
	SessionCleanupInterval time.Duration

	// Login
	LoginRateLimit int // 1分あたりのクライアントIPごとの試行回数

	// CSRF
	CSRFEnforce bool

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	BaseURL           string
	WorkerMetricsPort string // 空の場合ワーカーはメトリクスを公開しない

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Proxy
	TrustedProxies []netip.Prefix // X-Forwarded-Forを信頼する接続元
}

// LoadDotEnv は指定された.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionBackendPostgres))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.SessionBackend == SessionBackendRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.SessionBackend != SessionBackendPostgres && cfg.SessionBackend != SessionBackendRedis {
		return nil, fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q",
			SessionBackendPostgres, SessionBackendRedis, cfg.SessionBackend)
	}

	// Optional fields with defaults
	// 0の場合はdatabaseパッケージのデフォルト値を使う
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 0)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 0)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 0)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.LoginRateLimit = getEnvInt("LOGIN_RATE_LIMIT", 10)

	// 0以下の値はエラーにする
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %v", cfg.SessionCleanupInterval)
	}
	if cfg.LoginRateLimit <= 0 {
		return nil, fmt.Errorf("LOGIN_RATE_LIMIT must be positive, got %d", cfg.LoginRateLimit)
	}

	cfg.CSRFEnforce = getEnvBool("CSRF_ENFORCE", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	return cfg, nil
}

// parseTrustedProxies はカンマ区切りのCIDRまたはIPアドレスの一覧をパースする。
// 単一のIPアドレスはホスト長のプレフィックスとして扱う。
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
