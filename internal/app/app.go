// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dashboard/internal/auth"
	"github.com/hitoshi/dashboard/internal/config"
	"github.com/hitoshi/dashboard/internal/database"
	"github.com/hitoshi/dashboard/internal/handler"
	"github.com/hitoshi/dashboard/internal/logger"
	"github.com/hitoshi/dashboard/internal/metrics"
	"github.com/hitoshi/dashboard/internal/middleware"
	"github.com/hitoshi/dashboard/internal/user"
	"github.com/hitoshi/dashboard/internal/worker/cleanup"
)

// stdin はcreateuserがパスワードを読み取る入力。テストで差し替える。
var stdin io.Reader = os.Stdin

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. .envを読み込む（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定された場合に反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		direction, err := ParseMigrateDirection(args)
		if err != nil {
			return err
		}
		return runMigrate(cfg, direction)
	case CommandCreateUser:
		opts, err := ParseCreateUserArgs(args, w)
		if err != nil {
			return err
		}
		return runCreateUser(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 永続化層
	s, err := openStores(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. 認証コンポーネント
	authenticator := auth.NewPasswordAuthenticator(s.users)
	sessionManager := auth.NewSessionManager(s.sessions, auth.SessionManagerConfig{
		MaxAge: cfg.SessionMaxAge,
	}, collector, auth.WithLoginRecorder(s.users))
	tokenIssuer := auth.NewTokenIssuer(s.sessions, collector)

	loginLimiter := middleware.NewLoginRateLimiter(
		middleware.DefaultLoginRateLimiterConfig(cfg.LoginRateLimit),
		func() { collector.RecordLoginAttempt(metrics.LoginResultRateLimited) },
	)
	defer loginLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		SessionLoader: sessionManager,
		TokenIssuer:   tokenIssuer,
		SessionCookie: middleware.SessionCookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRFEnforce:       cfg.CSRFEnforce,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustedProxies:    cfg.TrustedProxies,
		LoginRateLimiter:  loginLimiter,
		Logger:            slog.Default(),

		Authenticator: authenticator,
		Sessions:      sessionManager,
		Users:         s.users,

		HealthCheckers: s.health,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.Bool("csrf_enforce", cfg.CSRFEnforce),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを一定間隔で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// メトリクスの公開ポートが未設定の場合は記録しない
	collector := metrics.Nop()
	if cfg.WorkerMetricsPort != "" {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)

		server := newWorkerMetricsServer(":"+cfg.WorkerMetricsPort, reg)
		go func() {
			slog.Info("worker metrics server starting", slog.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("worker metrics server shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}
	job := cleanup.NewCleanupJob(s.sessions, slog.Default(), collector)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカーの/metricsのみを公開するHTTPサーバーを返す。
func newWorkerMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", string(direction)),
	)

	switch direction {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("rolled back one migration")
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runCreateUser はユーザーを作成する。-updateの場合は既存ユーザーのパスワードを変更する。
func runCreateUser(cfg *config.Config, opts CreateUserOptions) error {
	ctx := context.Background()

	if opts.ChangesStatus() {
		s, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		return user.NewService(s.users, auth.HashPassword).SetActive(ctx, opts.Username, opts.Activate)
	}

	password, err := readPassword(opts)
	if err != nil {
		return err
	}

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	svc := user.NewService(s.users, auth.HashPassword)
	if opts.Update {
		return svc.SetPassword(ctx, opts.Username, password)
	}
	_, err = svc.CreateUser(ctx, opts.Username, password)
	return err
}

// readPassword は標準入力の1行目またはDASHBOARD_PASSWORD環境変数からパスワードを取得する。
func readPassword(opts CreateUserOptions) (string, error) {
	if !opts.PasswordStdin {
		if p := os.Getenv("DASHBOARD_PASSWORD"); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("password is required: set DASHBOARD_PASSWORD or pass -password-stdin")
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required on stdin")
	}
	return password, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
