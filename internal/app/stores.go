package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/dashboard/internal/config"
	"github.com/hitoshi/dashboard/internal/database"
	"github.com/hitoshi/dashboard/internal/handler"
	"github.com/hitoshi/dashboard/internal/repository"
)

// stores はサーバーとワーカーが共有する永続化層。
// ユーザーは常にPostgreSQLに保存し、セッションはSESSION_BACKENDで選択する。
type stores struct {
	db       *sql.DB
	redis    *redis.Client
	users    repository.UserRepository
	sessions repository.SessionRepository
	health   map[string]handler.HealthChecker
}

// openStores はDB接続（と必要ならRedis接続）を開き、リポジトリを構築する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	s := &stores{
		db:     db,
		users:  repository.NewPostgresUserRepo(db),
		health: map[string]handler.HealthChecker{"postgres": db},
	}

	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		redisRepo := repository.NewRedisSessionRepo(client, "")
		if err := redisRepo.PingContext(ctx); err != nil {
			client.Close()
			db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		slog.Info("redis connection established")

		s.redis = client
		s.sessions = redisRepo
		s.health["redis"] = redisRepo
	default:
		s.sessions = repository.NewPostgresSessionRepo(db)
	}

	return s, nil
}

// Close は開いている接続をすべて閉じる。
func (s *stores) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}
