package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/dashboard/internal/model"
)

const defaultSessionKeyPrefix = "dashboard:session:"

// redisSessionRecord はRedisに保存するセッションのJSON表現。
type redisSessionRecord struct {
	ID        string  `json:"id"`
	UserID    *string `json:"user_id,omitempty"`
	CSRFToken string  `json:"csrf_token"`
	ExpiresAt int64   `json:"expires_at"`
	CreatedAt int64   `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLとして設定するため、期限切れセッションはRedis側で削除される。
type RedisSessionRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
// prefixが空の場合はデフォルトのキープレフィックスを使用する。
func NewRedisSessionRepo(client *redis.Client, prefix string) *RedisSessionRepo {
	if prefix == "" {
		prefix = defaultSessionKeyPrefix
	}
	return &RedisSessionRepo{client: client, prefix: prefix}
}

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, ttl, err := r.encode(session)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &model.Session{
		ID:        rec.ID,
		UserID:    rec.UserID,
		CSRFToken: rec.CSRFToken,
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
		CreatedAt: time.Unix(rec.CreatedAt, 0),
	}
	if session.Expired(time.Now()) {
		return nil, nil
	}
	return session, nil
}

// Update はセッションを上書きする。キーが存在しない場合はErrSessionNotFoundを返す。
func (r *RedisSessionRepo) Update(ctx context.Context, session *model.Session) error {
	data, ttl, err := r.encode(session)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, r.key(session.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はTTLによりRedis側で削除されるため何もしない。
func (r *RedisSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// PingContext はRedisへの疎通を確認する。ヘルスチェックで使用する。
func (r *RedisSessionRepo) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSessionRepo) key(id string) string {
	return r.prefix + id
}

func (r *RedisSessionRepo) encode(session *model.Session) ([]byte, time.Duration, error) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil, 0, fmt.Errorf("session %s is already expired", session.ID)
	}

	data, err := json.Marshal(redisSessionRecord{
		ID:        session.ID,
		UserID:    session.UserID,
		CSRFToken: session.CSRFToken,
		ExpiresAt: session.ExpiresAt.Unix(),
		CreatedAt: session.CreatedAt.Unix(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, ttl, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
