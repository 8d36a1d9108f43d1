package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dashboard/internal/metrics"
	"github.com/hitoshi/dashboard/internal/model"
	"github.com/hitoshi/dashboard/internal/repository"
)

// SessionManagerConfig はセッション管理の設定。
type SessionManagerConfig struct {
	MaxAge int // セッション有効期間（秒）
}

// LoginRecorder はログイン成功時に最終ログイン日時を記録する。
// repository.UserRepositoryが実装する。
type LoginRecorder interface {
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionManager はセッションの開始、ログイン、ログアウトを管理する。
// セッションは呼び出し側が保持する*model.Sessionとして受け渡し、
// 変更はその場で反映したうえでストアに永続化する。
type SessionManager struct {
	store   repository.SessionRepository
	config  SessionManagerConfig
	metrics metrics.MetricsCollector
	logins  LoginRecorder
	now     func() time.Time
}

// SessionManagerOption はSessionManagerの任意設定。
type SessionManagerOption func(*SessionManager)

// WithLoginRecorder はログイン成功時に最終ログイン日時を記録する先を設定する。
func WithLoginRecorder(r LoginRecorder) SessionManagerOption {
	return func(m *SessionManager) {
		m.logins = r
	}
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(store repository.SessionRepository, config SessionManagerConfig, collector metrics.MetricsCollector, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		store:   store,
		config:  config,
		metrics: metrics.OrNop(collector),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start は未ログインの新しいセッションを作成し永続化する。
func (m *SessionManager) Start(ctx context.Context) (*model.Session, error) {
	id, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        id,
		ExpiresAt: now.Add(m.maxAge()),
		CreatedAt: now,
	}

	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.RecordSessionCreated()
	return session, nil
}

// Load は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (m *SessionManager) Load(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	session, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Login はセッションに認証済みユーザーを紐付ける。
// セッション固定攻撃を防ぐためセッションIDを再発行し、旧セッションは削除する。
// CSRFトークンは新しいセッションに引き継ぐ。
// LoginRecorderが設定されていればユーザーの最終ログイン日時を更新する。
func (m *SessionManager) Login(ctx context.Context, session *model.Session, user *model.User) error {
	if session == nil || user == nil {
		return fmt.Errorf("session and user are required")
	}

	newID, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	userID := user.ID
	next := &model.Session{
		ID:        newID,
		UserID:    &userID,
		CSRFToken: session.CSRFToken,
		ExpiresAt: now.Add(m.maxAge()),
		CreatedAt: now,
	}

	if err := m.store.Create(ctx, next); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	oldID := session.ID
	if oldID != "" {
		if err := m.store.DeleteByID(ctx, oldID); err != nil {
			// 新セッションは作成済みのため、旧セッションの削除失敗はログのみ
			slog.Error("failed to delete previous session",
				slog.String("error", err.Error()),
			)
		}
	}

	*session = *next

	if m.logins != nil {
		// ログイン自体は成立しているため、記録失敗はログのみ
		if err := m.logins.UpdateLastLogin(ctx, userID, now); err != nil {
			slog.Error("failed to record last login",
				slog.String("error", err.Error()),
				slog.String("user_id", userID),
			)
		} else {
			at := now
			user.LastLoginAt = &at
		}
	}

	slog.Info("user logged in",
		slog.String("user_id", userID),
		slog.String("username", user.Username),
	)
	return nil
}

// Logout はセッションを破棄し、未ログイン状態に戻す。
// ストアからは削除し、呼び出し側のセッションはユーザーとIDをクリアする。
func (m *SessionManager) Logout(ctx context.Context, session *model.Session) error {
	if session == nil || session.ID == "" {
		return nil
	}

	if err := m.store.DeleteByID(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if session.UserID != nil {
		slog.Info("user logged out", slog.String("user_id", *session.UserID))
		m.metrics.RecordLogout()
	}

	session.ID = ""
	session.UserID = nil
	session.CSRFToken = ""
	return nil
}

// IsAuthenticated はセッションがログイン済みかどうかを返す。副作用はない。
func (m *SessionManager) IsAuthenticated(session *model.Session) bool {
	return session.IsAuthenticated()
}

func (m *SessionManager) maxAge() time.Duration {
	if m.config.MaxAge <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(m.config.MaxAge) * time.Second
}
