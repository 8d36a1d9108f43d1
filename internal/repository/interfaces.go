// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/dashboard/internal/model"
)

var (
	// ErrUsernameTaken はユーザー名が既に登録されている場合に返す。
	ErrUsernameTaken = errors.New("username already exists")
	// ErrSessionNotFound は更新対象のセッションが存在しない場合に返す。
	ErrSessionNotFound = errors.New("session not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複する場合はErrUsernameTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePasswordHash はユーザーのパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// UpdateLastLogin は最終ログイン日時を記録する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// SetActive はユーザーの有効・無効を切り替える。
	SetActive(ctx context.Context, id string, active bool) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Update はセッションのユーザー、CSRFトークン、有効期限を更新する。
	// 対象が存在しない場合はErrSessionNotFoundを返す。
	Update(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
