// Package auth はパスワード認証、セッション管理、CSRFトークン発行を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/dashboard/internal/model"
)

// UserFinder はユーザー名によるユーザー検索インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// timingDummyHash は存在しないユーザーに対しても比較処理を行うためのハッシュを返す。
// ユーザー名の存在有無が応答時間から推測されないようにする。
func timingDummyHash() []byte {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("dashboard-dummy-password"), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("failed to generate dummy hash", slog.String("error", err.Error()))
			return
		}
		dummyHash = h
	})
	return dummyHash
}

// PasswordAuthenticator はユーザーストアとbcryptハッシュで認証情報を検証する。
type PasswordAuthenticator struct {
	users UserFinder
}

// NewPasswordAuthenticator はPasswordAuthenticatorを生成する。
func NewPasswordAuthenticator(users UserFinder) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users}
}

// Authenticate は認証情報を検証し、結果を返す。
// ユーザー名またはパスワードが未指定の場合、ユーザーが存在しない場合、
// パスワードが一致しない場合、無効化されたユーザーの場合はIdentityがnilの結果を返す。
// ユーザーストアの障害のみerrorとして返す。
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, creds model.Credentials) (model.AuthResult, error) {
	if creds.Username == nil || creds.Password == nil || *creds.Username == "" {
		return model.AuthResult{}, nil
	}

	user, err := a.users.FindByUsername(ctx, *creds.Username)
	if err != nil {
		return model.AuthResult{}, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		if h := timingDummyHash(); h != nil {
			_ = bcrypt.CompareHashAndPassword(h, []byte(*creds.Password))
		}
		return model.AuthResult{}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(*creds.Password)); err != nil {
		return model.AuthResult{}, nil
	}

	if !user.IsActive {
		slog.Info("login rejected for inactive user", slog.String("user_id", user.ID))
		return model.AuthResult{}, nil
	}

	return model.AuthResult{Identity: user}, nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
