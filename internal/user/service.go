// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/dashboard/internal/model"
	"github.com/hitoshi/dashboard/internal/repository"
)

const (
	maxUsernameLength = 150
	minPasswordLength = 8
)

var (
	// ErrInvalidUsername はユーザー名が空または長すぎる場合に返す。
	ErrInvalidUsername = errors.New("username must be 1-150 characters without surrounding whitespace")
	// ErrWeakPassword はパスワードが短すぎる場合に返す。
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrUserNotFound は対象ユーザーが存在しない場合に返す。
	ErrUserNotFound = errors.New("user not found")
)

// PasswordHasher はパスワードをハッシュ化する関数。auth.HashPasswordを渡す。
type PasswordHasher func(password string) (string, error)

// Service はユーザー管理のサービス層。
// ユーザーの作成、パスワード変更、有効・無効の切り替えを提供する。
type Service struct {
	userRepo repository.UserRepository
	hash     PasswordHasher
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, hash PasswordHasher) *Service {
	return &Service{
		userRepo: userRepo,
		hash:     hash,
		now:      time.Now,
	}
}

// CreateUser はユーザーを作成する。
// ユーザー名が既に使われている場合はrepository.ErrUsernameTakenを返す。
func (s *Service) CreateUser(ctx context.Context, username, password string) (*model.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// SetPassword は既存ユーザーのパスワードを変更する。
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	hash, err := s.hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("user password updated", slog.String("user_id", user.ID))
	return nil
}

// SetActive は既存ユーザーの有効・無効を切り替える。
// 無効化されたユーザーはパスワードが正しくてもログインできない。
func (s *Service) SetActive(ctx context.Context, username string, active bool) error {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := s.userRepo.SetActive(ctx, user.ID, active); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	slog.Info("user status updated",
		slog.String("user_id", user.ID),
		slog.Bool("active", active),
	)
	return nil
}

func validateUsername(username string) error {
	if username == "" || strings.TrimSpace(username) != username {
		return ErrInvalidUsername
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return ErrInvalidUsername
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return ErrWeakPassword
	}
	return nil
}
