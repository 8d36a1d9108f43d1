// Package model はドメインモデルを定義する。
package model

import "time"

// User はダッシュボードにログインできるユーザーを表す。
// PasswordHash はbcryptでハッシュ化された値を保持する。
// IsActive がfalseのユーザーはログインできない。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time // 未ログインの場合はnil
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credentials はログインリクエストで受け取った認証情報を表す。
// フィールドが送信されなかった場合はnilになる。永続化しない。
type Credentials struct {
	Username *string
	Password *string
}

// AuthResult は1回のログイン試行の結果を表す。
// Identity がnilの場合は認証失敗を意味する。
type AuthResult struct {
	Identity *User
}

// OK は認証に成功したかどうかを返す。
func (r AuthResult) OK() bool {
	return r.Identity != nil
}
