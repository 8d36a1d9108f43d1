package model

import "time"

// Session はクライアントとサーバー側状態を結び付けるセッションを表す。
// 未ログインのセッションは UserID がnil。
// CSRFToken は一度発行されたらセッションの存続期間中は再利用される。
type Session struct {
	ID        string
	UserID    *string
	CSRFToken string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAuthenticated はセッションにログイン済みユーザーが紐付いているかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != nil && *s.UserID != ""
}

// Expired は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
