package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/dashboard/internal/metrics"
	"github.com/hitoshi/dashboard/internal/model"
)

// SessionUpdater はセッション更新インターフェース。
type SessionUpdater interface {
	Update(ctx context.Context, session *model.Session) error
}

// TokenIssuer はセッション単位のCSRFトークンを発行する。
type TokenIssuer struct {
	store   SessionUpdater
	metrics metrics.MetricsCollector
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(store SessionUpdater, collector metrics.MetricsCollector) *TokenIssuer {
	return &TokenIssuer{
		store:   store,
		metrics: metrics.OrNop(collector),
	}
}

// GetOrCreate はセッションのCSRFトークンを返す。
// 未発行の場合のみ新規生成してセッションに保存する。発行済みのトークンは再生成しない。
func (t *TokenIssuer) GetOrCreate(ctx context.Context, session *model.Session) (string, error) {
	if session == nil {
		return "", fmt.Errorf("session is required")
	}
	if session.CSRFToken != "" {
		return session.CSRFToken, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	session.CSRFToken = token
	if err := t.store.Update(ctx, session); err != nil {
		session.CSRFToken = ""
		return "", fmt.Errorf("failed to save CSRF token: %w", err)
	}

	t.metrics.RecordCSRFTokenIssued()
	return token, nil
}
