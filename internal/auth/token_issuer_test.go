package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/dashboard/internal/model"
)

func TestTokenIssuer_GetOrCreate_IssuesAndPersists(t *testing.T) {
	var saved *model.Session
	repo := &mockSessionRepo{
		updateFn: func(ctx context.Context, session *model.Session) error {
			copied := *session
			saved = &copied
			return nil
		},
	}
	issuer := NewTokenIssuer(repo, nil)

	session := &model.Session{ID: "s-1"}
	token, err := issuer.GetOrCreate(context.Background(), session)
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}

	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if session.CSRFToken != token {
		t.Error("token should be stored on the session")
	}
	if saved == nil || saved.CSRFToken != token {
		t.Error("token should be persisted to the store")
	}
}

func TestTokenIssuer_GetOrCreate_IsIdempotent(t *testing.T) {
	updates := 0
	repo := &mockSessionRepo{
		updateFn: func(ctx context.Context, session *model.Session) error {
			updates++
			return nil
		},
	}
	issuer := NewTokenIssuer(repo, nil)
	session := &model.Session{ID: "s-1"}

	first, err := issuer.GetOrCreate(context.Background(), session)
	if err != nil {
		t.Fatalf("first GetOrCreate returned error: %v", err)
	}
	second, err := issuer.GetOrCreate(context.Background(), session)
	if err != nil {
		t.Fatalf("second GetOrCreate returned error: %v", err)
	}

	if first != second {
		t.Errorf("tokens differ: %q vs %q", first, second)
	}
	if updates != 1 {
		t.Errorf("store updates = %d, want 1", updates)
	}
}

func TestTokenIssuer_GetOrCreate_ExistingToken_NoWrite(t *testing.T) {
	repo := &mockSessionRepo{
		updateFn: func(ctx context.Context, session *model.Session) error {
			t.Fatal("existing token should not be rewritten")
			return nil
		},
	}
	issuer := NewTokenIssuer(repo, nil)

	token, err := issuer.GetOrCreate(context.Background(), &model.Session{ID: "s", CSRFToken: "existing"})
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if token != "existing" {
		t.Errorf("token = %q, want %q", token, "existing")
	}
}

func TestTokenIssuer_GetOrCreate_StoreError_ClearsToken(t *testing.T) {
	repo := &mockSessionRepo{
		updateFn: func(ctx context.Context, session *model.Session) error {
			return errors.New("db down")
		},
	}
	issuer := NewTokenIssuer(repo, nil)
	session := &model.Session{ID: "s-1"}

	if _, err := issuer.GetOrCreate(context.Background(), session); err == nil {
		t.Fatal("expected error")
	}
	if session.CSRFToken != "" {
		t.Error("token should not remain on the session when persisting fails")
	}
}

func TestTokenIssuer_GetOrCreate_NilSession(t *testing.T) {
	issuer := NewTokenIssuer(&mockSessionRepo{}, nil)

	if _, err := issuer.GetOrCreate(context.Background(), nil); err == nil {
		t.Error("expected error for nil session")
	}
}
