package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/dashboard/internal/model"
)

func newRedisSessionRepoTest(t *testing.T) (*RedisSessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisSessionRepo(client, "test:session:"), mr
}

func newTestSession(id string) *model.Session {
	now := time.Now()
	return &model.Session{
		ID:        id,
		CSRFToken: "token-" + id,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestRedisSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*RedisSessionRepo)(nil)
}

func TestRedisSessionRepo_CreateAndFind_Anonymous(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("s-1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := repo.FindByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.UserID != nil {
		t.Errorf("UserID = %v, want nil", *got.UserID)
	}
	if got.CSRFToken != "token-s-1" {
		t.Errorf("CSRFToken = %q, want %q", got.CSRFToken, "token-s-1")
	}
}

func TestRedisSessionRepo_SetsTTLFromExpiry(t *testing.T) {
	repo, mr := newRedisSessionRepoTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("s-ttl")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	ttl := mr.TTL("test:session:s-ttl")
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}
}

func TestRedisSessionRepo_FindByID_Missing_ReturnsNil(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)

	got, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestRedisSessionRepo_FindByID_ExpiredKey_ReturnsNil(t *testing.T) {
	repo, mr := newRedisSessionRepoTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("s-old")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	got, err := repo.FindByID(ctx, "s-old")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if got != nil {
		t.Error("expired session should not be returned")
	}
}

func TestRedisSessionRepo_Update_PersistsUserAndToken(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)
	ctx := context.Background()

	session := newTestSession("s-2")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	userID := "user-42"
	session.UserID = &userID
	session.CSRFToken = "rotated"
	if err := repo.Update(ctx, session); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	got, err := repo.FindByID(ctx, "s-2")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if !got.IsAuthenticated() || *got.UserID != "user-42" {
		t.Errorf("UserID = %v, want user-42", got.UserID)
	}
	if got.CSRFToken != "rotated" {
		t.Errorf("CSRFToken = %q, want %q", got.CSRFToken, "rotated")
	}
}

func TestRedisSessionRepo_Update_Missing_ReturnsErrSessionNotFound(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)

	err := repo.Update(context.Background(), newTestSession("ghost"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRedisSessionRepo_Create_AlreadyExpired_ReturnsError(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)

	session := newTestSession("s-expired")
	session.ExpiresAt = time.Now().Add(-time.Minute)

	if err := repo.Create(context.Background(), session); err == nil {
		t.Error("expected error for already expired session")
	}
}

func TestRedisSessionRepo_DeleteByID_IsIdempotent(t *testing.T) {
	repo, mr := newRedisSessionRepoTest(t)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("s-3")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := repo.DeleteByID(ctx, "s-3"); err != nil {
		t.Fatalf("DeleteByID returned error: %v", err)
	}
	if mr.Exists("test:session:s-3") {
		t.Error("key should be deleted")
	}
	if err := repo.DeleteByID(ctx, "s-3"); err != nil {
		t.Errorf("second DeleteByID returned error: %v", err)
	}
}

func TestRedisSessionRepo_DeleteExpired_IsNoop(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)

	n, err := repo.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

func TestRedisSessionRepo_PingContext(t *testing.T) {
	repo, _ := newRedisSessionRepoTest(t)

	if err := repo.PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext returned error: %v", err)
	}
}

func TestNewRedisSessionRepo_DefaultPrefix(t *testing.T) {
	repo := NewRedisSessionRepo(nil, "")
	if got := repo.key("abc"); got != "dashboard:session:abc" {
		t.Errorf("key = %q, want %q", got, "dashboard:session:abc")
	}
}
