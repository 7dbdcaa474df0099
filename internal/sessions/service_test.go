package sessions

import (
	"context"
	"testing"
	"time"
)

func TestCreateAndValidateSession(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour)
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, "user-1", Meta{UserAgent: "test", IP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(sess.RefreshToken) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", sess.RefreshToken)
	}
	// validate
	got, err := svc.ValidateRefresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if got == nil || got.UserID != "user-1" {
		t.Fatalf("unexpected session: %v", got)
	}
	// delete
	if err := svc.DeleteRefresh(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	gone, _ := svc.ValidateRefresh(ctx, sess.RefreshToken)
	if gone != nil {
		t.Fatalf("expected session removed")
	}
}

func TestRotateInvalidatesOldToken(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour)
	ctx := context.Background()
	first, err := svc.CreateSession(ctx, "user-1", Meta{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	next, err := svc.Rotate(ctx, first.RefreshToken, Meta{})
	if err != nil || next == nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if next.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if old, _ := svc.ValidateRefresh(ctx, first.RefreshToken); old != nil {
		t.Fatalf("old refresh token still valid")
	}
	again, err := svc.Rotate(ctx, first.RefreshToken, Meta{})
	if err != nil || again != nil {
		t.Fatalf("expected nil session for reused token, got %v %v", again, err)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, time.Hour)
	ctx := context.Background()
	_ = repo.Create(ctx, &Session{RefreshToken: "old", UserID: "u", ExpiresAt: time.Now().UTC().Add(-time.Minute)})
	got, err := svc.ValidateRefresh(ctx, "old")
	if err != nil || got != nil {
		t.Fatalf("expected expired session to be rejected")
	}
}

func TestRevokeAll(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateSession(ctx, "user-1", Meta{}); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = svc.CreateSession(ctx, "user-2", Meta{})

	list, _ := svc.ListForUser(ctx, "user-1")
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	n, err := svc.RevokeAll(ctx, "user-1")
	if err != nil || n != 3 {
		t.Fatalf("revoke: n=%d err=%v", n, err)
	}
	other, _ := svc.ListForUser(ctx, "user-2")
	if len(other) != 1 {
		t.Fatalf("other user's sessions must survive")
	}
}

func TestCleanupExpired(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = repo.Create(ctx, &Session{RefreshToken: "old", UserID: "u1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	if _, err := svc.CreateSession(ctx, "u1", Meta{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	n, err := svc.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expired session removed, got %d err=%v", n, err)
	}
	left, _ := svc.ListForUser(ctx, "u1")
	if len(left) != 1 {
		t.Fatalf("expected the live session to remain, got %d", len(left))
	}
}
