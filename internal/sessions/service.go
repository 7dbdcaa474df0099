package sessions

import (
	"context"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/pkg/crypto"
)

const DefaultRefreshTTL = 30 * 24 * time.Hour

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
	ttl  time.Duration
}

func NewService(r Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &Service{repo: r, ttl: ttl}
}

// Meta describes the client a session was issued to.
type Meta struct {
	UserAgent string
	IP        string
}

// CreateSession stores a new refresh session and returns it
func (s *Service) CreateSession(ctx context.Context, userID string, meta Meta) (*Session, error) {
	r, err := crypto.RandomHex(32)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:           r[:16],
		RefreshToken: r,
		UserID:       userID,
		UserAgent:    meta.UserAgent,
		IP:           meta.IP,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ValidateRefresh returns the session if refresh token is valid and not expired
func (s *Service) ValidateRefresh(ctx context.Context, refresh string) (*Session, error) {
	if refresh == "" {
		return nil, nil
	}
	sess, err := s.repo.GetByRefresh(ctx, refresh)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(time.Now().UTC()) {
		// cleanup expired session
		_ = s.repo.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return sess, nil
}

// Rotate replaces a valid refresh session with a fresh one.
func (s *Service) Rotate(ctx context.Context, refresh string, meta Meta) (*Session, error) {
	sess, err := s.ValidateRefresh(ctx, refresh)
	if err != nil || sess == nil {
		return nil, err
	}
	if err := s.repo.DeleteByRefresh(ctx, refresh); err != nil {
		return nil, err
	}
	return s.CreateSession(ctx, sess.UserID, meta)
}

func (s *Service) DeleteRefresh(ctx context.Context, refresh string) error {
	return s.repo.DeleteByRefresh(ctx, refresh)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.repo.ListByUser(ctx, userID)
}

// RevokeAll drops every refresh session of the user (password change, block).
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.repo.DeleteByUser(ctx, userID)
}

// CleanupExpired drops expired refresh sessions.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx, time.Now().UTC())
}
