package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo       Repository
	revocation RevocationStore
	clock      shared.Clock
	sessionTTL time.Duration
}

// NewService constructs a new Service.
func NewService(repo Repository, revocation RevocationStore, clock shared.Clock, sessionTTL time.Duration) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	return &Service{repo: repo, revocation: revocation, clock: clock, sessionTTL: sessionTTL}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a new session, returning the bearer token.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (*Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	sess := Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: s.clock.Now().Add(s.sessionTTL),
		IP:        ip,
		UserAgent: ua,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return &sess, nil
}

// Logout revokes the token and removes the session record. Revocation goes
// first: a crashed logout must fail closed, not leave a live token behind.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.repo.GetSession(ctx, token)
	if err != nil {
		return err
	}
	if err := s.revocation.Revoke(ctx, token, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return s.repo.DeleteSession(ctx, token)
}

// ValidateToken resolves a bearer token to a user id, rejecting revoked and
// expired sessions.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, error) {
	revoked, err := s.revocation.IsRevoked(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return 0, shared.ErrInvalidCredentials
	}
	sess, err := s.repo.GetSession(ctx, token)
	if err != nil {
		return 0, shared.ErrInvalidCredentials
	}
	if sess.Expired(s.clock.Now()) {
		return 0, shared.ErrInvalidCredentials
	}
	return sess.UserID, nil
}

// PurgeExpiredSessions removes sessions past their expiry. Called by the
// background worker.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.clock.Now())
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
