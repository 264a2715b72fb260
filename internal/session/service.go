package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpgateway/internal/token"
	"mcpgateway/pkg/problems"
)

// Verification failure reasons.
const (
	ReasonInvalidToken    = "invalid_token"
	ReasonTokenExpired    = "token_expired"
	ReasonSessionNotFound = "session_not_found"
)

// Result is the outcome of verifying a session token.
type Result struct {
	Valid   bool           `json:"valid"`
	Claims  map[string]any `json:"claims,omitempty"`
	Session *Session       `json:"session,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

type Service struct {
	signer *token.Signer
	store  Store
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewService(signer *token.Signer, store Store, ttl time.Duration, log *zap.SugaredLogger) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{signer: signer, store: store, ttl: ttl, log: log}
}

// Create signs a session token for user under tenantID and stores the session.
func (s *Service) Create(ctx context.Context, tenantID string, user User) (string, Session, error) {
	user.Email = strings.TrimSpace(user.Email)
	if user.ID == "" {
		user.ID = user.Email
	}
	if user.ID == "" {
		return "", Session{}, problems.New(problems.InvalidRequest, "user id or email is required")
	}
	if user.Role == "" {
		user.Role = "user"
	}
	claims := map[string]any{
		"type":   "session",
		"tenant": tenantID,
		"email":  user.Email,
		"name":   user.Name,
		"role":   user.Role,
	}
	if len(user.Permissions) > 0 {
		claims["permissions"] = user.Permissions
	}
	m, err := s.signer.Sign(user.ID, "", s.ttl, claims)
	if err != nil {
		return "", Session{}, problems.Wrap(problems.ServerError, "Failed to sign session token", err)
	}
	sess := Session{ID: m.ID, TenantID: tenantID, User: user, CreatedAt: m.IssuedAt, ExpiresAt: m.ExpiresAt}
	if err := s.store.Put(ctx, sess, s.ttl); err != nil {
		return "", Session{}, problems.Wrap(problems.ServerError, "Failed to store session", err)
	}
	s.log.Infow("session created", "tenant", tenantID, "session_id", sess.ID, "user", user.ID)
	return m.Raw, sess, nil
}

// Verify checks the token signature and expiry, then that the session is
// still present. A well-formed token for a revoked session is invalid.
// The error is non-nil only when the store itself fails.
func (s *Service) Verify(ctx context.Context, raw string) (Result, error) {
	jt, err := s.signer.Verify(raw)
	if err != nil {
		if token.IsExpired(err) {
			return Result{Reason: ReasonTokenExpired}, nil
		}
		return Result{Reason: ReasonInvalidToken}, nil
	}
	if typ, _ := jt.Get("type"); typ != "session" {
		return Result{Reason: ReasonInvalidToken}, nil
	}
	sess, ok, err := s.store.Get(ctx, jt.JwtID())
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reason: ReasonSessionNotFound}, nil
	}
	claims, err := jt.AsMap(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Valid: true, Claims: claims, Session: &sess}, nil
}

// Revoke deletes the session behind raw. Revoking an unknown or already
// revoked session succeeds; an unsigned or forged token does not.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	jt, err := s.signer.Parse(raw)
	if err != nil || jt.JwtID() == "" {
		return problems.Wrap(problems.InvalidToken, "Invalid session token", err)
	}
	if err := s.store.Delete(ctx, jt.JwtID()); err != nil {
		return problems.Wrap(problems.ServerError, "Failed to revoke session", err)
	}
	s.log.Infow("session revoked", "session_id", jt.JwtID())
	return nil
}
