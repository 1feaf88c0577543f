package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/hysmio/deployments-dashboard/pkg/config"
	jwtpkg "github.com/hysmio/deployments-dashboard/pkg/jwt"
)

// ErrForbiddenDomain rejects identities outside the allowed email domain.
var ErrForbiddenDomain = errors.New("email domain not allowed")

// ErrUnverifiedEmail rejects identities whose email is not verified.
var ErrUnverifiedEmail = errors.New("email not verified")

// Service validates bearer tokens for the dashboard API.
type Service struct {
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{logger: logger, cfg: cfg}
}

// Authorize validates a bearer token and returns its claims. When an email
// domain is configured, only verified emails of that domain are accepted.
func (s Service) Authorize(_ context.Context, token string) (*jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if err := s.checkDomain(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s Service) checkDomain(claims *jwtpkg.Claims) error {
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.cfg.AuthEmailDomain), "@"))
	if domain == "" {
		return nil
	}
	if !claims.EmailVerified {
		return ErrUnverifiedEmail
	}
	if !strings.HasSuffix(strings.ToLower(claims.Email), "@"+domain) {
		return fmt.Errorf("%w: %s", ErrForbiddenDomain, claims.Email)
	}
	return nil
}

// IssueToken mints an access token for an operator identity. A missing user
// id gets a random one.
func (s Service) IssueToken(id jwtpkg.Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		id.UserID = uuid.NewString()
	}
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	token, err := jwtpkg.GenerateToken(id, s.cfg.JWTSecret, ttl)
	if err != nil {
		return "", err
	}
	s.logger.Info("token issued", "user_id", id.UserID, "email", id.Email, "ttl", ttl.String())
	return token, nil
}
