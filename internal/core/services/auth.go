package services

import (
	"context"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// authService validates stateless bearer tokens. There are no sessions:
// tokens are issued out of band and expire on their own.
type authService struct {
	authAdapter driven.AuthAdapter
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(authAdapter driven.AuthAdapter) driving.AuthService {
	return &authService{authAdapter: authAdapter, now: time.Now}
}

// ValidateToken validates a JWT token and returns the auth context
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	claims, err := s.authAdapter.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt != 0 && s.now().Unix() > claims.ExpiresAt {
		return nil, domain.ErrTokenExpired
	}
	if claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	switch claims.Role {
	case domain.RoleAdmin, domain.RoleOperator, domain.RoleViewer:
	default:
		return nil, domain.ErrTokenInvalid
	}
	return &domain.AuthContext{Subject: claims.Subject, Role: claims.Role}, nil
}
