package driving

import (
	"context"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// AuthService validates ops API bearer tokens
type AuthService interface {
	// ValidateToken validates a JWT token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}
