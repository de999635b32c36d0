package driven

import "github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"

// AuthAdapter signs and verifies ops API bearer tokens.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
