package driven

import (
	"context"
	"errors"
)

// TokenProvider supplies the bearer token used against the upstream alerts API.
type TokenProvider interface {
	// GetAccessToken returns a token valid for the next request.
	GetAccessToken(ctx context.Context) (string, error)
}

// ErrNoCredentials is returned when no upstream token has been configured.
var ErrNoCredentials = errors.New("no upstream credentials configured")

// StaticTokenProvider returns a fixed API token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a token provider for a fixed API token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// GetAccessToken returns the configured token.
func (p *StaticTokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoCredentials
	}
	return p.token, nil
}
