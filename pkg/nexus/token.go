package nexus

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenEnv is the environment variable read by EnvToken
const TokenEnv = "NEXUS_TOKEN"

// TokenProvider supplies the bearer token for a call. An empty token sends
// the request anonymously.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token
type StaticToken string

// Token implements TokenProvider
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// EnvToken reads the token from NEXUS_TOKEN on every call
type EnvToken struct{}

// Token implements TokenProvider
func (EnvToken) Token(ctx context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(TokenEnv)), nil
}

type tokenKey struct{}

// WithToken overrides the client's token provider for calls made with ctx
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok
}

// CheckExpiry inspects a JWT access token without verifying its signature
// and fails when its exp claim is in the past. Opaque tokens pass.
func CheckExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}
	return nil
}
