package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

const (
	jwtClaimSubject = "sub"
	jwtClaimRole    = "role"
)

var errNoClaims = errors.New("token claims not found in context")

// GetClaimsFromContext returns the validated token claims stored by
// Authenticate.
func GetClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	return claims, ok
}

// GetSubjectFromContext returns the username the token was issued to.
func GetSubjectFromContext(ctx context.Context) (string, error) {
	return stringClaim(ctx, jwtClaimSubject)
}

// GetRoleFromContext returns the role carried by the token.
func GetRoleFromContext(ctx context.Context) (string, error) {
	return stringClaim(ctx, jwtClaimRole)
}

func stringClaim(ctx context.Context, name string) (string, error) {
	claims, ok := GetClaimsFromContext(ctx)
	if !ok {
		return "", errNoClaims
	}

	value, ok := claims[name]
	if !ok {
		return "", fmt.Errorf("missing %q claim in token", name)
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("invalid type for %q claim: expected string, got %T", name, value)
	}

	return str, nil
}
