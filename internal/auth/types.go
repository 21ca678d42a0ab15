package auth

import (
	"context"
	"errors"
	"strings"
)

// Auth errors.
var (
	ErrTokenInvalid  = errors.New("auth: invalid token")
	ErrTokenExpired  = errors.New("auth: token has expired")
	ErrMissingSecret = errors.New("auth: signing secret not configured")
	ErrInvalidUser   = errors.New("auth: invalid user id")
)

// maxIDLength bounds user and operator identifiers.
const maxIDLength = 128

// Principal is the authenticated caller of an API request.
type Principal struct {
	UserID     string `json:"userId"`
	OperatorID string `json:"operatorId"`
}

// Operator returns the operator id, falling back to the user id when the
// token carries none.
func (p Principal) Operator() string {
	if p.OperatorID != "" {
		return p.OperatorID
	}
	return p.UserID
}

func validID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && len(id) <= maxIDLength
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
