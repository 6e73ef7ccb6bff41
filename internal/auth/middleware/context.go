package auth

import (
	"context"
	"time"
)

// Principal is the caller named by a verified bearer token.
type Principal struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// SubjectFromContext is "" for unauthenticated requests.
func SubjectFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Subject
}
