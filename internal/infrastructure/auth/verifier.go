package auth

import (
	"context"
)

// Claims is what a verified credential asserts about its bearer.
type Claims struct {
	Subject string
	// RoleHint is the raw role claim, if any. It decides which identity
	// store is consulted first.
	RoleHint string
	Name     string
}

// TokenVerifier checks a bearer credential. Rejections are returned as
// UNAUTHENTICATED AppErrors carrying one of the Reason constants.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
