package firebase

import (
	"context"
	"strings"

	"firebase.google.com/go/v4/auth"

	authn "marketchat/internal/infrastructure/auth"
	"marketchat/pkg/errors"
)

// FirebaseAuthClient verifies Firebase ID tokens. The participant role is read
// from the "role" custom claim.
type FirebaseAuthClient struct {
	client *auth.Client
}

var _ authn.TokenVerifier = (*FirebaseAuthClient)(nil)

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) Verify(ctx context.Context, token string) (authn.Claims, error) {
	if strings.TrimSpace(token) == "" {
		return authn.Claims{}, errors.Unauthenticated(errors.ReasonMissingCredential, nil)
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return authn.Claims{}, errors.Unauthenticated(errors.ReasonExpired, err)
		}
		return authn.Claims{}, errors.Unauthenticated(errors.ReasonInvalidSignature, err)
	}

	claims := authn.Claims{Subject: result.UID}
	if role, ok := result.Claims["role"].(string); ok {
		claims.RoleHint = role
	}
	if name, ok := result.Claims["name"].(string); ok {
		claims.Name = name
	}
	return claims, nil
}

