package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	apperrors "marketchat/pkg/errors"
)

const testSecret = "test-secret"

func TestHS256VerifierAcceptsValidToken(t *testing.T) {
	r := require.New(t)
	v, err := NewHS256Verifier(testSecret, "marketchat")
	r.NoError(err)

	token, err := IssueHS256(testSecret, "marketchat", "cust-1", "buyer", time.Minute)
	r.NoError(err)

	claims, err := v.Verify(context.Background(), token)
	r.NoError(err)
	r.Equal("cust-1", claims.Subject)
	r.Equal("buyer", claims.RoleHint)
}

func TestHS256VerifierRejectionReasons(t *testing.T) {
	v, err := NewHS256Verifier(testSecret, "")
	require.NoError(t, err)

	expired, err := IssueHS256(testSecret, "", "cust-1", "customer", -time.Minute)
	require.NoError(t, err)
	forged, err := IssueHS256("other-secret", "", "cust-1", "customer", time.Minute)
	require.NoError(t, err)
	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role:             "customer",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "cust-1", IssuedAt: jwt.NewNumericDate(time.Now())},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", apperrors.ReasonMissingCredential},
		{"expired", expired, apperrors.ReasonExpired},
		{"wrong key", forged, apperrors.ReasonInvalidSignature},
		{"no expiry", unbounded, apperrors.ReasonExpired},
		{"malformed", "not-a-jwt", apperrors.ReasonInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			_, err := v.Verify(context.Background(), tc.token)
			r.Error(err)
			r.True(apperrors.Is(err, apperrors.CodeUnauthenticated))
			r.Equal(tc.reason, apperrors.MessageOf(err))
		})
	}
}

func TestHS256VerifierChecksIssuer(t *testing.T) {
	r := require.New(t)
	v, err := NewHS256Verifier(testSecret, "marketchat")
	r.NoError(err)

	token, err := IssueHS256(testSecret, "someone-else", "cust-1", "customer", time.Minute)
	r.NoError(err)

	_, err = v.Verify(context.Background(), token)
	r.Error(err)
	r.Equal(apperrors.ReasonInvalidSignature, apperrors.MessageOf(err))
}
