package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	apperrors "marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type tokenClaims struct {
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens signed with a shared secret, or RS256
// tokens whose keys are published at a JWKS endpoint.
type JWTVerifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	issuer  string
	jwks    *keyfunc.JWKS
}

var _ TokenVerifier = (*JWTVerifier)(nil)

func NewHS256Verifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt: secret is required")
	}
	key := []byte(secret)
	return &JWTVerifier{
		keyFunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
	}, nil
}

// NewJWKSVerifier fetches the key set at url and keeps it refreshed in the
// background until Close is called.
func NewJWKSVerifier(url, issuer string) (*JWTVerifier, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("JWKS refresh failed for %s: %v", url, err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: load jwks: %w", err)
	}
	return &JWTVerifier{
		keyFunc: jwks.Keyfunc,
		methods: []string{jwt.SigningMethodRS256.Alg()},
		issuer:  issuer,
		jwks:    jwks,
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonMissingCredential, nil)
	}

	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, v.keyFunc, jwt.WithValidMethods(v.methods))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperrors.Unauthenticated(apperrors.ReasonExpired, err)
		}
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonInvalidSignature, err)
	}
	// jwt/v4 only checks exp when present; a credential must carry one.
	if claims.ExpiresAt == nil {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonExpired, errors.New("token has no expiry"))
	}
	if !token.Valid || claims.Subject == "" {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonInvalidSignature, errors.New("token has no subject"))
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return Claims{}, apperrors.Unauthenticated(apperrors.ReasonInvalidSignature, errors.New("unexpected issuer"))
	}

	return Claims{Subject: claims.Subject, RoleHint: claims.Role, Name: claims.Name}, nil
}

func (v *JWTVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// IssueHS256 signs a token for subject. It backs the development token
// endpoint and tests.
func IssueHS256(secret, issuer, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
