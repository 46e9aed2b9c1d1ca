package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"eyecare-realtime/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RolePatient     = models.RolePatient
	RoleOptometrist = models.RoleOptometrist
	RoleAdmin       = models.RoleAdmin
)

var ErrEmptyToken = errors.New("token is empty")

// Claims are the bearer token claims issued by the booking backend. The
// subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Validator checks bearer tokens, either against a shared HMAC secret or
// against the RSA keys published at a JWKS endpoint.
type Validator struct {
	issuer string
	secret []byte
	keys   *keySet
}

// NewHMACValidator validates HS256 tokens signed with secret. An empty
// issuer disables the issuer check.
func NewHMACValidator(secret, issuer string) *Validator {
	return &Validator{
		issuer: issuer,
		secret: []byte(secret),
	}
}

// NewJWKSValidator fetches the key set at jwksURL and keeps it fresh until
// ctx is done.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer string, httpClient *http.Client) (*Validator, error) {
	ks := newKeySet(jwksURL, httpClient)
	if err := ks.refresh(ctx); err != nil {
		return nil, err
	}
	go ks.refreshLoop(ctx)

	return &Validator{
		issuer: issuer,
		keys:   ks,
	}, nil
}

// ValidateToken parses and verifies tokenString.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.keys == nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("kid not found in token header")
	}

	return v.keys.publicKey(kid)
}

// ExtractTokenFromRequest reads the token from the token query parameter or
// the Authorization header.
func ExtractTokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
