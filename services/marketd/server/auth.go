package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies HS256 bearer tokens on the admin surface. An empty
// secret disables admin access entirely rather than allowing anonymous
// configuration changes.
type Authenticator struct {
	secret []byte
	nowFn  func() time.Time
}

// NewAuthenticator builds an authenticator for the shared admin secret.
func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{nowFn: time.Now}
	if s := strings.TrimSpace(secret); s != "" {
		a.secret = []byte(s)
	}
	return a
}

// Enabled reports whether admin access is possible at all.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authenticate validates the Authorization header of an admin request.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if !a.Enabled() {
		return fmt.Errorf("admin surface disabled")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.nowFn))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// MintToken issues a short-lived admin token; used by operator tooling and
// tests.
func (a *Authenticator) MintToken(ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("admin surface disabled")
	}
	now := a.nowFn()
	claims := jwt.RegisteredClaims{
		Subject:   "marketd-admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
