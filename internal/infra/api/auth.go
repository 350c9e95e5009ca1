package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/justinas/alice"
)

// CallerClaims identify the backend service calling the payments API.
type CallerClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type callerKey struct{}

// CallerFrom returns the authenticated caller's subject, if any.
func CallerFrom(ctx context.Context) string {
	v, _ := ctx.Value(callerKey{}).(string)
	return v
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Mint signs a token for subject; used by operators and tests.
func (a *Authenticator) Mint(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := CallerClaims{
		Scope: "payments",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Verify(raw string) (*CallerClaims, error) {
	claims := &CallerClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token. A nil Authenticator
// lets everything through.
func (a *Authenticator) Require(rd *Renderer) alice.Constructor {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				rd.unauthorized(w, r)
				return
			}
			claims, err := a.Verify(token)
			if err != nil {
				rd.unauthorized(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), callerKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
