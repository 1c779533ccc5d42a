package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "claims"

var (
	ErrMissingToken = errors.New("missing or invalid Authorization header")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoClaims     = errors.New("no claims in context")
)

// Claims carried by API tokens
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken signs a token for subject that expires after the configured TTL
func (a *Authenticator) GenerateToken(subject string) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry of a token
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects /api requests without a valid bearer token. Preflight
// requests and paths outside /api pass through.
func (a *Authenticator) Middleware(onError func(w http.ResponseWriter, code int, msg string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				onError(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}

			claims, err := a.ParseToken(tokenString)
			if err != nil {
				onError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaimsFromContext returns the claims stored by Middleware
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}
