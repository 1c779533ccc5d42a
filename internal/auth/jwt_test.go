package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func writeError(w http.ResponseWriter, code int, msg string) {
	http.Error(w, msg, code)
}

func TestGenerateAndParseToken(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)
	token, err := a.GenerateToken("ops")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("expected subject ops, got %q", claims.Subject)
	}
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)
	token, _ := a.GenerateToken("ops")

	if _, err := NewAuthenticator("other", time.Hour).ParseToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	later := NewAuthenticator("secret", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.ParseToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour)
	token, _ := a.GenerateToken("ops")

	var sawClaims bool
	handler := a.Middleware(writeError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := GetClaimsFromContext(r.Context())
		sawClaims = err == nil
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
		wantClaims bool
	}{
		{"public health", http.MethodGet, "/health", "", http.StatusOK, false},
		{"missing token", http.MethodGet, "/api/invoice", "", http.StatusUnauthorized, false},
		{"bad scheme", http.MethodGet, "/api/invoice", "Basic abc", http.StatusUnauthorized, false},
		{"garbage token", http.MethodGet, "/api/invoice", "Bearer abc", http.StatusUnauthorized, false},
		{"valid token", http.MethodGet, "/api/invoice", "Bearer " + token, http.StatusOK, true},
		{"preflight", http.MethodOptions, "/api/invoice", "", http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sawClaims = false
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if sawClaims != tt.wantClaims {
				t.Fatalf("expected claims=%v, got %v", tt.wantClaims, sawClaims)
			}
		})
	}
}
