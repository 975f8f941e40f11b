package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, string, time.Time) error { return nil }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func runMiddleware(t *testing.T, iss *TokenIssuer, revoked RevocationStore, req *http.Request) (*httptest.ResponseRecorder, context.Context, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen context.Context
	h := Middleware(iss, revoked)(func(c echo.Context) error {
		seen = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})
	err := h(c)
	return rec, seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()

	_, _, err := runMiddleware(t, newTestIssuer(t), store, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestMiddleware_InvalidFormat(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			_, _, err := runMiddleware(t, newTestIssuer(t), store, req)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	iss := newTestIssuer(t)
	tok, _, _ := iss.Issue("user-7", RolePatient)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec, ctx, err := runMiddleware(t, iss, store, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if UserIDFromContext(ctx) != "user-7" {
		t.Errorf("expected user-7 in context, got %q", UserIDFromContext(ctx))
	}
	if RoleFromContext(ctx) != RolePatient {
		t.Errorf("expected Patient role, got %q", RoleFromContext(ctx))
	}
	if ClaimsFromContext(ctx) == nil {
		t.Error("expected claims in context")
	}
}

func TestMiddleware_RevokedToken(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	iss := newTestIssuer(t)
	tok, claims, _ := iss.Issue("user-7", RolePatient)
	store.Revoke(context.Background(), claims.ID, "user-7", claims.ExpiresAt.Time)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, _, err := runMiddleware(t, iss, store, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestMiddleware_RevocationUnavailable(t *testing.T) {
	iss := newTestIssuer(t)
	tok, _, _ := iss.Issue("user-7", RolePatient)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, _, err := runMiddleware(t, iss, failingRevocations{}, req)
	expectStatus(t, err, http.StatusServiceUnavailable)
}

func TestMiddleware_WebSocketQueryToken(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()
	iss := newTestIssuer(t)
	tok, _, _ := iss.Issue("user-9", RoleDoctor)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	_, ctx, err := runMiddleware(t, iss, store, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "user-9" {
		t.Errorf("expected user-9, got %q", UserIDFromContext(ctx))
	}

	// Query tokens are ignored for plain requests.
	plain := httptest.NewRequest(http.MethodGet, "/chats?token="+tok, nil)
	_, _, err = runMiddleware(t, iss, store, plain)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RoleFromContext(ctx) != "" || ClaimsFromContext(ctx) != nil {
		t.Error("expected zero values from empty context")
	}

	ctx = WithUser(ctx, "u1", RoleDoctor)
	if UserIDFromContext(ctx) != "u1" || RoleFromContext(ctx) != RoleDoctor {
		t.Error("WithUser did not set identity")
	}
}
