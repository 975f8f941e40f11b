package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req = req.WithContext(WithUser(req.Context(), "d1", RoleDoctor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole(RoleDoctor)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req = req.WithContext(WithUser(req.Context(), "p1", RolePatient))
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole(RoleDoctor)(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRole(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	if err := RequireRole(RoleDoctor, RolePatient)(okHandler)(c); err == nil {
		t.Fatal("expected error without a role")
	}
}

func TestRequireSelf(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPatch, "/users/u1", nil)
	req = req.WithContext(WithUser(req.Context(), "u1", RolePatient))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("u1")
	if err := RequireSelf("id")(okHandler)(c); err != nil {
		t.Errorf("expected own profile to pass, got %v", err)
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("u2")
	err := RequireSelf("id")(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's profile, got %v", err)
	}
}

func TestValidRole(t *testing.T) {
	if !ValidRole("Doctor") || !ValidRole("Patient") {
		t.Error("expected Doctor and Patient to be valid")
	}
	if ValidRole("admin") || ValidRole("doctor") || ValidRole("") {
		t.Error("expected other values to be invalid")
	}
}
