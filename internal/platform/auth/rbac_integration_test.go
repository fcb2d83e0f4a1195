package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

// helper creates an echo context with the given roles set on the request context.
func newContextWithRoles(method, path string, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

var okHandler = func(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// TestRequireRole_AdminAccessesAll verifies that the admin role bypasses every
// role check on the Immunization endpoints regardless of which roles are listed.
func TestRequireRole_AdminAccessesAll(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/fhir/Immunization", []string{"admin"})
	mw := RequireRole("admin", "physician", "nurse")
	err := mw(okHandler)(c)
	if err != nil {
		t.Errorf("admin should access the Immunization endpoints, got error: %v", err)
	}
}

// TestRequireRole_PhysicianAccessesImmunization verifies that a physician can
// read and write Immunization resources.
func TestRequireRole_PhysicianAccessesImmunization(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/fhir/Immunization", []string{"physician"})
	mw := RequireRole("admin", "physician", "nurse")
	err := mw(okHandler)(c)
	if err != nil {
		t.Errorf("physician should read Immunization resources, got error: %v", err)
	}

	c, _ = newContextWithRoles(http.MethodPost, "/fhir/Immunization", []string{"physician"})
	mw = RequireRole("admin", "physician", "nurse")
	err = mw(okHandler)(c)
	if err != nil {
		t.Errorf("physician should write Immunization resources, got error: %v", err)
	}
}

// TestRequireRole_NurseAccessesImmunization verifies that a nurse can read and
// write Immunization resources.
func TestRequireRole_NurseAccessesImmunization(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/fhir/Immunization", []string{"nurse"})
	mw := RequireRole("admin", "physician", "nurse")
	err := mw(okHandler)(c)
	if err != nil {
		t.Errorf("nurse should read Immunization resources, got error: %v", err)
	}
}

// TestRequireRole_BillingDeniedImmunization verifies that a role outside the
// Immunization permitted set is denied.
func TestRequireRole_BillingDeniedImmunization(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/fhir/Immunization", []string{"billing"})
	mw := RequireRole("admin", "physician", "nurse")
	err := mw(okHandler)(c)
	if err == nil {
		t.Error("billing role should NOT access Immunization endpoints")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403 Forbidden, got %d", httpErr.Code)
	}
}

// TestRequireRole_NoRoleDenied verifies that a request with no roles is denied
// access to any role-protected endpoint.
func TestRequireRole_NoRoleDenied(t *testing.T) {
	// Empty roles slice
	c, _ := newContextWithRoles(http.MethodGet, "/fhir/Immunization", []string{})
	mw := RequireRole("admin", "physician", "nurse")
	err := mw(okHandler)(c)
	if err == nil {
		t.Error("empty roles should be denied")
	}

	// Nil roles (no context value)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Immunization", nil)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = mw(okHandler)(c)
	if err == nil {
		t.Error("nil roles should be denied")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403 Forbidden, got %d", httpErr.Code)
	}
}
