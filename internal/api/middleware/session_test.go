package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

func sessionOf(id *domain.Identity) func() *domain.Identity {
	return func() *domain.Identity { return id }
}

func TestSession_BindsIdentity(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("user_id", "M1")

	id := &domain.Identity{ID: "M1", Role: domain.RoleManager, TerritoryID: "T1"}
	called := false
	handler := Session(sessionOf(id))(func(c echo.Context) error {
		called = true
		if c.Get("role") != "manager" {
			t.Fatalf("expected role manager, got %v", c.Get("role"))
		}
		if c.Get("territory_id") != "T1" {
			t.Fatalf("expected territory T1, got %v", c.Get("territory_id"))
		}
		if got, _ := c.Get("identity").(*domain.Identity); got != id {
			t.Fatalf("identity not set")
		}
		return nil
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
}

func TestSession_NoActiveSession(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("user_id", "M1")

	handler := Session(sessionOf(nil))(func(c echo.Context) error {
		t.Fatalf("should not reach next")
		return nil
	})

	if err := handler(c); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSession_SubjectMismatch(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("user_id", "R2")

	handler := Session(sessionOf(&domain.Identity{ID: "R1", Role: domain.RoleRep}))(func(c echo.Context) error {
		t.Fatalf("should not reach next")
		return nil
	})

	if err := handler(c); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
