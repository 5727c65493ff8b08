package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/freight/core/assignment"
	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/store"
)

type nopRunner struct{}

func (nopRunner) RequestRun(coordinator.Request) {}

func (nopRunner) RunAndWait(context.Context, coordinator.Request) error { return nil }

func newTestRouter(t *testing.T, token string) http.Handler {
	t.Helper()
	svc, err := assignment.NewService(store.NewMemoryStore(), nopRunner{}, time.Second, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewRouter(svc, nil, nil, token, nil)
}

func TestRouterHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, "tok").ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestRouterRequiresToken(t *testing.T) {
	h := newTestRouter(t, "tok")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/drivers", strings.NewReader(`{"name":"Ann"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}

	req := httptest.NewRequest("POST", "/api/drivers", strings.NewReader(`{"name":"Ann"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/drivers", strings.NewReader(`{"name":"Ann"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterOpenWithoutToken(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, "").ServeHTTP(rr, httptest.NewRequest("GET", "/api/loads", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestRouterPlanLogDisabled(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/dispatch/logs", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	newTestRouter(t, "tok").ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}
