package access_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/webpods-org/webpods/core/access"
)

func TestBackdoorAuthenticatorDefaultsToTokenAsUserID(t *testing.T) {
	auth := access.NewBackdoorAuthenticator(nil)
	userID, err := auth.Authenticate("alice")
	if err != nil || userID != "alice" {
		t.Fatalf("expected token to authenticate as itself, got %q, %v", userID, err)
	}
}

func TestBackdoorAuthenticatorMappedUser(t *testing.T) {
	auth := access.NewBackdoorAuthenticator(map[string]string{"tok-1": "alice"})
	userID, err := auth.Authenticate("tok-1")
	if err != nil || userID != "alice" {
		t.Fatalf("expected mapped user id, got %q, %v", userID, err)
	}
	auth.Grant("tok-2", "bob")
	userID, err = auth.Authenticate("tok-2")
	if err != nil || userID != "bob" {
		t.Fatalf("expected granted user id, got %q, %v", userID, err)
	}
}

func TestMiddlewareSetsUserIDFromBearerToken(t *testing.T) {
	auth := access.NewBackdoorAuthenticator(map[string]string{"tok-1": "alice"})
	var seen string
	handler := access.Middleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = access.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "alice" {
		t.Fatalf("expected user id %q, got %q", "alice", seen)
	}
}

func TestMiddlewareLeavesAnonymousRequestUnset(t *testing.T) {
	auth := access.NewBackdoorAuthenticator(nil)
	var seen string
	called := false
	handler := access.Middleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = access.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("expected handler to run for anonymous request")
	}
	if seen != "" {
		t.Fatalf("expected empty user id for anonymous request, got %q", seen)
	}
}
