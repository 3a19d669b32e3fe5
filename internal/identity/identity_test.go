package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/colinmxs/spendgate/internal/quota"
)

func TestStatic(t *testing.T) {
	s := NewStatic(map[string][]string{
		"user_1": {"power_user"},
	})

	roles, err := s.AppRoles(context.Background(), quota.Principal{UserID: "user_1"})
	if err != nil {
		t.Fatalf("AppRoles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "power_user" {
		t.Errorf("Unexpected roles: %v", roles)
	}

	roles, err = s.AppRoles(context.Background(), quota.Principal{UserID: "unknown"})
	if err != nil {
		t.Fatalf("AppRoles failed: %v", err)
	}
	if roles != nil {
		t.Errorf("Expected nil roles for unknown user, got %v", roles)
	}
}

func TestClient_AppRoles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/user_1/roles":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"appRoles":["analyst","power_user"]}`))
		case "/users/ghost/roles":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	roles, err := c.AppRoles(context.Background(), quota.Principal{UserID: "user_1"})
	if err != nil {
		t.Fatalf("AppRoles failed: %v", err)
	}
	if len(roles) != 2 || roles[0] != "analyst" {
		t.Errorf("Unexpected roles: %v", roles)
	}

	// 404 means no roles, not an error
	roles, err = c.AppRoles(context.Background(), quota.Principal{UserID: "ghost"})
	if err != nil {
		t.Fatalf("AppRoles for unknown user failed: %v", err)
	}
	if roles != nil {
		t.Errorf("Expected nil roles for unknown user, got %v", roles)
	}
}

func TestClient_AppRolesRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	_, err := c.AppRoles(context.Background(), quota.Principal{UserID: "user_1"})
	if err == nil {
		t.Fatal("Expected error when service keeps failing")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}
