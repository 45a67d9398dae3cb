package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func newTestTokens(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "token"))
}

func TestTokenStoreLifecycle(t *testing.T) {
	tokens := newTestTokens(t)

	got, err := tokens.Load()
	if err != nil || got != "" {
		t.Fatalf("empty store: got %q err %v", got, err)
	}

	if err := tokens.Save("abc123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = tokens.Load()
	if err != nil || got != "abc123" {
		t.Fatalf("after save: got %q err %v", got, err)
	}

	if err := tokens.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = tokens.Load()
	if got != "" {
		t.Fatalf("after clear: got %q", got)
	}
	// Clearing twice is fine.
	if err := tokens.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(AuthResponse{
			Token: "tok-1",
			User:  AuthUser{ID: "u1", Email: "demo@local"},
		})
	}))
	defer srv.Close()

	tokens := newTestTokens(t)
	c := NewClient(srv.URL, tokens)

	resp, err := c.Login(context.Background(), "demo@local", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.User.ID != "u1" {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	stored, _ := tokens.Load()
	if stored != "tok-1" {
		t.Fatalf("token not persisted, got %q", stored)
	}
	if !c.HasCredential() {
		t.Fatal("HasCredential should be true after login")
	}
}

func TestAuthedRequestsSendBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tokens := newTestTokens(t)
	if err := tokens.Save("tok-2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	c := NewClient(srv.URL, tokens)

	if _, err := c.Expenses(context.Background()); err != nil {
		t.Fatalf("expenses: %v", err)
	}
	if gotAuth != "Bearer tok-2" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestAuthedRequestWithoutCredential(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", newTestTokens(t))
	_, err := c.Expenses(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Email already in use"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestTokens(t))
	_, err := c.Register(context.Background(), "demo@local", "password123", "")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Email already in use" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
