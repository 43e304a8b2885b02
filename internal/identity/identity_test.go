package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLocalProviderSignInLifecycle(t *testing.T) {
	provider := NewLocalProvider()
	userID := provider.Register("dev@example.com", "hunter2")

	var changes []bool
	cancel := provider.OnSessionChange(func(_ Session, active bool) {
		changes = append(changes, active)
	})

	session, err := provider.SignIn(context.Background(), "Dev@Example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.UserID != userID {
		t.Fatalf("expected user %q, got %q", userID, session.UserID)
	}
	if current, ok := provider.CurrentSession(); !ok || current.UserID != userID {
		t.Fatalf("expected current session for %q", userID)
	}
	if err := provider.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, ok := provider.CurrentSession(); ok {
		t.Fatalf("expected no session after sign out")
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("expected sign-in then sign-out notification, got %v", changes)
	}

	cancel()
	if _, err := provider.SignIn(context.Background(), "dev@example.com", "hunter2"); err != nil {
		t.Fatalf("sign in after cancel: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected no notification after cancel, got %d", len(changes))
	}
}

func TestLocalProviderRejectsBadCredentials(t *testing.T) {
	provider := NewLocalProvider()
	provider.Register("dev@example.com", "hunter2")

	_, err := provider.SignIn(context.Background(), "dev@example.com", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Message != "INVALID_PASSWORD" {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}
	_, err = provider.SignIn(context.Background(), "nobody@example.com", "hunter2")
	if !errors.As(err, &authErr) || authErr.Message != "EMAIL_NOT_FOUND" {
		t.Fatalf("expected EMAIL_NOT_FOUND, got %v", err)
	}
}

func TestRESTProviderSignIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "accounts:signInWithPassword") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("expected key query param, got %q", got)
		}
		var req signInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Email != "dev@example.com" || !req.ReturnSecureToken {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(signInResponse{
			LocalID: "uid-1",
			Email:   req.Email,
			IDToken: "token-abc",
		})
	}))
	defer server.Close()

	provider := NewRESTProvider("test-key", WithBaseURL(server.URL))
	session, err := provider.SignIn(context.Background(), "dev@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.UserID != "uid-1" || session.Token != "token-abc" {
		t.Fatalf("unexpected session %+v", session)
	}
	if current, ok := provider.CurrentSession(); !ok || current.UserID != "uid-1" {
		t.Fatalf("expected current session, got %+v ok=%v", current, ok)
	}
}

func TestRESTProviderCarriesProviderMessageVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`))
	}))
	defer server.Close()

	provider := NewRESTProvider("test-key", WithBaseURL(server.URL))
	_, err := provider.SignIn(context.Background(), "dev@example.com", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.Message != "INVALID_LOGIN_CREDENTIALS" || authErr.HTTPStatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected auth error %+v", authErr)
	}
	if _, ok := provider.CurrentSession(); ok {
		t.Fatalf("failed sign-in must not install a session")
	}
}

func TestRESTProviderRequiresAPIKey(t *testing.T) {
	provider := NewRESTProvider("")
	if _, err := provider.SignIn(context.Background(), "dev@example.com", "x"); err == nil {
		t.Fatalf("expected missing-key error")
	}
}
