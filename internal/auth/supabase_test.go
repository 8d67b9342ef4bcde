package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginMapsBadRequestToInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey header")
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL+"/", "anon")
	_, err := c.Login(context.Background(), "a@b.io", "nope")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignUpWithoutSessionDecodesUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		data, _ := in["data"].(map[string]any)
		if data["name"] != "Ana" {
			t.Errorf("expected name metadata, got %v", in)
		}
		_, _ = w.Write([]byte(`{"id":"u-1","email":"ana@x.io","user_metadata":{"name":"Ana"}}`))
	}))
	defer srv.Close()

	s, err := NewSupabaseClient(srv.URL, "anon").SignUp(context.Background(), "ana@x.io", "secret123", "Ana")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if s.AccessToken != "" || s.User.ID != "u-1" || s.User.DisplayName() != "Ana" {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestVerifyAccessTokenReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good" {
			_, _ = w.Write([]byte(`{"id":"u-9","email":"t@x.io"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL, "anon")
	u, err := c.VerifyAccessToken(context.Background(), "good")
	if err != nil || u.ID != "u-9" {
		t.Fatalf("verify good token: %+v %v", u, err)
	}
	_, err = c.VerifyAccessToken(context.Background(), "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid JWT" {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}
