package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var alice = Identity{ID: "u-1", Name: "Alice", Email: "alice@example.com"}

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner("s3cret", time.Hour)
	token, exp, err := signer.SignAccessToken(alice)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	id, err := NewJWTVerifier(signer).Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	assert.Equal(t, id, alice)
}

func TestVerifyRejects(t *testing.T) {
	signer := NewSigner("s3cret", time.Hour)
	v := NewJWTVerifier(signer)

	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other, _, _ := NewSigner("other", time.Hour).SignAccessToken(alice)
	if _, err := v.Verify(context.Background(), other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}

	expired, _, _ := NewSigner("s3cret", -time.Minute).SignAccessToken(alice)
	if _, err := v.Verify(context.Background(), expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRemoteVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if ExtractBearer(r.Header.Get("Authorization")) != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(alice)
	}))
	defer srv.Close()

	v := NewRemoteVerifier(srv.URL + "/")
	id, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	assert.Equal(t, id, alice)

	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRemoteVerifierUpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRemoteVerifier(srv.URL).Verify(context.Background(), "x")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, ExtractBearer("Bearer abc"), "abc")
	assert.Equal(t, ExtractBearer("bearer  abc "), "abc")
	assert.Equal(t, ExtractBearer("Basic abc"), "")
	assert.Equal(t, ExtractBearer(""), "")
}
