// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tokengate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tether-foundation/tether/lib/tokenstore"
)

func TestHashPasswordShape(t *testing.T) {
	hash := HashPassword("hunter2")
	if !strings.HasPrefix(hash, "0x") {
		t.Fatalf("hash %q lacks 0x prefix", hash)
	}
	if len(hash) != 2+64 {
		t.Fatalf("hash length = %d, want 66", len(hash))
	}
	if hash != HashPassword("hunter2") {
		t.Fatal("hashing is not deterministic")
	}
	if hash == HashPassword("hunter3") {
		t.Fatal("different passwords produced the same hash")
	}
}

func TestAuthenticateIssuesToken(t *testing.T) {
	var gotEmail, gotHash, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEmail = r.Header.Get(UserEmailHeader)
		gotHash = r.Header.Get(UserHashHeader)
		gotToken = r.Header.Get(TokenHeader)
		json.NewEncoder(w).Encode(map[string]any{
			"resultSets": []map[string]any{
				{"data": []map[string]any{{"nextRequestToken": "tok-initial"}}},
			},
		})
	}))
	defer server.Close()

	gate := NewGate(server.URL, tokenstore.NewMemory(""))
	token, err := gate.Authenticate(context.Background(), "/CreateAuthenticationRequest",
		"alice@example.com", HashPassword("hunter2"), map[string]string{"name": "CLI Session"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "tok-initial" {
		t.Fatalf("token = %q, want tok-initial", token)
	}
	if gotEmail != "alice@example.com" {
		t.Fatalf("email header = %q", gotEmail)
	}
	if gotHash != HashPassword("hunter2") {
		t.Fatalf("hash header = %q", gotHash)
	}
	if gotToken != "" {
		t.Fatalf("login request carried a token header: %q", gotToken)
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad credentials"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	gate := NewGate(server.URL, tokenstore.NewMemory(""))
	_, err := gate.Authenticate(context.Background(), "/CreateAuthenticationRequest",
		"alice@example.com", HashPassword("wrong"), nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"resultSets": []map[string]any{}})
	}))
	defer server.Close()

	gate := NewGate(server.URL, tokenstore.NewMemory(""))
	_, err := gate.Authenticate(context.Background(), "/CreateAuthenticationRequest",
		"alice@example.com", HashPassword("hunter2"), nil)
	if err == nil || !strings.Contains(err.Error(), "no request token") {
		t.Fatalf("err = %v, want missing-token failure", err)
	}
}
