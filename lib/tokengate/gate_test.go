// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tokengate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/testutil"
	"github.com/tether-foundation/tether/lib/tokenstore"
)

func testGate(url string, store Store) *Gate {
	g := NewGate(url, store)
	g.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return g
}

func TestCallNoToken(t *testing.T) {
	g := testGate("http://unreachable.invalid", tokenstore.NewMemory(""))
	_, err := g.Call(context.Background(), "/ListMachines", nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestCallRotatesFromResultSetRow(t *testing.T) {
	store := tokenstore.NewMemory("tok-1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(TokenHeader); got != "tok-1" {
			t.Errorf("token header = %q, want tok-1", got)
		}
		fmt.Fprint(w, `{"resultSets":[{"data":[{"name":"edge-01","nextRequestToken":"tok-2"}]}]}`)
	}))
	defer server.Close()

	var rotatedEndpoint string
	g := testGate(server.URL, store)
	g.OnRotate = func(endpoint string) { rotatedEndpoint = endpoint }

	response, err := g.Call(context.Background(), "/ListMachines", map[string]string{"team": "platform"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", response.StatusCode)
	}
	if token, _ := store.Current(); token != "tok-2" {
		t.Errorf("stored token = %q, want tok-2", token)
	}
	if rotatedEndpoint != "/ListMachines" {
		t.Errorf("OnRotate endpoint = %q, want /ListMachines", rotatedEndpoint)
	}
}

func TestCallRotatesFromTopLevel(t *testing.T) {
	store := tokenstore.NewMemory("tok-1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultSets":[{"data":[{"name":"edge-01"}]}],"nextRequestToken":"tok-2"}`)
	}))
	defer server.Close()

	if _, err := testGate(server.URL, store).Call(context.Background(), "/ListMachines", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if token, _ := store.Current(); token != "tok-2" {
		t.Errorf("stored token = %q, want tok-2", token)
	}
}

func TestCallNoRotationLeavesTokenAlone(t *testing.T) {
	store := tokenstore.NewMemory("tok-1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultSets":[{"data":[]}]}`)
	}))
	defer server.Close()

	if _, err := testGate(server.URL, store).Call(context.Background(), "/Ping", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if token, _ := store.Current(); token != "tok-1" {
		t.Errorf("stored token = %q, want tok-1", token)
	}
}

func TestCall401RetriesAfterExternalRotation(t *testing.T) {
	store := tokenstore.NewMemory("tok-stale")
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get(TokenHeader) == "tok-stale" {
			// Simulate another process having already rotated the
			// shared store before this caller's retry.
			store.Set("tok-fresh")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"token expired"}`)
			return
		}
		fmt.Fprint(w, `{"resultSets":[{"data":[{"nextRequestToken":"tok-next"}]}]}`)
	}))
	defer server.Close()

	response, err := testGate(server.URL, store).Call(context.Background(), "/ListMachines", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", response.StatusCode)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one 401, one retry)", calls)
	}
	if token, _ := store.Current(); token != "tok-next" {
		t.Errorf("stored token = %q, want tok-next", token)
	}
}

func TestCall401WithoutRotationFails(t *testing.T) {
	store := tokenstore.NewMemory("tok-1")
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"token expired"}`)
	}))
	defer server.Close()

	_, err := testGate(server.URL, store).Call(context.Background(), "/ListMachines", nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
	// A token nobody rotated cannot succeed on replay, so no second
	// request goes out.
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCallSerializesConcurrentCallers(t *testing.T) {
	const callers = 8
	store := tokenstore.NewMemory("token-0")

	var mu sync.Mutex
	issued := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		expected := fmt.Sprintf("token-%d", issued)
		if got := r.Header.Get(TokenHeader); got != expected {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, `{"error":"expected %s got %s"}`, expected, got)
			return
		}
		issued++
		fmt.Fprintf(w, `{"resultSets":[{"data":[{"nextRequestToken":"token-%d"}]}]}`, issued)
	}))
	defer server.Close()

	g := testGate(server.URL, store)
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Call(context.Background(), "/ListMachines", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Call: %v", err)
		}
	}
	if token, _ := store.Current(); token != fmt.Sprintf("token-%d", callers) {
		t.Errorf("final token = %q, want token-%d", token, callers)
	}
}

func TestCallLockTimeout(t *testing.T) {
	fake := clock.NewFake()
	g := testGate("http://unreachable.invalid", tokenstore.NewMemory("tok-1"))
	g.Clock = fake
	g.lock <- struct{}{} // something else holds the lock forever

	done := make(chan error, 1)
	go func() {
		_, err := g.Call(context.Background(), "/ListMachines", nil)
		done <- err
	}()

	// Wait for the caller to block on the lock timeout, then fire it.
	for fake.Sleepers() == 0 {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(DefaultLockTimeout)

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for the gated call to fail")
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("error = %v, want ErrLockTimeout", err)
	}
}
