// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokengate serializes control-plane API calls behind a
// rotating request token.
//
// The control plane rotates the token on every response: each call
// must present the current token and persist the replacement before
// the next call starts. The gate enforces that ordering with a
// capacity-1 semaphore, so concurrent callers in one process are
// strictly serialized. Callers in other processes share the token
// through the Store, which is why a 401 is retried once the stored
// token is observed to have rotated underneath us.
package tokengate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tether-foundation/tether/lib/clock"
	"github.com/tether-foundation/tether/lib/netutil"
)

// ErrUnauthenticated reports a call with no stored token, or a 401
// that survived the retry budget. The remedy is tether auth login.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrLockTimeout reports that the call could not acquire the token
// lock within the bound. Something else is holding a call open far
// longer than any API round trip should take.
var ErrLockTimeout = errors.New("timed out waiting for token lock")

// TokenHeader carries the request token on every call.
const TokenHeader = "Tether-Request-Token"

const (
	// DefaultLockTimeout bounds token lock acquisition.
	DefaultLockTimeout = 30 * time.Second

	// DefaultRetryBudget is how many 401 retries one call may spend.
	DefaultRetryBudget = 2

	// retryBackoffStep scales the wait before 401 retry n to n steps.
	retryBackoffStep = 100 * time.Millisecond
)

// Store holds the current request token. Implementations must be safe
// for concurrent use; lib/tokenstore provides the file-backed one.
type Store interface {
	// Current returns the stored token, or "" when logged out.
	Current() (string, error)

	// CompareAndSwap replaces the token only if the stored value still
	// equals old, reporting whether the swap happened. A lost race
	// means another caller already stored a newer token.
	CompareAndSwap(old, new string) (bool, error)
}

// Response is a completed API call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Gate serializes API calls and keeps the rotating token current.
type Gate struct {
	// BaseURL is the control-plane API root, e.g.
	// https://api.example.com/api.
	BaseURL string

	// Store holds the rotating token.
	Store Store

	// Client is the HTTP client. Defaults to http.DefaultClient.
	Client *http.Client

	// Clock drives lock timeout and retry backoff. Defaults to the
	// real clock.
	Clock clock.Clock

	// LockTimeout bounds lock acquisition. Defaults to
	// DefaultLockTimeout.
	LockTimeout time.Duration

	// RetryBudget is the number of 401 retries per call. Defaults to
	// DefaultRetryBudget.
	RetryBudget int

	// Log receives rotation and retry diagnostics. Defaults to
	// slog.Default().
	Log *slog.Logger

	// OnRotate, when set, is invoked with the endpoint after a rotated
	// token has been persisted. Token values are never passed out.
	OnRotate func(endpoint string)

	lock chan struct{}
}

// NewGate creates a Gate over the given API root and token store.
func NewGate(baseURL string, store Store) *Gate {
	return &Gate{
		BaseURL:     baseURL,
		Store:       store,
		Client:      http.DefaultClient,
		Clock:       clock.Real(),
		LockTimeout: DefaultLockTimeout,
		RetryBudget: DefaultRetryBudget,
		lock:        make(chan struct{}, 1),
	}
}

func (g *Gate) logger() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

// acquire takes the token lock or fails with ErrLockTimeout.
func (g *Gate) acquire(ctx context.Context) error {
	select {
	case g.lock <- struct{}{}:
		return nil
	default:
	}
	select {
	case g.lock <- struct{}{}:
		return nil
	case <-g.Clock.After(g.LockTimeout):
		return fmt.Errorf("%w after %v", ErrLockTimeout, g.LockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) release() {
	<-g.lock
}

// Call POSTs payload as JSON to BaseURL+endpoint with the current
// token, persists any rotated token from the response, and returns
// the response. Fails with ErrUnauthenticated when no token is stored
// or a 401 exhausts the retry budget, and ErrLockTimeout when the
// token lock cannot be acquired in time.
func (g *Gate) Call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	token, err := g.Store.Current()
	if err != nil {
		return nil, fmt.Errorf("reading stored token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no stored token, run tether auth login", ErrUnauthenticated)
	}

	for attempt := 0; ; attempt++ {
		response, err := g.post(ctx, endpoint, payload, map[string]string{TokenHeader: token})
		if err != nil {
			return nil, err
		}

		if rotated := extractNextToken(response.Body); rotated != "" && rotated != token {
			swapped, err := g.Store.CompareAndSwap(token, rotated)
			if err != nil {
				return nil, fmt.Errorf("storing rotated token: %w", err)
			}
			if !swapped {
				g.logger().Debug("token rotation lost race with concurrent caller")
			} else if g.OnRotate != nil {
				g.OnRotate(endpoint)
			}
		}

		if response.StatusCode != http.StatusUnauthorized {
			return response, nil
		}
		if attempt >= g.RetryBudget {
			return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, bodySummary(response.Body))
		}

		// Another process may have rotated the token underneath us.
		// Back off, re-read, and retry only with fresher material —
		// replaying the same rejected token cannot succeed.
		g.Clock.Sleep(time.Duration(attempt+1) * retryBackoffStep)
		current, err := g.Store.Current()
		if err != nil {
			return nil, fmt.Errorf("re-reading stored token: %w", err)
		}
		if current == token || current == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, bodySummary(response.Body))
		}
		g.logger().Debug("retrying with rotated token", "attempt", attempt+1)
		token = current
	}
}

func (g *Gate) post(ctx context.Context, endpoint string, payload any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	httpResponse, err := g.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer httpResponse.Body.Close()

	responseBody, err := netutil.ReadResponse(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	return &Response{StatusCode: httpResponse.StatusCode, Body: responseBody}, nil
}

// bodySummary truncates an error response body for diagnostics.
func bodySummary(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	if s == "" {
		return "(empty response body)"
	}
	return s
}

// rotationEnvelope is the slice of the response shape rotation cares
// about. The control plane delivers the replacement token either as a
// column in the first result set's rows or at the top level.
type rotationEnvelope struct {
	ResultSets []struct {
		Data []map[string]any `json:"data"`
	} `json:"resultSets"`
	NextRequestToken string `json:"nextRequestToken"`
}

// extractNextToken finds the rotated token in a response body, row
// scan first, top level second. Empty when the body carries none.
func extractNextToken(body []byte) string {
	var envelope rotationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.ResultSets) > 0 {
		for _, row := range envelope.ResultSets[0].Data {
			if token, ok := row["nextRequestToken"].(string); ok && token != "" {
				return token
			}
		}
	}
	return envelope.NextRequestToken
}
