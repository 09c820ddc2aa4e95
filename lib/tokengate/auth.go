// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tokengate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
)

// Headers carrying login credentials. Only authentication endpoints
// accept these; everything else presents TokenHeader.
const (
	UserEmailHeader = "Tether-UserEmail"
	UserHashHeader  = "Tether-UserHash"
)

// passwordSalt is the static client-side salt the control plane
// expects appended to passwords before hashing.
const passwordSalt = "T3th3r111$ecur3P@$w0rd$@lt#H@$h"

// HashPassword derives the credential hash the control plane stores.
// The raw password never leaves the client.
func HashPassword(password string) string {
	digest := sha256.Sum256([]byte(password + passwordSalt))
	return "0x" + hex.EncodeToString(digest[:])
}

// Authenticate exchanges login credentials for an initial request
// token. It POSTs to the endpoint with credential headers instead of
// a token, and returns the token issued in the response.
func (g *Gate) Authenticate(ctx context.Context, endpoint, email, passwordHash string, payload any) (string, error) {
	if err := g.acquire(ctx); err != nil {
		return "", err
	}
	defer g.release()

	response, err := g.post(ctx, endpoint, payload, map[string]string{
		UserEmailHeader: email,
		UserHashHeader:  passwordHash,
	})
	if err != nil {
		return "", err
	}
	if response.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: %s", ErrUnauthenticated, bodySummary(response.Body))
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authentication failed with status %d: %s",
			response.StatusCode, bodySummary(response.Body))
	}

	token := extractNextToken(response.Body)
	if token == "" {
		return "", fmt.Errorf("authentication response carried no request token")
	}
	return token, nil
}
