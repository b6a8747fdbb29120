// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrMissingToken    = errors.New("missing member token")
)

// NewID returns a random UUID for database records
func NewID() string {
	return uuid.NewString()
}

// GenerateMemberToken creates a random secure token for a member
// The token is only ever returned once; the database keeps its hash
func GenerateMemberToken() (string, error) {
	b := make([]byte, 24) // 24 bytes = 192 bits of entropy
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate member token: %w", err)
	}
	// URL-safe base64 without padding
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// HashToken creates the HMAC-SHA256 of a member token
// This is deterministic so a presented token can be looked up by hash
func HashToken(token, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateAdminKey checks the provided bootstrap key in constant time
func ValidateAdminKey(provided, expected string) error {
	if provided == "" || expected == "" {
		return ErrInvalidAdminKey
	}
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}

// TokenFromRequest reads the member token from X-Member-Token,
// falling back to an Authorization: Bearer header
func TokenFromRequest(r *http.Request) (string, error) {
	if token := r.Header.Get("X-Member-Token"); token != "" {
		return token, nil
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingToken
}
