// Package auth derives and verifies per-worker bearer tokens so the
// worker-facing HTTP API can authenticate a request without maintaining a
// token table: the token is a deterministic HMAC over the worker id under
// a key derived from the configured secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const tokenInfo = "prime-coordinator/worker-token/v1"

// TokenSource derives and verifies worker bearer tokens from a shared
// secret. A zero-value TokenSource (empty secret) disables verification:
// every token is accepted, matching the config contract that an empty
// WorkerTokenSecret disables bearer-token verification entirely.
type TokenSource struct {
	key []byte
}

// NewTokenSource derives a 32-byte HMAC key from secret via HKDF-SHA256.
// An empty secret yields a disabled TokenSource.
func NewTokenSource(secret string) (TokenSource, error) {
	if secret == "" {
		return TokenSource{}, nil
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(tokenInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return TokenSource{}, fmt.Errorf("derive worker token key: %w", err)
	}
	return TokenSource{key: key}, nil
}

// Enabled reports whether this source was constructed with a non-empty
// secret and therefore enforces token verification.
func (t TokenSource) Enabled() bool {
	return len(t.key) > 0
}

// TokenFor returns the deterministic hex-encoded bearer token a worker
// should present for workerID.
func (t TokenSource) TokenFor(workerID string) string {
	if !t.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(workerID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is the correct bearer token for workerID.
// When the TokenSource is disabled, Verify always succeeds.
func (t TokenSource) Verify(workerID, token string) bool {
	if !t.Enabled() {
		return true
	}
	expected := t.TokenFor(workerID)
	return hmac.Equal([]byte(expected), []byte(token))
}
