// Package memory defines the cross-agent session memory bag.
//
// Memory is the only state that survives a handoff: the gateway is its sole
// writer (agents request updates by message), successor agents receive a
// snapshot at session init. Entries are small structured maps keyed by
// session id, expired after an idle TTL.
//
// Implementations must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers treat this as non-fatal: reads degrade to an empty bag, writes are
// dropped with a warning, and the session continues.
var ErrUnavailable = errors.New("memory: store unavailable")

// DefaultTTL is the idle expiry applied to session memory entries.
const DefaultTTL = time.Hour

// Well-known memory keys. The bag also carries arbitrary extension keys;
// these are the ones the gateway and agents interpret.
const (
	KeyVerified        = "verified"
	KeyUserName        = "userName"
	KeyAccount         = "account"
	KeySortCode        = "sortCode"
	KeyUserIntent      = "userIntent"
	KeyLastUserMessage = "lastUserMessage"
	KeyLastAgent       = "lastAgent"
	KeyGraphState      = "graphState"
)

// Store is the session memory contract.
//
// Put merges patch into the stored bag: insertion creates the entry,
// existing keys are overwritten per-field (last writer wins within a single
// patch). Writes are atomic at the per-session level. Get returns the
// current bag, or an empty map when no entry exists. Touch resets the idle
// TTL without modifying contents.
type Store interface {
	Put(ctx context.Context, sessionID string, patch map[string]any) error
	Get(ctx context.Context, sessionID string) (map[string]any, error)
	Delete(ctx context.Context, sessionID string) error
	Touch(ctx context.Context, sessionID string) error
}

// Verified reports whether bag marks the session's user as identity-verified.
func Verified(bag map[string]any) bool {
	v, ok := bag[KeyVerified]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}

// StringField returns bag[key] as a string, or "" when absent or not a string.
func StringField(bag map[string]any, key string) string {
	if s, ok := bag[key].(string); ok {
		return s
	}
	return ""
}
