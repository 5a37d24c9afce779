// Package redis implements [memory.Store] on a Redis hash per session.
//
// Each session maps to one hash key ("voicemesh:memory:<sessionId>") whose
// fields are the bag keys with JSON-encoded values. HSET gives the per-field
// merge semantics the contract requires; pipelining the EXPIRE alongside
// keeps the write a single round trip.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voicemesh/voicemesh/internal/memory"
)

const keyPrefix = "voicemesh:memory:"

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// Store is a Redis-backed session memory store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL overrides the idle expiry applied on every write and touch.
// The default is [memory.DefaultTTL].
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a Store on the given Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, ttl: memory.DefaultTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put implements [memory.Store]. Each patch field is JSON-encoded and
// written with HSET; the TTL is reset in the same pipeline so the merge and
// the expiry land atomically from the caller's perspective.
func (s *Store) Put(ctx context.Context, sessionID string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	fields := make(map[string]string, len(patch))
	for k, v := range patch {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("memory: encode field %q: %w", k, err)
		}
		fields[k] = string(data)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyPrefix+sessionID, fields)
	pipe.Expire(ctx, keyPrefix+sessionID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put %s: %v", memory.ErrUnavailable, sessionID, err)
	}
	return nil
}

// Get implements [memory.Store]. A missing entry returns an empty,
// non-nil map.
func (s *Store) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", memory.ErrUnavailable, sessionID, err)
	}

	bag := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// A field written by an older agent build may be a bare string.
			bag[k] = raw
			continue
		}
		bag[k] = v
	}
	return bag, nil
}

// Delete implements [memory.Store].
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", memory.ErrUnavailable, sessionID, err)
	}
	return nil
}

// Touch implements [memory.Store]. Touching a non-existent entry is a no-op.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	if err := s.client.Expire(ctx, keyPrefix+sessionID, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: touch %s: %v", memory.ErrUnavailable, sessionID, err)
	}
	return nil
}

// Ping verifies connectivity to the Redis backend. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}
	return nil
}
