// Package idempotency deduplicates retried mutating requests by a
// caller-supplied key. A key is bound to a scope (logical operation + actor)
// and a digest of the normalized payload; replays return the stored response
// without re-executing side effects, and any reuse with a different scope or
// payload is a conflict the caller must surface.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Header is the transport for the optional caller-supplied key.
const Header = "Idempotency-Key"

var (
	ErrScopeMismatch   = errors.New("idempotency key scope mismatch")
	ErrPayloadMismatch = errors.New("idempotency key already used with different payload")
)

type Record struct {
	Key         string
	Scope       string
	RequestHash string
	Response    []byte
	CreatedAt   time.Time
}

// Records is the storage boundary for idempotency records. Get returns
// store.ErrNotFound-compatible errors via the NotFound check in the guard.
type Records interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, rec Record) error
}

type Guard struct {
	records  Records
	notFound func(error) bool
}

// NewGuard builds a guard over the given record store. notFound classifies
// the store's absence error.
func NewGuard(records Records, notFound func(error) bool) *Guard {
	return &Guard{records: records, notFound: notFound}
}

// KeyFromRequest extracts the optional key from the request headers.
func KeyFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Hash digests the normalized request payload. Marshalling a map yields
// sorted keys, so the digest is stable across field ordering.
func Hash(fields map[string]any) string {
	raw, _ := json.Marshal(fields)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Before checks a key ahead of executing a mutation. An empty key means the
// caller opted out of deduplication: every such request is fresh. A stored
// response is returned for an exact replay; a reused key with a different
// scope or payload is a conflict.
func (g *Guard) Before(ctx context.Context, key, scope, requestHash string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := g.records.Get(ctx, key)
	if err != nil {
		if g.notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Scope != scope {
		return nil, ErrScopeMismatch
	}
	if rec.RequestHash != requestHash {
		return nil, ErrPayloadMismatch
	}
	if len(rec.Response) == 0 {
		// First attempt died before After ran; let this one through.
		return nil, nil
	}
	return rec.Response, nil
}

// After stores the response under the key. No-op when the caller supplied no
// key.
func (g *Guard) After(ctx context.Context, key, scope, requestHash string, response []byte) error {
	if key == "" {
		return nil
	}
	return g.records.Put(ctx, Record{
		Key:         key,
		Scope:       scope,
		RequestHash: requestHash,
		Response:    response,
		CreatedAt:   time.Now().UTC(),
	})
}
