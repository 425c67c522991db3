// Package idempotency lets clients retry unsafe requests (checkout, payment verification) with an
// Idempotency-Key header and get the first response back instead of a second side effect.
package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const DefaultTTL = 24 * time.Hour

// Phase is persisted as "pending" until the handler's response is stored.
type Phase string

const (
	PhaseReserved Phase = "pending"
	PhaseStored   Phase = "completed"
)

// Outcome tells the middleware what to do after Reserve.
type Outcome int

const (
	Acquired Outcome = iota // run the handler
	Replay                  // write Record's response back
	InFlight                // another request holds the key
)

type Reservation struct {
	State  Outcome
	Record Record
}

// Record is one key as persisted by a Store. Code, Header and Body stay empty while the phase is
// PhaseReserved.
type Record struct {
	Key         string
	Fingerprint string
	Phase       Phase
	Code        int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store must make Reserve and SaveResponse atomic per key across every instance sharing it.
// CleanupExpired returns how many records it removed.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch means the key was first used for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for another request")

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FirestoreStore)(nil)
	_ Store = (*RedisStore)(nil)
)
