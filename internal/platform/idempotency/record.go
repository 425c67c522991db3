package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// hopHeaders are never replayed; the server sets them per response.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Set-Cookie":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func keepFor(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func newRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Phase:       PhaseReserved,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(keepFor(ttl)),
	}
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// answer reports how r responds to a new reservation attempt. held is false when r has expired
// and the key may be claimed again.
func (r Record) answer(fingerprint string, now time.Time) (res Reservation, held bool, err error) {
	if r.expired(now) {
		return Reservation{}, false, nil
	}
	if r.Fingerprint != fingerprint {
		return Reservation{}, true, ErrFingerprintMismatch
	}
	state := InFlight
	if r.Phase == PhaseStored {
		state = Replay
	}
	return Reservation{State: state, Record: r}, true, nil
}

func (r Record) complete(resp Response, now time.Time, ttl time.Duration) Record {
	r.Phase = PhaseStored
	r.Code = resp.Status
	r.Header = replayable(resp.Headers)
	r.Body = nil
	if len(resp.Body) > 0 {
		r.Body = append([]byte(nil), resp.Body...)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.ExpiresAt = now.Add(keepFor(ttl))
	return r
}

// hashKey turns a caller supplied key into a fixed length identifier safe for document IDs and
// Redis keys.
func hashKey(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func replayable(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
