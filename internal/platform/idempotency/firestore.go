package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

type FirestoreOption func(*FirestoreStore)

func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// FirestoreStore keeps records in Firestore so every API instance sees the same reservations.
// Documents are keyed by the SHA-256 of the scoped key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	docs       *pfirestore.Collection[keyDocument]
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.docs = pfirestore.NewCollection[keyDocument](provider, s.collection)
	return s
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ref, err := s.docs.DocumentRef(ctx, hashKey(key))
	if err != nil {
		return Reservation{}, err
	}

	var out Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, found, err := s.read(tx, ref)
		if err != nil {
			return err
		}
		if found {
			res, held, err := current.answer(fingerprint, now)
			if held || err != nil {
				out = res
				return err
			}
		}
		rec := newRecord(key, fingerprint, now, ttl)
		out = Reservation{State: Acquired, Record: rec}
		return tx.Set(ref, toDocument(rec))
	}, pfirestore.WithTxOp("idempotency.reserve"))
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.docs.DocumentRef(ctx, hashKey(key))
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rec, found, err := s.read(tx, ref)
		switch {
		case err != nil:
			return err
		case !found:
			rec = Record{Key: key, Fingerprint: fingerprint}
		case rec.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		return tx.Set(ref, toDocument(rec.complete(resp, now.UTC(), ttl)))
	}, pfirestore.WithTxOp("idempotency.save_response"))
}

func (s *FirestoreStore) read(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snap, err := tx.Get(ref)
	if pfirestore.IsNotFound(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	doc, err := s.docs.Decode(snap)
	if err != nil {
		return Record{}, false, err
	}
	return doc.Data.record(), true, nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	err := s.docs.Delete(ctx, hashKey(key))
	if pfirestore.IsNotFound(err) {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit (default 100) expired documents in one bulk write.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired, err := s.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	bulk := client.BulkWriter(ctx)
	defer bulk.End()
	for _, doc := range expired {
		ref, err := s.docs.DocumentRef(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		if _, err := bulk.Delete(ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	return len(expired), nil
}

type keyDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Phase       string              `firestore:"status"`
	Code        int                 `firestore:"responseStatus"`
	Header      map[string][]string `firestore:"responseHeaders"`
	Body        []byte              `firestore:"responseBody"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toDocument(r Record) keyDocument {
	return keyDocument{
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Phase:       string(r.Phase),
		Code:        r.Code,
		Header:      r.Header,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (d keyDocument) record() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Phase:       Phase(d.Phase),
		Code:        d.Code,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
