package firestore

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

// Reservation collections hold one document per claimed unique value. The document ID is the
// encoded value and the payload points back at the owning entity.
const (
	accountEmailCollection     = "accountEmails"
	productSlugCollection      = "productSlugs"
	categorySlugCollection     = "categorySlugs"
	orderReferenceCollection   = "orderReferences"
	paymentReferenceCollection = "paymentReferences"
)

type reservationDocument struct {
	OwnerID   string    `firestore:"ownerId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// reservationKey joins the parts and encodes them into a valid document ID.
func reservationKey(parts ...string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(parts, "|")))
}

// ensureUnclaimed reads the reservation inside tx and fails with a conflict when it exists.
func ensureUnclaimed(tx *firestore.Transaction, ref *firestore.DocumentRef, op string) error {
	snap, err := tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil
		}
		return err
	}
	if snap.Exists() {
		return pfirestore.Conflict(op, fmt.Errorf("%s/%s already claimed", ref.Parent.ID, ref.ID))
	}
	return nil
}

func clampPageSize(size, fallback, max int) int {
	switch {
	case size <= 0:
		return fallback
	case size > max:
		return max
	default:
		return size
	}
}
