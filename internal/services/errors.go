package services

import (
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrAuthInvalidInput signals malformed registration or reset data.
	ErrAuthInvalidInput = errors.New("auth: invalid input")
	// ErrAuthInvalidCredentials is returned for unknown accounts, wrong passwords and stale tokens.
	ErrAuthInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAuthEmailTaken is returned when the email is already registered for the account kind.
	ErrAuthEmailTaken = errors.New("auth: email already registered")
	// ErrAuthInvalidResetToken is returned for unknown or expired reset tokens.
	ErrAuthInvalidResetToken = errors.New("auth: invalid or expired reset token")
	// ErrAuthNotFound indicates the authenticated account no longer exists.
	ErrAuthNotFound = errors.New("auth: account not found")
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product, category or subcategory does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict covers duplicate slugs and deletes blocked by dependants.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUploadUnavailable is returned when no asset bucket is configured.
	ErrCatalogUploadUnavailable = errors.New("catalog: image uploads not configured")
)

var (
	// ErrCartInvalidInput signals an invalid cart mutation.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the cart item or product does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartConflict indicates a concurrent cart update won the race.
	ErrCartConflict = errors.New("cart: conflict")
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order's current state forbids the change.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a duplicate reference or a concurrent write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderReferenceConflict is the ErrOrderConflict raised when a new order's reference is taken.
	ErrOrderReferenceConflict = fmt.Errorf("%w: order reference already exists", ErrOrderConflict)
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

var (
	// ErrPaymentInvalidInput signals an incomplete checkout or confirmation request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentUnsupported is returned for gateways that are not configured.
	ErrPaymentUnsupported = errors.New("payment: unsupported gateway")
	// ErrPaymentDeclined is returned when the gateway reports a non-successful payment.
	ErrPaymentDeclined = errors.New("payment: declined")
	// ErrPaymentMismatch is returned when the verified amount, currency or reference disagrees with the order.
	ErrPaymentMismatch = errors.New("payment: verification does not match order")
	// ErrPaymentDuplicate is returned when the gateway payment was already applied to an order.
	ErrPaymentDuplicate = errors.New("payment: already processed")
	// ErrPaymentGateway wraps gateway outages and rejected session requests.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentSignature is returned when a webhook signature does not verify.
	ErrPaymentSignature = errors.New("payment: invalid webhook signature")
)

// mapRepositoryError translates repository categories into the caller's sentinels.
func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repository unavailable: %w", err)
		}
	}

	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
