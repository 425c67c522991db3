package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	userCollection  = "users"
	adminCollection = "admins"
)

// AccountRepository stores users and admins in separate collections. Emails are
// reserved per kind so registration races resolve to a single winner.
type AccountRepository struct {
	users    *pfirestore.Collection[accountDocument]
	admins   *pfirestore.Collection[accountDocument]
	emails   *pfirestore.Collection[reservationDocument]
	provider *pfirestore.Provider
}

// NewAccountRepository constructs a Firestore-backed account repository.
func NewAccountRepository(provider *pfirestore.Provider) (*AccountRepository, error) {
	if provider == nil {
		return nil, errors.New("account repository requires firestore provider")
	}
	return &AccountRepository{
		users:    pfirestore.NewCollection[accountDocument](provider, userCollection),
		admins:   pfirestore.NewCollection[accountDocument](provider, adminCollection),
		emails:   pfirestore.NewCollection[reservationDocument](provider, accountEmailCollection),
		provider: provider,
	}, nil
}

// Insert creates the account and claims its email for the account kind.
func (r *AccountRepository) Insert(ctx context.Context, account domain.Account) error {
	base, err := r.collection(account.Kind)
	if err != nil {
		return err
	}
	accountID := strings.TrimSpace(account.ID)
	email := strings.ToLower(strings.TrimSpace(account.Email))
	if accountID == "" || email == "" {
		return errors.New("account repository: id and email are required")
	}
	accountRef, err := base.DocumentRef(ctx, accountID)
	if err != nil {
		return err
	}
	emailRef, err := r.emails.DocumentRef(ctx, reservationKey(string(account.Kind), email))
	if err != nil {
		return err
	}

	doc := fromDomainAccount(account)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := ensureUnclaimed(tx, emailRef, "accounts.insert"); err != nil {
			return err
		}
		if err := tx.Create(accountRef, doc); err != nil {
			return err
		}
		return tx.Create(emailRef, reservationDocument{OwnerID: accountID, CreatedAt: doc.CreatedAt})
	}, pfirestore.WithTxOp("accounts.insert"))
}

// Update overwrites an existing account. The email reservation is left untouched.
func (r *AccountRepository) Update(ctx context.Context, account domain.Account) error {
	base, err := r.collection(account.Kind)
	if err != nil {
		return err
	}
	accountRef, err := base.DocumentRef(ctx, strings.TrimSpace(account.ID))
	if err != nil {
		return err
	}
	doc := fromDomainAccount(account)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(accountRef)
		if err != nil {
			return err
		}
		var stored accountDocument
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		if stored.Email != doc.Email {
			return pfirestore.Conflict("accounts.update", fmt.Errorf("email change from %q is not supported", stored.Email))
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = stored.CreatedAt
		}
		return tx.Set(accountRef, doc)
	}, pfirestore.WithTxOp("accounts.update"))
}

// FindByID loads an account of the given kind.
func (r *AccountRepository) FindByID(ctx context.Context, kind domain.AccountKind, id string) (domain.Account, error) {
	base, err := r.collection(kind)
	if err != nil {
		return domain.Account{}, err
	}
	doc, err := base.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Account{}, err
	}
	return doc.Data.toDomain(doc.ID, kind, doc.CreateTime), nil
}

// FindByEmail resolves the email reservation for the kind and loads the owner.
func (r *AccountRepository) FindByEmail(ctx context.Context, kind domain.AccountKind, email string) (domain.Account, error) {
	if _, err := r.collection(kind); err != nil {
		return domain.Account{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Account{}, pfirestore.NotFound("accounts.find_by_email", errors.New("email is required"))
	}
	reservation, err := r.emails.Get(ctx, reservationKey(string(kind), email))
	if err != nil {
		return domain.Account{}, err
	}
	return r.FindByID(ctx, kind, reservation.Data.OwnerID)
}

// FindByResetTokenHash returns the account holding the password reset token hash.
func (r *AccountRepository) FindByResetTokenHash(ctx context.Context, kind domain.AccountKind, hash string) (domain.Account, error) {
	base, err := r.collection(kind)
	if err != nil {
		return domain.Account{}, err
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return domain.Account{}, pfirestore.NotFound("accounts.find_by_reset_token", errors.New("token hash is required"))
	}
	doc, ok, err := base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("resetTokenHash", "==", hash)
	})
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, pfirestore.NotFound("accounts.find_by_reset_token", errors.New("no account holds the token"))
	}
	return doc.Data.toDomain(doc.ID, kind, doc.CreateTime), nil
}

func (r *AccountRepository) collection(kind domain.AccountKind) (*pfirestore.Collection[accountDocument], error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("account repository not initialised")
	}
	switch kind {
	case domain.AccountKindUser:
		return r.users, nil
	case domain.AccountKindAdmin:
		return r.admins, nil
	default:
		return nil, fmt.Errorf("account repository: unsupported account kind %q", kind)
	}
}

type accountDocument struct {
	Name                string     `firestore:"name"`
	Email               string     `firestore:"email"`
	Phone               string     `firestore:"phone,omitempty"`
	PasswordHash        string     `firestore:"passwordHash"`
	Roles               []string   `firestore:"roles,omitempty"`
	TokenVersion        int        `firestore:"tokenVersion"`
	ResetTokenHash      string     `firestore:"resetTokenHash,omitempty"`
	ResetTokenExpiresAt *time.Time `firestore:"resetTokenExpiresAt,omitempty"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

func fromDomainAccount(account domain.Account) accountDocument {
	return accountDocument{
		Name:                strings.TrimSpace(account.Name),
		Email:               strings.ToLower(strings.TrimSpace(account.Email)),
		Phone:               strings.TrimSpace(account.Phone),
		PasswordHash:        account.PasswordHash,
		Roles:               append([]string(nil), account.Roles...),
		TokenVersion:        account.TokenVersion,
		ResetTokenHash:      account.ResetTokenHash,
		ResetTokenExpiresAt: utcPtr(account.ResetTokenExpiresAt),
		CreatedAt:           account.CreatedAt.UTC(),
		UpdatedAt:           account.UpdatedAt.UTC(),
	}
}

func (d accountDocument) toDomain(id string, kind domain.AccountKind, createTime time.Time) domain.Account {
	account := domain.Account{
		ID:                  id,
		Kind:                kind,
		Name:                d.Name,
		Email:               d.Email,
		Phone:               d.Phone,
		PasswordHash:        d.PasswordHash,
		Roles:               append([]string(nil), d.Roles...),
		TokenVersion:        d.TokenVersion,
		ResetTokenHash:      d.ResetTokenHash,
		ResetTokenExpiresAt: utcPtr(d.ResetTokenExpiresAt),
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = createTime.UTC()
	}
	return account
}

var _ repositories.AccountRepository = (*AccountRepository)(nil)
