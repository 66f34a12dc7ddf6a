package storage

import (
	"context"
	"time"

	"github.com/trustbroker/trustbroker/pkg/models"
)

// TransactionRepo owns the transaction records. Advance is the single point
// of mutual exclusion for a transaction's visible state: it is a conditional
// check-state-and-set, and a losing concurrent attempt observes the
// post-transition state instead of performing the update.
type TransactionRepo interface {
	Count(ctx context.Context) (int, error)
	SelectExists(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string) (bool, *models.Transaction, error)
	Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	// Advance atomically moves a transaction from one state to another.
	// It returns false, without error, when the transaction was not in the
	// expected state at update time.
	Advance(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string, from, to models.TransactionState) (bool, error)
	// SelectOverdue streams every non-terminal transaction whose expiry has
	// passed. The sweep expires each one through Advance, so a transaction
	// that completes mid-sweep is left alone.
	SelectOverdue(ctx context.Context, now time.Time, applyFunc func(models.Transaction)) error
}

// NonceRepo owns the single-use anti-replay tokens. Consume and the sweep
// operate on the same conditional-update primitive, so the sweep can never
// remove a nonce mid-consumption.
type NonceRepo interface {
	Insert(ctx context.Context, nonce *models.Nonce) (*models.Nonce, error)
	SelectExists(ctx context.Context, value string) (bool, *models.Nonce, error)
	// Consume atomically marks an unconsumed, unexpired nonce as consumed.
	// It returns false, without error, when the nonce was already consumed
	// or expired at update time.
	Consume(ctx context.Context, value string, now time.Time) (bool, error)
	// DeleteExpired removes every nonce past its expiry, consumed or not,
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type ProfileRepo interface {
	Count(ctx context.Context) (int, error)
	SelectAll(ctx context.Context, applyFunc func(models.EnrollmentProfile)) error
	SelectExists(ctx context.Context, name string) (bool, *models.EnrollmentProfile, error)
	Insert(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error)
	Update(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error)
	Delete(ctx context.Context, name string) error
}

// StorageEngine hands out the repositories backed by one storage
// technology.
type StorageEngine interface {
	GetTransactionStorage() (TransactionRepo, error)
	GetNonceStorage() (NonceRepo, error)
	GetProfileStorage() (ProfileRepo, error)
}
