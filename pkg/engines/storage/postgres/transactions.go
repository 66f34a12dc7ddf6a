package postgres

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/models"
	"gorm.io/gorm"
)

const transactionDBName = "transactions"

type PostgresTransactionStore struct {
	querier *postgresDBQuerier[models.Transaction]
}

func NewTransactionRepository(logger *logrus.Entry, db *gorm.DB) (*PostgresTransactionStore, error) {
	querier := TableQuery[models.Transaction](db, transactionDBName, "transaction_id")

	return &PostgresTransactionStore{
		querier: querier,
	}, nil
}

func (db *PostgresTransactionStore) Count(ctx context.Context) (int, error) {
	return db.querier.Count(ctx)
}

func (db *PostgresTransactionStore) SelectExists(ctx context.Context, protocol models.ProtocolKind, profileName string, transactionID string) (bool, *models.Transaction, error) {
	return db.querier.SelectExists(ctx, map[string]any{
		"protocol":       protocol,
		"profile_name":   profileName,
		"transaction_id": transactionID,
	})
}

func (db *PostgresTransactionStore) Insert(ctx context.Context, transaction *models.Transaction) (*models.Transaction, error) {
	return db.querier.Insert(ctx, transaction)
}

func (db *PostgresTransactionStore) Advance(ctx context.Context, protocol models.ProtocolKind, profileName string, transactionID string, from models.TransactionState, to models.TransactionState) (bool, error) {
	return db.querier.ConditionalUpdate(ctx,
		map[string]any{
			"protocol":       protocol,
			"profile_name":   profileName,
			"transaction_id": transactionID,
		},
		"state = ?", []any{from},
		map[string]any{"state": to},
	)
}

func (db *PostgresTransactionStore) SelectOverdue(ctx context.Context, now time.Time, applyFunc func(models.Transaction)) error {
	return db.querier.SelectAllWhere(ctx,
		"expires_at < ? AND state IN ?",
		[]any{now, []models.TransactionState{models.TxStateStarted, models.TxStateAwaitingConfirmation}},
		applyFunc,
	)
}
