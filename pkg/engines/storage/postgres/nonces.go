package postgres

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/models"
	"gorm.io/gorm"
)

const nonceDBName = "nonces"

type PostgresNonceStore struct {
	querier *postgresDBQuerier[models.Nonce]
}

func NewNonceRepository(logger *logrus.Entry, db *gorm.DB) (*PostgresNonceStore, error) {
	querier := TableQuery[models.Nonce](db, nonceDBName, "value")

	return &PostgresNonceStore{
		querier: querier,
	}, nil
}

func (db *PostgresNonceStore) SelectExists(ctx context.Context, value string) (bool, *models.Nonce, error) {
	return db.querier.SelectExists(ctx, map[string]any{"value": value})
}

func (db *PostgresNonceStore) Insert(ctx context.Context, nonce *models.Nonce) (*models.Nonce, error) {
	return db.querier.Insert(ctx, nonce)
}

func (db *PostgresNonceStore) Consume(ctx context.Context, value string, now time.Time) (bool, error) {
	return db.querier.ConditionalUpdate(ctx,
		map[string]any{"value": value},
		"consumed = ? AND expires_at > ?", []any{false, now},
		map[string]any{"consumed": true},
	)
}

func (db *PostgresNonceStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return db.querier.DeleteWhere(ctx, "expires_at < ?", now)
}
