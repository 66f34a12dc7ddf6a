package postgres

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/models"
	"gorm.io/gorm"
)

const profileDBName = "profiles"

type PostgresProfileStore struct {
	querier *postgresDBQuerier[models.EnrollmentProfile]
}

func NewProfileRepository(logger *logrus.Entry, db *gorm.DB) (*PostgresProfileStore, error) {
	querier := TableQuery[models.EnrollmentProfile](db, profileDBName, "name")

	return &PostgresProfileStore{
		querier: querier,
	}, nil
}

func (db *PostgresProfileStore) Count(ctx context.Context) (int, error) {
	return db.querier.Count(ctx)
}

func (db *PostgresProfileStore) SelectAll(ctx context.Context, applyFunc func(profile models.EnrollmentProfile)) error {
	return db.querier.SelectAll(ctx, applyFunc)
}

func (db *PostgresProfileStore) SelectExists(ctx context.Context, name string) (bool, *models.EnrollmentProfile, error) {
	return db.querier.SelectExists(ctx, map[string]any{"name": name})
}

func (db *PostgresProfileStore) Insert(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error) {
	return db.querier.Insert(ctx, profile)
}

func (db *PostgresProfileStore) Update(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error) {
	return db.querier.Update(ctx, profile, map[string]any{"name": profile.Name})
}

func (db *PostgresProfileStore) Delete(ctx context.Context, name string) error {
	return db.querier.Delete(ctx, map[string]any{"name": name})
}
