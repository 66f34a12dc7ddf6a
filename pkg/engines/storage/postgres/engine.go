package postgres

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"gorm.io/gorm"
)

type PostgresStorageEngine struct {
	storage.CommonStorageEngine
	Config config.PostgresConfig
	logger *log.Entry
	db     *gorm.DB
}

func NewStorageEngine(logger *log.Entry, config config.PostgresConfig) (storage.StorageEngine, error) {
	return &PostgresStorageEngine{
		Config: config,
		logger: logger,
	}, nil
}

func (s *PostgresStorageEngine) connection() (*gorm.DB, error) {
	if s.db != nil {
		return s.db, nil
	}

	psqlCli, err := CreatePostgresDBConnection(s.logger, s.Config)
	if err != nil {
		return nil, fmt.Errorf("could not create postgres client: %s", err)
	}

	m, err := NewMigrator(s.logger, psqlCli)
	if err != nil {
		return nil, err
	}

	if err := m.MigrateToLatest(); err != nil {
		return nil, err
	}

	s.db = psqlCli
	return s.db, nil
}

func (s *PostgresStorageEngine) GetTransactionStorage() (storage.TransactionRepo, error) {
	if s.Transactions == nil {
		psqlCli, err := s.connection()
		if err != nil {
			return nil, err
		}

		store, err := NewTransactionRepository(s.logger, psqlCli)
		if err != nil {
			return nil, fmt.Errorf("could not initialize postgres transaction client: %s", err)
		}
		s.Transactions = store
	}

	return s.Transactions, nil
}

func (s *PostgresStorageEngine) GetNonceStorage() (storage.NonceRepo, error) {
	if s.Nonces == nil {
		psqlCli, err := s.connection()
		if err != nil {
			return nil, err
		}

		store, err := NewNonceRepository(s.logger, psqlCli)
		if err != nil {
			return nil, fmt.Errorf("could not initialize postgres nonce client: %s", err)
		}
		s.Nonces = store
	}

	return s.Nonces, nil
}

func (s *PostgresStorageEngine) GetProfileStorage() (storage.ProfileRepo, error) {
	if s.Profiles == nil {
		psqlCli, err := s.connection()
		if err != nil {
			return nil, err
		}

		store, err := NewProfileRepository(s.logger, psqlCli)
		if err != nil {
			return nil, fmt.Errorf("could not initialize postgres profile client: %s", err)
		}
		s.Profiles = store
	}

	return s.Profiles, nil
}
