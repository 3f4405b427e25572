package store

import (
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/recoverylabs/recoveryd/types"
)

var (
	// mapping account -> StoredRecoveryConfig
	recoveryConfigBucketName = []byte("recoveryConfigs")
)

// RecoveryConfigStore persists per-account recovery configurations.
type RecoveryConfigStore struct {
	db kvdb.Backend
}

// NewRecoveryConfigStore returns a new store backed by db
func NewRecoveryConfigStore(db kvdb.Backend) (*RecoveryConfigStore, error) {
	s := &RecoveryConfigStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *RecoveryConfigStore) initBuckets() error {
	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(recoveryConfigBucketName)
		if err != nil {
			return fmt.Errorf("failed to create recovery config bucket: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize recovery config buckets: %w", err)
	}

	return nil
}

// CreateConfig persists a configuration for the account. It fails with
// ErrDuplicateConfig if one already exists.
func (s *RecoveryConfigStore) CreateConfig(account types.AccountID, cfg *StoredRecoveryConfig) error {
	if cfg == nil {
		return fmt.Errorf("cannot save nil recovery config")
	}

	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(recoveryConfigBucketName)
		if bucket == nil {
			return ErrCorruptedRecoveryDB
		}

		// check the key first to avoid duplicates
		if bucket.Get(account.Bytes()) != nil {
			return ErrDuplicateConfig
		}

		return bucket.Put(account.Bytes(), marshalRecoveryConfig(cfg))
	}); err != nil {
		return fmt.Errorf("failed to create recovery config: %w", err)
	}

	return nil
}

// GetConfig fetches the stored configuration of the account.
func (s *RecoveryConfigStore) GetConfig(account types.AccountID) (*StoredRecoveryConfig, error) {
	var storedCfg *StoredRecoveryConfig

	if err := s.db.View(func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(recoveryConfigBucketName)
		if bucket == nil {
			return ErrCorruptedRecoveryDB
		}

		cfgBytes := bucket.Get(account.Bytes())
		if cfgBytes == nil {
			return ErrConfigNotFound
		}

		cfg, err := unmarshalRecoveryConfig(cfgBytes)
		if err != nil {
			return ErrCorruptedRecoveryDB
		}
		storedCfg = cfg

		return nil
	}, func() {}); err != nil {
		return nil, err
	}

	return storedCfg, nil
}

// RemoveConfig deletes the stored configuration of the account.
func (s *RecoveryConfigStore) RemoveConfig(account types.AccountID) error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(recoveryConfigBucketName)
		if bucket == nil {
			return ErrCorruptedRecoveryDB
		}

		if bucket.Get(account.Bytes()) == nil {
			return ErrConfigNotFound
		}

		return bucket.Delete(account.Bytes())
	})
}
