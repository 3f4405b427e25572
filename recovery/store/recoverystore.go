package store

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/recoverylabs/recoveryd/types"
)

var (
	// one nested bucket per lost account, entries keyed by rescuer
	activeRecoveryBucketName = []byte("activeRecoveries")

	errStopIteration = errors.New("stop iteration")
)

// ActiveRecoveryStore persists recovery attempts keyed by the
// (lost account, rescuer) pair. Attempts of one lost account live in a
// nested bucket so that "any attempt open for this account?" is a direct
// lookup.
type ActiveRecoveryStore struct {
	db kvdb.Backend
}

// NewActiveRecoveryStore returns a new store backed by db
func NewActiveRecoveryStore(db kvdb.Backend) (*ActiveRecoveryStore, error) {
	s := &ActiveRecoveryStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *ActiveRecoveryStore) initBuckets() error {
	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(activeRecoveryBucketName)
		if err != nil {
			return fmt.Errorf("failed to create active recovery bucket: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize active recovery buckets: %w", err)
	}

	return nil
}

// CreateRecovery persists a fresh attempt for the pair. It fails with
// ErrDuplicateRecovery if the rescuer already has an attempt open against
// the lost account.
func (s *ActiveRecoveryStore) CreateRecovery(lost, rescuer types.AccountID, rec *StoredActiveRecovery) error {
	if rec == nil {
		return fmt.Errorf("cannot save nil active recovery")
	}

	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		topBucket := tx.ReadWriteBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket, err := topBucket.CreateBucketIfNotExists(lost.Bytes())
		if err != nil {
			return fmt.Errorf("failed to create lost account bucket: %w", err)
		}

		if lostBucket.Get(rescuer.Bytes()) != nil {
			return ErrDuplicateRecovery
		}

		return lostBucket.Put(rescuer.Bytes(), marshalActiveRecovery(rec))
	}); err != nil {
		return fmt.Errorf("failed to create active recovery: %w", err)
	}

	return nil
}

// GetRecovery fetches the attempt of the pair.
func (s *ActiveRecoveryStore) GetRecovery(lost, rescuer types.AccountID) (*StoredActiveRecovery, error) {
	var storedRec *StoredActiveRecovery

	if err := s.db.View(func(tx kvdb.RTx) error {
		topBucket := tx.ReadBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket := topBucket.NestedReadBucket(lost.Bytes())
		if lostBucket == nil {
			return ErrRecoveryNotFound
		}

		recBytes := lostBucket.Get(rescuer.Bytes())
		if recBytes == nil {
			return ErrRecoveryNotFound
		}

		rec, err := unmarshalActiveRecovery(recBytes)
		if err != nil {
			return ErrCorruptedRecoveryDB
		}
		storedRec = rec

		return nil
	}, func() {}); err != nil {
		return nil, err
	}

	return storedRec, nil
}

// UpdateRecovery applies stateTransitionFn to the stored attempt of the pair
// and persists the result.
func (s *ActiveRecoveryStore) UpdateRecovery(
	lost, rescuer types.AccountID,
	stateTransitionFn func(rec *StoredActiveRecovery) error,
) error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		topBucket := tx.ReadWriteBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket := topBucket.NestedReadWriteBucket(lost.Bytes())
		if lostBucket == nil {
			return ErrRecoveryNotFound
		}

		recBytes := lostBucket.Get(rescuer.Bytes())
		if recBytes == nil {
			return ErrRecoveryNotFound
		}

		rec, err := unmarshalActiveRecovery(recBytes)
		if err != nil {
			return ErrCorruptedRecoveryDB
		}

		if err := stateTransitionFn(rec); err != nil {
			return err
		}

		return lostBucket.Put(rescuer.Bytes(), marshalActiveRecovery(rec))
	})
}

// RemoveRecovery deletes the attempt of the pair, dropping the lost account's
// nested bucket when its last attempt goes away.
func (s *ActiveRecoveryStore) RemoveRecovery(lost, rescuer types.AccountID) error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		topBucket := tx.ReadWriteBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket := topBucket.NestedReadWriteBucket(lost.Bytes())
		if lostBucket == nil {
			return ErrRecoveryNotFound
		}

		if lostBucket.Get(rescuer.Bytes()) == nil {
			return ErrRecoveryNotFound
		}

		if err := lostBucket.Delete(rescuer.Bytes()); err != nil {
			return fmt.Errorf("failed to delete active recovery: %w", err)
		}

		if bucketIsEmpty(lostBucket) {
			return topBucket.DeleteNestedBucket(lost.Bytes())
		}

		return nil
	})
}

// HasRecoveriesFor reports whether at least one attempt references the lost
// account.
func (s *ActiveRecoveryStore) HasRecoveriesFor(lost types.AccountID) (bool, error) {
	var found bool

	if err := s.db.View(func(tx kvdb.RTx) error {
		topBucket := tx.ReadBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket := topBucket.NestedReadBucket(lost.Bytes())
		if lostBucket == nil {
			return nil
		}

		err := lostBucket.ForEach(func(_, _ []byte) error {
			found = true

			return errStopIteration
		})
		if errors.Is(err, errStopIteration) {
			return nil
		}

		return err
	}, func() {}); err != nil {
		return false, fmt.Errorf("failed to check active recoveries: %w", err)
	}

	return found, nil
}

// GetRecoveriesFor fetches all open attempts against the lost account keyed
// by rescuer.
func (s *ActiveRecoveryStore) GetRecoveriesFor(lost types.AccountID) (map[types.AccountID]*StoredActiveRecovery, error) {
	recs := make(map[types.AccountID]*StoredActiveRecovery)

	if err := s.db.View(func(tx kvdb.RTx) error {
		topBucket := tx.ReadBucket(activeRecoveryBucketName)
		if topBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBucket := topBucket.NestedReadBucket(lost.Bytes())
		if lostBucket == nil {
			return nil
		}

		return lostBucket.ForEach(func(k, v []byte) error {
			rescuer, err := types.NewAccountIDFromBytes(k)
			if err != nil {
				return ErrCorruptedRecoveryDB
			}

			rec, err := unmarshalActiveRecovery(v)
			if err != nil {
				return ErrCorruptedRecoveryDB
			}
			recs[rescuer] = rec

			return nil
		})
	}, func() {}); err != nil {
		return nil, fmt.Errorf("failed to get active recoveries: %w", err)
	}

	return recs, nil
}

func bucketIsEmpty(bucket walletdb.ReadWriteBucket) bool {
	empty := true
	_ = bucket.ForEach(func(_, _ []byte) error {
		empty = false

		return errStopIteration
	})

	return empty
}
