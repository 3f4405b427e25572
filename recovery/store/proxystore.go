package store

import (
	"encoding/binary"
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/recoverylabs/recoveryd/types"
)

var (
	// mapping rescuer -> lost account
	proxyLinkBucketName = []byte("proxyLinks")
	// mapping account -> hold count, blocks identity teardown while non-zero
	accountHoldBucketName = []byte("accountHolds")
)

// ProxyStore persists proxy links and the hold counts that keep a linked
// rescuer's identity alive. A link and its hold are always written in the
// same transaction.
type ProxyStore struct {
	db kvdb.Backend
}

// NewProxyStore returns a new store backed by db
func NewProxyStore(db kvdb.Backend) (*ProxyStore, error) {
	s := &ProxyStore{db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *ProxyStore) initBuckets() error {
	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		if _, err := tx.CreateTopLevelBucket(proxyLinkBucketName); err != nil {
			return fmt.Errorf("failed to create proxy link bucket: %w", err)
		}

		if _, err := tx.CreateTopLevelBucket(accountHoldBucketName); err != nil {
			return fmt.Errorf("failed to create account hold bucket: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize proxy buckets: %w", err)
	}

	return nil
}

// SetLink installs rescuer -> lost and registers a hold on the rescuer's
// identity. It fails with ErrDuplicateLink if the rescuer is already linked.
func (s *ProxyStore) SetLink(rescuer, lost types.AccountID) error {
	if err := kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		linkBucket := tx.ReadWriteBucket(proxyLinkBucketName)
		holdBucket := tx.ReadWriteBucket(accountHoldBucketName)
		if linkBucket == nil || holdBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		if linkBucket.Get(rescuer.Bytes()) != nil {
			return ErrDuplicateLink
		}

		if err := linkBucket.Put(rescuer.Bytes(), lost.Bytes()); err != nil {
			return fmt.Errorf("failed to store proxy link: %w", err)
		}

		count := holdCount(holdBucket.Get(rescuer.Bytes()))

		return holdBucket.Put(rescuer.Bytes(), uint64ToBytes(count+1))
	}); err != nil {
		return err
	}

	return nil
}

// GetLink fetches the lost account the rescuer is linked to.
func (s *ProxyStore) GetLink(rescuer types.AccountID) (types.AccountID, error) {
	var lost types.AccountID

	if err := s.db.View(func(tx kvdb.RTx) error {
		linkBucket := tx.ReadBucket(proxyLinkBucketName)
		if linkBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		lostBytes := linkBucket.Get(rescuer.Bytes())
		if lostBytes == nil {
			return ErrLinkNotFound
		}

		id, err := types.NewAccountIDFromBytes(lostBytes)
		if err != nil {
			return ErrCorruptedRecoveryDB
		}
		lost = id

		return nil
	}, func() {}); err != nil {
		return types.AccountID{}, err
	}

	return lost, nil
}

// RemoveLink deletes the rescuer's link and releases the matching hold.
func (s *ProxyStore) RemoveLink(rescuer types.AccountID) error {
	return kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		linkBucket := tx.ReadWriteBucket(proxyLinkBucketName)
		holdBucket := tx.ReadWriteBucket(accountHoldBucketName)
		if linkBucket == nil || holdBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		if linkBucket.Get(rescuer.Bytes()) == nil {
			return ErrLinkNotFound
		}

		if err := linkBucket.Delete(rescuer.Bytes()); err != nil {
			return fmt.Errorf("failed to delete proxy link: %w", err)
		}

		count := holdCount(holdBucket.Get(rescuer.Bytes()))
		if count == 0 {
			return ErrNoHold
		}
		if count == 1 {
			return holdBucket.Delete(rescuer.Bytes())
		}

		return holdBucket.Put(rescuer.Bytes(), uint64ToBytes(count-1))
	})
}

// HoldCount returns the current hold count of the account, zero if none.
func (s *ProxyStore) HoldCount(account types.AccountID) (uint64, error) {
	var count uint64

	if err := s.db.View(func(tx kvdb.RTx) error {
		holdBucket := tx.ReadBucket(accountHoldBucketName)
		if holdBucket == nil {
			return ErrCorruptedRecoveryDB
		}

		count = holdCount(holdBucket.Get(account.Bytes()))

		return nil
	}, func() {}); err != nil {
		return 0, err
	}

	return count, nil
}

func holdCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(b)
}

// Converts an uint64 value to a byte slice.
func uint64ToBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return buf[:]
}
