package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/recoverylabs/recoveryd/types"
)

var (
	// mapping account -> (free, reserved)
	balanceBucketName = []byte("balances")

	// ErrCorruptedLedgerDB For some reason, db on disk representation have changed
	ErrCorruptedLedgerDB = errors.New("ledger db is corrupted")
)

// BankLedger is a bolt-backed DepositLedger. Balance arithmetic goes through
// arbitrary-precision integers and fails closed whenever a result would not
// fit a uint64.
type BankLedger struct {
	db kvdb.Backend
}

// NewBankLedger returns a new ledger backed by db
func NewBankLedger(db kvdb.Backend) (*BankLedger, error) {
	l := &BankLedger{db}
	if err := l.initBuckets(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *BankLedger) initBuckets() error {
	if err := kvdb.Batch(l.db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(balanceBucketName)
		if err != nil {
			return fmt.Errorf("failed to create balance bucket: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize ledger buckets: %w", err)
	}

	return nil
}

type balance struct {
	free     uint64
	reserved uint64
}

func marshalBalance(b balance) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], b.free)
	binary.BigEndian.PutUint64(buf[8:16], b.reserved)

	return buf[:]
}

func unmarshalBalance(b []byte) (balance, error) {
	if b == nil {
		return balance{}, nil
	}
	if len(b) != 16 {
		return balance{}, ErrCorruptedLedgerDB
	}

	return balance{
		free:     binary.BigEndian.Uint64(b[0:8]),
		reserved: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// checkedAdd adds two uint64 balances, failing closed on overflow.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := sdkmath.NewIntFromUint64(a).Add(sdkmath.NewIntFromUint64(b))
	if !sum.IsUint64() {
		return 0, ErrBalanceOverflow
	}

	return sum.Uint64(), nil
}

// Deposit credits amount to the account's free balance. It is how accounts
// are provisioned; the recovery protocol itself never mints.
func (l *BankLedger) Deposit(account types.AccountID, amount uint64) error {
	return l.update(account, func(b *balance) error {
		free, err := checkedAdd(b.free, amount)
		if err != nil {
			return err
		}
		b.free = free

		return nil
	})
}

// Transfer moves amount between free balances.
func (l *BankLedger) Transfer(from, to types.AccountID, amount uint64) error {
	if from.Equal(to) {
		return nil
	}

	return kvdb.Batch(l.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(balanceBucketName)
		if bucket == nil {
			return ErrCorruptedLedgerDB
		}

		fromBal, err := unmarshalBalance(bucket.Get(from.Bytes()))
		if err != nil {
			return err
		}
		if fromBal.free < amount {
			return ErrInsufficientBalance
		}

		toBal, err := unmarshalBalance(bucket.Get(to.Bytes()))
		if err != nil {
			return err
		}
		toFree, err := checkedAdd(toBal.free, amount)
		if err != nil {
			return err
		}

		fromBal.free -= amount
		toBal.free = toFree

		if err := bucket.Put(from.Bytes(), marshalBalance(fromBal)); err != nil {
			return err
		}

		return bucket.Put(to.Bytes(), marshalBalance(toBal))
	})
}

func (l *BankLedger) Reserve(account types.AccountID, amount uint64) error {
	return l.update(account, func(b *balance) error {
		if b.free < amount {
			return ErrInsufficientBalance
		}
		reserved, err := checkedAdd(b.reserved, amount)
		if err != nil {
			return err
		}

		b.free -= amount
		b.reserved = reserved

		return nil
	})
}

func (l *BankLedger) Unreserve(account types.AccountID, amount uint64) error {
	return l.update(account, func(b *balance) error {
		if b.reserved < amount {
			return ErrInsufficientBalance
		}
		free, err := checkedAdd(b.free, amount)
		if err != nil {
			return err
		}

		b.reserved -= amount
		b.free = free

		return nil
	})
}

func (l *BankLedger) RepatriateReserved(from, to types.AccountID, amount uint64) error {
	if from.Equal(to) {
		return l.Unreserve(from, amount)
	}

	return kvdb.Batch(l.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(balanceBucketName)
		if bucket == nil {
			return ErrCorruptedLedgerDB
		}

		fromBal, err := unmarshalBalance(bucket.Get(from.Bytes()))
		if err != nil {
			return err
		}
		if fromBal.reserved < amount {
			return ErrInsufficientBalance
		}

		toBal, err := unmarshalBalance(bucket.Get(to.Bytes()))
		if err != nil {
			return err
		}
		toFree, err := checkedAdd(toBal.free, amount)
		if err != nil {
			return err
		}

		fromBal.reserved -= amount
		toBal.free = toFree

		if err := bucket.Put(from.Bytes(), marshalBalance(fromBal)); err != nil {
			return err
		}

		return bucket.Put(to.Bytes(), marshalBalance(toBal))
	})
}

func (l *BankLedger) FreeBalance(account types.AccountID) (uint64, error) {
	b, err := l.get(account)
	if err != nil {
		return 0, err
	}

	return b.free, nil
}

func (l *BankLedger) ReservedBalance(account types.AccountID) (uint64, error) {
	b, err := l.get(account)
	if err != nil {
		return 0, err
	}

	return b.reserved, nil
}

func (l *BankLedger) get(account types.AccountID) (balance, error) {
	var bal balance

	if err := l.db.View(func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(balanceBucketName)
		if bucket == nil {
			return ErrCorruptedLedgerDB
		}

		b, err := unmarshalBalance(bucket.Get(account.Bytes()))
		if err != nil {
			return err
		}
		bal = b

		return nil
	}, func() {}); err != nil {
		return balance{}, err
	}

	return bal, nil
}

func (l *BankLedger) update(account types.AccountID, fn func(b *balance) error) error {
	return kvdb.Batch(l.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(balanceBucketName)
		if bucket == nil {
			return ErrCorruptedLedgerDB
		}

		return updateBalance(bucket, account, fn)
	})
}

func updateBalance(bucket walletdb.ReadWriteBucket, account types.AccountID, fn func(b *balance) error) error {
	bal, err := unmarshalBalance(bucket.Get(account.Bytes()))
	if err != nil {
		return err
	}

	if err := fn(&bal); err != nil {
		return err
	}

	return bucket.Put(account.Bytes(), marshalBalance(bal))
}
