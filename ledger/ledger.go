// Package ledger defines the deposit-locking capability the recovery
// protocol consumes, and a bolt-backed implementation of it. The protocol
// never holds funds itself; every deposit is arbitrated through this
// interface.
package ledger

import (
	"errors"

	"github.com/recoverylabs/recoveryd/types"
)

var (
	// ErrInsufficientBalance the account cannot cover the requested amount
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow crediting would overflow the account's balance
	ErrBalanceOverflow = errors.New("balance overflow")
)

// DepositLedger moves funds between the free and reserved balances of
// accounts. Every method is atomic: either the full movement happens or
// nothing does.
type DepositLedger interface {
	// Reserve locks amount of the account's free balance.
	Reserve(account types.AccountID, amount uint64) error

	// Unreserve releases amount of the account's reserved balance back to
	// its free balance.
	Unreserve(account types.AccountID, amount uint64) error

	// RepatriateReserved moves amount of from's reserved balance to to's
	// free balance.
	RepatriateReserved(from, to types.AccountID, amount uint64) error

	// FreeBalance returns the spendable balance of the account.
	FreeBalance(account types.AccountID) (uint64, error)

	// ReservedBalance returns the locked balance of the account.
	ReservedBalance(account types.AccountID) (uint64, error)
}
