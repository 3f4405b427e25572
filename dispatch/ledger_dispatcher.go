package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/recoverylabs/recoveryd/ledger"
	"github.com/recoverylabs/recoveryd/types"
)

// TransferOp is the one operation the daemon executes natively: a
// free-balance transfer from the acting account.
type TransferOp struct {
	Type   string `json:"type"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

const OpTypeTransfer = "transfer"

// LedgerDispatcher executes JSON-encoded ledger operations.
type LedgerDispatcher struct {
	bank     *ledger.BankLedger
	resolver types.AccountResolver
	logger   *zap.Logger
}

func NewLedgerDispatcher(bank *ledger.BankLedger, resolver types.AccountResolver, logger *zap.Logger) *LedgerDispatcher {
	return &LedgerDispatcher{
		bank:     bank,
		resolver: resolver,
		logger:   logger,
	}
}

func (d *LedgerDispatcher) Dispatch(_ context.Context, acting types.AccountID, operation []byte) error {
	var op TransferOp
	if err := json.Unmarshal(operation, &op); err != nil {
		return fmt.Errorf("undecodable operation: %w", err)
	}

	if op.Type != OpTypeTransfer {
		return fmt.Errorf("unsupported operation type: %s", op.Type)
	}

	to, err := d.resolver.Resolve(op.To)
	if err != nil {
		return fmt.Errorf("unresolvable transfer destination: %w", err)
	}

	if err := d.bank.Transfer(acting, to, op.Amount); err != nil {
		return err
	}

	d.logger.Debug("dispatched transfer",
		zap.String("acting", acting.MarshalHex()),
		zap.String("to", to.MarshalHex()),
		zap.Uint64("amount", op.Amount))

	return nil
}
