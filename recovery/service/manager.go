package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/kvdb"
	"go.uber.org/zap"

	"github.com/recoverylabs/recoveryd/dispatch"
	"github.com/recoverylabs/recoveryd/ledger"
	"github.com/recoverylabs/recoveryd/metrics"
	rcfg "github.com/recoverylabs/recoveryd/recovery/config"
	"github.com/recoverylabs/recoveryd/recovery/store"
	"github.com/recoverylabs/recoveryd/types"
	"github.com/recoverylabs/recoveryd/util"
)

// operation labels for metrics
const (
	opCreateRecovery   = "create_recovery"
	opRemoveRecovery   = "remove_recovery"
	opInitiateRecovery = "initiate_recovery"
	opVouchRecovery    = "vouch_recovery"
	opClaimRecovery    = "claim_recovery"
	opCloseRecovery    = "close_recovery"
	opAsRecovered      = "as_recovered"
	opCancelRecovered  = "cancel_recovered"
	opSetRecovered     = "set_recovered"
)

// Params are the protocol parameters of one deployment. They are fixed for
// the lifetime of the manager; deposits computed under them stay attached to
// the records they were reserved for.
type Params struct {
	// MaxFriends bounds the friend list of a configuration.
	MaxFriends uint32
	// ConfigDepositBase and FriendDepositFactor price a configuration:
	// base + factor * |friends|, overflow-checked.
	ConfigDepositBase   uint64
	FriendDepositFactor uint64
	// RecoveryDeposit is the fixed deposit of one recovery attempt.
	RecoveryDeposit uint64
	// RootAuthority, if set, may override proxy links directly.
	RootAuthority *types.AccountID
}

// ParamsFromConfig extracts protocol parameters from the daemon config.
func ParamsFromConfig(cfg *rcfg.Config) (Params, error) {
	p := Params{
		MaxFriends:          cfg.MaxFriends,
		ConfigDepositBase:   cfg.ConfigDepositBase,
		FriendDepositFactor: cfg.FriendDepositFactor,
		RecoveryDeposit:     cfg.RecoveryDeposit,
	}

	if cfg.RootAuthority != "" {
		root, err := types.NewAccountIDFromHex(cfg.RootAuthority)
		if err != nil {
			return Params{}, fmt.Errorf("invalid root authority: %w", err)
		}
		p.RootAuthority = &root
	}

	return p, nil
}

// RecoveryManager is the protocol state machine. It owns the three recovery
// tables and applies the protocol operations one at a time: each operation
// validates completely before its first write, so a rejected call leaves no
// trace.
type RecoveryManager struct {
	mu sync.Mutex

	params Params

	configs  *store.RecoveryConfigStore
	attempts *store.ActiveRecoveryStore
	proxies  *store.ProxyStore

	bank       ledger.DepositLedger
	dispatcher dispatch.Dispatcher
	clock      TimeSource

	metrics *metrics.RecoveryMetrics
	sink    EventSink
	logger  *zap.Logger
}

// NewRecoveryManager creates the manager and its stores on top of db.
func NewRecoveryManager(
	params Params,
	db kvdb.Backend,
	bank ledger.DepositLedger,
	dispatcher dispatch.Dispatcher,
	clock TimeSource,
	sink EventSink,
	m *metrics.RecoveryMetrics,
	logger *zap.Logger,
) (*RecoveryManager, error) {
	configs, err := store.NewRecoveryConfigStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate recovery config store: %w", err)
	}
	attempts, err := store.NewActiveRecoveryStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate active recovery store: %w", err)
	}
	proxies, err := store.NewProxyStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate proxy store: %w", err)
	}

	if sink == nil {
		sink = NoopEventSink{}
	}

	return &RecoveryManager{
		params:     params,
		configs:    configs,
		attempts:   attempts,
		proxies:    proxies,
		bank:       bank,
		dispatcher: dispatcher,
		clock:      clock,
		metrics:    m,
		sink:       sink,
		logger:     logger,
	}, nil
}

func (m *RecoveryManager) finish(op string, err error) error {
	if err != nil {
		m.metrics.IncOpsFailed(op)
		m.logger.Debug("operation rejected", zap.String("operation", op), zap.Error(err))

		return err
	}

	m.metrics.IncOpsProcessed(op)

	return nil
}

// CreateRecovery registers a recovery configuration for the caller and
// reserves the configuration deposit.
func (m *RecoveryManager) CreateRecovery(caller types.AccountID, friends []types.AccountID, threshold uint32, delayPeriod uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opCreateRecovery, m.createRecovery(caller, friends, threshold, delayPeriod))
}

func (m *RecoveryManager) createRecovery(caller types.AccountID, friends []types.AccountID, threshold uint32, delayPeriod uint64) error {
	if _, err := m.configs.GetConfig(caller); err == nil {
		return ErrAlreadyRecoverable
	} else if !errors.Is(err, store.ErrConfigNotFound) {
		return err
	}

	if threshold == 0 {
		return ErrZeroThreshold
	}
	if len(friends) == 0 || uint64(threshold) > uint64(len(friends)) {
		return ErrNotEnoughFriends
	}
	if uint64(len(friends)) > uint64(m.params.MaxFriends) {
		return ErrTooManyFriends
	}
	if _, err := types.NewFriendSet(friends, m.params.MaxFriends); err != nil {
		return ErrNotSorted
	}

	deposit, err := m.configDeposit(uint64(len(friends)))
	if err != nil {
		return err
	}

	if err := m.bank.Reserve(caller, deposit); err != nil {
		return m.translateLedgerErr(err)
	}

	if err := m.configs.CreateConfig(caller, &store.StoredRecoveryConfig{
		Friends:     friends,
		Threshold:   threshold,
		DelayPeriod: delayPeriod,
		Deposit:     deposit,
	}); err != nil {
		// roll the reservation back; the config was never persisted
		if uerr := m.bank.Unreserve(caller, deposit); uerr != nil {
			m.logger.Error("failed to release deposit after store failure",
				zap.String("account", caller.MarshalHex()), zap.Error(uerr))
		}

		return err
	}

	m.metrics.IncConfigs()
	m.metrics.AddDepositReserved(deposit)
	m.sink.Emit(Event{Type: EventRecoveryCreated, Account: caller, Amount: deposit})

	return nil
}

func (m *RecoveryManager) configDeposit(numFriends uint64) (uint64, error) {
	perFriend, err := util.CheckedMul(m.params.FriendDepositFactor, numFriends)
	if err != nil {
		return 0, ErrArithmeticOverflow
	}
	deposit, err := util.CheckedAdd(m.params.ConfigDepositBase, perFriend)
	if err != nil {
		return 0, ErrArithmeticOverflow
	}

	return deposit, nil
}

// RemoveRecovery deletes the caller's recovery configuration and refunds its
// deposit. It is refused while any attempt still references the caller.
func (m *RecoveryManager) RemoveRecovery(caller types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opRemoveRecovery, m.removeRecovery(caller))
}

func (m *RecoveryManager) removeRecovery(caller types.AccountID) error {
	active, err := m.attempts.HasRecoveriesFor(caller)
	if err != nil {
		return err
	}
	if active {
		return ErrStillActive
	}

	cfg, err := m.configs.GetConfig(caller)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return ErrNotRecoverable
		}

		return err
	}

	if err := m.configs.RemoveConfig(caller); err != nil {
		return err
	}

	if err := m.bank.Unreserve(caller, cfg.Deposit); err != nil {
		return m.translateLedgerErr(err)
	}

	m.metrics.DecConfigs()
	m.sink.Emit(Event{Type: EventRecoveryRemoved, Account: caller, Amount: cfg.Deposit})

	return nil
}

// InitiateRecovery opens an attempt by rescuer against the lost account and
// reserves the attempt deposit from the rescuer.
func (m *RecoveryManager) InitiateRecovery(rescuer, lost types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opInitiateRecovery, m.initiateRecovery(rescuer, lost))
}

func (m *RecoveryManager) initiateRecovery(rescuer, lost types.AccountID) error {
	if _, err := m.configs.GetConfig(lost); err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return ErrNotRecoverable
		}

		return err
	}

	if _, err := m.attempts.GetRecovery(lost, rescuer); err == nil {
		return ErrAlreadyStarted
	} else if !errors.Is(err, store.ErrRecoveryNotFound) {
		return err
	}

	deposit := m.params.RecoveryDeposit
	if err := m.bank.Reserve(rescuer, deposit); err != nil {
		return m.translateLedgerErr(err)
	}

	if err := m.attempts.CreateRecovery(lost, rescuer, &store.StoredActiveRecovery{
		CreatedAt: m.clock.Now(),
		Deposit:   deposit,
	}); err != nil {
		if uerr := m.bank.Unreserve(rescuer, deposit); uerr != nil {
			m.logger.Error("failed to release deposit after store failure",
				zap.String("account", rescuer.MarshalHex()), zap.Error(uerr))
		}

		return err
	}

	m.metrics.IncAttempts()
	m.metrics.AddDepositReserved(deposit)
	m.sink.Emit(Event{Type: EventRecoveryInitiated, Account: lost, Rescuer: &rescuer, Amount: deposit})

	return nil
}

// VouchRecovery records the voter's attestation for the rescuer's attempt
// against the lost account.
func (m *RecoveryManager) VouchRecovery(voter, lost, rescuer types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opVouchRecovery, m.vouchRecovery(voter, lost, rescuer))
}

func (m *RecoveryManager) vouchRecovery(voter, lost, rescuer types.AccountID) error {
	cfg, err := m.configs.GetConfig(lost)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return ErrNotRecoverable
		}

		return err
	}

	if _, err := m.attempts.GetRecovery(lost, rescuer); err != nil {
		if errors.Is(err, store.ErrRecoveryNotFound) {
			return ErrNotStarted
		}

		return err
	}

	friends, err := types.NewFriendSet(cfg.Friends, m.params.MaxFriends)
	if err != nil {
		return store.ErrCorruptedRecoveryDB
	}
	if !friends.Contains(voter) {
		return ErrNotFriend
	}

	if err := m.attempts.UpdateRecovery(lost, rescuer, func(rec *store.StoredActiveRecovery) error {
		// vouches are a subset of the friend list, so its size bounds them
		vouches, err := types.NewFriendSet(rec.Vouches, uint32(friends.Len()))
		if err != nil {
			return store.ErrCorruptedRecoveryDB
		}

		inserted, err := vouches.Insert(voter)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrAlreadyVouched
		}
		rec.Vouches = vouches.Members()

		return nil
	}); err != nil {
		return err
	}

	m.sink.Emit(Event{Type: EventRecoveryVouched, Account: lost, Rescuer: &rescuer, Friend: &voter})

	return nil
}

// ClaimRecovery turns a quorate, matured attempt into a proxy link for the
// rescuer.
func (m *RecoveryManager) ClaimRecovery(rescuer, lost types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opClaimRecovery, m.claimRecovery(rescuer, lost))
}

func (m *RecoveryManager) claimRecovery(rescuer, lost types.AccountID) error {
	cfg, err := m.configs.GetConfig(lost)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return ErrNotRecoverable
		}

		return err
	}

	rec, err := m.attempts.GetRecovery(lost, rescuer)
	if err != nil {
		if errors.Is(err, store.ErrRecoveryNotFound) {
			return ErrNotStarted
		}

		return err
	}

	if _, err := m.proxies.GetLink(rescuer); err == nil {
		return ErrAlreadyProxy
	} else if !errors.Is(err, store.ErrLinkNotFound) {
		return err
	}

	eligibleAt, err := util.CheckedAdd(rec.CreatedAt, cfg.DelayPeriod)
	if err != nil {
		return ErrArithmeticOverflow
	}
	if m.clock.Now() < eligibleAt {
		return ErrDelayPeriodNotElapsed
	}

	if uint64(len(rec.Vouches)) < uint64(cfg.Threshold) {
		return ErrThresholdNotMet
	}

	if err := m.proxies.SetLink(rescuer, lost); err != nil {
		if errors.Is(err, store.ErrDuplicateLink) {
			return ErrAlreadyProxy
		}

		return err
	}

	m.metrics.IncLinks()
	m.sink.Emit(Event{Type: EventRecoveryClaimed, Account: lost, Rescuer: &rescuer})

	return nil
}

// CloseRecovery deletes the rescuer's attempt against the caller and moves
// the attempt deposit from the rescuer's reserved balance to the caller. The
// penalty is the same whether or not the rescuer already claimed; an already
// installed proxy link stays in place until cancelled separately.
func (m *RecoveryManager) CloseRecovery(caller, rescuer types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opCloseRecovery, m.closeRecovery(caller, rescuer))
}

func (m *RecoveryManager) closeRecovery(caller, rescuer types.AccountID) error {
	rec, err := m.attempts.GetRecovery(caller, rescuer)
	if err != nil {
		if errors.Is(err, store.ErrRecoveryNotFound) {
			return ErrNotStarted
		}

		return err
	}

	if err := m.bank.RepatriateReserved(rescuer, caller, rec.Deposit); err != nil {
		return m.translateLedgerErr(err)
	}

	if err := m.attempts.RemoveRecovery(caller, rescuer); err != nil {
		return err
	}

	m.metrics.DecAttempts()
	m.metrics.AddDepositSlashed(rec.Deposit)
	m.sink.Emit(Event{Type: EventRecoveryClosed, Account: caller, Rescuer: &rescuer, Amount: rec.Deposit})

	return nil
}

// AsRecovered forwards operation to the dispatcher under the lost account's
// authority. The dispatch outcome is returned unchanged and recovery state
// is never touched by it.
func (m *RecoveryManager) AsRecovered(ctx context.Context, caller, lost types.AccountID, operation []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.authorizeProxy(caller, lost); err != nil {
		return m.finish(opAsRecovered, err)
	}

	m.metrics.IncOpsProcessed(opAsRecovered)

	// the inner operation's outcome is the dispatcher's own
	return m.dispatcher.Dispatch(ctx, lost, operation)
}

// CancelRecovered severs the caller's proxy link to the lost account and
// releases the hold on the caller's identity.
func (m *RecoveryManager) CancelRecovered(caller, lost types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opCancelRecovered, m.cancelRecovered(caller, lost))
}

func (m *RecoveryManager) cancelRecovered(caller, lost types.AccountID) error {
	if err := m.authorizeProxy(caller, lost); err != nil {
		return err
	}

	if err := m.proxies.RemoveLink(caller); err != nil {
		return err
	}

	m.metrics.DecLinks()
	m.sink.Emit(Event{Type: EventProxyCancelled, Account: lost, Rescuer: &caller})

	return nil
}

func (m *RecoveryManager) authorizeProxy(caller, lost types.AccountID) error {
	linked, err := m.proxies.GetLink(caller)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			return ErrNotAllowed
		}

		return err
	}
	if !linked.Equal(lost) {
		return ErrNotAllowed
	}

	return nil
}

// SetRecovered installs a proxy link directly, bypassing threshold, delay
// and deposit checks. Only the configured root authority may call it; an
// existing link of the rescuer is replaced.
func (m *RecoveryManager) SetRecovered(authority, lost, rescuer types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.finish(opSetRecovered, m.setRecovered(authority, lost, rescuer))
}

func (m *RecoveryManager) setRecovered(authority, lost, rescuer types.AccountID) error {
	if m.params.RootAuthority == nil || !m.params.RootAuthority.Equal(authority) {
		return ErrUnauthorized
	}

	if _, err := m.proxies.GetLink(rescuer); err == nil {
		if err := m.proxies.RemoveLink(rescuer); err != nil {
			return err
		}
		m.metrics.DecLinks()
	} else if !errors.Is(err, store.ErrLinkNotFound) {
		return err
	}

	if err := m.proxies.SetLink(rescuer, lost); err != nil {
		return err
	}

	m.metrics.IncLinks()
	m.sink.Emit(Event{Type: EventProxyOverridden, Account: lost, Rescuer: &rescuer})

	return nil
}

// GetConfig returns the stored configuration of the account.
func (m *RecoveryManager) GetConfig(account types.AccountID) (*store.StoredRecoveryConfig, error) {
	cfg, err := m.configs.GetConfig(account)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return nil, ErrNotRecoverable
		}

		return nil, err
	}

	return cfg, nil
}

// GetActiveRecovery returns the attempt of the (lost, rescuer) pair.
func (m *RecoveryManager) GetActiveRecovery(lost, rescuer types.AccountID) (*store.StoredActiveRecovery, error) {
	rec, err := m.attempts.GetRecovery(lost, rescuer)
	if err != nil {
		if errors.Is(err, store.ErrRecoveryNotFound) {
			return nil, ErrNotStarted
		}

		return nil, err
	}

	return rec, nil
}

// GetProxyLink returns the lost account the rescuer is linked to.
func (m *RecoveryManager) GetProxyLink(rescuer types.AccountID) (types.AccountID, error) {
	lost, err := m.proxies.GetLink(rescuer)
	if err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			return types.AccountID{}, ErrNotAllowed
		}

		return types.AccountID{}, err
	}

	return lost, nil
}

// HoldCount returns the teardown-blocking hold count of the account.
func (m *RecoveryManager) HoldCount(account types.AccountID) (uint64, error) {
	return m.proxies.HoldCount(account)
}

func (m *RecoveryManager) translateLedgerErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return ErrInsufficientBalance
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return ErrArithmeticOverflow
	default:
		return err
	}
}
