package service_test

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recoverylabs/recoveryd/dispatch"
	"github.com/recoverylabs/recoveryd/ledger"
	"github.com/recoverylabs/recoveryd/metrics"
	"github.com/recoverylabs/recoveryd/recovery/config"
	"github.com/recoverylabs/recoveryd/recovery/service"
	"github.com/recoverylabs/recoveryd/testutil"
	"github.com/recoverylabs/recoveryd/types"
)

const (
	testDepositBase    = 10
	testDepositFactor  = 1
	testAttemptDeposit = 10
)

type testHarness struct {
	mgr   *service.RecoveryManager
	bank  *ledger.BankLedger
	clock *service.ManualTimeSource
}

func newTestHarness(t *testing.T, root *types.AccountID) *testHarness {
	return newTestHarnessWithParams(t, service.Params{
		MaxFriends:          9,
		ConfigDepositBase:   testDepositBase,
		FriendDepositFactor: testDepositFactor,
		RecoveryDeposit:     testAttemptDeposit,
		RootAuthority:       root,
	})
}

func newTestHarnessWithParams(t *testing.T, params service.Params) *testHarness {
	dbCfg := config.DefaultDBConfigWithHomePath(t.TempDir())
	db, err := dbCfg.GetDBBackend()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	logger := testutil.GetTestLogger(t)

	bank, err := ledger.NewBankLedger(db)
	require.NoError(t, err)

	clock := service.NewManualTimeSource(100)

	dispatcher := dispatch.NewLedgerDispatcher(bank, types.HexResolver{}, logger)

	mgr, err := service.NewRecoveryManager(
		params, db, bank, dispatcher, clock,
		service.NewZapEventSink(logger), metrics.NewRecoveryMetrics(), logger,
	)
	require.NoError(t, err)

	return &testHarness{mgr: mgr, bank: bank, clock: clock}
}

func (h *testHarness) fund(t *testing.T, account types.AccountID, amount uint64) {
	require.NoError(t, h.bank.Deposit(account, amount))
}

func (h *testHarness) free(t *testing.T, account types.AccountID) uint64 {
	free, err := h.bank.FreeBalance(account)
	require.NoError(t, err)

	return free
}

func (h *testHarness) reserved(t *testing.T, account types.AccountID) uint64 {
	reserved, err := h.bank.ReservedBalance(account)
	require.NoError(t, err)

	return reserved
}

func TestCreateRecoveryValidation(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	caller := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, caller, 1000)

	tcs := []struct {
		name      string
		friends   []types.AccountID
		threshold uint32
		expErr    error
	}{
		{"zero threshold", friends, 0, service.ErrZeroThreshold},
		{"no friends", nil, 1, service.ErrNotEnoughFriends},
		{"threshold above friends", friends, 4, service.ErrNotEnoughFriends},
		{"too many friends", testutil.GenSortedAccountIDs(r, 10), 2, service.ErrTooManyFriends},
		{"unsorted friends", []types.AccountID{friends[2], friends[0], friends[1]}, 2, service.ErrNotSorted},
		{"duplicate friends", []types.AccountID{friends[0], friends[0], friends[1]}, 2, service.ErrNotSorted},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := h.mgr.CreateRecovery(caller, tc.friends, tc.threshold, 10)
			require.ErrorIs(t, err, tc.expErr)
		})
	}

	// rejected calls reserve nothing
	require.Zero(t, h.reserved(t, caller))

	// a broke account cannot create a config
	broke := testutil.GenRandomAccountID(r)
	err := h.mgr.CreateRecovery(broke, friends, 2, 10)
	require.ErrorIs(t, err, service.ErrInsufficientBalance)
	_, err = h.mgr.GetConfig(broke)
	require.ErrorIs(t, err, service.ErrNotRecoverable)

	// a valid config, then a second one for the same account
	require.NoError(t, h.mgr.CreateRecovery(caller, friends, 2, 10))
	err = h.mgr.CreateRecovery(caller, friends, 2, 10)
	require.ErrorIs(t, err, service.ErrAlreadyRecoverable)
}

// the configuration deposit is base + factor * |friends| and a full
// create/remove cycle refunds it entirely
func TestRecoveryConfigRoundTrip(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	caller := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, caller, 100)

	require.NoError(t, h.mgr.CreateRecovery(caller, friends, 2, 10))

	wantDeposit := uint64(testDepositBase + 3*testDepositFactor)
	require.Equal(t, wantDeposit, h.reserved(t, caller))
	require.Equal(t, 100-wantDeposit, h.free(t, caller))

	cfg, err := h.mgr.GetConfig(caller)
	require.NoError(t, err)
	require.Equal(t, friends, cfg.Friends)
	require.Equal(t, uint32(2), cfg.Threshold)
	require.Equal(t, uint64(10), cfg.DelayPeriod)
	require.Equal(t, wantDeposit, cfg.Deposit)

	require.NoError(t, h.mgr.RemoveRecovery(caller))

	require.Zero(t, h.reserved(t, caller))
	require.Equal(t, uint64(100), h.free(t, caller))
	_, err = h.mgr.GetConfig(caller)
	require.ErrorIs(t, err, service.ErrNotRecoverable)

	err = h.mgr.RemoveRecovery(caller)
	require.ErrorIs(t, err, service.ErrNotRecoverable)
}

func TestInitiateRecovery(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	lost := testutil.GenRandomAccountID(r)
	rescuer := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, lost, 100)
	h.fund(t, rescuer, 100)

	// no config yet
	err := h.mgr.InitiateRecovery(rescuer, lost)
	require.ErrorIs(t, err, service.ErrNotRecoverable)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 2, 10))
	require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))

	require.Equal(t, uint64(testAttemptDeposit), h.reserved(t, rescuer))

	rec, err := h.mgr.GetActiveRecovery(lost, rescuer)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.CreatedAt)
	require.Equal(t, uint64(testAttemptDeposit), rec.Deposit)
	require.Empty(t, rec.Vouches)

	// one attempt per (lost, rescuer) pair
	err = h.mgr.InitiateRecovery(rescuer, lost)
	require.ErrorIs(t, err, service.ErrAlreadyStarted)

	// a broke rescuer cannot initiate
	broke := testutil.GenRandomAccountID(r)
	err = h.mgr.InitiateRecovery(broke, lost)
	require.ErrorIs(t, err, service.ErrInsufficientBalance)
}

func TestVouchRecovery(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	lost := testutil.GenRandomAccountID(r)
	rescuer := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	stranger := testutil.GenRandomAccountID(r)
	h.fund(t, lost, 100)
	h.fund(t, rescuer, 100)

	err := h.mgr.VouchRecovery(friends[0], lost, rescuer)
	require.ErrorIs(t, err, service.ErrNotRecoverable)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 2, 10))

	err = h.mgr.VouchRecovery(friends[0], lost, rescuer)
	require.ErrorIs(t, err, service.ErrNotStarted)

	require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))

	err = h.mgr.VouchRecovery(stranger, lost, rescuer)
	require.ErrorIs(t, err, service.ErrNotFriend)

	// vouch out of order; the stored set is sorted regardless
	require.NoError(t, h.mgr.VouchRecovery(friends[2], lost, rescuer))
	require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, rescuer))

	err = h.mgr.VouchRecovery(friends[2], lost, rescuer)
	require.ErrorIs(t, err, service.ErrAlreadyVouched)

	rec, err := h.mgr.GetActiveRecovery(lost, rescuer)
	require.NoError(t, err)
	require.Equal(t, []types.AccountID{friends[0], friends[2]}, rec.Vouches)
}

// claim_recovery succeeds iff the delay has elapsed and the vouch count
// reached the threshold
func TestClaimRecoveryQuorumAndDelay(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	lost := testutil.GenRandomAccountID(r)
	rescuer := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, lost, 100)
	h.fund(t, rescuer, 100)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 2, 10))
	require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))

	require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, rescuer))
	require.NoError(t, h.mgr.VouchRecovery(friends[1], lost, rescuer))

	// quorum met, delay not elapsed
	h.clock.Advance(9)
	err := h.mgr.ClaimRecovery(rescuer, lost)
	require.ErrorIs(t, err, service.ErrDelayPeriodNotElapsed)

	// delay elapsed for a second rescuer who lacks quorum
	other := testutil.GenRandomAccountID(r)
	h.fund(t, other, 100)
	require.NoError(t, h.mgr.InitiateRecovery(other, lost))
	h.clock.Advance(11)
	err = h.mgr.ClaimRecovery(other, lost)
	require.ErrorIs(t, err, service.ErrThresholdNotMet)

	// both conditions met
	require.NoError(t, h.mgr.ClaimRecovery(rescuer, lost))

	linked, err := h.mgr.GetProxyLink(rescuer)
	require.NoError(t, err)
	require.Equal(t, lost, linked)

	holds, err := h.mgr.HoldCount(rescuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), holds)
}

// two rescuers pursue the same lost account without interfering, and the
// config cannot be removed while any of them is open
func TestIndependentRescuersAndGuardedRemoval(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	lost := testutil.GenRandomAccountID(r)
	rescuerA := testutil.GenRandomAccountID(r)
	rescuerB := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, lost, 100)
	h.fund(t, rescuerA, 100)
	h.fund(t, rescuerB, 100)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 2, 0))
	require.NoError(t, h.mgr.InitiateRecovery(rescuerA, lost))
	require.NoError(t, h.mgr.InitiateRecovery(rescuerB, lost))

	require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, rescuerA))

	recA, err := h.mgr.GetActiveRecovery(lost, rescuerA)
	require.NoError(t, err)
	require.Len(t, recA.Vouches, 1)
	recB, err := h.mgr.GetActiveRecovery(lost, rescuerB)
	require.NoError(t, err)
	require.Empty(t, recB.Vouches)

	err = h.mgr.RemoveRecovery(lost)
	require.ErrorIs(t, err, service.ErrStillActive)

	require.NoError(t, h.mgr.CloseRecovery(lost, rescuerA))
	err = h.mgr.RemoveRecovery(lost)
	require.ErrorIs(t, err, service.ErrStillActive)

	require.NoError(t, h.mgr.CloseRecovery(lost, rescuerB))
	require.NoError(t, h.mgr.RemoveRecovery(lost))
}

// close_recovery moves exactly the attempt deposit from the rescuer's
// reserved balance to the lost account, before or after a claim
func TestClosePenaltySymmetry(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	lost := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, lost, 100)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 1, 0))
	lostFreeAfterCfg := h.free(t, lost)

	// close before any claim
	early := testutil.GenRandomAccountID(r)
	h.fund(t, early, 100)
	require.NoError(t, h.mgr.InitiateRecovery(early, lost))
	require.NoError(t, h.mgr.CloseRecovery(lost, early))

	require.Equal(t, uint64(100-testAttemptDeposit), h.free(t, early))
	require.Zero(t, h.reserved(t, early))
	require.Equal(t, lostFreeAfterCfg+testAttemptDeposit, h.free(t, lost))
	_, err := h.mgr.GetActiveRecovery(lost, early)
	require.ErrorIs(t, err, service.ErrNotStarted)

	// close after a successful claim
	late := testutil.GenRandomAccountID(r)
	h.fund(t, late, 100)
	require.NoError(t, h.mgr.InitiateRecovery(late, lost))
	require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, late))
	require.NoError(t, h.mgr.ClaimRecovery(late, lost))

	require.NoError(t, h.mgr.CloseRecovery(lost, late))
	require.Equal(t, uint64(100-testAttemptDeposit), h.free(t, late))
	require.Equal(t, lostFreeAfterCfg+2*testAttemptDeposit, h.free(t, lost))

	// closure does not sever an installed link; that takes cancel_recovered
	linked, err := h.mgr.GetProxyLink(late)
	require.NoError(t, err)
	require.Equal(t, lost, linked)

	require.NoError(t, h.mgr.CancelRecovered(late, lost))
	_, err = h.mgr.GetProxyLink(late)
	require.ErrorIs(t, err, service.ErrNotAllowed)
	holds, err := h.mgr.HoldCount(late)
	require.NoError(t, err)
	require.Zero(t, holds)
}

// a rescuer holding one link cannot claim a second one
func TestSingleLinkPerRescuer(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	rescuer := testutil.GenRandomAccountID(r)
	h.fund(t, rescuer, 100)

	lostAccounts := testutil.GenRandomAccountIDs(r, 2)
	friends := testutil.GenSortedAccountIDs(r, 2)
	for _, lost := range lostAccounts {
		h.fund(t, lost, 100)
		require.NoError(t, h.mgr.CreateRecovery(lost, friends, 1, 0))
		require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))
		require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, rescuer))
	}

	require.NoError(t, h.mgr.ClaimRecovery(rescuer, lostAccounts[0]))

	err := h.mgr.ClaimRecovery(rescuer, lostAccounts[1])
	require.ErrorIs(t, err, service.ErrAlreadyProxy)

	// after cancelling, the second claim goes through
	require.NoError(t, h.mgr.CancelRecovered(rescuer, lostAccounts[0]))
	require.NoError(t, h.mgr.ClaimRecovery(rescuer, lostAccounts[1]))
}

func TestAsRecovered(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)
	ctx := context.Background()

	lost := testutil.GenRandomAccountID(r)
	rescuer := testutil.GenRandomAccountID(r)
	dest := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 2)
	h.fund(t, lost, 100)
	h.fund(t, rescuer, 100)

	op, err := json.Marshal(dispatch.TransferOp{Type: dispatch.OpTypeTransfer, To: dest.MarshalHex(), Amount: 25})
	require.NoError(t, err)

	// no link yet
	err = h.mgr.AsRecovered(ctx, rescuer, lost, op)
	require.ErrorIs(t, err, service.ErrNotAllowed)

	require.NoError(t, h.mgr.CreateRecovery(lost, friends, 1, 0))
	require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))
	require.NoError(t, h.mgr.VouchRecovery(friends[1], lost, rescuer))
	require.NoError(t, h.mgr.ClaimRecovery(rescuer, lost))

	lostFree := h.free(t, lost)
	require.NoError(t, h.mgr.AsRecovered(ctx, rescuer, lost, op))
	require.Equal(t, lostFree-25, h.free(t, lost))
	require.Equal(t, uint64(25), h.free(t, dest))

	// the link only covers the lost account it names
	err = h.mgr.AsRecovered(ctx, rescuer, dest, op)
	require.ErrorIs(t, err, service.ErrNotAllowed)

	// an inner failure surfaces unchanged and leaves the link alone
	tooMuch, err := json.Marshal(dispatch.TransferOp{Type: dispatch.OpTypeTransfer, To: dest.MarshalHex(), Amount: 1 << 40})
	require.NoError(t, err)
	err = h.mgr.AsRecovered(ctx, rescuer, lost, tooMuch)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	linked, err := h.mgr.GetProxyLink(rescuer)
	require.NoError(t, err)
	require.Equal(t, lost, linked)
}

func TestSetRecovered(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))

	root := testutil.GenRandomAccountID(r)
	h := newTestHarness(t, &root)

	lost := testutil.GenRandomAccountID(r)
	otherLost := testutil.GenRandomAccountID(r)
	rescuer := testutil.GenRandomAccountID(r)

	// only the root authority may override
	err := h.mgr.SetRecovered(rescuer, lost, rescuer)
	require.ErrorIs(t, err, service.ErrUnauthorized)

	// no config, no attempt, no deposit needed
	require.NoError(t, h.mgr.SetRecovered(root, lost, rescuer))
	linked, err := h.mgr.GetProxyLink(rescuer)
	require.NoError(t, err)
	require.Equal(t, lost, linked)

	holds, err := h.mgr.HoldCount(rescuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), holds)

	// an override replaces an existing link
	require.NoError(t, h.mgr.SetRecovered(root, otherLost, rescuer))
	linked, err = h.mgr.GetProxyLink(rescuer)
	require.NoError(t, err)
	require.Equal(t, otherLost, linked)

	holds, err = h.mgr.HoldCount(rescuer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), holds)
}

func TestSetRecoveredDisabledWithoutRoot(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	caller := testutil.GenRandomAccountID(r)
	err := h.mgr.SetRecovered(caller, testutil.GenRandomAccountID(r), caller)
	require.ErrorIs(t, err, service.ErrUnauthorized)
}

// the worked end-to-end scenario: a malicious rescuer claims, the owner
// closes and keeps the penalty, the stale link needs an explicit cancel
func TestMaliciousRescuerScenario(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))
	h := newTestHarness(t, nil)

	accountA := testutil.GenRandomAccountID(r)
	attackerE := testutil.GenRandomAccountID(r)
	friends := testutil.GenSortedAccountIDs(r, 3)
	h.fund(t, accountA, 100)
	h.fund(t, attackerE, 100)

	require.NoError(t, h.mgr.CreateRecovery(accountA, friends, 2, 10))
	require.NoError(t, h.mgr.InitiateRecovery(attackerE, accountA))
	require.NoError(t, h.mgr.VouchRecovery(friends[0], accountA, attackerE))
	require.NoError(t, h.mgr.VouchRecovery(friends[1], accountA, attackerE))

	// quorum met but the delay still protects the account
	err := h.mgr.ClaimRecovery(attackerE, accountA)
	require.ErrorIs(t, err, service.ErrDelayPeriodNotElapsed)

	h.clock.Advance(10)
	require.NoError(t, h.mgr.ClaimRecovery(attackerE, accountA))

	// the owner strikes back: the attempt deposit becomes the penalty
	freeBefore := h.free(t, accountA)
	require.NoError(t, h.mgr.CloseRecovery(accountA, attackerE))
	require.Equal(t, freeBefore+testAttemptDeposit, h.free(t, accountA))
	require.Equal(t, uint64(100-testAttemptDeposit), h.free(t, attackerE))

	// the stale link survives closure until cancelled
	linked, err := h.mgr.GetProxyLink(attackerE)
	require.NoError(t, err)
	require.Equal(t, accountA, linked)

	require.NoError(t, h.mgr.CancelRecovered(attackerE, accountA))
	_, err = h.mgr.GetProxyLink(attackerE)
	require.ErrorIs(t, err, service.ErrNotAllowed)

	// with no open attempts the config can finally be removed
	require.NoError(t, h.mgr.RemoveRecovery(accountA))
	require.Equal(t, uint64(100+testAttemptDeposit), h.free(t, accountA))
}

// deadline and deposit arithmetic fails closed instead of wrapping
func TestArithmeticOverflowRejections(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(10))

	t.Run("claim eligibility deadline", func(t *testing.T) {
		h := newTestHarness(t, nil)

		lost := testutil.GenRandomAccountID(r)
		rescuer := testutil.GenRandomAccountID(r)
		friends := testutil.GenSortedAccountIDs(r, 3)
		h.fund(t, lost, 100)
		h.fund(t, rescuer, 100)

		require.NoError(t, h.mgr.CreateRecovery(lost, friends, 1, math.MaxUint64))
		require.NoError(t, h.mgr.InitiateRecovery(rescuer, lost))
		require.NoError(t, h.mgr.VouchRecovery(friends[0], lost, rescuer))

		// createdAt > 0, so createdAt + delay cannot be represented
		err := h.mgr.ClaimRecovery(rescuer, lost)
		require.ErrorIs(t, err, service.ErrArithmeticOverflow)

		// the attempt is untouched and still closable
		require.NoError(t, h.mgr.CloseRecovery(lost, rescuer))
	})

	t.Run("config deposit", func(t *testing.T) {
		h := newTestHarnessWithParams(t, service.Params{
			MaxFriends:          9,
			ConfigDepositBase:   testDepositBase,
			FriendDepositFactor: math.MaxUint64 / 2,
			RecoveryDeposit:     testAttemptDeposit,
		})

		caller := testutil.GenRandomAccountID(r)
		friends := testutil.GenSortedAccountIDs(r, 3)
		h.fund(t, caller, 100)

		err := h.mgr.CreateRecovery(caller, friends, 2, 10)
		require.ErrorIs(t, err, service.ErrArithmeticOverflow)

		// nothing was reserved and no config was written
		require.Zero(t, h.reserved(t, caller))
		_, err = h.mgr.GetConfig(caller)
		require.ErrorIs(t, err, service.ErrNotRecoverable)
	})
}
