package service

import (
	errorsmod "cosmossdk.io/errors"
)

const codespace = "recovery"

// Protocol errors. Every operation fails with exactly one of these before
// its first write; none of them leaves partial state behind.
var (
	ErrAlreadyRecoverable    = errorsmod.Register(codespace, 2, "account already has a recovery config")
	ErrNotRecoverable        = errorsmod.Register(codespace, 3, "account has no recovery config")
	ErrZeroThreshold         = errorsmod.Register(codespace, 4, "threshold must be positive")
	ErrNotEnoughFriends      = errorsmod.Register(codespace, 5, "friend list is empty or below the threshold")
	ErrTooManyFriends        = errorsmod.Register(codespace, 6, "friend list exceeds the maximum")
	ErrNotSorted             = errorsmod.Register(codespace, 7, "friend list is not strictly sorted and unique")
	ErrAlreadyStarted        = errorsmod.Register(codespace, 8, "rescuer already has an attempt open against the account")
	ErrNotStarted            = errorsmod.Register(codespace, 9, "no attempt open for the (account, rescuer) pair")
	ErrNotFriend             = errorsmod.Register(codespace, 10, "caller is not a registered friend of the account")
	ErrAlreadyVouched        = errorsmod.Register(codespace, 11, "friend already vouched for this attempt")
	ErrDelayPeriodNotElapsed = errorsmod.Register(codespace, 12, "the delay period has not elapsed yet")
	ErrThresholdNotMet       = errorsmod.Register(codespace, 13, "the attempt has fewer vouches than the threshold")
	ErrAlreadyProxy          = errorsmod.Register(codespace, 14, "rescuer already holds a proxy link")
	ErrNotAllowed            = errorsmod.Register(codespace, 15, "caller is not the proxy of the account")
	ErrStillActive           = errorsmod.Register(codespace, 16, "open recovery attempts still reference the account")
	ErrArithmeticOverflow    = errorsmod.Register(codespace, 17, "arithmetic overflow")
	ErrInsufficientBalance   = errorsmod.Register(codespace, 18, "insufficient balance to reserve the deposit")
	ErrUnauthorized          = errorsmod.Register(codespace, 19, "caller lacks the root capability")
)
