package store

import "errors"

var (
	// ErrCorruptedRecoveryDB For some reason, db on disk representation have changed
	ErrCorruptedRecoveryDB = errors.New("recovery db is corrupted")

	// ErrDuplicateConfig The account already has a recovery configuration
	ErrDuplicateConfig = errors.New("recovery config already exists")

	// ErrConfigNotFound The account has no recovery configuration
	ErrConfigNotFound = errors.New("recovery config not found")

	// ErrDuplicateRecovery An attempt for the (lost account, rescuer) pair already exists
	ErrDuplicateRecovery = errors.New("active recovery already exists")

	// ErrRecoveryNotFound No attempt exists for the (lost account, rescuer) pair
	ErrRecoveryNotFound = errors.New("active recovery not found")

	// ErrDuplicateLink The rescuer already holds a proxy link
	ErrDuplicateLink = errors.New("proxy link already exists")

	// ErrLinkNotFound The rescuer holds no proxy link
	ErrLinkNotFound = errors.New("proxy link not found")

	// ErrNoHold Decrement of a zero hold count
	ErrNoHold = errors.New("account has no registered hold")
)
