package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// AccountIDLen is the length of a canonical account identity in bytes.
const AccountIDLen = 32

// AccountID is the canonical identity of an account known to the recovery
// protocol. Identities are opaque 32-byte values, totally ordered by their
// byte representation.
type AccountID [AccountIDLen]byte

// NewAccountIDFromBytes converts raw bytes to an AccountID.
func NewAccountIDFromBytes(b []byte) (AccountID, error) {
	var id AccountID
	if len(b) != AccountIDLen {
		return id, fmt.Errorf("invalid account id length: expected %d, got %d", AccountIDLen, len(b))
	}
	copy(id[:], b)

	return id, nil
}

// NewAccountIDFromHex converts a hex-encoded account reference to an AccountID.
func NewAccountIDFromHex(s string) (AccountID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("invalid account id hex: %w", err)
	}

	return NewAccountIDFromBytes(b)
}

func (id AccountID) Bytes() []byte {
	return id[:]
}

func (id AccountID) MarshalHex() string {
	return hex.EncodeToString(id[:])
}

func (id AccountID) String() string {
	return id.MarshalHex()
}

// Cmp orders two identities byte-wise.
func (id AccountID) Cmp(other AccountID) int {
	return bytes.Compare(id[:], other[:])
}

func (id AccountID) Equal(other AccountID) bool {
	return id == other
}

// AccountResolver resolves an opaque account reference to a canonical
// identity. The daemon uses hex references; deployments that front the
// protocol with their own naming can substitute an implementation.
type AccountResolver interface {
	Resolve(ref string) (AccountID, error)
}

// HexResolver resolves hex-encoded account references.
type HexResolver struct{}

func (HexResolver) Resolve(ref string) (AccountID, error) {
	return NewAccountIDFromHex(ref)
}
