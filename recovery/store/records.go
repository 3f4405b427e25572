package store

import (
	"encoding/binary"
	"fmt"

	"github.com/recoverylabs/recoveryd/types"
)

// StoredRecoveryConfig is the durable recovery configuration of one account.
// Friends are kept strictly ascending; the account itself is the storage key.
type StoredRecoveryConfig struct {
	Friends     []types.AccountID
	Threshold   uint32
	DelayPeriod uint64
	Deposit     uint64
}

// StoredActiveRecovery is the durable record of one recovery attempt, keyed
// by the (lost account, rescuer) pair. Vouches are a strictly ascending
// subset of the config's friends.
type StoredActiveRecovery struct {
	CreatedAt uint64
	Deposit   uint64
	Vouches   []types.AccountID
}

// Records are fixed-shape, so they are encoded with a simple big-endian
// layout rather than a self-describing codec. Account lists are encoded as a
// uint32 count followed by the raw 32-byte identities in their stored order.

func marshalRecoveryConfig(cfg *StoredRecoveryConfig) []byte {
	buf := make([]byte, 0, 4+8+8+4+len(cfg.Friends)*types.AccountIDLen)
	buf = binary.BigEndian.AppendUint32(buf, cfg.Threshold)
	buf = binary.BigEndian.AppendUint64(buf, cfg.DelayPeriod)
	buf = binary.BigEndian.AppendUint64(buf, cfg.Deposit)
	buf = appendAccountList(buf, cfg.Friends)

	return buf
}

func unmarshalRecoveryConfig(b []byte) (*StoredRecoveryConfig, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("recovery config record too short: %d bytes", len(b))
	}

	cfg := &StoredRecoveryConfig{
		Threshold:   binary.BigEndian.Uint32(b[0:4]),
		DelayPeriod: binary.BigEndian.Uint64(b[4:12]),
		Deposit:     binary.BigEndian.Uint64(b[12:20]),
	}

	friends, err := parseAccountList(b[20:])
	if err != nil {
		return nil, fmt.Errorf("invalid friend list: %w", err)
	}
	cfg.Friends = friends

	return cfg, nil
}

func marshalActiveRecovery(rec *StoredActiveRecovery) []byte {
	buf := make([]byte, 0, 8+8+4+len(rec.Vouches)*types.AccountIDLen)
	buf = binary.BigEndian.AppendUint64(buf, rec.CreatedAt)
	buf = binary.BigEndian.AppendUint64(buf, rec.Deposit)
	buf = appendAccountList(buf, rec.Vouches)

	return buf
}

func unmarshalActiveRecovery(b []byte) (*StoredActiveRecovery, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("active recovery record too short: %d bytes", len(b))
	}

	rec := &StoredActiveRecovery{
		CreatedAt: binary.BigEndian.Uint64(b[0:8]),
		Deposit:   binary.BigEndian.Uint64(b[8:16]),
	}

	vouches, err := parseAccountList(b[16:])
	if err != nil {
		return nil, fmt.Errorf("invalid vouch list: %w", err)
	}
	rec.Vouches = vouches

	return rec, nil
}

func appendAccountList(buf []byte, ids []types.AccountID) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		buf = append(buf, id.Bytes()...)
	}

	return buf
}

func parseAccountList(b []byte) ([]types.AccountID, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("account list too short: %d bytes", len(b))
	}

	count := binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	if uint64(len(b)) != uint64(count)*types.AccountIDLen {
		return nil, fmt.Errorf("account list length mismatch: %d entries, %d bytes", count, len(b))
	}

	ids := make([]types.AccountID, count)
	for i := range ids {
		copy(ids[i][:], b[i*types.AccountIDLen:])
	}

	return ids, nil
}
