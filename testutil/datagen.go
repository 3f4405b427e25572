package testutil

import (
	"encoding/hex"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recoverylabs/recoveryd/types"
)

func GenRandomByteArray(r *rand.Rand, length uint64) []byte {
	newBytes := make([]byte, length)
	r.Read(newBytes)

	return newBytes
}

func GenRandomHexStr(r *rand.Rand, length uint64) string {
	randBytes := GenRandomByteArray(r, length)

	return hex.EncodeToString(randBytes)
}

func AddRandomSeedsToFuzzer(f *testing.F, num uint) {
	// Seed based on the current time
	r := rand.New(rand.NewSource(time.Now().Unix()))
	var idx uint
	for idx = 0; idx < num; idx++ {
		f.Add(r.Int63())
	}
}

func GenRandomAccountID(r *rand.Rand) types.AccountID {
	var id types.AccountID
	r.Read(id[:])

	return id
}

// GenRandomAccountIDs generates num distinct account identities in random order.
func GenRandomAccountIDs(r *rand.Rand, num int) []types.AccountID {
	seen := make(map[types.AccountID]struct{}, num)
	ids := make([]types.AccountID, 0, num)
	for len(ids) < num {
		id := GenRandomAccountID(r)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}

// GenSortedAccountIDs generates num distinct account identities in strictly
// ascending order, suitable as a friend list.
func GenSortedAccountIDs(r *rand.Rand, num int) []types.AccountID {
	ids := GenRandomAccountIDs(r, num)
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Cmp(ids[j]) < 0
	})

	return ids
}

// GenRandomFriendSet generates a friend set of the given size and capacity.
func GenRandomFriendSet(r *rand.Rand, t *testing.T, num int, capacity uint32) *types.FriendSet {
	fs, err := types.NewFriendSet(GenSortedAccountIDs(r, num), capacity)
	require.NoError(t, err)

	return fs
}
