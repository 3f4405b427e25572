package types_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recoverylabs/recoveryd/testutil"
	"github.com/recoverylabs/recoveryd/types"
)

func TestNewFriendSetValidation(t *testing.T) {
	t.Parallel()
	a := types.AccountID{1}
	b := types.AccountID{2}
	c := types.AccountID{3}

	tcs := []struct {
		name    string
		members []types.AccountID
		cap     uint32
		expErr  error
	}{
		{"empty", nil, 4, nil},
		{"sorted", []types.AccountID{a, b, c}, 4, nil},
		{"duplicate", []types.AccountID{a, a, b}, 4, types.ErrSetNotSorted},
		{"descending", []types.AccountID{c, b, a}, 4, types.ErrSetNotSorted},
		{"over capacity", []types.AccountID{a, b, c}, 2, types.ErrSetTooLarge},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := types.NewFriendSet(tc.members, tc.cap)
			if tc.expErr != nil {
				require.ErrorIs(t, err, tc.expErr)

				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tc.members), s.Len())
		})
	}
}

func FuzzFriendSetInsert(f *testing.F) {
	testutil.AddRandomSeedsToFuzzer(f, 10)
	f.Fuzz(func(t *testing.T, seed int64) {
		t.Parallel()
		r := rand.New(rand.NewSource(seed))

		ids := testutil.GenRandomAccountIDs(r, 8)
		s := types.NewEmptyFriendSet(8)

		for _, id := range ids {
			inserted, err := s.Insert(id)
			require.NoError(t, err)
			require.True(t, inserted)
		}

		// re-inserting any member is a no-op
		for _, id := range ids {
			inserted, err := s.Insert(id)
			require.NoError(t, err)
			require.False(t, inserted)
		}

		require.Equal(t, len(ids), s.Len())
		members := s.Members()
		require.True(t, sort.SliceIsSorted(members, func(i, j int) bool {
			return members[i].Cmp(members[j]) < 0
		}))
		for _, id := range ids {
			require.True(t, s.Contains(id))
		}

		// the set is full now
		extra := testutil.GenRandomAccountID(r)
		if !s.Contains(extra) {
			_, err := s.Insert(extra)
			require.ErrorIs(t, err, types.ErrSetTooLarge)
		}
	})
}
