package util_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recoverylabs/recoveryd/util"
)

func TestCheckedAdd(t *testing.T) {
	t.Parallel()

	sum, err := util.CheckedAdd(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum)

	sum, err = util.CheckedAdd(math.MaxUint64, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), sum)

	_, err = util.CheckedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, util.ErrOverflow)
}

func TestCheckedMul(t *testing.T) {
	t.Parallel()

	prod, err := util.CheckedMul(3, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(12), prod)

	prod, err = util.CheckedMul(math.MaxUint64, 0)
	require.NoError(t, err)
	require.Zero(t, prod)

	prod, err = util.CheckedMul(math.MaxUint64, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), prod)

	_, err = util.CheckedMul(math.MaxUint64/2+1, 2)
	require.ErrorIs(t, err, util.ErrOverflow)
}
