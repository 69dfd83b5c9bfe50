package mathutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/pkg/mathutil"
)

func TestShare(t *testing.T) {
	tests := []struct {
		amount, weight, total int64
		expected              int64
	}{
		{1_000_000, 1, 3, 333_333},
		{1_000_000, 2, 3, 666_667},
		{1_000_000, 0, 3, 0},
		{1_000_000, 1, 0, 0},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, mathutil.Share(tt.amount, tt.weight, tt.total))
	}
}

func TestRoundDiv(t *testing.T) {
	require.Equal(t, int64(5), mathutil.RoundDiv(1230, 246))
	require.Equal(t, int64(4), mathutil.RoundDiv(1100, 246))
	require.Equal(t, int64(0), mathutil.RoundDiv(10, 0))
	require.Equal(t, int64(9), mathutil.Max(1, 9, 4))
}
