package static_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/dao/static"
)

type mockHeights struct {
	mock.Mock
}

func (m *mockHeights) ChainHeight() (int32, error) {
	args := m.Called()
	return args.Get(0).(int32), args.Error(1)
}

const claimsJSON = `[
	{"amount": 2000, "address": "addr2", "blockHeight": 120, "txid": "b"},
	{"amount": 1000, "address": "addr1", "blockHeight": 110, "txid": "a"},
	{"amount": 3000, "address": "addr3", "blockHeight": 150, "txid": "c"}
]`

func writeClaims(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "claims.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewDaoParams(t *testing.T) {
	t.Parallel()

	heights := &mockHeights{}
	tests := []struct {
		name string
		cfg  static.Config
	}{
		{
			name: "missing default donation address",
			cfg:  static.Config{Heights: heights},
		},
		{
			name: "missing height source",
			cfg:  static.Config{DefaultDonationAddress: "default"},
		},
		{
			name: "receivers without claims",
			cfg: static.Config{
				DefaultDonationAddress: "default", Heights: heights,
				UseReceivers: true,
			},
		},
		{
			name: "invalid claims file",
			cfg: static.Config{
				DefaultDonationAddress: "default", Heights: heights,
				ClaimsFile: writeClaims(t, `[{"amount": 0}]`),
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := static.NewDaoParams(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestDaoParams(t *testing.T) {
	t.Parallel()

	heights := &mockHeights{}
	heights.On("ChainHeight").Return(int32(200), nil).Once()

	dao, err := static.NewDaoParams(static.Config{
		DefaultDonationAddress: "default",
		GenesisHeight:          100,
		UseReceivers:           true,
		ClaimsFile:             writeClaims(t, claimsJSON),
		Heights:                heights,
		HeightCacheTTL:         time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	donation, err := dao.DonationAddresses(ctx)
	require.NoError(t, err)
	require.Equal(t, "default", donation.Current)
	require.Equal(t, "default", donation.Default)
	require.Equal(t, int32(100), dao.GenesisHeight())
	require.True(t, dao.UseReceivers())

	claims, err := dao.CompensationClaims(ctx, 120)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	require.Equal(t, "a", claims[0].TxID)
	require.Equal(t, "b", claims[1].TxID)

	for i := 0; i < 3; i++ {
		height, err := dao.ChainHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, int32(200), height)
	}
	heights.AssertNumberOfCalls(t, "ChainHeight", 1)
}
