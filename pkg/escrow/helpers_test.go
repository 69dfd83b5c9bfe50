package escrow_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

var params = &chaincfg.RegressionNetParams

const (
	tradeAmount   = btcutil.Amount(1_000_000)
	buyerDeposit  = btcutil.Amount(150_000)
	sellerDeposit = btcutil.Amount(150_000)
	txFee         = btcutil.Amount(5_000)
)

func newKey(t *testing.T, seed byte) *btcec.PrivateKey {
	t.Helper()
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = seed
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func address(t *testing.T, key *btcec.PrivateKey) string {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// fundingInput returns a raw input worth value locked to key.
func fundingInput(
	t *testing.T, key *btcec.PrivateKey, value btcutil.Amount, nonce uint32,
) escrow.RawTransactionInput {
	t.Helper()
	addr, err := btcutil.DecodeAddress(address(t, key), params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	parent := wire.NewMsgTx(wire.TxVersion)
	parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, nonce), nil, nil))
	parent.AddTxOut(wire.NewTxOut(int64(value), script))

	in, err := escrow.NewRawTransactionInput(parent, 0)
	require.NoError(t, err)
	return in
}

type tradeKeys struct {
	buyerWallet, sellerWallet *btcec.PrivateKey
	buyerMs, sellerMs, arbMs  *btcec.PrivateKey
}

func newTradeKeys(t *testing.T) tradeKeys {
	return tradeKeys{
		buyerWallet:  newKey(t, 1),
		sellerWallet: newKey(t, 2),
		buyerMs:      newKey(t, 3),
		sellerMs:     newKey(t, 4),
		arbMs:        newKey(t, 5),
	}
}

func (k tradeKeys) escrowKeys() escrow.Keys {
	return escrow.Keys{
		Buyer:      k.buyerMs.PubKey().SerializeCompressed(),
		Seller:     k.sellerMs.PubKey().SerializeCompressed(),
		Arbitrator: k.arbMs.PubKey().SerializeCompressed(),
	}
}

type mockCoinSource struct {
	mock.Mock
}

func (m *mockCoinSource) SpendableCoins(
	ctx context.Context, addresses []string,
) ([]escrow.RawTransactionInput, error) {
	args := m.Called(ctx, addresses)
	var res []escrow.RawTransactionInput
	if a := args.Get(0); a != nil {
		res = a.([]escrow.RawTransactionInput)
	}
	return res, args.Error(1)
}
