package escrow_test

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

func TestMultisigRedeemScript(t *testing.T) {
	keys := newTradeKeys(t).escrowKeys()

	script, err := escrow.MultisigRedeemScript(keys.Buyer, keys.Seller, keys.Arbitrator)
	require.NoError(t, err)

	again, err := escrow.MultisigRedeemScript(keys.Buyer, keys.Seller, keys.Arbitrator)
	require.NoError(t, err)
	require.Equal(t, script, again)

	// OP_2 <arbitrator> <seller> <buyer> OP_3 OP_CHECKMULTISIG
	require.Len(t, script, 1+3*34+2)
	require.Equal(t, byte(txscript.OP_2), script[0])
	require.Equal(t, keys.Arbitrator, script[2:35])
	require.Equal(t, keys.Seller, script[36:69])
	require.Equal(t, keys.Buyer, script[70:103])
	require.Equal(t, byte(txscript.OP_3), script[103])
	require.Equal(t, byte(txscript.OP_CHECKMULTISIG), script[104])

	fromKeys, err := keys.RedeemScript()
	require.NoError(t, err)
	require.Equal(t, script, fromKeys)
}

func TestTwoOfTwoRedeemScript(t *testing.T) {
	keys := newTradeKeys(t).escrowKeys()
	keys.Arbitrator = nil

	script, err := keys.RedeemScript()
	require.NoError(t, err)
	require.Len(t, script, 1+2*34+2)
	require.Equal(t, keys.Seller, script[2:35])
	require.Equal(t, keys.Buyer, script[36:69])

	p2sh, err := keys.OutputScript()
	require.NoError(t, err)
	require.Equal(t, txscript.ScriptHashTy, txscript.GetScriptClass(p2sh))
}

func TestFailingMultisigRedeemScript(t *testing.T) {
	keys := newTradeKeys(t)
	buyer := keys.buyerMs.PubKey().SerializeCompressed()
	seller := keys.sellerMs.PubKey().SerializeCompressed()

	tests := []struct {
		name   string
		buyer  []byte
		seller []byte
		arb    []byte
	}{
		{"missing key", buyer, nil, seller},
		{"uncompressed key", keys.buyerMs.PubKey().SerializeUncompressed(), seller, keys.arbMs.PubKey().SerializeCompressed()},
		{"duplicated key", buyer, seller, buyer},
		{"invalid key", buyer, seller, make([]byte, 33)},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := escrow.MultisigRedeemScript(tt.buyer, tt.seller, tt.arb)
			require.Error(t, err)
		})
	}
}

func TestContractHashScript(t *testing.T) {
	hash := make([]byte, 32)
	hash[0] = 0xab

	script, err := escrow.ContractHashScript(hash)
	require.NoError(t, err)
	require.Equal(t, txscript.NullDataTy, txscript.GetScriptClass(script))

	_, err = escrow.ContractHashScript(nil)
	require.Error(t, err)
}
