package rpcwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// buildSweepTx returns an unsigned tx spending all coins to address, minus
// the fee for the given rate in sat/vB.
func buildSweepTx(
	coins []escrow.RawTransactionInput, address string, feeRate int64,
	params *chaincfg.Params,
) (*wire.MsgTx, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %s", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, coin := range coins {
		in, err := coin.TxIn(nil)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(in)
	}

	out := wire.NewTxOut(0, script)
	size := txsizes.EstimateSerializeSize(len(coins), []*wire.TxOut{out}, false)
	fee := btcutil.Amount(int64(size) * feeRate)
	value := escrow.SumRawInputs(coins) - fee
	if value <= 0 || txrules.IsDustAmount(value, len(script), txrules.DefaultRelayFeePerKb) {
		return nil, fmt.Errorf(
			"amount to withdraw is dust after paying %d sats of fees", fee,
		)
	}
	out.Value = int64(value)
	tx.AddTxOut(out)
	return tx, nil
}
