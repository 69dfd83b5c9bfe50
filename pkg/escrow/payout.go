package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PayoutArgs are the outputs of a tx spending the escrow output. Buyer output
// comes first, non-positive amounts are omitted.
type PayoutArgs struct {
	BuyerAmount   btcutil.Amount
	SellerAmount  btcutil.Amount
	BuyerAddress  string
	SellerAddress string
	Keys          Keys
}

// CreateDelayedPayout builds the unsigned delayed payout tx spending the
// escrow output of depositTx to the given outputs. The tx can't be
// published before lockTime.
func (a *Assembler) CreateDelayedPayout(
	depositTx *wire.MsgTx, outputs []Output, lockTime uint32,
) (*wire.MsgTx, error) {
	if len(outputs) <= 0 {
		return nil, fmt.Errorf("missing delayed payout outputs")
	}
	if lockTime == 0 {
		return nil, fmt.Errorf("lock time must be greater than zero")
	}
	tx, err := a.escrowSpendingTx(depositTx)
	if err != nil {
		return nil, err
	}
	var total btcutil.Amount
	for _, out := range outputs {
		if err := a.addOutput(tx, out); err != nil {
			return nil, err
		}
		total += out.Amount
	}
	if msValue := depositTx.TxOut[MultisigOutputIndex].Value; int64(total) > msValue {
		return nil, newVerificationError(
			"delayed payout outputs (%s) exceed escrow output (%s)",
			total, btcutil.Amount(msValue),
		)
	}
	ApplyLockTime(tx, lockTime)
	return tx, nil
}

// SignDelayedPayout returns the signature of the given key for the delayed
// payout tx.
func (a *Assembler) SignDelayedPayout(
	tx *wire.MsgTx, keys Keys, key *btcec.PrivateKey,
) ([]byte, error) {
	if tx == nil || len(tx.TxIn) != 1 {
		return nil, fmt.Errorf("delayed payout tx must have exactly one input")
	}
	return signEscrowInput(tx, keys, key)
}

// FinalizeDelayedPayout adds the traders' signatures to the delayed payout
// tx and verifies it against the escrow output.
func (a *Assembler) FinalizeDelayedPayout(
	tx *wire.MsgTx, keys Keys, buyerSig, sellerSig []byte, msValue int64,
) (*wire.MsgTx, error) {
	if tx == nil || len(tx.TxIn) != 1 {
		return nil, fmt.Errorf("delayed payout tx must have exactly one input")
	}
	signed := tx.Copy()
	if err := finalizeEscrowInput(
		signed, keys, [][]byte{sellerSig, buyerSig}, msValue,
	); err != nil {
		return nil, err
	}
	return signed, nil
}

// CreatePayout builds the unsigned payout tx of a trade.
func (a *Assembler) CreatePayout(
	depositTx *wire.MsgTx, args PayoutArgs,
) (*wire.MsgTx, error) {
	tx, err := a.escrowSpendingTx(depositTx)
	if err != nil {
		return nil, err
	}
	outputs := make([]Output, 0, 2)
	if args.BuyerAmount > 0 {
		outputs = append(outputs, Output{args.BuyerAddress, args.BuyerAmount})
	}
	if args.SellerAmount > 0 {
		outputs = append(outputs, Output{args.SellerAddress, args.SellerAmount})
	}
	if len(outputs) <= 0 {
		return nil, fmt.Errorf("payout tx must have at least one output")
	}
	msValue := depositTx.TxOut[MultisigOutputIndex].Value
	if total := args.BuyerAmount + args.SellerAmount; int64(total) > msValue {
		return nil, newVerificationError(
			"payout amount (%s) exceeds escrow output (%s)",
			total, btcutil.Amount(msValue),
		)
	}
	for _, out := range outputs {
		if a.isDust(out.Amount) {
			return nil, newVerificationError(
				"payout output of %s to %s is dust", out.Amount, out.Address,
			)
		}
		if err := a.addOutput(tx, out); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// SignPayout builds the payout tx and returns the buyer's signature. The
// buyer is the first to sign the payout.
func (a *Assembler) SignPayout(
	depositTx *wire.MsgTx, args PayoutArgs, buyerKey *btcec.PrivateKey,
) ([]byte, error) {
	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	return signEscrowInput(tx, args.Keys, buyerKey)
}

// FinalizePayout lets the seller sign the payout tx and complete it with the
// buyer's signature.
func (a *Assembler) FinalizePayout(
	depositTx *wire.MsgTx, args PayoutArgs,
	buyerSig []byte, sellerKey *btcec.PrivateKey,
) (*wire.MsgTx, error) {
	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	sellerSig, err := signEscrowInput(tx, args.Keys, sellerKey)
	if err != nil {
		return nil, err
	}
	msValue := depositTx.TxOut[MultisigOutputIndex].Value
	if err := finalizeEscrowInput(
		tx, args.Keys, [][]byte{sellerSig, buyerSig}, msValue,
	); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignMediatedPayout returns the signature of the given trader key for the
// payout suggested by the mediator.
func (a *Assembler) SignMediatedPayout(
	depositTx *wire.MsgTx, args PayoutArgs, key *btcec.PrivateKey,
) ([]byte, error) {
	return a.SignPayout(depositTx, args, key)
}

// FinalizeMediatedPayout completes the mediated payout with both traders'
// signatures.
func (a *Assembler) FinalizeMediatedPayout(
	depositTx *wire.MsgTx, args PayoutArgs, buyerSig, sellerSig []byte,
) (*wire.MsgTx, error) {
	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	msValue := depositTx.TxOut[MultisigOutputIndex].Value
	if err := finalizeEscrowInput(
		tx, args.Keys, [][]byte{sellerSig, buyerSig}, msValue,
	); err != nil {
		return nil, err
	}
	return tx, nil
}

// ArbitratorSignsDisputedPayout returns the arbitrator's signature for the
// payout decided in a dispute. Only 2-of-3 escrows can be arbitrated.
func (a *Assembler) ArbitratorSignsDisputedPayout(
	depositTx *wire.MsgTx, args PayoutArgs, arbitratorKey *btcec.PrivateKey,
) ([]byte, error) {
	if !args.Keys.HasArbitrator() {
		return nil, fmt.Errorf("escrow has no arbitrator key")
	}
	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	return signEscrowInput(tx, args.Keys, arbitratorKey)
}

// TraderSignAndFinalizeDisputedPayout lets either trader complete the
// arbitrated payout with the arbitrator's signature.
func (a *Assembler) TraderSignAndFinalizeDisputedPayout(
	depositTx *wire.MsgTx, args PayoutArgs,
	arbitratorSig []byte, traderKey *btcec.PrivateKey,
) (*wire.MsgTx, error) {
	if !args.Keys.HasArbitrator() {
		return nil, fmt.Errorf("escrow has no arbitrator key")
	}
	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	traderSig, err := signEscrowInput(tx, args.Keys, traderKey)
	if err != nil {
		return nil, err
	}
	msValue := depositTx.TxOut[MultisigOutputIndex].Value
	if err := finalizeEscrowInput(
		tx, args.Keys, [][]byte{arbitratorSig, traderSig}, msValue,
	); err != nil {
		return nil, err
	}
	return tx, nil
}

// EmergencyPayout spends a 2-of-2 escrow output with both traders' keys at
// hand. It's meant for manual recovery, when the deposit tx itself is not
// available: the escrow output value is derived from the payout amounts plus
// txFee.
func (a *Assembler) EmergencyPayout(
	depositTxID string, args PayoutArgs, txFee btcutil.Amount,
	buyerKey, sellerKey *btcec.PrivateKey,
) (*wire.MsgTx, error) {
	if buyerKey == nil || sellerKey == nil {
		return nil, ErrMissingKey
	}
	hash, err := chainhash.NewHashFromStr(depositTxID)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit txid: %s", err)
	}
	keys := Keys{
		Buyer:  buyerKey.PubKey().SerializeCompressed(),
		Seller: sellerKey.PubKey().SerializeCompressed(),
	}
	args.Keys = keys
	msScript, err := keys.OutputScript()
	if err != nil {
		return nil, err
	}
	msValue := int64(args.BuyerAmount + args.SellerAmount + txFee)

	// A fake deposit tx carrying just the escrow output.
	depositTx := wire.NewMsgTx(wire.TxVersion)
	depositTx.AddTxOut(wire.NewTxOut(msValue, msScript))

	tx, err := a.CreatePayout(depositTx, args)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].PreviousOutPoint = *wire.NewOutPoint(hash, MultisigOutputIndex)

	sellerSig, err := signEscrowInput(tx, keys, sellerKey)
	if err != nil {
		return nil, err
	}
	buyerSig, err := signEscrowInput(tx, keys, buyerKey)
	if err != nil {
		return nil, err
	}
	if err := finalizeEscrowInput(
		tx, keys, [][]byte{sellerSig, buyerSig}, msValue,
	); err != nil {
		return nil, err
	}
	return tx, nil
}

func (a *Assembler) escrowSpendingTx(depositTx *wire.MsgTx) (*wire.MsgTx, error) {
	if depositTx == nil || len(depositTx.TxOut) <= MultisigOutputIndex {
		return nil, fmt.Errorf("missing deposit transaction")
	}
	hash := depositTx.TxHash()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, MultisigOutputIndex), nil, nil))
	return tx, nil
}

func (a *Assembler) addOutput(tx *wire.MsgTx, out Output) error {
	if out.Amount <= 0 {
		return fmt.Errorf("output amount must be positive")
	}
	script, err := a.addressScript(out.Address)
	if err != nil {
		return err
	}
	tx.AddTxOut(wire.NewTxOut(int64(out.Amount), script))
	return nil
}

func signEscrowInput(
	tx *wire.MsgTx, keys Keys, key *btcec.PrivateKey,
) ([]byte, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	pubkey := key.PubKey().SerializeCompressed()
	if !bytes.Equal(pubkey, keys.Buyer) && !bytes.Equal(pubkey, keys.Seller) &&
		!bytes.Equal(pubkey, keys.Arbitrator) {
		return nil, fmt.Errorf("key %x is not part of the escrow", pubkey)
	}
	redeemScript, err := keys.RedeemScript()
	if err != nil {
		return nil, err
	}
	return txscript.RawTxInSignature(
		tx, 0, redeemScript, txscript.SigHashAll, key,
	)
}

// finalizeEscrowInput sets the script of the escrow input. Signatures must
// follow the key order of the redeem script.
func finalizeEscrowInput(
	tx *wire.MsgTx, keys Keys, sigs [][]byte, msValue int64,
) error {
	redeemScript, err := keys.RedeemScript()
	if err != nil {
		return err
	}
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_FALSE)
	for _, sig := range sigs {
		if len(sig) <= 0 {
			return newVerificationError("missing escrow signature")
		}
		builder.AddData(sig)
	}
	sigScript, err := builder.AddData(redeemScript).Script()
	if err != nil {
		return err
	}
	tx.TxIn[0].SignatureScript = sigScript

	pkScript, err := P2SHScript(redeemScript)
	if err != nil {
		return err
	}
	return VerifyInput(tx, 0, pkScript, msValue)
}
