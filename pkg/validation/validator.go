// Package validation guards the co-signing of payout transactions received
// from a counterparty.
package validation

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/receivers"
)

// DonationAddresses are the only addresses a delayed payout tx can pay to in
// donation mode.
type DonationAddresses struct {
	Current string
	Default string
}

// DelayedPayoutArgs are the trade data a delayed payout tx is checked
// against.
type DelayedPayoutArgs struct {
	Tx            *wire.MsgTx
	LockTime      uint32
	TradeAmount   int64
	BuyerDeposit  int64
	SellerDeposit int64
	Donation      DonationAddresses
}

// ExpectedAmount is the value the delayed payout must move.
func (a DelayedPayoutArgs) ExpectedAmount() int64 {
	return a.TradeAmount + a.BuyerDeposit + a.SellerDeposit
}

// Validator checks payout txs before the local party signs them. It never
// mutates the given txs.
type Validator struct {
	params                *chaincfg.Params
	allowFaultyDelayedTxs bool
}

// NewValidator returns a new Validator. allowFaultyDelayedTxs skips the
// structure and amount checks of delayed payout txs and must be used only to
// recover stuck trades.
func NewValidator(
	params *chaincfg.Params, allowFaultyDelayedTxs bool,
) (*Validator, error) {
	if params == nil {
		return nil, fmt.Errorf("missing network params")
	}
	if allowFaultyDelayedTxs {
		log.Warn("validator: faulty delayed payout txs are allowed")
	}
	return &Validator{params, allowFaultyDelayedTxs}, nil
}

// ValidateDelayedPayout validates a delayed payout tx paying the whole
// escrow to a donation address.
func (v *Validator) ValidateDelayedPayout(args DelayedPayoutArgs) error {
	tx := args.Tx
	if tx == nil {
		return &MissingTransactionError{"delayed payout tx"}
	}
	if len(tx.TxIn) <= 0 || len(tx.TxOut) <= 0 {
		return &InvalidStructureError{"delayed payout tx has no inputs or outputs"}
	}

	if len(tx.TxIn) != 1 || len(tx.TxOut) != 1 {
		err := &InvalidStructureError{fmt.Sprintf(
			"expected 1 input and 1 output, got %d and %d",
			len(tx.TxIn), len(tx.TxOut),
		)}
		if !v.skipFaulty(err) {
			v.dump(tx)
			return err
		}
	}

	if err := checkLockTime(tx, args.LockTime); err != nil {
		return err
	}

	out := tx.TxOut[0]
	if expected := args.ExpectedAmount(); out.Value != expected {
		err := &AmountMismatchError{Expected: expected, Actual: out.Value}
		if !v.skipFaulty(err) {
			v.dump(tx)
			return err
		}
	}

	address, err := v.outputAddress(out.PkScript)
	if err != nil {
		return &DonationAddressError{
			Address:        fmt.Sprintf("%x", out.PkScript),
			CurrentAddress: args.Donation.Current,
			DefaultAddress: args.Donation.Default,
		}
	}
	if address != args.Donation.Current && address != args.Donation.Default {
		return &DonationAddressError{
			Address:        address,
			CurrentAddress: args.Donation.Current,
			DefaultAddress: args.Donation.Default,
		}
	}
	return nil
}

// ValidateDelayedPayoutReceivers validates a delayed payout tx paying the
// escrow to the given receivers, computed locally from the same claims
// snapshot. Outputs must match the receivers one by one and can't move more
// than the escrowed amount.
func (v *Validator) ValidateDelayedPayoutReceivers(
	args DelayedPayoutArgs, expected []receivers.Receiver,
) error {
	tx := args.Tx
	if tx == nil {
		return &MissingTransactionError{"delayed payout tx"}
	}
	if len(tx.TxIn) != 1 {
		return &InvalidStructureError{fmt.Sprintf(
			"expected 1 input, got %d", len(tx.TxIn),
		)}
	}
	if err := checkLockTime(tx, args.LockTime); err != nil {
		return err
	}
	if len(expected) <= 0 {
		return &InvalidReceiversError{"missing expected receivers"}
	}
	if len(tx.TxOut) != len(expected) {
		v.dump(tx)
		return &InvalidReceiversError{fmt.Sprintf(
			"expected %d outputs, got %d", len(expected), len(tx.TxOut),
		)}
	}

	var total int64
	for i, out := range tx.TxOut {
		address, err := v.outputAddress(out.PkScript)
		if err != nil {
			return &InvalidReceiversError{fmt.Sprintf("output %d: %s", i, err)}
		}
		if address != expected[i].Address || out.Value != expected[i].Amount {
			v.dump(tx)
			return &InvalidReceiversError{fmt.Sprintf(
				"output %d pays %d to %s, expected %d to %s",
				i, out.Value, address, expected[i].Amount, expected[i].Address,
			)}
		}
		total += out.Value
	}
	if total > args.ExpectedAmount() {
		return &AmountMismatchError{Expected: args.ExpectedAmount(), Actual: total}
	}
	return nil
}

// ValidatePayoutInput checks that the single input of tx spends the escrow
// output of the deposit tx with the given hash.
func (v *Validator) ValidatePayoutInput(
	tx *wire.MsgTx, depositTxHash chainhash.Hash,
) error {
	if tx == nil {
		return &MissingTransactionError{"payout tx"}
	}
	if len(tx.TxIn) != 1 {
		return &InvalidStructureError{fmt.Sprintf(
			"expected 1 input, got %d", len(tx.TxIn),
		)}
	}
	prevOut := tx.TxIn[0].PreviousOutPoint
	if prevOut.Hash != depositTxHash || prevOut.Index != escrow.MultisigOutputIndex {
		return &InvalidInputError{fmt.Sprintf(
			"input spends %s, expected %s:%d",
			prevOut, depositTxHash, escrow.MultisigOutputIndex,
		)}
	}
	return nil
}

// ValidateDepositInputs checks that the deposit tx spends exactly the inputs
// committed by the traders, the buyer's first, each in the order it was
// declared.
func (v *Validator) ValidateDepositInputs(
	tx *wire.MsgTx, buyerInputs, sellerInputs []escrow.RawTransactionInput,
) error {
	if tx == nil {
		return &MissingTransactionError{"deposit tx"}
	}
	if len(buyerInputs) <= 0 || len(sellerInputs) <= 0 {
		return &InvalidInputError{"both traders must fund the deposit tx"}
	}
	inputs := append(
		append([]escrow.RawTransactionInput{}, buyerInputs...), sellerInputs...,
	)
	if len(tx.TxIn) != len(inputs) {
		return &InvalidStructureError{fmt.Sprintf(
			"deposit tx must have %d inputs, got %d", len(inputs), len(tx.TxIn),
		)}
	}
	for i, in := range inputs {
		outpoint, err := in.OutPoint()
		if err != nil {
			return &InvalidInputError{fmt.Sprintf("input %d: %s", i, err)}
		}
		if prevOut := tx.TxIn[i].PreviousOutPoint; prevOut != *outpoint {
			return &InvalidInputError{fmt.Sprintf(
				"input %d spends %s, expected %s", i, prevOut, outpoint,
			)}
		}
	}
	return nil
}

func (v *Validator) outputAddress(pkScript []byte) (string, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, v.params)
	if err != nil {
		return "", err
	}
	if class != txscript.PubKeyHashTy && class != txscript.ScriptHashTy {
		return "", fmt.Errorf("unsupported output script type %s", class)
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("output script resolves to %d addresses", len(addrs))
	}
	return addrs[0].EncodeAddress(), nil
}

func (v *Validator) skipFaulty(err error) bool {
	if !v.allowFaultyDelayedTxs {
		return false
	}
	log.WithError(err).Error(
		"delayed payout tx check failed but faulty delayed txs are allowed",
	)
	return true
}

func (v *Validator) dump(tx *wire.MsgTx) {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("rejected tx %s: %s", tx.TxHash(), spew.Sdump(tx))
	}
}

func checkLockTime(tx *wire.MsgTx, lockTime uint32) error {
	if tx.LockTime != lockTime {
		return &InvalidLockTimeError{fmt.Sprintf(
			"tx lock time %d does not match trade lock time %d",
			tx.LockTime, lockTime,
		)}
	}
	if seq := tx.TxIn[0].Sequence; seq != escrow.LockTimeSequence {
		return &InvalidLockTimeError{fmt.Sprintf(
			"input sequence %#x must be %#x", seq, uint32(escrow.LockTimeSequence),
		)}
	}
	return nil
}
