package escrow

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// RawTransactionInput lets a party hand its unsigned deposit inputs to the
// counterparty. The whole parent transaction travels along so that the
// receiver can derive the outpoint and the locking script by itself.
type RawTransactionInput struct {
	Index    uint32 `json:"index"`
	ParentTx []byte `json:"parentTx"`
	Value    int64  `json:"value"`
}

// NewRawTransactionInput returns the raw input spending the output at index
// of the given parent transaction.
func NewRawTransactionInput(
	parent *wire.MsgTx, index uint32,
) (RawTransactionInput, error) {
	if parent == nil {
		return RawTransactionInput{}, fmt.Errorf("missing parent transaction")
	}
	if int(index) >= len(parent.TxOut) {
		return RawTransactionInput{}, fmt.Errorf(
			"index %d out of range for parent tx %s", index, parent.TxHash(),
		)
	}
	buf, err := SerializeTx(parent)
	if err != nil {
		return RawTransactionInput{}, err
	}
	return RawTransactionInput{
		Index:    index,
		ParentTx: buf,
		Value:    parent.TxOut[index].Value,
	}, nil
}

// Parent deserializes the parent transaction and checks that the referenced
// output exists and carries the declared value.
func (r RawTransactionInput) Parent() (*wire.MsgTx, error) {
	parent, err := DeserializeTx(r.ParentTx)
	if err != nil {
		return nil, fmt.Errorf("invalid parent transaction: %s", err)
	}
	if int(r.Index) >= len(parent.TxOut) {
		return nil, fmt.Errorf(
			"index %d out of range for parent tx %s", r.Index, parent.TxHash(),
		)
	}
	if v := parent.TxOut[r.Index].Value; v != r.Value {
		return nil, fmt.Errorf(
			"declared value %d does not match parent output value %d", r.Value, v,
		)
	}
	return parent, nil
}

// OutPoint returns the outpoint spent by the input.
func (r RawTransactionInput) OutPoint() (*wire.OutPoint, error) {
	parent, err := r.Parent()
	if err != nil {
		return nil, err
	}
	hash := parent.TxHash()
	return wire.NewOutPoint(&hash, r.Index), nil
}

// PkScript returns the script locking the spent output.
func (r RawTransactionInput) PkScript() ([]byte, error) {
	parent, err := r.Parent()
	if err != nil {
		return nil, err
	}
	return parent.TxOut[r.Index].PkScript, nil
}

// Amount returns the value of the spent output.
func (r RawTransactionInput) Amount() btcutil.Amount {
	return btcutil.Amount(r.Value)
}

// TxIn returns a transaction input spending the raw input with the given
// signature script (nil for unsigned).
func (r RawTransactionInput) TxIn(sigScript []byte) (*wire.TxIn, error) {
	outpoint, err := r.OutPoint()
	if err != nil {
		return nil, err
	}
	return wire.NewTxIn(outpoint, sigScript, nil), nil
}

// SumRawInputs returns the total value of the given raw inputs.
func SumRawInputs(inputs []RawTransactionInput) btcutil.Amount {
	var sum btcutil.Amount
	for _, in := range inputs {
		sum += in.Amount()
	}
	return sum
}
