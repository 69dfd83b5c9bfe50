package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

const (
	// LockTimeSequence is the sequence of the single input of a delayed
	// payout tx. Being non-final, it enables the lock time.
	LockTimeSequence = wire.MaxTxInSequenceNum - 1
	// MultisigOutputIndex is the position of the escrow output in the
	// deposit tx.
	MultisigOutputIndex = 0
	// ContractHashOutputIndex is the position of the OP_RETURN output in the
	// deposit tx.
	ContractHashOutputIndex = 1
)

// SerializeTx returns the serialization of the given tx.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("missing transaction")
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeTx parses the given raw transaction.
func DeserializeTx(buf []byte) (*wire.MsgTx, error) {
	if len(buf) <= 0 {
		return nil, fmt.Errorf("missing transaction")
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, err
	}
	return tx, nil
}

// ApplyLockTime makes the given tx unspendable before lockTime by setting
// the tx lock time and a non-final sequence on its inputs.
func ApplyLockTime(tx *wire.MsgTx, lockTime uint32) {
	for _, in := range tx.TxIn {
		in.Sequence = LockTimeSequence
	}
	tx.LockTime = lockTime
}
