package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// LocalSigner signs the inputs owned by the local wallet.
type LocalSigner interface {
	SignInput(tx *wire.MsgTx, idx int, prevPkScript []byte, amount int64) error
}

// KeySigner is a LocalSigner for P2PKH outputs locked to a known set of keys.
type KeySigner struct {
	params *chaincfg.Params
	keys   []*btcec.PrivateKey
}

// NewKeySigner returns a signer for the given keys.
func NewKeySigner(
	params *chaincfg.Params, keys ...*btcec.PrivateKey,
) *KeySigner {
	return &KeySigner{params, keys}
}

// AddKey adds a key to the signer.
func (s *KeySigner) AddKey(key *btcec.PrivateKey) {
	s.keys = append(s.keys, key)
}

// SignInput implements LocalSigner.
func (s *KeySigner) SignInput(
	tx *wire.MsgTx, idx int, prevPkScript []byte, _ int64,
) error {
	key, err := s.keyFor(prevPkScript)
	if err != nil {
		return err
	}
	sigScript, err := txscript.SignatureScript(
		tx, idx, prevPkScript, txscript.SigHashAll, key, true,
	)
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}

func (s *KeySigner) keyFor(pkScript []byte) (*btcec.PrivateKey, error) {
	for _, key := range s.keys {
		addr, err := btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(key.PubKey().SerializeCompressed()), s.params,
		)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(script, pkScript) {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no key found for script %x", pkScript)
}

// VerifyInput runs the script engine over the input at idx, failing if the
// signature script does not satisfy prevPkScript.
func VerifyInput(
	tx *wire.MsgTx, idx int, prevPkScript []byte, amount int64,
) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(prevPkScript, amount)
	engine, err := txscript.NewEngine(
		prevPkScript, tx, idx, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), amount, fetcher,
	)
	if err != nil {
		return newVerificationError("input %d: %s", idx, err)
	}
	if err := engine.Execute(); err != nil {
		return newVerificationError("input %d: %s", idx, err)
	}
	return nil
}
