package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// RequiredSignatures is the number of signatures needed to spend the
	// escrow output, whatever the number of keys.
	RequiredSignatures = 2
)

// Keys holds the public keys controlling an escrow output. Arbitrator is
// optional: without it the escrow is a 2-of-2 between the traders.
type Keys struct {
	Buyer      []byte
	Seller     []byte
	Arbitrator []byte
}

// HasArbitrator returns whether the escrow is a 2-of-3 one.
func (k Keys) HasArbitrator() bool {
	return len(k.Arbitrator) > 0
}

// RedeemScript returns the 2-of-3 redeem script if an arbitrator key is set,
// the 2-of-2 one otherwise.
func (k Keys) RedeemScript() ([]byte, error) {
	if k.HasArbitrator() {
		return MultisigRedeemScript(k.Buyer, k.Seller, k.Arbitrator)
	}
	return TwoOfTwoRedeemScript(k.Buyer, k.Seller)
}

// OutputScript returns the P2SH script locking the escrow output.
func (k Keys) OutputScript() ([]byte, error) {
	redeemScript, err := k.RedeemScript()
	if err != nil {
		return nil, err
	}
	return P2SHScript(redeemScript)
}

// MultisigRedeemScript builds the 2-of-3 redeem script. Keys are pushed in
// the order (arbitrator, seller, buyer), not sorted: signatures in the input
// script must follow the very same order for OP_CHECKMULTISIG to match them.
func MultisigRedeemScript(
	buyerPubKey, sellerPubKey, arbitratorPubKey []byte,
) ([]byte, error) {
	return multisigScript(arbitratorPubKey, sellerPubKey, buyerPubKey)
}

// TwoOfTwoRedeemScript builds the 2-of-2 redeem script with key order
// (seller, buyer).
func TwoOfTwoRedeemScript(buyerPubKey, sellerPubKey []byte) ([]byte, error) {
	return multisigScript(sellerPubKey, buyerPubKey)
}

// P2SHScript wraps the given redeem script into a pay-to-script-hash output
// script.
func P2SHScript(redeemScript []byte) ([]byte, error) {
	if len(redeemScript) <= 0 {
		return nil, fmt.Errorf("missing redeem script")
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// P2SHAddress returns the address of the escrow for the given network.
func P2SHAddress(
	redeemScript []byte, params *chaincfg.Params,
) (*btcutil.AddressScriptHash, error) {
	return btcutil.NewAddressScriptHash(redeemScript, params)
}

// ContractHashScript returns the zero-value OP_RETURN script committing to
// the hash of the contract.
func ContractHashScript(contractHash []byte) ([]byte, error) {
	if len(contractHash) <= 0 {
		return nil, fmt.Errorf("missing contract hash")
	}
	return txscript.NullDataScript(contractHash)
}

func multisigScript(pubkeys ...[]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddInt64(RequiredSignatures)
	for i, key := range pubkeys {
		if err := validatePubKey(key); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		builder.AddData(key)
	}
	for i := range pubkeys {
		for j := i + 1; j < len(pubkeys); j++ {
			if bytes.Equal(pubkeys[i], pubkeys[j]) {
				return nil, fmt.Errorf("duplicated escrow key at index %d", j)
			}
		}
	}
	return builder.
		AddInt64(int64(len(pubkeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

func validatePubKey(key []byte) error {
	if len(key) != btcec.PubKeyBytesLenCompressed {
		return fmt.Errorf("public key must be compressed")
	}
	if _, err := btcec.ParsePubKey(key); err != nil {
		return fmt.Errorf("invalid public key: %s", err)
	}
	return nil
}
