package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/shopspring/decimal"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

const instantSuffix = "_INSTANT"

// PaymentAccountPayload is the counter currency account of a trader.
type PaymentAccountPayload struct {
	PaymentMethodID string            `json:"paymentMethodId"`
	AccountID       string            `json:"accountId"`
	HolderName      string            `json:"holderName"`
	Details         map[string]string `json:"details,omitempty"`
}

// Contract holds the trade terms both traders sign. It must not be changed
// once signed.
type Contract struct {
	Offer                      Offer                 `json:"offer"`
	TradeAmount                int64                 `json:"tradeAmount"`
	TradePrice                 decimal.Decimal       `json:"tradePrice"`
	TakerFeeTxID               string                `json:"takerFeeTxId"`
	IsBuyerMakerAndSellerTaker bool                  `json:"isBuyerMakerAndSellerTaker"`
	MakerAddress               string                `json:"makerAddress"`
	TakerAddress               string                `json:"takerAddress"`
	MediatorAddress            string                `json:"mediatorAddress"`
	RefundAgentAddress         string                `json:"refundAgentAddress"`
	MakerPaymentAccount        PaymentAccountPayload `json:"makerPaymentAccount"`
	TakerPaymentAccount        PaymentAccountPayload `json:"takerPaymentAccount"`
	MakerPubKey                []byte                `json:"makerPubKey"`
	TakerPubKey                []byte                `json:"takerPubKey"`
	MakerPayoutAddress         string                `json:"makerPayoutAddress"`
	TakerPayoutAddress         string                `json:"takerPayoutAddress"`
	MakerMultisigPubKey        []byte                `json:"makerMultisigPubKey"`
	TakerMultisigPubKey        []byte                `json:"takerMultisigPubKey"`
	ArbitratorMultisigPubKey   []byte                `json:"arbitratorMultisigPubKey,omitempty"`
	LockTime                   uint32                `json:"lockTime"`

	MakerSignature []byte `json:"makerSignature,omitempty"`
	TakerSignature []byte `json:"takerSignature,omitempty"`
}

// SerializeForHash returns the canonical JSON of the contract without the
// signatures.
func (c Contract) SerializeForHash() ([]byte, error) {
	c.MakerSignature = nil
	c.TakerSignature = nil
	return json.Marshal(c)
}

// Hash returns the sha256 of the canonical contract JSON.
func (c Contract) Hash() ([]byte, error) {
	buf, err := c.SerializeForHash()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(buf)
	return hash[:], nil
}

// Equal returns whether both contracts hash the same.
func (c Contract) Equal(other Contract) bool {
	h1, err1 := c.Hash()
	h2, err2 := other.Hash()
	return err1 == nil && err2 == nil && bytes.Equal(h1, h2)
}

// Sign returns the signature of the contract hash with the given key.
func (c Contract) Sign(key *btcec.PrivateKey) ([]byte, error) {
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	return ecdsa.Sign(key, hash).Serialize(), nil
}

// VerifySignature checks sig against the contract hash and the given pubkey.
func (c Contract) VerifySignature(pubkey, sig []byte) error {
	if len(sig) <= 0 {
		return ErrContractMissingSignature
	}
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return ErrContractInvalidSignature
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return ErrContractInvalidSignature
	}
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	if !signature.Verify(hash, pub) {
		return ErrContractInvalidSignature
	}
	return nil
}

// VerifySignatures checks both traders' signatures.
func (c Contract) VerifySignatures() error {
	if err := c.VerifySignature(c.MakerPubKey, c.MakerSignature); err != nil {
		return err
	}
	return c.VerifySignature(c.TakerPubKey, c.TakerSignature)
}

// CheckPaymentMethods makes sure both traders use the same payment method.
// An instant variant of a method is compatible with the base one.
func (c Contract) CheckPaymentMethods() error {
	maker := c.MakerPaymentAccount.PaymentMethodID
	taker := c.TakerPaymentAccount.PaymentMethodID
	if maker == "" || taker == "" {
		return ErrPaymentMethodMismatch
	}
	if maker == taker {
		return nil
	}
	if strings.TrimSuffix(maker, instantSuffix) == strings.TrimSuffix(taker, instantSuffix) {
		return nil
	}
	return ErrPaymentMethodMismatch
}

// BuyerMultisigPubKey ...
func (c Contract) BuyerMultisigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerMultisigPubKey
	}
	return c.TakerMultisigPubKey
}

// SellerMultisigPubKey ...
func (c Contract) SellerMultisigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerMultisigPubKey
	}
	return c.MakerMultisigPubKey
}

// BuyerPayoutAddress ...
func (c Contract) BuyerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPayoutAddress
	}
	return c.TakerPayoutAddress
}

// SellerPayoutAddress ...
func (c Contract) SellerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPayoutAddress
	}
	return c.MakerPayoutAddress
}

// EscrowKeys returns the keys of the escrow output of the trade.
func (c Contract) EscrowKeys() escrow.Keys {
	return escrow.Keys{
		Buyer:      c.BuyerMultisigPubKey(),
		Seller:     c.SellerMultisigPubKey(),
		Arbitrator: c.ArbitratorMultisigPubKey,
	}
}
