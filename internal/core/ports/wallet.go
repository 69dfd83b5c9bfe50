package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// ConfidenceStatus is the status of a tx in the chain.
type ConfidenceStatus int

const (
	ConfidenceUnknown ConfidenceStatus = iota
	ConfidencePending
	ConfidenceBuilding
	ConfidenceDead
)

func (s ConfidenceStatus) String() string {
	switch s {
	case ConfidencePending:
		return "PENDING"
	case ConfidenceBuilding:
		return "BUILDING"
	case ConfidenceDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Confidence is the status of a tx with its depth when building.
type Confidence struct {
	Status ConfidenceStatus
	Depth  int
}

// TradeAddresses are the addresses and keys the wallet reserves for a trade.
// They are never shared between trades.
type TradeAddresses struct {
	Funding        string `json:"funding"`
	Payout         string `json:"payout"`
	Change         string `json:"change"`
	MultisigPubKey []byte `json:"multisigPubKey"`
}

// Wallet is the wallet collaborator. It owns keys, coins and addresses.
type Wallet interface {
	escrow.CoinSource
	escrow.LocalSigner

	// SigningKey returns the node key used to sign contracts.
	SigningKey(ctx context.Context) (*btcec.PrivateKey, error)
	// MultisigKey returns the escrow key reserved for the trade.
	MultisigKey(ctx context.Context, tradeID string) (*btcec.PrivateKey, error)
	ReserveAddresses(ctx context.Context, tradeID string) (TradeAddresses, error)
	ReleaseAddresses(ctx context.Context, tradeID string) error
	// AreAddressesAvailable returns whether the addresses of the trade can
	// still be used, ie. they weren't reassigned to something else.
	AreAddressesAvailable(
		ctx context.Context, tradeID string, addresses TradeAddresses,
	) (bool, error)
	UnconfirmedTxCount(ctx context.Context) (int, error)
	GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error)
	GetConfidence(ctx context.Context, txid string) (Confidence, error)
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
	// Withdraw sweeps the coins of fromAddress to toAddress and returns the
	// txid.
	Withdraw(ctx context.Context, fromAddress, toAddress string) (string, error)
	Close()
}
