package ports

import (
	"context"

	"github.com/tdex-network/tdex-escrow/pkg/receivers"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

// DaoParams resolves the governance parameters used by trades.
type DaoParams interface {
	DonationAddresses(ctx context.Context) (validation.DonationAddresses, error)
	// CompensationClaims returns the claims issued up to the given height.
	CompensationClaims(
		ctx context.Context, maxBlockHeight int32,
	) ([]receivers.Claim, error)
	ChainHeight(ctx context.Context) (int32, error)
	GenesisHeight() int32
	// UseReceivers tells whether delayed payouts pay to claims holders
	// rather than to the donation address.
	UseReceivers() bool
}
