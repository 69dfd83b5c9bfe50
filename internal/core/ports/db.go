package ports

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// RepoManager interface defines the methods for trades, offers, messages and
// disputes.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	OfferRepository() domain.OfferRepository
	MessageRepository() domain.MessageRepository
	DisputeRepository() domain.DisputeRepository

	Close()

	RunTransaction(
		ctx context.Context,
		readOnly bool,
		handler func(ctx context.Context) (interface{}, error),
	) (interface{}, error)
}
