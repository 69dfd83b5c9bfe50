package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades.
type TradeRepository interface {
	// AddTrade stores a new trade, failing with ErrTradeAlreadyExists if one
	// with the same id exists.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id.
	GetTrade(ctx context.Context, tradeID string) (*Trade, error)
	// GetAllTrades returns all the trades stored in the repository.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// GetTradesByCollection returns the pending, closed or failed trades.
	GetTradesByCollection(ctx context.Context, c Collection) ([]*Trade, error)
	// GetTradeByDepositTxID ...
	GetTradeByDepositTxID(ctx context.Context, txid string) (*Trade, error)
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeID string,
		updateFn func(t *Trade) (*Trade, error),
	) error
}
