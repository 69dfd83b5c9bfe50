package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	txStore
}

// NewTradeRepositoryImpl returns a TradeRepository backed by the given
// badgerhold store.
func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return tradeRepositoryImpl{txStore{store}}
}

func (r tradeRepositoryImpl) AddTrade(ctx context.Context, trade *domain.Trade) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, trade.ID, trade); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrTradeAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	var trade *domain.Trade
	err := r.view(ctx, func(tx *badger.Txn) (err error) {
		trade, err = r.getTrade(tx, tradeID)
		return
	})
	return trade, err
}

func (r tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.findTrades(ctx, nil)
}

func (r tradeRepositoryImpl) GetTradesByCollection(
	ctx context.Context, c domain.Collection,
) ([]*domain.Trade, error) {
	return r.findTrades(ctx, badgerhold.Where("Collection").Eq(c))
}

func (r tradeRepositoryImpl) GetTradeByDepositTxID(
	ctx context.Context, txid string,
) (*domain.Trade, error) {
	trades, err := r.findTrades(ctx, badgerhold.Where("DepositTxID").Eq(txid))
	if err != nil {
		return nil, err
	}
	if len(trades) <= 0 {
		return nil, domain.ErrTradeNotFound
	}
	return trades[0], nil
}

func (r tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		current, err := r.getTrade(tx, tradeID)
		if err != nil {
			return err
		}
		updated, err := updateFn(current)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, tradeID, updated)
	})
}

func (r tradeRepositoryImpl) getTrade(
	tx *badger.Txn, tradeID string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := r.store.TxGet(tx, tradeID, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

// findTrades returns the trades matching the query sorted by take offer
// date. A nil query matches every trade.
func (r tradeRepositoryImpl) findTrades(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var found []domain.Trade
	if err := r.view(ctx, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &found, query)
	}); err != nil {
		return nil, err
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].TakeOfferDate == found[j].TakeOfferDate {
			return found[i].ID < found[j].ID
		}
		return found[i].TakeOfferDate < found[j].TakeOfferDate
	})
	trades := make([]*domain.Trade, 0, len(found))
	for i := range found {
		trades = append(trades, &found[i])
	}
	return trades, nil
}
