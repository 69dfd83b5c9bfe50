package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type tradeInmemoryStore struct {
	trades map[string]*domain.Trade
	locker *sync.Mutex
}

type tradeRepositoryImpl struct {
	store *tradeInmemoryStore
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{&tradeInmemoryStore{
		trades: make(map[string]*domain.Trade),
		locker: &sync.Mutex{},
	}}
}

func (r tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.trades[trade.ID]; ok {
		return domain.ErrTradeAlreadyExists
	}
	t, err := deepCopy(trade)
	if err != nil {
		return err
	}
	r.store.trades[t.ID] = t
	return nil
}

func (r tradeRepositoryImpl) GetTrade(_ context.Context, tradeID string) (*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	t, ok := r.store.trades[tradeID]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return deepCopy(t)
}

func (r tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.filter(func(*domain.Trade) bool { return true })
}

func (r tradeRepositoryImpl) GetTradesByCollection(
	_ context.Context, c domain.Collection,
) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.filter(func(t *domain.Trade) bool { return t.Collection == c })
}

func (r tradeRepositoryImpl) GetTradeByDepositTxID(
	_ context.Context, txid string,
) (*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	for _, t := range r.store.trades {
		if t.DepositTxID == txid {
			return deepCopy(t)
		}
	}
	return nil, domain.ErrTradeNotFound
}

func (r tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	current, ok := r.store.trades[tradeID]
	if !ok {
		return domain.ErrTradeNotFound
	}
	t, err := deepCopy(current)
	if err != nil {
		return err
	}
	updated, err := updateFn(t)
	if err != nil {
		return err
	}
	if updated, err = deepCopy(updated); err != nil {
		return err
	}
	r.store.trades[tradeID] = updated
	return nil
}

// filter returns copies of the matching trades sorted by take offer date.
func (r tradeRepositoryImpl) filter(
	match func(t *domain.Trade) bool,
) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for _, t := range r.store.trades {
		if !match(t) {
			continue
		}
		c, err := deepCopy(t)
		if err != nil {
			return nil, err
		}
		trades = append(trades, c)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].TakeOfferDate == trades[j].TakeOfferDate {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].TakeOfferDate < trades[j].TakeOfferDate
	})
	return trades, nil
}
