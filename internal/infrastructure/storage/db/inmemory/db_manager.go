package inmemory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

type RepoManager struct {
	tradeRepository   domain.TradeRepository
	offerRepository   domain.OfferRepository
	messageRepository domain.MessageRepository
	disputeRepository domain.DisputeRepository

	txLock sync.Mutex
}

func NewRepoManager() ports.RepoManager {
	return &RepoManager{
		tradeRepository:   NewTradeRepositoryImpl(),
		offerRepository:   NewOfferRepositoryImpl(),
		messageRepository: NewMessageRepositoryImpl(),
		disputeRepository: NewDisputeRepositoryImpl(),
	}
}

func (d *RepoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *RepoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *RepoManager) MessageRepository() domain.MessageRepository {
	return d.messageRepository
}

func (d *RepoManager) DisputeRepository() domain.DisputeRepository {
	return d.disputeRepository
}

func (d *RepoManager) Close() {}

// RunTransaction serializes the handlers. There is no rollback, the
// repositories apply changes only once an update function succeeds.
func (d *RepoManager) RunTransaction(
	ctx context.Context,
	_ bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	d.txLock.Lock()
	defer d.txLock.Unlock()
	return handler(ctx)
}

// deepCopy returns a copy of v sharing no memory with it, so that callers
// can never mutate the stored values.
func deepCopy[T any](v *T) (*T, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var c T
	if err := json.Unmarshal(buf, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
