package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type disputeRepositoryImpl struct {
	disputes map[string]domain.Dispute
	locker   *sync.RWMutex
}

// NewDisputeRepositoryImpl returns a new inmemory DisputeRepository
// implementation.
func NewDisputeRepositoryImpl() domain.DisputeRepository {
	return &disputeRepositoryImpl{
		disputes: make(map[string]domain.Dispute),
		locker:   &sync.RWMutex{},
	}
}

func (r *disputeRepositoryImpl) AddDispute(_ context.Context, d domain.Dispute) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.disputes[d.ID]; ok {
		return ErrDisputeAlreadyExists
	}
	r.disputes[d.ID] = d
	return nil
}

func (r *disputeRepositoryImpl) GetDisputes(_ context.Context) ([]domain.Dispute, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.filter(func(domain.Dispute) bool { return true }), nil
}

func (r *disputeRepositoryImpl) GetDisputesByTradeID(
	_ context.Context, tradeID string,
) ([]domain.Dispute, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.filter(func(d domain.Dispute) bool { return d.TradeID == tradeID }), nil
}

func (r *disputeRepositoryImpl) CloseDispute(_ context.Context, disputeID string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	d, ok := r.disputes[disputeID]
	if !ok {
		return ErrDisputeNotFound
	}
	d.Closed = true
	r.disputes[disputeID] = d
	return nil
}

func (r *disputeRepositoryImpl) filter(match func(d domain.Dispute) bool) []domain.Dispute {
	disputes := make([]domain.Dispute, 0)
	for _, d := range r.disputes {
		if match(d) {
			disputes = append(disputes, d)
		}
	}
	sort.SliceStable(disputes, func(i, j int) bool {
		return disputes[i].OpenedAt < disputes[j].OpenedAt
	})
	return disputes
}
