package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type disputeRepositoryImpl struct {
	txStore
}

// NewDisputeRepositoryImpl returns a DisputeRepository backed by the given
// badgerhold store.
func NewDisputeRepositoryImpl(store *badgerhold.Store) domain.DisputeRepository {
	return disputeRepositoryImpl{txStore{store}}
}

func (r disputeRepositoryImpl) AddDispute(ctx context.Context, d domain.Dispute) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, d.ID, &d); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return ErrDisputeAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r disputeRepositoryImpl) GetDisputes(ctx context.Context) ([]domain.Dispute, error) {
	return r.findDisputes(ctx, nil)
}

func (r disputeRepositoryImpl) GetDisputesByTradeID(
	ctx context.Context, tradeID string,
) ([]domain.Dispute, error) {
	return r.findDisputes(ctx, badgerhold.Where("TradeID").Eq(tradeID))
}

func (r disputeRepositoryImpl) CloseDispute(ctx context.Context, disputeID string) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		var d domain.Dispute
		if err := r.store.TxGet(tx, disputeID, &d); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return ErrDisputeNotFound
			}
			return err
		}
		d.Closed = true
		return r.store.TxUpdate(tx, disputeID, &d)
	})
}

func (r disputeRepositoryImpl) findDisputes(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Dispute, error) {
	var disputes []domain.Dispute
	if err := r.view(ctx, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &disputes, query)
	}); err != nil {
		return nil, err
	}
	if disputes == nil {
		disputes = make([]domain.Dispute, 0)
	}
	sort.SliceStable(disputes, func(i, j int) bool {
		return disputes[i].OpenedAt < disputes[j].OpenedAt
	})
	return disputes, nil
}
