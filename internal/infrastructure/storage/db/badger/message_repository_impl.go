package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type messageRepositoryImpl struct {
	txStore
}

// NewMessageRepositoryImpl returns a MessageRepository backed by the given
// badgerhold store.
func NewMessageRepositoryImpl(store *badgerhold.Store) domain.MessageRepository {
	return messageRepositoryImpl{txStore{store}}
}

func (r messageRepositoryImpl) MarkProcessed(
	ctx context.Context, msg domain.ProcessedMessage,
) (bool, error) {
	isNew := true
	err := r.update(ctx, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, msg.UID, &msg); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				isNew = false
				return nil
			}
			return err
		}
		return nil
	})
	return isNew, err
}

func (r messageRepositoryImpl) IsProcessed(ctx context.Context, uid string) (bool, error) {
	found := false
	err := r.view(ctx, func(tx *badger.Txn) error {
		var msg domain.ProcessedMessage
		if err := r.store.TxGet(tx, uid, &msg); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (r messageRepositoryImpl) AddPending(
	ctx context.Context, msg domain.StoredMessage,
) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, msg.UID, &msg); err != nil &&
			!errors.Is(err, badgerhold.ErrKeyExists) {
			return err
		}
		return nil
	})
}

// GetPending returns the buffered messages of the trade in arrival order.
func (r messageRepositoryImpl) GetPending(
	ctx context.Context, tradeID string,
) ([]domain.StoredMessage, error) {
	var msgs []domain.StoredMessage
	if err := r.view(ctx, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &msgs, badgerhold.Where("TradeID").Eq(tradeID))
	}); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = make([]domain.StoredMessage, 0)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ReceivedAt == msgs[j].ReceivedAt {
			return msgs[i].UID < msgs[j].UID
		}
		return msgs[i].ReceivedAt < msgs[j].ReceivedAt
	})
	return msgs, nil
}

func (r messageRepositoryImpl) DeletePending(ctx context.Context, uid string) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		err := r.store.TxDelete(tx, uid, domain.StoredMessage{})
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		return nil
	})
}
