package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type messageRepositoryImpl struct {
	processed map[string]domain.ProcessedMessage
	pending   map[string]domain.StoredMessage
	locker    *sync.RWMutex
}

// NewMessageRepositoryImpl returns a new inmemory MessageRepository
// implementation.
func NewMessageRepositoryImpl() domain.MessageRepository {
	return &messageRepositoryImpl{
		processed: make(map[string]domain.ProcessedMessage),
		pending:   make(map[string]domain.StoredMessage),
		locker:    &sync.RWMutex{},
	}
}

func (r *messageRepositoryImpl) MarkProcessed(
	_ context.Context, msg domain.ProcessedMessage,
) (bool, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.processed[msg.UID]; ok {
		return false, nil
	}
	r.processed[msg.UID] = msg
	return true, nil
}

func (r *messageRepositoryImpl) IsProcessed(_ context.Context, uid string) (bool, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	_, ok := r.processed[uid]
	return ok, nil
}

func (r *messageRepositoryImpl) AddPending(
	_ context.Context, msg domain.StoredMessage,
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.pending[msg.UID]; ok {
		return nil
	}
	msg.Payload = append([]byte{}, msg.Payload...)
	r.pending[msg.UID] = msg
	return nil
}

// GetPending returns the buffered messages of the trade in arrival order.
func (r *messageRepositoryImpl) GetPending(
	_ context.Context, tradeID string,
) ([]domain.StoredMessage, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	msgs := make([]domain.StoredMessage, 0)
	for _, m := range r.pending {
		if m.TradeID == tradeID {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ReceivedAt == msgs[j].ReceivedAt {
			return msgs[i].UID < msgs[j].UID
		}
		return msgs[i].ReceivedAt < msgs[j].ReceivedAt
	})
	return msgs, nil
}

func (r *messageRepositoryImpl) DeletePending(_ context.Context, uid string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	delete(r.pending, uid)
	return nil
}
