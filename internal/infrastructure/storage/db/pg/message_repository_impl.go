package postgresdb

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	insertProcessedMessage = `INSERT INTO processed_message (uid, trade_id, processed_at)
		VALUES ($1, $2, $3) ON CONFLICT (uid) DO NOTHING`
	selectProcessedMessage = `SELECT EXISTS(SELECT 1 FROM processed_message WHERE uid = $1)`
	insertPendingMessage   = `INSERT INTO pending_message
		(uid, trade_id, msg_type, sender, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (uid) DO NOTHING`
	selectPendingMessages = `SELECT uid, trade_id, msg_type, sender, payload, received_at
		FROM pending_message WHERE trade_id = $1 ORDER BY received_at, uid`
	deletePendingMessage = `DELETE FROM pending_message WHERE uid = $1`
)

type messageRepositoryImpl struct {
	db
}

// NewMessageRepositoryImpl ...
func NewMessageRepositoryImpl(conn db) domain.MessageRepository {
	return &messageRepositoryImpl{conn}
}

func (r *messageRepositoryImpl) MarkProcessed(
	ctx context.Context, msg domain.ProcessedMessage,
) (bool, error) {
	tag, err := r.conn(ctx).Exec(
		ctx, insertProcessedMessage, msg.UID, msg.TradeID, msg.ProcessedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *messageRepositoryImpl) IsProcessed(ctx context.Context, uid string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, selectProcessedMessage, uid).Scan(&exists)
	return exists, err
}

func (r *messageRepositoryImpl) AddPending(
	ctx context.Context, msg domain.StoredMessage,
) error {
	_, err := r.conn(ctx).Exec(
		ctx, insertPendingMessage, msg.UID, msg.TradeID, msg.Type, msg.Sender,
		msg.Payload, msg.ReceivedAt,
	)
	return err
}

func (r *messageRepositoryImpl) GetPending(
	ctx context.Context, tradeID string,
) ([]domain.StoredMessage, error) {
	rows, err := r.conn(ctx).Query(ctx, selectPendingMessages, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]domain.StoredMessage, 0)
	for rows.Next() {
		var m domain.StoredMessage
		if err := rows.Scan(
			&m.UID, &m.TradeID, &m.Type, &m.Sender, &m.Payload, &m.ReceivedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *messageRepositoryImpl) DeletePending(ctx context.Context, uid string) error {
	_, err := r.conn(ctx).Exec(ctx, deletePendingMessage, uid)
	return err
}
