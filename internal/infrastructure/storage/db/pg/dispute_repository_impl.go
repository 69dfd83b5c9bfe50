package postgresdb

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	insertDispute = `INSERT INTO dispute (id, trade_id, opened_at, closed, data)
		VALUES ($1, $2, $3, $4, $5)`
	closeDispute      = `UPDATE dispute SET closed = TRUE WHERE id = $1`
	selectAllDisputes = `SELECT data, closed FROM dispute ORDER BY opened_at, id`
	selectDisputes    = `SELECT data, closed FROM dispute WHERE trade_id = $1
		ORDER BY opened_at, id`
)

type disputeRepositoryImpl struct {
	db
}

// NewDisputeRepositoryImpl ...
func NewDisputeRepositoryImpl(conn db) domain.DisputeRepository {
	return &disputeRepositoryImpl{conn}
}

func (r *disputeRepositoryImpl) AddDispute(ctx context.Context, d domain.Dispute) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := r.conn(ctx).Exec(
		ctx, insertDispute, d.ID, d.TradeID, d.OpenedAt, d.Closed, data,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDisputeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *disputeRepositoryImpl) GetDisputes(ctx context.Context) ([]domain.Dispute, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAllDisputes)
	if err != nil {
		return nil, err
	}
	return scanDisputes(rows)
}

func (r *disputeRepositoryImpl) GetDisputesByTradeID(
	ctx context.Context, tradeID string,
) ([]domain.Dispute, error) {
	rows, err := r.conn(ctx).Query(ctx, selectDisputes, tradeID)
	if err != nil {
		return nil, err
	}
	return scanDisputes(rows)
}

func (r *disputeRepositoryImpl) CloseDispute(ctx context.Context, disputeID string) error {
	tag, err := r.conn(ctx).Exec(ctx, closeDispute, disputeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

// scanDisputes decodes the rows, the closed column being the source of
// truth for the dispute status.
func scanDisputes(rows pgx.Rows) ([]domain.Dispute, error) {
	defer rows.Close()

	disputes := make([]domain.Dispute, 0)
	for rows.Next() {
		var (
			data   []byte
			closed bool
		)
		if err := rows.Scan(&data, &closed); err != nil {
			return nil, err
		}
		var d domain.Dispute
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		d.Closed = closed
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}
