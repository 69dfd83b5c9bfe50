package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	insertTrade = `INSERT INTO trade (id, collection, deposit_txid, take_offer_date, data)
		VALUES ($1, $2, $3, $4, $5)`
	updateTrade = `UPDATE trade SET collection = $2, deposit_txid = $3,
		take_offer_date = $4, data = $5 WHERE id = $1`
	selectTrade              = `SELECT data FROM trade WHERE id = $1`
	selectTradeForUpdate     = selectTrade + ` FOR UPDATE`
	selectAllTrades          = `SELECT data FROM trade ORDER BY take_offer_date, id`
	selectTradesByCollection = `SELECT data FROM trade WHERE collection = $1
		ORDER BY take_offer_date, id`
	selectTradeByDepositTxID = `SELECT data FROM trade WHERE deposit_txid = $1 LIMIT 1`
)

type tradeRepositoryImpl struct {
	db
}

// NewTradeRepositoryImpl returns a TradeRepository storing trades as jsonb
// documents indexed by collection and deposit tx id.
func NewTradeRepositoryImpl(conn db) domain.TradeRepository {
	return &tradeRepositoryImpl{conn}
}

func (r *tradeRepositoryImpl) AddTrade(ctx context.Context, trade *domain.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	if _, err := r.conn(ctx).Exec(
		ctx, insertTrade, trade.ID, int32(trade.Collection), trade.DepositTxID,
		trade.TakeOfferDate, data,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTradeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	return scanTrade(r.conn(ctx).QueryRow(ctx, selectTrade, tradeID))
}

func (r *tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAllTrades)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (r *tradeRepositoryImpl) GetTradesByCollection(
	ctx context.Context, c domain.Collection,
) ([]*domain.Trade, error) {
	rows, err := r.conn(ctx).Query(ctx, selectTradesByCollection, int32(c))
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (r *tradeRepositoryImpl) GetTradeByDepositTxID(
	ctx context.Context, txid string,
) (*domain.Trade, error) {
	return scanTrade(r.conn(ctx).QueryRow(ctx, selectTradeByDepositTxID, txid))
}

func (r *tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return r.execTx(ctx, false, func(ctx context.Context, tx dbtx) error {
		current, err := scanTrade(tx.QueryRow(ctx, selectTradeForUpdate, tradeID))
		if err != nil {
			return err
		}
		updated, err := updateFn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			ctx, updateTrade, tradeID, int32(updated.Collection),
			updated.DepositTxID, updated.TakeOfferDate, data,
		)
		return err
	})
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	var trade domain.Trade
	if err := json.Unmarshal(data, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
