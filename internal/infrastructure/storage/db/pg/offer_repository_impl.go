package postgresdb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	insertOffer          = `INSERT INTO open_offer (id, created_at, data) VALUES ($1, $2, $3)`
	updateOffer          = `UPDATE open_offer SET data = $2 WHERE id = $1`
	selectOffer          = `SELECT data FROM open_offer WHERE id = $1`
	selectOfferForUpdate = selectOffer + ` FOR UPDATE`
	selectAllOffers      = `SELECT data FROM open_offer ORDER BY created_at, id`
)

type offerRepositoryImpl struct {
	db
}

// NewOfferRepositoryImpl ...
func NewOfferRepositoryImpl(conn db) domain.OfferRepository {
	return &offerRepositoryImpl{conn}
}

func (r *offerRepositoryImpl) AddOffer(ctx context.Context, offer domain.OpenOffer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if _, err := r.conn(ctx).Exec(
		ctx, insertOffer, offer.Offer.ID, offer.Offer.CreatedAt, data,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrOfferAlreadyExists
		}
		return err
	}
	return nil
}

func (r *offerRepositoryImpl) GetOffer(
	ctx context.Context, offerID string,
) (*domain.OpenOffer, error) {
	return scanOffer(r.conn(ctx).QueryRow(ctx, selectOffer, offerID))
}

func (r *offerRepositoryImpl) GetOffers(ctx context.Context) ([]domain.OpenOffer, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAllOffers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.OpenOffer, 0)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	return offers, rows.Err()
}

func (r *offerRepositoryImpl) UpdateOffer(
	ctx context.Context,
	offerID string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	return r.execTx(ctx, false, func(ctx context.Context, tx dbtx) error {
		current, err := scanOffer(tx.QueryRow(ctx, selectOfferForUpdate, offerID))
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
		_, err = tx.Exec(ctx, updateOffer, offerID, data)
		return err
	})
}

func scanOffer(row pgx.Row) (*domain.OpenOffer, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	var offer domain.OpenOffer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}
