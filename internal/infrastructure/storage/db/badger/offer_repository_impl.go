package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type offerRepositoryImpl struct {
	txStore
}

// NewOfferRepositoryImpl returns an OfferRepository backed by the given
// badgerhold store.
func NewOfferRepositoryImpl(store *badgerhold.Store) domain.OfferRepository {
	return offerRepositoryImpl{txStore{store}}
}

func (r offerRepositoryImpl) AddOffer(ctx context.Context, offer domain.OpenOffer) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		if err := r.store.TxInsert(tx, offer.Offer.ID, &offer); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return ErrOfferAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r offerRepositoryImpl) GetOffer(
	ctx context.Context, offerID string,
) (*domain.OpenOffer, error) {
	var offer *domain.OpenOffer
	err := r.view(ctx, func(tx *badger.Txn) (err error) {
		offer, err = r.getOffer(tx, offerID)
		return
	})
	return offer, err
}

func (r offerRepositoryImpl) GetOffers(ctx context.Context) ([]domain.OpenOffer, error) {
	var offers []domain.OpenOffer
	if err := r.view(ctx, func(tx *badger.Txn) error {
		return r.store.TxFind(tx, &offers, nil)
	}); err != nil {
		return nil, err
	}
	if offers == nil {
		offers = make([]domain.OpenOffer, 0)
	}
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Offer.CreatedAt < offers[j].Offer.CreatedAt
	})
	return offers, nil
}

func (r offerRepositoryImpl) UpdateOffer(
	ctx context.Context,
	offerID string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	return r.update(ctx, func(tx *badger.Txn) error {
		current, err := r.getOffer(tx, offerID)
		if err != nil {
			return err
		}
		updated, err := updateFn(current)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, offerID, updated)
	})
}

func (r offerRepositoryImpl) getOffer(
	tx *badger.Txn, offerID string,
) (*domain.OpenOffer, error) {
	var offer domain.OpenOffer
	if err := r.store.TxGet(tx, offerID, &offer); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}
