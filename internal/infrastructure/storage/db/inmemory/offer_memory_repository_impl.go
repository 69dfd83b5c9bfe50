package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type offerRepositoryImpl struct {
	offers map[string]*domain.OpenOffer
	locker *sync.RWMutex
}

// NewOfferRepositoryImpl returns a new inmemory OfferRepository implementation.
func NewOfferRepositoryImpl() domain.OfferRepository {
	return &offerRepositoryImpl{
		offers: make(map[string]*domain.OpenOffer),
		locker: &sync.RWMutex{},
	}
}

func (r *offerRepositoryImpl) AddOffer(_ context.Context, offer domain.OpenOffer) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.offers[offer.Offer.ID]; ok {
		return ErrOfferAlreadyExists
	}
	o, err := deepCopy(&offer)
	if err != nil {
		return err
	}
	r.offers[offer.Offer.ID] = o
	return nil
}

func (r *offerRepositoryImpl) GetOffer(
	_ context.Context, offerID string,
) (*domain.OpenOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	o, ok := r.offers[offerID]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return deepCopy(o)
}

func (r *offerRepositoryImpl) GetOffers(_ context.Context) ([]domain.OpenOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	offers := make([]domain.OpenOffer, 0, len(r.offers))
	for _, o := range r.offers {
		c, err := deepCopy(o)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *c)
	}
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Offer.CreatedAt < offers[j].Offer.CreatedAt
	})
	return offers, nil
}

func (r *offerRepositoryImpl) UpdateOffer(
	_ context.Context,
	offerID string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	current, ok := r.offers[offerID]
	if !ok {
		return domain.ErrOfferNotFound
	}
	o, err := deepCopy(current)
	if err != nil {
		return err
	}
	updated, err := updateFn(o)
	if err != nil {
		return err
	}
	if updated, err = deepCopy(updated); err != nil {
		return err
	}
	r.offers[offerID] = updated
	return nil
}
