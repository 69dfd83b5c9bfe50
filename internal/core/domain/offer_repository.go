package domain

import "context"

// OpenOfferState ...
type OpenOfferState int

const (
	OpenOfferAvailable OpenOfferState = iota
	OpenOfferReserved
	OpenOfferTaken
	OpenOfferCanceled
)

// OpenOffer is an offer published by the local node, with the payment
// account the maker trades with.
type OpenOffer struct {
	Offer          Offer                 `json:"offer"`
	PaymentAccount PaymentAccountPayload `json:"paymentAccount"`
	State          OpenOfferState        `json:"state"`
}

// IsAvailable ...
func (o OpenOffer) IsAvailable() bool {
	return o.State == OpenOfferAvailable
}

// OfferRepository persists the offers of the local node.
type OfferRepository interface {
	AddOffer(ctx context.Context, offer OpenOffer) error
	GetOffer(ctx context.Context, offerID string) (*OpenOffer, error)
	GetOffers(ctx context.Context) ([]OpenOffer, error)
	UpdateOffer(
		ctx context.Context,
		offerID string,
		updateFn func(o *OpenOffer) (*OpenOffer, error),
	) error
}
