package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thanhpk/randstr"
)

// DefaultMaxTradePeriod applies to offers not setting one.
const DefaultMaxTradePeriod = 24 * time.Hour

// Offer is the snapshot of the maker's offer a trade was created from.
type Offer struct {
	ID                    string          `json:"id"`
	Direction             Direction       `json:"direction"`
	Price                 decimal.Decimal `json:"price"`
	Amount                int64           `json:"amount"`
	MinAmount             int64           `json:"minAmount"`
	CurrencyCode          string          `json:"currencyCode"`
	PaymentMethodID       string          `json:"paymentMethodId"`
	BuyerSecurityDeposit  int64           `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit int64           `json:"sellerSecurityDeposit"`
	MakerFee              int64           `json:"makerFee"`
	MakerFeeTxID          string          `json:"makerFeeTxId"`
	MakerAddress          string          `json:"makerAddress"`
	MaxTradePeriod        time.Duration   `json:"maxTradePeriod"`
	CreatedAt             int64           `json:"createdAt"`
}

// NewOfferID returns a new random offer id.
func NewOfferID() string {
	return fmt.Sprintf("%s-%s", randstr.String(8), uuid.New().String())
}

// Validate checks the offer terms.
func (o Offer) Validate() error {
	if o.ID == "" {
		return ErrOfferMissingID
	}
	if o.Amount <= 0 || o.MinAmount <= 0 || o.MinAmount > o.Amount {
		return ErrOfferInvalidAmount
	}
	if !o.Price.IsPositive() {
		return ErrOfferInvalidPrice
	}
	if o.BuyerSecurityDeposit <= 0 || o.SellerSecurityDeposit <= 0 {
		return ErrOfferInvalidDeposit
	}
	if o.PaymentMethodID == "" {
		return ErrOfferMissingPaymentMethod
	}
	return nil
}

// IsValidAmount returns whether a trade amount is within the offer range.
func (o Offer) IsValidAmount(amount int64) bool {
	return amount >= o.MinAmount && amount <= o.Amount
}

// TradePeriod returns the max duration of a trade for this offer.
func (o Offer) TradePeriod() time.Duration {
	if o.MaxTradePeriod <= 0 {
		return DefaultMaxTradePeriod
	}
	return o.MaxTradePeriod
}
