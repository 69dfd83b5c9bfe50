package domain

// DefaultMinRefundAtMediatedDispute is the deposit refunded to the requester
// of a cooperative cancellation.
const DefaultMinRefundAtMediatedDispute = int64(300_000)

// ComputeCancellationPayout returns the split of a cancelled trade. The
// requester gets minRefund, the accepting trader the rest of both deposits.
// The trade amount always returns to the seller.
func ComputeCancellationPayout(
	requester Direction,
	tradeAmount, buyerDeposit, sellerDeposit, minRefund int64,
) (PayoutSplit, error) {
	totalDeposits := buyerDeposit + sellerDeposit
	if minRefund <= 0 || minRefund > totalDeposits {
		return PayoutSplit{}, ErrInvalidMinRefund
	}
	if tradeAmount <= 0 {
		return PayoutSplit{}, ErrOfferInvalidAmount
	}

	if requester == Buy {
		return PayoutSplit{
			BuyerAmount:  minRefund,
			SellerAmount: tradeAmount + totalDeposits - minRefund,
		}, nil
	}
	return PayoutSplit{
		BuyerAmount:  totalDeposits - minRefund,
		SellerAmount: tradeAmount + minRefund,
	}, nil
}

// RequestCancellation records a cancellation request of the given party.
// It's not allowed once a dispute is open or if the payout already went out.
func (t *Trade) RequestCancellation(
	requester Direction, minRefund int64, now int64,
) (PayoutSplit, error) {
	if !t.DisputeState.IsNotDisputed() {
		return PayoutSplit{}, ErrDisputeAlreadyOpen
	}
	if !t.IsDepositPublished() || t.IsPayoutPublished() {
		return PayoutSplit{}, ErrCancellationNotAllowed
	}
	if t.CancellationState.IsPending() || t.CancellationState.IsAccepted() {
		return PayoutSplit{}, ErrCancellationAlreadyRequested
	}
	split, err := ComputeCancellationPayout(
		requester, t.Amount, t.BuyerSecurityDeposit(), t.SellerSecurityDeposit(),
		minRefund,
	)
	if err != nil {
		return PayoutSplit{}, err
	}
	t.Cancellation = &Cancellation{
		RequestedBy: requester,
		Split:       split,
		RequestedAt: now,
	}
	t.Version++
	return split, nil
}
