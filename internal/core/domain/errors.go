package domain

import "errors"

var (
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyExists is returned when taking an offer twice.
	ErrTradeAlreadyExists = errors.New("trade already exists")
	// ErrTradeNotPending is returned for actions on closed or failed trades.
	ErrTradeNotPending = errors.New("trade is not pending")
	// ErrTradeNotFailed ...
	ErrTradeNotFailed = errors.New("trade is not failed")
	// ErrTradeInvalidTxFee ...
	ErrTradeInvalidTxFee = errors.New("trade tx fee must be positive")
	// ErrTradeInvalidState is returned when an action doesn't fit the current
	// state of the trade.
	ErrTradeInvalidState = errors.New("action not allowed in current trade state")
	// ErrTradeInvalidRole is returned when an action is not allowed for the
	// local role.
	ErrTradeInvalidRole = errors.New("action not allowed for trade role")

	// ErrOfferMissingID ...
	ErrOfferMissingID = errors.New("offer id is missing")
	// ErrOfferInvalidAmount ...
	ErrOfferInvalidAmount = errors.New("invalid offer amount")
	// ErrOfferInvalidPrice ...
	ErrOfferInvalidPrice = errors.New("offer price must be positive")
	// ErrOfferInvalidDeposit ...
	ErrOfferInvalidDeposit = errors.New("security deposits must be positive")
	// ErrOfferMissingPaymentMethod ...
	ErrOfferMissingPaymentMethod = errors.New("offer payment method is missing")

	// ErrMissingContract ...
	ErrMissingContract = errors.New("trade contract is missing")
	// ErrContractMismatch is returned when the peer's contract differs from
	// the local one.
	ErrContractMismatch = errors.New("peer contract does not match local one")
	// ErrContractMissingSignature ...
	ErrContractMissingSignature = errors.New("contract signature is missing")
	// ErrContractInvalidSignature ...
	ErrContractInvalidSignature = errors.New("contract signature is invalid")
	// ErrPaymentMethodMismatch ...
	ErrPaymentMethodMismatch = errors.New("traders payment methods do not match")

	// ErrDisputeAlreadyOpen ...
	ErrDisputeAlreadyOpen = errors.New("a dispute is already open for trade")
	// ErrDisputeNotAllowed ...
	ErrDisputeNotAllowed = errors.New("dispute not allowed in current trade state")
	// ErrInvalidMinRefund ...
	ErrInvalidMinRefund = errors.New("min refund must be positive and not exceed total deposits")
	// ErrCancellationNotAllowed ...
	ErrCancellationNotAllowed = errors.New("cancellation not allowed in current trade state")
	// ErrCancellationAlreadyRequested ...
	ErrCancellationAlreadyRequested = errors.New("cancellation already requested")
	// ErrNoCancellationRequest ...
	ErrNoCancellationRequest = errors.New("no pending cancellation request")
	// ErrInvalidPayoutSplit ...
	ErrInvalidPayoutSplit = errors.New("payout split exceeds escrowed amount")
)

var (
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrOfferNotAvailable is returned when taking an offer already taken or
	// canceled.
	ErrOfferNotAvailable = errors.New("offer is not available")
)
