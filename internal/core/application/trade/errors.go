package trade

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable is returned in case of internal errors.
	ErrServiceUnavailable = fmt.Errorf("service is unavailable, retry later")
	// ErrTooManyUnconfirmedTxs is returned when the wallet has too many
	// unconfirmed txs to start a new trade.
	ErrTooManyUnconfirmedTxs = errors.New(
		"too many unconfirmed transactions, retry once some get confirmed",
	)
	// ErrOfferUnavailable is returned when the maker says the offer can't be
	// taken.
	ErrOfferUnavailable = errors.New("offer is not available anymore")
	// ErrPeerTimeout ...
	ErrPeerTimeout = errors.New("peer did not reply in time")
	// ErrMalformedMessage ...
	ErrMalformedMessage = errors.New("malformed message payload")
	// ErrUnexpectedMessage is returned for messages not handled by the
	// protocol of the trade.
	ErrUnexpectedMessage = errors.New("unexpected message for trade protocol")
	// ErrUnknownPeer is returned for messages not coming from the trade's
	// counterparty or dispute agents.
	ErrUnknownPeer = errors.New("message sender is not part of the trade")
	// ErrAddressesNotAvailable is returned when un-failing a trade whose
	// addresses were reused.
	ErrAddressesNotAvailable = errors.New(
		"trade addresses are not available anymore in wallet",
	)
	// ErrNoArbitrator is returned when an arbitrated payout is received for
	// a 2-of-2 escrow.
	ErrNoArbitrator = errors.New("trade escrow has no arbitrator")

	errMessageNotReady = errors.New("message arrived before expected")
	timeoutMessage     = "Timeout reached"
)
