package domain

// Phase groups the trade states. Phases are strictly ordered and a trade can
// never move back to a previous phase through the guarded setter.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseTakerFeePublished
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhaseFiatSent
	PhaseFiatReceived
	PhasePayoutPublished
	PhaseWithdrawn
)

var phaseNames = map[Phase]string{
	PhaseInit:              "INIT",
	PhaseTakerFeePublished: "TAKER_FEE_PUBLISHED",
	PhaseDepositPublished:  "DEPOSIT_PUBLISHED",
	PhaseDepositConfirmed:  "DEPOSIT_CONFIRMED",
	PhaseFiatSent:          "FIAT_SENT",
	PhaseFiatReceived:      "FIAT_RECEIVED",
	PhasePayoutPublished:   "PAYOUT_PUBLISHED",
	PhaseWithdrawn:         "WITHDRAWN",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// State is the detailed progress of the trade protocol. Several states share
// the same phase: message delivery outcomes are detail states that don't
// advance the phase.
type State int

const (
	StatePreparation State = iota
	StateTakerPublishedTakerFeeTx
	StateMakerSentPublishDepositTxRequest
	StateMakerSawArrivedPublishDepositTxRequest
	StateMakerStoredInMailboxPublishDepositTxRequest
	StateMakerSendFailedPublishDepositTxRequest
	StateTakerReceivedPublishDepositTxRequest
	StateSellerPublishedDepositTx
	StateSellerSentDepositTxPublishedMsg
	StateSellerSawArrivedDepositTxPublishedMsg
	StateSellerStoredInMailboxDepositTxPublishedMsg
	StateSellerSendFailedDepositTxPublishedMsg
	StateBuyerReceivedDepositTxPublishedMsg
	StateBuyerSawDepositTxInNetwork
	StateDepositConfirmedInBlockChain
	StateBuyerConfirmedInUIFiatPaymentInitiated
	StateBuyerSentFiatPaymentInitiatedMsg
	StateBuyerSawArrivedFiatPaymentInitiatedMsg
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg
	StateBuyerSendFailedFiatPaymentInitiatedMsg
	StateSellerReceivedFiatPaymentInitiatedMsg
	StateSellerConfirmedInUIFiatPaymentReceipt
	StateSellerPublishedPayoutTx
	StateSellerSentPayoutTxPublishedMsg
	StateSellerSawArrivedPayoutTxPublishedMsg
	StateSellerStoredInMailboxPayoutTxPublishedMsg
	StateSellerSendFailedPayoutTxPublishedMsg
	StateBuyerReceivedPayoutTxPublishedMsg
	StateBuyerSawPayoutTxInNetwork
	StateWithdrawCompleted
)

type stateInfo struct {
	name  string
	phase Phase
}

var states = map[State]stateInfo{
	StatePreparation:                                 {"PREPARATION", PhaseInit},
	StateTakerPublishedTakerFeeTx:                    {"TAKER_PUBLISHED_TAKER_FEE_TX", PhaseTakerFeePublished},
	StateMakerSentPublishDepositTxRequest:            {"MAKER_SENT_PUBLISH_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateMakerSawArrivedPublishDepositTxRequest:      {"MAKER_SAW_ARRIVED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateMakerStoredInMailboxPublishDepositTxRequest: {"MAKER_STORED_IN_MAILBOX_PUBLISH_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateMakerSendFailedPublishDepositTxRequest:      {"MAKER_SEND_FAILED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateTakerReceivedPublishDepositTxRequest:        {"TAKER_RECEIVED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateSellerPublishedDepositTx:                    {"SELLER_PUBLISHED_DEPOSIT_TX", PhaseDepositPublished},
	StateSellerSentDepositTxPublishedMsg:             {"SELLER_SENT_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerSawArrivedDepositTxPublishedMsg:       {"SELLER_SAW_ARRIVED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerStoredInMailboxDepositTxPublishedMsg:  {"SELLER_STORED_IN_MAILBOX_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerSendFailedDepositTxPublishedMsg:       {"SELLER_SEND_FAILED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateBuyerReceivedDepositTxPublishedMsg:          {"BUYER_RECEIVED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateBuyerSawDepositTxInNetwork:                  {"BUYER_SAW_DEPOSIT_TX_IN_NETWORK", PhaseDepositPublished},
	StateDepositConfirmedInBlockChain:                {"DEPOSIT_CONFIRMED_IN_BLOCK_CHAIN", PhaseDepositConfirmed},
	StateBuyerConfirmedInUIFiatPaymentInitiated:      {"BUYER_CONFIRMED_IN_UI_FIAT_PAYMENT_INITIATED", PhaseFiatSent},
	StateBuyerSentFiatPaymentInitiatedMsg:            {"BUYER_SENT_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSawArrivedFiatPaymentInitiatedMsg:      {"BUYER_SAW_ARRIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg: {"BUYER_STORED_IN_MAILBOX_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSendFailedFiatPaymentInitiatedMsg:      {"BUYER_SEND_FAILED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateSellerReceivedFiatPaymentInitiatedMsg:       {"SELLER_RECEIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateSellerConfirmedInUIFiatPaymentReceipt:       {"SELLER_CONFIRMED_IN_UI_FIAT_PAYMENT_RECEIPT", PhaseFiatReceived},
	StateSellerPublishedPayoutTx:                     {"SELLER_PUBLISHED_PAYOUT_TX", PhasePayoutPublished},
	StateSellerSentPayoutTxPublishedMsg:              {"SELLER_SENT_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSawArrivedPayoutTxPublishedMsg:        {"SELLER_SAW_ARRIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerStoredInMailboxPayoutTxPublishedMsg:   {"SELLER_STORED_IN_MAILBOX_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSendFailedPayoutTxPublishedMsg:        {"SELLER_SEND_FAILED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateBuyerReceivedPayoutTxPublishedMsg:           {"BUYER_RECEIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateBuyerSawPayoutTxInNetwork:                   {"BUYER_SAW_PAYOUT_TX_IN_NETWORK", PhasePayoutPublished},
	StateWithdrawCompleted:                           {"WITHDRAW_COMPLETED", PhaseWithdrawn},
}

// Phase returns the phase the state belongs to.
func (s State) Phase() Phase {
	return states[s].phase
}

func (s State) String() string {
	if info, ok := states[s]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// IsValidTransitionTo returns whether moving from s to next doesn't go back
// to a previous phase. Same phase updates are always allowed.
func (s State) IsValidTransitionTo(next State) bool {
	return next.Phase() >= s.Phase()
}

// DisputeState tracks disputes independently from the protocol state.
type DisputeState int

const (
	DisputeStateNone DisputeState = iota
	// Legacy arbitration states, kept for stored trades only.
	DisputeStateDisputeRequested
	DisputeStateDisputeStartedByPeer
	DisputeStateDisputeClosed

	DisputeStateMediationRequested
	DisputeStateMediationStartedByPeer
	DisputeStateMediationClosed
	DisputeStateRefundRequested
	DisputeStateRefundRequestStartedByPeer
	DisputeStateRefundRequestClosed
)

var disputeStateNames = []string{
	"NO_DISPUTE",
	"DISPUTE_REQUESTED",
	"DISPUTE_STARTED_BY_PEER",
	"DISPUTE_CLOSED",
	"MEDIATION_REQUESTED",
	"MEDIATION_STARTED_BY_PEER",
	"MEDIATION_CLOSED",
	"REFUND_REQUESTED",
	"REFUND_REQUEST_STARTED_BY_PEER",
	"REFUND_REQUEST_CLOSED",
}

func (s DisputeState) String() string {
	if int(s) < 0 || int(s) >= len(disputeStateNames) {
		return "UNKNOWN"
	}
	return disputeStateNames[s]
}

// IsNotDisputed ...
func (s DisputeState) IsNotDisputed() bool {
	return s == DisputeStateNone
}

// IsMediated returns whether a mediation was ever opened.
func (s DisputeState) IsMediated() bool {
	return s == DisputeStateMediationRequested ||
		s == DisputeStateMediationStartedByPeer ||
		s == DisputeStateMediationClosed
}

// IsRefund returns whether the trade went to the refund agent.
func (s DisputeState) IsRefund() bool {
	return s == DisputeStateRefundRequested ||
		s == DisputeStateRefundRequestStartedByPeer ||
		s == DisputeStateRefundRequestClosed
}

// IsOpen returns whether a dispute is currently open.
func (s DisputeState) IsOpen() bool {
	return s == DisputeStateDisputeRequested ||
		s == DisputeStateDisputeStartedByPeer ||
		s == DisputeStateMediationRequested ||
		s == DisputeStateMediationStartedByPeer ||
		s == DisputeStateRefundRequested ||
		s == DisputeStateRefundRequestStartedByPeer
}

// TradePeriodState is advanced only by the periodic clock.
type TradePeriodState int

const (
	TradePeriodFirstHalf TradePeriodState = iota
	TradePeriodSecondHalf
	TradePeriodOver
)

func (s TradePeriodState) String() string {
	switch s {
	case TradePeriodFirstHalf:
		return "FIRST_HALF"
	case TradePeriodSecondHalf:
		return "SECOND_HALF"
	case TradePeriodOver:
		return "TRADE_PERIOD_OVER"
	default:
		return "UNKNOWN"
	}
}

// MediationResultState tracks the acceptance of a mediator's suggestion.
// Values are ordered.
type MediationResultState int

const (
	MediationResultUndefined MediationResultState = iota
	MediationResultAccepted
	MediationResultRejected
	MediationSigMsgSent
	MediationSigMsgArrived
	MediationSigMsgInMailbox
	MediationSigMsgSendFailed
	MediationReceivedSigMsg
	MediationPayoutTxPublished
	MediationPayoutTxPublishedMsgSent
	MediationPayoutTxPublishedMsgArrived
	MediationPayoutTxPublishedMsgInMailbox
	MediationPayoutTxPublishedMsgSendFailed
	MediationReceivedPayoutTxPublishedMsg
	MediationPayoutTxSeenInNetwork
)

// TradeCancellationState tracks a cooperative cancellation request.
type TradeCancellationState int

const (
	CancellationNone TradeCancellationState = iota
	CancellationRequestMsgSent
	CancellationRequestMsgArrived
	CancellationRequestMsgInMailbox
	CancellationRequestMsgSendFailed
	CancellationReceivedCancelRequest
	CancellationPayoutTxPublished
	CancellationPayoutTxPublishedMsgSent
	CancellationReceivedAcceptedMsg
	CancellationPayoutTxSeenInNetwork
	CancellationRequestCanceledMsgSent
	CancellationReceivedRejectedMsg
)

// IsPending returns whether a cancellation request waits for an answer.
func (s TradeCancellationState) IsPending() bool {
	return s >= CancellationRequestMsgSent && s <= CancellationReceivedCancelRequest
}

// IsAccepted returns whether the cancellation payout went out.
func (s TradeCancellationState) IsAccepted() bool {
	return s >= CancellationPayoutTxPublished && s <= CancellationPayoutTxSeenInNetwork
}

// MessageState is the outcome of sending a protocol message.
type MessageState int

const (
	MessageStateSent MessageState = iota
	MessageStateArrived
	MessageStateStoredInMailbox
	MessageStateSendFailed
)

func (s MessageState) String() string {
	switch s {
	case MessageStateSent:
		return "SENT"
	case MessageStateArrived:
		return "ARRIVED"
	case MessageStateStoredInMailbox:
		return "STORED_IN_MAILBOX"
	default:
		return "SEND_FAILED"
	}
}
