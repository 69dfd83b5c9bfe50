package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// Collection is the set a trade currently belongs to.
type Collection int

const (
	CollectionPending Collection = iota
	CollectionClosed
	CollectionFailed
)

func (c Collection) String() string {
	switch c {
	case CollectionPending:
		return "pending"
	case CollectionClosed:
		return "closed"
	default:
		return "failed"
	}
}

// ProcessModel is the scratch-pad of the protocol steps of a trade.
type ProcessModel struct {
	MyPubKey            []byte                       `json:"myPubKey"`
	MyMultisigPubKey    []byte                       `json:"myMultisigPubKey"`
	MyPayoutAddress     string                       `json:"myPayoutAddress"`
	MyFundingAddress    string                       `json:"myFundingAddress"`
	MyChangeAddress     string                       `json:"myChangeAddress"`
	MyPaymentAccount    PaymentAccountPayload        `json:"myPaymentAccount"`
	MyRawInputs         []escrow.RawTransactionInput `json:"myRawInputs"`
	MyChange            *escrow.ChangeOutput         `json:"myChange,omitempty"`
	PeerPubKey          []byte                       `json:"peerPubKey"`
	PeerMultisigPubKey  []byte                       `json:"peerMultisigPubKey"`
	PeerPayoutAddress   string                       `json:"peerPayoutAddress"`
	PeerPaymentAccount  PaymentAccountPayload        `json:"peerPaymentAccount"`
	PeerRawInputs       []escrow.RawTransactionInput `json:"peerRawInputs"`
	PeerChange          *escrow.ChangeOutput         `json:"peerChange,omitempty"`
	PreparedDepositTx   []byte                       `json:"preparedDepositTx,omitempty"`
	PayoutSignature     []byte                       `json:"payoutSignature,omitempty"`
	DelayedPayoutSig    []byte                       `json:"delayedPayoutSig,omitempty"`
	PendingReplyTimeout int64                        `json:"pendingReplyTimeout,omitempty"`
}

// PayoutSplit is a suggested distribution of the escrow to the traders.
type PayoutSplit struct {
	BuyerAmount  int64 `json:"buyerAmount"`
	SellerAmount int64 `json:"sellerAmount"`
}

// Total ...
func (p PayoutSplit) Total() int64 {
	return p.BuyerAmount + p.SellerAmount
}

// Mediation holds the mediator suggestion and the traders' signatures.
type Mediation struct {
	Split           PayoutSplit `json:"split"`
	BuyerSignature  []byte      `json:"buyerSignature,omitempty"`
	SellerSignature []byte      `json:"sellerSignature,omitempty"`
}

// Cancellation holds a cooperative cancellation request.
type Cancellation struct {
	RequestedBy  Direction   `json:"requestedBy"`
	Split        PayoutSplit `json:"split"`
	RequesterSig []byte      `json:"requesterSig,omitempty"`
	RequestedAt  int64       `json:"requestedAt"`
}

// ChatMessage is a message exchanged with the peer or a dispute agent.
type ChatMessage struct {
	UID       string `json:"uid"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Trade is the root aggregate of an exchange with a counterparty.
type Trade struct {
	ID                 string          `json:"id"`
	Role               Role            `json:"role"`
	Offer              Offer           `json:"offer"`
	Amount             int64           `json:"amount"`
	Price              decimal.Decimal `json:"price"`
	TxFee              int64           `json:"txFee"`
	TakerFee           int64           `json:"takerFee"`
	TakerFeeTxID       string          `json:"takerFeeTxId"`
	PeerAddress        string          `json:"peerAddress"`
	MediatorAddress    string          `json:"mediatorAddress"`
	RefundAgentAddress string          `json:"refundAgentAddress"`
	ArbitratorPubKey   []byte          `json:"arbitratorPubKey,omitempty"`

	State                State                  `json:"state"`
	DisputeState         DisputeState           `json:"disputeState"`
	TradePeriodState     TradePeriodState       `json:"tradePeriodState"`
	MediationResultState MediationResultState   `json:"mediationResultState"`
	CancellationState    TradeCancellationState `json:"cancellationState"`
	Collection           Collection             `json:"collection"`

	DepositTxID     string    `json:"depositTxId"`
	DepositTx       []byte    `json:"depositTx,omitempty"`
	PayoutTxID      string    `json:"payoutTxId"`
	DelayedPayoutTx []byte    `json:"delayedPayoutTx,omitempty"`
	Contract        *Contract `json:"contract,omitempty"`
	ContractHash    []byte    `json:"contractHash,omitempty"`
	LockTime        uint32    `json:"lockTime"`

	CounterCurrencyTxID      string `json:"counterCurrencyTxId"`
	CounterCurrencyExtraData string `json:"counterCurrencyExtraData"`

	ProcessModel ProcessModel  `json:"processModel"`
	Mediation    *Mediation    `json:"mediation,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
	ChatMessages []ChatMessage `json:"chatMessages"`
	ErrorMessage string        `json:"errorMessage"`

	TakeOfferDate int64  `json:"takeOfferDate"`
	StartDate     int64  `json:"startDate"`
	Version       uint64 `json:"version"`
}

// NewTrade returns a pending trade in preparation state for the given offer.
func NewTrade(
	offer Offer, role Role, amount, txFee, takerFee int64, peerAddress string,
) (*Trade, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if !offer.IsValidAmount(amount) {
		return nil, ErrOfferInvalidAmount
	}
	if txFee <= 0 {
		return nil, ErrTradeInvalidTxFee
	}
	return &Trade{
		ID:            offer.ID,
		Role:          role,
		Offer:         offer,
		Amount:        amount,
		Price:         offer.Price,
		TxFee:         txFee,
		TakerFee:      takerFee,
		PeerAddress:   peerAddress,
		State:         StatePreparation,
		Collection:    CollectionPending,
		TakeOfferDate: time.Now().Unix(),
	}, nil
}

// ShortID returns the human readable prefix of the id.
func (t *Trade) ShortID() string {
	if i := strings.Index(t.ID, "-"); i > 0 {
		return t.ID[:i]
	}
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}

// Phase returns the phase of the current state.
func (t *Trade) Phase() Phase {
	return t.State.Phase()
}

// SetStateIfValidTransitionTo moves the trade to the given state only if it
// doesn't go back to a previous phase. It returns whether the state changed.
func (t *Trade) SetStateIfValidTransitionTo(state State) bool {
	if !t.State.IsValidTransitionTo(state) {
		log.Warnf(
			"trade %s: invalid state transition from %s to %s",
			t.ShortID(), t.State, state,
		)
		return false
	}
	t.setState(state)
	return true
}

// SetState forces the given state. Going back to a previous phase is allowed
// for corrective updates and only logged.
func (t *Trade) SetState(state State) {
	if state.Phase() < t.Phase() {
		log.Warnf(
			"trade %s: forcing state %s with lower phase than current %s",
			t.ShortID(), state, t.State,
		)
	}
	t.setState(state)
}

func (t *Trade) setState(state State) {
	if t.State == state {
		return
	}
	log.Debugf("trade %s: state %s -> %s", t.ShortID(), t.State, state)
	t.State = state
	t.Version++
}

// SetDisputeState ...
func (t *Trade) SetDisputeState(state DisputeState) {
	if t.DisputeState != state {
		t.DisputeState = state
		t.Version++
	}
}

// SetMediationResultState ...
func (t *Trade) SetMediationResultState(state MediationResultState) {
	if t.MediationResultState != state {
		t.MediationResultState = state
		t.Version++
	}
}

// SetCancellationState ...
func (t *Trade) SetCancellationState(state TradeCancellationState) {
	if t.CancellationState != state {
		t.CancellationState = state
		t.Version++
	}
}

// AppendErrorMessage adds a diagnostic to the error message of the trade
// without overwriting the previous ones.
func (t *Trade) AppendErrorMessage(msg string) {
	if msg == "" {
		return
	}
	if t.ErrorMessage == "" {
		t.ErrorMessage = msg
	} else {
		t.ErrorMessage += "\n" + msg
	}
	t.Version++
}

// AddChatMessage appends a message unless one with the same uid exists.
func (t *Trade) AddChatMessage(msg ChatMessage) bool {
	for _, m := range t.ChatMessages {
		if m.UID == msg.UID {
			return false
		}
	}
	t.ChatMessages = append(t.ChatMessages, msg)
	t.Version++
	return true
}

func (t *Trade) IsDepositPublished() bool {
	return t.Phase() >= PhaseDepositPublished
}

func (t *Trade) IsDepositConfirmed() bool {
	return t.Phase() >= PhaseDepositConfirmed
}

func (t *Trade) IsFiatSent() bool {
	return t.Phase() >= PhaseFiatSent
}

func (t *Trade) IsFiatReceived() bool {
	return t.Phase() >= PhaseFiatReceived
}

func (t *Trade) IsPayoutPublished() bool {
	return t.Phase() >= PhasePayoutPublished
}

func (t *Trade) IsWithdrawn() bool {
	return t.Phase() >= PhaseWithdrawn
}

// IsFundsLockedIn returns whether the escrow still holds funds of the trade.
func (t *Trade) IsFundsLockedIn() bool {
	if !t.IsDepositPublished() || t.IsPayoutPublished() {
		return false
	}
	if t.DisputeState == DisputeStateMediationClosed &&
		t.MediationResultState >= MediationPayoutTxPublished {
		return false
	}
	if t.DisputeState.IsRefund() {
		return false
	}
	if t.CancellationState.IsAccepted() {
		return false
	}
	return true
}

// IsInProgress returns whether the trade is still between the take offer
// and the payout.
func (t *Trade) IsInProgress() bool {
	return t.Collection == CollectionPending && !t.IsPayoutPublished()
}

// UpdateTradePeriod advances the trade period state according to now. The
// period starts with the deposit and the state never goes back.
func (t *Trade) UpdateTradePeriod(now time.Time) bool {
	if t.StartDate <= 0 || t.IsPayoutPublished() {
		return false
	}
	start := time.Unix(t.StartDate, 0)
	period := t.Offer.TradePeriod()

	next := TradePeriodFirstHalf
	switch {
	case !now.Before(start.Add(period)):
		next = TradePeriodOver
	case !now.Before(start.Add(period / 2)):
		next = TradePeriodSecondHalf
	}
	if next <= t.TradePeriodState {
		return false
	}
	t.TradePeriodState = next
	t.Version++
	return true
}

// BuyerSecurityDeposit ...
func (t *Trade) BuyerSecurityDeposit() int64 {
	return t.Offer.BuyerSecurityDeposit
}

// SellerSecurityDeposit ...
func (t *Trade) SellerSecurityDeposit() int64 {
	return t.Offer.SellerSecurityDeposit
}

// TotalDeposits ...
func (t *Trade) TotalDeposits() int64 {
	return t.BuyerSecurityDeposit() + t.SellerSecurityDeposit()
}

// MultisigAmount is the value of the escrow output. It includes the mining
// fee of the payout tx.
func (t *Trade) MultisigAmount() int64 {
	return t.Amount + t.TotalDeposits() + t.TxFee
}

// BuyerInputAmount is what the buyer puts in the deposit tx.
func (t *Trade) BuyerInputAmount() int64 {
	return t.BuyerSecurityDeposit() + t.TxFee
}

// SellerInputAmount is what the seller puts in the deposit tx.
func (t *Trade) SellerInputAmount() int64 {
	return t.Amount + t.SellerSecurityDeposit() + t.TxFee
}

// MyInputAmount is what the local party puts in the deposit tx.
func (t *Trade) MyInputAmount() int64 {
	if t.Role.IsBuyer() {
		return t.BuyerInputAmount()
	}
	return t.SellerInputAmount()
}

// CooperativePayout is the split of a completed trade.
func (t *Trade) CooperativePayout() PayoutSplit {
	return PayoutSplit{
		BuyerAmount:  t.Amount + t.BuyerSecurityDeposit(),
		SellerAmount: t.SellerSecurityDeposit(),
	}
}

// Volume returns the counter currency amount of the trade.
func (t *Trade) Volume() decimal.Decimal {
	return decimal.New(t.Amount, -8).Mul(t.Price).Round(8)
}

// IsMaker ...
func (t *Trade) IsMaker() bool {
	return t.Role.IsMaker()
}
