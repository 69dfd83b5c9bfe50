package trade

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// Message types.
const (
	MsgOfferAvailabilityRequest       = "OfferAvailabilityRequest"
	MsgOfferAvailabilityResponse      = "OfferAvailabilityResponse"
	MsgInputsForDepositTxRequest      = "InputsForDepositTxRequest"
	MsgInputsForDepositTxResponse     = "InputsForDepositTxResponse"
	MsgDelayedPayoutTxSignatureReq    = "DelayedPayoutTxSignatureRequest"
	MsgDelayedPayoutTxSignatureRes    = "DelayedPayoutTxSignatureResponse"
	MsgDepositTxPublished             = "DepositTxPublishedMessage"
	MsgCounterCurrencyTransferStarted = "CounterCurrencyTransferStartedMessage"
	MsgPayoutTxPublished              = "PayoutTxPublishedMessage"
	MsgCancelTradeRequest             = "CancelTradeRequestMessage"
	MsgCancelTradeAccepted            = "CancelTradeAcceptedMessage"
	MsgCancelTradeRejected            = "CancelTradeRejectedMessage"
	MsgDisputeOpened                  = "DisputeOpenedMessage"
	MsgMediationResult                = "MediationResultMessage"
	MsgMediatedPayoutSignature        = "MediatedPayoutTxSignatureMessage"
	MsgMediatedPayoutPublished        = "MediatedPayoutTxPublishedMessage"
	MsgDisputedPayoutSignature        = "DisputedPayoutTxSignatureMessage"
	MsgChat                           = "ChatMessage"
	MsgAck                            = "AckMessage"
)

type OfferAvailabilityRequest struct {
	OfferID      string `json:"offerId"`
	TakerAddress string `json:"takerAddress"`
}

type OfferAvailabilityResponse struct {
	OfferID   string `json:"offerId"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type InputsForDepositTxRequest struct {
	Offer               domain.Offer                 `json:"offer"`
	TradeAmount         int64                        `json:"tradeAmount"`
	TxFee               int64                        `json:"txFee"`
	TakerFee            int64                        `json:"takerFee"`
	TakerFeeTxID        string                       `json:"takerFeeTxId"`
	TakerRawInputs      []escrow.RawTransactionInput `json:"takerRawInputs"`
	TakerChange         *escrow.ChangeOutput         `json:"takerChange,omitempty"`
	TakerPayoutAddress  string                       `json:"takerPayoutAddress"`
	TakerMultisigPubKey []byte                       `json:"takerMultisigPubKey"`
	TakerPubKey         []byte                       `json:"takerPubKey"`
	TakerPaymentAccount domain.PaymentAccountPayload `json:"takerPaymentAccount"`
	MediatorAddress     string                       `json:"mediatorAddress"`
	RefundAgentAddress  string                       `json:"refundAgentAddress"`
	ArbitratorPubKey    []byte                       `json:"arbitratorPubKey,omitempty"`
}

type InputsForDepositTxResponse struct {
	MakerRawInputs         []escrow.RawTransactionInput `json:"makerRawInputs"`
	PreparedDepositTx      []byte                       `json:"preparedDepositTx"`
	MakerMultisigPubKey    []byte                       `json:"makerMultisigPubKey"`
	MakerPayoutAddress     string                       `json:"makerPayoutAddress"`
	MakerPubKey            []byte                       `json:"makerPubKey"`
	MakerPaymentAccount    domain.PaymentAccountPayload `json:"makerPaymentAccount"`
	MakerContractSignature []byte                       `json:"makerContractSignature"`
	LockTime               uint32                       `json:"lockTime"`
}

type DelayedPayoutTxSignatureRequest struct {
	DepositTx              []byte `json:"depositTx"`
	DelayedPayoutTx        []byte `json:"delayedPayoutTx"`
	TakerSignature         []byte `json:"takerSignature"`
	TakerContractSignature []byte `json:"takerContractSignature"`
}

type DelayedPayoutTxSignatureResponse struct {
	MakerSignature []byte `json:"makerSignature"`
}

type DepositTxPublishedMessage struct {
	DepositTxID string `json:"depositTxId"`
}

type CounterCurrencyTransferStartedMessage struct {
	BuyerPayoutAddress  string `json:"buyerPayoutAddress"`
	BuyerSignature      []byte `json:"buyerSignature"`
	CounterCurrencyTxID string `json:"counterCurrencyTxId,omitempty"`
	ExtraData           string `json:"extraData,omitempty"`
}

type PayoutTxPublishedMessage struct {
	PayoutTx []byte `json:"payoutTx"`
}

type CancelTradeRequestMessage struct {
	BuyerAmount        int64  `json:"buyerAmount"`
	SellerAmount       int64  `json:"sellerAmount"`
	RequesterSignature []byte `json:"requesterSignature"`
}

type CancelTradeAcceptedMessage struct {
	PayoutTx []byte `json:"payoutTx"`
}

type CancelTradeRejectedMessage struct{}

type DisputeOpenedMessage struct {
	IsRefund          bool   `json:"isRefund"`
	DepositTxID       string `json:"depositTxId"`
	DelayedPayoutTxID string `json:"delayedPayoutTxId,omitempty"`
	Contract          []byte `json:"contract"`
}

type MediationResultMessage struct {
	BuyerAmount  int64 `json:"buyerAmount"`
	SellerAmount int64 `json:"sellerAmount"`
}

type MediatedPayoutSignatureMessage struct {
	Signature []byte `json:"signature"`
}

type MediatedPayoutPublishedMessage struct {
	PayoutTx []byte `json:"payoutTx"`
}

type DisputedPayoutSignatureMessage struct {
	BuyerAmount         int64  `json:"buyerAmount"`
	SellerAmount        int64  `json:"sellerAmount"`
	BuyerAddress        string `json:"buyerAddress"`
	SellerAddress       string `json:"sellerAddress"`
	ArbitratorSignature []byte `json:"arbitratorSignature"`
}

type ChatMessagePayload struct {
	Text string `json:"text"`
}

type AckMessage struct {
	SourceUID    string `json:"sourceUid"`
	SourceType   string `json:"sourceType"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func newEnvelope(
	tradeID, msgType, sender string, payload interface{},
) (ports.Envelope, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return ports.Envelope{}, err
	}
	return ports.Envelope{
		UID:     uuid.New().String(),
		TradeID: tradeID,
		Type:    msgType,
		Sender:  sender,
		Payload: buf,
		SentAt:  time.Now().Unix(),
	}, nil
}

func decode(env ports.Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return ErrMalformedMessage
	}
	return nil
}
