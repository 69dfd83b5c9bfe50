package trade

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

type sender int

const (
	fromPeer sender = iota
	fromAgent
	fromPeerOrAgent
)

type step func(m *Manager, ctx context.Context, s *session, env ports.Envelope) error

type handler struct {
	step step
	from sender
	// keepTimeout leaves the pending reply timer untouched.
	keepTimeout bool
	// anyCollection allows the message also for closed and failed trades.
	anyCollection bool
}

type protocol map[string]handler

var (
	// protocols selects the steps driving a trade by the role of the local
	// party.
	protocols map[domain.Role]protocol
	// commonProtocol holds the steps shared by all roles.
	commonProtocol protocol
)

// Steps can replay buffered messages, hence the tables are set up here to
// avoid an initialization cycle.
func init() {
	protocols = map[domain.Role]protocol{
		domain.BuyerAsTaker: {
			MsgInputsForDepositTxResponse:  {step: (*Manager).takerOnInputsForDepositTxResponse},
			MsgDelayedPayoutTxSignatureRes: {step: (*Manager).takerOnDelayedPayoutTxSignatureResponse},
			MsgPayoutTxPublished:           {step: (*Manager).buyerOnPayoutTxPublished},
		},
		domain.SellerAsTaker: {
			MsgInputsForDepositTxResponse:     {step: (*Manager).takerOnInputsForDepositTxResponse},
			MsgDelayedPayoutTxSignatureRes:    {step: (*Manager).takerOnDelayedPayoutTxSignatureResponse},
			MsgCounterCurrencyTransferStarted: {step: (*Manager).sellerOnCounterCurrencyTransferStarted},
		},
		domain.BuyerAsMaker: {
			MsgDelayedPayoutTxSignatureReq: {step: (*Manager).makerOnDelayedPayoutTxSignatureRequest},
			MsgDepositTxPublished:          {step: (*Manager).makerOnDepositTxPublished},
			MsgPayoutTxPublished:           {step: (*Manager).buyerOnPayoutTxPublished},
		},
		domain.SellerAsMaker: {
			MsgDelayedPayoutTxSignatureReq:    {step: (*Manager).makerOnDelayedPayoutTxSignatureRequest},
			MsgDepositTxPublished:             {step: (*Manager).makerOnDepositTxPublished},
			MsgCounterCurrencyTransferStarted: {step: (*Manager).sellerOnCounterCurrencyTransferStarted},
		},
	}

	commonProtocol = protocol{
		MsgCancelTradeRequest:      {step: (*Manager).onCancelTradeRequest, keepTimeout: true},
		MsgCancelTradeAccepted:     {step: (*Manager).onCancelTradeAccepted, keepTimeout: true},
		MsgCancelTradeRejected:     {step: (*Manager).onCancelTradeRejected, keepTimeout: true},
		MsgDisputeOpened:           {step: (*Manager).onDisputeOpened, keepTimeout: true},
		MsgMediationResult:         {step: (*Manager).onMediationResult, from: fromAgent, keepTimeout: true},
		MsgMediatedPayoutSignature: {step: (*Manager).onMediatedPayoutSignature, keepTimeout: true},
		MsgMediatedPayoutPublished: {step: (*Manager).onMediatedPayoutPublished, keepTimeout: true},
		MsgDisputedPayoutSignature: {step: (*Manager).onDisputedPayoutSignatureMessage, from: fromAgent, keepTimeout: true},
		MsgChat:                    {step: (*Manager).onChatMessage, from: fromPeerOrAgent, keepTimeout: true, anyCollection: true},
		MsgAck:                     {step: (*Manager).onAck, from: fromPeerOrAgent, keepTimeout: true, anyCollection: true},
	}
}

func lookupHandler(role domain.Role, msgType string) (handler, bool) {
	if h, ok := protocols[role][msgType]; ok {
		return h, true
	}
	h, ok := commonProtocol[msgType]
	return h, ok
}
