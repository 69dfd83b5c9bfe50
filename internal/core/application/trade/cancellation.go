package trade

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// OnRequestCancelTrade asks the peer to cancel a trade whose deposit is
// published. The requester gets back the min refund, the peer the rest of
// the deposits. The requester signs the cancellation payout upfront.
func (m *Manager) OnRequestCancelTrade(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		c, err := contract(t)
		if err != nil {
			return err
		}
		deposit, err := depositTx(t)
		if err != nil {
			return err
		}
		split, err := t.RequestCancellation(
			t.Role.Direction, m.cfg.MinRefundAtMediatedDispute, time.Now().Unix(),
		)
		if err != nil {
			return err
		}
		key, err := m.multisigKey(ctx, t)
		if err != nil {
			return err
		}
		sig, err := m.assembler.SignMediatedPayout(deposit, payoutArgs(c, split), key)
		if err != nil {
			return err
		}
		t.Cancellation.RequesterSig = sig
		t.SetCancellationState(domain.CancellationRequestMsgSent)

		s.sendToPeer(MsgCancelTradeRequest, CancelTradeRequestMessage{
			BuyerAmount:        split.BuyerAmount,
			SellerAmount:       split.SellerAmount,
			RequesterSignature: sig,
		}, func(t *domain.Trade, ms domain.MessageState) {
			switch ms {
			case domain.MessageStateArrived:
				t.SetCancellationState(domain.CancellationRequestMsgArrived)
			case domain.MessageStateStoredInMailbox:
				t.SetCancellationState(domain.CancellationRequestMsgInMailbox)
			case domain.MessageStateSendFailed:
				t.SetCancellationState(domain.CancellationRequestMsgSendFailed)
			}
		})
		log.Infof("trade %s: requested cancellation", t.ShortID())
		return nil
	})
}

// onCancelTradeRequest records the peer's request after checking the split
// against the one computed locally.
func (m *Manager) onCancelTradeRequest(
	_ context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if !t.IsDepositPublished() {
		return errMessageNotReady
	}
	var msg CancelTradeRequestMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	split, err := t.RequestCancellation(
		t.Role.Peer().Direction, m.cfg.MinRefundAtMediatedDispute,
		time.Now().Unix(),
	)
	if err != nil {
		return err
	}
	if split.BuyerAmount != msg.BuyerAmount || split.SellerAmount != msg.SellerAmount {
		t.Cancellation = nil
		return domain.ErrInvalidPayoutSplit
	}
	t.Cancellation.RequesterSig = msg.RequesterSignature
	t.SetCancellationState(domain.CancellationReceivedCancelRequest)
	return nil
}

// OnAcceptCancelRequest completes the cancellation payout with the
// requester's signature and publishes it.
func (m *Manager) OnAcceptCancelRequest(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if t.CancellationState != domain.CancellationReceivedCancelRequest ||
			t.Cancellation == nil {
			return domain.ErrNoCancellationRequest
		}
		c, err := contract(t)
		if err != nil {
			return err
		}
		deposit, err := depositTx(t)
		if err != nil {
			return err
		}
		args := payoutArgs(c, t.Cancellation.Split)
		key, err := m.multisigKey(ctx, t)
		if err != nil {
			return err
		}
		sig, err := m.assembler.SignMediatedPayout(deposit, args, key)
		if err != nil {
			return err
		}
		buyerSig, sellerSig := buyerSellerSigs(t, sig, t.Cancellation.RequesterSig)
		payout, err := m.assembler.FinalizeMediatedPayout(deposit, args, buyerSig, sellerSig)
		if err != nil {
			return err
		}
		if err := m.broadcast(ctx, "cancellation", payout); err != nil {
			t.AppendErrorMessage(err.Error())
			return err
		}
		buf, err := escrow.SerializeTx(payout)
		if err != nil {
			return err
		}
		t.PayoutTxID = payout.TxHash().String()
		t.SetCancellationState(domain.CancellationPayoutTxPublished)

		s.sendToPeer(MsgCancelTradeAccepted, CancelTradeAcceptedMessage{
			PayoutTx: buf,
		}, func(t *domain.Trade, ms domain.MessageState) {
			if ms != domain.MessageStateSendFailed {
				t.SetCancellationState(domain.CancellationPayoutTxPublishedMsgSent)
			}
		})
		m.watchPayout(t.ID, t.PayoutTxID)
		log.Infof("trade %s: accepted cancellation", t.ShortID())
		return nil
	})
}

func (m *Manager) onCancelTradeAccepted(
	_ context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.PayoutTxID != "" {
		return nil
	}
	if t.Cancellation == nil || !t.CancellationState.IsPending() {
		return domain.ErrNoCancellationRequest
	}
	var msg CancelTradeAcceptedMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	c, err := contract(t)
	if err != nil {
		return err
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	payout, err := escrow.DeserializeTx(msg.PayoutTx)
	if err != nil {
		return err
	}
	if err := m.checkPayout(
		deposit, payoutArgs(c, t.Cancellation.Split), payout,
	); err != nil {
		return err
	}
	t.PayoutTxID = payout.TxHash().String()
	t.SetCancellationState(domain.CancellationReceivedAcceptedMsg)
	m.watchPayout(t.ID, t.PayoutTxID)
	return nil
}

// OnRejectCancelRequest turns down the peer's cancellation request. The
// trade goes on as usual.
func (m *Manager) OnRejectCancelRequest(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.CancellationState != domain.CancellationReceivedCancelRequest {
			return domain.ErrNoCancellationRequest
		}
		t.Cancellation = nil
		t.SetCancellationState(domain.CancellationRequestCanceledMsgSent)
		s.sendToPeer(MsgCancelTradeRejected, CancelTradeRejectedMessage{}, nil)
		return nil
	})
}

func (m *Manager) onCancelTradeRejected(
	_ context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if !t.CancellationState.IsPending() {
		return nil
	}
	var msg CancelTradeRejectedMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	t.Cancellation = nil
	t.SetCancellationState(domain.CancellationReceivedRejectedMsg)
	return nil
}
