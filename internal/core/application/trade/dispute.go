package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
)

// OpenMediation opens a mediation case for a trade with the funds locked in
// the escrow. Mediator and peer are both notified.
func (m *Manager) OpenMediation(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if !t.IsDepositPublished() || t.PayoutTxID != "" {
			return domain.ErrDisputeNotAllowed
		}
		if !t.DisputeState.IsNotDisputed() {
			return domain.ErrDisputeAlreadyOpen
		}
		if t.MediatorAddress == "" {
			return fmt.Errorf("%w: trade has no mediator", domain.ErrDisputeNotAllowed)
		}
		c, err := contract(t)
		if err != nil {
			return err
		}
		rawContract, err := json.Marshal(c)
		if err != nil {
			return err
		}

		dispute := domain.Dispute{
			ID:          uuid.New().String(),
			TradeID:     t.ID,
			DepositTxID: t.DepositTxID,
			Agent:       t.MediatorAddress,
			OpenedAt:    time.Now().Unix(),
		}
		if err := m.addDispute(ctx, dispute); err != nil {
			return err
		}
		t.SetDisputeState(domain.DisputeStateMediationRequested)

		msg := DisputeOpenedMessage{
			DepositTxID: t.DepositTxID,
			Contract:    rawContract,
		}
		s.send(t.MediatorAddress, MsgDisputeOpened, msg, nil)
		s.sendToPeer(MsgDisputeOpened, msg, nil)
		log.Infof("trade %s: opened mediation", t.ShortID())
		return nil
	})
}

// OpenRefund escalates a mediated trade to the refund agent. The delayed
// payout tx is published, so the lock time must be expired.
func (m *Manager) OpenRefund(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if !t.DisputeState.IsMediated() || t.PayoutTxID != "" {
			return domain.ErrDisputeNotAllowed
		}
		if t.RefundAgentAddress == "" {
			return fmt.Errorf("%w: trade has no refund agent", domain.ErrDisputeNotAllowed)
		}
		if len(t.DelayedPayoutTx) <= 0 {
			return fmt.Errorf("%w: missing delayed payout tx", domain.ErrDisputeNotAllowed)
		}
		height, err := m.cfg.DaoParams.ChainHeight(ctx)
		if err != nil {
			return err
		}
		if uint32(height) < t.LockTime {
			return fmt.Errorf(
				"%w: delayed payout tx is locked until height %d",
				domain.ErrDisputeNotAllowed, t.LockTime,
			)
		}
		c, err := contract(t)
		if err != nil {
			return err
		}
		rawContract, err := json.Marshal(c)
		if err != nil {
			return err
		}
		delayedPayout, err := escrow.DeserializeTx(t.DelayedPayoutTx)
		if err != nil {
			return err
		}

		dispute := domain.Dispute{
			ID:                uuid.New().String(),
			TradeID:           t.ID,
			DepositTxID:       t.DepositTxID,
			DelayedPayoutTxID: delayedPayout.TxHash().String(),
			IsRefund:          true,
			Agent:             t.RefundAgentAddress,
			OpenedAt:          time.Now().Unix(),
		}
		if err := m.checkDisputeReplay(ctx, dispute); err != nil {
			return err
		}
		if err := m.broadcast(ctx, "delayed_payout", delayedPayout); err != nil {
			t.AppendErrorMessage(err.Error())
			return err
		}
		if err := m.addDispute(ctx, dispute); err != nil {
			return err
		}
		t.SetDisputeState(domain.DisputeStateRefundRequested)

		msg := DisputeOpenedMessage{
			IsRefund:          true,
			DepositTxID:       t.DepositTxID,
			DelayedPayoutTxID: dispute.DelayedPayoutTxID,
			Contract:          rawContract,
		}
		s.send(t.RefundAgentAddress, MsgDisputeOpened, msg, nil)
		s.sendToPeer(MsgDisputeOpened, msg, nil)
		log.Infof("trade %s: opened refund request", t.ShortID())
		return nil
	})
}

// onDisputeOpened records a dispute opened by the peer.
func (m *Manager) onDisputeOpened(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	var msg DisputeOpenedMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	if msg.DepositTxID != t.DepositTxID {
		return fmt.Errorf(
			"%w: dispute references deposit tx %s",
			domain.ErrContractMismatch, msg.DepositTxID,
		)
	}
	if msg.IsRefund && t.DisputeState.IsRefund() {
		return nil
	}
	if !msg.IsRefund && !t.DisputeState.IsNotDisputed() {
		return nil
	}

	dispute := domain.Dispute{
		ID:                uuid.New().String(),
		TradeID:           t.ID,
		DepositTxID:       msg.DepositTxID,
		DelayedPayoutTxID: msg.DelayedPayoutTxID,
		IsRefund:          msg.IsRefund,
		Agent:             t.MediatorAddress,
		OpenedByPeer:      true,
		OpenedAt:          time.Now().Unix(),
	}
	state := domain.DisputeStateMediationStartedByPeer
	if msg.IsRefund {
		dispute.Agent = t.RefundAgentAddress
		state = domain.DisputeStateRefundRequestStartedByPeer
	}
	if err := m.addDispute(ctx, dispute); err != nil {
		return err
	}
	t.SetDisputeState(state)
	return nil
}

// onMediationResult records the mediator's suggested payout.
func (m *Manager) onMediationResult(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if env.Sender != t.MediatorAddress {
		return ErrUnknownPeer
	}
	if !t.DisputeState.IsMediated() {
		return errMessageNotReady
	}
	if t.MediationResultState >= domain.MediationPayoutTxPublished {
		return nil
	}
	var msg MediationResultMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	split := domain.PayoutSplit{
		BuyerAmount:  msg.BuyerAmount,
		SellerAmount: msg.SellerAmount,
	}
	if split.BuyerAmount < 0 || split.SellerAmount < 0 ||
		split.Total() != t.MultisigAmount()-t.TxFee {
		return domain.ErrInvalidPayoutSplit
	}

	t.Mediation = &domain.Mediation{Split: split}
	t.SetMediationResultState(domain.MediationResultUndefined)
	t.SetDisputeState(domain.DisputeStateMediationClosed)
	t.Version++
	m.closeDisputes(ctx, t.ID, false)
	log.Infof(
		"trade %s: mediation result buyer %d seller %d",
		t.ShortID(), split.BuyerAmount, split.SellerAmount,
	)
	return nil
}

// AcceptMediationResult signs the payout suggested by the mediator. The
// second trader to accept publishes it.
func (m *Manager) AcceptMediationResult(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if t.Mediation == nil || t.DisputeState != domain.DisputeStateMediationClosed {
			return domain.ErrTradeInvalidState
		}
		if t.PayoutTxID != "" {
			return domain.ErrTradeInvalidState
		}
		c, err := contract(t)
		if err != nil {
			return err
		}
		deposit, err := depositTx(t)
		if err != nil {
			return err
		}
		key, err := m.multisigKey(ctx, t)
		if err != nil {
			return err
		}
		sig, err := m.assembler.SignMediatedPayout(
			deposit, payoutArgs(c, t.Mediation.Split), key,
		)
		if err != nil {
			return err
		}
		if t.Role.IsBuyer() {
			t.Mediation.BuyerSignature = sig
		} else {
			t.Mediation.SellerSignature = sig
		}
		t.SetMediationResultState(domain.MediationResultAccepted)

		if len(peerMediationSig(t)) > 0 {
			return m.publishMediatedPayout(ctx, s, c, deposit)
		}
		s.sendToPeer(MsgMediatedPayoutSignature, MediatedPayoutSignatureMessage{
			Signature: sig,
		}, func(t *domain.Trade, ms domain.MessageState) {
			if t.MediationResultState >= domain.MediationReceivedSigMsg {
				return
			}
			switch ms {
			case domain.MessageStateArrived:
				t.SetMediationResultState(domain.MediationSigMsgArrived)
			case domain.MessageStateStoredInMailbox:
				t.SetMediationResultState(domain.MediationSigMsgInMailbox)
			case domain.MessageStateSendFailed:
				t.SetMediationResultState(domain.MediationSigMsgSendFailed)
			default:
				t.SetMediationResultState(domain.MediationSigMsgSent)
			}
		})
		return nil
	})
}

// RejectMediationResult turns down the mediator's suggestion. The trade can
// then be escalated to the refund agent.
func (m *Manager) RejectMediationResult(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Mediation == nil || t.MediationResultState >= domain.MediationPayoutTxPublished {
			return domain.ErrTradeInvalidState
		}
		t.SetMediationResultState(domain.MediationResultRejected)
		return nil
	})
}

// onMediatedPayoutSignature stores the peer's signature of the mediated
// payout and publishes it if the local trader already accepted.
func (m *Manager) onMediatedPayoutSignature(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.PayoutTxID != "" {
		return nil
	}
	if t.Mediation == nil {
		return errMessageNotReady
	}
	var msg MediatedPayoutSignatureMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	if t.Role.IsBuyer() {
		t.Mediation.SellerSignature = msg.Signature
	} else {
		t.Mediation.BuyerSignature = msg.Signature
	}
	t.Version++
	if t.MediationResultState == domain.MediationResultRejected ||
		len(myMediationSig(t)) <= 0 {
		t.SetMediationResultState(domain.MediationReceivedSigMsg)
		return nil
	}

	c, err := contract(t)
	if err != nil {
		return err
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	return m.publishMediatedPayout(ctx, s, c, deposit)
}

func (m *Manager) publishMediatedPayout(
	ctx context.Context, s *session, c *domain.Contract, deposit *wire.MsgTx,
) error {
	t := s.trade
	payout, err := m.assembler.FinalizeMediatedPayout(
		deposit, payoutArgs(c, t.Mediation.Split),
		t.Mediation.BuyerSignature, t.Mediation.SellerSignature,
	)
	if err != nil {
		return err
	}
	if err := m.broadcast(ctx, "mediated_payout", payout); err != nil {
		t.AppendErrorMessage(err.Error())
		return err
	}
	buf, err := escrow.SerializeTx(payout)
	if err != nil {
		return err
	}
	t.PayoutTxID = payout.TxHash().String()
	t.SetMediationResultState(domain.MediationPayoutTxPublished)

	s.sendToPeer(MsgMediatedPayoutPublished, MediatedPayoutPublishedMessage{
		PayoutTx: buf,
	}, func(t *domain.Trade, ms domain.MessageState) {
		if t.MediationResultState >= domain.MediationPayoutTxSeenInNetwork {
			return
		}
		switch ms {
		case domain.MessageStateArrived:
			t.SetMediationResultState(domain.MediationPayoutTxPublishedMsgArrived)
		case domain.MessageStateStoredInMailbox:
			t.SetMediationResultState(domain.MediationPayoutTxPublishedMsgInMailbox)
		case domain.MessageStateSendFailed:
			t.SetMediationResultState(domain.MediationPayoutTxPublishedMsgSendFailed)
		default:
			t.SetMediationResultState(domain.MediationPayoutTxPublishedMsgSent)
		}
	})
	m.watchPayout(t.ID, t.PayoutTxID)
	log.Infof("trade %s: published mediated payout tx %s", t.ShortID(), t.PayoutTxID)
	return nil
}

func (m *Manager) onMediatedPayoutPublished(
	_ context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.PayoutTxID != "" {
		return nil
	}
	if t.Mediation == nil {
		return errMessageNotReady
	}
	var msg MediatedPayoutPublishedMessage
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
		deposit, payoutArgs(c, t.Mediation.Split), payout,
	); err != nil {
		return err
	}
	t.PayoutTxID = payout.TxHash().String()
	t.SetMediationResultState(domain.MediationReceivedPayoutTxPublishedMsg)
	m.watchPayout(t.ID, t.PayoutTxID)
	return nil
}

// OnDisputedPayoutSignature completes and publishes the payout decided by
// the arbitrator of a 2-of-3 escrow.
func (m *Manager) OnDisputedPayoutSignature(
	ctx context.Context, tradeID string, msg DisputedPayoutSignatureMessage,
) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		if s.trade.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		return m.applyDisputedPayout(ctx, s.trade, msg)
	})
}

func (m *Manager) onDisputedPayoutSignatureMessage(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	var msg DisputedPayoutSignatureMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	return m.applyDisputedPayout(ctx, s.trade, msg)
}

func (m *Manager) applyDisputedPayout(
	ctx context.Context, t *domain.Trade, msg DisputedPayoutSignatureMessage,
) error {
	if t.PayoutTxID != "" {
		return nil
	}
	if len(t.ArbitratorPubKey) <= 0 {
		return ErrNoArbitrator
	}
	c, err := contract(t)
	if err != nil {
		return err
	}
	if msg.BuyerAddress != c.BuyerPayoutAddress() ||
		msg.SellerAddress != c.SellerPayoutAddress() {
		return fmt.Errorf(
			"%w: disputed payout addresses do not match contract",
			domain.ErrContractMismatch,
		)
	}
	split := domain.PayoutSplit{
		BuyerAmount:  msg.BuyerAmount,
		SellerAmount: msg.SellerAmount,
	}
	if split.BuyerAmount < 0 || split.SellerAmount < 0 ||
		split.Total() > t.MultisigAmount() {
		return domain.ErrInvalidPayoutSplit
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	key, err := m.multisigKey(ctx, t)
	if err != nil {
		return err
	}
	args := escrow.PayoutArgs{
		BuyerAmount:   btcutil.Amount(split.BuyerAmount),
		SellerAmount:  btcutil.Amount(split.SellerAmount),
		BuyerAddress:  msg.BuyerAddress,
		SellerAddress: msg.SellerAddress,
		Keys:          c.EscrowKeys(),
	}
	payout, err := m.assembler.TraderSignAndFinalizeDisputedPayout(
		deposit, args, msg.ArbitratorSignature, key,
	)
	if err != nil {
		return err
	}
	if err := m.broadcast(ctx, "disputed_payout", payout); err != nil {
		t.AppendErrorMessage(err.Error())
		return err
	}
	t.PayoutTxID = payout.TxHash().String()
	if t.DisputeState.IsRefund() {
		t.SetDisputeState(domain.DisputeStateRefundRequestClosed)
		m.closeDisputes(ctx, t.ID, true)
	} else {
		t.SetDisputeState(domain.DisputeStateMediationClosed)
		m.closeDisputes(ctx, t.ID, false)
	}
	t.SetMediationResultState(domain.MediationPayoutTxPublished)
	m.watchPayout(t.ID, t.PayoutTxID)
	log.Infof("trade %s: published disputed payout tx %s", t.ShortID(), t.PayoutTxID)
	return nil
}

// checkDisputeReplay fails if the new dispute, together with the stored
// ones, references the same trade or txs too many times.
func (m *Manager) checkDisputeReplay(ctx context.Context, d domain.Dispute) error {
	disputes, err := m.repo.DisputeRepository().GetDisputes(ctx)
	if err != nil {
		return err
	}
	records := make([]validation.DisputeRecord, 0, len(disputes)+1)
	for _, stored := range append(disputes, d) {
		records = append(records, validation.DisputeRecord{
			TradeID:           stored.TradeID,
			DepositTxID:       stored.DepositTxID,
			DelayedPayoutTxID: stored.DelayedPayoutTxID,
			IsRefund:          stored.IsRefund,
		})
	}
	if err := validation.CheckDisputeReplay(records); err != nil {
		validationFailuresCounter.WithLabelValues(validationClass(err)).Inc()
		return err
	}
	return nil
}

func (m *Manager) addDispute(ctx context.Context, d domain.Dispute) error {
	if err := m.checkDisputeReplay(ctx, d); err != nil {
		return err
	}
	return m.repo.DisputeRepository().AddDispute(ctx, d)
}

func (m *Manager) closeDisputes(ctx context.Context, tradeID string, refund bool) {
	disputes, err := m.repo.DisputeRepository().GetDisputesByTradeID(ctx, tradeID)
	if err != nil {
		log.WithError(err).Warnf("trade %s: failed to get disputes", tradeID)
		return
	}
	for _, d := range disputes {
		if d.Closed || d.IsRefund != refund {
			continue
		}
		if err := m.repo.DisputeRepository().CloseDispute(ctx, d.ID); err != nil {
			log.WithError(err).Warnf("trade %s: failed to close dispute %s", tradeID, d.ID)
		}
	}
}

func myMediationSig(t *domain.Trade) []byte {
	if t.Role.IsBuyer() {
		return t.Mediation.BuyerSignature
	}
	return t.Mediation.SellerSignature
}

func peerMediationSig(t *domain.Trade) []byte {
	if t.Role.IsBuyer() {
		return t.Mediation.SellerSignature
	}
	return t.Mediation.BuyerSignature
}
