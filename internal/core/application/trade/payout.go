package trade

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
)

// OnFiatPaymentStarted lets the buyer confirm the counter currency transfer
// was initiated. The buyer signs the payout tx and hands its signature to
// the seller. If the message didn't reach the seller, it can be sent again
// with the signature already made, keeping the stored transfer details
// when none are given.
func (m *Manager) OnFiatPaymentStarted(
	ctx context.Context, tradeID, counterCurrencyTxID, extraData string,
) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if !t.Role.IsBuyer() {
			return domain.ErrTradeInvalidRole
		}
		resend := canResendFiatPaymentStarted(t)
		if t.Phase() != domain.PhaseDepositConfirmed && !resend {
			return domain.ErrTradeInvalidState
		}

		sig := t.ProcessModel.PayoutSignature
		if !resend || len(sig) <= 0 {
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
			if sig, err = m.assembler.SignPayout(
				deposit, payoutArgs(c, t.CooperativePayout()), key,
			); err != nil {
				return err
			}
		}
		if resend && counterCurrencyTxID == "" {
			counterCurrencyTxID = t.CounterCurrencyTxID
			extraData = t.CounterCurrencyExtraData
		}

		t.CounterCurrencyTxID = counterCurrencyTxID
		t.CounterCurrencyExtraData = extraData
		t.ProcessModel.PayoutSignature = sig
		if !resend {
			t.SetStateIfValidTransitionTo(domain.StateBuyerConfirmedInUIFiatPaymentInitiated)
		}

		s.sendToPeer(MsgCounterCurrencyTransferStarted, CounterCurrencyTransferStartedMessage{
			BuyerPayoutAddress:  t.ProcessModel.MyPayoutAddress,
			BuyerSignature:      sig,
			CounterCurrencyTxID: counterCurrencyTxID,
			ExtraData:           extraData,
		}, setDeliveryState(
			domain.StateBuyerSentFiatPaymentInitiatedMsg,
			domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg,
			domain.StateBuyerStoredInMailboxFiatPaymentInitiatedMsg,
			domain.StateBuyerSendFailedFiatPaymentInitiatedMsg,
		))
		log.WithField("resend", resend).Infof(
			"trade %s: fiat payment started", t.ShortID(),
		)
		return nil
	})
}

// canResendFiatPaymentStarted tells if the seller may not have received
// the fiat payment started message.
func canResendFiatPaymentStarted(t *domain.Trade) bool {
	switch t.State {
	case domain.StateBuyerSendFailedFiatPaymentInitiatedMsg,
		domain.StateBuyerStoredInMailboxFiatPaymentInitiatedMsg:
		return true
	default:
		return false
	}
}

// sellerOnCounterCurrencyTransferStarted stores the buyer's payout
// signature once verified against the payout tx of the trade.
func (m *Manager) sellerOnCounterCurrencyTransferStarted(
	ctx context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.IsFiatSent() {
		return nil
	}
	if !t.IsDepositPublished() {
		return errMessageNotReady
	}
	var msg CounterCurrencyTransferStartedMessage
	if err := decode(env, &msg); err != nil {
		return err
	}
	c, err := contract(t)
	if err != nil {
		return err
	}
	if msg.BuyerPayoutAddress != c.BuyerPayoutAddress() {
		return fmt.Errorf(
			"%w: buyer payout address %s does not match contract",
			domain.ErrContractMismatch, msg.BuyerPayoutAddress,
		)
	}
	deposit, err := depositTx(t)
	if err != nil {
		return err
	}
	key, err := m.multisigKey(ctx, t)
	if err != nil {
		return err
	}
	// A dry run of the finalization makes sure the signature is valid.
	if _, err := m.assembler.FinalizePayout(
		deposit, payoutArgs(c, t.CooperativePayout()), msg.BuyerSignature, key,
	); err != nil {
		return err
	}

	t.ProcessModel.PayoutSignature = msg.BuyerSignature
	t.CounterCurrencyTxID = msg.CounterCurrencyTxID
	t.CounterCurrencyExtraData = msg.ExtraData
	t.SetStateIfValidTransitionTo(domain.StateSellerReceivedFiatPaymentInitiatedMsg)
	return nil
}

// OnFiatPaymentReceived lets the seller confirm the counter currency
// arrived. The seller completes and publishes the payout tx.
func (m *Manager) OnFiatPaymentReceived(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if !t.Role.IsSeller() {
			return domain.ErrTradeInvalidRole
		}
		if t.State != domain.StateSellerReceivedFiatPaymentInitiatedMsg &&
			t.State != domain.StateSellerConfirmedInUIFiatPaymentReceipt {
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
		payout, err := m.assembler.FinalizePayout(
			deposit, payoutArgs(c, t.CooperativePayout()),
			t.ProcessModel.PayoutSignature, key,
		)
		if err != nil {
			return err
		}
		if err := m.validator.ValidatePayoutInput(payout, deposit.TxHash()); err != nil {
			return err
		}
		t.SetStateIfValidTransitionTo(domain.StateSellerConfirmedInUIFiatPaymentReceipt)

		if err := m.broadcast(ctx, "payout", payout); err != nil {
			t.AppendErrorMessage(err.Error())
			return err
		}
		buf, err := escrow.SerializeTx(payout)
		if err != nil {
			return err
		}
		t.PayoutTxID = payout.TxHash().String()
		t.SetStateIfValidTransitionTo(domain.StateSellerPublishedPayoutTx)

		s.sendToPeer(MsgPayoutTxPublished, PayoutTxPublishedMessage{
			PayoutTx: buf,
		}, setDeliveryState(
			domain.StateSellerSentPayoutTxPublishedMsg,
			domain.StateSellerSawArrivedPayoutTxPublishedMsg,
			domain.StateSellerStoredInMailboxPayoutTxPublishedMsg,
			domain.StateSellerSendFailedPayoutTxPublishedMsg,
		))
		m.watchPayout(t.ID, t.PayoutTxID)
		log.Infof("trade %s: published payout tx %s", t.ShortID(), t.PayoutTxID)
		return nil
	})
}

// buyerOnPayoutTxPublished records the payout tx published by the seller.
func (m *Manager) buyerOnPayoutTxPublished(
	_ context.Context, s *session, env ports.Envelope,
) error {
	t := s.trade
	if t.PayoutTxID != "" {
		return nil
	}
	if !t.IsDepositPublished() {
		return errMessageNotReady
	}
	var msg PayoutTxPublishedMessage
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
		deposit, payoutArgs(c, t.CooperativePayout()), payout,
	); err != nil {
		return err
	}

	t.PayoutTxID = payout.TxHash().String()
	t.SetStateIfValidTransitionTo(domain.StateBuyerReceivedPayoutTxPublishedMsg)
	m.watchPayout(t.ID, t.PayoutTxID)
	return nil
}

// RequestWithdraw closes a trade whose payout went out. If toAddress is
// given, the funds received with the payout are swept there, otherwise they
// are left in the wallet. It returns the id of the withdrawal tx, if any.
func (m *Manager) RequestWithdraw(
	ctx context.Context, tradeID, toAddress string,
) (string, error) {
	var txid string
	err := m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionPending {
			return domain.ErrTradeNotPending
		}
		if t.PayoutTxID == "" {
			return domain.ErrTradeInvalidState
		}
		if toAddress != "" {
			var err error
			if txid, err = m.wallet.Withdraw(
				ctx, t.ProcessModel.MyPayoutAddress, toAddress,
			); err != nil {
				return err
			}
		}
		if t.IsPayoutPublished() {
			t.SetStateIfValidTransitionTo(domain.StateWithdrawCompleted)
		}
		m.complete(ctx, t)
		return nil
	})
	return txid, err
}
