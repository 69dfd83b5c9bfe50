package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// HandleMessage is the entry point of every inbound direct or mailbox
// message. Messages already processed are dropped, those arrived before the
// trade is ready for them are buffered and replayed after each successful
// step of the trade.
func (m *Manager) HandleMessage(
	ctx context.Context, env ports.Envelope, mailbox bool,
) {
	log.WithFields(log.Fields{
		"trade":   env.TradeID,
		"type":    env.Type,
		"from":    env.Sender,
		"uid":     env.UID,
		"mailbox": mailbox,
	}).Debug("message received")

	switch env.Type {
	case MsgOfferAvailabilityRequest:
		m.onOfferAvailabilityRequest(ctx, env)
		return
	case MsgOfferAvailabilityResponse:
		m.onOfferAvailabilityResponse(env)
		return
	}

	if env.UID == "" || env.TradeID == "" {
		messagesCounter.WithLabelValues(env.Type, "malformed").Inc()
		log.Warnf("dropping message %s without uid or trade id", env.Type)
		return
	}

	unlock := m.locks.Lock(env.TradeID)
	defer unlock()

	if m.handleLocked(ctx, env) {
		m.processPending(ctx, env.TradeID)
	}
}

// handleLocked processes a message of a trade whose lock is held by the
// caller. It returns whether the trade advanced.
func (m *Manager) handleLocked(ctx context.Context, env ports.Envelope) bool {
	msgRepo := m.repo.MessageRepository()

	processed, err := msgRepo.IsProcessed(ctx, env.UID)
	if err != nil {
		log.WithError(err).Warnf("failed to check message %s", env.UID)
		return false
	}
	if processed {
		messagesCounter.WithLabelValues(env.Type, "duplicate").Inc()
		log.Debugf("trade %s: dropping duplicate message %s", env.TradeID, env.UID)
		return false
	}

	stepErr := m.dispatch(ctx, env)

	if errors.Is(stepErr, errMessageNotReady) {
		messagesCounter.WithLabelValues(env.Type, "buffered").Inc()
		if err := msgRepo.AddPending(ctx, domain.StoredMessage{
			UID:        env.UID,
			TradeID:    env.TradeID,
			Type:       env.Type,
			Sender:     env.Sender,
			Payload:    env.Payload,
			ReceivedAt: time.Now().Unix(),
		}); err != nil {
			log.WithError(err).Warnf("failed to buffer message %s", env.UID)
		}
		return false
	}

	if _, err := msgRepo.MarkProcessed(ctx, domain.ProcessedMessage{
		UID:         env.UID,
		TradeID:     env.TradeID,
		ProcessedAt: time.Now().Unix(),
	}); err != nil {
		log.WithError(err).Warnf("failed to mark message %s as processed", env.UID)
	}
	if err := msgRepo.DeletePending(ctx, env.UID); err != nil {
		log.WithError(err).Debugf("failed to delete buffered message %s", env.UID)
	}

	if env.Type != MsgAck {
		ack := AckMessage{SourceUID: env.UID, SourceType: env.Type, Success: true}
		if stepErr != nil {
			ack.Success = false
			ack.ErrorMessage = stepErr.Error()
		}
		m.send(ctx, env.TradeID, env.Sender, MsgAck, ack)
	}

	if stepErr != nil {
		messagesCounter.WithLabelValues(env.Type, "error").Inc()
		log.WithError(stepErr).Warnf(
			"trade %s: failed to process %s", env.TradeID, env.Type,
		)
		return false
	}
	messagesCounter.WithLabelValues(env.Type, "ok").Inc()
	return true
}

func (m *Manager) dispatch(ctx context.Context, env ports.Envelope) error {
	if env.Type == MsgInputsForDepositTxRequest {
		return m.onTakeOfferRequest(ctx, env)
	}

	return m.withTrade(ctx, env.TradeID, func(s *session) error {
		t := s.trade
		h, ok := lookupHandler(t.Role, env.Type)
		if !ok {
			return ErrUnexpectedMessage
		}
		if !m.isAllowedSender(t, h.from, env.Sender) {
			return ErrUnknownPeer
		}
		if t.Collection != domain.CollectionPending && !h.anyCollection {
			return domain.ErrTradeNotPending
		}

		var pending int64
		if !h.keepTimeout {
			pending = t.ProcessModel.PendingReplyTimeout
			m.stopTimeout(t.ID)
			t.ProcessModel.PendingReplyTimeout = 0
		}

		err := h.step(m, ctx, s, env)
		if errors.Is(err, errMessageNotReady) {
			if pending > 0 && t.ProcessModel.PendingReplyTimeout == 0 {
				t.ProcessModel.PendingReplyTimeout = pending
				m.rearmTimeout(t)
			}
			return err
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedMessage) {
			return err
		}
		return m.failOnError(ctx, t, fmt.Errorf("%s: %w", env.Type, err))
	})
}

func (m *Manager) isAllowedSender(t *domain.Trade, from sender, address string) bool {
	isPeer := address == t.PeerAddress
	isAgent := address != "" &&
		(address == t.MediatorAddress || address == t.RefundAgentAddress)
	switch from {
	case fromPeer:
		return isPeer
	case fromAgent:
		return isAgent
	default:
		return isPeer || isAgent
	}
}

// processPending replays the buffered messages of the trade until none of
// them makes the trade advance. The caller must hold the trade lock.
func (m *Manager) processPending(ctx context.Context, tradeID string) {
	msgRepo := m.repo.MessageRepository()
	for {
		pending, err := msgRepo.GetPending(ctx, tradeID)
		if err != nil {
			log.WithError(err).Warnf("trade %s: failed to get buffered messages", tradeID)
			return
		}
		advanced := false
		for _, msg := range pending {
			env := ports.Envelope{
				UID:     msg.UID,
				TradeID: msg.TradeID,
				Type:    msg.Type,
				Sender:  msg.Sender,
				Payload: msg.Payload,
			}
			if m.handleLocked(ctx, env) {
				advanced = true
			}
		}
		if !advanced {
			return
		}
	}
}

func (m *Manager) onAck(
	_ context.Context, s *session, env ports.Envelope,
) error {
	var ack AckMessage
	if err := decode(env, &ack); err != nil {
		return err
	}
	if ack.Success {
		log.Debugf(
			"trade %s: %s %s acked by %s",
			s.trade.ShortID(), ack.SourceType, ack.SourceUID, env.Sender,
		)
		return nil
	}
	s.trade.AppendErrorMessage(fmt.Sprintf(
		"%s failed at %s: %s", ack.SourceType, env.Sender, ack.ErrorMessage,
	))
	return nil
}

func (m *Manager) onChatMessage(
	_ context.Context, s *session, env ports.Envelope,
) error {
	var msg ChatMessagePayload
	if err := decode(env, &msg); err != nil {
		return err
	}
	s.trade.AddChatMessage(domain.ChatMessage{
		UID:       env.UID,
		Sender:    env.Sender,
		Text:      msg.Text,
		Timestamp: env.SentAt,
	})
	return nil
}

// SendChatMessage sends a text message to the counterparty of the trade or,
// if a dispute is open, to the dispute agent as well.
func (m *Manager) SendChatMessage(
	ctx context.Context, tradeID, text string,
) error {
	if text == "" {
		return fmt.Errorf("missing text")
	}
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		t.AddChatMessage(domain.ChatMessage{
			UID:       uuid.New().String(),
			Sender:    m.cfg.Messenger.Address(),
			Text:      text,
			Timestamp: time.Now().Unix(),
		})
		payload := ChatMessagePayload{Text: text}
		s.sendToPeer(MsgChat, payload, nil)
		if agent := disputeAgent(t); agent != "" {
			s.send(agent, MsgChat, payload, nil)
		}
		return nil
	})
}
