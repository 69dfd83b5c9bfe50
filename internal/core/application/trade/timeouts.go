package trade

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// armTimeout starts the timer waiting for the peer's reply. Any message
// processed for the trade stops it.
func (m *Manager) armTimeout(t *domain.Trade) {
	timeout := m.cfg.ReplyTimeout
	t.ProcessModel.PendingReplyTimeout = time.Now().Add(timeout).Unix()
	m.startTimer(t.ID, timeout)
}

// rearmTimeout restarts the timer of a restored trade for the time left.
func (m *Manager) rearmTimeout(t *domain.Trade) {
	if t.ProcessModel.PendingReplyTimeout <= 0 {
		return
	}
	left := time.Until(time.Unix(t.ProcessModel.PendingReplyTimeout, 0))
	if left < 0 {
		left = 0
	}
	m.startTimer(t.ID, left)
}

// replyTimer is the timer of a trade waiting for the peer's reply. Each
// arming creates a new one, so that a callback already fired can tell if it
// has been replaced meanwhile.
type replyTimer struct {
	*time.Timer
}

func (m *Manager) startTimer(tradeID string, timeout time.Duration) {
	m.timersLock.Lock()
	defer m.timersLock.Unlock()
	if timer, ok := m.timers[tradeID]; ok {
		timer.Stop()
	}
	timer := &replyTimer{}
	timer.Timer = time.AfterFunc(timeout, func() {
		m.onTimeout(tradeID, timer)
	})
	m.timers[tradeID] = timer
}

func (m *Manager) stopTimeout(tradeID string) {
	m.timersLock.Lock()
	defer m.timersLock.Unlock()
	if timer, ok := m.timers[tradeID]; ok {
		timer.Stop()
		delete(m.timers, tradeID)
	}
}

// onTimeout handles the expiry of timer. The trade is left untouched if the
// reply arrived or the timer was re-armed before the trade could be locked.
func (m *Manager) onTimeout(tradeID string, timer *replyTimer) {
	m.timersLock.Lock()
	if m.timers[tradeID] == timer {
		delete(m.timers, tradeID)
	}
	m.timersLock.Unlock()

	ctx := context.Background()
	if err := m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		deadline := t.ProcessModel.PendingReplyTimeout
		if deadline <= 0 || time.Now().Unix() < deadline {
			return nil
		}
		t.ProcessModel.PendingReplyTimeout = 0
		log.Warnf("trade %s: %s", t.ShortID(), ErrPeerTimeout)
		if !t.IsDepositPublished() && t.Collection == domain.CollectionPending {
			return m.moveToFailed(ctx, t, timeoutMessage)
		}
		t.AppendErrorMessage(timeoutMessage)
		return nil
	}); err != nil {
		log.WithError(err).Warnf("trade %s: failed to handle timeout", tradeID)
	}
}
