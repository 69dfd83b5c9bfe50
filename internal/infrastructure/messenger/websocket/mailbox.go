package wsmessenger

import (
	"sync"
	"time"

	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

type mailboxEntry struct {
	env      ports.Envelope
	storedAt time.Time
}

// mailbox keeps the messages of the offline peers in the order they were
// sent.
type mailbox struct {
	lock    sync.Mutex
	maxSize int
	ttl     time.Duration
	queues  map[string][]mailboxEntry
}

func newMailbox(maxSize int, ttl time.Duration) *mailbox {
	return &mailbox{
		maxSize: maxSize,
		ttl:     ttl,
		queues:  make(map[string][]mailboxEntry),
	}
}

func (m *mailbox) add(peer string, env ports.Envelope) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[peer]
	for _, e := range queue {
		if e.env.UID == env.UID {
			return nil
		}
	}
	if len(queue) >= m.maxSize {
		return ErrMailboxFull
	}
	m.queues[peer] = append(queue, mailboxEntry{env, time.Now()})
	return nil
}

func (m *mailbox) peers() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	peers := make([]string, 0, len(m.queues))
	for peer := range m.queues {
		peers = append(peers, peer)
	}
	return peers
}

func (m *mailbox) peek(peer string) (ports.Envelope, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[peer]
	if len(queue) <= 0 {
		return ports.Envelope{}, false
	}
	return queue[0].env, true
}

func (m *mailbox) pop(peer, uid string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[peer]
	for i, e := range queue {
		if e.env.UID == uid {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) <= 0 {
		delete(m.queues, peer)
		return
	}
	m.queues[peer] = queue
}

func (m *mailbox) size(peer string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.queues[peer])
}

// purge drops the messages older than the ttl.
func (m *mailbox) purge(now time.Time) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for peer, queue := range m.queues {
		kept := queue[:0]
		for _, e := range queue {
			if now.Sub(e.storedAt) < m.ttl {
				kept = append(kept, e)
			}
		}
		if len(kept) <= 0 {
			delete(m.queues, peer)
			continue
		}
		m.queues[peer] = kept
	}
}
