package wsmessenger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

const (
	path = "/p2p"

	writeWait      = 10 * time.Second
	receiptWait    = 10 * time.Second
	maxMessageSize = 1 << 20

	// DefaultRetryInterval is how often the mailbox tries to deliver the
	// messages of offline peers.
	DefaultRetryInterval = 30 * time.Second
	// DefaultMaxMailboxSize is the max number of messages kept per peer.
	DefaultMaxMailboxSize = 1000
	// DefaultMailboxTTL is how long an undelivered message is kept.
	DefaultMailboxTTL = 7 * 24 * time.Hour
)

var (
	// ErrNotStarted ...
	ErrNotStarted = errors.New("messenger not started")
	// ErrMailboxFull is returned when too many messages are queued for an
	// offline peer.
	ErrMailboxFull = errors.New("peer mailbox is full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is what goes over the wire. Mailbox marks messages delivered late
// because the receiver was offline when they were sent.
type frame struct {
	Envelope ports.Envelope `json:"envelope"`
	Mailbox  bool           `json:"mailbox"`
}

// receipt confirms the receiver got a frame.
type receipt struct {
	UID string `json:"uid"`
}

// Config holds the settings of the messenger.
type Config struct {
	// ListenAddress is the host:port the messenger accepts connections on.
	ListenAddress string
	// PublicAddress is the address advertised to peers. Defaults to the
	// address the messenger is listening on.
	PublicAddress  string
	RetryInterval  time.Duration
	MaxMailboxSize int
	MailboxTTL     time.Duration
}

type messenger struct {
	cfg    Config
	dialer *websocket.Dialer

	lock     sync.RWMutex
	address  string
	handler  ports.MessageHandler
	listener net.Listener
	server   *http.Server
	mailbox  *mailbox

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMessenger returns a ports.Messenger exchanging JSON envelopes with the
// other peers over websocket. Messages for unreachable peers are kept in a
// mailbox and retried periodically.
func NewMessenger(cfg Config) (ports.Messenger, error) {
	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("missing listen address")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxMailboxSize <= 0 {
		cfg.MaxMailboxSize = DefaultMaxMailboxSize
	}
	if cfg.MailboxTTL <= 0 {
		cfg.MailboxTTL = DefaultMailboxTTL
	}
	return &messenger{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		address: cfg.PublicAddress,
		mailbox: newMailbox(cfg.MaxMailboxSize, cfg.MailboxTTL),
		quit:    make(chan struct{}),
	}, nil
}

func (m *messenger) Address() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.address
}

func (m *messenger) RegisterHandler(handler ports.MessageHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handler = handler
}

func (m *messenger) Start() error {
	listener, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, m.serveWs)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.lock.Lock()
	m.listener = listener
	m.server = server
	if m.address == "" {
		m.address = listener.Addr().String()
	}
	m.lock.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("p2p server stopped unexpectedly")
		}
	}()
	go func() {
		defer m.wg.Done()
		m.retryLoop()
	}()

	log.Infof("p2p messenger listening on %s", listener.Addr())
	return nil
}

func (m *messenger) Stop() {
	select {
	case <-m.quit:
		return
	default:
		close(m.quit)
	}

	m.lock.RLock()
	server := m.server
	m.lock.RUnlock()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to shutdown p2p server")
		}
	}
	m.wg.Wait()
	log.Debug("p2p messenger stopped")
}

// Send delivers the envelope to the peer. If the peer can't be reached the
// message is stored in the mailbox and retried later.
func (m *messenger) Send(
	ctx context.Context, peerAddress string, env ports.Envelope,
) (domain.MessageState, error) {
	select {
	case <-m.quit:
		return domain.MessageStateSendFailed, ErrNotStarted
	default:
	}

	err := m.deliver(ctx, peerAddress, frame{Envelope: env})
	if err == nil {
		return domain.MessageStateArrived, nil
	}
	log.WithError(err).Debugf(
		"peer %s unreachable, storing message %s in mailbox", peerAddress, env.UID,
	)
	if err := m.mailbox.add(peerAddress, env); err != nil {
		return domain.MessageStateSendFailed, err
	}
	return domain.MessageStateStoredInMailbox, nil
}

func (m *messenger) deliver(ctx context.Context, peerAddress string, f frame) error {
	url := fmt.Sprintf("ws://%s%s", peerAddress, path)
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(f); err != nil {
		return err
	}
	if err := conn.SetReadDeadline(time.Now().Add(receiptWait)); err != nil {
		return err
	}
	var r receipt
	if err := conn.ReadJSON(&r); err != nil {
		return err
	}
	if r.UID != f.Envelope.UID {
		return fmt.Errorf("got receipt for %s, expected %s", r.UID, f.Envelope.UID)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// nolint
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return nil
}

// serveWs reads the frames sent by a peer, acknowledges every one of them
// with a receipt and hands them to the registered handler.
func (m *messenger) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("failed to upgrade p2p connection")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).Debug("p2p connection closed")
			}
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := conn.WriteJSON(receipt{UID: f.Envelope.UID}); err != nil {
			log.WithError(err).Debugf("failed to send receipt for %s", f.Envelope.UID)
			return
		}

		m.lock.RLock()
		handler := m.handler
		m.lock.RUnlock()
		if handler == nil {
			log.Warnf("dropping message %s, no handler registered", f.Envelope.UID)
			continue
		}
		select {
		case <-m.quit:
			return
		default:
		}
		m.wg.Add(1)
		go func(f frame) {
			defer m.wg.Done()
			handler(context.Background(), f.Envelope, f.Mailbox)
		}(f)
	}
}

func (m *messenger) retryLoop() {
	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.flushMailbox()
		}
	}
}

// flushMailbox tries to deliver the queued messages in order. Delivery to a
// peer stops at the first failure.
func (m *messenger) flushMailbox() {
	m.mailbox.purge(time.Now())

	for _, peer := range m.mailbox.peers() {
		for {
			env, ok := m.mailbox.peek(peer)
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), receiptWait)
			err := m.deliver(ctx, peer, frame{Envelope: env, Mailbox: true})
			cancel()
			if err != nil {
				break
			}
			m.mailbox.pop(peer, env.UID)
			log.Debugf("delivered mailbox message %s to %s", env.UID, peer)
		}
	}
}
