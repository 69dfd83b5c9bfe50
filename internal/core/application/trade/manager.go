package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/escrow"
	"github.com/tdex-network/tdex-escrow/pkg/validation"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReplyTimeout             = 120 * time.Second
	DefaultOfferAvailabilityTimeout = 30 * time.Second
	DefaultTradePeriodTick          = time.Minute
	DefaultMaxUnconfirmedTxs        = 20
	// DefaultLockTimeDelay is the number of blocks after which the delayed
	// payout tx can be published, about 10 days.
	DefaultLockTimeDelay = 1440

	observerBufferSize = 100
)

// Config holds the collaborators and the settings of the Manager.
type Config struct {
	Network            *chaincfg.Params
	RepoManager        ports.RepoManager
	Wallet             ports.Wallet
	Broadcaster        ports.Broadcaster
	ConfidenceNotifier ports.ConfidenceNotifier
	Messenger          ports.Messenger
	DaoParams          ports.DaoParams

	MaxUnconfirmedTxs          int
	MinRefundAtMediatedDispute int64
	AllowFaultyDelayedTxs      bool
	UseSavingsWallet           bool
	LockTimeDelay              uint32
	ReplyTimeout               time.Duration
	OfferAvailabilityTimeout   time.Duration
	// TradePeriodTicker drives the trade period updates. Defaults to a
	// ticker with DefaultTradePeriodTick interval.
	TradePeriodTicker ticker.Ticker
}

func (c *Config) validate() error {
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if c.RepoManager == nil {
		return fmt.Errorf("missing repo manager")
	}
	if c.Wallet == nil {
		return fmt.Errorf("missing wallet")
	}
	if c.Broadcaster == nil {
		return fmt.Errorf("missing broadcaster")
	}
	if c.ConfidenceNotifier == nil {
		return fmt.Errorf("missing confidence notifier")
	}
	if c.Messenger == nil {
		return fmt.Errorf("missing messenger")
	}
	if c.DaoParams == nil {
		return fmt.Errorf("missing dao params")
	}
	if c.MinRefundAtMediatedDispute < 0 {
		return fmt.Errorf("min refund at mediated dispute must not be negative")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.MaxUnconfirmedTxs <= 0 {
		c.MaxUnconfirmedTxs = DefaultMaxUnconfirmedTxs
	}
	if c.MinRefundAtMediatedDispute == 0 {
		c.MinRefundAtMediatedDispute = domain.DefaultMinRefundAtMediatedDispute
	}
	if c.LockTimeDelay == 0 {
		c.LockTimeDelay = DefaultLockTimeDelay
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.OfferAvailabilityTimeout <= 0 {
		c.OfferAvailabilityTimeout = DefaultOfferAvailabilityTimeout
	}
	if c.TradePeriodTicker == nil {
		c.TradePeriodTicker = ticker.New(DefaultTradePeriodTick)
	}
}

// Event notifies observers about changes of a trade.
type Event struct {
	TradeID      string
	State        domain.State
	Phase        domain.Phase
	DisputeState domain.DisputeState
	Collection   domain.Collection
	ErrorMessage string
}

// Manager is the single authority over the trades of the local node. It
// dispatches inbound messages to the protocol of each trade and drives the
// lifecycle of trades between the pending, closed and failed collections.
type Manager struct {
	cfg       Config
	repo      ports.RepoManager
	wallet    ports.Wallet
	assembler *escrow.Assembler
	validator *validation.Validator

	locks *keyedMutex

	timersLock sync.Mutex
	timers     map[string]*replyTimer

	availabilityLock sync.Mutex
	availability     map[string]chan OfferAvailabilityResponse

	observersLock sync.RWMutex
	observers     []chan Event

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewManager returns a new Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	assembler, err := escrow.NewAssembler(cfg.Network, cfg.Wallet, cfg.Wallet)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewValidator(
		cfg.Network, cfg.AllowFaultyDelayedTxs,
	)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:          cfg,
		repo:         cfg.RepoManager,
		wallet:       cfg.Wallet,
		assembler:    assembler,
		validator:    validator,
		locks:        newKeyedMutex(),
		timers:       make(map[string]*replyTimer),
		availability: make(map[string]chan OfferAvailabilityResponse),
		quit:         make(chan struct{}),
	}, nil
}

// Start registers the message handler, restores the pending trades and
// starts the trade period clock.
func (m *Manager) Start(ctx context.Context) error {
	m.cfg.Messenger.RegisterHandler(m.HandleMessage)
	m.cfg.ConfidenceNotifier.Start()

	if err := m.restore(ctx); err != nil {
		return err
	}

	m.cfg.TradePeriodTicker.Resume()
	m.wg.Add(1)
	go m.tradePeriodLoop()

	log.Info("trade manager started")
	return nil
}

// Stop halts the trade period clock along with every pending timer and
// watcher, then closes the observer channels.
func (m *Manager) Stop() {
	close(m.quit)
	m.cfg.TradePeriodTicker.Stop()
	m.wg.Wait()

	m.timersLock.Lock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.timersLock.Unlock()

	m.cfg.ConfidenceNotifier.Stop()
	m.cfg.Broadcaster.Stop()

	m.observersLock.Lock()
	for _, ch := range m.observers {
		close(ch)
	}
	m.observers = nil
	m.observersLock.Unlock()

	log.Info("trade manager stopped")
}

// Observe returns a channel notified about every change of any trade.
// Slow observers miss events rather than blocking the protocol.
func (m *Manager) Observe() <-chan Event {
	ch := make(chan Event, observerBufferSize)
	m.observersLock.Lock()
	m.observers = append(m.observers, ch)
	m.observersLock.Unlock()
	return ch
}

// GetTrade ...
func (m *Manager) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	return m.repo.TradeRepository().GetTrade(ctx, tradeID)
}

// GetTrades returns the trades of the given collection.
func (m *Manager) GetTrades(
	ctx context.Context, c domain.Collection,
) ([]*domain.Trade, error) {
	return m.repo.TradeRepository().GetTradesByCollection(ctx, c)
}

// restore re-arms the confidence watchers of the pending trades and replays
// the messages buffered before the shutdown.
func (m *Manager) restore(ctx context.Context) error {
	trades, err := m.repo.TradeRepository().GetTradesByCollection(
		ctx, domain.CollectionPending,
	)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for _, t := range trades {
		t := t
		m.watchTrade(t)
		m.rearmTimeout(t)
		eg.Go(func() error {
			unlock := m.locks.Lock(t.ID)
			defer unlock()
			m.processPending(egCtx, t.ID)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	m.updateGauges(ctx)
	log.Infof("restored %d pending trades", len(trades))
	return nil
}

func (m *Manager) watchTrade(t *domain.Trade) {
	if t.DepositTxID != "" && !t.IsDepositConfirmed() {
		m.watchDeposit(t.ID, t.DepositTxID)
	}
	if t.PayoutTxID != "" && !t.IsWithdrawn() {
		m.watchPayout(t.ID, t.PayoutTxID)
	}
}

func (m *Manager) tradePeriodLoop() {
	defer m.wg.Done()
	for {
		select {
		case now := <-m.cfg.TradePeriodTicker.Ticks():
			m.onTradePeriodTick(now)
		case <-m.quit:
			return
		}
	}
}

// onTradePeriodTick advances the trade period of every pending trade.
func (m *Manager) onTradePeriodTick(now time.Time) {
	ctx := context.Background()
	trades, err := m.repo.TradeRepository().GetTradesByCollection(
		ctx, domain.CollectionPending,
	)
	if err != nil {
		log.WithError(err).Warn("trade period: failed to get pending trades")
		return
	}
	for _, t := range trades {
		if t.StartDate <= 0 || t.IsPayoutPublished() {
			continue
		}
		if err := m.withLockedTrade(ctx, t.ID, func(s *session) error {
			if s.trade.UpdateTradePeriod(now) {
				log.Infof(
					"trade %s: trade period %s", s.trade.ShortID(),
					s.trade.TradePeriodState,
				)
			}
			return nil
		}); err != nil {
			log.WithError(err).Warnf("trade period: failed to update trade %s", t.ID)
		}
	}
}

// session is the unit of work of a protocol step on a trade. Outbound
// messages are sent only once the trade is persisted.
type session struct {
	trade  *domain.Trade
	outbox []outbound
}

type outbound struct {
	to       string
	msgType  string
	payload  interface{}
	onResult func(t *domain.Trade, state domain.MessageState)
}

func (s *session) send(
	to, msgType string, payload interface{},
	onResult func(t *domain.Trade, state domain.MessageState),
) {
	s.outbox = append(s.outbox, outbound{to, msgType, payload, onResult})
}

// sendToPeer sends a message to the counterparty of the trade.
func (s *session) sendToPeer(
	msgType string, payload interface{},
	onResult func(t *domain.Trade, state domain.MessageState),
) {
	s.send(s.trade.PeerAddress, msgType, payload, onResult)
}

// withLockedTrade locks the trade for the duration of fn.
func (m *Manager) withLockedTrade(
	ctx context.Context, tradeID string, fn func(s *session) error,
) error {
	unlock := m.locks.Lock(tradeID)
	defer unlock()
	return m.withTrade(ctx, tradeID, fn)
}

// withTrade loads the trade, runs fn and persists the result. The trade is
// persisted also if fn fails so that the appended error messages are kept.
// The caller must hold the lock of the trade.
func (m *Manager) withTrade(
	ctx context.Context, tradeID string, fn func(s *session) error,
) error {
	t, err := m.repo.TradeRepository().GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	s := &session{trade: t}
	version, collection := t.Version, t.Collection
	stepErr := fn(s)

	if t.Version != version || stepErr == nil {
		if err := m.saveTrade(ctx, t); err != nil {
			return err
		}
		if t.Collection != collection {
			m.updateGauges(ctx)
		}
	}
	if stepErr != nil {
		return stepErr
	}
	m.flush(ctx, s)
	return nil
}

// createTrade stores a new trade and sends the messages queued in s.
func (m *Manager) createTrade(ctx context.Context, s *session) error {
	if err := m.repo.TradeRepository().AddTrade(ctx, s.trade); err != nil {
		return err
	}
	m.notify(s.trade)
	m.updateGauges(ctx)
	m.flush(ctx, s)
	return nil
}

func (m *Manager) saveTrade(ctx context.Context, t *domain.Trade) error {
	if err := m.repo.TradeRepository().UpdateTrade(
		ctx, t.ID, func(_ *domain.Trade) (*domain.Trade, error) {
			return t, nil
		},
	); err != nil {
		log.WithError(err).Warnf("failed to persist trade %s", t.ID)
		return ErrServiceUnavailable
	}
	m.notify(t)
	return nil
}

// flush sends the queued messages and records the outcome of each delivery
// on the trade.
func (m *Manager) flush(ctx context.Context, s *session) {
	tradeID := s.trade.ID
	for _, out := range s.outbox {
		state := m.send(ctx, tradeID, out.to, out.msgType, out.payload)
		if out.onResult == nil {
			continue
		}
		if err := m.withTrade(ctx, tradeID, func(s *session) error {
			out.onResult(s.trade, state)
			return nil
		}); err != nil {
			log.WithError(err).Warnf(
				"trade %s: failed to record delivery of %s", tradeID, out.msgType,
			)
		}
	}
	s.outbox = nil
}

func (m *Manager) send(
	ctx context.Context, tradeID, to, msgType string, payload interface{},
) domain.MessageState {
	env, err := newEnvelope(tradeID, msgType, m.cfg.Messenger.Address(), payload)
	if err != nil {
		log.WithError(err).Warnf("trade %s: failed to encode %s", tradeID, msgType)
		return domain.MessageStateSendFailed
	}
	state, err := m.cfg.Messenger.Send(ctx, to, env)
	if err != nil {
		log.WithError(err).Warnf(
			"trade %s: failed to send %s to %s", tradeID, msgType, to,
		)
		return domain.MessageStateSendFailed
	}
	log.WithFields(log.Fields{
		"trade": tradeID,
		"type":  msgType,
		"to":    to,
		"state": state,
	}).Debug("message sent")
	return state
}

func (m *Manager) notify(t *domain.Trade) {
	event := Event{
		TradeID:      t.ID,
		State:        t.State,
		Phase:        t.Phase(),
		DisputeState: t.DisputeState,
		Collection:   t.Collection,
		ErrorMessage: t.ErrorMessage,
	}
	m.observersLock.RLock()
	defer m.observersLock.RUnlock()
	for _, ch := range m.observers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (m *Manager) updateGauges(ctx context.Context) {
	for _, c := range []domain.Collection{
		domain.CollectionPending, domain.CollectionClosed, domain.CollectionFailed,
	} {
		trades, err := m.repo.TradeRepository().GetTradesByCollection(ctx, c)
		if err != nil {
			continue
		}
		tradesGauge.WithLabelValues(c.String()).Set(float64(len(trades)))
	}
}

// MoveToFailed moves a pending trade to the failed collection.
func (m *Manager) MoveToFailed(ctx context.Context, tradeID, reason string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		return m.moveToFailed(ctx, s.trade, reason)
	})
}

func (m *Manager) moveToFailed(
	ctx context.Context, t *domain.Trade, reason string,
) error {
	if t.Collection != domain.CollectionPending {
		return domain.ErrTradeNotPending
	}
	m.stopTimeout(t.ID)
	t.AppendErrorMessage(reason)
	t.Collection = domain.CollectionFailed
	t.Version++
	if t.DepositTxID != "" {
		m.cfg.ConfidenceNotifier.Unwatch(t.DepositTxID)
	}
	// The maker's offer can be taken again as long as no funds moved.
	if t.Role.IsMaker() && !t.IsDepositPublished() {
		if err := m.repo.OfferRepository().UpdateOffer(
			ctx, t.Offer.ID, func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
				if o.State == domain.OpenOfferReserved {
					o.State = domain.OpenOfferAvailable
				}
				return o, nil
			},
		); err != nil {
			log.WithError(err).Warnf("trade %s: failed to reopen offer", t.ShortID())
		}
	}
	log.Warnf("trade %s moved to failed: %s", t.ShortID(), reason)
	return nil
}

// UnfailTrade moves a failed trade back to the pending collection. It's
// allowed only if the addresses of the trade were not reused in the
// meanwhile.
func (m *Manager) UnfailTrade(ctx context.Context, tradeID string) error {
	return m.withLockedTrade(ctx, tradeID, func(s *session) error {
		t := s.trade
		if t.Collection != domain.CollectionFailed {
			return domain.ErrTradeNotFailed
		}
		ok, err := m.wallet.AreAddressesAvailable(ctx, t.ID, ports.TradeAddresses{
			Funding:        t.ProcessModel.MyFundingAddress,
			Payout:         t.ProcessModel.MyPayoutAddress,
			Change:         t.ProcessModel.MyChangeAddress,
			MultisigPubKey: t.ProcessModel.MyMultisigPubKey,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrAddressesNotAvailable
		}
		t.Collection = domain.CollectionPending
		t.Version++
		m.watchTrade(t)
		log.Infof("trade %s moved back to pending", t.ShortID())
		return nil
	})
}

// complete moves a trade to the closed collection and releases its
// addresses.
func (m *Manager) complete(ctx context.Context, t *domain.Trade) {
	m.stopTimeout(t.ID)
	t.Collection = domain.CollectionClosed
	t.Version++
	if err := m.wallet.ReleaseAddresses(ctx, t.ID); err != nil {
		log.WithError(err).Warnf("trade %s: failed to release addresses", t.ShortID())
	}
	m.cfg.ConfidenceNotifier.Unwatch(t.PayoutTxID)
	log.Infof("trade %s completed", t.ShortID())
}

// failOnError appends err to the trade error message and moves the trade to
// failed if its funds are not locked in the escrow yet. Validation errors
// are counted by class.
func (m *Manager) failOnError(ctx context.Context, t *domain.Trade, err error) error {
	var verr validation.ValidationError
	var terr *escrow.TransactionVerificationError
	switch {
	case errors.As(err, &verr):
		validationFailuresCounter.WithLabelValues(validationClass(err)).Inc()
	case errors.As(err, &terr):
		validationFailuresCounter.WithLabelValues("TransactionVerification").Inc()
	}

	if isBroadcastError(err) {
		t.AppendErrorMessage(err.Error())
		if !t.IsDepositPublished() {
			m.armTimeout(t)
		}
		return err
	}
	if t.IsDepositPublished() {
		t.AppendErrorMessage(fmt.Sprintf(
			"%s. Open a mediation if the issue persists", err,
		))
		return err
	}
	if failErr := m.moveToFailed(ctx, t, err.Error()); failErr != nil {
		t.AppendErrorMessage(err.Error())
	}
	return err
}

func validationClass(err error) string {
	var (
		missing   *validation.MissingTransactionError
		structure *validation.InvalidStructureError
		lockTime  *validation.InvalidLockTimeError
		amount    *validation.AmountMismatchError
		donation  *validation.DonationAddressError
		input     *validation.InvalidInputError
		recv      *validation.InvalidReceiversError
		replay    *validation.DisputeReplayError
	)
	switch {
	case errors.As(err, &missing):
		return "MissingTransaction"
	case errors.As(err, &structure):
		return "InvalidStructure"
	case errors.As(err, &lockTime):
		return "InvalidLockTime"
	case errors.As(err, &amount):
		return "AmountMismatch"
	case errors.As(err, &donation):
		return "DonationAddress"
	case errors.As(err, &input):
		return "InvalidInput"
	case errors.As(err, &recv):
		return "InvalidReceivers"
	case errors.As(err, &replay):
		return "DisputeReplay"
	default:
		return "Unknown"
	}
}
