package application

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/broadcaster"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/confidence"
	dbbadger "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
	dbpg "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/pg"
)

const (
	DBBadger   = "badger"
	DBPostgres = "postgres"
	DBInMemory = "inmemory"
)

var (
	SupportedDBType = map[string]struct{}{
		DBBadger:   {},
		DBPostgres: {},
		DBInMemory: {},
	}
)

// Config wires the adapters of the daemon into the trade manager. Services
// are created lazily and only once.
type Config struct {
	Network *chaincfg.Params
	// DBConfig is the badger base dir for DBBadger and a dbpg.DbConfig for
	// DBPostgres.
	DBType   string
	DBConfig interface{}

	Wallet    ports.Wallet
	Messenger ports.Messenger
	DaoParams ports.DaoParams

	BroadcastTimeout           time.Duration
	ConfidencePollInterval     time.Duration
	ConfidenceRateLimit        int
	TradePeriodTick            time.Duration
	ReplyTimeout               time.Duration
	OfferAvailabilityTimeout   time.Duration
	MaxUnconfirmedTxs          int
	MinRefundAtMediatedDispute int64
	LockTimeDelay              uint32
	AllowFaultyDelayedTxs      bool
	UseSavingsWallet           bool

	repo     ports.RepoManager
	bcaster  ports.Broadcaster
	notifier ports.ConfidenceNotifier
	manager  *trade.Manager
}

func (c *Config) Validate() error {
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if _, ok := SupportedDBType[c.DBType]; !ok {
		return fmt.Errorf("unsupported db type %s", c.DBType)
	}
	if c.Wallet == nil {
		return fmt.Errorf("missing wallet")
	}
	if c.Messenger == nil {
		return fmt.Errorf("missing messenger")
	}
	if c.DaoParams == nil {
		return fmt.Errorf("missing dao params")
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}
	if _, err := c.tradeManager(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RepoManager() ports.RepoManager {
	repo, _ := c.repoManager()
	return repo
}

func (c *Config) TradeManager() *trade.Manager {
	manager, _ := c.tradeManager()
	return manager
}

func (c *Config) repoManager() (ports.RepoManager, error) {
	if c.repo != nil {
		return c.repo, nil
	}

	var (
		repo ports.RepoManager
		err  error
	)
	switch c.DBType {
	case DBBadger:
		datadir, _ := c.DBConfig.(string)
		repo, err = dbbadger.NewRepoManager(datadir, log.New())
	case DBPostgres:
		pgConfig, ok := c.DBConfig.(dbpg.DbConfig)
		if !ok {
			return nil, fmt.Errorf("invalid postgres config")
		}
		repo, err = dbpg.NewService(pgConfig)
	default:
		repo = inmemory.NewRepoManager()
	}
	if err != nil {
		return nil, err
	}
	c.repo = repo
	return c.repo, nil
}

func (c *Config) broadcaster() ports.Broadcaster {
	if c.bcaster == nil {
		c.bcaster = broadcaster.NewBroadcaster(c.Wallet, c.BroadcastTimeout)
	}
	return c.bcaster
}

func (c *Config) confidenceNotifier() ports.ConfidenceNotifier {
	if c.notifier == nil {
		c.notifier = confidence.NewNotifier(confidence.Opts{
			Source:            c.Wallet,
			PollInterval:      c.ConfidencePollInterval,
			RequestsPerSecond: c.ConfidenceRateLimit,
		})
	}
	return c.notifier
}

func (c *Config) tradeManager() (*trade.Manager, error) {
	if c.manager != nil {
		return c.manager, nil
	}

	repo, err := c.repoManager()
	if err != nil {
		return nil, err
	}
	var tradePeriodTicker ticker.Ticker
	if c.TradePeriodTick > 0 {
		tradePeriodTicker = ticker.New(c.TradePeriodTick)
	}
	manager, err := trade.NewManager(trade.Config{
		Network:                    c.Network,
		RepoManager:                repo,
		Wallet:                     c.Wallet,
		Broadcaster:                c.broadcaster(),
		ConfidenceNotifier:         c.confidenceNotifier(),
		Messenger:                  c.Messenger,
		DaoParams:                  c.DaoParams,
		MaxUnconfirmedTxs:          c.MaxUnconfirmedTxs,
		MinRefundAtMediatedDispute: c.MinRefundAtMediatedDispute,
		AllowFaultyDelayedTxs:      c.AllowFaultyDelayedTxs,
		UseSavingsWallet:           c.UseSavingsWallet,
		LockTimeDelay:              c.LockTimeDelay,
		ReplyTimeout:               c.ReplyTimeout,
		OfferAvailabilityTimeout:   c.OfferAvailabilityTimeout,
		TradePeriodTicker:          tradePeriodTicker,
	})
	if err != nil {
		return nil, err
	}
	c.manager = manager
	return c.manager, nil
}
