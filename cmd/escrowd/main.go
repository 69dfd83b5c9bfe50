package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/config"
	"github.com/tdex-network/tdex-escrow/internal/core/application"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/dao/static"
	wsmessenger "github.com/tdex-network/tdex-escrow/internal/infrastructure/messenger/websocket"
	dbpg "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/pg"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/wallet/rpcwallet"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/webhook"
	httpinterface "github.com/tdex-network/tdex-escrow/internal/interfaces/http"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "escrowd.log"

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	initLogger()

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGTERM, syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithError(err).Fatal("daemon stopped with error")
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context) error {
	net := config.GetNetwork()

	wallet, err := rpcwallet.NewWallet(rpcwallet.Config{
		Host:            config.GetString(config.RPCWalletHostKey),
		User:            config.GetString(config.RPCWalletUserKey),
		Pass:            config.GetString(config.RPCWalletPassKey),
		WalletName:      config.GetString(config.RPCWalletNameKey),
		Network:         net,
		FallbackFeeRate: config.GetInt64(config.FallbackFeeRateKey),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to wallet: %w", err)
	}
	defer wallet.Close()

	heights, ok := wallet.(static.HeightSource)
	if !ok {
		return fmt.Errorf("wallet can't provide chain height")
	}
	dao, err := static.NewDaoParams(static.Config{
		DonationAddress:        config.GetString(config.DonationAddressKey),
		DefaultDonationAddress: config.GetString(config.DefaultDonationAddressKey),
		GenesisHeight:          int32(config.GetInt(config.GenesisHeightKey)),
		UseReceivers:           config.GetBool(config.UseReceiversKey),
		ClaimsFile:             config.GetString(config.ClaimsFileKey),
		Heights:                heights,
	})
	if err != nil {
		return fmt.Errorf("invalid dao params: %w", err)
	}

	messenger, err := wsmessenger.NewMessenger(wsmessenger.Config{
		ListenAddress:  fmt.Sprintf(":%d", config.GetInt(config.PeerListeningPortKey)),
		PublicAddress:  config.GetString(config.PeerPublicAddressKey),
		MaxMailboxSize: config.GetInt(config.MailboxSizeKey),
		MailboxTTL:     config.GetDuration(config.MailboxTTLKey),
	})
	if err != nil {
		return fmt.Errorf("invalid messenger config: %w", err)
	}

	appConfig := &application.Config{
		Network:                    net,
		DBType:                     config.GetString(config.DBTypeKey),
		DBConfig:                   dbConfig(),
		Wallet:                     wallet,
		Messenger:                  messenger,
		DaoParams:                  dao,
		BroadcastTimeout:           config.GetDuration(config.BroadcastTimeoutKey),
		ConfidencePollInterval:     config.GetDuration(config.ConfidencePollIntervalKey),
		ConfidenceRateLimit:        config.GetInt(config.ConfidenceRateLimitKey),
		TradePeriodTick:            config.GetDuration(config.TradePeriodTickKey),
		ReplyTimeout:               config.GetDuration(config.ReplyTimeoutKey),
		OfferAvailabilityTimeout:   config.GetDuration(config.OfferAvailabilityTimeoutKey),
		MaxUnconfirmedTxs:          config.GetInt(config.MaxUnconfirmedTxsKey),
		MinRefundAtMediatedDispute: config.GetInt64(config.MinRefundAtMediatedDisputeKey),
		LockTimeDelay:              uint32(config.GetInt(config.LockTimeDelayKey)),
		AllowFaultyDelayedTxs:      config.GetBool(config.AllowFaultyDelayedTxsKey),
		UseSavingsWallet:           config.GetBool(config.UseSavingsWalletKey),
	}
	if err := appConfig.Validate(); err != nil {
		return err
	}
	repo := appConfig.RepoManager()
	defer repo.Close()
	manager := appConfig.TradeManager()

	if appConfig.AllowFaultyDelayedTxs {
		log.Error(
			"delayed payout txs of counterparties are accepted without " +
				"checking their amounts, do not use in production",
		)
	}

	// The handler is registered by the manager, so it must be in place
	// before peers can reach us.
	events := manager.Observe()
	hookEvents := manager.Observe()
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trade manager: %w", err)
	}
	defer manager.Stop()

	if err := messenger.Start(); err != nil {
		return fmt.Errorf("failed to start messenger: %w", err)
	}
	defer messenger.Stop()
	log.Infof("peers can reach this node at %s", messenger.Address())

	webhookSvc, err := webhook.NewService(
		config.GetStringSlice(config.WebhooksKey),
		config.GetDuration(config.WebhookTimeoutKey),
	)
	if err != nil {
		return err
	}

	httpSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:    fmt.Sprintf(":%d", config.GetInt(config.HTTPListeningPortKey)),
		TradeSvc:   manager,
		WebhookSvc: webhookSvc,
		NoMetrics:  config.GetBool(config.NoMetricsKey),
	})
	if err != nil {
		return err
	}
	if err := httpSvc.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	defer httpSvc.Stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logEvents(egCtx, events)
		return nil
	})
	eg.Go(func() error {
		webhookSvc.Run(egCtx, hookEvents)
		return nil
	})

	log.Info("escrow daemon started")
	<-ctx.Done()
	log.Info("shutting down daemon")
	return eg.Wait()
}

func logEvents(ctx context.Context, events <-chan trade.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry := log.WithFields(log.Fields{
				"trade":      e.TradeID,
				"state":      e.State,
				"phase":      e.Phase,
				"dispute":    e.DisputeState,
				"collection": e.Collection,
			})
			if e.ErrorMessage != "" {
				entry.Warnf("trade updated with error: %s", e.ErrorMessage)
				continue
			}
			entry.Info("trade updated")
		}
	}
}

func dbConfig() interface{} {
	switch config.GetString(config.DBTypeKey) {
	case application.DBPostgres:
		return dbpg.DbConfig{
			DataSourceURL: config.GetString(config.PgDatasourceKey),
			MaxConns:      int32(config.GetInt(config.PgMaxConnsKey)),
		}
	case application.DBBadger:
		return filepath.Join(config.GetDatadir(), config.DbLocation)
	default:
		return nil
	}
}

func initLogger() {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if !config.GetBool(config.LogFileKey) {
		return
	}
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(config.GetDatadir(), config.LogLocation, logFileName),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
}
