package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/webhook"
	"github.com/tdex-network/tdex-escrow/internal/interfaces"
)

const shutdownTimeout = 5 * time.Second

// TradeService is the subset of the trade manager exposed over http.
type TradeService interface {
	CreateOffer(
		ctx context.Context, offer domain.Offer,
		account domain.PaymentAccountPayload,
	) (string, error)
	CancelOffer(ctx context.Context, offerID string) error
	TakeOffer(ctx context.Context, args trade.TakeOfferArgs) (*domain.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error)
	GetTrades(ctx context.Context, c domain.Collection) ([]*domain.Trade, error)
	OnFiatPaymentStarted(
		ctx context.Context, tradeID, counterCurrencyTxID, extraData string,
	) error
	OnFiatPaymentReceived(ctx context.Context, tradeID string) error
	RequestWithdraw(ctx context.Context, tradeID, toAddress string) (string, error)
	OnRequestCancelTrade(ctx context.Context, tradeID string) error
	OnAcceptCancelRequest(ctx context.Context, tradeID string) error
	OnRejectCancelRequest(ctx context.Context, tradeID string) error
	OpenMediation(ctx context.Context, tradeID string) error
	AcceptMediationResult(ctx context.Context, tradeID string) error
	RejectMediationResult(ctx context.Context, tradeID string) error
	OpenRefund(ctx context.Context, tradeID string) error
	SendChatMessage(ctx context.Context, tradeID, text string) error
	MoveToFailed(ctx context.Context, tradeID, reason string) error
	UnfailTrade(ctx context.Context, tradeID string) error
}

// WebhookService manages the webhooks notified about trade updates.
type WebhookService interface {
	AddWebhook(action webhook.Action, endpoint, secret string) (string, error)
	RemoveWebhook(id string)
	ListWebhooks() []*webhook.Webhook
}

type ServiceOpts struct {
	Address  string
	TradeSvc TradeService
	// WebhookSvc is optional, webhook routes are mounted only if set.
	WebhookSvc WebhookService
	// NoMetrics disables the /metrics endpoint.
	NoMetrics bool
}

func (o ServiceOpts) validate() error {
	if o.Address == "" {
		return fmt.Errorf("missing listening address")
	}
	if o.TradeSvc == nil {
		return fmt.Errorf("missing trade service")
	}
	return nil
}

type service struct {
	opts     ServiceOpts
	server   *http.Server
	listener net.Listener
}

// NewService returns the http api of the daemon.
func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}
	return &service{
		opts: opts,
		server: &http.Server{
			Handler: NewRouter(
				opts.TradeSvc, opts.WebhookSvc, !opts.NoMetrics,
			),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	s.listener = lis

	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	log.Infof("http server listening on %s", lis.Addr())
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop http server")
	}
	log.Info("http server stopped")
}

// NewRouter returns the routes of the http api.
func NewRouter(
	svc TradeService, webhookSvc WebhookService, withMetrics bool,
) http.Handler {
	h := &handler{svc, webhookSvc}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Route("/offers", func(r chi.Router) {
		r.Post("/", h.createOffer)
		r.Delete("/{id}", h.cancelOffer)
	})
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.listTrades)
		r.Post("/", h.takeOffer)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTrade)
			r.Post("/fiat-sent", h.fiatSent)
			r.Post("/fiat-received", h.fiatReceived)
			r.Post("/withdraw", h.withdraw)
			r.Post("/cancel", h.requestCancel)
			r.Post("/cancel/accept", h.acceptCancel)
			r.Post("/cancel/reject", h.rejectCancel)
			r.Post("/mediation", h.openMediation)
			r.Post("/mediation/accept", h.acceptMediation)
			r.Post("/mediation/reject", h.rejectMediation)
			r.Post("/refund", h.openRefund)
			r.Post("/chat", h.sendChat)
			r.Post("/fail", h.fail)
			r.Post("/unfail", h.unfail)
		})
	})
	if webhookSvc != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.listWebhooks)
			r.Post("/", h.addWebhook)
			r.Delete("/{id}", h.removeWebhook)
		})
	}
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"reqId":    chimw.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
