package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"golang.org/x/sync/errgroup"
)

const defaultRequestTimeout = 10 * time.Second

// Service forwards the trade events to the registered webhooks.
type Service interface {
	AddWebhook(action Action, endpoint, secret string) (string, error)
	RemoveWebhook(id string)
	ListWebhooks() []*Webhook
	Publish(ctx context.Context, event trade.Event) error
	// Run publishes the events received from the channel until it's closed
	// or the context is canceled.
	Run(ctx context.Context, events <-chan trade.Event)
}

// Payload is the body of the webhook requests.
type Payload struct {
	Action       string `json:"action"`
	TradeID      string `json:"tradeId"`
	State        string `json:"state"`
	Phase        string `json:"phase"`
	DisputeState string `json:"disputeState"`
	Collection   string `json:"collection"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

type service struct {
	store      *store
	httpClient *client
	cb         *gobreaker.CircuitBreaker
}

// NewService returns a webhook service with the given hooks, each in the
// ACTION@ENDPOINT[#SECRET] format.
func NewService(hooks []string, requestTimeout time.Duration) (Service, error) {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	svc := &service{
		store:      newStore(),
		httpClient: newHTTPClient(requestTimeout),
		cb:         newCircuitBreaker(),
	}
	for _, h := range hooks {
		hook, err := ParseWebhook(h)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook %s: %w", h, err)
		}
		svc.store.add(hook)
	}
	return svc, nil
}

func (ws *service) AddWebhook(action Action, endpoint, secret string) (string, error) {
	hook, err := NewWebhook(action, endpoint, secret)
	if err != nil {
		return "", err
	}
	ws.store.add(hook)
	return hook.ID, nil
}

func (ws *service) RemoveWebhook(id string) {
	ws.store.remove(id)
}

func (ws *service) ListWebhooks() []*Webhook {
	hooks := ws.store.list()
	redacted := make([]*Webhook, 0, len(hooks))
	for _, h := range hooks {
		redacted = append(redacted, h.redacted())
	}
	return redacted
}

func (ws *service) Run(ctx context.Context, events <-chan trade.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := ws.Publish(ctx, e); err != nil {
				log.WithError(err).Warnf(
					"failed to notify webhooks about trade %s", e.TradeID,
				)
			}
		}
	}
}

// Publish makes a POST request to every webhook endpoint registered for the
// actions matching the event.
// This method adopts a circuit breaker approach in order to maximize the
// chances that every webhook gets invoked without errors.
func (ws *service) Publish(ctx context.Context, event trade.Event) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, action := range actionsForEvent(event) {
		payload, err := json.Marshal(Payload{
			Action:       action.String(),
			TradeID:      event.TradeID,
			State:        event.State.String(),
			Phase:        event.Phase.String(),
			DisputeState: event.DisputeState.String(),
			Collection:   event.Collection.String(),
			ErrorMessage: event.ErrorMessage,
			Timestamp:    time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		for _, hook := range ws.hooksForAction(action) {
			hook := hook
			eg.Go(func() error {
				return ws.doRequest(egCtx, hook, event.TradeID, string(payload))
			})
		}
	}
	return eg.Wait()
}

func (ws *service) hooksForAction(action Action) []*Webhook {
	hooks := ws.store.listForAction(action)
	// Hooks for all actions are notified once per event, with the
	// TRADE_UPDATED payload.
	if action == TradeUpdated {
		hooks = append(hooks, ws.store.listForAction(AllActions)...)
	}
	return hooks
}

func (ws *service) doRequest(
	ctx context.Context, hook *Webhook, tradeID, payload string,
) error {
	_, err := ws.cb.Execute(func() (interface{}, error) {
		headers := map[string]string{
			"Content-Type": "application/json",
		}
		if hook.IsSecured() {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
				Subject:  tradeID,
				IssuedAt: time.Now().Unix(),
			})
			tokenString, err := token.SignedString([]byte(hook.Secret))
			if err != nil {
				return nil, err
			}
			headers["Authorization"] = fmt.Sprintf("Bearer %s", tokenString)
		}

		status, resp, err := ws.httpClient.post(ctx, hook.Endpoint, payload, headers)
		if err != nil {
			return nil, err
		}
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("webhook %s replied %d: %s", hook.ID, status, resp)
		}
		return nil, nil
	})

	return err
}

// actionsForEvent returns TRADE_UPDATED for every event, plus the action
// matching the trade collection or its open dispute, if any.
func actionsForEvent(e trade.Event) []Action {
	actions := []Action{TradeUpdated}
	switch {
	case e.Collection == domain.CollectionClosed:
		actions = append(actions, TradeClosed)
	case e.Collection == domain.CollectionFailed:
		actions = append(actions, TradeFailed)
	case e.DisputeState.IsOpen():
		actions = append(actions, DisputeOpened)
	}
	return actions
}

func newCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "webhook",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests > 20 && failureRatio >= 0.7
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("webhook endpoints seem down, stop allowing requests")
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				log.Info("checking webhook endpoints status")
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				log.Info("webhook endpoints seem ok, restart allowing requests")
			}
		},
	})
}
