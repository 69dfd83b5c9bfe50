package httpinterface_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/webhook"
	httpinterface "github.com/tdex-network/tdex-escrow/internal/interfaces/http"
)

type mockTradeService struct {
	mock.Mock
}

func (m *mockTradeService) CreateOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccountPayload,
) (string, error) {
	args := m.Called(ctx, offer, account)
	return args.String(0), args.Error(1)
}

func (m *mockTradeService) CancelOffer(ctx context.Context, offerID string) error {
	return m.Called(ctx, offerID).Error(0)
}

func (m *mockTradeService) TakeOffer(
	ctx context.Context, a trade.TakeOfferArgs,
) (*domain.Trade, error) {
	args := m.Called(ctx, a)
	var t *domain.Trade
	if v := args.Get(0); v != nil {
		t = v.(*domain.Trade)
	}
	return t, args.Error(1)
}

func (m *mockTradeService) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	args := m.Called(ctx, tradeID)
	var t *domain.Trade
	if v := args.Get(0); v != nil {
		t = v.(*domain.Trade)
	}
	return t, args.Error(1)
}

func (m *mockTradeService) GetTrades(
	ctx context.Context, c domain.Collection,
) ([]*domain.Trade, error) {
	args := m.Called(ctx, c)
	var trades []*domain.Trade
	if v := args.Get(0); v != nil {
		trades = v.([]*domain.Trade)
	}
	return trades, args.Error(1)
}

func (m *mockTradeService) OnFiatPaymentStarted(
	ctx context.Context, tradeID, counterCurrencyTxID, extraData string,
) error {
	return m.Called(ctx, tradeID, counterCurrencyTxID, extraData).Error(0)
}

func (m *mockTradeService) OnFiatPaymentReceived(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) RequestWithdraw(
	ctx context.Context, tradeID, toAddress string,
) (string, error) {
	args := m.Called(ctx, tradeID, toAddress)
	return args.String(0), args.Error(1)
}

func (m *mockTradeService) OnRequestCancelTrade(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) OnAcceptCancelRequest(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) OnRejectCancelRequest(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) OpenMediation(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) AcceptMediationResult(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) RejectMediationResult(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) OpenRefund(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func (m *mockTradeService) SendChatMessage(ctx context.Context, tradeID, text string) error {
	return m.Called(ctx, tradeID, text).Error(0)
}

func (m *mockTradeService) MoveToFailed(ctx context.Context, tradeID, reason string) error {
	return m.Called(ctx, tradeID, reason).Error(0)
}

func (m *mockTradeService) UnfailTrade(ctx context.Context, tradeID string) error {
	return m.Called(ctx, tradeID).Error(0)
}

func do(
	t *testing.T, h http.Handler, method, path, body string,
) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetTrades(t *testing.T) {
	t.Parallel()

	svc := &mockTradeService{}
	svc.On("GetTrades", mock.Anything, domain.CollectionClosed).
		Return([]*domain.Trade{{ID: "t1"}, {ID: "t2"}}, nil)
	svc.On("GetTrades", mock.Anything, domain.CollectionPending).
		Return(nil, nil)
	svc.On("GetTrade", mock.Anything, "t1").Return(&domain.Trade{ID: "t1"}, nil)
	svc.On("GetTrade", mock.Anything, "unknown").Return(nil, domain.ErrTradeNotFound)
	router := httpinterface.NewRouter(svc, nil, false)

	t.Run("by collection", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/trades?collection=closed", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var trades []domain.Trade
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
		require.Len(t, trades, 2)
	})

	t.Run("empty", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/trades", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("unknown collection", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/trades?collection=archived", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("by id", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/trades/t1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var tr domain.Trade
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
		require.Equal(t, "t1", tr.ID)
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/trades/unknown", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTradeActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		path           string
		body           string
		method         string
		args           []interface{}
		err            error
		expectedStatus int
	}{
		{
			name:           "fiat sent",
			path:           "/trades/t1/fiat-sent",
			body:           `{"counterCurrencyTxId": "ref", "extraData": "iban"}`,
			method:         "OnFiatPaymentStarted",
			args:           []interface{}{"t1", "ref", "iban"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "fiat received by buyer",
			path:           "/trades/t1/fiat-received",
			method:         "OnFiatPaymentReceived",
			args:           []interface{}{"t1"},
			err:            domain.ErrTradeInvalidRole,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "request cancel",
			path:           "/trades/t1/cancel",
			method:         "OnRequestCancelTrade",
			args:           []interface{}{"t1"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "accept cancel without request",
			path:           "/trades/t1/cancel/accept",
			method:         "OnAcceptCancelRequest",
			args:           []interface{}{"t1"},
			err:            domain.ErrNoCancellationRequest,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "reject cancel",
			path:           "/trades/t1/cancel/reject",
			method:         "OnRejectCancelRequest",
			args:           []interface{}{"t1"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "open mediation",
			path:           "/trades/t1/mediation",
			method:         "OpenMediation",
			args:           []interface{}{"t1"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "accept mediation",
			path:           "/trades/t1/mediation/accept",
			method:         "AcceptMediationResult",
			args:           []interface{}{"t1"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "reject mediation",
			path:           "/trades/t1/mediation/reject",
			method:         "RejectMediationResult",
			args:           []interface{}{"t1"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "refund before lock time",
			path:           "/trades/t1/refund",
			method:         "OpenRefund",
			args:           []interface{}{"t1"},
			err:            domain.ErrDisputeNotAllowed,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "chat",
			path:           "/trades/t1/chat",
			body:           `{"text": "hello"}`,
			method:         "SendChatMessage",
			args:           []interface{}{"t1", "hello"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "fail",
			path:           "/trades/t1/fail",
			body:           `{"reason": "stuck"}`,
			method:         "MoveToFailed",
			args:           []interface{}{"t1", "stuck"},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "unfail with reused addresses",
			path:           "/trades/t1/unfail",
			method:         "UnfailTrade",
			args:           []interface{}{"t1"},
			err:            trade.ErrAddressesNotAvailable,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "internal error",
			path:           "/trades/t1/unfail",
			method:         "UnfailTrade",
			args:           []interface{}{"t1"},
			err:            fmt.Errorf("db is down"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockTradeService{}
			args := append([]interface{}{mock.Anything}, tt.args...)
			svc.On(tt.method, args...).Return(tt.err)

			rec := do(t, httpinterface.NewRouter(svc, nil, false), http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestWithdraw(t *testing.T) {
	t.Parallel()

	svc := &mockTradeService{}
	svc.On("RequestWithdraw", mock.Anything, "t1", "bcrt1qaddress").Return("txid", nil)
	svc.On("RequestWithdraw", mock.Anything, "t2", "").Return("", domain.ErrTradeNotPending)
	router := httpinterface.NewRouter(svc, nil, false)

	rec := do(t, router, http.MethodPost, "/trades/t1/withdraw", `{"address": "bcrt1qaddress"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"txid": "txid"}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/trades/t2/withdraw", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/trades/t1/withdraw", `{"address":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOffers(t *testing.T) {
	t.Parallel()

	svc := &mockTradeService{}
	svc.On("CreateOffer", mock.Anything, mock.MatchedBy(func(o domain.Offer) bool {
		return o.Amount == 1000 && o.CurrencyCode == "EUR"
	}), mock.Anything).Return("offer-1", nil)
	svc.On("CancelOffer", mock.Anything, "offer-1").Return(nil)
	svc.On("TakeOffer", mock.Anything, mock.MatchedBy(func(a trade.TakeOfferArgs) bool {
		return a.Offer.ID == "offer-2" && a.Amount == 500
	})).Return(nil, trade.ErrTooManyUnconfirmedTxs)
	router := httpinterface.NewRouter(svc, nil, false)

	rec := do(t, router, http.MethodPost, "/offers",
		`{"offer": {"amount": 1000, "currencyCode": "EUR"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"id": "offer-1"}`, rec.Body.String())

	rec = do(t, router, http.MethodDelete, "/offers/offer-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPost, "/trades",
		`{"offer": {"id": "offer-2"}, "amount": 500}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	rec := do(t, httpinterface.NewRouter(&mockTradeService{}, nil, true), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, httpinterface.NewRouter(&mockTradeService{}, nil, false), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhooks(t *testing.T) {
	t.Parallel()

	webhookSvc, err := webhook.NewService(nil, time.Second)
	require.NoError(t, err)
	router := httpinterface.NewRouter(&mockTradeService{}, webhookSvc, false)

	rec := do(t, router, http.MethodPost, "/webhooks",
		`{"action": "TRADE_CLOSED", "endpoint": "http://localhost:8000/hook", "secret": "s3cr3t"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	rec = do(t, router, http.MethodPost, "/webhooks",
		`{"action": "TRADE_SETTLED", "endpoint": "http://localhost:8000/hook"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/webhooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hooks []webhook.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hooks))
	require.Len(t, hooks, 1)
	require.Equal(t, webhook.TradeClosed, hooks[0].ActionType)
	require.Empty(t, hooks[0].Secret)

	rec = do(t, router, http.MethodDelete, "/webhooks/"+created["id"], "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, webhookSvc.ListWebhooks())

	rec = do(t, httpinterface.NewRouter(&mockTradeService{}, nil, false), http.MethodGet, "/webhooks", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
