package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/webhook"
)

const secret = "s3cr3t"

type request struct {
	path    string
	auth    string
	payload webhook.Payload
}

type testServer struct {
	*httptest.Server
	lock     sync.Mutex
	requests []request
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload webhook.Payload
		require.NoError(t, json.Unmarshal(body, &payload))

		s.lock.Lock()
		s.requests = append(s.requests, request{
			r.URL.Path, r.Header.Get("Authorization"), payload,
		})
		s.lock.Unlock()

		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) requestsTo(path string) []request {
	s.lock.Lock()
	defer s.lock.Unlock()

	reqs := make([]request, 0)
	for _, r := range s.requests {
		if r.path == path {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		str         string
		expectedErr error
	}{
		{"TRADE_CLOSED@http://localhost:8000/closed", nil},
		{"*@https://example.com/hook#secret", nil},
		{"http://localhost:8000/closed", webhook.ErrInvalidWebhookConfig},
		{"TRADE_SETTLED@http://localhost:8000", webhook.ErrUnknownAction},
		{"TRADE_FAILED@localhost", webhook.ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.str, func(t *testing.T) {
			t.Parallel()

			hook, err := webhook.ParseWebhook(tt.str)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, hook.ID)
		})
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	svc, err := webhook.NewService([]string{
		"TRADE_CLOSED@" + server.URL + "/closed#" + secret,
		"*@" + server.URL + "/all",
	}, time.Second)
	require.NoError(t, err)

	failedID, err := svc.AddWebhook(webhook.TradeFailed, server.URL+"/failed", "")
	require.NoError(t, err)
	require.Len(t, svc.ListWebhooks(), 3)
	for _, h := range svc.ListWebhooks() {
		require.Empty(t, h.Secret)
	}

	ctx := context.Background()
	require.NoError(t, svc.Publish(ctx, trade.Event{
		TradeID:    "t1",
		State:      domain.StateSellerSawArrivedPayoutTxPublishedMsg,
		Collection: domain.CollectionPending,
	}))
	require.NoError(t, svc.Publish(ctx, trade.Event{
		TradeID:    "t1",
		State:      domain.StateSellerSawArrivedPayoutTxPublishedMsg,
		Collection: domain.CollectionClosed,
	}))

	require.Len(t, server.requestsTo("/all"), 2)
	require.Empty(t, server.requestsTo("/failed"))

	closed := server.requestsTo("/closed")
	require.Len(t, closed, 1)
	require.Equal(t, "TRADE_CLOSED", closed[0].payload.Action)
	require.Equal(t, "t1", closed[0].payload.TradeID)
	require.Equal(t, "closed", closed[0].payload.Collection)

	tokenStr := strings.TrimPrefix(closed[0].auth, "Bearer ")
	claims := &jwt.StandardClaims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.Equal(t, "t1", claims.Subject)

	svc.RemoveWebhook(failedID)
	require.Len(t, svc.ListWebhooks(), 2)
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	svc, err := webhook.NewService([]string{"*@" + server.URL + "/broken"}, time.Second)
	require.NoError(t, err)

	err = svc.Publish(context.Background(), trade.Event{TradeID: "t1"})
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	svc, err := webhook.NewService([]string{"DISPUTE_OPENED@" + server.URL + "/dispute"}, time.Second)
	require.NoError(t, err)

	events := make(chan trade.Event, 2)
	done := make(chan struct{})
	go func() {
		svc.Run(context.Background(), events)
		close(done)
	}()

	events <- trade.Event{TradeID: "t1", DisputeState: domain.DisputeStateMediationRequested}
	events <- trade.Event{TradeID: "t2"}
	close(events)
	<-done

	reqs := server.requestsTo("/dispute")
	require.Len(t, reqs, 1)
	require.Equal(t, "MEDIATION_REQUESTED", reqs[0].payload.DisputeState)
}
