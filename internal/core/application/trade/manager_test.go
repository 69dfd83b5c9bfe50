package trade_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	tradeAmount = int64(1_000_000)
	deposit     = int64(500_000)
	txFee       = int64(5_000)
)

func newSellOffer() domain.Offer {
	return domain.Offer{
		Direction:             domain.Sell,
		Price:                 decimal.RequireFromString("30000"),
		Amount:                tradeAmount,
		MinAmount:             tradeAmount / 2,
		CurrencyCode:          "EUR",
		PaymentMethodID:       "SEPA",
		BuyerSecurityDeposit:  deposit,
		SellerSecurityDeposit: deposit,
		MakerFee:              1_000,
		MakerFeeTxID:          "makerfeetxid",
	}
}

// setup returns a maker selling with a published offer and a buyer ready to
// take it.
func setup(t *testing.T, net *network) (*node, *node, domain.Offer) {
	t.Helper()
	ctx := context.Background()
	maker := newNode(t, net, makerAddress, 10)
	taker := newNode(t, net, takerAddress, 40)
	net.newMessenger(mediatorAddress)

	offerID, err := maker.CreateOffer(ctx, newSellOffer(), domain.PaymentAccountPayload{
		AccountID:  "maker-account",
		HolderName: "Alice",
	})
	require.NoError(t, err)
	openOffer, err := maker.repo.OfferRepository().GetOffer(ctx, offerID)
	require.NoError(t, err)
	return maker, taker, openOffer.Offer
}

func takeOffer(
	t *testing.T, taker *node, offer domain.Offer,
) (*domain.Trade, error) {
	return taker.TakeOffer(context.Background(), trade.TakeOfferArgs{
		Offer:        offer,
		Amount:       tradeAmount,
		TxFee:        txFee,
		TakerFee:     1_000,
		TakerFeeTxID: "takerfeetxid",
		PaymentAccount: domain.PaymentAccountPayload{
			AccountID:  "taker-account",
			HolderName: "Bob",
		},
		MediatorAddress:    mediatorAddress,
		RefundAgentAddress: refundAddress,
	})
}

// lockFunds takes the offer and waits for both traders to see the deposit
// tx confirmed.
func lockFunds(t *testing.T, maker, taker *node, offer domain.Offer) string {
	t.Helper()
	tr, err := takeOffer(t, taker, offer)
	require.NoError(t, err)
	require.Equal(t, offer.ID, tr.ID)

	publishDeposit(t, maker, taker, tr.ID)
	confirmDeposit(t, maker, taker, tr.ID)
	return tr.ID
}

func publishDeposit(t *testing.T, maker, taker *node, tradeID string) string {
	t.Helper()
	tr := taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.DepositTxID != ""
	})
	txid := tr.DepositTxID
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.DepositTxID == txid
	})
	return txid
}

func confirmDeposit(t *testing.T, maker, taker *node, tradeID string) {
	t.Helper()
	txid := taker.trade(t, tradeID).DepositTxID
	for _, n := range []*node{maker, taker} {
		require.Eventually(t, func() bool {
			return n.notifier.isWatching(txid)
		}, waitFor, tick)
		n.notifier.confirm(txid)
		n.waitTrade(t, tradeID, func(t *domain.Trade) bool {
			return t.Phase() >= domain.PhaseDepositConfirmed
		})
	}
}

func TestTradeHappyPath(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	maker, taker, offer := setup(t, net)
	tradeID := lockFunds(t, maker, taker, offer)

	makerTrade := maker.trade(t, tradeID)
	takerTrade := taker.trade(t, tradeID)
	require.True(t, makerTrade.Role.IsSeller())
	require.True(t, takerTrade.Role.IsBuyer())
	require.Equal(t, takerTrade.DepositTxID, makerTrade.DepositTxID)
	require.NotEmpty(t, makerTrade.DelayedPayoutTxID)
	require.Equal(t, takerTrade.DelayedPayoutTxID, makerTrade.DelayedPayoutTxID)
	require.Equal(t, []string{takerTrade.DepositTxID}, taker.broadcaster.published())

	openOffer, err := maker.repo.OfferRepository().GetOffer(ctx, offer.ID)
	require.NoError(t, err)
	require.False(t, openOffer.IsAvailable())

	err = taker.OnFiatPaymentStarted(ctx, tradeID, "sepa-ref", "")
	require.NoError(t, err)
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.State >= domain.StateSellerReceivedFiatPaymentInitiatedMsg
	})

	err = maker.OnFiatPaymentReceived(ctx, tradeID)
	require.NoError(t, err)
	payoutTxID := maker.trade(t, tradeID).PayoutTxID
	require.NotEmpty(t, payoutTxID)
	require.Contains(t, maker.broadcaster.published(), payoutTxID)

	taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.PayoutTxID == payoutTxID &&
			t.State >= domain.StateBuyerReceivedPayoutTxPublishedMsg
	})

	for _, n := range []*node{maker, taker} {
		_, err := n.RequestWithdraw(ctx, tradeID, "")
		require.NoError(t, err)
		tr := n.trade(t, tradeID)
		require.Equal(t, domain.CollectionClosed, tr.Collection)
		require.Equal(t, domain.StateWithdrawCompleted, tr.State)
	}

	_, err = taker.RequestWithdraw(ctx, tradeID, "")
	require.ErrorIs(t, err, domain.ErrTradeNotPending)
}

func TestFiatPaymentStartedResend(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	maker, taker, offer := setup(t, net)
	tradeID := lockFunds(t, maker, taker, offer)

	net.setFailing(trade.MsgCounterCurrencyTransferStarted, true)
	err := taker.OnFiatPaymentStarted(ctx, tradeID, "sepa-ref", "note")
	require.NoError(t, err)
	failed := taker.trade(t, tradeID)
	require.Equal(t, domain.StateBuyerSendFailedFiatPaymentInitiatedMsg, failed.State)
	require.NotEmpty(t, failed.ProcessModel.PayoutSignature)
	require.Empty(t, maker.messenger.receivedOfType(trade.MsgCounterCurrencyTransferStarted))

	net.setFailing(trade.MsgCounterCurrencyTransferStarted, false)
	err = taker.OnFiatPaymentStarted(ctx, tradeID, "", "")
	require.NoError(t, err)

	sent := taker.trade(t, tradeID)
	require.Equal(t, domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg, sent.State)
	require.Equal(t, failed.ProcessModel.PayoutSignature, sent.ProcessModel.PayoutSignature)
	require.Equal(t, "sepa-ref", sent.CounterCurrencyTxID)
	require.Equal(t, "note", sent.CounterCurrencyExtraData)

	received := maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.State >= domain.StateSellerReceivedFiatPaymentInitiatedMsg
	})
	require.Equal(t, "sepa-ref", received.CounterCurrencyTxID)

	err = taker.OnFiatPaymentStarted(ctx, tradeID, "", "")
	require.ErrorIs(t, err, domain.ErrTradeInvalidState)
}

func TestTradeDuplicateMessages(t *testing.T) {
	net := newNetwork()
	net.duplicate = true
	maker, taker, offer := setup(t, net)
	tradeID := lockFunds(t, maker, taker, offer)

	ctx := context.Background()
	require.NoError(t, taker.OnFiatPaymentStarted(ctx, tradeID, "sepa-ref", ""))
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.State >= domain.StateSellerReceivedFiatPaymentInitiatedMsg
	})

	// Every message got delivered twice but the deposit went out only once.
	require.Len(t, taker.broadcaster.published(), 1)
	require.Len(t, maker.broadcaster.published(), 0)
	require.Eventually(t, func() bool {
		return len(maker.messenger.receivedOfType(trade.MsgDepositTxPublished)) >= 2
	}, waitFor, tick)
	require.Len(t, taker.broadcaster.published(), 1)
}

func TestTakeOfferAdmission(t *testing.T) {
	t.Run("too many unconfirmed txs", func(t *testing.T) {
		net := newNetwork()
		_, taker, offer := setup(t, net)
		taker.wallet.setUnconfirmed(trade.DefaultMaxUnconfirmedTxs + 1)

		_, err := takeOffer(t, taker, offer)
		require.ErrorIs(t, err, trade.ErrTooManyUnconfirmedTxs)
		require.Empty(t, taker.messenger.receivedOfType(trade.MsgOfferAvailabilityResponse))
	})

	t.Run("maker with too many unconfirmed txs", func(t *testing.T) {
		net := newNetwork()
		maker, taker, offer := setup(t, net)
		maker.wallet.setUnconfirmed(trade.DefaultMaxUnconfirmedTxs + 1)

		_, err := takeOffer(t, taker, offer)
		require.ErrorIs(t, err, trade.ErrOfferUnavailable)
	})

	t.Run("canceled offer", func(t *testing.T) {
		net := newNetwork()
		maker, taker, offer := setup(t, net)
		require.NoError(t, maker.CancelOffer(context.Background(), offer.ID))

		_, err := takeOffer(t, taker, offer)
		require.ErrorIs(t, err, trade.ErrOfferUnavailable)
	})

	t.Run("offer taken twice", func(t *testing.T) {
		net := newNetwork()
		maker, taker, offer := setup(t, net)
		_, err := takeOffer(t, taker, offer)
		require.NoError(t, err)
		publishDeposit(t, maker, taker, offer.ID)

		_, err = takeOffer(t, taker, offer)
		require.ErrorIs(t, err, domain.ErrTradeAlreadyExists)
	})
}

func TestTradeBuffersEarlyMessages(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	net.hold(trade.MsgDepositTxPublished)
	maker, taker, offer := setup(t, net)

	tr, err := takeOffer(t, taker, offer)
	require.NoError(t, err)
	tradeID := tr.ID

	tr = taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.DepositTxID != ""
	})
	require.Eventually(t, func() bool {
		return taker.notifier.isWatching(tr.DepositTxID)
	}, waitFor, tick)
	taker.notifier.confirm(tr.DepositTxID)
	taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.Phase() >= domain.PhaseDepositConfirmed
	})

	// The maker doesn't know about the deposit yet, so the fiat payment
	// message waits until the deposit tx published message shows up.
	require.NoError(t, taker.OnFiatPaymentStarted(ctx, tradeID, "sepa-ref", ""))
	require.Eventually(t, func() bool {
		return len(maker.messenger.receivedOfType(trade.MsgCounterCurrencyTransferStarted)) > 0
	}, waitFor, tick)
	require.Empty(t, maker.trade(t, tradeID).DepositTxID)

	net.release(trade.MsgDepositTxPublished)
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.State >= domain.StateSellerReceivedFiatPaymentInitiatedMsg
	})
	require.NotEmpty(t, maker.trade(t, tradeID).ProcessModel.PayoutSignature)
}

func TestTradeCancellation(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	maker, taker, offer := setup(t, net)
	tradeID := lockFunds(t, maker, taker, offer)

	require.NoError(t, taker.OnRequestCancelTrade(ctx, tradeID))
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.CancellationState == domain.CancellationReceivedCancelRequest
	})

	require.NoError(t, maker.OnAcceptCancelRequest(ctx, tradeID))
	payoutTxID := maker.trade(t, tradeID).PayoutTxID
	require.NotEmpty(t, payoutTxID)
	require.Contains(t, maker.broadcaster.published(), payoutTxID)

	tr := taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.CancellationState == domain.CancellationReceivedAcceptedMsg
	})
	require.Equal(t, payoutTxID, tr.PayoutTxID)
	require.NotNil(t, tr.Cancellation)
	// The requester gets back the minimum refund, the rest goes to the seller.
	require.Equal(t, domain.DefaultMinRefundAtMediatedDispute, tr.Cancellation.Split.BuyerAmount)
	require.Equal(
		t, tradeAmount+2*deposit-domain.DefaultMinRefundAtMediatedDispute,
		tr.Cancellation.Split.SellerAmount,
	)

	err := maker.OnAcceptCancelRequest(ctx, tradeID)
	require.Error(t, err)
}

func TestTradeMediation(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	maker, taker, offer := setup(t, net)
	tradeID := lockFunds(t, maker, taker, offer)
	mediator := net.nodes[mediatorAddress]

	require.NoError(t, taker.OpenMediation(ctx, tradeID))
	require.ErrorIs(t, taker.OpenMediation(ctx, tradeID), domain.ErrDisputeAlreadyOpen)
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.DisputeState == domain.DisputeStateMediationStartedByPeer
	})
	require.Eventually(t, func() bool {
		return len(mediator.receivedOfType(trade.MsgDisputeOpened)) > 0
	}, waitFor, tick)

	t.Run("invalid split", func(t *testing.T) {
		mediator.sendAs(t, takerAddress, tradeID, trade.MsgMediationResult,
			trade.MediationResultMessage{BuyerAmount: 1, SellerAmount: 1})
		require.Never(t, func() bool {
			return taker.trade(t, tradeID).Mediation != nil
		}, 200*time.Millisecond, tick)
	})

	result := trade.MediationResultMessage{
		BuyerAmount:  1_500_000,
		SellerAmount: tradeAmount + 2*deposit - 1_500_000,
	}
	for _, addr := range []string{makerAddress, takerAddress} {
		mediator.sendAs(t, addr, tradeID, trade.MsgMediationResult, result)
	}
	for _, n := range []*node{maker, taker} {
		n.waitTrade(t, tradeID, func(t *domain.Trade) bool {
			return t.DisputeState == domain.DisputeStateMediationClosed
		})
	}

	require.NoError(t, taker.AcceptMediationResult(ctx, tradeID))
	maker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.MediationResultState == domain.MediationReceivedSigMsg
	})

	require.NoError(t, maker.AcceptMediationResult(ctx, tradeID))
	payoutTxID := maker.trade(t, tradeID).PayoutTxID
	require.NotEmpty(t, payoutTxID)
	require.Contains(t, maker.broadcaster.published(), payoutTxID)

	taker.waitTrade(t, tradeID, func(t *domain.Trade) bool {
		return t.PayoutTxID == payoutTxID
	})
}

func TestMoveToFailed(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	maker, taker, offer := setup(t, net)
	net.hold(trade.MsgInputsForDepositTxResponse)

	tr, err := takeOffer(t, taker, offer)
	require.NoError(t, err)
	maker.waitTrade(t, tr.ID, func(*domain.Trade) bool { return true })

	require.NoError(t, maker.MoveToFailed(ctx, tr.ID, "test"))
	failed := maker.trade(t, tr.ID)
	require.Equal(t, domain.CollectionFailed, failed.Collection)

	// No deposit got out, so the offer can be taken again.
	openOffer, err := maker.repo.OfferRepository().GetOffer(ctx, offer.ID)
	require.NoError(t, err)
	require.True(t, openOffer.IsAvailable())

	require.NoError(t, maker.UnfailTrade(ctx, tr.ID))
	require.Equal(t, domain.CollectionPending, maker.trade(t, tr.ID).Collection)
}
