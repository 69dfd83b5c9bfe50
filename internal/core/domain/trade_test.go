package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

var allStates = func() []domain.State {
	list := make([]domain.State, 0)
	for s := domain.StatePreparation; s <= domain.StateWithdrawCompleted; s++ {
		list = append(list, s)
	}
	return list
}()

func newTestOffer() domain.Offer {
	return domain.Offer{
		ID:                    "abcdefgh-" + "1111",
		Direction:             domain.Buy,
		Price:                 decimal.RequireFromString("30000"),
		Amount:                1_000_000,
		MinAmount:             500_000,
		CurrencyCode:          "EUR",
		PaymentMethodID:       "SEPA",
		BuyerSecurityDeposit:  150_000,
		SellerSecurityDeposit: 150_000,
		MaxTradePeriod:        8 * 24 * time.Hour,
	}
}

func newTestTrade(t *testing.T) *domain.Trade {
	trade, err := domain.NewTrade(
		newTestOffer(), domain.BuyerAsMaker, 1_000_000, 5_000, 2_000, "peer",
	)
	require.NoError(t, err)
	return trade
}

func TestStatePhases(t *testing.T) {
	for _, s := range allStates {
		require.NotEqual(t, "UNKNOWN", s.String())
	}
	require.Equal(t, domain.PhaseInit, domain.StatePreparation.Phase())
	require.Equal(t, domain.PhaseDepositConfirmed, domain.StateDepositConfirmedInBlockChain.Phase())
	require.Equal(t, domain.PhaseWithdrawn, domain.StateWithdrawCompleted.Phase())
}

func TestPhaseMonotonicity(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			valid := from.IsValidTransitionTo(to)
			require.Equal(t, to.Phase() >= from.Phase(), valid, "%s -> %s", from, to)
		}
	}
}

func TestSetStateIfValidTransitionTo(t *testing.T) {
	trade := newTestTrade(t)

	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateDepositConfirmedInBlockChain))
	require.Equal(t, domain.StateDepositConfirmedInBlockChain, trade.State)

	// Backward phase is rejected.
	require.False(t, trade.SetStateIfValidTransitionTo(domain.StateSellerPublishedDepositTx))
	require.Equal(t, domain.StateDepositConfirmedInBlockChain, trade.State)

	// Same phase detail states are accepted.
	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerSentFiatPaymentInitiatedMsg))
	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerStoredInMailboxFiatPaymentInitiatedMsg))
	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg))

	// The unguarded setter forces it.
	trade.SetState(domain.StateSellerPublishedDepositTx)
	require.Equal(t, domain.StateSellerPublishedDepositTx, trade.State)
}

func TestTradeRoundTrip(t *testing.T) {
	trade := newTestTrade(t)
	trade.SetState(domain.StateBuyerReceivedDepositTxPublishedMsg)
	trade.SetDisputeState(domain.DisputeStateMediationRequested)
	trade.DepositTxID = "deposit"
	trade.PayoutTxID = "payout"
	trade.TakerFeeTxID = "fee"
	trade.DelayedPayoutTx = []byte{0x01, 0x02}
	trade.LockTime = 700
	trade.Contract = &domain.Contract{
		Offer:       trade.Offer,
		TradeAmount: trade.Amount,
		TradePrice:  trade.Price,
		LockTime:    700,
	}
	hash, err := trade.Contract.Hash()
	require.NoError(t, err)
	trade.ContractHash = hash

	buf, err := json.Marshal(trade)
	require.NoError(t, err)
	restored := &domain.Trade{}
	require.NoError(t, json.Unmarshal(buf, restored))

	require.Equal(t, trade.State, restored.State)
	require.Equal(t, trade.DisputeState, restored.DisputeState)
	require.Equal(t, trade.DepositTxID, restored.DepositTxID)
	require.Equal(t, trade.PayoutTxID, restored.PayoutTxID)
	require.Equal(t, trade.TakerFeeTxID, restored.TakerFeeTxID)
	require.Equal(t, trade.DelayedPayoutTx, restored.DelayedPayoutTx)
	require.Equal(t, trade.ContractHash, restored.ContractHash)

	restoredHash, err := restored.Contract.Hash()
	require.NoError(t, err)
	require.Equal(t, hash, restoredHash)
}

func TestIsFundsLockedIn(t *testing.T) {
	tests := []struct {
		name      string
		state     domain.State
		dispute   domain.DisputeState
		mediation domain.MediationResultState
		expected  bool
	}{
		{"before deposit", domain.StateTakerPublishedTakerFeeTx, domain.DisputeStateNone, 0, false},
		{"deposit published", domain.StateSellerPublishedDepositTx, domain.DisputeStateNone, 0, true},
		{"fiat sent", domain.StateBuyerSentFiatPaymentInitiatedMsg, domain.DisputeStateNone, 0, true},
		{"payout published", domain.StateSellerPublishedPayoutTx, domain.DisputeStateNone, 0, false},
		{"mediation open", domain.StateDepositConfirmedInBlockChain, domain.DisputeStateMediationRequested, 0, true},
		{
			"mediation closed without payout",
			domain.StateDepositConfirmedInBlockChain, domain.DisputeStateMediationClosed,
			domain.MediationResultRejected, true,
		},
		{
			"mediation closed with payout",
			domain.StateDepositConfirmedInBlockChain, domain.DisputeStateMediationClosed,
			domain.MediationPayoutTxPublished, false,
		},
		{"refund requested", domain.StateDepositConfirmedInBlockChain, domain.DisputeStateRefundRequested, 0, false},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trade := newTestTrade(t)
			trade.SetState(tt.state)
			trade.SetDisputeState(tt.dispute)
			trade.SetMediationResultState(tt.mediation)
			require.Equal(t, tt.expected, trade.IsFundsLockedIn())
		})
	}
}

func TestCancellationPayout(t *testing.T) {
	minRefund := domain.DefaultMinRefundAtMediatedDispute

	split, err := domain.ComputeCancellationPayout(
		domain.Buy, 1_000_000, 500_000, 500_000, minRefund,
	)
	require.NoError(t, err)
	require.Equal(t, minRefund, split.BuyerAmount)
	require.Equal(t, 1_000_000+(1_000_000-minRefund), split.SellerAmount)

	split, err = domain.ComputeCancellationPayout(
		domain.Sell, 1_000_000, 500_000, 500_000, minRefund,
	)
	require.NoError(t, err)
	require.Equal(t, 1_000_000-minRefund, split.BuyerAmount)
	require.Equal(t, 1_000_000+minRefund, split.SellerAmount)

	_, err = domain.ComputeCancellationPayout(domain.Buy, 1_000_000, 100, 100, minRefund)
	require.EqualError(t, err, domain.ErrInvalidMinRefund.Error())
}

func TestRequestCancellation(t *testing.T) {
	trade := newTestTrade(t)

	_, err := trade.RequestCancellation(domain.Buy, 200_000, 0)
	require.EqualError(t, err, domain.ErrCancellationNotAllowed.Error())

	trade.SetState(domain.StateDepositConfirmedInBlockChain)
	trade.SetDisputeState(domain.DisputeStateMediationRequested)
	_, err = trade.RequestCancellation(domain.Buy, 200_000, 0)
	require.EqualError(t, err, domain.ErrDisputeAlreadyOpen.Error())

	trade.SetDisputeState(domain.DisputeStateNone)
	split, err := trade.RequestCancellation(domain.Buy, 200_000, 0)
	require.NoError(t, err)
	require.Equal(t, int64(200_000), split.BuyerAmount)
	require.Equal(t, int64(1_000_000+300_000-200_000), split.SellerAmount)
	require.NotNil(t, trade.Cancellation)
}

func TestUpdateTradePeriod(t *testing.T) {
	trade := newTestTrade(t)
	start := time.Unix(1_700_000_000, 0)

	require.False(t, trade.UpdateTradePeriod(start))

	trade.StartDate = start.Unix()
	period := trade.Offer.TradePeriod()
	require.False(t, trade.UpdateTradePeriod(start.Add(time.Hour)))
	require.True(t, trade.UpdateTradePeriod(start.Add(period/2)))
	require.Equal(t, domain.TradePeriodSecondHalf, trade.TradePeriodState)
	require.True(t, trade.UpdateTradePeriod(start.Add(period)))
	require.Equal(t, domain.TradePeriodOver, trade.TradePeriodState)
	// Never goes back.
	require.False(t, trade.UpdateTradePeriod(start))
	require.Equal(t, domain.TradePeriodOver, trade.TradePeriodState)
}

func TestAppendErrorMessage(t *testing.T) {
	trade := newTestTrade(t)
	trade.AppendErrorMessage("first")
	trade.AppendErrorMessage("Timeout reached")
	require.Equal(t, "first\nTimeout reached", trade.ErrorMessage)
}

func TestTradeAmounts(t *testing.T) {
	trade := newTestTrade(t)

	require.Equal(t, int64(1_305_000), trade.MultisigAmount())
	require.Equal(t, int64(155_000), trade.BuyerInputAmount())
	require.Equal(t, int64(1_155_000), trade.SellerInputAmount())
	require.Equal(t, trade.BuyerInputAmount(), trade.MyInputAmount())
	require.Equal(t, domain.PayoutSplit{BuyerAmount: 1_150_000, SellerAmount: 150_000}, trade.CooperativePayout())
	require.Equal(t, "300", trade.Volume().String())
	require.Equal(t, "abcdefgh", trade.ShortID())
}

func TestContract(t *testing.T) {
	makerKey, _ := btcec.NewPrivateKey()
	takerKey, _ := btcec.NewPrivateKey()
	contract := domain.Contract{
		Offer:               newTestOffer(),
		TradeAmount:         1_000_000,
		TradePrice:          decimal.RequireFromString("30000"),
		MakerPubKey:         makerKey.PubKey().SerializeCompressed(),
		TakerPubKey:         takerKey.PubKey().SerializeCompressed(),
		MakerPaymentAccount: domain.PaymentAccountPayload{PaymentMethodID: "SEPA"},
		TakerPaymentAccount: domain.PaymentAccountPayload{PaymentMethodID: "SEPA_INSTANT"},
	}

	require.NoError(t, contract.CheckPaymentMethods())

	sig, err := contract.Sign(makerKey)
	require.NoError(t, err)
	contract.MakerSignature = sig
	sig, err = contract.Sign(takerKey)
	require.NoError(t, err)
	contract.TakerSignature = sig
	require.NoError(t, contract.VerifySignatures())

	tampered := contract
	tampered.TradeAmount++
	require.False(t, contract.Equal(tampered))
	require.EqualError(
		t, tampered.VerifySignatures(), domain.ErrContractInvalidSignature.Error(),
	)

	tampered = contract
	tampered.TakerPaymentAccount.PaymentMethodID = "REVOLUT"
	require.EqualError(
		t, tampered.CheckPaymentMethods(), domain.ErrPaymentMethodMismatch.Error(),
	)
}

func TestRoles(t *testing.T) {
	require.Equal(t, domain.BuyerAsMaker, domain.MakerRole(domain.Buy))
	require.Equal(t, domain.SellerAsTaker, domain.TakerRole(domain.Buy))
	require.Equal(t, domain.SellerAsTaker, domain.BuyerAsMaker.Peer())
	require.Equal(t, domain.BuyerAsMaker, domain.SellerAsTaker.Peer())
}
