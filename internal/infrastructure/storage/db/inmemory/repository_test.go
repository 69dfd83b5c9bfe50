package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
)

var ctx = context.Background()

func TestTradeRepository(t *testing.T) {
	repo := inmemory.NewRepoManager().TradeRepository()

	trade := &domain.Trade{
		ID:            "trade-1",
		Collection:    domain.CollectionPending,
		TakeOfferDate: 10,
	}
	require.NoError(t, repo.AddTrade(ctx, trade))
	require.ErrorIs(t, repo.AddTrade(ctx, trade), domain.ErrTradeAlreadyExists)

	// Mutating the returned trade must not affect the stored one.
	got, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	got.DepositTxID = "txid"
	got, err = repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Empty(t, got.DepositTxID)

	err = repo.UpdateTrade(ctx, trade.ID, func(t *domain.Trade) (*domain.Trade, error) {
		t.DepositTxID = "txid"
		t.Collection = domain.CollectionFailed
		return t, nil
	})
	require.NoError(t, err)

	got, err = repo.GetTradeByDepositTxID(ctx, "txid")
	require.NoError(t, err)
	require.Equal(t, trade.ID, got.ID)

	pending, err := repo.GetTradesByCollection(ctx, domain.CollectionPending)
	require.NoError(t, err)
	require.Empty(t, pending)
	failed, err := repo.GetTradesByCollection(ctx, domain.CollectionFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	_, err = repo.GetTrade(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestMessageRepository(t *testing.T) {
	repo := inmemory.NewRepoManager().MessageRepository()

	ok, err := repo.MarkProcessed(ctx, domain.ProcessedMessage{UID: "a", TradeID: "t"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.MarkProcessed(ctx, domain.ProcessedMessage{UID: "a", TradeID: "t"})
	require.NoError(t, err)
	require.False(t, ok)

	processed, err := repo.IsProcessed(ctx, "a")
	require.NoError(t, err)
	require.True(t, processed)

	require.NoError(t, repo.AddPending(ctx, domain.StoredMessage{UID: "c", TradeID: "t", ReceivedAt: 2}))
	require.NoError(t, repo.AddPending(ctx, domain.StoredMessage{UID: "b", TradeID: "t", ReceivedAt: 1}))
	require.NoError(t, repo.AddPending(ctx, domain.StoredMessage{UID: "b", TradeID: "t", ReceivedAt: 3}))
	require.NoError(t, repo.AddPending(ctx, domain.StoredMessage{UID: "d", TradeID: "other"}))

	msgs, err := repo.GetPending(ctx, "t")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "b", msgs[0].UID)
	require.Equal(t, "c", msgs[1].UID)

	require.NoError(t, repo.DeletePending(ctx, "b"))
	msgs, err = repo.GetPending(ctx, "t")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDisputeRepository(t *testing.T) {
	repo := inmemory.NewRepoManager().DisputeRepository()

	require.NoError(t, repo.AddDispute(ctx, domain.Dispute{ID: "1", TradeID: "t", OpenedAt: 1}))
	require.NoError(t, repo.AddDispute(ctx, domain.Dispute{ID: "2", TradeID: "t", OpenedAt: 2, IsRefund: true}))
	require.NoError(t, repo.AddDispute(ctx, domain.Dispute{ID: "3", TradeID: "other", OpenedAt: 3}))
	require.ErrorIs(t, repo.AddDispute(ctx, domain.Dispute{ID: "1"}), inmemory.ErrDisputeAlreadyExists)

	disputes, err := repo.GetDisputesByTradeID(ctx, "t")
	require.NoError(t, err)
	require.Len(t, disputes, 2)

	require.NoError(t, repo.CloseDispute(ctx, "1"))
	require.ErrorIs(t, repo.CloseDispute(ctx, "unknown"), inmemory.ErrDisputeNotFound)

	disputes, err = repo.GetDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, disputes, 3)
	require.True(t, disputes[0].Closed)
}

func TestOfferRepository(t *testing.T) {
	repo := inmemory.NewRepoManager().OfferRepository()

	offer := domain.OpenOffer{Offer: domain.Offer{ID: "offer"}}
	require.NoError(t, repo.AddOffer(ctx, offer))
	require.ErrorIs(t, repo.AddOffer(ctx, offer), inmemory.ErrOfferAlreadyExists)

	err := repo.UpdateOffer(ctx, "offer", func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
		o.State = domain.OpenOfferTaken
		return o, nil
	})
	require.NoError(t, err)

	got, err := repo.GetOffer(ctx, "offer")
	require.NoError(t, err)
	require.Equal(t, domain.OpenOfferTaken, got.State)

	_, err = repo.GetOffer(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
}
