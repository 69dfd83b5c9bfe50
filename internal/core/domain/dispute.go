package domain

import "context"

// Dispute is a mediation or refund case opened for a trade.
type Dispute struct {
	ID                string `json:"id"`
	TradeID           string `json:"tradeId"`
	DepositTxID       string `json:"depositTxId"`
	DelayedPayoutTxID string `json:"delayedPayoutTxId"`
	IsRefund          bool   `json:"isRefund"`
	Agent             string `json:"agent"`
	OpenedByPeer      bool   `json:"openedByPeer"`
	OpenedAt          int64  `json:"openedAt"`
	Closed            bool   `json:"closed"`
}

// DisputeRepository persists the disputes of the local node.
type DisputeRepository interface {
	AddDispute(ctx context.Context, dispute Dispute) error
	GetDisputes(ctx context.Context) ([]Dispute, error)
	GetDisputesByTradeID(ctx context.Context, tradeID string) ([]Dispute, error)
	CloseDispute(ctx context.Context, disputeID string) error
}
