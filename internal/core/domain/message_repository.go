package domain

import "context"

// StoredMessage is an inbound protocol message kept until it can be
// processed.
type StoredMessage struct {
	UID        string `json:"uid"`
	TradeID    string `json:"tradeId"`
	Type       string `json:"type"`
	Sender     string `json:"sender"`
	Payload    []byte `json:"payload"`
	ReceivedAt int64  `json:"receivedAt"`
}

// ProcessedMessage records the uid of a message already applied to a trade.
type ProcessedMessage struct {
	UID         string `json:"uid"`
	TradeID     string `json:"tradeId"`
	ProcessedAt int64  `json:"processedAt"`
}

// MessageRepository keeps track of processed and buffered messages.
type MessageRepository interface {
	// MarkProcessed records the uid and returns false if it was already
	// recorded.
	MarkProcessed(ctx context.Context, msg ProcessedMessage) (bool, error)
	IsProcessed(ctx context.Context, uid string) (bool, error)
	// AddPending buffers a message arrived out of order. Buffering the same
	// uid twice is a no-op.
	AddPending(ctx context.Context, msg StoredMessage) error
	GetPending(ctx context.Context, tradeID string) ([]StoredMessage, error)
	DeletePending(ctx context.Context, uid string) error
}
