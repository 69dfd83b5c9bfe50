package ports

import (
	"context"
	"encoding/json"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// Envelope wraps every message exchanged between peers.
type Envelope struct {
	UID     string          `json:"uid"`
	TradeID string          `json:"tradeId"`
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// MessageHandler is called for every inbound envelope. Mailbox tells whether
// the message was stored while the local node was offline.
type MessageHandler func(ctx context.Context, env Envelope, mailbox bool)

// Messenger is the transport towards the other peers. Delivery is
// at-least-once and possibly out of order.
type Messenger interface {
	// Address returns the address peers use to reach the local node.
	Address() string
	Send(
		ctx context.Context, peerAddress string, env Envelope,
	) (domain.MessageState, error)
	RegisterHandler(handler MessageHandler)
	Start() error
	Stop()
}
