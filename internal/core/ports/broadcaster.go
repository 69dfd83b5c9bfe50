package ports

import (
	"context"

	"github.com/btcsuite/btcd/wire"
)

// BroadcastResult is the outcome of a broadcast.
type BroadcastResult int

const (
	BroadcastSucceeded BroadcastResult = iota
	// BroadcastTimedOut means no answer came in time. It's treated as a
	// success.
	BroadcastTimedOut
)

// Broadcaster publishes txs to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (BroadcastResult, error)
	Stop()
}

// ConfidenceHandler is notified about the confidence changes of a tx.
type ConfidenceHandler func(txid string, confidence Confidence)

// ConfidenceNotifier watches txs until they reach the requested depth.
type ConfidenceNotifier interface {
	Watch(txid string, minDepth int, handler ConfidenceHandler)
	Unwatch(txid string)
	Start()
	Stop()
}
