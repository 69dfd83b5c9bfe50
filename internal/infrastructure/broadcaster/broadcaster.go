package broadcaster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/circuitbreaker"
)

// DefaultTimeout is the time after which a broadcast with no answer is
// considered successful.
const DefaultTimeout = 8 * time.Second

var broadcastCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Subsystem: "broadcaster",
	Name:      "publish_total",
	Help:      "Txs handed to the network by outcome.",
}, []string{"outcome"})

// Publisher hands a tx to the network. It's satisfied by the wallet.
type Publisher interface {
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

type broadcaster struct {
	publisher Publisher
	timeout   time.Duration
	cb        *gobreaker.CircuitBreaker

	lock   sync.Mutex
	timers map[string]*time.Timer
	quit   chan struct{}
	once   sync.Once
}

// NewBroadcaster returns a ports.Broadcaster publishing txs through the
// given publisher. A non-positive timeout means DefaultTimeout.
func NewBroadcaster(publisher Publisher, timeout time.Duration) ports.Broadcaster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &broadcaster{
		publisher: publisher,
		timeout:   timeout,
		cb:        circuitbreaker.NewCircuitBreaker("broadcaster"),
		timers:    make(map[string]*time.Timer),
		quit:      make(chan struct{}),
	}
}

// Broadcast publishes the tx and waits for the outcome. If nothing comes
// back before the timeout expires, the tx is optimistically reported as
// broadcasted with BroadcastTimedOut.
func (b *broadcaster) Broadcast(
	ctx context.Context, tx *wire.MsgTx,
) (ports.BroadcastResult, error) {
	txid := tx.TxHash().String()
	timer, err := b.startTimer(txid)
	if err != nil {
		return 0, err
	}
	defer b.cancelTimer(txid)

	resultCh := make(chan error, 1)
	go func() {
		_, err := b.cb.Execute(func() (interface{}, error) {
			return nil, b.publisher.PublishTransaction(ctx, tx)
		})
		resultCh <- err
	}()

	select {
	case err := <-resultCh:
		if err != nil {
			broadcastCounter.WithLabelValues("failed").Inc()
			log.WithError(err).Warnf("broadcast of tx %s failed", txid)
			return 0, fmt.Errorf("broadcast of tx %s failed: %w", txid, err)
		}
		broadcastCounter.WithLabelValues("succeeded").Inc()
		log.Debugf("broadcasted tx %s", txid)
		return ports.BroadcastSucceeded, nil
	case <-timer.C:
		broadcastCounter.WithLabelValues("timed_out").Inc()
		log.Warnf("broadcast of tx %s timed out, assuming success", txid)
		return ports.BroadcastTimedOut, nil
	case <-b.quit:
		return 0, fmt.Errorf("broadcaster stopped")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop drops all pending timers and makes in-flight broadcasts return.
func (b *broadcaster) Stop() {
	b.once.Do(func() {
		close(b.quit)
		b.lock.Lock()
		defer b.lock.Unlock()
		for txid, timer := range b.timers {
			timer.Stop()
			delete(b.timers, txid)
		}
	})
}

func (b *broadcaster) startTimer(txid string) (*time.Timer, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	select {
	case <-b.quit:
		return nil, fmt.Errorf("broadcaster stopped")
	default:
	}
	if _, ok := b.timers[txid]; ok {
		return nil, fmt.Errorf("broadcast of tx %s already in progress", txid)
	}
	timer := time.NewTimer(b.timeout)
	b.timers[txid] = timer
	return timer, nil
}

func (b *broadcaster) cancelTimer(txid string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if timer, ok := b.timers[txid]; ok {
		timer.Stop()
		delete(b.timers, txid)
	}
}
