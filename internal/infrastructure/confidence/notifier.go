package confidence

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"go.uber.org/ratelimit"
)

const (
	// DefaultPollInterval is how often every watched tx is checked.
	DefaultPollInterval = 10 * time.Second
	// DefaultRequestsPerSecond caps the requests to the confidence source
	// over all the watched txs.
	DefaultRequestsPerSecond = 10
)

// Source returns the confidence of a tx. It's satisfied by the wallet.
type Source interface {
	GetConfidence(ctx context.Context, txid string) (ports.Confidence, error)
}

// Opts defines the parameters needed for creating a notifier with
// NewNotifier.
type Opts struct {
	Source            Source
	PollInterval      time.Duration
	RequestsPerSecond int
}

type notifier struct {
	source   Source
	interval time.Duration
	limiter  ratelimit.Limiter

	lock     sync.Mutex
	watchers map[string]*txWatcher
	running  bool
	wg       sync.WaitGroup
}

// NewNotifier returns a ports.ConfidenceNotifier that polls the source for
// the confidence of every watched tx. Polling begins with Start, txs
// watched before are kept on hold until then.
func NewNotifier(opts Opts) ports.ConfidenceNotifier {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	return &notifier{
		source:   opts.Source,
		interval: interval,
		limiter:  ratelimit.New(rps),
		watchers: make(map[string]*txWatcher),
	}
}

func (n *notifier) Start() {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.running {
		return
	}
	n.running = true
	for _, w := range n.watchers {
		n.startWatcher(w)
	}
}

func (n *notifier) Stop() {
	n.lock.Lock()
	n.running = false
	for txid, w := range n.watchers {
		w.stop()
		delete(n.watchers, txid)
	}
	n.lock.Unlock()
	n.wg.Wait()
}

// Watch replaces any previous watcher of the same tx.
func (n *notifier) Watch(txid string, minDepth int, handler ports.ConfidenceHandler) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if w, ok := n.watchers[txid]; ok {
		w.stop()
	}
	w := newTxWatcher(txid, minDepth, handler)
	n.watchers[txid] = w
	if n.running {
		n.startWatcher(w)
	}
}

func (n *notifier) Unwatch(txid string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.unwatch(txid)
}

func (n *notifier) unwatch(txid string) {
	if w, ok := n.watchers[txid]; ok {
		w.stop()
		delete(n.watchers, txid)
	}
}

func (n *notifier) startWatcher(w *txWatcher) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.watch(w)
	}()
}

func (n *notifier) watch(w *txWatcher) {
	log.Debugf("start watching tx %s", w.txid)
	defer log.Debugf("stop watching tx %s", w.txid)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		if done := n.poll(w); done {
			n.lock.Lock()
			if n.watchers[w.txid] == w {
				n.unwatch(w.txid)
			}
			n.lock.Unlock()
			return
		}
		select {
		case <-w.quit:
			return
		case <-ticker.C:
		}
	}
}

// poll notifies the handler if the confidence of the tx changed and returns
// whether the watcher is done.
func (n *notifier) poll(w *txWatcher) bool {
	n.limiter.Take()
	if w.isStopped() {
		return true
	}

	conf, err := n.source.GetConfidence(context.Background(), w.txid)
	if err != nil {
		log.WithError(err).Debugf("failed to get confidence of tx %s", w.txid)
		return false
	}
	if conf == w.last {
		return false
	}
	w.last = conf
	if w.isStopped() {
		return true
	}
	w.handler(w.txid, conf)

	switch conf.Status {
	case ports.ConfidenceBuilding:
		return conf.Depth >= w.minDepth
	case ports.ConfidenceDead:
		return true
	}
	return false
}

type txWatcher struct {
	txid     string
	minDepth int
	handler  ports.ConfidenceHandler
	last     ports.Confidence

	quit chan struct{}
	once sync.Once
}

func newTxWatcher(
	txid string, minDepth int, handler ports.ConfidenceHandler,
) *txWatcher {
	if minDepth <= 0 {
		minDepth = 1
	}
	return &txWatcher{
		txid:     txid,
		minDepth: minDepth,
		handler:  handler,
		quit:     make(chan struct{}),
	}
}

func (w *txWatcher) stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *txWatcher) isStopped() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}
