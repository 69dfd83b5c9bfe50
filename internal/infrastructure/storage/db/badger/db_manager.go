package dbbadger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	maxTxRetries = 5
	gcInterval   = 30 * time.Minute
)

type txKey struct{}

type repoManager struct {
	store *badgerhold.Store
	quit  chan struct{}

	tradeRepository   domain.TradeRepository
	offerRepository   domain.OfferRepository
	messageRepository domain.MessageRepository
	disputeRepository domain.DisputeRepository
}

// NewRepoManager opens (or creates if not exists) the badger store in the
// given base directory. An empty dir makes the store live in memory only.
func NewRepoManager(
	baseDbDir string, logger badger.Logger,
) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, "escrow")
	}

	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}

	rm := &repoManager{
		store: store,
		quit:  make(chan struct{}),
	}
	rm.tradeRepository = NewTradeRepositoryImpl(store)
	rm.offerRepository = NewOfferRepositoryImpl(store)
	rm.messageRepository = NewMessageRepositoryImpl(store)
	rm.disputeRepository = NewDisputeRepositoryImpl(store)

	if len(dbDir) > 0 {
		go rm.runValueLogGC()
	}
	return rm, nil
}

func (r *repoManager) TradeRepository() domain.TradeRepository {
	return r.tradeRepository
}

func (r *repoManager) OfferRepository() domain.OfferRepository {
	return r.offerRepository
}

func (r *repoManager) MessageRepository() domain.MessageRepository {
	return r.messageRepository
}

func (r *repoManager) DisputeRepository() domain.DisputeRepository {
	return r.disputeRepository
}

func (r *repoManager) Close() {
	close(r.quit)
	if err := r.store.Close(); err != nil {
		log.WithError(err).Warn("closing badger store")
	}
}

// RunTransaction runs the handler within a badger transaction made
// available to the repositories through the context. The transaction is
// committed if the handler succeeds and retried in case of conflicts.
func (r *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	for i := 0; ; i++ {
		tx := r.store.Badger().NewTransaction(!readOnly)
		res, err := handler(context.WithValue(ctx, txKey{}, tx))
		if err != nil {
			tx.Discard()
			return nil, err
		}
		if readOnly {
			tx.Discard()
			return res, nil
		}

		err = tx.Commit()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, badger.ErrConflict) || i >= maxTxRetries {
			return nil, err
		}
		log.Debugf("db tx conflict, retrying (%d/%d)", i+1, maxTxRetries)
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
}

func (r *repoManager) runValueLogGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			if err := r.store.Badger().RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				log.Error(err)
			}
		}
	}
}

// txFromContext returns the badger transaction bound to ctx, if any.
func txFromContext(ctx context.Context) *badger.Txn {
	tx, _ := ctx.Value(txKey{}).(*badger.Txn)
	return tx
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
