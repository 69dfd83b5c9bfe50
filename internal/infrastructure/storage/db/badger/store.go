package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// txStore runs every repository operation within a badger transaction,
// either the one bound to the context by RunTransaction or a new one.
type txStore struct {
	store *badgerhold.Store
}

func (s txStore) update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.store.Badger().Update(fn)
}

func (s txStore) view(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.store.Badger().View(fn)
}
