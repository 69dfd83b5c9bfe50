package postgresdb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

const (
	insecureDataSourceTemplate = "postgresql://%s:%s@%s:%d/%s?sslmode=disable"
	migrateScheme              = "pgx5"

	uniqueViolation = "23505"
)

//go:embed migration/*.sql
var migrations embed.FS

// DbConfig holds the connection parameters of the postgres db. DataSourceURL,
// if given, takes precedence over the single fields.
type DbConfig struct {
	DataSourceURL string
	DbUser        string
	DbPassword    string
	DbHost        string
	DbPort        int
	DbName        string
	MaxConns      int32
}

// dbtx is satisfied by both the pool and a pgx transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type repoManager struct {
	pool *pgxpool.Pool

	tradeRepository   domain.TradeRepository
	offerRepository   domain.OfferRepository
	messageRepository domain.MessageRepository
	disputeRepository domain.DisputeRepository
}

// NewService connects to the postgres db, applies the pending migrations and
// returns a RepoManager backed by it.
func NewService(dbConfig DbConfig) (ports.RepoManager, error) {
	dataSource := dataSourceStr(dbConfig)

	pool, err := connect(dataSource, dbConfig.MaxConns)
	if err != nil {
		return nil, err
	}

	if err := migrateDb(dataSource); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating db: %w", err)
	}

	rm := &repoManager{pool: pool}
	conn := db{pool}
	rm.tradeRepository = NewTradeRepositoryImpl(conn)
	rm.offerRepository = NewOfferRepositoryImpl(conn)
	rm.messageRepository = NewMessageRepositoryImpl(conn)
	rm.disputeRepository = NewDisputeRepositoryImpl(conn)
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
	r.pool.Close()
}

// RunTransaction binds a db transaction to the context handed to the
// handler. Repositories called with that context join the transaction,
// which is committed only if the handler succeeds.
func (r *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	var res interface{}
	err := db{r.pool}.execTx(ctx, readOnly, func(ctx context.Context, _ dbtx) error {
		var err error
		res, err = handler(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// db gives the repositories access to the pool, or to the transaction bound
// to the context if any.
type db struct {
	pool *pgxpool.Pool
}

func (d db) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}

// execTx runs txBody within a transaction. If the context already carries
// one, txBody joins it and commit is left to its owner.
func (d db) execTx(
	ctx context.Context,
	readOnly bool,
	txBody func(context.Context, dbtx) error,
) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return txBody(ctx, tx)
	}

	accessMode := pgx.ReadWrite
	if readOnly {
		accessMode = pgx.ReadOnly
	}
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: accessMode})
	if err != nil {
		return err
	}

	// Rollback is safe to call even if the tx is already closed, so if
	// the tx commits successfully, this is a no-op.
	defer func() {
		err := tx.Rollback(ctx)
		switch {
		case errors.Is(err, pgx.ErrTxClosed):
			return
		case err != nil:
			log.Errorf("unable to rollback db tx: %v", err)
		}
	}()

	if err := txBody(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func connect(dataSource string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dataSource)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging db: %w", err)
	}
	return pool, nil
}

func migrateDb(dataSource string) error {
	src, err := iofs.New(migrations, "migration")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dataSource))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func dataSourceStr(dbConfig DbConfig) string {
	if len(dbConfig.DataSourceURL) > 0 {
		return dbConfig.DataSourceURL
	}
	return fmt.Sprintf(
		insecureDataSourceTemplate,
		dbConfig.DbUser,
		dbConfig.DbPassword,
		dbConfig.DbHost,
		dbConfig.DbPort,
		dbConfig.DbName,
	)
}

// migrateURL swaps the scheme of the data source for the one the pgx/v5
// migrate driver is registered with.
func migrateURL(dataSource string) string {
	_, rest, found := strings.Cut(dataSource, "://")
	if !found {
		return dataSource
	}
	return migrateScheme + "://" + rest
}
