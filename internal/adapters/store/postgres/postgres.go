// Package postgres is the durable ledger.Store backed by PostgreSQL.
//
// Questions are serialized with SELECT ... FOR UPDATE and debits with a
// conditional UPDATE, so correctness holds across replicas sharing one
// database.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
	"github.com/okian/civicstake/pkg/retry"
)

//go:embed schema.sql
var schema string

const (
	defaultTxTimeout      = 5 * time.Second
	defaultConnectTimeout = time.Minute

	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Config holds pool settings.
type Config struct {
	DSN             string
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	TxTimeout       time.Duration
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store.
type Store struct {
	pool      *pgxpool.Pool
	log       logger.Logger
	txTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// Open connects with retry and applies the schema.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	connCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	rcfg := retry.DefaultConfig()
	rcfg.InitialDelay = 200 * time.Millisecond
	rcfg.MaxDelay = 5 * time.Second
	rcfg.MaxRetries = 10

	var pool *pgxpool.Pool
	err = retry.WithBackoff(connCtx, rcfg, log, "postgres_connection", func() error {
		p, err := pgxpool.NewWithConfig(connCtx, pcfg)
		if err != nil {
			return fmt.Errorf("create postgres pool: %w", err)
		}
		if err := p.Ping(connCtx); err != nil {
			p.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("postgres", "connect")
		return nil, err
	}

	s := &Store{pool: pool, log: log, txTimeout: cfg.TxTimeout}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info(ctx, "postgres ledger ready",
		logger.Int("max_conns", int(pcfg.MaxConns)),
		logger.Duration("tx_timeout", s.txTimeout))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx runs fn inside a READ COMMITTED transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTxAborted, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var fnErr error
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ptx pgx.Tx) error {
		fnErr = fn(ctx, &tx{q: ptx})
		return fnErr
	})
	switch {
	case fnErr != nil:
		return fnErr
	case err != nil:
		return mapErr(err, "commit")
	}
	return nil
}

// mapErr translates driver errors into ledger sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ledger.ErrTxAborted, what, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", what, ledger.ErrAlreadyExists)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
