// Package db is the Postgres persistence layer: interned addresses,
// block envelopes, per-address history, user subscriptions, the durable
// event queue and chain stat snapshots.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB owns the connection pool. Row-level operations live on Store so the
// same code runs against the pool or inside a transaction.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger

	// onEventInsert is invoked after an event row commits; the hub uses
	// it to wake SSE workers.
	onEventInsert func(kind string)
}

func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	d := &DB{Pool: pool, log: logger}
	if err := d.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// OnEventInsert registers the post-commit event notification callback.
func (d *DB) OnEventInsert(fn func(kind string)) {
	d.onEventInsert = fn
}

func (d *DB) notifyEventInsert(kind string) {
	if d.onEventInsert != nil {
		d.onEventInsert(kind)
	}
}

// Store exposes row-level operations over a pool or transaction.
type Store struct {
	q   Querier
	db  *DB
	log *zap.Logger
}

// Store returns a pool-backed store for standalone operations.
func (d *DB) Store() *Store {
	return &Store{q: d.Pool, db: d, log: d.log}
}

// WithTx runs fn inside a serializable transaction. The ingestion
// pipeline and the confirmation tracker share this isolation level.
func (d *DB) WithTx(ctx context.Context, fn func(s *Store) error) error {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}

	if err := fn(&Store{q: tx, db: d, log: d.log}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit: %w", err)
	}
	return nil
}

// IsUniqueViolation reports a Postgres unique-constraint failure, the
// Integrity error class that causes a MakeBlock retry.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports a serializable-isolation conflict.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
