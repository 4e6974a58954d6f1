package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apployd/engine/internal/apperr"
)

// Store wraps a pgx connection pool, giving the engine's other components
// a single handle the way the teacher's Store wraps one bolt.DB.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies reachability.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// query helpers run either standalone or inside WithSerializableTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txConflict wraps a serialization-failure error so pkg/retry.Serializable
// recognizes it via IsSerializationConflict.
type txConflict struct{ err error }

func (c *txConflict) Error() string        { return c.err.Error() }
func (c *txConflict) Unwrap() error        { return c.err }
func (c *txConflict) IsSerializationConflict() bool { return true }

// isSerializationFailure reports whether err is Postgres SQLSTATE
// 40001 (serialization_failure) or 40P01 (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction (§4.I),
// wrapping conflicts so the caller can retry with
// pkg/retry.Serializable.
func (s *Store) WithSerializableTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txErr := fn(ctx, &Tx{q: pgxTx})
	if txErr != nil {
		_ = pgxTx.Rollback(ctx)
		if isSerializationFailure(txErr) {
			return &txConflict{err: txErr}
		}
		return txErr
	}

	if err := pgxTx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return &txConflict{err: err}
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx is a single serializable transaction, exposing the narrow interfaces
// pkg/policy and pkg/deploy need without leaking pgx types outward.
type Tx struct {
	q pgx.Tx
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}
