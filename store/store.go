// Package store is the PostGIS persistence layer. It owns every durable
// entity (players, territories, clans, quests, geofence zones, chests) and
// the geometric boolean operations the claim resolver runs inside a
// transaction.
//
// All geometry is WGS-84 (SRID 4326) exchanged as WKT; areas are computed on
// the geography type in square meters. Results of boolean operations are
// passed through ST_MakeValid and filtered to their polygonal components
// before they are stored or returned.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	_ "embed"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when a row the caller expected is missing.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidGeometry is returned when input geometry cannot be parsed
	// or repaired. The caller must abort the transaction.
	ErrInvalidGeometry = errors.New("store: invalid geometry")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against the given PostGIS database URL.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store.Connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store.Connect: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store.Migrate: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. Serialization failures and deadlocks are retried exactly once; any
// other failure surfaces immediately and leaves no partial writes.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	attempt := func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(ctx); err != nil {
			if retryable(err) {
				slog.Warn("claim transaction commit contention; retrying once", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1), ctx)
	err := backoff.Retry(attempt, b)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// retryable reports whether err is a transient database conflict worth one retry.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}

// geomErr normalizes geometry input failures to ErrInvalidGeometry so the
// resolver can surface them as input-level rejections.
func geomErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "XX000" || strings.Contains(pgErr.Message, "parse error") {
			return fmt.Errorf("store.%s: %w: %s", op, ErrInvalidGeometry, pgErr.Message)
		}
	}
	return fmt.Errorf("store.%s: %w", op, err)
}

// Savepoint runs fn inside a nested transaction (a savepoint) on tx. A
// non-nil error from fn rolls back to the savepoint and is returned; nil
// releases it. The outer transaction survives either way.
func (s *Store) Savepoint(ctx context.Context, tx pgx.Tx, fn func(pgx.Tx) error) error {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store.Savepoint: %w", err)
	}
	if err := fn(nested); err != nil {
		nested.Rollback(ctx)
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("store.Savepoint: %w", err)
	}
	return nil
}
