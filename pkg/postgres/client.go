// Package postgres wraps a lib/pq connection pool with retrying statement
// helpers. Serialization failures and dropped connections are retried with
// backoff; every other error is returned on the first attempt.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/resilience"
)

type Client struct {
	DB    *sql.DB
	cfg   config.PostgresConfig
	retry resilience.RetryConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{
		DB:  db,
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 200 * time.Millisecond,
		},
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Exec runs a statement that returns no rows, retrying transient failures.
func (c *Client) Exec(ctx context.Context, name string, query string, args ...any) error {
	return resilience.Retry(ctx, name, c.retry, func() error {
		_, err := c.DB.ExecContext(ctx, query, args...)
		return classify(err)
	})
}

// InTx runs fn inside a transaction, retrying the whole transaction on
// transient failures. fn may be invoked more than once.
func (c *Client) InTx(ctx context.Context, name string, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	return resilience.Retry(ctx, name, c.retry, func() error {
		return classify(c.runTx(ctx, opts, fn))
	})
}

func (c *Client) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// classify marks errors that should not be retried as permanent.
func classify(err error) error {
	if err == nil || Retryable(err) {
		return err
	}
	return resilience.Permanent(err)
}

// Retryable reports whether err is a serialization failure (SQLSTATE 40001,
// the CockroachDB retry error), another transaction rollback, a connection
// exception, or a dropped connection.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40", "08":
			return true
		}
	}
	return false
}
