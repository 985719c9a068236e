package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/postgres"
)

// Schema is the expected table layout (CockroachDB dialect). The changefeed
// watches family f1 only, so writing grams does not emit a new change event.
const Schema = `CREATE TABLE IF NOT EXISTS %[1]s
(
  id UUID PRIMARY KEY DEFAULT gen_random_uuid()
  , name TEXT NOT NULL
  , grams TEXT[]
  , FAMILY f1 (id, name)
  , FAMILY f2 (grams)
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s USING GIN (grams);`

// PostgresStore keeps records in a table with id, name and grams columns and
// can answer candidate lookups with the GIN-accelerated && overlap operator.
type PostgresStore struct {
	client    *postgres.Client
	table     string
	staleness time.Duration
	logger    *slog.Logger
}

// NewPostgresStore binds a store to table. A positive staleness runs
// candidate lookups as follower reads at now() - staleness.
func NewPostgresStore(client *postgres.Client, table string, staleness time.Duration) *PostgresStore {
	return &PostgresStore{
		client:    client,
		table:     pq.QuoteIdentifier(table),
		staleness: staleness,
		logger:    slog.Default().With("component", "postgres-store", "table", table),
	}
}

// DDL renders Schema for table.
func DDL(table string) string {
	return fmt.Sprintf(Schema, pq.QuoteIdentifier(table), pq.QuoteIdentifier(table+"_grams_idx"))
}

// Put stores the derived n-grams. An existing row keeps its name; only the
// grams column is rewritten.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, name, grams) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET grams = excluded.grams`, s.table)
	if err := s.client.Exec(ctx, "store.put", query, rec.ID, rec.Text, pq.Array(nullIfEmpty(rec.Ngrams))); err != nil {
		return fmt.Errorf("storing grams for %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if err := s.client.Exec(ctx, "store.delete", query, id); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Names(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	query := fmt.Sprintf(`SELECT id, name FROM %s WHERE id = ANY($1)`, s.table)
	err := s.client.InTx(ctx, "store.names", &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		clear(names)
		rows, err := tx.QueryContext(ctx, query, pq.Array(ids))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			names[id] = name
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("resolving %d names: %w", len(ids), err)
	}
	return names, nil
}

// Scan reads every row. Rows are re-tokenized by the caller, so only id and
// name are loaded.
func (s *PostgresStore) Scan(ctx context.Context, fn func(Record) error) error {
	query := fmt.Sprintf(`SELECT id, name FROM %s`, s.table)
	rows, err := s.client.DB.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", s.table, err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Text); err != nil {
			return fmt.Errorf("reading row: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", s.table, err)
	}
	s.logger.Info("table scan complete", "rows", count)
	return nil
}

// Lookup returns rows whose grams overlap query, using the database's
// array-overlap predicate instead of the in-memory index.
func (s *PostgresStore) Lookup(ctx context.Context, query []string) ([]index.Candidate, error) {
	if len(query) == 0 {
		return []index.Candidate{}, nil
	}
	stmt := fmt.Sprintf(`SELECT id, grams FROM %s WHERE grams && $1::TEXT[]`, s.table)
	var cands []index.Candidate
	err := s.client.InTx(ctx, "store.lookup", &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		cands = cands[:0]
		if s.staleness > 0 {
			aost := fmt.Sprintf(`SET TRANSACTION AS OF SYSTEM TIME '-%dms'`, s.staleness.Milliseconds())
			if _, err := tx.ExecContext(ctx, aost); err != nil {
				return fmt.Errorf("enabling follower reads: %w", err)
			}
		}
		rows, err := tx.QueryContext(ctx, stmt, pq.Array(query))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c index.Candidate
			var grams pq.StringArray
			if err := rows.Scan(&c.ID, &grams); err != nil {
				return err
			}
			c.Ngrams = []string(grams)
			cands = append(cands, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("overlap lookup: %w", err)
	}
	if cands == nil {
		cands = []index.Candidate{}
	}
	return cands, nil
}

func nullIfEmpty(grams []string) []string {
	if len(grams) == 0 {
		return nil
	}
	return grams
}
