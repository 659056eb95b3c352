// store.go - Postgres-backed routing-table persistence.
// SPDX-License-Identifier: AGPL-3.0-only

// Package pgstore implements storage.Store against a Postgres
// instance via github.com/jackc/pgx/v5, a second backend alongside
// boltstore so the routing table can survive process restart whether
// the host program prefers an embedded KV file or a shared database.
package pgstore

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/storage"
)

// Schema is the DDL the pool expects to already exist; callers that
// want this package to provision it can pass Schema to pool.Exec
// themselves at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
	destination BYTEA PRIMARY KEY,
	chains      BYTEA NOT NULL,
	freshness   TIMESTAMPTZ NOT NULL
)`

// Store is a pgx-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn (a standard libpq connection
// string or URL).
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Save upserts rec by destination.
func (s *Store) Save(ctx context.Context, rec storage.Record) error {
	chains := make([][]meshid.ID, len(rec.Chains))
	for i, c := range rec.Chains {
		chains[i] = []meshid.ID(c)
	}
	buf, err := cbor.Marshal(chains)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO routes (destination, chains, freshness)
		VALUES ($1, $2, $3)
		ON CONFLICT (destination) DO UPDATE
		SET chains = EXCLUDED.chains, freshness = EXCLUDED.freshness`,
		rec.Destination.Bytes(), buf, rec.Freshness)
	return err
}

// Delete removes dst's persisted record, if any.
func (s *Store) Delete(ctx context.Context, dst meshid.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM routes WHERE destination = $1`, dst.Bytes())
	return err
}

// Load returns every persisted record.
func (s *Store) Load(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT destination, chains, freshness FROM routes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			dstBytes []byte
			chainBuf []byte
			fresh    time.Time
		)
		if err := rows.Scan(&dstBytes, &chainBuf, &fresh); err != nil {
			return nil, err
		}
		dst, err := meshid.FromBytes(dstBytes)
		if err != nil {
			return nil, err
		}
		var chains [][]meshid.ID
		if err := cbor.Unmarshal(chainBuf, &chains); err != nil {
			return nil, err
		}
		rec := storage.Record{Destination: dst, Freshness: fresh}
		for _, c := range chains {
			rec.Chains = append(rec.Chains, storage.Chain(c))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
