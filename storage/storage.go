// storage.go - the persistence contract routing-table backends
// implement (§1/§6: "persistence backend for routing tables
// (optional)").
// SPDX-License-Identifier: AGPL-3.0-only

// Package storage defines the routing-table persistence interface two
// concrete backends implement: boltstore (embedded go.etcd.io/bbolt)
// and pgstore (github.com/jackc/pgx/v5 against Postgres). Neither the
// channel, delivery nor routing packages depend on storage directly;
// a host program wires a Store into routing.Table reconstruction at
// startup and persists chain updates as they occur.
package storage

import (
	"context"
	"time"

	"github.com/semenovf/netty-go/meshid"
)

// Chain is a persisted gateway chain: an ordered list of hop ids.
type Chain []meshid.ID

// Record is one destination's persisted routing state: every known
// candidate chain plus the freshness timestamp used to decide eviction
// on reload.
type Record struct {
	Destination meshid.ID
	Chains      []Chain
	Freshness   time.Time
}

// Store persists and reloads routing-table records. Implementations
// must be safe for concurrent use from multiple goroutines, since the
// host program may save on the same cooperative step loop that reads
// for a UI or diagnostic dump concurrently.
type Store interface {
	// Save upserts rec, replacing any prior record for the same
	// destination.
	Save(ctx context.Context, rec Record) error
	// Delete removes a destination's persisted record, a no-op if none
	// exists.
	Delete(ctx context.Context, dst meshid.ID) error
	// Load returns every persisted record, for rebuilding a routing
	// table at process start.
	Load(ctx context.Context) ([]Record, error)
	// Close releases the backend's underlying resources.
	Close() error
}
