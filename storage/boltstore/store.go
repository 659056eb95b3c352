// store.go - embedded bbolt-backed routing-table persistence.
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltstore implements storage.Store over a single
// go.etcd.io/bbolt database file, the way the teacher's disk.go
// persists its own on-disk records: one bucket, one cbor-encoded value
// per key.
package boltstore

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/storage"
)

var bucketName = []byte("routes")

// record is the cbor wire shape persisted per destination; it mirrors
// storage.Record but keeps cbor tags local to this package.
type record struct {
	Chains    [][]meshid.ID `cbor:"chains"`
	Freshness int64         `cbor:"freshness"` // unix nanoseconds
}

// Store is a bbolt-backed storage.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// the routes bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save upserts rec under its destination id.
func (s *Store) Save(ctx context.Context, rec storage.Record) error {
	r := record{Freshness: rec.Freshness.UnixNano()}
	for _, c := range rec.Chains {
		r.Chains = append(r.Chains, []meshid.ID(c))
	}
	buf, err := cbor.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(rec.Destination.Bytes(), buf)
	})
}

// Delete removes dst's persisted record, if any.
func (s *Store) Delete(ctx context.Context, dst meshid.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(dst.Bytes())
	})
}

// Load returns every persisted record.
func (s *Store) Load(ctx context.Context) ([]storage.Record, error) {
	var out []storage.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			dst, err := meshid.FromBytes(k)
			if err != nil {
				return err
			}
			var r record
			if err := cbor.Unmarshal(v, &r); err != nil {
				return err
			}
			rec := storage.Record{
				Destination: dst,
				Freshness:   time.Unix(0, r.Freshness),
			}
			for _, c := range r.Chains {
				rec.Chains = append(rec.Chains, storage.Chain(c))
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }
