// Copyright 2025 Certen Protocol
//
// KV is the storage interface pkg/finalize and pkg/seeding build on.
// It is backed in production by a cometbft-db engine (goleveldb by
// default), adapted here the same way the teacher's pkg/kvdb adapts
// cometbft-db to its pkg/ledger.KV interface.

package kvstore

import (
	"bytes"

	dbm "github.com/cometbft/cometbft-db"
)

// KV is the minimal key-value contract this service depends on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// IteratePrefix calls fn for every key with the given prefix, in key
	// order, until fn returns false or iteration is exhausted.
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error
}

// Adapter wraps a cometbft-db DB and exposes KV.
type Adapter struct {
	db dbm.DB
}

// NewAdapter creates a new Adapter for the given underlying DB.
func NewAdapter(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// Get implements KV.Get.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set implements KV.Set. Writes are synchronous so a crash right after a
// successful write never loses the index entry or tracked bundle it
// just recorded.
func (a *Adapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Delete implements KV.Delete.
func (a *Adapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

// IteratePrefix implements KV.IteratePrefix.
func (a *Adapter) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	if a.db == nil {
		return nil
	}
	end := prefixUpperBound(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return it.Error()
}

// prefixUpperBound returns the smallest key that is strictly greater
// than every key starting with prefix, or nil if prefix is all 0xff
// (meaning the iteration should run to the end of the keyspace).
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
