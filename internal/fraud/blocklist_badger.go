// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package fraud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const blocklistKeyPrefix = "blocklist:"

// BadgerBlocklist persists entries in Badger. Each key carries a Badger TTL
// matching the entry expiry, so expired entries disappear without a sweep.
type BadgerBlocklist struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerBlocklist creates a blocklist on an open Badger database.
func NewBadgerBlocklist(db *badger.DB) *BadgerBlocklist {
	return &BadgerBlocklist{db: db, now: time.Now}
}

func badgerKey(kind EntryKind, value string) []byte {
	return []byte(blocklistKeyPrefix + string(kind) + ":" + value)
}

// Lookup implements Blocklist.
func (b *BadgerBlocklist) Lookup(_ context.Context, kind EntryKind, value string) (*Entry, error) {
	v, err := NormalizeValue(kind, value)
	if err != nil {
		return nil, err
	}

	var entry Entry
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(kind, v))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup blocklist entry: %w", err)
	}
	if entry.Expired(b.now()) {
		return nil, nil
	}
	return &entry, nil
}

// Block implements Blocklist.
func (b *BadgerBlocklist) Block(_ context.Context, entry Entry) error {
	v, err := NormalizeValue(entry.Kind, entry.Value)
	if err != nil {
		return err
	}
	entry.Value = v

	ttl := entry.ExpiresAt.Sub(b.now())
	if ttl <= 0 {
		return fmt.Errorf("blocklist entry for %s already expired", v)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal blocklist entry: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(entry.Kind, v), data).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set blocklist entry: %w", err)
		}
		return nil
	})
}

// Unblock implements Blocklist.
func (b *BadgerBlocklist) Unblock(ctx context.Context, kind EntryKind, value string) error {
	existing, err := b.Lookup(ctx, kind, value)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotBlocked
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(kind, existing.Value))
	})
}

// List implements Blocklist.
func (b *BadgerBlocklist) List(_ context.Context) ([]Entry, error) {
	var out []Entry
	now := b.now()
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(blocklistKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if !e.Expired(now) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blocklist: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
