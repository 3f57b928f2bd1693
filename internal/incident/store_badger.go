// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package incident

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const incidentKeyPrefix = "incident:"

// BadgerStore persists incidents as JSON documents in Badger.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store on an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func incidentKey(id string) []byte {
	return []byte(incidentKeyPrefix + id)
}

// Save implements Store.
func (s *BadgerStore) Save(_ context.Context, inc *Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", inc.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(incidentKey(inc.ID), data)
	})
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (*Incident, error) {
	var inc Incident
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(incidentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return &inc, nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, filter Filter) ([]*Incident, error) {
	var out []*Incident
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(incidentKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var inc Incident
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inc)
			}); err != nil {
				return err
			}
			if filter.Matches(&inc) {
				out = append(out, &inc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(incidentKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(incidentKey(id))
	})
}
