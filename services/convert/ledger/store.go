// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	storage "github.com/AleutianAI/ReportBridge/services/convert/storage/badger"
)

const (
	resultPrefix = "result/"
	idPrefix     = "id/"
)

// ListOptions filters Store.List.
type ListOptions struct {
	// Limit caps the number of results. 0 means no limit.
	Limit int

	// NeedsReview keeps only results flagged for review.
	NeedsReview bool

	// Kind keeps only results of this kind. Zero keeps all.
	Kind datatypes.ExpressionKind
}

func (o ListOptions) match(r datatypes.ConversionResult) bool {
	if o.NeedsReview && !r.NeedsReview {
		return false
	}
	if o.Kind != 0 && r.Kind != o.Kind {
		return false
	}
	return true
}

// Store is the durable ledger backed by BadgerDB.
//
// Description:
//
//	Each result is stored as JSON under result/<created-unix-nano>/<id>,
//	so iteration is chronological. A secondary key id/<id> points at the
//	primary key for Get.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *storage.DB
}

// NewStore wraps an open database. The caller keeps ownership of db.
func NewStore(db *storage.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("ledger store requires a database")
	}
	return &Store{db: db}, nil
}

func primaryKey(r datatypes.ConversionResult) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", resultPrefix, r.CreatedAt.UnixNano(), r.ID))
}

// Append persists a result.
func (s *Store) Append(result datatypes.ConversionResult) error {
	if result.ID == "" {
		return errors.New("result has no ID")
	}
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", result.ID, err)
	}
	key := primaryKey(result)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+result.ID), key)
	})
	if err != nil {
		return fmt.Errorf("append result %s: %w", result.ID, err)
	}
	return nil
}

// Get returns the result with the given ID.
func (s *Store) Get(id string) (datatypes.ConversionResult, error) {
	var result datatypes.ConversionResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ConversionResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return datatypes.ConversionResult{}, fmt.Errorf("get result %s: %w", id, err)
	}
	return result, nil
}

// List returns stored results in chronological order.
func (s *Store) List(opts ListOptions) ([]datatypes.ConversionResult, error) {
	var out []datatypes.ConversionResult
	err := s.scan(func(r datatypes.ConversionResult) bool {
		if !opts.match(r) {
			return true
		}
		out = append(out, r)
		return opts.Limit <= 0 || len(out) < opts.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates every stored result.
func (s *Store) Summary() (Summary, error) {
	all, err := s.List(ListOptions{})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all), nil
}

// Len counts stored results without decoding them.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(resultPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// scan decodes results in key order until fn returns false.
func (s *Store) scan(fn func(datatypes.ConversionResult) bool) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(resultPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r datatypes.ConversionResult
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if !fn(r) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	return nil
}
