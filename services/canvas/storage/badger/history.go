// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/dgraph-io/badger/v4"
)

// historyPrefix namespaces placement records inside the database.
var historyPrefix = []byte("h/")

// keyLen is prefix + 8-byte timestamp + 8-byte sequence.
var keyLen = len(historyPrefix) + 16

// ErrDisabled is returned by callers that expose History when no index is
// configured.
var ErrDisabled = errors.New("history index disabled")

// DefaultQueryLimit caps Since results when the caller passes no limit.
const DefaultQueryLimit = 1000

// History is a time-ordered index of placement records.
//
// # Key Layout
//
//	"h/" | timestamp_ms (8, big-endian) | sequence (8, big-endian)
//
// Big-endian keys sort by time, then by arrival within one millisecond.
// The value is the record's 16-byte diff-file encoding.
type History struct {
	db *DB

	mu  sync.Mutex
	seq uint64
}

// NewHistory opens the index over db and resumes the sequence counter from
// the newest stored key.
func NewHistory(db *DB) (*History, error) {
	h := &History{db: db}
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, historyPrefix...), 0xff)
		it.Seek(seekKey)
		if it.ValidForPrefix(historyPrefix) {
			key := it.Item().Key()
			if len(key) == keyLen {
				h.seq = binary.BigEndian.Uint64(key[len(historyPrefix)+8:])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resume history sequence: %w", err)
	}
	return h, nil
}

func (h *History) nextKey(timestampMs uint64) []byte {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	key := make([]byte, keyLen)
	copy(key, historyPrefix)
	binary.BigEndian.PutUint64(key[len(historyPrefix):], timestampMs)
	binary.BigEndian.PutUint64(key[len(historyPrefix)+8:], seq)
	return key
}

// Add indexes one record.
func (h *History) Add(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	value, _ := rec.MarshalBinary()
	key := h.nextKey(rec.TimestampMs)
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// OnPlacement implements the placement listener contract.
func (h *History) OnPlacement(ctx context.Context, rec storage.Record) error {
	return h.Add(ctx, rec)
}

// Since returns up to limit records with TimestampMs >= sinceMs, oldest
// first. A non-positive limit uses DefaultQueryLimit.
func (h *History) Since(ctx context.Context, sinceMs uint64, limit int) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	start := make([]byte, len(historyPrefix)+8)
	copy(start, historyPrefix)
	binary.BigEndian.PutUint64(start[len(historyPrefix):], sinceMs)

	var out []storage.Record
	err := h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(historyPrefix) && len(out) < limit; it.Next() {
			var rec storage.Record
			err := it.Item().Value(func(val []byte) error {
				return rec.UnmarshalBinary(val)
			})
			if err != nil {
				return fmt.Errorf("decode history entry %x: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of indexed records.
func (h *History) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	var n int64
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Rebuild indexes every record from reader. It is meant for an empty index
// at startup; running it over a populated index duplicates entries.
//
// # Description
//
// A crash in the middle of an append leaves a partial record at the end of
// the diff file. The complete records before it are still indexed and the
// truncation is reported alongside them.
//
// # Outputs
//
//   - int64: Number of records written to the index.
//   - error: First read or write failure. Wraps storage.ErrTruncatedRecord
//     when the file ends mid-record; the count is then the records before it.
func (h *History) Rebuild(ctx context.Context, reader *storage.DiffReader) (int64, error) {
	wb := h.db.NewWriteBatch()

	var n int64
	err := reader.ForEach(func(rec storage.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, _ := rec.MarshalBinary()
		if err := wb.Set(h.nextKey(rec.TimestampMs), value); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrTruncatedRecord) {
		wb.Cancel()
		return 0, fmt.Errorf("rebuild history: %w", err)
	}
	if flushErr := wb.Flush(); flushErr != nil {
		return 0, fmt.Errorf("flush history: %w", flushErr)
	}
	if err != nil {
		return n, fmt.Errorf("rebuild history: %w", err)
	}
	return n, nil
}
