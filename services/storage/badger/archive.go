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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get for unknown session ids.
var ErrNotFound = errors.New("session not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("archive closed")

const sessionPrefix = "session/"

// SessionArchive stores serialized sessions keyed by session id.
//
// Thread Safety: Safe for concurrent use.
type SessionArchive struct {
	db     *badger.DB
	gc     *gcRunner
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a session archive.
func Open(cfg Config) (*SessionArchive, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &SessionArchive{db: db, cfg: cfg, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("start archive GC: %w", err)
		}
		a.gc = runner
	}
	return a, nil
}

// Save stores data under id, replacing any previous value.
func (a *SessionArchive) Save(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return errors.New("session id is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	err := a.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(id), bytes.Clone(data))
		if a.cfg.TTL > 0 {
			entry = entry.WithTTL(a.cfg.TTL)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("archive session %s: %w", id, err)
	}
	a.logger.Debug("session archived", "session_id", id, "bytes", len(data))
	return nil
}

// Get returns the stored bytes for id.
func (a *SessionArchive) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}

	var out []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return out, nil
}

// IDs lists archived session ids in ascending order.
func (a *SessionArchive) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}

	var ids []string
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(sessionPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (a *SessionArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.gc != nil {
		a.gc.stop()
	}
	return a.db.Close()
}

func key(id string) []byte {
	return []byte(sessionPrefix + id)
}
