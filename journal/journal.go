// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package journal keeps a sqlite record of chunk loads, binds and unloads.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ChunkCore/world"
)

var ErrClosed = errors.New("journal closed")

const defaultQueueSize = 4096

// Entry is one row of the journal.
type Entry struct {
	ID       int64
	Time     time.Time
	Space    uint32
	Mapping  string
	Chunk    string
	Event    string
	Duration time.Duration
	Items    int
	Err      string
}

type request struct {
	ev    world.LoadEvent
	flush chan struct{}
}

// Journal records load events. Record never blocks: events arriving while
// the queue is full are dropped and counted.
type Journal struct {
	log *zap.Logger
	db  *sql.DB

	// mu keeps sends from racing the close of ch
	mu   sync.RWMutex
	ch   chan request
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

// Open opens or creates the journal at path.
func Open(log *zap.Logger, path string, queueSize int) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path")
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir fail: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal fail: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	j := &Journal{
		log: log,
		db:  db,
		ch:  make(chan request, queueSize),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func initDB(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS chunk_loads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			space INTEGER NOT NULL,
			mapping TEXT NOT NULL,
			chunk TEXT NOT NULL,
			event TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			items INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_loads_chunk ON chunk_loads(mapping, chunk);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init journal fail: %w", err)
		}
	}
	return nil
}

// Record queues ev for writing.
func (j *Journal) Record(ev world.LoadEvent) {
	if j == nil {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed.Load() {
		return
	}
	select {
	case j.ch <- request{ev: ev}:
	default:
		if n := j.dropped.Add(1); n&(n-1) == 0 {
			j.log.Warn("Journal full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Dropped counts the events lost to a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Flush waits until every event queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := j.send(ctx, request{flush: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) send(ctx context.Context, r request) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed.Load() {
		return ErrClosed
	}
	select {
	case j.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed.Store(true)
		close(j.ch)
		j.mu.Unlock()
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

func (j *Journal) loop() {
	insert, err := j.db.Prepare(`INSERT INTO chunk_loads(ts,space,mapping,chunk,event,duration_ms,items,error) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		j.log.Error("Prepare journal insert fail", zap.Error(err))
		for r := range j.ch {
			if r.flush != nil {
				close(r.flush)
			}
		}
		return
	}
	defer insert.Close()

	for r := range j.ch {
		if r.flush != nil {
			close(r.flush)
			continue
		}
		ev := r.ev
		var msg sql.NullString
		if ev.Err != nil {
			msg = sql.NullString{String: ev.Err.Error(), Valid: true}
		}
		if _, err := insert.Exec(
			ev.Time.UTC().Format(time.RFC3339Nano),
			int64(ev.Space),
			ev.Mapping,
			ev.Chunk,
			ev.Kind.String(),
			float64(ev.Duration)/float64(time.Millisecond),
			ev.Items,
			msg,
		); err != nil {
			j.log.Error("Journal write fail", zap.String("chunk", ev.Chunk), zap.Error(err))
		}
	}
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	return j.query(ctx, `SELECT id,ts,space,mapping,chunk,event,duration_ms,items,error FROM chunk_loads ORDER BY id DESC LIMIT ?`, n)
}

// Failures returns every entry carrying an error, oldest first.
func (j *Journal) Failures(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, `SELECT id,ts,space,mapping,chunk,event,duration_ms,items,error FROM chunk_loads WHERE error IS NOT NULL ORDER BY id`)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal fail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
			ms float64
			em sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Space, &e.Mapping, &e.Chunk, &e.Event, &ms, &e.Items, &em); err != nil {
			return nil, fmt.Errorf("scan journal fail: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Duration = time.Duration(ms * float64(time.Millisecond))
		e.Err = em.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
