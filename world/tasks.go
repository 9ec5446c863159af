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

package world

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Priority orders background tasks; lower runs earlier.
type Priority int

const (
	PriorityHigh    Priority = 0
	PriorityTerrain Priority = 8
	PrioritySeed    Priority = 15
	PriorityDefault Priority = 16
)

var ErrTasksRunning = errors.New("task manager already running")

type task struct {
	pri Priority
	seq uint64
	fn  func(ctx context.Context)
}

type taskQueue []task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].pri != q[j].pri {
		return q[i].pri < q[j].pri
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(task)) }
func (q *taskQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	*q = old[:len(old)-1]
	return t
}

// TaskManager runs background tasks on a pool of workers and hands
// callbacks back to the main goroutine, which drains them with Tick.
type TaskManager struct {
	log     *zap.Logger
	workers int

	mu    sync.Mutex
	queue taskQueue
	seq   uint64
	wake  chan struct{}

	callbacks *Mailbox[func()]
	changed   chan struct{}
	pending   atomic.Int64
	running   atomic.Bool
}

func NewTaskManager(log *zap.Logger, workers, queueSize int) *TaskManager {
	workers = max(workers, 1)
	return &TaskManager{
		log:       log,
		workers:   workers,
		wake:      make(chan struct{}, workers),
		callbacks: NewMailbox[func()](queueSize),
		changed:   make(chan struct{}, 1),
	}
}

// AddBackgroundTask queues fn for a worker. It may be called from any
// goroutine.
func (m *TaskManager) AddBackgroundTask(pri Priority, fn func(ctx context.Context)) {
	m.pending.Add(1)
	m.mu.Lock()
	m.seq++
	heap.Push(&m.queue, task{pri: pri, seq: m.seq, fn: fn})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// AddMainThreadTask queues fn for the next Tick.
func (m *TaskManager) AddMainThreadTask(fn func()) {
	m.pending.Add(1)
	m.callbacks.Send(fn)
	m.notify()
}

// Pending counts queued and running tasks and undrained callbacks.
func (m *TaskManager) Pending() int64 { return m.pending.Load() }

func (m *TaskManager) Running() bool { return m.running.Load() }

// Run starts the workers and blocks until ctx is done or a worker fails.
func (m *TaskManager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrTasksRunning
	}
	defer m.running.Store(false)
	m.log.Debug("Task workers start", zap.Int("workers", m.workers))

	g, gctx := errgroup.WithContext(ctx)
	for range m.workers {
		g.Go(func() error { return m.work(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *TaskManager) work(ctx context.Context) error {
	for {
		t, ok := m.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.wake:
				continue
			}
		}
		m.exec(ctx, t)
	}
}

func (m *TaskManager) pop() (task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return task{}, false
	}
	return heap.Pop(&m.queue).(task), true
}

func (m *TaskManager) exec(ctx context.Context, t task) {
	defer m.notify()
	defer m.pending.Add(-1)
	t.fn(ctx)
}

func (m *TaskManager) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Tick runs the callbacks queued for the main goroutine.
func (m *TaskManager) Tick() int {
	return m.callbacks.Drain(func(fn func()) {
		defer m.pending.Add(-1)
		fn()
	})
}

// Wait blocks until some task finishes or a callback arrives. With no
// workers running it runs the next queued task itself instead.
func (m *TaskManager) Wait(ctx context.Context) error {
	if !m.running.Load() {
		if t, ok := m.pop(); ok {
			m.exec(ctx, t)
			return nil
		}
		if m.callbacks.Len() > 0 {
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.changed:
		return nil
	}
}

// WaitIdle runs callbacks until no work is left.
func (m *TaskManager) WaitIdle(ctx context.Context) error {
	for {
		m.Tick()
		if m.pending.Load() == 0 {
			return nil
		}
		if err := m.Wait(ctx); err != nil {
			return err
		}
	}
}
