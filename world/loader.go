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
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChunkLoader fills empty chunks from their content on background workers.
type ChunkLoader struct {
	log      *zap.Logger
	tasks    *TaskManager
	provider ChunkProvider
	limiter  *rate.Limiter
	observer LoadObserver
}

func NewChunkLoader(log *zap.Logger, tasks *TaskManager, limiter *rate.Limiter, observer LoadObserver) *ChunkLoader {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ChunkLoader{log: log, tasks: tasks, limiter: limiter, observer: observer}
}

// Load marks c loading and queues its load. The chunk becomes Loaded on a
// worker; the manager notices on a later tick.
func (l *ChunkLoader) Load(c *Chunk, pri Priority) {
	if !c.loading.CompareAndSwap(false, true) {
		l.log.Panic("Chunk already loading", zap.String("chunk", c.identifier))
	}
	l.tasks.AddBackgroundTask(pri, func(ctx context.Context) {
		if l.limiter != nil {
			// a cancelled wait leaves the chunk loading; the workers are stopping
			if err := l.limiter.Wait(ctx); err != nil {
				l.log.Debug("Chunk load abandoned", zap.String("chunk", c.identifier), zap.Error(err))
				return
			}
		}
		l.load(c)
	})
}

// LoadNow loads c on the calling goroutine, which must be the main one.
func (l *ChunkLoader) LoadNow(c *Chunk) {
	if !c.loading.CompareAndSwap(false, true) {
		l.log.Panic("Chunk already loading", zap.String("chunk", c.identifier))
	}
	c.inline = true
	defer func() { c.inline = false }()
	l.load(c)
}

func (l *ChunkLoader) load(c *Chunk) {
	start := time.Now()
	logger := c.log
	if c.loaded.Load() {
		logger.Error("Loading a loaded chunk")
		return
	}
	logger.Debug("Loading chunk")

	s, cdata, err := l.provider.GetChunk(c)
	switch {
	case errors.Is(err, ErrSectionNotFound):
		s, cdata, err = nil, nil, nil
	case err != nil && s != nil:
		logger.Error("Chunk data unreadable", zap.Error(err))
	case err != nil:
		logger.Error("Chunk unreadable", zap.Error(err))
	}

	loadErr := c.populate(s, cdata)
	ev := newLoadEvent(c, EventLoad)
	ev.Duration = time.Since(start)
	ev.Items = len(c.items)
	ev.Err = errors.Join(err, loadErr)
	c.loaded.Store(true)

	l.observer.Record(ev)
	logger.Debug("Loaded chunk", zap.Duration("took", ev.Duration), zap.Int("items", ev.Items))
}

// FindSeed guesses the chunk holding p on a worker and passes it to done on
// the main goroutine. done gets nil when no mapping covers p.
func (l *ChunkLoader) FindSeed(space *ChunkSpace, p Vector3, done func(*Chunk)) {
	l.tasks.AddBackgroundTask(PrioritySeed, func(context.Context) {
		c := space.GuessChunk(p, true)
		l.tasks.AddMainThreadTask(func() { done(c) })
	})
}
