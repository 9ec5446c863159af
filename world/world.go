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

// Package world streams chunked spaces around a camera: chunks are loaded
// by background workers, bound to their neighbours through portals and
// indexed by grid columns for point and collision queries.
package world

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StreamingContext owns everything one streaming world needs. Components
// reach each other through it instead of through globals.
type StreamingContext struct {
	log       *zap.Logger
	Config    Config
	Resources *Resources
	Tasks     *TaskManager
	Loader    *ChunkLoader
	Manager   *ChunkManager
	Observer  LoadObserver
}

// Config tunes streaming.
type Config struct {
	Workers   int
	QueueSize int
	FocusSpan int

	FarPlane         float64
	MaxLoadPath      float64
	MinUnloadPath    float64
	MaxUnloadChunks  int
	MaxLoadingChunks int
	MaxWorthyChunks  int

	// BlindPanic loads the chunk under a lost camera synchronously
	// instead of seeding it in the background.
	BlindPanic bool

	// Limiter throttles background chunk loads. Nil means no limit.
	Limiter *rate.Limiter
}

func DefaultConfig() Config {
	return Config{
		Workers:          2,
		QueueSize:        256,
		FocusSpan:        DefaultFocusSpan,
		MaxLoadPath:      750,
		MinUnloadPath:    1000,
		MaxUnloadChunks:  1,
		MaxLoadingChunks: 20,
		MaxWorthyChunks:  10,
	}
}

// NewStreamingContext wires the task manager, loader and manager together.
// observer may be nil.
func NewStreamingContext(log *zap.Logger, res *Resources, cfg Config, observer LoadObserver) *StreamingContext {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.FocusSpan <= 0 {
		cfg.FocusSpan = def.FocusSpan
	}
	if observer == nil {
		observer = nopObserver{}
	}
	ctx := &StreamingContext{
		log:       log,
		Config:    cfg,
		Resources: res,
		Observer:  observer,
	}
	ctx.Tasks = NewTaskManager(log.Named("tasks"), cfg.Workers, cfg.QueueSize)
	ctx.Loader = NewChunkLoader(log.Named("loader"), ctx.Tasks, cfg.Limiter, observer)
	ctx.Manager = newChunkManager(log.Named("manager"), ctx)
	return ctx
}

// Run runs the background workers until ctx is done.
func (sc *StreamingContext) Run(ctx context.Context) error {
	return sc.Tasks.Run(ctx)
}

// Close clears every space.
func (sc *StreamingContext) Close() {
	sc.Manager.fini()
}
