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

package game

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ChunkCore/world"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	statsInterval       = 5 * time.Second
)

// Streamer drives one streaming world headless: it moves a camera along a
// path and ticks the chunk manager.
type Streamer struct {
	log *zap.Logger

	config  Config
	ctx     *world.StreamingContext
	mapping *world.GeometryMapping
	camera  *cameraPath
	viewer  *viewerLog
}

// NewStreamer opens the space directory and maps it into a fresh space.
// observer may be nil.
func NewStreamer(log *zap.Logger, config Config, observer world.LoadObserver) (*Streamer, error) {
	sc, m, err := createWorld(log, &config, observer)
	if err != nil {
		return nil, err
	}
	s := &Streamer{
		log:     log.Named("game"),
		config:  config,
		ctx:     sc,
		mapping: m,
		camera:  newCameraPath(config.CameraPath, config.CameraSpeed),
		viewer:  newViewerLog(log.Named("viewer")),
	}
	sc.Manager.AddViewer(s.viewer)
	return s, nil
}

// createWorld builds the streaming context and maps config.SpacePath into
// the configured space.
func createWorld(logger *zap.Logger, config *Config, observer world.LoadObserver) (*world.StreamingContext, *world.GeometryMapping, error) {
	if config.SpacePath == "" {
		return nil, nil, errors.New("no space-path configured")
	}
	abs, err := filepath.Abs(config.SpacePath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, nil, fmt.Errorf("open space fail: %w", err)
	}
	res := world.NewResources(os.DirFS(filepath.Dir(abs)))
	sc := world.NewStreamingContext(logger.Named("world"), res, config.World(), observer)

	id := world.SpaceID(config.SpaceID)
	if id == 0 {
		id = 1
	}
	space := sc.Manager.Space(id, true)
	mid := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs)))
	m, err := space.AddMapping(mid, world.IdentityMatrix, filepath.Base(abs))
	if err != nil {
		sc.Close()
		return nil, nil, fmt.Errorf("map space fail: %w", err)
	}
	return sc, m, nil
}

func (s *Streamer) Context() *world.StreamingContext { return s.ctx }

// Run ticks until ctx is done. The workers run alongside on the same group.
func (s *Streamer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ctx.Run(ctx) })
	g.Go(func() error { return s.tickLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Streamer) tickLoop(ctx context.Context) error {
	interval := s.config.TickInterval.Duration
	if interval <= 0 {
		interval = defaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mgr := s.ctx.Manager
	start := time.Now()
	last, lastStats := start, start
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.step(now.Sub(start), now.Sub(last))
			last = now
			if now.Sub(lastStats) >= statsInterval {
				lastStats = now
				st := mgr.Stats()
				s.log.Info("Streaming",
					zap.Int("chunks", st.Chunks),
					zap.Int("loading", st.Loading),
					zap.Uint32("tick", st.TickMark),
					zap.Int64("tickTimeMS", mgr.TotalTickTimeInMS()),
					zap.Int("bound", s.viewer.Bound()),
				)
			}
		}
	}
}

// step places the camera for elapsed time and ticks once.
func (s *Streamer) step(elapsed, dTime time.Duration) {
	mgr := s.ctx.Manager
	pos := s.camera.At(elapsed)
	mgr.Camera(world.Translation(pos), s.mapping.Space(), nil)
	mgr.Tick(dTime)
	mgr.Draw()
}

// Close clears the world.
func (s *Streamer) Close() {
	s.ctx.Manager.RemoveViewer(s.viewer)
	s.ctx.Close()
}
