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
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testMapping = "flat"
	testHall    = "hall_i"
)

// hallLayout is a strip of width outside chunks with one hall standing on
// cell (1, 0).
func hallLayout(width int) SpaceLayout {
	return SpaceLayout{
		Width: width,
		Depth: 1,
		Rocks: true,
		Halls: []HallLayout{{
			Name: testHall,
			Box:  BoundingBox{Min: Vector3{120, 0, 20}, Max: Vector3{180, 30, 80}},
		}},
	}
}

func layoutFS(t *testing.T, l SpaceLayout) fstest.MapFS {
	t.Helper()
	files, err := l.Contents(testMapping)
	require.NoError(t, err)
	fsys := make(fstest.MapFS, len(files))
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	return fsys
}

type recorder struct {
	mu     sync.Mutex
	events []LoadEvent
}

func (r *recorder) Record(ev LoadEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind LoadEventKind, chunk string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Chunk == chunk {
			n++
		}
	}
	return n
}

type countingViewer struct {
	loads, unloads map[string]int
}

func newCountingViewer() *countingViewer {
	return &countingViewer{loads: make(map[string]int), unloads: make(map[string]int)}
}

func (v *countingViewer) ViewChunkLoad(c *Chunk)   { v.loads[c.Identifier()]++ }
func (v *countingViewer) ViewChunkUnload(c *Chunk) { v.unloads[c.Identifier()]++ }

type testWorld struct {
	sc      *StreamingContext
	mgr     *ChunkManager
	space   *ChunkSpace
	mapping *GeometryMapping
	events  *recorder
	viewer  *countingViewer
}

// newTestWorld maps l into space 1. No workers run: WaitIdle executes the
// background tasks on the test goroutine.
func newTestWorld(t *testing.T, l SpaceLayout, cfg Config) *testWorld {
	t.Helper()
	return newTestWorldFS(t, layoutFS(t, l), cfg)
}

func newTestWorldFS(t *testing.T, fsys fstest.MapFS, cfg Config) *testWorld {
	t.Helper()
	rec := &recorder{}
	sc := NewStreamingContext(zap.NewNop(), NewResources(fsys), cfg, rec)
	space := sc.Manager.Space(1, true)
	m, err := space.AddMapping(uuid.NewSHA1(uuid.NameSpaceURL, []byte(testMapping)), IdentityMatrix, testMapping)
	require.NoError(t, err)
	t.Cleanup(sc.Close)

	w := &testWorld{
		sc:      sc,
		mgr:     sc.Manager,
		space:   space,
		mapping: m,
		events:  rec,
		viewer:  newCountingViewer(),
	}
	sc.Manager.AddViewer(w.viewer)
	return w
}

func (w *testWorld) look(p Vector3) {
	w.mgr.Camera(Translation(p), w.space, nil)
}

func (w *testWorld) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.mgr.WaitIdle(ctx))
}

func (w *testWorld) chunk(t *testing.T, identifier string) *Chunk {
	t.Helper()
	c := w.space.FindChunk(identifier, testMapping)
	require.NotNil(t, c, "chunk %s", identifier)
	return c
}
