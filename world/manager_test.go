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
	"fmt"
	"math"
	"path"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func identifiers(cs []*Chunk) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.Identifier()
	}
	return ids
}

func TestChunkManager_LoadsAroundCamera(t *testing.T) {
	w := newTestWorld(t, hallLayout(4), Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	for x := range 4 {
		c := w.chunk(t, OutsideChunkName(x, 0))
		assert.True(t, c.Bound(), "chunk %s", c)
		assert.True(t, c.Focused(), "chunk %s", c)
		assert.Equal(t, 1, w.events.count(EventLoad, c.Identifier()))
		assert.Equal(t, 1, w.viewer.loads[c.Identifier()])
	}
	hall := w.chunk(t, testHall)
	assert.True(t, hall.Bound())
	assert.False(t, hall.IsOutside())
	assert.NoError(t, hall.LoadError())
	assert.Equal(t, OutsideChunkName(0, 0), w.mgr.CameraChunk().Identifier())

	assert.Same(t, hall, w.space.FindChunkFromPoint(Vector3{150, 5, 50}))
	assert.Equal(t, OutsideChunkName(1, 0), w.space.FindChunkFromPoint(Vector3{150, 5, 90}).Identifier())
	assert.Nil(t, w.space.FindChunkFromPoint(Vector3{2000, 5, 50}))

	visible := w.mgr.Draw()
	assert.ElementsMatch(t,
		[]string{"00000000o", "00010000o", "00020000o", "00030000o", testHall},
		identifiers(visible))
	assert.Equal(t, OutsideChunkName(0, 0), visible[0].Identifier())
	assert.Equal(t, len(visible), w.mgr.DrawStats().Visible)
	assert.Empty(t, w.mgr.DrawTrace())
	assert.False(t, w.mgr.Busy())
}

func TestChunkManager_InvasivePortal(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	hall := w.chunk(t, testHall)
	outside := w.chunk(t, OutsideChunkName(1, 0))

	var door *Portal
	for _, b := range hall.Joints() {
		for _, p := range b.Bound() {
			if p.Chunk() == outside {
				door = p
			}
		}
	}
	require.NotNil(t, door, "hall door not bound to its outside chunk")
	assert.False(t, door.Internal())

	var cut *Portal
	for _, b := range outside.Joints() {
		for _, p := range b.Bound() {
			if p.Chunk() == hall {
				cut = p
			}
		}
	}
	require.NotNil(t, cut, "outside chunk has no portal into the hall")
	assert.True(t, cut.Internal())
	assert.True(t, outside.Overlappers().Holds(hall))
	assert.True(t, outside.Overlappers().Complete())
}

func TestChunkManager_OverlappersConverge(t *testing.T) {
	l := hallLayout(4)
	// the hall straddles cells 1 and 2
	l.Halls[0].Box = BoundingBox{Min: Vector3{160, 0, 20}, Max: Vector3{240, 30, 80}}
	w := newTestWorld(t, l, Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	hall := w.chunk(t, testHall)
	require.True(t, hall.Bound())
	for _, x := range []int{1, 2} {
		c := w.chunk(t, OutsideChunkName(x, 0))
		require.NotNil(t, c.Overlappers())
		assert.True(t, c.Overlappers().Holds(hall), "chunk %s", c)
		for _, o := range c.Overlappers().Overlappers() {
			assert.True(t, o.Overlapper().Appointed())
		}
	}
	assert.Nil(t, w.chunk(t, OutsideChunkName(0, 0)).Overlappers().Overlappers())
	assert.Same(t, hall, w.space.FindChunkFromPoint(Vector3{230, 5, 50}))
	assert.Equal(t, 1, w.events.count(EventLoad, testHall))
}

func TestChunkManager_OverlappersCompleteAtStripEdge(t *testing.T) {
	w := newTestWorld(t, hallLayout(10), Config{MaxLoadPath: 150})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	first := w.chunk(t, OutsideChunkName(0, 0))
	edge := w.chunk(t, OutsideChunkName(1, 0))
	require.True(t, edge.Bound())
	require.False(t, w.chunk(t, OutsideChunkName(2, 0)).Loaded())
	// cell 2 may still bring its own overlappers
	assert.False(t, edge.Overlappers().Complete())
	assert.True(t, first.Overlappers().Complete())

	w.look(Vector3{150, 5, 90})
	w.settle(t)

	next := w.chunk(t, OutsideChunkName(2, 0))
	require.True(t, next.Bound())
	require.False(t, w.chunk(t, OutsideChunkName(3, 0)).Loaded())
	assert.True(t, edge.Overlappers().Complete())
	assert.False(t, next.Overlappers().Complete())
	assert.True(t, first.Overlappers().Complete())
}

func TestChunkManager_LoadsWithRunningWorkers(t *testing.T) {
	w := newTestWorld(t, hallLayout(12), Config{Workers: 4, MaxLoadPath: 250, MinUnloadPath: 400, MaxUnloadChunks: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.sc.Tasks.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	require.Eventually(t, w.sc.Tasks.Running, time.Second, time.Millisecond)

	for i := range 300 {
		w.look(Vector3{50 + float64(i)*3.5, 5, 90})
		w.mgr.Tick(0)
		time.Sleep(time.Millisecond / 2)
	}
	w.settle(t)

	cam := w.mgr.CameraChunk()
	require.NotNil(t, cam)
	assert.Equal(t, OutsideChunkName(10, 0), cam.Identifier())
	for _, x := range []int{9, 10, 11} {
		c := w.chunk(t, OutsideChunkName(x, 0))
		assert.True(t, c.Bound(), "chunk %s", c)
		assert.NoError(t, c.LoadError(), "chunk %s", c)
	}
	assert.False(t, w.chunk(t, OutsideChunkName(0, 0)).Bound())
	assert.False(t, w.mgr.Busy())
}

func TestChunkManager_DuplicateOverlapper(t *testing.T) {
	l := hallLayout(3)
	fsys := layoutFS(t, l)
	for _, f := range l.Files() {
		if f.Name != OutsideChunkName(1, 0) {
			continue
		}
		doc := f.Doc.(yamlChunk)
		require.Len(t, doc.Overlapper, 1)
		doc.Overlapper = append(doc.Overlapper, doc.Overlapper[0])
		data, err := yaml.Marshal(doc)
		require.NoError(t, err)
		fsys[path.Join(testMapping, f.Name+ChunkSuffix)] = &fstest.MapFile{Data: data}
	}
	w := newTestWorldFS(t, fsys, Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	c := w.chunk(t, OutsideChunkName(1, 0))
	require.True(t, c.Bound())
	assert.ErrorIs(t, c.LoadError(), ErrDuplicateOverlapper)
	require.Len(t, c.Overlappers().Overlappers(), 1)
	hall := w.chunk(t, testHall)
	assert.True(t, hall.Bound())
	assert.Same(t, hall, c.Overlappers().Overlappers()[0].Overlapper())
	assert.Equal(t, 1, w.events.count(EventLoad, testHall))
}

func TestChunkManager_UnloadsBehindCamera(t *testing.T) {
	w := newTestWorld(t, hallLayout(10), Config{MaxLoadPath: 150, MinUnloadPath: 300, MaxUnloadChunks: 20})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	assert.True(t, w.chunk(t, OutsideChunkName(0, 0)).Bound())
	assert.True(t, w.chunk(t, OutsideChunkName(1, 0)).Bound())
	assert.True(t, w.chunk(t, testHall).Bound())
	// named by a portal of cell 1 but out of reach
	assert.False(t, w.chunk(t, OutsideChunkName(2, 0)).Loaded())

	w.look(Vector3{950, 5, 50})
	w.settle(t)

	assert.True(t, w.chunk(t, OutsideChunkName(9, 0)).Bound())
	assert.True(t, w.chunk(t, OutsideChunkName(8, 0)).Bound())
	assert.False(t, w.chunk(t, OutsideChunkName(7, 0)).Loaded())
	for _, id := range []string{OutsideChunkName(0, 0), OutsideChunkName(1, 0), testHall} {
		c := w.chunk(t, id)
		assert.False(t, c.Bound(), "chunk %s", id)
		assert.False(t, c.Loaded(), "chunk %s", id)
		assert.Equal(t, 1, w.events.count(EventUnload, id), "chunk %s", id)
		assert.Equal(t, 1, w.viewer.unloads[id], "chunk %s", id)
	}
	assert.Equal(t, OutsideChunkName(9, 0), w.mgr.CameraChunk().Identifier())
	assert.ElementsMatch(t, []string{"00090000o", "00080000o"}, identifiers(w.mgr.Draw()))
}

func TestChunkManager_SyncLoad(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})
	defer w.mgr.ScopedSyncMode()()
	require.True(t, w.mgr.SyncMode())

	c := w.mgr.LoadChunkNow(OutsideChunkName(1, 0), w.mapping)
	assert.True(t, c.Bound())
	hall := w.chunk(t, testHall)
	assert.True(t, hall.Bound(), "overlapper loads with its chunk")
	assert.True(t, c.Overlappers().Holds(hall))
	assert.Same(t, hall, w.space.FindChunkFromPoint(Vector3{150, 5, 50}))

	// neighbours are known but not loaded
	assert.False(t, w.chunk(t, OutsideChunkName(0, 0)).Loaded())
	assert.Same(t, c, w.mgr.LoadChunkNow(OutsideChunkName(1, 0), w.mapping))
	assert.Equal(t, 1, w.events.count(EventLoad, c.Identifier()))
}

func TestChunkManager_SyncModeFlushesLoading(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})
	w.look(Vector3{50, 5, 50})
	w.mgr.Tick(0)
	require.Positive(t, w.mgr.Stats().Loading)

	w.mgr.SwitchToSyncMode(true)
	assert.Zero(t, w.mgr.Stats().Loading)
	assert.True(t, w.chunk(t, OutsideChunkName(0, 0)).Bound())

	w.mgr.SwitchToSyncMode(false)
	assert.False(t, w.mgr.SyncMode())
	// unbalanced switch-off is ignored
	w.mgr.SwitchToSyncMode(false)
	assert.False(t, w.mgr.SyncMode())
}

func TestChunkManager_BlindPanic(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{BlindPanic: true})
	w.look(Vector3{50, 5, 50})
	w.mgr.Tick(0)

	c := w.chunk(t, OutsideChunkName(0, 0))
	assert.True(t, c.Bound(), "camera chunk loads within the tick")
	assert.Same(t, c, w.space.FindChunkFromPoint(Vector3{50, 5, 50}))
}

func TestChunkManager_PanicLoadsInsideChunk(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{BlindPanic: true})
	w.look(Vector3{150, 5, 50})
	w.mgr.Tick(0)

	hall := w.chunk(t, testHall)
	assert.True(t, hall.Bound())
	assert.Same(t, hall, w.space.FindChunkFromPoint(Vector3{150, 5, 50}))
}

func TestChunkManager_AddChunkToSpaceConcurrently(t *testing.T) {
	w := newTestWorld(t, hallLayout(2), Config{QueueSize: 4})
	const workers, per = 4, 25

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range per {
				w.mgr.AddChunkToSpace(NewChunk(fmt.Sprintf("extra_%d_%d", i, j), w.mapping), 1)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			w.mgr.Tick(time.Millisecond)
		}
	}
	w.mgr.Tick(0)

	assert.Equal(t, workers*per, w.space.NumChunks())
	assert.True(t, w.space.FindChunk("extra_3_24", "").Appointed())
	assert.Zero(t, w.mgr.Stats().Staged)
}

func TestChunkManager_StagedChunkForGoneSpace(t *testing.T) {
	w := newTestWorld(t, hallLayout(2), Config{})
	c := NewChunk("stray", w.mapping)
	w.mgr.AddChunkToSpace(c, 7)
	w.mgr.Tick(0)
	assert.True(t, c.Deleted())
	assert.Nil(t, w.mgr.Space(7, false))
}

func TestChunkManager_ClearReleasesReferences(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	arena := w.space.Arena()
	require.Positive(t, arena.Len())
	require.Greater(t, w.mapping.Refs(), int32(1))

	w.mgr.ClearAllSpaces()
	assert.Zero(t, arena.Len())
	assert.Zero(t, w.mapping.Refs())
	assert.Zero(t, w.space.NumChunks())
	assert.False(t, w.space.IsMapped())
	assert.Nil(t, w.mgr.CameraChunk())
}

func TestChunkManager_PathConstraints(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{FarPlane: 500})
	maxLoad, minUnload := w.mgr.PathConstraints()
	diag := math.Sqrt2 * GridResolution
	assert.InDelta(t, math.Sqrt(2*500*500)+diag, maxLoad, 1e-9)
	assert.InDelta(t, maxLoad+1.01*diag, minUnload, 1e-9)

	w.mgr.SetPathConstraints(200, 100)
	maxLoad, minUnload = w.mgr.PathConstraints()
	assert.Equal(t, 200.0, maxLoad)
	assert.Equal(t, 100.0, minUnload)
}

func TestChunkManager_ViewersAndSpaces(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	assert.Panics(t, func() { w.mgr.AddViewer(w.viewer) })
	assert.True(t, w.mgr.RemoveViewer(w.viewer))
	assert.False(t, w.mgr.RemoveViewer(w.viewer))

	w.mgr.Space(3, true)
	require.Len(t, w.mgr.Spaces(), 2)
	assert.Equal(t, SpaceID(1), w.mgr.Spaces()[0].ID())
	w.mgr.DelSpace(3)
	assert.Nil(t, w.mgr.Space(3, false))
	assert.Len(t, w.mgr.Spaces(), 1)
}
