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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestColumn_OutsideTieBreak(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	col := newColumn(zap.NewNop(), GridCoord{}, w.space.Arena())

	first := NewChunk(OutsideChunkName(0, 0), w.mapping)
	second := NewChunk(OutsideChunkName(0, 0), w.mapping)
	defer first.destroy()
	defer second.destroy()

	col.AddChunk(first)
	col.AddChunk(second)
	assert.Same(t, first, col.OutsideChunk(), "equal item counts keep the old chunk")
	assert.False(t, col.HasChunk(second))

	second.items = []ChunkItem{&ModelItem{}}
	col.AddChunk(second)
	assert.Same(t, second, col.OutsideChunk(), "more static items win")
	assert.Equal(t, []*Chunk{first, second}, col.Chunks())

	col.AddChunk(first)
	assert.Same(t, second, col.OutsideChunk())
}

func TestColumn_FindChunkNeedsBound(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	col := newColumn(zap.NewNop(), GridCoord{}, w.space.Arena())
	c := NewChunk(OutsideChunkName(0, 0), w.mapping)
	defer c.destroy()

	col.AddChunk(c)
	p := Vector3{50, 5, 50}
	assert.Nil(t, col.FindChunk(p))
	c.bound = true
	assert.Same(t, c, col.FindChunk(p))
	assert.Nil(t, col.FindChunkExcluding(p, c))
}

func TestColumn_ShutIfSeen(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	col := newColumn(zap.NewNop(), GridCoord{}, w.space.Arena())
	c := NewChunk(OutsideChunkName(0, 0), w.mapping)
	defer c.destroy()

	col.OpenAndSee(c)
	col.ShutIfSeen(c)
	col.AddChunk(c)
	assert.False(t, col.HasChunk(c), "a shut column ignores the chunk it last saw")

	col.OpenAndSee(nil)
	col.AddChunk(c)
	assert.True(t, col.HasChunk(c))
}

func TestColumn_ObstacleReferences(t *testing.T) {
	arena := NewObstacleArena()
	col := newColumn(zap.NewNop(), GridCoord{}, arena)
	box := BoxShape{Box: BoundingBox{Max: Vector3{10, 10, 10}}}

	static := arena.Alloc(NewChunkObstacle(Translation(Vector3{20, 0, 20}), box, nil))
	col.AddObstacle(static)
	col.AddObstacle(static)
	assert.Equal(t, int32(2), arena.Refs(static))
	assert.True(t, col.Holds(static))

	d1 := arena.Alloc(NewChunkObstacle(IdentityMatrix, box, nil))
	d2 := arena.Alloc(NewChunkObstacle(IdentityMatrix, box, nil))
	col.AddDynamicObstacle(d1)
	col.AddDynamicObstacle(d2)
	col.DelDynamicObstacle(d1)
	assert.False(t, col.Holds(d1))
	assert.True(t, col.Holds(d2))
	assert.Equal(t, int32(1), arena.Refs(d1))
	assert.ElementsMatch(t, []ObstacleHandle{static, d2}, col.HeldObstacles())

	col.Close()
	for _, h := range []ObstacleHandle{static, d1, d2} {
		assert.Equal(t, int32(1), arena.Refs(h), "handle %s", h)
		require.NoError(t, arena.DecRef(h))
	}
	assert.Zero(t, arena.Len())
	assert.ErrorIs(t, arena.DecRef(static), ErrStaleHandle)

	// a recycled slot does not answer to the old handle
	again := arena.Alloc(NewChunkObstacle(IdentityMatrix, box, nil))
	assert.NotEqual(t, static, again)
	_, err := arena.Get(static)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestColumn_DynamicObstaclesAtRoot(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	arena := w.space.Arena()
	col := newColumn(zap.NewNop(), GridCoord{}, arena)
	box := BoxShape{Box: BoundingBox{Max: Vector3{10, 10, 10}}}

	hs := arena.Alloc(NewChunkObstacle(Translation(Vector3{5, 0, 5}), box, nil))
	col.AddObstacle(hs)
	require.True(t, col.Holds(hs))
	col.DelDynamicObstacle(hs)
	assert.True(t, col.Holds(hs), "a static obstacle stays put")
	assert.EqualValues(t, 2, arena.Refs(hs))

	dyn := NewChunkObstacle(Translation(Vector3{40, 0, 40}), box, nil)
	dyn.dynamic = true
	hd := arena.Alloc(dyn)
	require.True(t, dyn.Dynamic())
	col.AddObstacle(hd)
	require.True(t, col.Holds(hd))
	col.DelDynamicObstacle(hd)
	assert.False(t, col.Holds(hd))
	assert.EqualValues(t, 1, arena.Refs(hd))

	col.Close()
	require.NoError(t, arena.DecRef(hs))
	require.NoError(t, arena.DecRef(hd))
	assert.Zero(t, arena.Refs(hs))
}
