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
)

// rockWorld is three bound outside chunks with a rock in each, and a box
// straddling the first two columns.
func rockWorld(t *testing.T) (*testWorld, *DynamicItem) {
	t.Helper()
	w := newTestWorld(t, SpaceLayout{Width: 3, Depth: 1, Rocks: true}, Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)
	d := NewDynamicItem(w.space, Translation(Vector3{90, 0, 40}), BoxShape{Box: BoundingBox{Max: Vector3{20, 10, 20}}})
	w.space.AddDynamicItem(d)
	require.NotNil(t, d.Chunk())
	return w, d
}

func TestChunkSpace_CollideVisitsObstaclesOnce(t *testing.T) {
	w, d := rockWorld(t)

	hits := make(map[ObstacleHandle][]float64)
	dist := w.space.Collide(Vector3{20, 5, 50}, Vector3{180, 5, 50}, CollisionFunc(func(ob *ChunkObstacle, tri Triangle, dist float64) int {
		hits[ob.Handle()] = append(hits[ob.Handle()], dist)
		return CollideAll
	}))

	require.Len(t, hits, 3)
	for h, ds := range hits {
		assert.Len(t, ds, 2, "obstacle %s", h)
	}
	dyn := hits[d.Obstacles()[0]]
	assert.InDelta(t, 70, dyn[0], 1e-9)
	assert.InDelta(t, 90, dyn[1], 1e-9)
	assert.InDelta(t, 140, dist, 1e-9)
}

func TestChunkSpace_CollideStops(t *testing.T) {
	w, _ := rockWorld(t)

	calls := 0
	var (
		first *ChunkObstacle
		hit   float64
	)
	dist := w.space.Collide(Vector3{20, 5, 50}, Vector3{180, 5, 50}, CollisionFunc(func(ob *ChunkObstacle, _ Triangle, d float64) int {
		calls++
		first, hit = ob, d
		return 0
	}))
	assert.Equal(t, 1, calls)
	require.NotNil(t, first)
	assert.InDelta(t, hit, dist, 1e-9)
	assert.True(t, dist >= 0 && dist <= 160, "dist %v", dist)
}

func TestChunkSpace_CollideMisses(t *testing.T) {
	w, _ := rockWorld(t)

	dist := w.space.Collide(Vector3{20, 50, 50}, Vector3{180, 50, 50}, CollisionFunc(func(*ChunkObstacle, Triangle, float64) int {
		t.Fatal("nothing lies at this height")
		return 0
	}))
	assert.Equal(t, -1.0, dist)
	assert.Panics(t, func() {
		w.space.Collide(Vector3{}, Vector3{2 * maxWorldCoord, 0, 0}, CollisionFunc(func(*ChunkObstacle, Triangle, float64) int { return 0 }))
	})
}

func TestChunkSpace_CollideTerrain(t *testing.T) {
	w := newTestWorld(t, SpaceLayout{Width: 1, Depth: 1, TerrainResolution: 9}, Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)

	terrain := w.chunk(t, OutsideChunkName(0, 0)).Terrain()
	require.NotNil(t, terrain)
	terrain.Wait()
	assert.True(t, terrain.Ready())
	assert.Equal(t, 9, terrain.Resolution())

	// off the cell edges, where the mesh and the sampler agree
	const x, z = 53.125, 53.125
	h := terrain.HeightAt(x, z)
	var hit Triangle
	dist := w.space.Collide(Vector3{x, 100, z}, Vector3{x, -100, z}, CollisionFunc(func(_ *ChunkObstacle, tri Triangle, _ float64) int {
		hit = tri
		return 0
	}))
	require.GreaterOrEqual(t, dist, 0.0)
	assert.InDelta(t, 100-h, dist, 1e-4)
	assert.InDelta(t, h, hit[0].Y, 5)
}
