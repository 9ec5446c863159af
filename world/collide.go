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
	"math"

	"go.uber.org/zap"
)

// Bits of a CollisionCallback result. Zero stops the query.
const (
	CollideBefore = 1
	CollideAfter  = 2
	CollideAll    = CollideBefore | CollideAfter
)

// CollisionCallback receives every triangle a query crosses, in world
// space, with its distance along the query. The result asks for hits
// before and/or after this one; zero ends the query.
type CollisionCallback interface {
	Collide(ob *ChunkObstacle, tri Triangle, dist float64) int
}

type CollisionFunc func(ob *ChunkObstacle, tri Triangle, dist float64) int

func (f CollisionFunc) Collide(ob *ChunkObstacle, tri Triangle, dist float64) int {
	return f(ob, tri, dist)
}

// Collide sweeps the segment from start to end through the obstacles of
// the focused columns it crosses. It returns the distance of the last
// reported hit, or -1 when nothing was hit. Each obstacle is tested once
// however many columns hold it.
func (s *ChunkSpace) Collide(start, end Vector3, cc CollisionCallback) float64 {
	for _, p := range [2]Vector3{start, end} {
		if math.Abs(p.X) > maxWorldCoord || math.Abs(p.Y) > maxWorldCoord || math.Abs(p.Z) > maxWorldCoord {
			s.log.Panic("Collision outside the world",
				zap.Float64("x", p.X), zap.Float64("y", p.Y), zap.Float64("z", p.Z))
		}
	}

	epoch := s.arena.NextMark()
	length := end.Sub(start).Length()
	hit := -1.0
	var onlyLess, onlyMore, stop bool

	visit := func(h ObstacleHandle) bool {
		ob, err := s.arena.Get(h)
		if err != nil {
			s.log.Error("Collide", zap.Error(err))
			return true
		}
		if ob.Mark(epoch) || ob.chunk == nil {
			return true
		}
		if _, _, ok := ob.bb.ClipSegment(start, end); !ok {
			return true
		}
		ls, le := ob.inverse.ApplyPoint(start), ob.inverse.ApplyPoint(end)
		intersectShape(ob.shape, ls, le, func(t float64, tri Triangle) bool {
			dist := t * length
			if (onlyLess && dist > hit) || (onlyMore && dist < hit) {
				return true
			}
			r := cc.Collide(ob, tri.Transform(ob.transform), dist)
			hit = dist
			if r == 0 {
				stop = true
				return false
			}
			onlyLess = r&CollideAfter == 0
			onlyMore = r&CollideBefore == 0
			return true
		})
		return !stop
	}

	s.columnsAlong(start, end, func(col *Column) bool {
		col.traverse(start, end, visit)
		return !stop
	})
	return hit
}

// columnsAlong visits the existing columns under the xz projection of the
// segment, in order from start.
func (s *ChunkSpace) columnsAlong(start, end Vector3, visit func(*Column) bool) {
	x, z := PointToGrid(start.X), PointToGrid(start.Z)
	ex, ez := PointToGrid(end.X), PointToGrid(end.Z)
	dx, dz := end.X-start.X, end.Z-start.Z

	step := func(g int, from, d float64) (dir int, tMax, tDelta float64) {
		switch {
		case d > 0:
			return 1, (GridToPoint(g+1) - from) / d, GridResolution / d
		case d < 0:
			return -1, (GridToPoint(g) - from) / d, -GridResolution / d
		}
		return 0, math.Inf(1), math.Inf(1)
	}
	stepX, tMaxX, tDeltaX := step(x, start.X, dx)
	stepZ, tMaxZ, tDeltaZ := step(z, start.Z, dz)

	n := abs(ex-x) + abs(ez-z)
	for i := 0; i <= n; i++ {
		if col := s.columnAt(GridCoord{x, z}, false); col != nil {
			if !visit(col) {
				return
			}
		}
		if tMaxX < tMaxZ {
			x += stepX
			tMaxX += tDeltaX
		} else {
			z += stepZ
			tMaxZ += tDeltaZ
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
