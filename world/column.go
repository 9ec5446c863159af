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
	"go.uber.org/zap"

	"ChunkCore/world/internal/bvh"
	"ChunkCore/world/internal/qtree"
)

// ObstacleTreeDepth is how many times a column's obstacle tree subdivides.
const ObstacleTreeDepth = 5

type (
	hullNode = bvh.Node[float64, aabb3d, *Chunk]
	hullTree = bvh.Tree[float64, aabb3d, *Chunk]
)

// Column indexes one grid cell of a focused space: which chunks cover
// which points, and which obstacles lie along which segments.
type Column struct {
	log   *zap.Logger
	coord GridCoord
	arena *ObstacleArena

	hull     hullTree
	holdings []*Chunk
	holding  map[*Chunk]*hullNode
	outside  *Chunk

	obstacles *qtree.Tree[float64, ObstacleHandle]
	held      []ObstacleHandle
	heldSet   map[ObstacleHandle]int

	stale  bool
	shutTo *Chunk
	seen   *Chunk
}

func newColumn(log *zap.Logger, coord GridCoord, arena *ObstacleArena) *Column {
	return &Column{
		log:       log.With(zap.Int("gx", coord.X), zap.Int("gz", coord.Z)),
		coord:     coord,
		arena:     arena,
		holding:   make(map[*Chunk]*hullNode),
		obstacles: qtree.New[float64, ObstacleHandle](GridToPoint(coord.X), GridToPoint(coord.Z), GridResolution, ObstacleTreeDepth),
		heldSet:   make(map[ObstacleHandle]int),
	}
}

func (col *Column) Coord() GridCoord { return col.coord }

// OutsideChunk is the outside chunk occupying this column, if any.
func (col *Column) OutsideChunk() *Chunk { return col.outside }

func (col *Column) Stale() bool { return col.stale }

// MarkStale makes the next focus drop and rebuild this column.
func (col *Column) MarkStale() { col.stale = true }

// HasChunk reports whether c has been added to this column.
func (col *Column) HasChunk(c *Chunk) bool {
	_, ok := col.holding[c]
	return ok
}

// Chunks lists the held chunks in the order they were added.
func (col *Column) Chunks() []*Chunk { return col.holdings }

// HeldObstacles lists the handles this column holds a reference on.
func (col *Column) HeldObstacles() []ObstacleHandle { return col.held }

func (col *Column) Holds(h ObstacleHandle) bool {
	_, ok := col.heldSet[h]
	return ok
}

// AddChunk makes c findable by point within this column. Only one outside
// chunk may occupy the column; of two, the one with more static items
// stays.
func (col *Column) AddChunk(c *Chunk) {
	if col.shutTo == c {
		return
	}
	if col.HasChunk(c) {
		return
	}
	if c.isOutside {
		if old := col.outside; old != nil {
			col.log.Warn("Two outside chunks in one column",
				zap.String("old", old.Identifier()),
				zap.String("new", c.Identifier()),
			)
			if c.SizeStaticItems() <= old.SizeStaticItems() {
				return
			}
			col.outside = c
			old.jogForeignItems()
		} else {
			col.outside = c
		}
		col.holding[c] = nil
	} else {
		col.holding[c] = col.hull.Insert(c.bb.aabb(), c)
		if col.outside != nil {
			col.outside.jogForeignItems()
		}
	}
	col.holdings = append(col.holdings, c)
}

// AddObstacle takes a reference on h and indexes it by its xz extent.
// Dynamic obstacles go to the root instead.
func (col *Column) AddObstacle(h ObstacleHandle) {
	ob, err := col.arena.Get(h)
	if err != nil {
		col.log.Error("Add obstacle", zap.Error(err))
		return
	}
	if ob.dynamic {
		col.AddDynamicObstacle(h)
		return
	}
	if col.shutTo != nil && col.shutTo == ob.chunk {
		return
	}
	if _, ok := col.heldSet[h]; ok {
		return
	}
	if err := col.arena.IncRef(h); err != nil {
		col.log.Error("Add obstacle", zap.Error(err))
		return
	}
	col.heldSet[h] = len(col.held)
	col.held = append(col.held, h)
	b := ob.bb
	col.obstacles.Add(h, b.Min.X, b.Min.Z, b.Max.X, b.Max.Z)
}

// AddDynamicObstacle holds h at the root of the obstacle tree, where every
// query sees it.
func (col *Column) AddDynamicObstacle(h ObstacleHandle) {
	if _, ok := col.heldSet[h]; ok {
		return
	}
	if err := col.arena.IncRef(h); err != nil {
		col.log.Error("Add dynamic obstacle", zap.Error(err))
		return
	}
	col.heldSet[h] = len(col.held)
	col.held = append(col.held, h)
	col.obstacles.AddRoot(h)
}

// DelDynamicObstacle undoes AddDynamicObstacle. Recently added obstacles
// are found first.
func (col *Column) DelDynamicObstacle(h ObstacleHandle) {
	if ob, err := col.arena.Get(h); err == nil && !ob.dynamic {
		col.log.Error("Static obstacle removed as dynamic", zap.Stringer("handle", h))
		return
	}
	i := len(col.held) - 1
	for ; i >= 0; i-- {
		if col.held[i] == h {
			break
		}
	}
	if i < 0 || !col.obstacles.RemoveRoot(h) {
		col.log.Error("Dynamic obstacle not held", zap.Stringer("handle", h))
		return
	}
	last := len(col.held) - 1
	col.held[i] = col.held[last]
	col.heldSet[col.held[i]] = i
	col.held = col.held[:last]
	delete(col.heldSet, h)
	if err := col.arena.DecRef(h); err != nil {
		col.log.Error("Release dynamic obstacle", zap.Error(err))
	}
}

// FindChunk returns the smallest bound chunk containing p, falling back to
// the outside chunk.
func (col *Column) FindChunk(p Vector3) *Chunk {
	return col.FindChunkExcluding(p, nil)
}

func (col *Column) FindChunkExcluding(p Vector3, not *Chunk) *Chunk {
	var found *Chunk
	if col.outside != not && col.outside != nil && col.outside.bound {
		found = col.outside
	}
	col.hull.Find(
		bvh.TouchPoint[vec3d, aabb3d](p.vec()),
		func(n *hullNode) bool {
			c := n.Value
			if c == not || !c.bound {
				return true
			}
			if found == nil || found == col.outside || found.Volume() > c.Volume() {
				if c.Contains(p, 0) {
					found = c
				}
			}
			return true
		},
	)
	return found
}

// OpenAndSee lets chunks into the column again, remembering c as the
// last one added.
func (col *Column) OpenAndSee(c *Chunk) {
	col.shutTo = nil
	col.seen = c
}

// ShutIfSeen keeps c out of the column if it was the last chunk seen.
func (col *Column) ShutIfSeen(c *Chunk) {
	if col.seen == c {
		col.shutTo = c
	}
}

// traverse visits the obstacles whose cells the xz segment crosses.
func (col *Column) traverse(start, end Vector3, visit func(ObstacleHandle) bool) {
	col.obstacles.Traverse(start.X, start.Z, end.X, end.Z, 0, visit)
}

// Close releases the column. Every chunk it held is smudged so that the
// next focus adds it again.
func (col *Column) Close() {
	for _, h := range col.held {
		if ob, err := col.arena.Get(h); err == nil && ob.chunk != nil {
			ob.chunk.Smudge()
		}
		if err := col.arena.DecRef(h); err != nil {
			col.log.Error("Release obstacle", zap.Error(err))
		}
	}
	for _, c := range col.holdings {
		c.Smudge()
	}
	col.held, col.heldSet = nil, nil
	col.holdings, col.holding = nil, nil
	col.outside = nil
	col.hull = hullTree{}
}
