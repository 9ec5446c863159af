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
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// SpaceID names a space within a manager. Zero is not a valid space.
type SpaceID uint32

// DefaultFocusSpan is how many columns the focus grid reaches either side
// of its centre.
const DefaultFocusSpan = 6

// BaseChunkSpace holds every chunk a space knows of, loaded or not, and
// the grid of columns around the focus point.
//
// The chunk maps and the columns are mutated by one goroutine at a time.
// Exported mutators enter a guard that panics when a second mutation
// begins before the first has finished.
type BaseChunkSpace struct {
	log   *zap.Logger
	id    SpaceID
	arena *ObstacleArena

	writer atomic.Bool

	chunks map[string][]*Chunk
	grid   map[GridCoord][]*Chunk

	span    int
	focus   GridCoord
	columns []*Column
	blurred []*Chunk
	binding []*Chunk

	entriesMu sync.Mutex
	entries   map[dataKey][]byte
}

func newBaseChunkSpace(log *zap.Logger, id SpaceID, span int) BaseChunkSpace {
	if span <= 0 {
		span = DefaultFocusSpan
	}
	return BaseChunkSpace{
		log:     log,
		id:      id,
		arena:   NewObstacleArena(),
		chunks:  make(map[string][]*Chunk),
		grid:    make(map[GridCoord][]*Chunk),
		span:    span,
		columns: make([]*Column, (2*span+1)*(2*span+1)),
		entries: make(map[dataKey][]byte),
	}
}

// enter marks the start of a mutation and returns the function ending it.
func (s *BaseChunkSpace) enter() func() {
	if !s.writer.CompareAndSwap(false, true) {
		s.log.Panic("Concurrent mutation of chunk space", zap.Uint32("space", uint32(s.id)))
	}
	return func() { s.writer.Store(false) }
}

func (s *BaseChunkSpace) ID() SpaceID           { return s.id }
func (s *BaseChunkSpace) Arena() *ObstacleArena { return s.arena }
func (s *BaseChunkSpace) FocusSpan() int        { return s.span }

// AddChunk appoints c as the chunk of its identifier and mapping. The pair
// must not be present already; FindOrAddChunk merges duplicates instead.
func (s *BaseChunkSpace) AddChunk(c *Chunk) {
	defer s.enter()()
	s.addChunk(c)
}

func (s *BaseChunkSpace) addChunk(c *Chunk) {
	if c.deleted.Load() {
		s.log.Panic("Adding a destroyed chunk", zap.String("chunk", c.identifier))
	}
	s.chunks[c.identifier] = append(s.chunks[c.identifier], c)
	if c.isOutside {
		g := gridOf(c.centre)
		s.grid[g] = append(s.grid[g], c)
	}
	c.appointed = true
}

// FindOrAddChunk returns the chunk already appointed for c's identifier
// and mapping, destroying c, or appoints c if there is none.
func (s *BaseChunkSpace) FindOrAddChunk(c *Chunk) *Chunk {
	defer s.enter()()
	return s.findOrAddChunk(c)
}

func (s *BaseChunkSpace) findOrAddChunk(c *Chunk) *Chunk {
	if c.appointed {
		return c
	}
	if found := s.findChunk(c.identifier, c.mapping); found != nil {
		if found != c {
			c.destroy()
		}
		return found
	}
	s.addChunk(c)
	return c
}

// DelChunk removes c from the maps. The caller guarantees that no column
// still holds it.
func (s *BaseChunkSpace) DelChunk(c *Chunk) {
	defer s.enter()()
	s.delChunk(c)
}

func (s *BaseChunkSpace) delChunk(c *Chunk) {
	bucket := s.chunks[c.identifier]
	if i := slices.Index(bucket, c); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
		if len(bucket) == 0 {
			delete(s.chunks, c.identifier)
		} else {
			s.chunks[c.identifier] = bucket
		}
	}
	if c.isOutside {
		g := gridOf(c.centre)
		cell := s.grid[g]
		if i := slices.Index(cell, c); i >= 0 {
			cell = slices.Delete(cell, i, i+1)
			if len(cell) == 0 {
				delete(s.grid, g)
			} else {
				s.grid[g] = cell
			}
		}
	}
	c.appointed = false
	s.removeFromBlurred(c)
}

// FindChunk looks a chunk up by identifier. An empty mapping name matches
// the first chunk of that identifier.
func (s *BaseChunkSpace) FindChunk(identifier, mappingName string) *Chunk {
	for _, c := range s.chunks[identifier] {
		if mappingName == "" || c.mapping.name == mappingName {
			return c
		}
	}
	return nil
}

func (s *BaseChunkSpace) findChunk(identifier string, m *GeometryMapping) *Chunk {
	for _, c := range s.chunks[identifier] {
		if c.mapping == m {
			return c
		}
	}
	return nil
}

// ChunksAt lists the outside chunks of a world grid cell.
func (s *BaseChunkSpace) ChunksAt(g GridCoord) []*Chunk { return s.grid[g] }

// Chunks lists every known chunk ordered by identifier and mapping name.
func (s *BaseChunkSpace) Chunks() []*Chunk {
	all := make([]*Chunk, 0, len(s.chunks))
	for _, bucket := range s.chunks {
		all = append(all, bucket...)
	}
	slices.SortFunc(all, func(a, b *Chunk) int {
		if c := cmp.Compare(a.identifier, b.identifier); c != 0 {
			return c
		}
		return cmp.Compare(a.mapping.name, b.mapping.name)
	})
	return all
}

// NumChunks counts known chunks.
func (s *BaseChunkSpace) NumChunks() int {
	n := 0
	for _, bucket := range s.chunks {
		n += len(bucket)
	}
	return n
}

// BlurredChunk remembers a bound chunk that has left focus so the next
// focus can bring it back.
func (s *BaseChunkSpace) BlurredChunk(c *Chunk) {
	defer s.enter()()
	s.blurredChunk(c)
}

func (s *BaseChunkSpace) blurredChunk(c *Chunk) {
	if !c.bound || slices.Contains(s.blurred, c) {
		return
	}
	s.blurred = append(s.blurred, c)
}

func (s *BaseChunkSpace) RemoveFromBlurred(c *Chunk) {
	defer s.enter()()
	s.removeFromBlurred(c)
}

func (s *BaseChunkSpace) removeFromBlurred(c *Chunk) {
	if i := slices.Index(s.blurred, c); i >= 0 {
		s.blurred = slices.Delete(s.blurred, i, i+1)
	}
}

func (s *BaseChunkSpace) Blurred() []*Chunk { return s.blurred }

// FocusCentre is the grid cell at the middle of the focus grid.
func (s *BaseChunkSpace) FocusCentre() GridCoord { return s.focus }

func (s *BaseChunkSpace) columnIndex(g GridCoord) (int, bool) {
	dx, dz := g.X-s.focus.X, g.Z-s.focus.Z
	if dx < -s.span || dx > s.span || dz < -s.span || dz > s.span {
		return 0, false
	}
	return (dx+s.span)*(2*s.span+1) + dz + s.span, true
}

// Column returns the column holding p, or nil when there is none or p
// lies outside the focus grid.
func (s *BaseChunkSpace) Column(p Vector3) *Column { return s.column(p, false) }

func (s *BaseChunkSpace) column(p Vector3, create bool) *Column {
	return s.columnAt(gridOf(p), create)
}

func (s *BaseChunkSpace) columnAt(g GridCoord, create bool) *Column {
	i, ok := s.columnIndex(g)
	if !ok {
		return nil
	}
	if s.columns[i] == nil && create {
		s.columns[i] = newColumn(s.log, g, s.arena)
	}
	return s.columns[i]
}

// columnsCovering visits the existing columns under the xz extent of bb.
func (s *BaseChunkSpace) columnsCovering(bb BoundingBox, visit func(*Column)) {
	x0, x1 := PointToGrid(bb.Min.X), PointToGrid(bb.Max.X)
	z0, z1 := PointToGrid(bb.Min.Z), PointToGrid(bb.Max.Z)
	x0, x1 = max(x0, s.focus.X-s.span), min(x1, s.focus.X+s.span)
	z0, z1 = max(z0, s.focus.Z-s.span), min(z1, s.focus.Z+s.span)
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			if col := s.columnAt(GridCoord{x, z}, false); col != nil {
				visit(col)
			}
		}
	}
}

func (s *BaseChunkSpace) addObstacle(h ObstacleHandle) {
	ob, err := s.arena.Get(h)
	if err != nil {
		s.log.Error("Add obstacle", zap.Error(err))
		return
	}
	s.columnsCovering(ob.bb, func(col *Column) { col.AddObstacle(h) })
}

func (s *BaseChunkSpace) addDynamicObstacle(h ObstacleHandle) {
	ob, err := s.arena.Get(h)
	if err != nil {
		s.log.Error("Add dynamic obstacle", zap.Error(err))
		return
	}
	s.columnsCovering(ob.bb, func(col *Column) { col.AddDynamicObstacle(h) })
}

func (s *BaseChunkSpace) delDynamicObstacle(h ObstacleHandle) {
	ob, err := s.arena.Get(h)
	if err != nil {
		s.log.Error("Delete dynamic obstacle", zap.Error(err))
		return
	}
	s.columnsCovering(ob.bb, func(col *Column) {
		if col.Holds(h) {
			col.DelDynamicObstacle(h)
		}
	})
}

// closeColumns releases every column.
func (s *BaseChunkSpace) closeColumns() {
	cols := s.columns
	s.columns = make([]*Column, len(cols))
	for _, col := range cols {
		if col != nil {
			col.Close()
		}
	}
}
