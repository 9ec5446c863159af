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
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMappingExists = errors.New("mapping already added")

// ChunkSpace is a BaseChunkSpace with geometry mappings, point lookup and
// collision.
type ChunkSpace struct {
	BaseChunkSpace

	ctx *StreamingContext
	res *Resources

	mappingsMu sync.RWMutex
	mappings   map[uuid.UUID]*GeometryMapping

	// union of the mappings' world grid bounds, inclusive
	minGX, maxGX, minGZ, maxGZ int

	homeless []*DynamicItem
}

// NewChunkSpace makes an empty space reading content from res. Spaces made
// this way have no streaming context; the manager makes its own.
func NewChunkSpace(log *zap.Logger, id SpaceID, res *Resources, span int) *ChunkSpace {
	return newChunkSpace(log, nil, id, res, span)
}

func newChunkSpace(log *zap.Logger, ctx *StreamingContext, id SpaceID, res *Resources, span int) *ChunkSpace {
	s := &ChunkSpace{
		BaseChunkSpace: newBaseChunkSpace(log.With(zap.Uint32("space", uint32(id))), id, span),
		ctx:            ctx,
		res:            res,
		mappings:       make(map[uuid.UUID]*GeometryMapping),
	}
	s.recalcGridBounds()
	return s
}

func (s *ChunkSpace) Resources() *Resources { return s.res }

// AddMapping opens the mapping directory dir and places it by transform.
func (s *ChunkSpace) AddMapping(id uuid.UUID, transform Matrix, dir string) (*GeometryMapping, error) {
	m, err := NewGeometryMapping(s, id, transform, dir, s.res)
	if err != nil {
		return nil, err
	}
	defer s.enter()()
	if err := s.insertMapping(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddMappingAsync opens the mapping on a worker and inserts it on the main
// goroutine, then calls done there.
func (s *ChunkSpace) AddMappingAsync(id uuid.UUID, transform Matrix, dir string, done func(*GeometryMapping, error)) {
	if done == nil {
		done = func(*GeometryMapping, error) {}
	}
	tasks := s.tasks()
	if tasks == nil {
		done(s.AddMapping(id, transform, dir))
		return
	}
	tasks.AddBackgroundTask(PriorityDefault, func(context.Context) {
		m, err := NewGeometryMapping(s, id, transform, dir, s.res)
		tasks.AddMainThreadTask(func() {
			if err != nil {
				done(nil, err)
				return
			}
			defer s.enter()()
			if err := s.insertMapping(m); err != nil {
				done(nil, err)
				return
			}
			done(m, nil)
		})
	})
}

func (s *ChunkSpace) insertMapping(m *GeometryMapping) error {
	s.mappingsMu.Lock()
	if _, ok := s.mappings[m.id]; ok {
		s.mappingsMu.Unlock()
		s.log.Warn("Mapping ID reused", zap.Stringer("id", m.id), zap.String("mapping", m.name))
		m.Condemn()
		m.DecRef()
		return fmt.Errorf("mapping %s: %w", m.id, ErrMappingExists)
	}
	s.mappings[m.id] = m
	s.mappingsMu.Unlock()

	s.recalcGridBounds()
	for _, c := range s.Chunks() {
		if c.bound {
			c.ResolveExterns(nil)
		}
	}
	s.log.Info("Mapping added", zap.String("mapping", m.name), zap.Stringer("id", m.id))
	return nil
}

// DelMapping takes the mapping out of the space. Its chunks that are not
// in the middle of loading go at once; the rest go when their load ends.
func (s *ChunkSpace) DelMapping(m *GeometryMapping) {
	defer s.enter()()
	s.delMapping(m)
}

func (s *ChunkSpace) delMapping(m *GeometryMapping) {
	s.mappingsMu.Lock()
	if s.mappings[m.id] != m {
		s.mappingsMu.Unlock()
		s.log.Error("Deleting a mapping not in the space", zap.String("mapping", m.name))
		return
	}
	delete(s.mappings, m.id)
	s.mappingsMu.Unlock()
	m.Condemn()

	var doomed []*Chunk
	for _, c := range s.Chunks() {
		if c.mapping == m && !c.loading.Load() {
			doomed = append(doomed, c)
		}
	}
	for _, c := range doomed {
		if c.bound {
			c.Unbind(false)
		}
	}
	for _, c := range doomed {
		c.Unload()
		s.delChunk(c)
		c.destroy()
	}
	for _, c := range s.Chunks() {
		if c.bound {
			c.ResolveExterns(m)
		}
	}
	s.recalcGridBounds()
	s.log.Info("Mapping deleted", zap.String("mapping", m.name), zap.Int("chunks", len(doomed)))
	m.DecRef()
}

// Mappings lists the mappings ordered by name.
func (s *ChunkSpace) Mappings() []*GeometryMapping {
	s.mappingsMu.RLock()
	ms := make([]*GeometryMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		ms = append(ms, m)
	}
	s.mappingsMu.RUnlock()
	slices.SortFunc(ms, func(a, b *GeometryMapping) int {
		if c := cmp.Compare(a.name, b.name); c != 0 {
			return c
		}
		return slices.Compare(a.id[:], b.id[:])
	})
	return ms
}

func (s *ChunkSpace) Mapping(id uuid.UUID) *GeometryMapping {
	s.mappingsMu.RLock()
	defer s.mappingsMu.RUnlock()
	return s.mappings[id]
}

func (s *ChunkSpace) IsMapped() bool {
	s.mappingsMu.RLock()
	defer s.mappingsMu.RUnlock()
	return len(s.mappings) > 0
}

// RecalcGridBounds recomputes the union of the mappings' grid bounds.
func (s *ChunkSpace) RecalcGridBounds() {
	defer s.enter()()
	s.recalcGridBounds()
}

func (s *ChunkSpace) recalcGridBounds() {
	s.minGX, s.minGZ = math.MaxInt32, math.MaxInt32
	s.maxGX, s.maxGZ = math.MinInt32, math.MinInt32
	for _, m := range s.Mappings() {
		x0, z0, x1, z1 := m.WorldBounds()
		s.minGX, s.minGZ = min(s.minGX, x0), min(s.minGZ, z0)
		s.maxGX, s.maxGZ = max(s.maxGX, x1), max(s.maxGZ, z1)
	}
}

// GridBounds is the inclusive grid extent of every mapping. It is empty
// (min > max) when nothing is mapped.
func (s *ChunkSpace) GridBounds() (minX, minZ, maxX, maxZ int) {
	return s.minGX, s.minGZ, s.maxGX, s.maxGZ
}

// Focus moves the focus grid to p, rebuilds stale columns and brings back
// blurred chunks that are in range again.
func (s *ChunkSpace) Focus(p Vector3) {
	defer s.enter()()
	s.focusAt(p)
}

func (s *ChunkSpace) focusAt(p Vector3) {
	g := gridOf(p)
	if g != s.focus {
		s.recentre(g)
	}
	for i, col := range s.columns {
		if col != nil && col.stale {
			s.columns[i] = nil
			col.Close()
		}
	}
	for _, c := range slices.Clone(s.blurred) {
		if !s.nearFocus(gridOf(c.centre)) {
			continue
		}
		s.removeFromBlurred(c)
		if c.bound && c.focusCount == 0 {
			c.Focus()
		}
	}
	for _, d := range slices.Clone(s.homeless) {
		s.nestHomeless(d)
	}
}

// recentre moves the window; columns falling off it are closed.
func (s *ChunkSpace) recentre(g GridCoord) {
	old := s.columns
	s.focus = g
	s.columns = make([]*Column, len(old))
	var dropped []*Column
	for _, col := range old {
		if col == nil {
			continue
		}
		if i, ok := s.columnIndex(col.coord); ok {
			s.columns[i] = col
		} else {
			dropped = append(dropped, col)
		}
	}
	for _, col := range dropped {
		col.Close()
	}
}

func (s *ChunkSpace) nearFocus(g GridCoord) bool {
	dx, dz := g.X-s.focus.X, g.Z-s.focus.Z
	return dx > -s.span && dx < s.span && dz > -s.span && dz < s.span
}

// FindChunkFromPoint returns the bound chunk holding p, preferring the
// smallest, or nil if p is outside focus.
func (s *ChunkSpace) FindChunkFromPoint(p Vector3) *Chunk { return s.findChunkFromPoint(p) }

func (s *ChunkSpace) findChunkFromPoint(p Vector3) *Chunk {
	p.Y += 0.0001
	col := s.column(p, false)
	if col == nil {
		return nil
	}
	return col.FindChunk(p)
}

// FindChunkFromPointExact is FindChunkFromPoint restricted to chunks whose
// contents are completely focused.
func (s *ChunkSpace) FindChunkFromPointExact(p Vector3) *Chunk {
	c := s.findChunkFromPoint(p)
	if c == nil || !c.completed {
		return nil
	}
	return c
}

// GuessChunk names the chunk that should hold p without anything being
// loaded. The result is a new, unappointed chunk. With lookInside set, an
// inside chunk listed as an overlapper near p wins over the outside chunk.
// It only reads content and the mapping list, so it may run on a worker.
func (s *ChunkSpace) GuessChunk(p Vector3, lookInside bool) *Chunk {
	for _, m := range s.Mappings() {
		if m.Condemned() {
			continue
		}
		lp := m.inverse.ApplyPoint(p)
		id := m.OutsideChunkIdentifier(lp, true)
		if id == "" {
			continue
		}
		if lookInside {
			if c := s.guessInside(m, lp); c != nil {
				return c
			}
		}
		return NewChunk(id, m)
	}
	return nil
}

func (s *ChunkSpace) guessInside(m *GeometryMapping, lp Vector3) *Chunk {
	gx, gz := PointToGrid(lp.X), PointToGrid(lp.Z)
	var (
		bestID  string
		bestT   Matrix
		bestBB  BoundingBox
		bestVol = math.Inf(1)
	)
	seen := make(map[string]bool)
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			sec, err := m.res.OpenSection(m.chunkPath(OutsideChunkName(gx+dx, gz+dz), ChunkSuffix))
			if err != nil {
				continue
			}
			for _, ov := range sec.Each("overlapper") {
				id := ov.String()
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				bb, t, ok := overlapperPlacement(m, ov)
				if !ok || !bb.Contains(lp) {
					continue
				}
				if v := bb.Volume(); v < bestVol {
					bestID, bestT, bestBB, bestVol = id, t, bb, v
				}
			}
		}
	}
	if bestID == "" {
		return nil
	}
	inv, ok := bestT.Invert()
	if !ok {
		return nil
	}
	return newPlacedChunk(bestID, m, bestT, bestBB.TransformBy(inv))
}

// ignoreChunk takes an unbinding chunk out of the columns it was seen in.
// The columns are rebuilt at the next focus.
func (s *ChunkSpace) ignoreChunk(c *Chunk) {
	s.removeFromBlurred(c)
	s.chunkColumns(c, func(col *Column) {
		col.ShutIfSeen(c)
		col.MarkStale()
	})
}

// noticeChunk lets the columns see a newly bound chunk and focuses it if
// it is in range.
func (s *ChunkSpace) noticeChunk(c *Chunk) {
	s.chunkColumns(c, func(col *Column) { col.OpenAndSee(c) })
	if s.nearFocus(gridOf(c.centre)) {
		s.removeFromBlurred(c)
		c.Focus()
	} else {
		s.blurredChunk(c)
	}
}

func (s *ChunkSpace) chunkColumns(c *Chunk, visit func(*Column)) {
	if c.isOutside {
		if col := s.column(c.centre, false); col != nil {
			visit(col)
		}
		return
	}
	s.columnsCovering(c.bb, visit)
}

// UnloadChunkBeforeBinding drops a chunk whose load finished after it
// stopped being wanted.
func (s *ChunkSpace) UnloadChunkBeforeBinding(c *Chunk) {
	defer s.enter()()
	s.unloadChunkBeforeBinding(c)
}

func (s *ChunkSpace) unloadChunkBeforeBinding(c *Chunk) {
	c.loading.Store(false)
	if c.bound {
		c.log.Error("Chunk bound before binding")
		return
	}
	c.Unload()
}

// reshareOverlapper makes the outside chunks around a newly bound inside
// chunk share it again, now that their neighbours can accept it.
func (s *ChunkSpace) reshareOverlapper(c *Chunk) {
	x0, x1 := PointToGrid(c.bb.Min.X)-1, PointToGrid(c.bb.Max.X)+1
	z0, z1 := PointToGrid(c.bb.Min.Z)-1, PointToGrid(c.bb.Max.Z)+1
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			for _, oc := range s.grid[GridCoord{x, z}] {
				if oc.bound && oc.overlappers != nil && oc.overlappers.Holds(c) {
					oc.overlappers.share()
				}
			}
		}
	}
}

// AddDynamicItem places d in the chunk holding it, or keeps it aside until
// such a chunk is focused.
func (s *ChunkSpace) AddDynamicItem(d *DynamicItem) {
	defer s.enter()()
	if !s.nestHomeless(d) {
		s.addHomelessItem(d)
	}
}

func (s *ChunkSpace) DelDynamicItem(d *DynamicItem) {
	defer s.enter()()
	if d.chunk != nil {
		d.chunk.delDynamicItem(d)
	}
	s.removeHomeless(d)
	d.Release()
}

// MoveDynamicItem repositions d, carrying its obstacles with it.
func (s *ChunkSpace) MoveDynamicItem(d *DynamicItem, m Matrix) {
	defer s.enter()()
	c := d.chunk
	focused := c != nil && c.focusCount > 0
	if focused {
		for _, h := range d.Obstacles() {
			s.delDynamicObstacle(h)
		}
	}
	d.place(m)
	if focused {
		for _, h := range d.Obstacles() {
			s.addDynamicObstacle(h)
		}
	}
	if c == nil {
		s.nestHomeless(d)
		return
	}
	d.nest(s)
}

func (s *ChunkSpace) HomelessItems() []*DynamicItem { return s.homeless }

func (s *ChunkSpace) addHomelessItem(d *DynamicItem) {
	if !slices.Contains(s.homeless, d) {
		s.homeless = append(s.homeless, d)
	}
}

func (s *ChunkSpace) removeHomeless(d *DynamicItem) {
	if i := slices.Index(s.homeless, d); i >= 0 {
		s.homeless = slices.Delete(s.homeless, i, i+1)
	}
}

func (s *ChunkSpace) nestHomeless(d *DynamicItem) bool {
	d.nest(s)
	if d.chunk == nil {
		return false
	}
	s.removeHomeless(d)
	return true
}

// Clear unbinds, unloads and forgets every chunk and mapping.
func (s *ChunkSpace) Clear() {
	defer s.enter()()
	s.clear()
}

func (s *ChunkSpace) clear() {
	all := s.Chunks()
	for _, c := range all {
		if c.bound {
			c.Unbind(false)
		}
	}
	for _, c := range all {
		if c.loaded.Load() && !c.loading.Load() {
			c.Unload()
		}
	}
	for _, c := range all {
		s.delChunk(c)
		c.destroy()
	}
	s.closeColumns()
	s.blurred, s.homeless = nil, nil

	s.mappingsMu.Lock()
	ms := s.mappings
	s.mappings = make(map[uuid.UUID]*GeometryMapping)
	s.mappingsMu.Unlock()
	for _, m := range ms {
		m.Condemn()
		m.DecRef()
	}
	s.recalcGridBounds()
	s.clearDataEntries()
}

// Fini clears the space before it is dropped.
func (s *ChunkSpace) Fini() {
	defer s.enter()()
	s.clear()
	if n := s.NumChunks(); n > 0 {
		s.log.Warn("Chunks outlive their space", zap.Int("count", n))
	}
	if n := s.arena.Len(); n > 0 {
		s.log.Warn("Obstacles outlive their space", zap.Int("count", n))
	}
}

func (s *ChunkSpace) tasks() *TaskManager {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Tasks
}
