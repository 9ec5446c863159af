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
	"math"
	"slices"

	"go.uber.org/zap"
)

// sortedGridOffsets lists the grid offsets whose cells may lie within
// radius of a point in the centre cell, nearest first.
func sortedGridOffsets(radius float64) []GridCoord {
	r := int(math.Ceil(radius/GridResolution)) + 1
	var offsets []GridCoord
	for x := -r; x <= r; x++ {
		for z := -r; z <= r; z++ {
			g := GridCoord{x, z}
			if offsetDistance(g) <= radius+GridResolution {
				offsets = append(offsets, g)
			}
		}
	}
	slices.SortStableFunc(offsets, func(a, b GridCoord) int {
		return cmp.Compare(offsetDistance(a), offsetDistance(b))
	})
	return offsets
}

func offsetDistance(g GridCoord) float64 {
	return math.Hypot(float64(g.X), float64(g.Z)) * GridResolution
}

// cellDistance is the xz distance from p to the centre of cell g.
func cellDistance(p Vector3, g GridCoord) float64 {
	const half = GridResolution / 2
	return math.Hypot(GridToPoint(g.X)+half-p.X, GridToPoint(g.Z)+half-p.Z)
}

// scan loads the chunks near the camera and unloads those far from it.
// It reports whether anything was unloaded.
func (m *ChunkManager) scan() bool {
	s := m.cameraSpace
	cam := m.camera.Origin()
	cg := gridOf(cam)

	worthy := m.worthyChunks(s, cam, cg)
	unload := m.unloadCandidates(s, cam, cg)

	for _, c := range worthy {
		if len(m.loadingChunks) >= m.maxLoadingChunks {
			break
		}
		if c.loaded.Load() || c.loading.Load() {
			continue
		}
		m.loadChunk(c, c.bb.IntersectsPoint(cam, 0) || (c.isOutside && gridOf(c.centre) == cg))
	}
	for _, c := range unload {
		m.unloadChunk(c)
	}
	return len(unload) > 0
}

// worthyChunks collects unloaded chunks to load, nearest first. Inside
// chunks the camera is about to enter come before everything else.
func (m *ChunkManager) worthyChunks(s *ChunkSpace, cam Vector3, cg GridCoord) []*Chunk {
	var worthy []*Chunk
	want := func(c *Chunk) bool {
		if c.loaded.Load() || c.loading.Load() || slices.Contains(worthy, c) {
			return false
		}
		worthy = append(worthy, c)
		return len(worthy) >= m.maxWorthyChunks
	}

	for _, oc := range s.grid[cg] {
		if !oc.bound || oc.overlappers == nil {
			continue
		}
		for _, o := range oc.overlappers.overlappers {
			o.findAppointedChunk()
			if c := o.overlapper; c.appointed && !c.loaded.Load() && !c.loading.Load() &&
				c.bb.IntersectsPoint(cam, cameraInsideOverlapperBias) {
				if want(c) {
					return worthy
				}
			}
		}
	}

	mappings := s.Mappings()
	for _, off := range m.offsets {
		g := GridCoord{cg.X + off.X, cg.Z + off.Z}
		if cellDistance(cam, g) > m.maxLoadPath {
			continue
		}
		for _, mp := range mappings {
			if mp.Condemned() || !mp.InWorldBounds(g.X, g.Z) {
				continue
			}
			lx, lz := mp.GridToLocal(g.X, g.Z)
			if !mp.InLocalBounds(lx, lz) {
				continue
			}
			c := m.findChunkByName(OutsideChunkName(lx, lz), mp, true)
			if want(c) {
				return worthy
			}
		}
	}
	return worthy
}

// unloadCandidates picks bound chunks beyond the unload path.
func (m *ChunkManager) unloadCandidates(s *ChunkSpace, cam Vector3, cg GridCoord) []*Chunk {
	if m.maxUnloadChunks <= 0 {
		return nil
	}
	corner := Vector3{GridToPoint(cg.X), 0, GridToPoint(cg.Z)}
	var unload []*Chunk
	for _, c := range s.Chunks() {
		if !c.bound || !c.removable || c == m.cameraChunk || c == m.override {
			continue
		}
		o := c.transform.Origin()
		if math.Hypot(o.X-corner.X, o.Z-corner.Z) <= m.minUnloadPath {
			continue
		}
		if c.bb.IntersectsPoint(cam, cameraNearbyWiredBias) {
			continue
		}
		if c.isOutside {
			if c.overlappers != nil && slices.ContainsFunc(c.overlappers.overlappers, func(o *Overlapper) bool {
				return o.overlapper.loading.Load()
			}) {
				continue
			}
		} else if slices.ContainsFunc(s.grid[gridOf(c.centre)], func(oc *Chunk) bool { return oc.bound }) {
			// goes with its outside chunk
			continue
		}
		unload = append(unload, c)
		if len(unload) >= m.maxUnloadChunks {
			break
		}
	}
	return unload
}

// UnloadChunk unbinds and unloads c at once.
func (m *ChunkManager) UnloadChunk(c *Chunk) {
	defer c.space.enter()()
	m.unloadChunk(c)
}

func (m *ChunkManager) unloadChunk(c *Chunk) {
	if !c.bound {
		c.log.Error("Unloading an unbound chunk")
		return
	}
	c.log.Debug("Unloading chunk")
	c.Unbind(false)
	c.Unload()
	for _, v := range m.viewers {
		v.ViewChunkUnload(c)
	}
	m.ctx.Observer.Record(newLoadEvent(c, EventUnload))
	if c == m.cameraChunk {
		m.cameraChunk = nil
		m.log.Warn("Camera chunk unloaded", zap.String("chunk", c.identifier))
	}
}
