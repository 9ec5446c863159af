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
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

var (
	ErrEmptyOverlapper     = errors.New("overlapper without identifier")
	ErrDuplicateOverlapper = errors.New("overlapper already loaded")
)

// Overlapper is an item of an outside chunk naming an inside chunk whose
// bounds reach into it. Loading it loads the inside chunk.
type Overlapper struct {
	itemBase
	overlapper *Chunk
	alsoIn     []*ChunkOverlappers
}

// loadOverlapper places a stub of the inside chunk and asks for it to be
// loaded.
func loadOverlapper(c *Chunk, s *DataSection, _ *ChunkData) (ChunkItem, error) {
	id := s.String()
	if id == "" {
		return nil, ErrEmptyOverlapper
	}
	for _, it := range c.items {
		if o, ok := it.(*Overlapper); ok && o.overlapper.identifier == id {
			return nil, fmt.Errorf("overlapper %s: %w", id, ErrDuplicateOverlapper)
		}
	}
	m := c.mapping
	bb, transform, ok := overlapperPlacement(m, s)
	if !ok {
		return nil, fmt.Errorf("overlapper %s: %w", id, ErrNoBoundingBox)
	}
	inv, ok := transform.Invert()
	if !ok {
		return nil, fmt.Errorf("overlapper %s: singular transform", id)
	}

	o := &Overlapper{
		itemBase:   newItemBase(c),
		overlapper: newPlacedChunk(id, m, transform, bb.TransformBy(inv)),
	}
	if mgr := c.manager(); mgr != nil {
		if c.inline {
			mgr.addChunkToSpaceNow(o.overlapper, c.space)
			mgr.loadChunkExplicitlyNow(id, m, true)
		} else {
			mgr.AddChunkToSpace(o.overlapper, c.space.id)
			mgr.LoadChunkExplicitly(id, m, true)
		}
	}
	return o, nil
}

// overlapperPlacement reads the mapping space bounding box and transform
// of an overlapper from its section or, failing that, from the inside
// chunk's own file.
func overlapperPlacement(m *GeometryMapping, s *DataSection) (BoundingBox, Matrix, bool) {
	bb, okBB := s.ReadBoundingBox("boundingBox")
	transform, okT := s.ReadMatrix("transform")
	if !okBB || !okT {
		cs, err := m.res.OpenSection(m.chunkPath(s.String(), ChunkSuffix))
		if err != nil {
			return bb, transform, false
		}
		if !okBB {
			bb, okBB = cs.ReadBoundingBox("boundingBox")
		}
		if !okT {
			transform, okT = cs.ReadMatrix("transform")
		}
	}
	return bb, transform, okBB && okT
}

// Overlapper is the inside chunk referred to.
func (o *Overlapper) Overlapper() *Chunk { return o.overlapper }

// Toss moves the item between the collections of the chunks holding it.
func (o *Overlapper) Toss(c *Chunk) {
	if o.chunk != nil && o.chunk.overlappers != nil {
		o.chunk.overlappers.del(o, false)
	}
	for _, co := range o.alsoIn {
		co.del(o, true)
	}
	o.alsoIn = nil
	o.itemBase.Toss(c)
	if c != nil && c.isOutside {
		if c.overlappers == nil {
			c.overlappers = newChunkOverlappers(c)
		}
		c.overlappers.add(o)
	}
}

// Release drops the inside chunk unless the space took it.
func (o *Overlapper) Release() {
	if !o.overlapper.appointed {
		o.overlapper.destroy()
	}
	o.itemBase.Release()
}

func (o *Overlapper) alsoInAdd(co *ChunkOverlappers) { o.alsoIn = append(o.alsoIn, co) }

func (o *Overlapper) alsoInDel(co *ChunkOverlappers) {
	if i := slices.Index(o.alsoIn, co); i >= 0 {
		o.alsoIn = slices.Delete(o.alsoIn, i, i+1)
	}
}

// findAppointedChunk swaps the stub for the space's chunk of that name.
func (o *Overlapper) findAppointedChunk() {
	if !o.overlapper.appointed && o.chunk != nil {
		o.overlapper = o.chunk.space.findOrAddChunk(o.overlapper)
	}
}

func (o *Overlapper) bind(isUnbind bool) {
	o.findAppointedChunk()
	if !isUnbind && o.overlapper.bound {
		o.overlapper.BindPortals(true, true)
	}
}

// ChunkOverlappers collects the overlappers of one outside chunk: its own,
// and foreign ones shared by neighbours whose inside chunks reach into it.
type ChunkOverlappers struct {
	chunk       *Chunk
	overlappers []*Overlapper
	foreign     []*Overlapper

	bound     bool
	halfBound bool
	binding   bool
	complete  bool
}

func newChunkOverlappers(c *Chunk) *ChunkOverlappers {
	return &ChunkOverlappers{chunk: c}
}

// Overlappers lists own and foreign overlappers together.
func (co *ChunkOverlappers) Overlappers() []*Overlapper { return co.overlappers }

// Complete reports whether every point of the chunk is known to be
// covered by a loaded chunk.
func (co *ChunkOverlappers) Complete() bool { return co.complete }

// Holds reports whether c is the inside chunk of one of the overlappers.
func (co *ChunkOverlappers) Holds(c *Chunk) bool {
	return slices.ContainsFunc(co.overlappers, func(o *Overlapper) bool { return o.overlapper == c })
}

func (co *ChunkOverlappers) bind(isUnbind bool) {
	co.checkIfComplete(co.bound)
	if co.bound || co.binding {
		return
	}
	co.binding = true
	defer func() { co.binding = false }()

	for _, o := range slices.Clone(co.overlappers) {
		o.bind(isUnbind)
	}
	for _, b := range co.chunk.joints {
		for _, p := range b.bound {
			if n := p.Chunk(); n != nil && n.isOutside && n.bound && n.overlappers != nil {
				co.copyFrom(n.overlappers)
			}
		}
	}
	co.halfBound = true
	co.share()
	co.bound = true
}

// share offers our overlappers to every bound outside neighbour.
func (co *ChunkOverlappers) share() {
	for _, b := range co.chunk.joints {
		for _, p := range b.bound {
			if n := p.Chunk(); n != nil && n.isOutside && n.bound && n.overlappers != nil {
				n.overlappers.copyFrom(co)
			}
		}
	}
}

// copyFrom takes the bound overlappers of other whose inside chunks reach
// into our chunk.
func (co *ChunkOverlappers) copyFrom(other *ChunkOverlappers) {
	bb := co.chunk.bb
	added := false
	for _, o := range other.overlappers {
		oc := o.overlapper
		if !oc.bound || !bb.Intersects(oc.bb) {
			continue
		}
		if slices.ContainsFunc(co.overlappers, func(x *Overlapper) bool { return x == o || x.overlapper == oc }) {
			continue
		}
		co.overlappers = append(co.overlappers, o)
		co.foreign = append(co.foreign, o)
		o.alsoInAdd(co)
		added = true
	}
	if !added {
		return
	}
	if !co.bound {
		if co.halfBound {
			co.chunk.log.Warn("Overlappers copied while half bound")
		}
		return
	}
	co.share()
}

// checkIfComplete decides whether the collection can still grow: it
// cannot once no portal of the chunk waits on a neighbour, and no bound
// outside neighbour has a waiting portal touching the chunk's box. With
// checkNeighbours set those neighbours re-check themselves first.
func (co *ChunkOverlappers) checkIfComplete(checkNeighbours bool) {
	co.complete = true
	bb := co.chunk.bb
	for _, b := range co.chunk.joints {
		for _, p := range b.unbound {
			if p.HasChunk() {
				co.complete = false
				break
			}
		}
		for _, p := range b.bound {
			n := p.Chunk()
			if n == nil || !n.bound || !n.isOutside {
				continue
			}
			if checkNeighbours && n.overlappers != nil {
				n.overlappers.checkIfComplete(false)
			}
			if co.complete && waitsNear(n, bb) {
				co.complete = false
			}
		}
	}
}

// waitsNear reports whether a point of an unbound portal of n lies within
// a metre of bb.
func waitsNear(n *Chunk, bb BoundingBox) bool {
	for _, b := range n.joints {
		for _, p := range b.unbound {
			if !p.HasChunk() {
				continue
			}
			for _, v := range p.points {
				if bb.IntersectsPoint(n.transform.ApplyPoint(v), 1) {
					return true
				}
			}
		}
	}
	return false
}

func (co *ChunkOverlappers) add(o *Overlapper) {
	co.overlappers = append(co.overlappers, o)
}

func (co *ChunkOverlappers) del(o *Overlapper, foreign bool) {
	i := slices.Index(co.overlappers, o)
	if i < 0 {
		co.chunk.log.Error("Overlapper not in collection", zap.String("overlapper", o.overlapper.identifier))
		return
	}
	co.overlappers = slices.Delete(co.overlappers, i, i+1)
	if foreign {
		if j := slices.Index(co.foreign, o); j >= 0 {
			co.foreign = slices.Delete(co.foreign, j, j+1)
		}
	}
}

// release forgets the foreign overlappers before the collection goes.
func (co *ChunkOverlappers) release() {
	for _, o := range co.foreign {
		o.alsoInDel(co)
	}
	co.foreign = nil
}
