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
	"sync"
	"sync/atomic"

	"ChunkCore/world/internal/bvh"
)

var ErrStaleHandle = errors.New("stale obstacle handle")

// ObstacleHandle addresses a slot in an ObstacleArena. A handle whose
// generation no longer matches its slot refers to a freed obstacle.
type ObstacleHandle struct {
	index uint32
	gen   uint32
}

func (h ObstacleHandle) Valid() bool { return h.gen != 0 }

func (h ObstacleHandle) String() string { return fmt.Sprintf("%d#%d", h.index, h.gen) }

// Shape is the collidable geometry of an obstacle, in obstacle space.
// The set of shapes is closed.
type Shape interface {
	Bounds() BoundingBox
	isShape()
}

// BoxShape collides as its bounding box.
type BoxShape struct{ Box BoundingBox }

func (s BoxShape) Bounds() BoundingBox { return s.Box }
func (BoxShape) isShape()              {}

type triTree = bvh.Tree[float64, aabb3d, int]

// BSPShape is a triangle mesh indexed by a bvh. The mesh may be built
// lazily: the first user to need it builds it.
type BSPShape struct {
	bounds BoundingBox
	build  func() []Triangle
	once   sync.Once
	ready  atomic.Bool

	triangles []Triangle
	index     triTree
}

func NewBSPShape(triangles []Triangle) *BSPShape {
	b := EmptyBoundingBox()
	for _, t := range triangles {
		b.AddBounds(t.bounds())
	}
	s := &BSPShape{bounds: b}
	s.setTriangles(triangles)
	s.once.Do(func() {})
	s.ready.Store(true)
	return s
}

// NewDeferredBSPShape makes a mesh whose triangles come from build on
// first use. bounds must cover everything build returns.
func NewDeferredBSPShape(bounds BoundingBox, build func() []Triangle) *BSPShape {
	return &BSPShape{bounds: bounds, build: build}
}

func (s *BSPShape) setTriangles(triangles []Triangle) {
	s.triangles = triangles
	for i, t := range triangles {
		s.index.Insert(t.bounds().aabb(), i)
	}
}

// Ensure builds the mesh if nobody has yet, waiting for a build already in
// progress elsewhere.
func (s *BSPShape) Ensure() {
	s.once.Do(func() {
		s.setTriangles(s.build())
		s.build = nil
		s.ready.Store(true)
	})
}

func (s *BSPShape) Ready() bool { return s.ready.Load() }

func (s *BSPShape) Triangles() []Triangle {
	s.Ensure()
	return s.triangles
}

func (s *BSPShape) Bounds() BoundingBox { return s.bounds }
func (*BSPShape) isShape()              {}

type shapeHit struct {
	t   float64
	tri Triangle
}

// intersectShape reports every triangle of shape crossed by the segment
// start-end, nearest first, as a fraction of the segment. It stops when
// visit returns false.
func intersectShape(shape Shape, start, end Vector3, visit func(t float64, tri Triangle) bool) {
	var hits []shapeHit
	dir := end.Sub(start)
	switch s := shape.(type) {
	case BoxShape:
		t0, t1, ok := s.Box.ClipSegment(start, end)
		if !ok {
			return
		}
		if !s.Box.Contains(start) {
			hits = append(hits, shapeHit{t0, boxFace(s.Box, start.Add(dir.Scale(t0)))})
		}
		if !s.Box.Contains(end) {
			hits = append(hits, shapeHit{t1, boxFace(s.Box, start.Add(dir.Scale(t1)))})
		}
	case *BSPShape:
		s.Ensure()
		s.index.Find(func(b aabb3d) bool {
			_, _, ok := boxOf(b).ClipSegment(start, end)
			return ok
		}, func(n *bvh.Node[float64, aabb3d, int]) bool {
			tri := s.triangles[n.Value]
			if t, ok := tri.Intersect(start, dir); ok && t >= 0 && t <= 1 {
				hits = append(hits, shapeHit{t, tri})
			}
			return true
		})
	default:
		panic(fmt.Sprintf("unknown shape %T", shape))
	}
	slices.SortFunc(hits, func(a, b shapeHit) int {
		switch {
		case a.t < b.t:
			return -1
		case a.t > b.t:
			return 1
		}
		return 0
	})
	for _, h := range hits {
		if !visit(h.t, h.tri) {
			return
		}
	}
}

func boxOf(b aabb3d) BoundingBox {
	return BoundingBox{
		Min: Vector3{b.Lower[0], b.Lower[1], b.Lower[2]},
		Max: Vector3{b.Upper[0], b.Upper[1], b.Upper[2]},
	}
}

// boxFace returns a triangle lying on the face of b nearest to p.
func boxFace(b BoundingBox, p Vector3) Triangle {
	type face struct {
		d    float64
		axis int
		top  bool
	}
	faces := []face{
		{p.X - b.Min.X, 0, false}, {b.Max.X - p.X, 0, true},
		{p.Y - b.Min.Y, 1, false}, {b.Max.Y - p.Y, 1, true},
		{p.Z - b.Min.Z, 2, false}, {b.Max.Z - p.Z, 2, true},
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.d < best.d {
			best = f
		}
	}
	// corner bits: 1 max X, 2 max Y, 4 max Z
	bit := 1 << best.axis
	base := 0
	if best.top {
		base = bit
	}
	others := [2]int{}
	n := 0
	for _, o := range [3]int{1, 2, 4} {
		if o != bit {
			others[n] = o
			n++
		}
	}
	return Triangle{
		b.Corner(base),
		b.Corner(base | others[0]),
		b.Corner(base | others[1]),
	}
}

// ChunkObstacle places a shape in the world for one chunk item.
type ChunkObstacle struct {
	transform Matrix
	inverse   Matrix
	localBB   BoundingBox
	bb        BoundingBox
	shape     Shape
	item      ChunkItem
	chunk     *Chunk
	dynamic   bool
	mark      uint32
	handle    ObstacleHandle
}

// NewChunkObstacle builds an obstacle for shape placed by transform.
func NewChunkObstacle(transform Matrix, shape Shape, item ChunkItem) *ChunkObstacle {
	inv, _ := transform.Invert()
	local := shape.Bounds()
	return &ChunkObstacle{
		transform: transform,
		inverse:   inv,
		localBB:   local,
		bb:        local.TransformBy(transform),
		shape:     shape,
		item:      item,
	}
}

func (o *ChunkObstacle) Transform() Matrix        { return o.transform }
func (o *ChunkObstacle) BoundingBox() BoundingBox { return o.bb }
func (o *ChunkObstacle) Shape() Shape             { return o.shape }
func (o *ChunkObstacle) Item() ChunkItem          { return o.item }
func (o *ChunkObstacle) Chunk() *Chunk            { return o.chunk }
func (o *ChunkObstacle) Handle() ObstacleHandle   { return o.handle }

// Dynamic obstacles belong to moving items and sit at the root of column
// trees.
func (o *ChunkObstacle) Dynamic() bool { return o.dynamic }

// Mark stamps the obstacle with a query epoch and reports whether it had
// already been stamped with it.
func (o *ChunkObstacle) Mark(epoch uint32) bool {
	if o.mark == epoch {
		return true
	}
	o.mark = epoch
	return false
}

type arenaSlot struct {
	ob   *ChunkObstacle
	gen  uint32
	refs int32
}

// ObstacleArena owns every obstacle of a space. Columns and items hold
// counted handles; the slot is recycled when the count reaches zero.
type ObstacleArena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []uint32
	live  int
	epoch atomic.Uint32
}

func NewObstacleArena() *ObstacleArena { return &ObstacleArena{} }

// Alloc stores ob with one reference, held by the caller.
func (a *ObstacleArena) Alloc(ob *ChunkObstacle) ObstacleHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{gen: 1})
	}
	s := &a.slots[idx]
	s.ob, s.refs = ob, 1
	a.live++
	h := ObstacleHandle{index: idx, gen: s.gen}
	ob.handle = h
	return h
}

func (a *ObstacleArena) slot(h ObstacleHandle) (*arenaSlot, error) {
	if int(h.index) >= len(a.slots) || !h.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	s := &a.slots[h.index]
	if s.gen != h.gen || s.ob == nil {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}

func (a *ObstacleArena) Get(h ObstacleHandle) (*ChunkObstacle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slot(h)
	if err != nil {
		return nil, err
	}
	return s.ob, nil
}

func (a *ObstacleArena) IncRef(h ObstacleHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// DecRef drops one reference and frees the slot at zero. Releasing a
// freed handle again is reported as ErrStaleHandle.
func (a *ObstacleArena) DecRef(h ObstacleHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.refs--
	if s.refs == 0 {
		s.ob = nil
		s.gen++
		if s.gen == 0 {
			s.gen = 1
		}
		a.free = append(a.free, h.index)
		a.live--
	}
	return nil
}

// Refs is zero for a freed handle.
func (a *ObstacleArena) Refs(h ObstacleHandle) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.slot(h)
	if err != nil {
		return 0
	}
	return s.refs
}

// Len counts live obstacles.
func (a *ObstacleArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// NextMark starts a new collision query epoch.
func (a *ObstacleArena) NextMark() uint32 {
	m := a.epoch.Add(1)
	if m == 0 {
		m = a.epoch.Add(1)
	}
	return m
}
