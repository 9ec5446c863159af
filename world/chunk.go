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
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrAlreadyLoaded = errors.New("chunk already loaded")
	errNoShell       = errors.New("no shell")
	errFewBoundaries = errors.New("inside chunk needs at least 4 boundaries")
)

// Chunk is one cell of a space: an outside chunk covering one grid square
// of its mapping, or an inside chunk of arbitrary convex shape.
//
// Apart from the atomic flags, a chunk belongs to the goroutine loading it
// until it is handed to the main goroutine, which owns it from then on.
type Chunk struct {
	log        *zap.Logger
	identifier string
	mapping    *GeometryMapping
	space      *ChunkSpace
	isOutside  bool
	x, z       int
	label      string

	transform Matrix
	inverse   Matrix
	unmapped  Matrix
	localBB   BoundingBox
	bb        BoundingBox
	centre    Vector3
	bbReady   bool

	// bounds are the hull planes; joints are the planes carrying portals
	bounds []*Boundary
	joints []*Boundary

	items       []ChunkItem
	dynamic     []*DynamicItem
	terrain     *TerrainItem
	overlappers *ChunkOverlappers
	loadErr     error

	appointed bool
	inline    bool
	loading   atomic.Bool
	loaded    atomic.Bool
	deleted   atomic.Bool
	bound     bool

	focusCount   int
	completed    bool
	removable    bool
	pathSum      float64
	traverseMark uint32
	drawMark     uint32
}

// NewChunk makes an unloaded chunk of mapping. It holds a reference on the
// mapping until it is destroyed.
func NewChunk(identifier string, mapping *GeometryMapping) *Chunk {
	mapping.IncRef()
	c := &Chunk{
		log:        mapping.log.With(zap.String("chunk", identifier)),
		identifier: identifier,
		mapping:    mapping,
		space:      mapping.space,
		transform:  mapping.transform,
		inverse:    mapping.inverse,
		unmapped:   IdentityMatrix,
		localBB:    EmptyBoundingBox(),
		bb:         EmptyBoundingBox(),
		removable:  true,
		pathSum:    -1,
	}
	if g, ok := GridFromChunkName(identifier); ok {
		c.isOutside = true
		c.x, c.z = g.X, g.Z
		c.unmapped = Translation(Vector3{GridToPoint(g.X), 0, GridToPoint(g.Z)})
		c.transform = c.unmapped.Mul(mapping.transform)
		c.inverse, _ = c.transform.Invert()
		c.localBB = BoundingBox{
			Min: Vector3{0, MinChunkHeight, 0},
			Max: Vector3{GridResolution, MaxChunkHeight, GridResolution},
		}
		c.placeBoundingBox()
	}
	return c
}

// newPlacedChunk makes an unloaded inside chunk whose placement is already
// known, so that its bounds can be used before it loads.
func newPlacedChunk(identifier string, mapping *GeometryMapping, transform Matrix, localBB BoundingBox) *Chunk {
	c := NewChunk(identifier, mapping)
	c.unmapped = transform
	c.transform = transform.Mul(mapping.transform)
	c.inverse, _ = c.transform.Invert()
	c.localBB = localBB
	c.placeBoundingBox()
	return c
}

func (c *Chunk) placeBoundingBox() {
	c.bb = c.localBB.TransformBy(c.transform)
	c.centre = c.bb.Centre()
	c.bbReady = true
}

func (c *Chunk) unitBox() {
	c.localBB = BoundingBox{Max: Vector3{1, 1, 1}}
	c.placeBoundingBox()
}

// destroy drops the chunk's mapping reference. It is safe to call twice.
func (c *Chunk) destroy() {
	if !c.deleted.CompareAndSwap(false, true) {
		return
	}
	c.appointed = false
	c.mapping.DecRef()
}

func (c *Chunk) String() string { return c.identifier }

func (c *Chunk) Identifier() string           { return c.identifier }
func (c *Chunk) Mapping() *GeometryMapping    { return c.mapping }
func (c *Chunk) Space() *ChunkSpace           { return c.space }
func (c *Chunk) IsOutside() bool              { return c.isOutside }
func (c *Chunk) Grid() GridCoord              { return GridCoord{c.x, c.z} }
func (c *Chunk) Label() string                { return c.label }
func (c *Chunk) Transform() Matrix            { return c.transform }
func (c *Chunk) InvTransform() Matrix         { return c.inverse }
func (c *Chunk) UnmappedTransform() Matrix    { return c.unmapped }
func (c *Chunk) BoundingBox() BoundingBox     { return c.bb }
func (c *Chunk) LocalBB() BoundingBox         { return c.localBB }
func (c *Chunk) Centre() Vector3              { return c.centre }
func (c *Chunk) BoundingBoxReady() bool       { return c.bbReady }
func (c *Chunk) Bounds() []*Boundary          { return c.bounds }
func (c *Chunk) Joints() []*Boundary          { return c.joints }
func (c *Chunk) Items() []ChunkItem           { return c.items }
func (c *Chunk) DynamicItems() []*DynamicItem { return c.dynamic }
func (c *Chunk) Terrain() *TerrainItem        { return c.terrain }
func (c *Chunk) LoadError() error             { return c.loadErr }

// Overlappers is nil for inside chunks and for unloaded chunks.
func (c *Chunk) Overlappers() *ChunkOverlappers { return c.overlappers }

func (c *Chunk) Appointed() bool { return c.appointed }
func (c *Chunk) Loading() bool   { return c.loading.Load() }
func (c *Chunk) Loaded() bool    { return c.loaded.Load() }
func (c *Chunk) Deleted() bool   { return c.deleted.Load() }
func (c *Chunk) Bound() bool     { return c.bound }
func (c *Chunk) Focused() bool   { return c.focusCount > 0 }
func (c *Chunk) Completed() bool { return c.completed }

// Removable chunks may be unloaded when far from the camera.
func (c *Chunk) Removable() bool      { return c.removable }
func (c *Chunk) SetRemovable(v bool)  { c.removable = v }
func (c *Chunk) PathSum() float64     { return c.pathSum }
func (c *Chunk) SetPathSum(v float64) { c.pathSum = v }

func (c *Chunk) TraverseMark() uint32     { return c.traverseMark }
func (c *Chunk) SetTraverseMark(m uint32) { c.traverseMark = m }

// Volume approximates the chunk by its bounding box.
func (c *Chunk) Volume() float64 { return c.bb.Volume() }

func (c *Chunk) SizeStaticItems() int { return len(c.items) }

func (c *Chunk) tasks() *TaskManager {
	if c.space == nil || c.space.ctx == nil {
		return nil
	}
	return c.space.ctx.Tasks
}

func (c *Chunk) manager() *ChunkManager {
	if c.space == nil || c.space.ctx == nil {
		return nil
	}
	return c.space.ctx.Manager
}

// Load populates the chunk from its section and companion data. The chunk
// is marked loaded even when some of it failed; the error joins every
// failure. A nil section leaves a unit box.
func (c *Chunk) Load(s *DataSection, cdata *ChunkData) error {
	if c.loaded.Load() {
		return fmt.Errorf("chunk %s: %w", c.identifier, ErrAlreadyLoaded)
	}
	err := c.populate(s, cdata)
	c.loaded.Store(true)
	return err
}

// populate does the work of Load without publishing the result.
func (c *Chunk) populate(s *DataSection, cdata *ChunkData) error {
	if s == nil {
		c.log.Warn("Chunk section missing")
		c.unitBox()
		c.loadErr = fmt.Errorf("chunk %s: %w", c.identifier, ErrSectionNotFound)
		return c.loadErr
	}

	var errs []error
	c.label = s.String()
	skipBoundaries := false
	if !c.isOutside {
		m, ok := s.ReadMatrix("transform")
		if !ok {
			errs = append(errs, errors.New("no transform"))
		}
		c.unmapped = m
		c.transform = m.Mul(c.mapping.transform)
		if c.inverse, ok = c.transform.Invert(); !ok {
			errs = append(errs, errors.New("singular transform"))
		}
		if err := c.loadShell(s.Open("shell"), cdata); err != nil {
			errs = append(errs, err)
			c.unitBox()
			skipBoundaries = true
		}
	}
	if !skipBoundaries {
		if err := c.formBoundaries(s); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range s.Entries() {
		if e.Name() == "shell" {
			continue
		}
		f, ok := itemFactory(e.Name())
		if !ok {
			continue
		}
		item, err := f(c, e, cdata)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		if item != nil {
			c.addStaticItem(item)
		}
	}
	if c.isOutside && c.overlappers == nil {
		c.overlappers = newChunkOverlappers(c)
	}

	if err := errors.Join(errs...); err != nil {
		c.loadErr = fmt.Errorf("chunk %s: %w", c.identifier, err)
		c.log.Error("Chunk loaded with errors", zap.Error(err))
	}
	return c.loadErr
}

func (c *Chunk) loadShell(s *DataSection, cdata *ChunkData) error {
	if s == nil {
		return errNoShell
	}
	item, err := loadModelItem(c, s, cdata)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	c.addStaticItem(item)
	c.localBB = item.(*ModelItem).Bounds()
	c.placeBoundingBox()
	return nil
}

func (c *Chunk) formBoundaries(s *DataSection) error {
	var errs []error
	sections := s.Each("boundary")
	for _, bs := range sections {
		b, err := loadBoundary(bs, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		isBound, isJoint := false, false
		if len(b.unbound) > 0 {
			isJoint = true
			isBound = !b.unbound[0].internal
		} else {
			isJoint = len(b.bound) > 0
			isBound = true
		}
		if isBound {
			c.bounds = append(c.bounds, b)
		}
		if isJoint {
			c.joints = append(c.joints, b)
		}
	}
	if !c.isOutside && len(sections) < 4 {
		errs = append(errs, errFewBoundaries)
	}
	return errors.Join(errs...)
}

func (c *Chunk) addStaticItem(item ChunkItem) {
	item.Toss(c)
	c.items = append(c.items, item)
	if t, ok := item.(*TerrainItem); ok {
		c.terrain = t
	}
	if c.focusCount > 0 {
		c.focusItem(item)
	}
}

// Unload returns a loaded, unbound chunk to its unloaded state.
func (c *Chunk) Unload() {
	if c.bound {
		c.log.Error("Unloading a bound chunk")
		return
	}
	if !c.loaded.Load() {
		return
	}
	for i := len(c.dynamic) - 1; i >= 0; i-- {
		d := c.dynamic[i]
		c.delDynamicItem(d)
		if c.space != nil {
			c.space.addHomelessItem(d)
		}
	}
	for i := len(c.items) - 1; i >= 0; i-- {
		c.items[i].Toss(nil)
		c.items[i].Release()
	}
	c.items, c.dynamic, c.terrain = nil, nil, nil
	for _, b := range c.joints {
		for _, p := range slices.Concat(b.bound, b.unbound) {
			if p.HasChunk() && !p.chunk.appointed {
				p.chunk.destroy()
			}
		}
	}
	c.bounds, c.joints = nil, nil
	if c.overlappers != nil {
		c.overlappers.release()
		c.overlappers = nil
	}
	c.loadErr = nil
	c.loaded.Store(false)
}

// Bind connects the chunk's portals to its loaded neighbours and lets the
// space focus it. With form set, unconnected portals are offered to
// whatever chunk lies just beyond them.
func (c *Chunk) Bind(form bool) {
	s := c.space
	if slices.Contains(s.binding, c) {
		return
	}
	s.binding = append(s.binding, c)
	defer func() { s.binding = s.binding[:len(s.binding)-1] }()

	if !c.loaded.Load() {
		c.log.Panic("Binding a chunk that is not loaded")
	}
	c.loading.Store(false)
	c.BindPortals(form, false)
	c.notifyCachesOfBind(false)
	c.bound = true
	s.noticeChunk(c)
}

// BindPortals tries to bind every unbound portal.
func (c *Chunk) BindPortals(form, notifyCaches bool) {
	s := c.space
	notify := false
	for _, b := range c.joints {
		for i := 0; i < len(b.unbound); i++ {
			p := b.unbound[i]
			if p.kind == PortalHeaven {
				b.bindPortal(i)
				i--
				continue
			}
			if p.HasChunk() && p.chunk.mapping.Condemned() {
				if !p.chunk.appointed {
					p.chunk.destroy()
				}
				p.cutTo(PortalExtern)
			}
			if p.kind == PortalExtern {
				c.resolveExtern(p)
			}

			if !p.HasChunk() {
				if !form {
					continue
				}
				if p.kind != PortalNone && p.kind != PortalInvasive {
					continue
				}
				// look just beyond the centre of the portal
				conPt := c.transform.ApplyPoint(p.lcentre.Add(p.normal.Scale(-0.001)))
				var found *Chunk
				if col := s.column(conPt, false); col != nil {
					found = col.FindChunkExcluding(conPt, c)
				}
				if found == nil && len(s.binding) > 0 {
					if top := s.binding[len(s.binding)-1]; top != c && top.bb.Contains(conPt) {
						found = top
					}
				}
				if found == nil || !found.formPortal(c, p) {
					continue
				}
				p.setChunk(found)
			} else {
				p.chunk = s.findOrAddChunk(p.chunk)
			}

			online := p.chunk
			if online.bound || slices.Contains(s.binding, online) {
				b.bindPortal(i)
				i--
				online.bindTo(c)
			}
			notify = true
		}
	}
	if notify && notifyCaches {
		c.notifyCachesOfBind(false)
	}
}

// resolveExtern points p at the chunk of another mapping lying beyond it.
func (c *Chunk) resolveExtern(p *Portal) bool {
	conPt := c.transform.ApplyPoint(p.lcentre.Add(p.normal.Scale(-0.1)))
	ext := c.space.GuessChunk(conPt, true)
	if ext == nil {
		return false
	}
	if ext.mapping == c.mapping {
		ext.destroy()
		return false
	}
	p.setChunk(ext)
	return true
}

// bindTo binds the reverse of a portal that other has just bound to us.
func (c *Chunk) bindTo(other *Chunk) {
	for _, b := range c.joints {
		for i, p := range b.unbound {
			if p.kind == PortalChunk && p.chunk == other {
				b.bindPortal(i)
				c.notifyCachesOfBind(false)
				return
			}
		}
	}
	c.log.Error("No reverse portal to bind", zap.String("other", other.identifier))
}

// formPortal is asked by other whether its unconnected portal op leads
// into this chunk. An outside chunk may cut a new internal portal for an
// invasive one.
func (c *Chunk) formPortal(other *Chunk, op *Portal) bool {
	if op.kind == PortalInvasive || !c.isOutside {
		for _, b := range c.joints {
			for _, p := range b.unbound {
				if canBind(op, p, other, c) {
					p.setChunk(other)
					return true
				}
			}
		}
	}
	if op.kind != PortalInvasive || !c.isOutside {
		return false
	}

	wnormal := other.transform.ApplyVector(op.normal).Scale(-1)
	wcentre := other.transform.ApplyPoint(op.lcentre)
	lnormal := c.inverse.ApplyVector(wnormal)
	lcentre := c.inverse.ApplyPoint(wcentre)
	b := &Boundary{plane: PlaneFromPoint(lcentre, lnormal)}
	p := &Portal{
		kind:     PortalChunk,
		chunk:    other,
		normal:   lnormal,
		lcentre:  lcentre,
		internal: true,
	}
	for _, v := range op.points {
		p.points = append(p.points, c.inverse.ApplyPoint(other.transform.ApplyPoint(v)))
	}
	p.fixWinding()
	b.unbound = append(b.unbound, p)
	c.joints = append(c.joints, b)
	c.notifyCachesOfBind(false)
	return true
}

// Unbind disconnects the chunk from its neighbours and takes it out of
// focus. With cut set the portals forget their neighbours.
func (c *Chunk) Unbind(cut bool) {
	s := c.space
	s.ignoreChunk(c)
	c.focusCount = 0
	c.updateCompleted()

	for _, b := range c.joints {
		for i := 0; i < len(b.bound); i++ {
			p := b.bound[i]
			if p.kind == PortalHeaven && !c.isOutside {
				b.unbindPortal(i)
				i--
				continue
			}
			if !p.HasChunk() {
				continue
			}
			online := p.chunk
			if cut {
				p.cutTo(c.cutKind(online))
			}
			b.unbindPortal(i)
			i--
			if c.isOutside && !online.isOutside {
				online.unbindFrom(c, true)
			} else {
				online.unbindFrom(c, cut)
			}
		}
	}
	c.notifyCachesOfBind(true)
	c.bound = false
}

// cutKind is what a portal to other becomes once cut.
func (c *Chunk) cutKind(other *Chunk) PortalKind {
	if !c.isOutside && other.isOutside {
		return PortalInvasive
	}
	return PortalNone
}

func (c *Chunk) unbindFrom(other *Chunk, cut bool) {
	for bi, b := range c.joints {
		for i, p := range b.bound {
			if p.kind != PortalChunk || p.chunk != other {
				continue
			}
			if cut {
				p.cutTo(c.cutKind(other))
				if p.internal {
					c.joints = slices.Delete(c.joints, bi, bi+1)
					c.notifyCachesOfBind(true)
					return
				}
			}
			b.unbindPortal(i)
			c.notifyCachesOfBind(true)
			return
		}
	}
	c.log.Error("No reverse portal to unbind", zap.String("other", other.identifier))
}

func (c *Chunk) notifyCachesOfBind(isUnbind bool) {
	if c.overlappers != nil {
		c.overlappers.bind(isUnbind)
	}
}

// ResolveExterns re-resolves extern portals after a mapping comes or goes.
// With dead set only portals into that mapping are considered.
func (c *Chunk) ResolveExterns(dead *GeometryMapping) {
	if !c.bound {
		c.log.Error("Resolving externs of an unbound chunk")
		return
	}
	for _, b := range c.joints {
		for i := 0; i < len(b.unbound); i++ {
			p := b.unbound[i]
			if dead != nil {
				if !p.HasChunk() || p.chunk.mapping != dead {
					continue
				}
				p.cutTo(PortalExtern)
			} else if p.kind != PortalExtern {
				continue
			}
			if !c.resolveExtern(p) {
				continue
			}
			p.chunk = c.space.findOrAddChunk(p.chunk)
			if online := p.chunk; online.bound {
				b.bindPortal(i)
				i--
				online.bindTo(c)
			}
		}
	}
}

// updateCompleted recomputes whether the chunk and everything inside it
// is focused.
func (c *Chunk) updateCompleted() {
	c.completed = c.focusCount > 0
	if c.completed && c.isOutside && c.overlappers != nil {
		for _, o := range c.overlappers.overlappers {
			if o.overlapper.focusCount == 0 {
				c.completed = false
				break
			}
		}
	}
	if c.isOutside {
		return
	}
	for i := 0; i < 4; i++ {
		x, z := c.bb.Max.X, c.bb.Max.Z
		if i/2 != 0 {
			x = c.bb.Min.X
		}
		if i%2 != 0 {
			z = c.bb.Min.Z
		}
		col := c.space.column(Vector3{x, MaxChunkHeight - 0.1, z}, false)
		if col == nil || col.outside == nil {
			continue
		}
		if oc := col.outside; !c.completed {
			oc.completed = false
		} else if !oc.completed {
			oc.updateCompleted()
		}
	}
}

// Focus adds the chunk and its obstacles to the columns it covers.
func (c *Chunk) Focus() {
	s := c.space
	var cols []*Column
	if c.isOutside {
		if col := s.column(c.centre, true); col != nil {
			cols = append(cols, col)
		}
	} else {
		for i := 0; i < 8; i++ {
			if col := s.column(c.bb.Corner(i), true); col != nil && !slices.Contains(cols, col) {
				cols = append(cols, col)
			}
		}
	}
	if len(cols) == 0 {
		c.log.Warn("Focusing a chunk outside the focus grid")
	}
	for _, col := range cols {
		col.AddChunk(c)
	}
	for _, item := range c.items {
		c.focusItem(item)
	}
	for _, d := range c.dynamic {
		for _, h := range d.Obstacles() {
			s.addDynamicObstacle(h)
		}
	}
	c.focusCount = 1
	c.updateCompleted()
}

func (c *Chunk) focusItem(item ChunkItem) {
	for _, h := range item.Obstacles() {
		c.space.addObstacle(h)
	}
}

// Smudge takes the chunk out of focus until the space refocuses it.
func (c *Chunk) Smudge() {
	if c.focusCount == 0 {
		return
	}
	c.focusCount = 0
	c.updateCompleted()
	c.space.blurredChunk(c)
}

// Contains tests p against the bounding box and then the hull planes,
// both grown by radius.
func (c *Chunk) Contains(p Vector3, radius float64) bool {
	r := Vector3{radius, radius, radius}
	bb := BoundingBox{Min: c.bb.Min.Sub(r), Max: c.bb.Max.Add(r)}
	if !bb.Contains(p) {
		return false
	}
	lp := c.inverse.ApplyPoint(p)
	for _, b := range c.bounds {
		if b.plane.DistanceTo(lp) < -radius {
			return false
		}
	}
	return true
}

// Owns is Contains, except that an outside chunk does not own points that
// lie in one of its overlappers.
func (c *Chunk) Owns(p Vector3) bool {
	if !c.Contains(p, 0) {
		return false
	}
	if c.isOutside && c.overlappers != nil {
		for _, o := range c.overlappers.overlappers {
			if o.overlapper.bound && o.overlapper.Contains(p, 0) {
				return false
			}
		}
	}
	return true
}

// FindClosestUnloadedChunkTo returns the neighbour behind the unbound
// portal nearest to point, and its distance.
func (c *Chunk) FindClosestUnloadedChunkTo(point Vector3) (*Chunk, float64) {
	var closest *Chunk
	var dist float64
	for _, b := range c.joints {
		for _, p := range b.unbound {
			if !p.HasChunk() {
				continue
			}
			d := c.transform.ApplyPoint(p.lcentre).Sub(point).Length()
			if closest == nil || d < dist {
				closest, dist = p.chunk, d
			}
		}
	}
	return closest, dist
}

// AddDynamicItem places d in the chunk.
func (c *Chunk) AddDynamicItem(d *DynamicItem) { c.addDynamicItem(d) }

func (c *Chunk) addDynamicItem(d *DynamicItem) {
	c.dynamic = append(c.dynamic, d)
	d.Toss(c)
	if c.focusCount > 0 {
		for _, h := range d.Obstacles() {
			c.space.addDynamicObstacle(h)
		}
	}
}

// DelDynamicItem takes d out of the chunk.
func (c *Chunk) DelDynamicItem(d *DynamicItem) { c.delDynamicItem(d) }

func (c *Chunk) delDynamicItem(d *DynamicItem) {
	i := slices.Index(c.dynamic, d)
	if i < 0 {
		c.log.Error("Dynamic item not in chunk")
		return
	}
	c.dynamic = slices.Delete(c.dynamic, i, i+1)
	for _, h := range d.Obstacles() {
		c.space.delDynamicObstacle(h)
	}
	d.Toss(nil)
}

// jogForeignItems moves dynamic items whose position now lies in another
// chunk into it.
func (c *Chunk) jogForeignItems() {
	for i := 0; i < len(c.dynamic); {
		n := len(c.dynamic)
		c.dynamic[i].nest(c.space)
		if len(c.dynamic) == n {
			i++
		}
	}
}
