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
	"context"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"
)

const (
	// an unloaded overlapper is wanted once the camera is this close to it
	cameraInsideOverlapperBias = 10.0
	// chunks this close to the camera are never unloaded
	cameraNearbyWiredBias = 20.0
)

type stagedChunk struct {
	chunk *Chunk
	space SpaceID
}

type explicitLoad struct {
	identifier string
	mapping    *GeometryMapping
	overlapper bool
}

// ChunkManager decides which chunks are loaded, bound and unloaded as the
// camera moves. Except for AddChunkToSpace and LoadChunkExplicitly its
// methods belong to the main goroutine.
type ChunkManager struct {
	log *zap.Logger
	ctx *StreamingContext

	spaces map[SpaceID]*ChunkSpace

	camera      Matrix
	cameraSpace *ChunkSpace
	cameraChunk *Chunk
	override    *Chunk

	staged         *Mailbox[stagedChunk]
	explicit       *Mailbox[explicitLoad]
	inlineExplicit []explicitLoad
	loadingChunks  []*Chunk
	seeding        bool

	syncMode    int
	syncTerrain int

	tickMark      uint32
	totalTickTime time.Duration

	farPlane         float64
	maxLoadPath      float64
	minUnloadPath    float64
	maxUnloadChunks  int
	maxLoadingChunks int
	maxWorthyChunks  int
	blindPanic       bool
	offsets          []GridCoord

	viewers []ChunkViewer

	drawing bool
	trace   []*Chunk
	draw    DrawStats
}

func newChunkManager(log *zap.Logger, ctx *StreamingContext) *ChunkManager {
	cfg := ctx.Config
	def := DefaultConfig()
	orDefault := func(v, d int) int {
		if v <= 0 {
			return d
		}
		return v
	}
	m := &ChunkManager{
		log:              log,
		ctx:              ctx,
		spaces:           make(map[SpaceID]*ChunkSpace),
		camera:           IdentityMatrix,
		staged:           NewMailbox[stagedChunk](cfg.QueueSize),
		explicit:         NewMailbox[explicitLoad](cfg.QueueSize),
		maxUnloadChunks:  orDefault(cfg.MaxUnloadChunks, def.MaxUnloadChunks),
		maxLoadingChunks: orDefault(cfg.MaxLoadingChunks, def.MaxLoadingChunks),
		maxWorthyChunks:  orDefault(cfg.MaxWorthyChunks, def.MaxWorthyChunks),
		blindPanic:       cfg.BlindPanic,
	}
	switch {
	case cfg.FarPlane > 0:
		m.AutoSetPathConstraints(cfg.FarPlane)
	default:
		maxLoad, minUnload := cfg.MaxLoadPath, cfg.MinUnloadPath
		if maxLoad <= 0 {
			maxLoad = def.MaxLoadPath
		}
		if minUnload <= 0 {
			minUnload = max(def.MinUnloadPath, maxLoad)
		}
		m.SetPathConstraints(maxLoad, minUnload)
	}
	return m
}

// Space returns the space of id, making it if create is set.
func (m *ChunkManager) Space(id SpaceID, create bool) *ChunkSpace {
	if s, ok := m.spaces[id]; ok || !create {
		return s
	}
	s := newChunkSpace(m.log, m.ctx, id, m.ctx.Resources, m.ctx.Config.FocusSpan)
	m.spaces[id] = s
	m.log.Debug("Space created", zap.Uint32("space", uint32(id)))
	return s
}

func (m *ChunkManager) Spaces() []*ChunkSpace {
	ss := make([]*ChunkSpace, 0, len(m.spaces))
	for _, s := range m.spaces {
		ss = append(ss, s)
	}
	slices.SortFunc(ss, func(a, b *ChunkSpace) int { return int(a.id) - int(b.id) })
	return ss
}

// DelSpace clears the space and forgets it.
func (m *ChunkManager) DelSpace(id SpaceID) {
	s, ok := m.spaces[id]
	if !ok {
		return
	}
	if m.cameraSpace == s {
		m.cameraSpace, m.cameraChunk, m.override = nil, nil, nil
	}
	s.Fini()
	delete(m.spaces, id)
	m.log.Debug("Space deleted", zap.Uint32("space", uint32(id)))
}

// ClearAllSpaces empties every space but keeps them.
func (m *ChunkManager) ClearAllSpaces() {
	for _, s := range m.Spaces() {
		s.Clear()
	}
	m.cameraChunk, m.override = nil, nil
}

func (m *ChunkManager) fini() {
	for _, s := range m.Spaces() {
		m.DelSpace(s.id)
	}
}

// Camera places the camera in space. A non-nil override is used as the
// camera chunk instead of looking the position up.
func (m *ChunkManager) Camera(transform Matrix, space *ChunkSpace, override *Chunk) {
	m.camera = transform
	m.override = override
	if space != m.cameraSpace {
		m.cameraSpace = space
		m.cameraChunk = nil
	}
	if space == nil {
		return
	}
	defer space.enter()()
	space.focusAt(transform.Origin())
	m.cameraChunk = m.findCameraChunk()
}

func (m *ChunkManager) findCameraChunk() *Chunk {
	if m.override != nil {
		return m.override
	}
	if m.cameraSpace == nil {
		return nil
	}
	return m.cameraSpace.findChunkFromPoint(m.camera.Origin())
}

func (m *ChunkManager) CameraTransform() Matrix  { return m.camera }
func (m *ChunkManager) CameraSpace() *ChunkSpace { return m.cameraSpace }
func (m *ChunkManager) CameraChunk() *Chunk      { return m.cameraChunk }

// AddChunkToSpace hands a chunk made on a worker to the main goroutine,
// which adds it to the space on its next tick. Safe from any goroutine.
func (m *ChunkManager) AddChunkToSpace(c *Chunk, space SpaceID) {
	m.staged.Send(stagedChunk{chunk: c, space: space})
	m.ctx.Tasks.notify()
}

// LoadChunkExplicitly asks for the named chunk to be loaded on the next
// tick whatever the camera does. Safe from any goroutine.
func (m *ChunkManager) LoadChunkExplicitly(identifier string, mapping *GeometryMapping, isOverlapper bool) {
	m.explicit.Send(explicitLoad{identifier: identifier, mapping: mapping, overlapper: isOverlapper})
	m.ctx.Tasks.notify()
}

// addChunkToSpaceNow adopts a chunk made during an inline load.
func (m *ChunkManager) addChunkToSpaceNow(c *Chunk, s *ChunkSpace) {
	if c.mapping.Condemned() {
		c.destroy()
		return
	}
	m.adopt(s, c)
}

// loadChunkExplicitlyNow defers an explicit load until the inline load
// asking for it has bound.
func (m *ChunkManager) loadChunkExplicitlyNow(identifier string, mapping *GeometryMapping, isOverlapper bool) {
	m.inlineExplicit = append(m.inlineExplicit, explicitLoad{identifier: identifier, mapping: mapping, overlapper: isOverlapper})
}

// adopt appoints a staged chunk unless the space already has one of that
// name; the stub's owner then swaps it for the appointed one.
func (m *ChunkManager) adopt(s *ChunkSpace, c *Chunk) {
	if s.findChunk(c.identifier, c.mapping) != nil {
		return
	}
	s.addChunk(c)
}

// FindChunkByName returns the chunk of mapping called identifier, making
// and appointing it if create is set.
func (m *ChunkManager) FindChunkByName(identifier string, mapping *GeometryMapping, create bool) *Chunk {
	defer mapping.space.enter()()
	return m.findChunkByName(identifier, mapping, create)
}

func (m *ChunkManager) findChunkByName(identifier string, mapping *GeometryMapping, create bool) *Chunk {
	s := mapping.space
	if c := s.findChunk(identifier, mapping); c != nil || !create {
		return c
	}
	c := NewChunk(identifier, mapping)
	s.addChunk(c)
	return c
}

// FindChunkByGrid returns the outside chunk of mapping at world grid cell
// (x, z), if the space knows of it.
func (m *ChunkManager) FindChunkByGrid(mapping *GeometryMapping, x, z int) *Chunk {
	lx, lz := mapping.GridToLocal(x, z)
	id := mapping.OutsideChunkIdentifierGrid(lx, lz, true)
	if id == "" {
		return nil
	}
	return mapping.space.findChunk(id, mapping)
}

// LoadChunk starts loading c, or loads it at once in sync mode.
func (m *ChunkManager) LoadChunk(c *Chunk, highPriority bool) {
	defer c.space.enter()()
	m.loadChunk(c, highPriority)
}

func (m *ChunkManager) loadChunk(c *Chunk, highPriority bool) {
	if m.syncMode > 0 {
		m.loadChunkNow(c)
		return
	}
	if c.loaded.Load() {
		c.log.Error("Loading a loaded chunk")
		return
	}
	pri := PriorityDefault
	if highPriority {
		pri = PriorityHigh
	}
	m.loadingChunks = append(m.loadingChunks, c)
	m.ctx.Loader.Load(c, pri)
}

// LoadChunkNow finds or makes the named chunk and loads and binds it
// before returning, along with the overlappers it names.
func (m *ChunkManager) LoadChunkNow(identifier string, mapping *GeometryMapping) *Chunk {
	defer mapping.space.enter()()
	c := m.findChunkByName(identifier, mapping, true)
	m.loadChunkNow(c)
	return c
}

func (m *ChunkManager) loadChunkNow(c *Chunk) {
	if c.loaded.Load() || c.loading.Load() {
		return
	}
	m.ctx.Loader.LoadNow(c)
	m.bindLoaded(c)
	for len(m.inlineExplicit) > 0 {
		e := m.inlineExplicit[0]
		m.inlineExplicit = m.inlineExplicit[1:]
		if c := m.explicitChunk(e); c != nil {
			m.loadChunkNow(c)
		}
	}
}

// explicitChunk returns the chunk an explicit load names if it still
// needs loading.
func (m *ChunkManager) explicitChunk(e explicitLoad) *Chunk {
	if e.mapping.Condemned() {
		return nil
	}
	s := e.mapping.space
	if m.spaces[s.id] != s {
		return nil
	}
	c := m.findChunkByName(e.identifier, e.mapping, true)
	if c.loaded.Load() || c.loading.Load() {
		return nil
	}
	return c
}

// SwitchToSyncMode counts requests for synchronous loading. Entering sync
// mode first finishes the loads already under way.
func (m *ChunkManager) SwitchToSyncMode(sync bool) {
	if !sync {
		if m.syncMode == 0 {
			m.log.Error("Sync mode switched off more often than on")
			return
		}
		m.syncMode--
		return
	}
	m.syncMode++
	if m.syncMode == 1 {
		m.flushLoading()
	}
}

// SwitchToSyncTerrainLoad makes binding wait for terrain collision shapes.
func (m *ChunkManager) SwitchToSyncTerrainLoad(sync bool) {
	if sync {
		m.syncTerrain++
	} else if m.syncTerrain > 0 {
		m.syncTerrain--
	}
}

// ScopedSyncMode enters sync mode and returns the function leaving it.
func (m *ChunkManager) ScopedSyncMode() func() {
	m.SwitchToSyncMode(true)
	return func() { m.SwitchToSyncMode(false) }
}

func (m *ChunkManager) SyncMode() bool { return m.syncMode > 0 }

// flushLoading waits for the chunks already loading and binds them.
func (m *ChunkManager) flushLoading() {
	tasks := m.ctx.Tasks
	for len(m.loadingChunks) > 0 {
		tasks.Tick()
		func() {
			defer m.enterAll()()
			m.checkLoadingChunks()
		}()
		if len(m.loadingChunks) == 0 {
			break
		}
		if tasks.Pending() == 0 {
			m.log.Warn("Chunks left loading with no work queued", zap.Int("chunks", len(m.loadingChunks)))
			break
		}
		if err := tasks.Wait(context.Background()); err != nil {
			break
		}
	}
}

// AutoSetPathConstraints sizes the load and unload radii to the far plane.
func (m *ChunkManager) AutoSetPathConstraints(farPlane float64) {
	diag := math.Sqrt2 * GridResolution
	maxLoad := math.Sqrt(2*farPlane*farPlane) + diag
	m.farPlane = farPlane
	m.SetPathConstraints(maxLoad, maxLoad+diag*1.01)
}

func (m *ChunkManager) SetPathConstraints(maxLoadPath, minUnloadPath float64) {
	if minUnloadPath < maxLoadPath {
		m.log.Warn("Unload path inside load path",
			zap.Float64("maxLoadPath", maxLoadPath), zap.Float64("minUnloadPath", minUnloadPath))
	}
	m.maxLoadPath, m.minUnloadPath = maxLoadPath, minUnloadPath
	if m.farPlane <= 0 {
		m.farPlane = maxLoadPath
	}
	m.offsets = sortedGridOffsets(maxLoadPath)
}

func (m *ChunkManager) PathConstraints() (maxLoadPath, minUnloadPath float64) {
	return m.maxLoadPath, m.minUnloadPath
}

func (m *ChunkManager) SetMaxUnloadChunks(n int) { m.maxUnloadChunks = n }

// Busy reports whether any load, staged chunk or task is outstanding.
func (m *ChunkManager) Busy() bool {
	return len(m.loadingChunks) > 0 ||
		m.staged.Len() > 0 ||
		m.explicit.Len() > 0 ||
		m.seeding ||
		m.ctx.Tasks.Pending() > 0
}

// WaitIdle ticks until nothing is outstanding.
func (m *ChunkManager) WaitIdle(ctx context.Context) error {
	for {
		m.Tick(0)
		if !m.Busy() {
			return nil
		}
		if err := m.ctx.Tasks.Wait(ctx); err != nil {
			return err
		}
	}
}

func (m *ChunkManager) TickMark() uint32 { return m.tickMark }

func (m *ChunkManager) TotalTickTimeInMS() int64 { return m.totalTickTime.Milliseconds() }

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Spaces        int
	Chunks        int
	Loading       int
	Staged        int
	TickMark      uint32
	TotalTickTime time.Duration
	Draw          DrawStats
}

func (m *ChunkManager) Stats() Stats {
	st := Stats{
		Spaces:        len(m.spaces),
		Loading:       len(m.loadingChunks),
		Staged:        m.staged.Len() + m.explicit.Len(),
		TickMark:      m.tickMark,
		TotalTickTime: m.totalTickTime,
		Draw:          m.draw,
	}
	for _, s := range m.spaces {
		st.Chunks += s.NumChunks()
	}
	return st
}

func (m *ChunkManager) AddViewer(v ChunkViewer) {
	if slices.Contains(m.viewers, v) {
		m.log.Panic("Adding a viewer twice")
	}
	m.viewers = append(m.viewers, v)
}

func (m *ChunkManager) RemoveViewer(v ChunkViewer) bool {
	i := slices.Index(m.viewers, v)
	if i < 0 {
		return false
	}
	last := len(m.viewers) - 1
	m.viewers[i] = m.viewers[last]
	m.viewers = m.viewers[:last]
	return true
}

// enterAll enters the guard of every space.
func (m *ChunkManager) enterAll() func() {
	exits := make([]func(), 0, len(m.spaces))
	for _, s := range m.spaces {
		exits = append(exits, s.enter())
	}
	return func() {
		for _, exit := range exits {
			exit()
		}
	}
}
