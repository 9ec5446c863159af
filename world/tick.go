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
	"time"

	"go.uber.org/zap"
)

// Tick runs one step of streaming on the main goroutine. Staged chunks are
// adopted first, then finished loads are bound, then the camera space is
// scanned for chunks to load and unload.
func (m *ChunkManager) Tick(dTime time.Duration) {
	// callbacks enter the guards themselves
	m.ctx.Tasks.Tick()

	defer m.enterAll()()
	m.drainStaged()
	m.drainExplicit()

	m.tickMark++
	m.totalTickTime += dTime
	if m.syncMode > 0 {
		return
	}

	m.checkLoadingChunks()

	if m.cameraSpace == nil {
		return
	}
	m.cameraChunk = m.findCameraChunk()
	if m.cameraChunk == nil {
		if m.blindPanic {
			m.panicLoad()
		} else {
			m.autoBootstrapSeedChunk()
		}
	}
	if m.scan() {
		m.cameraSpace.focusAt(m.camera.Origin())
		m.cameraChunk = m.findCameraChunk()
	}
}

// drainStaged adopts the chunks workers made since the last tick.
func (m *ChunkManager) drainStaged() {
	m.staged.Drain(func(sc stagedChunk) {
		c := sc.chunk
		if c.deleted.Load() {
			return
		}
		s, ok := m.spaces[sc.space]
		if !ok || c.mapping.Condemned() {
			c.destroy()
			return
		}
		m.adopt(s, c)
	})
}

func (m *ChunkManager) drainExplicit() {
	m.explicit.Drain(func(e explicitLoad) {
		if c := m.explicitChunk(e); c != nil {
			m.loadChunk(c, e.overlapper)
		}
	})
}

// checkLoadingChunks binds every chunk whose load has finished.
func (m *ChunkManager) checkLoadingChunks() {
	if len(m.loadingChunks) == 0 {
		return
	}
	var done []*Chunk
	kept := m.loadingChunks[:0]
	for _, c := range m.loadingChunks {
		if c.loaded.Load() {
			done = append(done, c)
		} else {
			kept = append(kept, c)
		}
	}
	clear(m.loadingChunks[len(kept):])
	m.loadingChunks = kept
	for _, c := range done {
		m.bindLoaded(c)
	}
}

// bindLoaded binds a freshly loaded chunk into its space. It reports false
// when the chunk had been dropped while loading.
func (m *ChunkManager) bindLoaded(c *Chunk) bool {
	s := c.space
	switch {
	case c.deleted.Load():
		c.loading.Store(false)
		c.Unload()
		return false
	case c.mapping.Condemned():
		s.unloadChunkBeforeBinding(c)
		if c.appointed {
			s.delChunk(c)
		}
		c.destroy()
		return false
	}

	if !c.isOutside && s == m.cameraSpace {
		// the inside chunk's columns must exist before it binds
		s.focusAt(m.camera.Origin())
	}
	c.Bind(true)
	if !c.isOutside {
		s.reshareOverlapper(c)
	}
	if m.syncTerrain > 0 && c.terrain != nil {
		c.terrain.Wait()
	}

	for _, v := range m.viewers {
		v.ViewChunkLoad(c)
	}
	m.ctx.Observer.Record(newLoadEvent(c, EventBind))
	return true
}

// autoBootstrapSeedChunk looks for the chunk under a lost camera on a
// worker and loads it when found.
func (m *ChunkManager) autoBootstrapSeedChunk() {
	s := m.cameraSpace
	if m.seeding || !s.IsMapped() {
		return
	}
	m.seeding = true
	p := m.camera.Origin()
	m.log.Debug("Seeding camera chunk", zap.Float64("x", p.X), zap.Float64("z", p.Z))
	m.ctx.Loader.FindSeed(s, p, func(c *Chunk) {
		m.seeding = false
		if c == nil {
			return
		}
		if m.spaces[s.id] != s || c.mapping.Condemned() {
			c.destroy()
			return
		}
		defer s.enter()()
		c = s.findOrAddChunk(c)
		if !c.loaded.Load() && !c.loading.Load() {
			m.loadChunk(c, true)
		}
	})
}

// panicLoad loads the chunk under a lost camera before returning.
func (m *ChunkManager) panicLoad() {
	s := m.cameraSpace
	c := s.GuessChunk(m.camera.Origin(), true)
	if c == nil {
		return
	}
	m.log.Warn("Camera chunk missing, loading it now", zap.String("chunk", c.identifier))
	c = s.findOrAddChunk(c)
	if c.loading.Load() {
		return
	}
	m.loadChunkNow(c)
}
