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

import "math"

// DrawStats counts the work of the last Draw.
type DrawStats struct {
	Traversed int
	Visible   int
	Pass      uint32
}

// Draw walks the bound portals outwards from the camera chunk and returns
// the chunks within the far plane, in the order reached.
func (m *ChunkManager) Draw() []*Chunk {
	if m.drawing {
		m.log.Panic("Draw called while drawing")
	}
	m.drawing = true
	defer func() { m.drawing = false }()

	m.draw.Pass++
	m.draw.Traversed, m.draw.Visible = 0, 0
	m.trace = m.trace[:0]

	start := m.cameraChunk
	if start == nil || !start.bound {
		return nil
	}
	var visible []*Chunk
	m.drawChunk(start, m.camera.Origin(), &visible)
	return visible
}

func (m *ChunkManager) drawChunk(c *Chunk, cam Vector3, visible *[]*Chunk) {
	if c.drawMark == m.draw.Pass {
		return
	}
	c.drawMark = m.draw.Pass
	m.draw.Traversed++
	if boxDistance(c.bb, cam) > m.farPlane {
		return
	}
	m.draw.Visible++
	*visible = append(*visible, c)

	m.trace = append(m.trace, c)
	defer func() { m.trace = m.trace[:len(m.trace)-1] }()
	for _, b := range c.joints {
		for _, p := range b.bound {
			if n := p.Chunk(); n != nil && n.bound {
				m.drawChunk(n, cam, visible)
			}
		}
	}
}

// DrawTrace is the path of chunks from the camera chunk to the one being
// drawn. It is empty outside Draw.
func (m *ChunkManager) DrawTrace() []*Chunk { return m.trace }

func (m *ChunkManager) DrawStats() DrawStats { return m.draw }

// boxDistance is the distance from p to the nearest point of b.
func boxDistance(b BoundingBox, p Vector3) float64 {
	dx := math.Max(0, math.Max(b.Min.X-p.X, p.X-b.Max.X))
	dy := math.Max(0, math.Max(b.Min.Y-p.Y, p.Y-b.Max.Y))
	dz := math.Max(0, math.Max(b.Min.Z-p.Z, p.Z-b.Max.Z))
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
