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
	"path"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettingsFile is the per-mapping settings section.
const SettingsFile = "space.settings"

var ErrNoSettings = errors.New("no " + SettingsFile)

// GeometryMapping places one directory of chunks into a space.
type GeometryMapping struct {
	log   *zap.Logger
	id    uuid.UUID
	space *ChunkSpace
	res   *Resources

	transform Matrix
	inverse   Matrix
	dir       string
	name      string
	settings  *DataSection

	// grid bounds, inclusive, in world and mapping coordinates
	minGX, maxGX, minGZ, maxGZ     int
	minLGX, maxLGX, minLGZ, maxLGZ int

	condemned atomic.Bool
	refs      atomic.Int32
}

// NewGeometryMapping opens the settings of dir and computes the grid
// bounds. The mapping starts with one reference, owned by the caller.
func NewGeometryMapping(space *ChunkSpace, id uuid.UUID, transform Matrix, dir string, res *Resources) (*GeometryMapping, error) {
	dir = path.Clean(dir)
	settings, err := res.OpenSection(path.Join(dir, SettingsFile))
	if err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			return nil, fmt.Errorf("mapping %s: %w", dir, ErrNoSettings)
		}
		return nil, fmt.Errorf("mapping %s: %w", dir, err)
	}
	inv, ok := transform.Invert()
	if !ok {
		return nil, fmt.Errorf("mapping %s: singular transform", dir)
	}
	m := &GeometryMapping{
		id:        id,
		space:     space,
		res:       res,
		transform: transform,
		inverse:   inv,
		dir:       dir,
		name:      dir,
		settings:  settings,
		minLGX:    settings.ReadInt("bounds/minX", 0),
		maxLGX:    settings.ReadInt("bounds/maxX", -1),
		minLGZ:    settings.ReadInt("bounds/minY", 0),
		maxLGZ:    settings.ReadInt("bounds/maxY", -1),
	}
	m.log = zap.NewNop()
	if space != nil {
		m.log = space.log.With(zap.String("mapping", m.name))
	}
	m.refs.Store(1)

	local := BoundingBox{
		Min: Vector3{GridToPoint(m.minLGX), MinChunkHeight, GridToPoint(m.minLGZ)},
		Max: Vector3{GridToPoint(m.maxLGX + 1), MaxChunkHeight, GridToPoint(m.maxLGZ + 1)},
	}
	world := local.TransformBy(transform)
	m.minGX, m.minGZ = PointToGrid(world.Min.X+1), PointToGrid(world.Min.Z+1)
	m.maxGX, m.maxGZ = PointToGrid(world.Max.X-1), PointToGrid(world.Max.Z-1)
	return m, nil
}

func (m *GeometryMapping) ID() uuid.UUID          { return m.id }
func (m *GeometryMapping) Name() string           { return m.name }
func (m *GeometryMapping) Path() string           { return m.dir }
func (m *GeometryMapping) Space() *ChunkSpace     { return m.space }
func (m *GeometryMapping) Transform() Matrix      { return m.transform }
func (m *GeometryMapping) InvTransform() Matrix   { return m.inverse }
func (m *GeometryMapping) Settings() *DataSection { return m.settings }
func (m *GeometryMapping) Resources() *Resources  { return m.res }

// chunkPath is the resource path of a chunk's file with the given suffix.
func (m *GeometryMapping) chunkPath(identifier, suffix string) string {
	return path.Join(m.dir, identifier+suffix)
}

// WorldBounds returns the inclusive world grid bounds.
func (m *GeometryMapping) WorldBounds() (minX, minZ, maxX, maxZ int) {
	return m.minGX, m.minGZ, m.maxGX, m.maxGZ
}

func (m *GeometryMapping) InWorldBounds(x, z int) bool {
	return x >= m.minGX && x <= m.maxGX && z >= m.minGZ && z <= m.maxGZ
}

func (m *GeometryMapping) InLocalBounds(x, z int) bool {
	return x >= m.minLGX && x <= m.maxLGX && z >= m.minLGZ && z <= m.maxLGZ
}

// GridToLocal maps a world grid cell to the mapping's grid through the
// centre of the cell.
func (m *GeometryMapping) GridToLocal(x, z int) (lx, lz int) {
	const half = GridResolution / 2
	p := m.inverse.ApplyPoint(Vector3{GridToPoint(x) + half, 0, GridToPoint(z) + half})
	return PointToGrid(p.X), PointToGrid(p.Z)
}

// OutsideChunkIdentifier names the outside chunk holding a mapping-local
// point. With checkBounds it returns "" outside the mapping.
func (m *GeometryMapping) OutsideChunkIdentifier(local Vector3, checkBounds bool) string {
	return m.OutsideChunkIdentifierGrid(PointToGrid(local.X), PointToGrid(local.Z), checkBounds)
}

func (m *GeometryMapping) OutsideChunkIdentifierGrid(gx, gz int, checkBounds bool) string {
	if checkBounds && !m.InLocalBounds(gx, gz) {
		return ""
	}
	return OutsideChunkName(gx, gz)
}

// OutsideChunkName formats grid coordinates as an outside chunk name.
func OutsideChunkName(gx, gz int) string {
	return fmt.Sprintf("%04x%04xo", uint16(int16(gx)), uint16(int16(gz)))
}

// GridFromChunkName parses the name of an outside chunk.
func GridFromChunkName(name string) (GridCoord, bool) {
	if len(name) != 9 || name[8] != 'o' {
		return GridCoord{}, false
	}
	x, err1 := strconv.ParseUint(name[:4], 16, 16)
	z, err2 := strconv.ParseUint(name[4:8], 16, 16)
	if err1 != nil || err2 != nil {
		return GridCoord{}, false
	}
	return GridCoord{int(int16(x)), int(int16(z))}, true
}

// IsOutsideChunkName reports whether a chunk name denotes an outside chunk.
func IsOutsideChunkName(name string) bool {
	return len(name) > 0 && name[len(name)-1] == 'o'
}

// Condemn marks the mapping for release once its last reference goes.
func (m *GeometryMapping) Condemn() {
	if m.condemned.Swap(true) {
		return
	}
	m.log.Debug("Mapping condemned", zap.Int32("refs", m.refs.Load()))
}

func (m *GeometryMapping) Condemned() bool { return m.condemned.Load() }

func (m *GeometryMapping) IncRef() { m.refs.Add(1) }

func (m *GeometryMapping) DecRef() {
	n := m.refs.Add(-1)
	switch {
	case n < 0:
		m.log.Panic("Mapping reference count below zero")
	case n == 0:
		if !m.Condemned() {
			m.log.Warn("Last mapping reference released without condemning")
		}
		m.log.Debug("Mapping released")
	}
}

func (m *GeometryMapping) Refs() int32 { return m.refs.Load() }
