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
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// ChunkItem is anything a chunk owns: models, terrain blocks, overlapper
// references, moving objects.
type ChunkItem interface {
	Chunk() *Chunk
	// Toss moves the item into c, or out of any chunk when c is nil.
	Toss(c *Chunk)
	Obstacles() []ObstacleHandle
	// Release drops the item's obstacles. The item is dead afterwards.
	Release()
}

// ItemFactory builds one item from a section of a chunk file. It runs on
// a loader goroutine and must not touch the space.
type ItemFactory func(c *Chunk, s *DataSection, cdata *ChunkData) (ChunkItem, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ItemFactory)
)

// RegisterItemFactory binds a section name to a factory, replacing any
// previous one.
func RegisterItemFactory(section string, f ItemFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[section] = f
}

func itemFactory(section string) (ItemFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[section]
	return f, ok
}

func init() {
	RegisterItemFactory("model", loadModelItem)
	RegisterItemFactory("terrain", loadTerrainItem)
	RegisterItemFactory("overlapper", loadOverlapper)
}

var (
	ErrNoBoundingBox = errors.New("no bounding box")
	errNoGeometry    = errors.New("model has neither boundingBox nor triangles")
	errNoTerrain     = errors.New("no terrain data")
)

// itemBase keeps the chunk and the obstacles every item kind shares.
type itemBase struct {
	arena     *ObstacleArena
	log       *zap.Logger
	chunk     *Chunk
	obstacles []*ChunkObstacle
}

func newItemBase(c *Chunk) itemBase {
	return itemBase{arena: c.space.arena, log: c.log, chunk: c}
}

func (i *itemBase) Chunk() *Chunk { return i.chunk }

func (i *itemBase) Toss(c *Chunk) {
	i.chunk = c
	for _, ob := range i.obstacles {
		ob.chunk = c
	}
}

func (i *itemBase) Obstacles() []ObstacleHandle {
	hs := make([]ObstacleHandle, len(i.obstacles))
	for n, ob := range i.obstacles {
		hs[n] = ob.handle
	}
	return hs
}

func (i *itemBase) addObstacle(ob *ChunkObstacle) {
	ob.chunk = i.chunk
	i.arena.Alloc(ob)
	i.obstacles = append(i.obstacles, ob)
}

func (i *itemBase) Release() {
	for _, ob := range i.obstacles {
		ob.chunk = nil
		if err := i.arena.DecRef(ob.handle); err != nil {
			i.log.Error("Release item obstacle", zap.Error(err))
		}
	}
	i.obstacles = nil
}

// ModelItem is static geometry: a box or a triangle mesh.
type ModelItem struct {
	itemBase
	bounds BoundingBox
}

func loadModelItem(c *Chunk, s *DataSection, _ *ChunkData) (ChunkItem, error) {
	var shape Shape
	if b, ok := s.ReadBoundingBox("boundingBox"); ok {
		shape = BoxShape{Box: b}
	} else if pts := s.Open("triangles"); pts != nil {
		var raw [][]float64
		if err := pts.Decode(&raw); err != nil {
			return nil, fmt.Errorf("model triangles: %w", err)
		}
		if len(raw) == 0 || len(raw)%3 != 0 {
			return nil, fmt.Errorf("model triangles: %d points", len(raw))
		}
		tris := make([]Triangle, 0, len(raw)/3)
		for i := 0; i < len(raw); i += 3 {
			var t Triangle
			for j := range t {
				if len(raw[i+j]) != 3 {
					return nil, fmt.Errorf("model triangles: point %d", i+j)
				}
				t[j] = Vector3{raw[i+j][0], raw[i+j][1], raw[i+j][2]}
			}
			tris = append(tris, t)
		}
		shape = NewBSPShape(tris)
	} else {
		return nil, errNoGeometry
	}
	m := &ModelItem{itemBase: newItemBase(c), bounds: shape.Bounds()}
	m.addObstacle(NewChunkObstacle(c.transform, shape, m))
	return m, nil
}

// Bounds is the model's extent in chunk space.
func (m *ModelItem) Bounds() BoundingBox { return m.bounds }

// TerrainItem is the height block of an outside chunk. Its collision mesh
// is built in the background after load.
type TerrainItem struct {
	itemBase
	data  TerrainData
	shape *BSPShape
}

func loadTerrainItem(c *Chunk, s *DataSection, cdata *ChunkData) (ChunkItem, error) {
	if !c.isOutside {
		return nil, errors.New("terrain in an inside chunk")
	}
	if cdata == nil || cdata.Terrain.Empty() {
		return nil, fmt.Errorf("%s: %w", s.ReadString("resource", "terrain"), errNoTerrain)
	}
	if err := cdata.Terrain.validate(); err != nil {
		return nil, err
	}
	t := &TerrainItem{itemBase: newItemBase(c), data: cdata.Terrain}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range t.data.Heights {
		lo, hi = min(lo, float64(h)), max(hi, float64(h))
	}
	bounds := BoundingBox{Min: Vector3{0, lo, 0}, Max: Vector3{GridResolution, hi, GridResolution}}
	t.shape = NewDeferredBSPShape(bounds, t.triangles)
	t.addObstacle(NewChunkObstacle(c.transform, t.shape, t))

	if tasks := c.tasks(); tasks != nil {
		tasks.AddBackgroundTask(PriorityTerrain, func(context.Context) { t.shape.Ensure() })
	}
	return t, nil
}

// triangles splits every height cell into two triangles.
func (t *TerrainItem) triangles() []Triangle {
	n := int(t.data.Resolution)
	step := GridResolution / float64(n-1)
	at := func(i, j int) Vector3 {
		return Vector3{float64(i) * step, t.data.Height(i, j), float64(j) * step}
	}
	tris := make([]Triangle, 0, 2*(n-1)*(n-1))
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			a, b, c, d := at(i, j), at(i+1, j), at(i, j+1), at(i+1, j+1)
			tris = append(tris, Triangle{a, c, b}, Triangle{b, c, d})
		}
	}
	return tris
}

func (t *TerrainItem) Resolution() int { return int(t.data.Resolution) }

// HeightAt samples the block at a chunk-space position, interpolating
// within the cell.
func (t *TerrainItem) HeightAt(x, z float64) float64 {
	n := int(t.data.Resolution)
	step := GridResolution / float64(n-1)
	fx := min(max(x/step, 0), float64(n-1))
	fz := min(max(z/step, 0), float64(n-1))
	i, j := min(int(fx), n-2), min(int(fz), n-2)
	u, v := fx-float64(i), fz-float64(j)
	h00, h10 := t.data.Height(i, j), t.data.Height(i+1, j)
	h01, h11 := t.data.Height(i, j+1), t.data.Height(i+1, j+1)
	return (h00*(1-u)+h10*u)*(1-v) + (h01*(1-u)+h11*u)*v
}

// Ready reports whether the collision mesh has been built.
func (t *TerrainItem) Ready() bool { return t.shape.Ready() }

// Wait builds the collision mesh now unless it already exists.
func (t *TerrainItem) Wait() { t.shape.Ensure() }

// DynamicItem is a moving object. It is placed by its own transform
// rather than by its chunk's.
type DynamicItem struct {
	itemBase
	transform Matrix
	shape     Shape
}

// NewDynamicItem makes an item whose obstacle lives in the space's arena.
// It belongs to no chunk until added to one.
func NewDynamicItem(space *ChunkSpace, transform Matrix, shape Shape) *DynamicItem {
	d := &DynamicItem{itemBase: itemBase{arena: space.arena, log: space.log}, shape: shape}
	d.place(transform)
	return d
}

// Position is the world position of the item's origin.
func (d *DynamicItem) Position() Vector3 { return d.transform.Origin() }

func (d *DynamicItem) Transform() Matrix { return d.transform }

// place replaces the obstacle with one at m. The caller takes the old one
// out of the columns first.
func (d *DynamicItem) place(m Matrix) {
	d.Release()
	d.transform = m
	ob := NewChunkObstacle(m, d.shape, d)
	ob.dynamic = true
	d.addObstacle(ob)
}

// nest moves the item into whichever chunk now holds its position.
func (d *DynamicItem) nest(space *ChunkSpace) {
	dest := space.findChunkFromPoint(d.Position())
	if dest == nil || dest == d.chunk {
		return
	}
	if d.chunk != nil {
		d.chunk.delDynamicItem(d)
	}
	dest.addDynamicItem(d)
}
