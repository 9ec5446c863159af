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
	"fmt"
	"math"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// SpaceLayout describes a rectangular mapping of outside chunks with
// optional box shaped inside chunks standing on it. It generates the
// content files of the mapping.
type SpaceLayout struct {
	// outside chunks cover local cells [0, Width) by [0, Depth)
	Width, Depth int
	// TerrainResolution > 1 gives every outside chunk a height block.
	TerrainResolution int
	// Rocks puts one box model in the middle of every outside chunk.
	Rocks bool
	Halls []HallLayout
}

// HallLayout is an inside chunk occupying Box in mapping space, with a
// doorway in its -x wall leading outside.
type HallLayout struct {
	Name string
	Box  BoundingBox
}

type yamlBox struct {
	Min [3]float64 `yaml:"min"`
	Max [3]float64 `yaml:"max"`
}

type yamlPortal struct {
	Chunk  string       `yaml:"chunk,omitempty"`
	Points [][3]float64 `yaml:"points"`
}

type yamlBoundary struct {
	Normal [3]float64   `yaml:"normal"`
	D      float64      `yaml:"d"`
	Portal []yamlPortal `yaml:"portal,omitempty"`
}

type yamlModel struct {
	BoundingBox yamlBox `yaml:"boundingBox"`
}

type yamlOverlapper struct {
	Value       string       `yaml:"value"`
	BoundingBox yamlBox      `yaml:"boundingBox"`
	Transform   [][3]float64 `yaml:"transform"`
}

type yamlTerrain struct {
	Resource string `yaml:"resource"`
}

type yamlChunk struct {
	Transform   [][3]float64     `yaml:"transform,omitempty"`
	BoundingBox *yamlBox         `yaml:"boundingBox,omitempty"`
	Shell       *yamlModel       `yaml:"shell,omitempty"`
	Boundary    []yamlBoundary   `yaml:"boundary"`
	Model       []yamlModel      `yaml:"model,omitempty"`
	Terrain     *yamlTerrain     `yaml:"terrain,omitempty"`
	Overlapper  []yamlOverlapper `yaml:"overlapper,omitempty"`
}

func vec(v Vector3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func boxOfYAML(b BoundingBox) yamlBox { return yamlBox{Min: vec(b.Min), Max: vec(b.Max)} }

func rows(m Matrix) [][3]float64 {
	return [][3]float64{vec(m[0]), vec(m[1]), vec(m[2]), vec(m[3])}
}

// LayoutFile is one generated file, by name inside the mapping directory.
type LayoutFile struct {
	Name  string
	Doc   any
	CData *ChunkData
}

// Files generates the chunk documents, outside chunks first.
func (l *SpaceLayout) Files() []LayoutFile {
	var files []LayoutFile
	for gx := 0; gx < l.Width; gx++ {
		for gz := 0; gz < l.Depth; gz++ {
			files = append(files, l.outsideChunk(gx, gz))
		}
	}
	for _, h := range l.Halls {
		files = append(files, LayoutFile{Name: h.Name, Doc: h.chunk()})
	}
	return files
}

func (l *SpaceLayout) outsideChunk(gx, gz int) LayoutFile {
	const g = GridResolution
	lo, hi := MinChunkHeight, MaxChunkHeight
	neighbour := func(dx, dz int) string {
		x, z := gx+dx, gz+dz
		if x < 0 || z < 0 || x >= l.Width || z >= l.Depth {
			return ""
		}
		return OutsideChunkName(x, z)
	}
	side := func(normal [3]float64, d float64, pts [][3]float64, to string) yamlBoundary {
		b := yamlBoundary{Normal: normal, D: d}
		if to != "" {
			b.Portal = []yamlPortal{{Chunk: to, Points: pts}}
		}
		return b
	}
	name := OutsideChunkName(gx, gz)
	doc := yamlChunk{
		Boundary: []yamlBoundary{
			side([3]float64{1, 0, 0}, 0, [][3]float64{{0, lo, 0}, {0, hi, 0}, {0, hi, g}, {0, lo, g}}, neighbour(-1, 0)),
			side([3]float64{-1, 0, 0}, -g, [][3]float64{{g, lo, 0}, {g, lo, g}, {g, hi, g}, {g, hi, 0}}, neighbour(1, 0)),
			side([3]float64{0, 0, 1}, 0, [][3]float64{{0, lo, 0}, {g, lo, 0}, {g, hi, 0}, {0, hi, 0}}, neighbour(0, -1)),
			side([3]float64{0, 0, -1}, -g, [][3]float64{{0, lo, g}, {0, hi, g}, {g, hi, g}, {g, lo, g}}, neighbour(0, 1)),
			side([3]float64{0, -1, 0}, -hi, [][3]float64{{0, hi, 0}, {g, hi, 0}, {g, hi, g}, {0, hi, g}}, "heaven"),
			side([3]float64{0, 1, 0}, lo, [][3]float64{{0, lo, 0}, {0, lo, g}, {g, lo, g}, {g, lo, 0}}, "earth"),
		},
	}
	if l.Rocks {
		doc.Model = []yamlModel{{BoundingBox: yamlBox{Min: [3]float64{40, 0, 40}, Max: [3]float64{60, 10, 60}}}}
	}
	f := LayoutFile{Name: name}
	if l.TerrainResolution > 1 {
		doc.Terrain = &yamlTerrain{Resource: name + ChunkDataSuffix + "/terrain"}
		f.CData = sampleTerrain(gx, gz, l.TerrainResolution)
	}
	cell := BoundingBox{
		Min: Vector3{GridToPoint(gx), lo, GridToPoint(gz)},
		Max: Vector3{GridToPoint(gx + 1), hi, GridToPoint(gz + 1)},
	}
	for _, h := range l.Halls {
		if !cell.Intersects(h.Box) {
			continue
		}
		doc.Overlapper = append(doc.Overlapper, yamlOverlapper{
			Value:       h.Name,
			BoundingBox: boxOfYAML(h.Box),
			Transform:   rows(h.transform()),
		})
	}
	f.Doc = doc
	return f
}

// sampleTerrain is a gentle swell, continuous across chunk edges.
func sampleTerrain(gx, gz, res int) *ChunkData {
	heights := make([]float32, res*res)
	step := GridResolution / float64(res-1)
	for j := 0; j < res; j++ {
		for i := 0; i < res; i++ {
			x := GridToPoint(gx) + float64(i)*step
			z := GridToPoint(gz) + float64(j)*step
			heights[j*res+i] = float32(2 * (math.Sin(x/70) + math.Cos(z/90)))
		}
	}
	return &ChunkData{
		Version: CDataVersion,
		Terrain: TerrainData{Resolution: int32(res), Heights: heights},
	}
}

func (h *HallLayout) transform() Matrix { return Translation(h.Box.Min) }

func (h *HallLayout) chunk() yamlChunk {
	size := h.Box.Max.Sub(h.Box.Min)
	sx, sy, sz := size.X, size.Y, size.Z
	// doorway in the middle of the -x wall
	dz0, dz1, dh := sz/3, 2*sz/3, sy/2
	wall := func(normal [3]float64, d float64) yamlBoundary {
		return yamlBoundary{Normal: normal, D: d}
	}
	west := wall([3]float64{1, 0, 0}, 0)
	west.Portal = []yamlPortal{{
		Chunk:  "invasive",
		Points: [][3]float64{{0, 0, dz0}, {0, dh, dz0}, {0, dh, dz1}, {0, 0, dz1}},
	}}
	box := boxOfYAML(h.Box)
	return yamlChunk{
		Transform:   rows(h.transform()),
		BoundingBox: &box,
		Shell:       &yamlModel{BoundingBox: yamlBox{Max: vec(size)}},
		Boundary: []yamlBoundary{
			west,
			wall([3]float64{-1, 0, 0}, -sx),
			wall([3]float64{0, 0, 1}, 0),
			wall([3]float64{0, 0, -1}, -sz),
			wall([3]float64{0, -1, 0}, -sy),
			wall([3]float64{0, 1, 0}, 0),
		},
	}
}

// Write writes the mapping directory dir.
func (l *SpaceLayout) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create space dir fail: %w", err)
	}
	if err := PutSettings(dir, 0, l.Width-1, 0, l.Depth-1); err != nil {
		return err
	}
	for _, f := range l.Files() {
		if err := PutChunk(dir, f.Name, f.Doc, f.CData); err != nil {
			return err
		}
	}
	return nil
}

// Contents returns the mapping directory dir as file contents keyed by
// slash separated path, ready for an in-memory file system.
func (l *SpaceLayout) Contents(dir string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	settings, err := yaml.Marshal(settingsDoc(0, l.Width-1, 0, l.Depth-1))
	if err != nil {
		return nil, err
	}
	out[path.Join(dir, SettingsFile)] = settings
	for _, f := range l.Files() {
		data, err := yaml.Marshal(f.Doc)
		if err != nil {
			return nil, fmt.Errorf("encode chunk %s fail: %w", f.Name, err)
		}
		out[path.Join(dir, f.Name+ChunkSuffix)] = data
		if f.CData != nil {
			cdata, err := EncodeChunkData(f.CData)
			if err != nil {
				return nil, err
			}
			out[path.Join(dir, f.Name+ChunkDataSuffix)] = cdata
		}
	}
	return out, nil
}
