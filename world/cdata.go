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
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/zstd"
)

// CDataVersion is written into every companion file.
const CDataVersion = 1

// ChunkData is the binary companion of a chunk file (<identifier>.cdata):
// a zstd stream wrapping one NBT compound.
type ChunkData struct {
	Version int32       `nbt:"version"`
	Terrain TerrainData `nbt:"terrain"`
}

// TerrainData is a square block of heights covering one outside chunk.
// Resolution is the number of height samples along each side.
type TerrainData struct {
	Resolution int32     `nbt:"resolution"`
	Heights    []float32 `nbt:"heights"`
}

var errBadTerrain = errors.New("terrain heights do not match resolution")

func (t *TerrainData) Empty() bool { return t.Resolution == 0 }

func (t *TerrainData) validate() error {
	if t.Resolution < 2 || int(t.Resolution)*int(t.Resolution) != len(t.Heights) {
		return fmt.Errorf("%w: resolution %d, %d heights", errBadTerrain, t.Resolution, len(t.Heights))
	}
	return nil
}

// Height returns sample (i, j), i along x and j along z.
func (t *TerrainData) Height(i, j int) float64 {
	return float64(t.Heights[j*int(t.Resolution)+i])
}

func ReadChunkData(r io.Reader) (*ChunkData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader fail: %w", err)
	}
	defer zr.Close()

	var d ChunkData
	if _, err := nbt.NewDecoder(zr).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode chunk data fail: %w", err)
	}
	if d.Version != CDataVersion {
		return nil, fmt.Errorf("unsupported chunk data version %d", d.Version)
	}
	return &d, nil
}

func WriteChunkData(w io.Writer, d *ChunkData) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open zstd writer fail: %w", err)
	}
	if err := nbt.NewEncoder(zw).Encode(*d, ""); err != nil {
		zw.Close()
		return fmt.Errorf("encode chunk data fail: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer fail: %w", err)
	}
	return nil
}

// EncodeChunkData is WriteChunkData into a fresh buffer.
func EncodeChunkData(d *ChunkData) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteChunkData(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
