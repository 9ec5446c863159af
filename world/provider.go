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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ChunkSuffix     = ".chunk"
	ChunkDataSuffix = ".cdata"
)

// ChunkProvider reads a chunk's file and its binary companion.
type ChunkProvider struct{}

// GetChunk opens the chunk's section. The companion data is nil when there
// is no .cdata file.
func (ChunkProvider) GetChunk(c *Chunk) (*DataSection, *ChunkData, error) {
	m := c.mapping
	s, err := m.res.OpenSection(m.chunkPath(c.identifier, ChunkSuffix))
	if err != nil {
		return nil, nil, fmt.Errorf("open chunk fail: %w", err)
	}
	p := m.chunkPath(c.identifier, ChunkDataSuffix)
	if !m.res.Exists(p) {
		return s, nil, nil
	}
	data, err := m.res.ReadFile(p)
	if err != nil {
		return s, nil, fmt.Errorf("read chunk data fail: %w", err)
	}
	cdata, err := ReadChunkData(bytes.NewReader(data))
	if err != nil {
		return s, nil, err
	}
	return s, cdata, nil
}

// PutChunk writes <dir>/<identifier>.chunk from doc and, if cdata is not
// nil, the companion file.
func PutChunk(dir, identifier string, doc any, cdata *ChunkData) (err error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode chunk %s fail: %w", identifier, err)
	}
	if err := os.WriteFile(filepath.Join(dir, identifier+ChunkSuffix), data, 0o644); err != nil {
		return fmt.Errorf("write chunk %s fail: %w", identifier, err)
	}
	if cdata == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(dir, identifier+ChunkDataSuffix))
	if err != nil {
		return fmt.Errorf("create chunk data fail: %w", err)
	}
	defer func(f *os.File) {
		err2 := f.Close()
		if err == nil && err2 != nil {
			err = fmt.Errorf("close chunk data fail: %w", err2)
		}
	}(f)
	return WriteChunkData(f, cdata)
}

// PutSettings writes the space.settings of a mapping directory holding
// the local grid cells minX..maxX by minZ..maxZ.
func PutSettings(dir string, minX, maxX, minZ, maxZ int) error {
	data, err := yaml.Marshal(settingsDoc(minX, maxX, minZ, maxZ))
	if err != nil {
		return fmt.Errorf("encode settings fail: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), data, 0o644); err != nil {
		return fmt.Errorf("write settings fail: %w", err)
	}
	return nil
}

// settingsDoc keeps the z bounds under the Y keys of the file format.
func settingsDoc(minX, maxX, minZ, maxZ int) map[string]any {
	return map[string]any{
		"bounds": map[string]int{"minX": minX, "maxX": maxX, "minY": minZ, "maxY": maxZ},
	}
}
