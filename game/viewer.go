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

package game

import (
	"go.uber.org/zap"

	"ChunkCore/world"
)

// viewerLog logs chunks as they bind and unload, and counts the bound ones.
type viewerLog struct {
	log   *zap.Logger
	bound map[*world.Chunk]struct{}
}

func newViewerLog(log *zap.Logger) *viewerLog {
	return &viewerLog{log: log, bound: make(map[*world.Chunk]struct{})}
}

func (v *viewerLog) ViewChunkLoad(c *world.Chunk) {
	v.bound[c] = struct{}{}
	fields := []zap.Field{
		zap.String("chunk", c.Identifier()),
		zap.String("mapping", c.Mapping().Name()),
		zap.Int("items", c.SizeStaticItems()),
	}
	if err := c.LoadError(); err != nil {
		v.log.Warn("Chunk bound with errors", append(fields, zap.Error(err))...)
		return
	}
	v.log.Debug("Chunk bound", fields...)
}

func (v *viewerLog) ViewChunkUnload(c *world.Chunk) {
	delete(v.bound, c)
	v.log.Debug("Chunk unloaded", zap.String("chunk", c.Identifier()))
}

func (v *viewerLog) Bound() int { return len(v.bound) }
