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

import "time"

// ChunkViewer is told on the main goroutine when chunks bind and unload.
type ChunkViewer interface {
	ViewChunkLoad(c *Chunk)
	ViewChunkUnload(c *Chunk)
}

type LoadEventKind uint8

const (
	EventLoad LoadEventKind = iota
	EventBind
	EventUnload
)

func (k LoadEventKind) String() string {
	switch k {
	case EventLoad:
		return "load"
	case EventBind:
		return "bind"
	case EventUnload:
		return "unload"
	}
	return "unknown"
}

// LoadEvent describes one step in a chunk's life.
type LoadEvent struct {
	Time     time.Time
	Space    SpaceID
	Mapping  string
	Chunk    string
	Kind     LoadEventKind
	Duration time.Duration
	Items    int
	Err      error
}

// LoadObserver records load events. Record is called from workers as well
// as the main goroutine and must not block.
type LoadObserver interface {
	Record(ev LoadEvent)
}

type nopObserver struct{}

func (nopObserver) Record(LoadEvent) {}

func newLoadEvent(c *Chunk, kind LoadEventKind) LoadEvent {
	ev := LoadEvent{
		Time:    time.Now(),
		Mapping: c.mapping.name,
		Chunk:   c.identifier,
		Kind:    kind,
	}
	if c.space != nil {
		ev.Space = c.space.id
	}
	return ev
}
