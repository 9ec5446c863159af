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
	"time"

	"golang.org/x/time/rate"

	"ChunkCore/world"
)

// Config is read from config.toml. Zero values fall back to the streaming
// defaults.
type Config struct {
	// SpacePath is the mapping directory streamed into the space.
	SpacePath string `toml:"space-path"`
	SpaceID   uint32 `toml:"space-id"`

	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue-size"`
	FocusSpan int `toml:"focus-span"`

	// FarPlane, when set, derives the load and unload paths.
	FarPlane         float64 `toml:"far-plane"`
	MaxLoadPath      float64 `toml:"max-load-path"`
	MinUnloadPath    float64 `toml:"min-unload-path"`
	MaxUnloadChunks  int     `toml:"max-unload-chunks"`
	MaxLoadingChunks int     `toml:"max-loading-chunks"`
	MaxWorthyChunks  int     `toml:"max-worthy-chunks"`
	BlindPanic       bool    `toml:"blind-panic"`

	// JournalPath is the sqlite load journal. Empty disables it.
	JournalPath string `toml:"journal-path"`

	TickInterval        duration `toml:"tick-interval"`
	ChunkLoadingLimiter Limiter  `toml:"chunk-loading-limiter"`

	// CameraPath is walked back and forth at CameraSpeed metres a second.
	CameraPath  [][3]float64 `toml:"camera-path"`
	CameraSpeed float64      `toml:"camera-speed"`
}

// World converts the streaming part of the config.
func (c *Config) World() world.Config {
	return world.Config{
		Workers:          c.Workers,
		QueueSize:        c.QueueSize,
		FocusSpan:        c.FocusSpan,
		FarPlane:         c.FarPlane,
		MaxLoadPath:      c.MaxLoadPath,
		MinUnloadPath:    c.MinUnloadPath,
		MaxUnloadChunks:  c.MaxUnloadChunks,
		MaxLoadingChunks: c.MaxLoadingChunks,
		MaxWorthyChunks:  c.MaxWorthyChunks,
		BlindPanic:       c.BlindPanic,
		Limiter:          c.ChunkLoadingLimiter.Limiter(),
	}
}

// Limiter allows N events every Every.
type Limiter struct {
	Every duration `toml:"every"`
	N     int
}

// Limiter returns nil, meaning no limit, when the limiter is unset.
func (l *Limiter) Limiter() *rate.Limiter {
	if l.Every.Duration <= 0 || l.N <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(l.Every.Duration), l.N)
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}
