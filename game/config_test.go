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
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
space-path = "spaces/sample"
space-id = 3
workers = 2
focus-span = 4
far-plane = 500.0
max-unload-chunks = 2
blind-panic = true
tick-interval = "20ms"
camera-path = [[50.0, 0.0, 50.0], [1550.0, 0.0, 50.0]]
camera-speed = 40.0

[chunk-loading-limiter]
every = "10ms"
n = 4
`

func TestConfig_Decode(t *testing.T) {
	var c Config
	meta, err := toml.Decode(sampleConfig, &c)
	require.NoError(t, err)
	assert.Empty(t, meta.Undecoded())

	assert.Equal(t, "spaces/sample", c.SpacePath)
	assert.Equal(t, uint32(3), c.SpaceID)
	assert.Equal(t, 20*time.Millisecond, c.TickInterval.Duration)
	assert.Equal(t, [][3]float64{{50, 0, 50}, {1550, 0, 50}}, c.CameraPath)

	w := c.World()
	assert.Equal(t, 2, w.Workers)
	assert.Equal(t, 4, w.FocusSpan)
	assert.Equal(t, 500.0, w.FarPlane)
	assert.Equal(t, 2, w.MaxUnloadChunks)
	assert.True(t, w.BlindPanic)
	require.NotNil(t, w.Limiter)
	assert.Equal(t, 4, w.Limiter.Burst())
}

func TestConfig_NoLimiter(t *testing.T) {
	var c Config
	_, err := toml.Decode(`space-path = "x"`, &c)
	require.NoError(t, err)
	assert.Nil(t, c.World().Limiter)

	c.ChunkLoadingLimiter.N = 3
	assert.Nil(t, c.ChunkLoadingLimiter.Limiter(), "a limiter needs a period too")
}

func TestConfig_BadDuration(t *testing.T) {
	var c Config
	_, err := toml.Decode(`tick-interval = "soon"`, &c)
	assert.Error(t, err)
}
