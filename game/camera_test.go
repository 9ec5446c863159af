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

	"github.com/stretchr/testify/assert"

	"ChunkCore/world"
)

func TestCameraPath_PingPong(t *testing.T) {
	c := newCameraPath([][3]float64{{0, 0, 0}, {100, 0, 0}}, 10)
	assert.Equal(t, 100.0, c.Length())

	for _, tt := range []struct {
		at   time.Duration
		want float64
	}{
		{0, 0},
		{5 * time.Second, 50},
		{10 * time.Second, 100},
		{15 * time.Second, 50},
		{20 * time.Second, 0},
		{25 * time.Second, 50},
	} {
		p := c.At(tt.at)
		assert.InDelta(t, tt.want, p.X, 1e-9, "at %v", tt.at)
		assert.Zero(t, p.Z)
	}
}

func TestCameraPath_Corners(t *testing.T) {
	c := newCameraPath([][3]float64{{0, 0, 0}, {100, 0, 0}, {100, 0, 100}}, 50)
	assert.Equal(t, 200.0, c.Length())
	assert.Equal(t, world.Vector3{X: 100, Z: 50}, c.At(3*time.Second))
	assert.Equal(t, world.Vector3{X: 50}, c.At(7*time.Second))
}

func TestCameraPath_Still(t *testing.T) {
	assert.Equal(t, world.Vector3{}, newCameraPath(nil, 10).At(time.Minute))

	still := newCameraPath([][3]float64{{5, 1, 5}, {50, 1, 5}}, 0)
	assert.Equal(t, world.Vector3{X: 5, Y: 1, Z: 5}, still.At(time.Minute))
}
