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

	"ChunkCore/world"
)

// cameraPath walks a polyline forth and back at a constant speed.
type cameraPath struct {
	points []world.Vector3
	// cumulative length at each point
	marks []float64
	speed float64
}

func newCameraPath(waypoints [][3]float64, speed float64) *cameraPath {
	c := &cameraPath{speed: speed}
	for _, w := range waypoints {
		c.points = append(c.points, world.Vector3{X: w[0], Y: w[1], Z: w[2]})
	}
	if len(c.points) == 0 {
		c.points = []world.Vector3{{}}
	}
	c.marks = make([]float64, len(c.points))
	for i := 1; i < len(c.points); i++ {
		c.marks[i] = c.marks[i-1] + c.points[i].Sub(c.points[i-1]).Length()
	}
	return c
}

func (c *cameraPath) Length() float64 { return c.marks[len(c.marks)-1] }

// At is the camera position after elapsed.
func (c *cameraPath) At(elapsed time.Duration) world.Vector3 {
	total := c.Length()
	if total == 0 || c.speed <= 0 {
		return c.points[0]
	}
	d := c.speed * elapsed.Seconds()
	// ping-pong over twice the length
	lap := 2 * total
	d -= lap * float64(int(d/lap))
	if d > total {
		d = lap - d
	}
	return c.pointAt(d)
}

func (c *cameraPath) pointAt(d float64) world.Vector3 {
	for i := 1; i < len(c.points); i++ {
		if d > c.marks[i] && i < len(c.points)-1 {
			continue
		}
		seg := c.marks[i] - c.marks[i-1]
		if seg == 0 {
			return c.points[i]
		}
		t := min(max((d-c.marks[i-1])/seg, 0), 1)
		return c.points[i-1].Add(c.points[i].Sub(c.points[i-1]).Scale(t))
	}
	return c.points[len(c.points)-1]
}
