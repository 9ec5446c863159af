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

import "math"

// GridResolution is the side of one outside chunk and of one focus column.
const GridResolution = 100.0

const (
	MinChunkHeight = -10000.0
	MaxChunkHeight = 10000.0

	// collisions outside this range are programming errors
	maxWorldCoord = 100000.0
)

// GridCoord addresses one grid cell.
type GridCoord struct{ X, Z int }

func PointToGrid(v float64) int { return int(math.Floor(v / GridResolution)) }

func GridToPoint(g int) float64 { return float64(g) * GridResolution }

func gridOf(p Vector3) GridCoord { return GridCoord{PointToGrid(p.X), PointToGrid(p.Z)} }
