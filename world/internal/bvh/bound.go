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

package bvh

import "golang.org/x/exp/constraints"

// AABB is an axis aligned box. Bounds are inclusive so that points lying on
// a shared face belong to both neighbours.
type AABB[I constraints.Signed | constraints.Float, V interface {
	Add(V) V
	Sub(V) V
	Max(V) V
	Min(V) V
	LessEq(V) bool
	Sum() I
}] struct {
	Upper, Lower V
}

// WithIn reports whether point lies inside or on the box.
func (aabb AABB[I, V]) WithIn(point V) bool {
	return aabb.Lower.LessEq(point) && point.LessEq(aabb.Upper)
}

// Touch reports whether the boxes overlap or share a face.
func (aabb AABB[I, V]) Touch(other AABB[I, V]) bool {
	return aabb.Lower.LessEq(other.Upper) && other.Lower.LessEq(aabb.Upper)
}

func (aabb AABB[I, V]) Union(other AABB[I, V]) AABB[I, V] {
	return AABB[I, V]{
		Upper: aabb.Upper.Max(other.Upper),
		Lower: aabb.Lower.Min(other.Lower),
	}
}

// Surface is proportional to the box's surface area, which is all the
// insertion heuristic needs.
func (aabb AABB[I, V]) Surface() I {
	return aabb.Upper.Sub(aabb.Lower).Sum() * 2
}
