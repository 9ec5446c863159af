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
	"math"

	"ChunkCore/world/internal/bvh"
)

type (
	vec3d  = bvh.Vec3[float64]
	aabb3d = bvh.AABB[float64, vec3d]
)

// almostEqualEpsilon is the tolerance used when snapping portals together.
const almostEqualEpsilon = 0.0004

type Vector3 struct{ X, Y, Z float64 }

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(f float64) Vector3 {
	return Vector3{v.X * f, v.Y * f, v.Z * f}
}
func (v Vector3) Dot(o Vector3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vector3) LengthSq() float64 { return v.Dot(v) }
func (v Vector3) Length() float64   { return math.Sqrt(v.LengthSq()) }

func (v Vector3) Normalise() Vector3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// AlmostEqual compares component-wise within the portal snapping tolerance.
func (v Vector3) AlmostEqual(o Vector3) bool {
	return math.Abs(v.X-o.X) < almostEqualEpsilon &&
		math.Abs(v.Y-o.Y) < almostEqualEpsilon &&
		math.Abs(v.Z-o.Z) < almostEqualEpsilon
}

func (v Vector3) vec() vec3d { return vec3d{v.X, v.Y, v.Z} }

// Matrix is an affine transform stored as rows: the X, Y and Z axes followed
// by the translation. Points are row vectors, so a.Mul(b) applies a first.
type Matrix [4]Vector3

var IdentityMatrix = Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0, 0, 0}}

func Translation(t Vector3) Matrix {
	m := IdentityMatrix
	m[3] = t
	return m
}

func (m Matrix) ApplyPoint(p Vector3) Vector3 {
	return m.ApplyVector(p).Add(m[3])
}

func (m Matrix) ApplyVector(v Vector3) Vector3 {
	return m[0].Scale(v.X).Add(m[1].Scale(v.Y)).Add(m[2].Scale(v.Z))
}

// Origin is where the transform puts the local origin.
func (m Matrix) Origin() Vector3 { return m[3] }

// Mul returns the transform that applies m and then o.
func (m Matrix) Mul(o Matrix) Matrix {
	return Matrix{
		o.ApplyVector(m[0]),
		o.ApplyVector(m[1]),
		o.ApplyVector(m[2]),
		o.ApplyPoint(m[3]),
	}
}

// Invert returns the inverse transform, or false for a singular matrix.
func (m Matrix) Invert() (Matrix, bool) {
	a, b, c := m[0], m[1], m[2]
	bc, ca, ab := b.Cross(c), c.Cross(a), a.Cross(b)
	det := a.Dot(bc)
	if math.Abs(det) < 1e-12 {
		return IdentityMatrix, false
	}
	r := 1 / det
	inv := Matrix{
		{bc.X * r, ca.X * r, ab.X * r},
		{bc.Y * r, ca.Y * r, ab.Y * r},
		{bc.Z * r, ca.Z * r, ab.Z * r},
	}
	inv[3] = inv.ApplyVector(m[3]).Scale(-1)
	return inv, true
}

// BoundingBox is an axis aligned box with inclusive bounds. The zero value
// is not empty; use EmptyBoundingBox for an inside-out box that grows.
type BoundingBox struct{ Min, Max Vector3 }

func EmptyBoundingBox() BoundingBox {
	inf := math.Inf(1)
	return BoundingBox{
		Min: Vector3{inf, inf, inf},
		Max: Vector3{-inf, -inf, -inf},
	}
}

func (b BoundingBox) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b *BoundingBox) AddPoint(p Vector3) {
	b.Min = Vector3{min(b.Min.X, p.X), min(b.Min.Y, p.Y), min(b.Min.Z, p.Z)}
	b.Max = Vector3{max(b.Max.X, p.X), max(b.Max.Y, p.Y), max(b.Max.Z, p.Z)}
}

func (b *BoundingBox) AddBounds(o BoundingBox) {
	if o.IsEmpty() {
		return
	}
	b.AddPoint(o.Min)
	b.AddPoint(o.Max)
}

func (b BoundingBox) Contains(p Vector3) bool {
	return b.IntersectsPoint(p, 0)
}

// IntersectsPoint reports whether p lies within bias of the box.
func (b BoundingBox) IntersectsPoint(p Vector3, bias float64) bool {
	return p.X >= b.Min.X-bias && p.X <= b.Max.X+bias &&
		p.Y >= b.Min.Y-bias && p.Y <= b.Max.Y+bias &&
		p.Z >= b.Min.Z-bias && p.Z <= b.Max.Z+bias
}

func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Corner picks a box corner: bit 0 selects max X, bit 1 max Y, bit 2 max Z.
func (b BoundingBox) Corner(i int) Vector3 {
	p := b.Min
	if i&1 != 0 {
		p.X = b.Max.X
	}
	if i&2 != 0 {
		p.Y = b.Max.Y
	}
	if i&4 != 0 {
		p.Z = b.Max.Z
	}
	return p
}

// TransformBy returns the box bounding all eight transformed corners.
func (b BoundingBox) TransformBy(m Matrix) BoundingBox {
	if b.IsEmpty() {
		return b
	}
	out := EmptyBoundingBox()
	for i := range 8 {
		out.AddPoint(m.ApplyPoint(b.Corner(i)))
	}
	return out
}

func (b BoundingBox) Centre() Vector3 { return b.Min.Add(b.Max).Scale(0.5) }

func (b BoundingBox) Volume() float64 {
	if b.IsEmpty() {
		return 0
	}
	d := b.Max.Sub(b.Min)
	return d.X * d.Y * d.Z
}

func (b BoundingBox) aabb() aabb3d {
	return aabb3d{Lower: b.Min.vec(), Upper: b.Max.vec()}
}

// ClipSegment clips start+t*(end-start), t in [0,1], against the box using
// the slab method. It returns the surviving parameter range.
func (b BoundingBox) ClipSegment(start, end Vector3) (t0, t1 float64, ok bool) {
	t0, t1 = 0, 1
	d := end.Sub(start)
	s := [3]float64{start.X, start.Y, start.Z}
	dv := [3]float64{d.X, d.Y, d.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}
	for i := range 3 {
		if dv[i] == 0 {
			if s[i] < lo[i] || s[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		ta := (lo[i] - s[i]) / dv[i]
		tb := (hi[i] - s[i]) / dv[i]
		if ta > tb {
			ta, tb = tb, ta
		}
		t0 = max(t0, ta)
		t1 = min(t1, tb)
		if t0 > t1 {
			return 0, 0, false
		}
	}
	return t0, t1, true
}

// Triangle is three points in some coordinate space.
type Triangle [3]Vector3

func (t Triangle) Normal() Vector3 {
	return t[1].Sub(t[0]).Cross(t[2].Sub(t[0]))
}

func (t Triangle) Transform(m Matrix) Triangle {
	return Triangle{m.ApplyPoint(t[0]), m.ApplyPoint(t[1]), m.ApplyPoint(t[2])}
}

func (t Triangle) bounds() BoundingBox {
	b := EmptyBoundingBox()
	for _, p := range t {
		b.AddPoint(p)
	}
	return b
}

// Intersect runs Möller-Trumbore against start+u*dir and returns u.
// Both faces count as hits.
func (t Triangle) Intersect(start, dir Vector3) (float64, bool) {
	const eps = 1e-9
	e1 := t[1].Sub(t[0])
	e2 := t[2].Sub(t[0])
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < eps {
		return 0, false
	}
	inv := 1 / det
	s := start.Sub(t[0])
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	return e2.Dot(q) * inv, true
}

// Plane holds the points p with Normal·p = D.
type Plane struct {
	Normal Vector3
	D      float64
}

// PlaneFromPoint builds the plane through p with normal n.
func PlaneFromPoint(p, n Vector3) Plane {
	return Plane{Normal: n, D: n.Dot(p)}
}

// DistanceTo is positive on the side the normal points to.
func (p Plane) DistanceTo(v Vector3) float64 {
	return p.Normal.Dot(v) - p.D
}
