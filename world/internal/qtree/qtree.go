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

// Package qtree is a fixed depth quad tree over one square grid cell. An
// element lives in the deepest node whose square covers its whole xz range,
// so each element is stored exactly once.
package qtree

import (
	"math"

	"golang.org/x/exp/constraints"
)

type Tree[F constraints.Float, E comparable] struct {
	originX, originZ F
	size             F
	depth            int
	root             node[F, E]
	count            int
}

type node[F constraints.Float, E comparable] struct {
	elements []E
	children *[4]node[F, E]
}

// New makes a tree covering the square [originX, originX+size) x
// [originZ, originZ+size), subdivided depth times.
func New[F constraints.Float, E comparable](originX, originZ, size F, depth int) *Tree[F, E] {
	return &Tree[F, E]{originX: originX, originZ: originZ, size: size, depth: depth}
}

func (t *Tree[F, E]) Depth() int { return t.depth }

// Len counts every stored element, root elements included.
func (t *Tree[F, E]) Len() int { return t.count }

// Range computes the leaf cell range an xz box covers, clamped to the tree.
func (t *Tree[F, E]) Range(minX, minZ, maxX, maxZ F) (x0, z0, x1, z1 int) {
	cells := 1 << t.depth
	cell := t.size / F(cells)
	clamp := func(v F) int {
		i := int(math.Floor(float64(v / cell)))
		return min(max(i, 0), cells-1)
	}
	return clamp(minX - t.originX), clamp(minZ - t.originZ), clamp(maxX - t.originX), clamp(maxZ - t.originZ)
}

// Add stores e in the deepest node covering the box.
func (t *Tree[F, E]) Add(e E, minX, minZ, maxX, maxZ F) {
	x0, z0, x1, z1 := t.Range(minX, minZ, maxX, maxZ)
	n := &t.root
	for level := 1; level <= t.depth; level++ {
		shift := t.depth - level
		if x0>>shift != x1>>shift || z0>>shift != z1>>shift {
			break
		}
		if n.children == nil {
			n.children = new([4]node[F, E])
		}
		n = &n.children[childIndex(x0>>shift, z0>>shift)]
	}
	n.elements = append(n.elements, e)
	t.count++
}

// AddRoot stores e at the root, where every traversal sees it.
func (t *Tree[F, E]) AddRoot(e E) {
	t.root.elements = append(t.root.elements, e)
	t.count++
}

// RemoveRoot drops e from the root list. The search runs backwards since
// recently added elements are the likeliest to go first.
func (t *Tree[F, E]) RemoveRoot(e E) bool {
	els := t.root.elements
	for i := len(els) - 1; i >= 0; i-- {
		if els[i] == e {
			last := len(els) - 1
			els[i] = els[last]
			var zero E
			els[last] = zero
			t.root.elements = els[:last]
			t.count--
			return true
		}
	}
	return false
}

// Each visits every element regardless of position.
func (t *Tree[F, E]) Each(visit func(E) bool) {
	t.root.each(visit)
}

func (n *node[F, E]) each(visit func(E) bool) bool {
	for _, e := range n.elements {
		if !visit(e) {
			return false
		}
	}
	if n.children != nil {
		for i := range n.children {
			if !n.children[i].each(visit) {
				return false
			}
		}
	}
	return true
}

// Traverse visits the elements of every node whose square is touched by
// the xz projection of the segment from s to e swollen by radius. Visiting
// stops when visit returns false.
func (t *Tree[F, E]) Traverse(sx, sz, ex, ez, radius F, visit func(E) bool) {
	seg := segment[F]{sx: sx, sz: sz, dx: ex - sx, dz: ez - sz, r: radius}
	t.root.traverse(seg, t.originX, t.originZ, t.size, visit)
}

func (n *node[F, E]) traverse(seg segment[F], x, z, size F, visit func(E) bool) bool {
	if !seg.touches(x, z, size) {
		return true
	}
	for _, e := range n.elements {
		if !visit(e) {
			return false
		}
	}
	if n.children == nil {
		return true
	}
	half := size / 2
	for i := range n.children {
		cx, cz := x, z
		if i&1 != 0 {
			cx += half
		}
		if i&2 != 0 {
			cz += half
		}
		if !n.children[i].traverse(seg, cx, cz, half, visit) {
			return false
		}
	}
	return true
}

func childIndex(x, z int) int { return (x & 1) | (z&1)<<1 }

type segment[F constraints.Float] struct {
	sx, sz, dx, dz, r F
}

// touches clips the segment against the square grown by r on every side.
func (s segment[F]) touches(x, z, size F) bool {
	t0, t1 := F(0), F(1)
	clip := func(start, delta, lo, hi F) bool {
		if delta == 0 {
			return start >= lo && start <= hi
		}
		a, b := (lo-start)/delta, (hi-start)/delta
		if a > b {
			a, b = b, a
		}
		t0, t1 = max(t0, a), min(t1, b)
		return t0 <= t1
	}
	return clip(s.sx, s.dx, x-s.r, x+size+s.r) && clip(s.sz, s.dz, z-s.r, z+size+s.r)
}
