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
	"errors"
	"fmt"
	"slices"
)

// PortalKind says what lies on the other side of a portal.
type PortalKind uint8

const (
	// PortalNone is unconnected; a neighbour may claim it when binding.
	PortalNone PortalKind = iota
	PortalChunk
	PortalHeaven
	PortalEarth
	// PortalInvasive waits for an outside chunk to cut it a hole.
	PortalInvasive
	// PortalExtern leads into another mapping, resolved by point lookup.
	PortalExtern
)

func (k PortalKind) String() string {
	switch k {
	case PortalNone:
		return "none"
	case PortalChunk:
		return "chunk"
	case PortalHeaven:
		return "heaven"
	case PortalEarth:
		return "earth"
	case PortalInvasive:
		return "invasive"
	case PortalExtern:
		return "extern"
	}
	return fmt.Sprintf("PortalKind(%d)", uint8(k))
}

// Portal is a polygon on a boundary plane through which a neighbour is
// reached. Points, normal and centre are in the owning chunk's space.
type Portal struct {
	kind     PortalKind
	chunk    *Chunk
	points   []Vector3
	normal   Vector3
	lcentre  Vector3
	internal bool
	label    string
}

func (p *Portal) Kind() PortalKind { return p.kind }

// Chunk is the neighbour, or nil unless the kind is PortalChunk.
func (p *Portal) Chunk() *Chunk {
	if p.kind != PortalChunk {
		return nil
	}
	return p.chunk
}

func (p *Portal) HasChunk() bool       { return p.kind == PortalChunk && p.chunk != nil }
func (p *Portal) Points() []Vector3    { return p.points }
func (p *Portal) Normal() Vector3      { return p.normal }
func (p *Portal) LocalCentre() Vector3 { return p.lcentre }
func (p *Portal) Internal() bool       { return p.internal }
func (p *Portal) Label() string        { return p.label }

// available reports whether the portal may still be paired by geometry.
func (p *Portal) available() bool {
	return p.kind == PortalNone || p.kind == PortalChunk
}

func (p *Portal) setChunk(c *Chunk) {
	p.kind, p.chunk = PortalChunk, c
}

// cutTo disconnects the portal, leaving it in the given kind.
func (p *Portal) cutTo(k PortalKind) {
	p.kind, p.chunk = k, nil
}

// fixWinding reverses the points when they wind against the normal.
func (p *Portal) fixWinding() {
	if len(p.points) < 3 {
		return
	}
	n := Triangle{p.points[0], p.points[1], p.points[2]}.Normal().Normalise()
	if n.Add(p.normal.Normalise()).Length() < 1 {
		slices.Reverse(p.points[1:])
	}
}

// Boundary is one plane of a chunk's hull, with the portals on it.
type Boundary struct {
	plane   Plane
	bound   []*Portal
	unbound []*Portal
}

func (b *Boundary) Plane() Plane       { return b.plane }
func (b *Boundary) Bound() []*Portal   { return b.bound }
func (b *Boundary) Unbound() []*Portal { return b.unbound }

func (b *Boundary) bindPortal(i int) {
	p := b.unbound[i]
	b.unbound = slices.Delete(b.unbound, i, i+1)
	b.bound = append(b.bound, p)
}

func (b *Boundary) unbindPortal(i int) {
	p := b.bound[i]
	b.bound = slices.Delete(b.bound, i, i+1)
	b.unbound = append(b.unbound, p)
}

var errZeroNormal = errors.New("boundary with zero normal")

// loadBoundary reads a boundary section. Named neighbours become stub
// chunks of the owner's mapping.
func loadBoundary(s *DataSection, owner *Chunk) (*Boundary, error) {
	n := s.ReadVector3("normal", Vector3{})
	l := n.Length()
	if l == 0 {
		return nil, errZeroNormal
	}
	b := &Boundary{plane: Plane{Normal: n.Scale(1 / l), D: s.ReadFloat("d", 0) / l}}

	var internal, external bool
	for _, ps := range s.Each("portal") {
		p := &Portal{
			normal:   b.plane.Normal,
			internal: ps.ReadBool("internal", false),
			label:    ps.ReadString("label", ""),
		}
		switch name := ps.ReadString("chunk", ""); name {
		case "":
			p.kind = PortalNone
		case "heaven":
			p.kind = PortalHeaven
		case "earth":
			p.kind = PortalEarth
		case "invasive":
			p.kind = PortalInvasive
		case "extern":
			p.kind = PortalExtern
		default:
			p.setChunk(NewChunk(name, owner.mapping))
		}
		var raw [][]float64
		if err := ps.Open("points").Decode(&raw); err != nil {
			return nil, fmt.Errorf("portal in %s: %w", owner.identifier, err)
		}
		for _, v := range raw {
			if len(v) != 3 {
				return nil, fmt.Errorf("portal in %s: bad point", owner.identifier)
			}
			p.points = append(p.points, Vector3{v[0], v[1], v[2]})
		}
		if len(p.points) < 3 {
			return nil, fmt.Errorf("portal in %s: %d points", owner.identifier, len(p.points))
		}
		var sum Vector3
		for _, v := range p.points {
			sum = sum.Add(v)
		}
		p.lcentre = sum.Scale(1 / float64(len(p.points)))
		p.fixWinding()

		if p.kind == PortalEarth {
			b.bound = append(b.bound, p)
		} else {
			b.unbound = append(b.unbound, p)
		}
		if p.internal {
			internal = true
		} else {
			external = true
		}
	}
	if internal && external {
		owner.log.Warn("Boundary mixes internal and external portals")
	}
	return b, nil
}

// canBind reports whether portal a of chunk ca and portal b of chunk cb
// describe the same polygon from opposite sides.
func canBind(a, b *Portal, ca, cb *Chunk) bool {
	if ca == cb {
		return false
	}
	if !a.available() || !b.available() {
		return false
	}
	if len(a.points) != len(b.points) {
		return false
	}
	if ca.transform.ApplyPoint(a.lcentre).Sub(cb.transform.ApplyPoint(b.lcentre)).LengthSq() >= almostEqualEpsilon {
		return false
	}
	// within one mapping the unmapped transforms keep precision far
	// from the origin
	ta, tb := ca.transform, cb.transform
	if ca.mapping == cb.mapping {
		ta, tb = ca.unmapped, cb.unmapped
	}
	if ta.ApplyVector(a.normal).Add(tb.ApplyVector(b.normal)).Length() >= almostEqualEpsilon {
		return false
	}
	pts := make([]Vector3, len(a.points))
	for i, v := range a.points {
		pts[i] = ta.ApplyPoint(v)
	}
	for _, v := range b.points {
		w := tb.ApplyPoint(v)
		if !slices.ContainsFunc(pts, w.AlmostEqual) {
			return false
		}
	}
	return true
}
