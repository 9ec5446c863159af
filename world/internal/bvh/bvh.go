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

// Package bvh implements a bounding volume hierarchy with surface area
// heuristic insertion. Columns use it to find the chunk hulls containing a
// point, and mesh obstacles use it to index their triangles.
package bvh

import (
	"container/heap"
	"fmt"

	"golang.org/x/exp/constraints"
)

type Node[I constraints.Float, B interface {
	Union(B) B
	Surface() I
}, V any] struct {
	Box      B
	Value    V
	parent   *Node[I, B, V]
	children [2]*Node[I, B, V]
	isLeaf   bool
}

func (n *Node[I, B, V]) findAnotherChild(not *Node[I, B, V]) *Node[I, B, V] {
	if n.children[0] == not {
		return n.children[1]
	} else if n.children[1] == not {
		return n.children[0]
	}
	panic("unreachable, please make sure the 'not' is the n's child")
}

func (n *Node[I, B, V]) findChildPointer(child *Node[I, B, V]) **Node[I, B, V] {
	if n.children[0] == child {
		return &n.children[0]
	} else if n.children[1] == child {
		return &n.children[1]
	}
	panic("unreachable, please make sure the 'child' is the n's child")
}

// each visits every leaf whose box passes test. Internal boxes are tested
// too, so test must hold for a union whenever it holds for a member.
// It returns false once foreach asked to stop.
func (n *Node[I, B, V]) each(test func(bound B) bool, foreach func(n *Node[I, B, V]) bool) bool {
	if n == nil {
		return true
	}
	if !test(n.Box) {
		return true
	}
	if n.isLeaf {
		return foreach(n)
	}
	return n.children[0].each(test, foreach) && n.children[1].each(test, foreach)
}

type Tree[I constraints.Float, B interface {
	Union(B) B
	Surface() I
}, V any] struct {
	root *Node[I, B, V]
	size int
}

// Insert adds a leaf, picking the sibling with the cheapest surface area
// growth and rebalancing on the way back up.
func (t *Tree[I, B, V]) Insert(leaf B, value V) (n *Node[I, B, V]) {
	n = &Node[I, B, V]{
		Box:    leaf,
		Value:  value,
		isLeaf: true,
	}
	t.size++
	if t.root == nil {
		t.root = n
		return
	}

	sibling := t.root
	bestCost := t.root.Box.Union(leaf).Surface()
	parentTo := &t.root

	var queue searchHeap[I, Node[I, B, V]]
	queue.Push(searchItem[I, Node[I, B, V]]{pointer: t.root, parentTo: &t.root})

	leafCost := leaf.Surface()
	for queue.Len() > 0 {
		p := heap.Pop(&queue).(searchItem[I, Node[I, B, V]])
		mergeSurface := p.pointer.Box.Union(leaf).Surface()
		deltaCost := mergeSurface - p.pointer.Box.Surface()
		cost := p.inheritedCost + mergeSurface
		if cost <= bestCost {
			bestCost = cost
			sibling = p.pointer
			parentTo = p.parentTo
		}
		inheritedCost := p.inheritedCost + deltaCost
		if !p.pointer.isLeaf && inheritedCost+leafCost < bestCost {
			heap.Push(&queue, searchItem[I, Node[I, B, V]]{
				pointer:       p.pointer.children[0],
				parentTo:      &p.pointer.children[0],
				inheritedCost: inheritedCost,
			})
			heap.Push(&queue, searchItem[I, Node[I, B, V]]{
				pointer:       p.pointer.children[1],
				parentTo:      &p.pointer.children[1],
				inheritedCost: inheritedCost,
			})
		}
	}

	*parentTo = &Node[I, B, V]{
		Box:      sibling.Box.Union(leaf),
		parent:   sibling.parent,
		children: [2]*Node[I, B, V]{sibling, n},
	}
	n.parent = *parentTo
	sibling.parent = *parentTo

	for p := *parentTo; p != nil; p = p.parent {
		p.Box = p.children[0].Box.Union(p.children[1].Box)
		t.rotate(p)
	}
	return
}

// Delete removes a leaf returned by Insert and gives back its value.
func (t *Tree[I, B, V]) Delete(n *Node[I, B, V]) V {
	t.size--
	if n.parent == nil {
		t.root = nil
		return n.Value
	}
	sibling := n.parent.findAnotherChild(n)
	grand := n.parent.parent
	if grand == nil {
		t.root = sibling
		sibling.parent = nil
	} else {
		p := grand.findChildPointer(n.parent)
		*p = sibling
		sibling.parent = grand
		for p := grand; p != nil; p = p.parent {
			p.Box = p.children[0].Box.Union(p.children[1].Box)
			t.rotate(p)
		}
	}
	n.parent = nil
	return n.Value
}

// rotate swaps a grandchild with its uncle when that shrinks n's box.
func (t *Tree[I, B, V]) rotate(n *Node[I, B, V]) {
	if n.isLeaf || n.parent == nil {
		return
	}
	sibling := n.parent.findAnotherChild(n)
	current := n.Box.Surface()
	if n.children[1].Box.Union(sibling.Box).Surface() < current {
		t1 := [2]*Node[I, B, V]{n, n.children[0]}
		t2 := [2]*Node[I, B, V]{sibling, n.children[1]}
		n.parent.children, n.children, n.children[0].parent, sibling.parent = t1, t2, n.parent, n
		n.Box = n.children[0].Box.Union(n.children[1].Box)
	} else if n.children[0].Box.Union(sibling.Box).Surface() < current {
		t1 := [2]*Node[I, B, V]{n, n.children[1]}
		t2 := [2]*Node[I, B, V]{sibling, n.children[0]}
		n.parent.children, n.children, n.children[1].parent, sibling.parent = t1, t2, n.parent, n
		n.Box = n.children[0].Box.Union(n.children[1].Box)
	}
}

// Find calls foreach for every leaf passing test until foreach returns false.
func (t *Tree[I, B, V]) Find(test func(bound B) bool, foreach func(n *Node[I, B, V]) bool) {
	t.root.each(test, foreach)
}

// Len reports the number of leaves.
func (t *Tree[I, B, V]) Len() int { return t.size }

func (t Tree[I, B, V]) String() string {
	return t.root.String()
}

func (n *Node[I, B, V]) String() string {
	if n == nil {
		return "{}"
	}
	if n.isLeaf {
		return fmt.Sprint(n.Value)
	}
	return fmt.Sprintf("{%v, %v}", n.children[0], n.children[1])
}

// TouchPoint matches bounds containing point.
func TouchPoint[Vec any, B interface{ WithIn(Vec) bool }](point Vec) func(bound B) bool {
	return func(bound B) bool {
		return bound.WithIn(point)
	}
}

// TouchBound matches bounds overlapping other.
func TouchBound[B interface{ Touch(B) bool }](other B) func(bound B) bool {
	return func(bound B) bool {
		return bound.Touch(other)
	}
}

type (
	searchHeap[I constraints.Float, V any] []searchItem[I, V]
	searchItem[I constraints.Float, V any] struct {
		pointer       *V
		parentTo      **V
		inheritedCost I
	}
)

func (h searchHeap[I, V]) Len() int           { return len(h) }
func (h searchHeap[I, V]) Less(i, j int) bool { return h[i].inheritedCost < h[j].inheritedCost }
func (h searchHeap[I, V]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *searchHeap[I, V]) Push(x any)        { *h = append(*h, x.(searchItem[I, V])) }
func (h *searchHeap[I, V]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
