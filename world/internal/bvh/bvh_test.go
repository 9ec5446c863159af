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

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tree3di = Tree[float64, aabb3d, int]

func collect(tree *tree3di, test func(aabb3d) bool) []int {
	var result []int
	tree.Find(test, func(n *Node[float64, aabb3d, int]) bool {
		result = append(result, n.Value)
		return true
	})
	slices.Sort(result)
	return result
}

func TestTree_Insert(t *testing.T) {
	boxes := []aabb3d{
		{Upper: vec3d{1, 1, 1}, Lower: vec3d{0, 0, 0}},
		{Upper: vec3d{2, 1, 1}, Lower: vec3d{1, 0, 0}},
		{Upper: vec3d{11, 1, 1}, Lower: vec3d{10, 0, 0}},
		{Upper: vec3d{12, 1, 1}, Lower: vec3d{11, 0, 0}},
		{Upper: vec3d{101, 1, 1}, Lower: vec3d{100, 0, 0}},
		{Upper: vec3d{1, 1, 1}, Lower: vec3d{-1, -1, -1}},
	}
	var tree tree3di
	for i, box := range boxes {
		tree.Insert(box, i)
		t.Log(tree)
	}
	require.Equal(t, len(boxes), tree.Len())

	assert.Equal(t, []int{0, 5}, collect(&tree, TouchPoint[vec3d, aabb3d](vec3d{0.5, 0.5, 0.5})))
	assert.Equal(t, []int{0, 1, 5}, collect(&tree, TouchPoint[vec3d, aabb3d](vec3d{1, 0.5, 0.5})))
	assert.Empty(t, collect(&tree, TouchPoint[vec3d, aabb3d](vec3d{50, 0.5, 0.5})))
	assert.Equal(t, []int{2, 3}, collect(&tree, TouchBound(aabb3d{Upper: vec3d{11.5, 1, 1}, Lower: vec3d{10.5, 0, 0}})))
}

func TestTree_Delete(t *testing.T) {
	var tree tree3di
	var nodes []*Node[float64, aabb3d, int]
	for i := 0; i < 32; i++ {
		x := float64(i)
		nodes = append(nodes, tree.Insert(aabb3d{Upper: vec3d{x + 1, 1, 1}, Lower: vec3d{x, 0, 0}}, i))
	}
	rand.New(rand.NewSource(1)).Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	for i, n := range nodes {
		v := tree.Delete(n)
		assert.Equal(t, n.Value, v)
		assert.Equal(t, len(nodes)-i-1, tree.Len())
		// remaining leaves must still be reachable through their parents' boxes
		for _, rest := range nodes[i+1:] {
			c := rest.Box.Lower.Add(vec3d{0.5, 0.5, 0.5})
			assert.Contains(t, collect(&tree, TouchPoint[vec3d, aabb3d](c)), rest.Value)
		}
	}
	assert.Equal(t, "{}", tree.String())
}

func TestTree_FindStops(t *testing.T) {
	var tree tree3di
	for i := 0; i < 8; i++ {
		tree.Insert(aabb3d{Upper: vec3d{10, 10, 10}, Lower: vec3d{0, 0, 0}}, i)
	}
	var visits int
	tree.Find(TouchPoint[vec3d, aabb3d](vec3d{1, 1, 1}), func(*Node[float64, aabb3d, int]) bool {
		visits++
		return visits < 3
	})
	assert.Equal(t, 3, visits)
}

func randomBoxes(n int) ([]aabb3d, []vec3d) {
	const size = 25
	boxes := make([]aabb3d, n)
	poses := make([]vec3d, n)
	for i := range boxes {
		poses[i] = vec3d{rand.Float64() * 1e4, 0, rand.Float64() * 1e4}
		boxes[i] = aabb3d{
			Upper: vec3d{poses[i][0] + size, size, poses[i][2] + size},
			Lower: vec3d{poses[i][0] - size, -size, poses[i][2] - size},
		}
	}
	return boxes, poses
}

func BenchmarkTree_Insert(b *testing.B) {
	boxes, _ := randomBoxes(b.N)
	b.ResetTimer()
	var tree Tree[float64, aabb3d, any]
	for _, v := range boxes {
		tree.Insert(v, nil)
	}
}

func BenchmarkTree_Find_random(b *testing.B) {
	boxes, poses := randomBoxes(b.N)
	var tree Tree[float64, aabb3d, any]
	for _, v := range boxes {
		tree.Insert(v, nil)
	}
	b.ResetTimer()
	for _, v := range poses {
		tree.Find(TouchPoint[vec3d, aabb3d](v), func(n *Node[float64, aabb3d, any]) bool { return true })
	}
}

func BenchmarkTree_Delete_random(b *testing.B) {
	boxes, _ := randomBoxes(b.N)
	nodes := make([]*Node[float64, aabb3d, any], b.N)
	var tree Tree[float64, aabb3d, any]
	for i, v := range boxes {
		nodes[i] = tree.Insert(v, nil)
	}
	rand.Shuffle(b.N, func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	b.ResetTimer()
	for _, v := range nodes {
		tree.Delete(v)
	}
}
