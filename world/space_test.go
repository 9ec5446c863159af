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
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChunkSpace_FindOrAddChunk(t *testing.T) {
	w := newTestWorld(t, hallLayout(2), Config{})
	before := w.mapping.Refs()

	a := NewChunk(testHall, w.mapping)
	assert.Same(t, a, w.space.FindOrAddChunk(a))
	assert.True(t, a.Appointed())

	b := NewChunk(testHall, w.mapping)
	assert.Same(t, a, w.space.FindOrAddChunk(b))
	assert.True(t, b.Deleted())
	assert.False(t, b.Appointed())

	assert.Same(t, a, w.space.FindOrAddChunk(a))
	assert.Equal(t, 1, w.space.NumChunks())
	assert.Equal(t, before+1, w.mapping.Refs())

	w.space.DelChunk(a)
	assert.False(t, a.Appointed())
	assert.Nil(t, w.space.FindChunk(testHall, ""))
	a.destroy()
	a.destroy()
	assert.Equal(t, before, w.mapping.Refs())
}

func TestChunkSpace_OutsideChunksByGrid(t *testing.T) {
	w := newTestWorld(t, hallLayout(2), Config{})
	c := w.mgr.FindChunkByName(OutsideChunkName(1, 0), w.mapping, true)
	assert.True(t, c.IsOutside())
	assert.Equal(t, GridCoord{1, 0}, c.Grid())
	assert.Equal(t, []*Chunk{c}, w.space.ChunksAt(GridCoord{1, 0}))
	assert.Same(t, c, w.mgr.FindChunkByGrid(w.mapping, 1, 0))
	assert.Nil(t, w.mgr.FindChunkByGrid(w.mapping, 0, 0))
	assert.Nil(t, w.mgr.FindChunkByGrid(w.mapping, 5, 0))
}

func TestChunkSpace_MutationGuard(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	exit := w.space.enter()
	assert.Panics(t, func() { w.space.AddChunk(NewChunk("intruder", w.mapping)) })
	exit()
	assert.NotPanics(t, func() { w.space.AddChunk(NewChunk("welcome", w.mapping)) })
	assert.NotNil(t, w.space.FindChunk("welcome", testMapping))
}

func TestChunkSpace_GuessChunk(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})

	hall := w.space.GuessChunk(Vector3{150, 5, 50}, true)
	require.NotNil(t, hall)
	defer hall.destroy()
	assert.Equal(t, testHall, hall.Identifier())
	assert.False(t, hall.Appointed())
	assert.Equal(t, BoundingBox{Min: Vector3{120, 0, 20}, Max: Vector3{180, 30, 80}}, hall.BoundingBox())

	outside := w.space.GuessChunk(Vector3{150, 5, 50}, false)
	require.NotNil(t, outside)
	defer outside.destroy()
	assert.Equal(t, OutsideChunkName(1, 0), outside.Identifier())

	assert.Nil(t, w.space.GuessChunk(Vector3{5000, 0, 50}, true))
	assert.Zero(t, w.space.NumChunks())
}

func TestChunkSpace_Mappings(t *testing.T) {
	w := newTestWorld(t, hallLayout(2), Config{})

	_, err := w.space.AddMapping(w.mapping.ID(), IdentityMatrix, testMapping)
	assert.ErrorIs(t, err, ErrMappingExists)
	assert.Len(t, w.space.Mappings(), 1)

	_, err = w.space.AddMapping(uuid.New(), IdentityMatrix, "missing")
	assert.ErrorIs(t, err, ErrNoSettings)

	other := w.mgr.Space(2, true)
	m, err := other.AddMapping(uuid.New(), Translation(Vector3{1000, 0, 0}), testMapping)
	require.NoError(t, err)
	minX, minZ, maxX, maxZ := m.WorldBounds()
	assert.Equal(t, []int{10, 0, 11, 0}, []int{minX, minZ, maxX, maxZ})
	lx, lz := m.GridToLocal(11, 0)
	assert.Equal(t, []int{1, 0}, []int{lx, lz})

	c := other.GuessChunk(Vector3{1050, 5, 50}, false)
	require.NotNil(t, c)
	defer c.destroy()
	assert.Equal(t, OutsideChunkName(0, 0), c.Identifier())
	assert.Equal(t, Vector3{1000, 0, 0}, c.Transform().Origin())
}

func TestChunkSpace_DelMapping(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)
	require.Positive(t, w.space.NumChunks())

	w.space.DelMapping(w.mapping)
	assert.True(t, w.mapping.Condemned())
	assert.Zero(t, w.space.NumChunks())
	assert.Zero(t, w.mapping.Refs())
	assert.False(t, w.space.IsMapped())
	assert.Nil(t, w.space.FindChunkFromPoint(Vector3{50, 5, 50}))

	minX, _, maxX, _ := w.space.GridBounds()
	assert.Greater(t, minX, maxX)

	// a tick with nothing mapped neither loads nor seeds
	w.mgr.Tick(0)
	assert.False(t, w.mgr.Busy())
}

func TestChunkSpace_DynamicItems(t *testing.T) {
	w := newTestWorld(t, SpaceLayout{Width: 3, Depth: 1, Rocks: true}, Config{})
	w.look(Vector3{50, 5, 50})
	w.settle(t)
	arena := w.space.Arena()
	static := arena.Len()

	d := NewDynamicItem(w.space, Translation(Vector3{90, 0, 40}), BoxShape{Box: BoundingBox{Max: Vector3{20, 10, 20}}})
	w.space.AddDynamicItem(d)
	require.Equal(t, OutsideChunkName(0, 0), d.Chunk().Identifier())
	h := d.Obstacles()[0]
	assert.True(t, w.space.Column(Vector3{50, 0, 50}).Holds(h))
	assert.True(t, w.space.Column(Vector3{150, 0, 50}).Holds(h))
	assert.Equal(t, int32(3), arena.Refs(h))

	w.space.MoveDynamicItem(d, Translation(Vector3{250, 0, 40}))
	assert.Equal(t, OutsideChunkName(2, 0), d.Chunk().Identifier())
	assert.Zero(t, arena.Refs(h))
	moved := d.Obstacles()[0]
	assert.True(t, w.space.Column(Vector3{250, 0, 50}).Holds(moved))
	assert.False(t, w.space.Column(Vector3{50, 0, 50}).Holds(moved))
	assert.Equal(t, int32(2), arena.Refs(moved))

	w.space.DelDynamicItem(d)
	assert.Nil(t, d.Chunk())
	assert.Equal(t, static, arena.Len())

	lost := NewDynamicItem(w.space, Translation(Vector3{5000, 0, 5000}), BoxShape{Box: BoundingBox{Max: Vector3{1, 1, 1}}})
	w.space.AddDynamicItem(lost)
	assert.Equal(t, []*DynamicItem{lost}, w.space.HomelessItems())
	w.space.DelDynamicItem(lost)
	assert.Empty(t, w.space.HomelessItems())
	assert.Equal(t, static, arena.Len())
}

func TestChunkSpace_FocusBlursDistantChunks(t *testing.T) {
	w := newTestWorld(t, hallLayout(3), Config{FocusSpan: 2})
	w.look(Vector3{50, 5, 50})
	w.settle(t)
	first := w.chunk(t, OutsideChunkName(0, 0))
	require.True(t, first.Focused())

	w.space.Focus(Vector3{650, 5, 50})
	assert.False(t, first.Focused())
	assert.Contains(t, w.space.Blurred(), first)
	assert.Nil(t, w.space.Column(Vector3{50, 5, 50}))

	w.space.Focus(Vector3{50, 5, 50})
	assert.True(t, first.Focused())
	assert.NotContains(t, w.space.Blurred(), first)
	assert.Same(t, first, w.space.FindChunkFromPoint(Vector3{50, 5, 50}))
}

func TestChunkSpace_DataEntries(t *testing.T) {
	w := newTestWorld(t, hallLayout(1), Config{})
	s := w.space
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	assert.Equal(t, uint16(7), s.DataEntry(b, 7, []byte("bee")))
	assert.Equal(t, uint16(7), s.DataEntry(a, 7, []byte("ay")))
	assert.Equal(t, InvalidDataKey, s.DataEntry(a, 7, []byte("again")), "a pair is added once")
	assert.Equal(t, uint16(9), s.DataEntry(a, 9, []byte("nine")), "an id may carry several keys")

	id, data, ok := s.DataRetrieveFirst(7)
	require.True(t, ok)
	assert.Equal(t, a, id)
	assert.Equal(t, []byte("ay"), data)
	id, data, ok = s.DataRetrieveFirst(9)
	require.True(t, ok)
	assert.Equal(t, a, id)
	assert.Equal(t, []byte("nine"), data)
	_, _, ok = s.DataRetrieveFirst(3)
	assert.False(t, ok)

	data, ok = s.DataRetrieveSpecific(a, 9)
	require.True(t, ok)
	assert.Equal(t, []byte("nine"), data)
	_, ok = s.DataRetrieveSpecific(b, 9)
	assert.False(t, ok)
	data, ok = s.DataRetrieveSpecific(a, InvalidDataKey)
	require.True(t, ok)
	assert.Equal(t, []byte("ay"), data)

	// revoking takes the lowest key of the id first
	assert.Equal(t, uint16(7), s.DataEntry(a, InvalidDataKey, nil))
	assert.Equal(t, uint16(9), s.DataEntry(a, InvalidDataKey, nil))
	assert.Equal(t, InvalidDataKey, s.DataEntry(a, InvalidDataKey, nil))
	_, err := s.RevokeDataEntry(a)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = s.AddDataEntry(b, 7, nil)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	id, _, ok = s.DataRetrieveFirst(7)
	require.True(t, ok)
	assert.Equal(t, b, id)
	// the pair is free again once revoked
	assert.Equal(t, uint16(7), s.DataEntry(a, 7, []byte("new")))
}

func TestChunkSpace_FiniLeavesNoChunks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sc := NewStreamingContext(zap.New(core), NewResources(layoutFS(t, hallLayout(3))), Config{}, nil)
	t.Cleanup(sc.Close)
	space := sc.Manager.Space(1, true)
	_, err := space.AddMapping(uuid.NewSHA1(uuid.NameSpaceURL, []byte(testMapping)), IdentityMatrix, testMapping)
	require.NoError(t, err)

	sc.Manager.Camera(Translation(Vector3{50, 5, 50}), space, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sc.Manager.WaitIdle(ctx))
	require.Positive(t, space.NumChunks())

	sc.Manager.DelSpace(1)
	assert.Zero(t, space.NumChunks())
	assert.Zero(t, logs.FilterMessage("Chunks outlive their space").Len())
	assert.Nil(t, sc.Manager.Space(1, false))
}
