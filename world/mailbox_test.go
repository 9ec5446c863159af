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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_Order(t *testing.T) {
	b := NewMailbox[int](2)
	for i := range 5 {
		b.Send(i)
	}
	assert.Equal(t, 5, b.Len())

	var got []int
	n := b.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Zero(t, b.Len())
}

func TestMailbox_SendDuringDrain(t *testing.T) {
	b := NewMailbox[int](4)
	b.Send(1)
	b.Send(2)

	var got []int
	n := b.Drain(func(v int) {
		got = append(got, v)
		b.Send(v * 10)
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 2, b.Len())

	got = got[:0]
	b.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{10, 20}, got)
}

func TestMailbox_SpillKeepsOrder(t *testing.T) {
	b := NewMailbox[string](1)
	b.Send("a")
	b.Send("b")
	// the channel has room again but older messages are still spilled
	<-b.ch
	b.Send("c")

	var got []string
	b.Drain(func(v string) { got = append(got, v) })
	assert.Equal(t, []string{"b", "c"}, got)
}
