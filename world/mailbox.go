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

import "sync"

// Mailbox carries messages from any goroutine to the one draining it. It
// is a bounded channel that spills into a slice when full, so senders
// never block.
type Mailbox[T any] struct {
	ch    chan T
	mu    sync.Mutex
	spill []T
}

func NewMailbox[T any](size int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, max(size, 1))}
}

func (b *Mailbox[T]) Send(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.spill) == 0 {
		select {
		case b.ch <- v:
			return
		default:
		}
	}
	b.spill = append(b.spill, v)
}

// Drain hands every message present when it is called to visit, oldest
// first, and returns how many there were. Messages sent by visit wait for
// the next Drain.
func (b *Mailbox[T]) Drain(visit func(T)) int {
	b.mu.Lock()
	n := len(b.ch)
	spill := b.spill
	b.spill = nil
	b.mu.Unlock()
	for i := 0; i < n; i++ {
		visit(<-b.ch)
	}
	for _, v := range spill {
		visit(v)
	}
	return n + len(spill)
}

// Len counts waiting messages.
func (b *Mailbox[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ch) + len(b.spill)
}
