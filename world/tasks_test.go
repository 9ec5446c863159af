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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTaskManager_PriorityOrder(t *testing.T) {
	m := NewTaskManager(zap.NewNop(), 1, 8)
	var order []string
	add := func(pri Priority, name string) {
		m.AddBackgroundTask(pri, func(context.Context) { order = append(order, name) })
	}
	add(PriorityDefault, "default")
	add(PriorityHigh, "high")
	add(PriorityTerrain, "terrain")
	add(PriorityHigh, "high2")
	assert.EqualValues(t, 4, m.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
	assert.Equal(t, []string{"high", "high2", "terrain", "default"}, order)
	assert.Zero(t, m.Pending())
}

func TestTaskManager_MainThreadCallbacks(t *testing.T) {
	m := NewTaskManager(zap.NewNop(), 1, 1)
	var got []int
	m.AddBackgroundTask(PriorityDefault, func(context.Context) {
		for i := range 3 {
			m.AddMainThreadTask(func() { got = append(got, i) })
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	assert.Empty(t, got, "callbacks wait for Tick")
	assert.EqualValues(t, 3, m.Pending())

	assert.Equal(t, 3, m.Tick())
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Zero(t, m.Pending())
}

func TestTaskManager_Run(t *testing.T) {
	m := NewTaskManager(zap.NewNop(), 3, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, m.Running, time.Second, time.Millisecond)
	assert.ErrorIs(t, m.Run(ctx), ErrTasksRunning)

	ran := make(chan struct{}, 10)
	for range 10 {
		m.AddBackgroundTask(PriorityDefault, func(context.Context) {
			m.AddMainThreadTask(func() { ran <- struct{}{} })
		})
	}
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	require.NoError(t, m.WaitIdle(wctx))
	assert.Len(t, ran, 10)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
	assert.False(t, m.Running())
}
