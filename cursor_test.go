// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coalesced

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// newLazyMap returns a map of capacity 16 with identity hashing that only
// grows when full or on a half-capacity span, so tests control the layout.
func newLazyMap(t *testing.T, keys ...int) *Map[int, int] {
	m := New[int, int](16,
		WithHash[int, int](identityHash),
		WithGrowthPolicy[int, int](lazyGrowth))
	for _, k := range keys {
		_, inserted, err := m.Insert(k, -k)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.EqualValues(t, 16, m.Cap())
	return m
}

func TestCursorOrder(t *testing.T) {
	// 21 collides with 5 and lands in overflow slot 5.
	m := newLazyMap(t, 5, 3, 21)

	var forward []int
	for c := m.Begin(); c.Valid(); c = c.Next() {
		forward = append(forward, c.Key())
		require.EqualValues(t, -c.Key(), c.Value())
	}
	require.Equal(t, []int{3, 5, 21}, forward)

	var backward []int
	for c := m.End().Prev(); c.Valid(); c = c.Prev() {
		backward = append(backward, c.Key())
	}
	require.Equal(t, []int{21, 5, 3}, backward)

	// Prev of the first entry is the end cursor, and Next of the end cursor
	// stays at the end.
	require.Equal(t, m.End(), m.Begin().Prev())
	require.Equal(t, m.End(), m.End().Next())
	require.False(t, m.End().Valid())

	// Iteration by cursor agrees with All.
	var all []int
	m.All(func(k, v int) bool {
		all = append(all, k)
		return true
	})
	require.Equal(t, forward, all)
}

func TestCursorEmpty(t *testing.T) {
	m := New[int, int](0)
	require.Equal(t, m.End(), m.Begin())
	require.Equal(t, m.End(), m.End().Prev())
	require.Equal(t, m.End(), m.Find(1))
	require.Equal(t, m.End(), m.Erase(m.End()))

	var zero Cursor[int, int]
	require.False(t, zero.Valid())
	require.Equal(t, zero, zero.Next())
	require.Equal(t, zero, zero.Prev())
	require.False(t, zero.Prev().Valid())
}

func TestCursorSetValue(t *testing.T) {
	m := newLazyMap(t, 1, 17)
	c := m.Find(17)
	require.True(t, c.Valid())
	require.EqualValues(t, 17, c.Key())
	c.SetValue(100)
	v, ok := m.Get(17)
	require.True(t, ok)
	require.EqualValues(t, 100, v)

	// Cursors address slots and compare equal when they address the same
	// one.
	require.Equal(t, c, m.Find(17))
	require.NotEqual(t, c, m.Find(1))
}

func TestEraseDuringIteration(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		e := m.toBuiltinMap()
		seen := make(map[int]int)
		for c := m.Begin(); c.Valid(); {
			seen[c.Key()]++
			c = m.Erase(c)
			require.NoError(t, m.verify())
		}
		require.True(t, m.Empty())
		require.Len(t, seen, len(e))
		for k := range e {
			require.EqualValues(t, 1, seen[k], "key %d", k)
		}
	}

	t.Run("collisions", func(t *testing.T) {
		m := New[int, int](0, WithHash[int, int](func(key *int, seed uintptr) uintptr {
			return uintptr(*key % 7)
		}), WithGrowthPolicy[int, int](lazyGrowth))
		for i := 0; i < 40; i++ {
			_, _, err := m.Insert(i, i)
			require.NoError(t, err)
		}
		test(t, m)
	})

	t.Run("random", func(t *testing.T) {
		m := New[int, int](0)
		for i := 0; i < 1000; i++ {
			_, _, err := m.Insert(rand.IntN(1<<16), i)
			require.NoError(t, err)
		}
		test(t, m)
	})

	t.Run("wrapped", func(t *testing.T) {
		// Bucket 15 spans overflow slots 15 and 0.
		m := newLazyMap(t, 15, 31, 47)
		require.True(t, m.overflow[15].ownedBy(15))
		require.True(t, m.overflow[0].ownedBy(15))
		test(t, m)
	})
}

func TestEraseSomeDuringIteration(t *testing.T) {
	// Bucket 15 spans overflow slots 15 and 0. Iteration visits overflow
	// slot 0 (47) before overflow slot 15 (31). Erasing 31 moves the tail
	// (47) into slot 15, which must not be visited a second time.
	m := newLazyMap(t, 15, 31, 47, 2)
	require.EqualValues(t, 47, m.overflow[0].key)
	require.EqualValues(t, 31, m.overflow[15].key)

	var visited []int
	for c := m.Begin(); c.Valid(); {
		k := c.Key()
		visited = append(visited, k)
		if k == 31 {
			c = m.Erase(c)
		} else {
			c = c.Next()
		}
	}
	require.Equal(t, []int{2, 15, 47, 31}, visited)
	require.EqualValues(t, 3, m.Len())
	require.EqualValues(t, 47, m.overflow[15].key)
	require.False(t, m.overflow[0].occupied())
	require.NoError(t, m.verify())
}

func TestEraseCursorStability(t *testing.T) {
	// Bucket 0 holds 0, 16 and 32, the latter two in overflow slots 0 and 1.
	m := newLazyMap(t, 0, 16, 32, 5)
	head := m.Find(0)
	tail := m.Find(32)
	other := m.Find(5)
	require.True(t, tail.Valid())

	next := m.Erase(m.Find(16))

	// The tail was moved into the erased slot, which is returned as the next
	// entry to visit. The cursor to the tail's old slot is no longer valid.
	require.True(t, next.Valid())
	require.EqualValues(t, 32, next.Key())
	require.Equal(t, next, m.Find(32))
	require.False(t, tail.Valid())

	// Cursors to other entries are unaffected.
	require.True(t, head.Valid())
	require.EqualValues(t, 0, head.Key())
	require.True(t, other.Valid())
	require.EqualValues(t, 5, other.Key())
	require.EqualValues(t, -5, other.Value())

	// Erasing the head promotes the tail into the primary slot.
	next = m.Erase(head)
	require.Equal(t, next, head)
	require.EqualValues(t, 32, next.Key())
	require.True(t, other.Valid())
	require.NoError(t, m.verify())
}

func TestEraseForeignCursor(t *testing.T) {
	m1 := newLazyMap(t, 1)
	m2 := newLazyMap(t, 1)
	require.Panics(t, func() {
		m1.Erase(m2.Find(1))
	})
	require.EqualValues(t, 1, m1.Len())
	require.EqualValues(t, 1, m2.Len())
}

func TestEraseStaleCursor(t *testing.T) {
	m := newLazyMap(t, 1, 2)
	c := m.Find(1)
	require.True(t, m.Delete(1))
	require.False(t, c.Valid())
	require.Equal(t, m.End(), m.Erase(c))
	require.EqualValues(t, 1, m.Len())
}
