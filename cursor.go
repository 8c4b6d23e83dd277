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

// endPos is the position of the end cursor.
const endPos = -1

// Cursor is a bidirectional reference to an entry of a Map, or the end
// cursor one past the last entry. Cursors are small values and are
// comparable with ==; two cursors are equal if they address the same slot
// of the same map.
//
// A cursor is invalidated by any insertion that grows the map. Deleting an
// entry invalidates cursors to that entry and to the entry (if any) moved
// into its slot; see Map.Erase.
type Cursor[K comparable, V any] struct {
	m   *Map[K, V]
	pos int
}

// Begin returns a cursor to the first entry in iteration order, or the end
// cursor if the map is empty.
func (m *Map[K, V]) Begin() Cursor[K, V] {
	return Cursor[K, V]{m: m, pos: m.nextPos(endPos)}
}

// End returns the end cursor.
func (m *Map[K, V]) End() Cursor[K, V] {
	return Cursor[K, V]{m: m, pos: endPos}
}

// Valid returns true if the cursor addresses a live entry. The end cursor,
// and a cursor whose entry was deleted or relocated, are not valid.
func (c Cursor[K, V]) Valid() bool {
	return c.m != nil && c.m.live(c.pos)
}

// Key returns the key of the entry. The cursor must be valid.
func (c Cursor[K, V]) Key() K {
	return *c.m.keyAt(c.pos)
}

// Value returns the value of the entry. The cursor must be valid.
func (c Cursor[K, V]) Value() V {
	return *c.m.valueAt(c.pos)
}

// SetValue replaces the value of the entry. The cursor must be valid.
func (c Cursor[K, V]) SetValue(v V) {
	*c.m.valueAt(c.pos) = v
}

// Next returns a cursor to the following entry in iteration order. Next of
// the last entry, and of the end cursor, is the end cursor. Next of the zero
// Cursor is the zero Cursor.
func (c Cursor[K, V]) Next() Cursor[K, V] {
	if c.m == nil || c.pos == endPos {
		return c
	}
	return Cursor[K, V]{m: c.m, pos: c.m.nextPos(c.pos)}
}

// Prev returns a cursor to the preceding entry in iteration order. Prev of
// the end cursor is the last entry, and Prev of the first entry is the end
// cursor. Prev of the zero Cursor is the zero Cursor.
func (c Cursor[K, V]) Prev() Cursor[K, V] {
	if c.m == nil {
		return c
	}
	return Cursor[K, V]{m: c.m, pos: c.m.prevPos(c.pos)}
}
