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

import "fmt"

// Delete deletes the entry corresponding to the specified key from the map,
// returning true if an entry was deleted. It is a noop to delete a
// non-existent key.
func (m *Map[K, V]) Delete(key K) bool {
	pos := m.lookup(m.hashKey(&key), &key)
	if pos == endPos {
		return false
	}
	m.eraseAt(pos)
	m.checkInvariants()
	return true
}

// Erase deletes the entry addressed by c and returns a cursor to the next
// entry in iteration order. Erasing the end cursor is a noop that returns
// the end cursor. Repeatedly erasing the returned cursor, starting from
// Begin, visits and deletes every entry exactly once.
func (m *Map[K, V]) Erase(c Cursor[K, V]) Cursor[K, V] {
	if c.m != m {
		panic("coalesced: erasing a cursor from a different map")
	}
	if !m.live(c.pos) {
		return m.End()
	}
	next := m.eraseAt(c.pos)
	m.checkInvariants()
	return Cursor[K, V]{m: m, pos: next}
}

// Clear deletes all entries from the map, retaining its capacity.
func (m *Map[K, V]) Clear() {
	clear(m.primary)
	clear(m.overflow)
	m.used = 0
	m.checkInvariants()
}

// eraseAt deletes the entry at the live position pos and returns the
// position of the next entry to visit in iteration order.
//
// The bucket's span must not be left with a hole, so the bucket's tail
// entry is moved into the vacated slot (unless the vacated slot is the tail)
// and the tail slot is cleared instead. If the moved tail had not yet been
// visited in iteration order it now sits at pos, and pos itself is returned.
func (m *Map[K, V]) eraseAt(pos int) int {
	mask := m.capacity - 1
	m.used--

	if uintptr(pos) < m.capacity {
		b := uintptr(pos)
		p := &m.primary[b]
		span := m.trimSpan(b, p.span())
		if span == 0 {
			if debug {
				fmt.Printf("erase(primary): bucket=%d\n", b)
			}
			*p = PrimarySlot[K, V]{}
			return m.nextPos(pos)
		}

		// Overflow entries come after all primary entries in iteration
		// order, so the tail moved into the primary slot is always still to
		// be visited.
		t := (b + span - 1) & mask
		tail := &m.overflow[t]
		p.key = tail.key
		p.value = tail.value
		*tail = OverflowSlot[K, V]{}
		p.setSpan(m.trimSpan(b, span-1))
		if debug {
			fmt.Printf("erase(primary): bucket=%d tail=%d span=%d->%d\n", b, t, span, p.span())
		}
		return pos
	}

	i := uintptr(pos) - m.capacity
	s := &m.overflow[i]
	b := s.ownerIndex()
	p := &m.primary[b]
	span := m.trimSpan(b, p.span())
	if invariants && ((i-b)&mask) >= span {
		panic(fmt.Sprintf("invariant failed: overflow(%d) outside span %d of bucket %d\n%s",
			i, span, b, m.debugString()))
	}

	t := (b + span - 1) & mask
	next := pos
	if t == i {
		next = m.nextPos(pos)
	} else {
		tail := &m.overflow[t]
		s.key = tail.key
		s.value = tail.value
		if t < i {
			// The tail wrapped around the end of the overflow array and was
			// already visited.
			next = m.nextPos(pos)
		}
	}
	m.overflow[t] = OverflowSlot[K, V]{}
	p.setSpan(m.trimSpan(b, span-1))
	if debug {
		fmt.Printf("erase(overflow): bucket=%d index=%d tail=%d span=%d->%d\n",
			b, i, t, span, p.span())
	}
	return next
}

// trimSpan shortens a span of bucket b until it is zero or ends on an
// overflow slot owned by b, walking backward over slots owned by other
// buckets and over empty slots.
func (m *Map[K, V]) trimSpan(b, span uintptr) uintptr {
	mask := m.capacity - 1
	for span > 0 && !m.overflow[(b+span-1)&mask].ownedBy(b) {
		span--
	}
	return span
}
