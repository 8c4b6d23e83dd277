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

// package coalesced is a Go implementation of a hash table that resolves
// collisions with a shared, linearly probed overflow array. See
// https://en.wikipedia.org/wiki/Coalesced_hashing for the general family.
//
// # Layout
//
// A Map holds two parallel arrays of equal power-of-two length N: the
// primary slots and the overflow slots. A key's bucket is hash(key)&(N-1)
// and the first entry of a bucket lives in the bucket's primary slot.
// Further entries of the bucket are placed in the overflow array by probing
// linearly, with wraparound, starting at the bucket's own index. Every
// overflow slot records the bucket that owns it, so overflow entries of
// different buckets may interleave:
//
//	          0     1     2     3     4     5     6     7
//	primary  [a,2] [ - ] [b,3] [c,1] [ - ] [ - ] [ - ] [ - ]  key,span
//	overflow [d@0] [e@0] [f@2] [g@3] [h@2] [ - ] [ - ] [ - ]  key@owner
//
// Bucket 2 has a span of 3 covering overflow slots 2, 3 and 4. Slot 3
// belongs to bucket 3 and is skipped when looking up keys of bucket 2.
//
// Each occupied primary slot stores its span: the number of probe
// positions, counted from the bucket's own index, that cover all of the
// bucket's overflow entries. Foreign entries inside a span are skipped by
// comparing owners. A lookup is therefore a primary check followed by at
// most span owner/key comparisons, and a span always ends on an entry
// owned by its bucket.
//
// # Growth
//
// The table grows by doubling and re-placing every entry. Growth is
// triggered when the table is full, and by the GrowthPolicy when a
// collision would create a span that is too long. The default policy also
// grows a small table on the first collision in any bucket which keeps
// typical spans at zero or one.
//
// # Deletion
//
// Deleting an entry never leaves a hole in a span. The bucket's last entry
// (its tail) is moved into the vacated slot and the span is then shortened,
// walking backward over foreign entries until it ends on an entry owned by
// the bucket again. Capacity is never reduced by deletion.
//
// # Cursors
//
// A Cursor addresses a single live slot. Cursors walk the primary array in
// index order and then the overflow array in index order. Growth
// invalidates every cursor. Deletion invalidates cursors to the deleted
// entry and to the entry relocated into its place; every other cursor
// remains valid.
package coalesced

import (
	"fmt"
	"math/rand/v2"
	"unsafe"

	"go.uber.org/zap"
)

const (
	debug = false

	// minCapacity is the capacity allocated by the first insertion into a
	// map with no storage.
	minCapacity = 16

	// maxCapacity is the largest supported capacity. Owners and spans are
	// stored biased by one in a uint32.
	maxCapacity = 1 << 31
)

// Map is an unordered map from keys to values with Insert, Find, Erase, and
// All operations. By default, a Map[K,V] hashes integer keys with the
// identity function and other keys with xxhash or maphash, though a
// different hash function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// The hash function to each keys of type K.
	hash hashFn[K]
	seed uintptr
	// The key equality function, or nil to use ==.
	equal func(a, b *K) bool
	// The allocator to use for the primary and overflow slices.
	allocator Allocator[K, V]
	policy    GrowthPolicy
	logger    *zap.Logger
	// primary and overflow are capacity in length.
	primary  []PrimarySlot[K, V]
	overflow []OverflowSlot[K, V]
	// The number of slots in each array (always 0 or 2^N). The capacity is
	// used as a mask to quickly compute i%N using a bitwise & operation.
	capacity uintptr
	// The number of live entries across both arrays.
	used int
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is 0 the map will start out with zero capacity and will
// allocate on the first insert. The zero value for a Map is not usable.
//
// Integer keys hash to themselves by default. Keys that share their low
// bits, such as multiples of a large power of two, all land in one bucket
// until the capacity exceeds their stride: the table then grows to the
// growth policy's SpanCapacity and lookups scan a span as long as the
// number of such keys. Supply a mixing hash with WithHash for such keys.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(initialCapacity, options...)
	return m
}

// Init initializes a Map with the specified initial capacity. Init can be
// invoked on a Map that has been closed to reuse it. If the allocator fails
// to provide the initial capacity, the request is dropped and logged at
// Warn level: the map starts out with no storage and grows from
// minCapacity like a map created with an initial capacity of 0. Call
// Reserve to observe the allocation error directly.
func (m *Map[K, V]) Init(initialCapacity int, options ...option[K, V]) {
	*m = Map[K, V]{
		hash:      defaultHasher[K](),
		seed:      uintptr(rand.Uint64()),
		allocator: defaultAllocator[K, V]{},
		policy:    DefaultGrowthPolicy[K, V](),
		logger:    zap.NewNop(),
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity > 0 {
		if err := m.Reserve(initialCapacity); err != nil {
			m.logger.Warn("coalesced: initial allocation failed",
				zap.Int("initial_capacity", initialCapacity), zap.Error(err))
		}
	}
	m.checkInvariants()
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m.capacity > 0 {
		m.allocator.FreePrimary(m.primary)
		m.allocator.FreeOverflow(m.overflow)
	}
	m.primary = nil
	m.overflow = nil
	m.capacity = 0
	m.used = 0
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Cap returns the number of slots in each of the primary and overflow
// arrays. The map never holds more than Cap entries.
func (m *Map[K, V]) Cap() int {
	return int(m.capacity)
}

// Empty returns true if the map holds no entries.
func (m *Map[K, V]) Empty() bool {
	return m.used == 0
}

// Reserve ensures the capacity is at least the smallest power of two that
// is >= n, growing by doubling the current capacity. Reserving beyond the
// largest supported capacity panics. If the allocator fails the map is left
// unmodified and an error matching ErrAllocationFailed is returned.
func (m *Map[K, V]) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	if uint64(n) > maxCapacity {
		panic(fmt.Sprintf("coalesced: reserve(%d) beyond max capacity %d", n, uint64(maxCapacity)))
	}
	target := m.capacity
	if target == 0 {
		target = 1
	}
	for target < uintptr(n) {
		target <<= 1
	}
	if target == m.capacity {
		return nil
	}
	return m.resize(target, growReserve)
}

// Find returns a cursor to the entry for key, or the end cursor if the key
// is not present.
func (m *Map[K, V]) Find(key K) Cursor[K, V] {
	return Cursor[K, V]{m: m, pos: m.lookup(m.hashKey(&key), &key)}
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	pos := m.lookup(m.hashKey(&key), &key)
	if pos == endPos {
		return value, false
	}
	return *m.valueAt(pos), true
}

// At retrieves the value for the specified key, returning an error matching
// ErrKeyNotFound if the key is not present.
func (m *Map[K, V]) At(key K) (V, error) {
	v, ok := m.Get(key)
	if !ok {
		return v, errorKeyNotFound(key)
	}
	return v, nil
}

// Insert inserts an entry into the map if no entry with the same key
// exists. It returns a cursor to the entry for key and whether the entry
// was inserted. An existing entry is never overwritten; use the returned
// cursor to replace its value. An error is returned only if the map needed
// to grow and the allocator failed, in which case the map is unmodified.
func (m *Map[K, V]) Insert(key K, value V) (Cursor[K, V], bool, error) {
	h := m.hashKey(&key)
	if pos := m.lookup(h, &key); pos != endPos {
		return Cursor[K, V]{m: m, pos: pos}, false, nil
	}
	pos, err := m.insertAbsent(h, key, value)
	if err != nil {
		return m.End(), false, err
	}
	return Cursor[K, V]{m: m, pos: pos}, true, nil
}

// Emplace inserts an entry if the key is not already present. It is Insert
// without the cursor.
func (m *Map[K, V]) Emplace(key K, value V) error {
	_, _, err := m.Insert(key, value)
	return err
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) error {
	h := m.hashKey(&key)
	if pos := m.lookup(h, &key); pos != endPos {
		if debug {
			fmt.Printf("put(updating): pos=%d key=%v\n", pos, key)
		}
		*m.valueAt(pos) = value
		return nil
	}
	_, err := m.insertAbsent(h, key, value)
	return err
}

// GetOrInsert returns a pointer to the value for key, inserting the zero
// value if the key is not present. The pointer is invalidated by any
// subsequent insertion or deletion.
func (m *Map[K, V]) GetOrInsert(key K) (*V, error) {
	var zero V
	c, _, err := m.Insert(key, zero)
	if err != nil {
		return nil, err
	}
	return m.valueAt(c.pos), nil
}

// Clone returns an independent copy of the map using the same options.
// Inserting, deleting or replacing entries in either map does not affect
// the other. Keys and values are copied by assignment, so a value holding a
// slice, map or pointer shares the referenced data with the original.
func (m *Map[K, V]) Clone() (*Map[K, V], error) {
	c := &Map[K, V]{
		hash:      m.hash,
		seed:      m.seed,
		equal:     m.equal,
		allocator: m.allocator,
		policy:    m.policy,
		logger:    m.logger,
	}
	if m.capacity == 0 {
		return c, nil
	}
	primary, overflow, err := m.alloc(m.capacity)
	if err != nil {
		return nil, err
	}
	copy(primary, m.primary)
	copy(overflow, m.overflow)
	c.primary, c.overflow = primary, overflow
	c.capacity = m.capacity
	c.used = m.used
	c.checkInvariants()
	return c, nil
}

// Move transfers the contents of the map to a new Map in O(1). The receiver
// is left empty with no storage and keeps its options.
func (m *Map[K, V]) Move() *Map[K, V] {
	r := &Map[K, V]{}
	*r = *m
	m.primary = nil
	m.overflow = nil
	m.capacity = 0
	m.used = 0
	return r
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, range stops the iteration. The map can be mutated
// during iteration, though there is no guarantee that the mutations will be
// visible to the iteration.
//
// The signature conforms to iter.Seq2 so a map can be iterated with:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the slots so that iteration remains valid if the map is
	// resized during iteration.
	primary := m.primary
	overflow := m.overflow

	for i := range primary {
		if s := &primary[i]; s.occupied() {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
	for i := range overflow {
		if s := &overflow[i]; s.occupied() {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

func (m *Map[K, V]) hashKey(key *K) uintptr {
	return m.hash((*K)(noescape(unsafe.Pointer(key))), m.seed)
}

func (m *Map[K, V]) keysEqual(a, b *K) bool {
	if m.equal != nil {
		return m.equal(a, b)
	}
	return *a == *b
}

// lookup returns the position of the entry for key, or endPos. Positions
// [0,capacity) address primary slots and [capacity,2*capacity) address
// overflow slots.
func (m *Map[K, V]) lookup(h uintptr, key *K) int {
	if m.capacity == 0 {
		return endPos
	}
	mask := m.capacity - 1
	b := h & mask
	p := &m.primary[b]
	if debug {
		fmt.Printf("lookup(%v): bucket=%d state=%s\n", *key, b, p.state())
	}
	if !p.occupied() {
		return endPos
	}
	if m.keysEqual(&p.key, key) {
		return int(b)
	}
	span := p.span()
	for j := uintptr(0); j < span; j++ {
		i := (b + j) & mask
		s := &m.overflow[i]
		if debug {
			fmt.Printf("lookup(probing): index=%d owner=%d\n", i, s.owner)
		}
		if s.ownedBy(b) && m.keysEqual(&s.key, key) {
			return int(m.capacity + i)
		}
	}
	return endPos
}

// insertAbsent inserts an entry known not to be in the table, growing the
// table as dictated by the growth policy. It returns the entry's position.
func (m *Map[K, V]) insertAbsent(h uintptr, key K, value V) (int, error) {
	for {
		if uintptr(m.used) >= m.capacity {
			if err := m.grow(growFull); err != nil {
				return endPos, err
			}
			continue
		}

		b := h & (m.capacity - 1)
		p := &m.primary[b]
		if !p.occupied() {
			p.key = key
			p.value = value
			p.setSpan(0)
			m.used++
			if debug {
				fmt.Printf("insert(primary): bucket=%d used=%d\n", b, m.used)
			}
			m.checkInvariants()
			return int(b), nil
		}

		span := p.span()
		if span == 0 && m.policy.onFirstCollision(m.capacity, m.used) {
			if err := m.grow(growFirstCollision); err != nil {
				return endPos, err
			}
			continue
		}

		i, newSpan := m.probeEmpty(b, span)
		if reason, ok := m.policy.onSpan(newSpan, m.capacity); ok {
			if err := m.grow(reason); err != nil {
				return endPos, err
			}
			continue
		}

		s := &m.overflow[i]
		s.key = key
		s.value = value
		s.setOwner(b)
		p.setSpan(newSpan)
		m.used++
		if debug {
			fmt.Printf("insert(overflow): bucket=%d index=%d span=%d->%d used=%d\n",
				b, i, span, newSpan, m.used)
		}
		m.checkInvariants()
		return int(m.capacity + i), nil
	}
}

// probeEmpty finds the first empty overflow slot at or after the end of
// bucket b's span. It returns the slot's index and the span the bucket would
// have with an entry placed there. Every probe step counts towards the span,
// including steps over slots owned by other buckets. The caller must ensure
// used < capacity so that an empty overflow slot exists.
func (m *Map[K, V]) probeEmpty(b, span uintptr) (index, newSpan uintptr) {
	mask := m.capacity - 1
	index = (b + span) & mask
	newSpan = span + 1
	for m.overflow[index].occupied() {
		index = (index + 1) & mask
		newSpan++
	}
	return index, newSpan
}

// uncheckedPut places an entry known not to be in the table without
// consulting the growth policy. Used when re-placing entries during a
// resize, where an empty overflow slot always exists because the new
// capacity exceeds the number of entries.
func (m *Map[K, V]) uncheckedPut(h uintptr, key K, value V) {
	b := h & (m.capacity - 1)
	p := &m.primary[b]
	m.used++
	if !p.occupied() {
		p.key = key
		p.value = value
		p.setSpan(0)
		return
	}
	i, newSpan := m.probeEmpty(b, p.span())
	s := &m.overflow[i]
	s.key = key
	s.value = value
	s.setOwner(b)
	p.setSpan(newSpan)
}

// grow doubles the capacity of the table, or allocates the minimum capacity
// for a table without storage.
func (m *Map[K, V]) grow(reason growthReason) error {
	newCapacity := 2 * m.capacity
	if newCapacity == 0 {
		newCapacity = minCapacity
	}
	return m.resize(newCapacity, reason)
}

// alloc obtains a pair of arrays of the given capacity from the allocator.
// Either both arrays are returned, or neither is held.
func (m *Map[K, V]) alloc(
	capacity uintptr,
) ([]PrimarySlot[K, V], []OverflowSlot[K, V], error) {
	n := int(capacity)
	primary, err := m.allocator.AllocPrimary(n)
	if err != nil {
		return nil, nil, m.allocFailed(n, err)
	}
	overflow, err := m.allocator.AllocOverflow(n)
	if err != nil {
		m.allocator.FreePrimary(primary)
		return nil, nil, m.allocFailed(n, err)
	}
	if len(primary) != n || len(overflow) != n {
		panic(fmt.Sprintf("coalesced: allocator returned %d primary and %d overflow slots, expected %d",
			len(primary), len(overflow), n))
	}
	return primary, overflow, nil
}

func (m *Map[K, V]) allocFailed(n int, err error) error {
	m.logger.Warn("coalesced: allocation failed",
		zap.Int("slots", n), zap.Int("len", m.used), zap.Error(err))
	return &AllocationError{Slots: n, Err: err}
}

// resize resizes the capacity of the table by allocating new arrays and
// uncheckedPutting each element of the table into them (we know that no
// insertion here will Put an already-present value), and discards the old
// arrays. newCapacity must be a power of two; anything else indicates a bug
// in the caller and panics.
func (m *Map[K, V]) resize(newCapacity uintptr, reason growthReason) error {
	if newCapacity == 0 || newCapacity&(newCapacity-1) != 0 {
		panic(fmt.Sprintf("coalesced: capacity %d is not a power of two", newCapacity))
	}
	if newCapacity > maxCapacity {
		panic(fmt.Sprintf("coalesced: capacity %d beyond max capacity %d",
			newCapacity, uint64(maxCapacity)))
	}
	if newCapacity < uintptr(m.used) {
		panic(fmt.Sprintf("coalesced: capacity %d cannot hold %d entries", newCapacity, m.used))
	}

	primary, overflow, err := m.alloc(newCapacity)
	if err != nil {
		return err
	}
	// Allocators are not required to hand out zeroed memory, and an empty
	// slot is the zero slot.
	clear(primary)
	clear(overflow)

	oldPrimary, oldOverflow := m.primary, m.overflow
	oldCapacity := m.capacity
	m.primary, m.overflow = primary, overflow
	m.capacity = newCapacity
	m.used = 0

	if debug {
		fmt.Printf("resize: capacity=%d->%d reason=%s\n", oldCapacity, newCapacity, reason)
	}

	for i := range oldPrimary {
		s := &oldPrimary[i]
		if s.occupied() {
			m.uncheckedPut(m.hashKey(&s.key), s.key, s.value)
		}
	}
	for i := range oldOverflow {
		s := &oldOverflow[i]
		if s.occupied() {
			m.uncheckedPut(m.hashKey(&s.key), s.key, s.value)
		}
	}

	if oldCapacity > 0 {
		m.allocator.FreePrimary(oldPrimary)
		m.allocator.FreeOverflow(oldOverflow)
	}

	m.logger.Debug("coalesced: resized",
		zap.Uint64("old_capacity", uint64(oldCapacity)),
		zap.Uint64("new_capacity", uint64(newCapacity)),
		zap.Int("len", m.used),
		zap.Stringer("reason", reason))

	m.checkInvariants()
	return nil
}

// valueAt returns a pointer to the value stored at a live position.
func (m *Map[K, V]) valueAt(pos int) *V {
	if uintptr(pos) < m.capacity {
		return &m.primary[pos].value
	}
	return &m.overflow[uintptr(pos)-m.capacity].value
}

// keyAt returns a pointer to the key stored at a live position.
func (m *Map[K, V]) keyAt(pos int) *K {
	if uintptr(pos) < m.capacity {
		return &m.primary[pos].key
	}
	return &m.overflow[uintptr(pos)-m.capacity].key
}

// live returns true if pos addresses an occupied slot.
func (m *Map[K, V]) live(pos int) bool {
	if pos < 0 {
		return false
	}
	if uintptr(pos) < m.capacity {
		return m.primary[pos].occupied()
	}
	i := uintptr(pos) - m.capacity
	return i < m.capacity && m.overflow[i].occupied()
}

// nextPos returns the first live position after pos, or endPos.
func (m *Map[K, V]) nextPos(pos int) int {
	n := 2 * int(m.capacity)
	for pos++; pos < n; pos++ {
		if m.live(pos) {
			return pos
		}
	}
	return endPos
}

// prevPos returns the last live position before pos, or endPos. prevPos of
// endPos is the last live position.
func (m *Map[K, V]) prevPos(pos int) int {
	if pos == endPos {
		pos = 2 * int(m.capacity)
	}
	for pos--; pos >= 0; pos-- {
		if m.live(pos) {
			return pos
		}
	}
	return endPos
}
