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

// PrimarySlot is a home slot. A key hashes to exactly one PrimarySlot (its
// bucket). The slot holds at most one entry plus the length of the probe
// span in the overflow array that covers the bucket's other entries.
type PrimarySlot[K comparable, V any] struct {
	key   K
	value V
	// meta is 0 when the slot is empty and span+1 otherwise. Encoding empty
	// as 0 means a freshly zeroed slice is a valid empty table.
	meta uint32
}

// OverflowSlot holds an entry displaced from its bucket. Overflow entries of
// different buckets interleave within the one shared array and are told
// apart by their owner.
type OverflowSlot[K comparable, V any] struct {
	key   K
	value V
	// owner is 0 when the slot is empty and the owning primary index+1
	// otherwise.
	owner uint32
}

// bucketState is the state of a bucket as seen through its primary slot.
type bucketState uint8

const (
	// bucketEmpty is a bucket with no entries. No overflow slot is owned by
	// an empty bucket.
	bucketEmpty bucketState = iota
	// bucketSolo is a bucket holding only its primary entry (span 0).
	bucketSolo
	// bucketChained is a bucket with one or more overflow entries.
	bucketChained
)

func (s bucketState) String() string {
	switch s {
	case bucketEmpty:
		return "empty"
	case bucketSolo:
		return "solo"
	case bucketChained:
		return "chained"
	default:
		return "unknown"
	}
}

func (s *PrimarySlot[K, V]) state() bucketState {
	switch s.meta {
	case 0:
		return bucketEmpty
	case 1:
		return bucketSolo
	default:
		return bucketChained
	}
}

func (s *PrimarySlot[K, V]) occupied() bool {
	return s.meta != 0
}

// span returns the number of overflow probe positions, starting at the
// bucket's own index, that cover every overflow entry owned by the bucket.
// Only meaningful for occupied slots.
func (s *PrimarySlot[K, V]) span() uintptr {
	return uintptr(s.meta - 1)
}

func (s *PrimarySlot[K, V]) setSpan(n uintptr) {
	s.meta = uint32(n + 1)
}

func (s *OverflowSlot[K, V]) occupied() bool {
	return s.owner != 0
}

func (s *OverflowSlot[K, V]) ownedBy(b uintptr) bool {
	return uintptr(s.owner) == b+1
}

// ownerIndex returns the primary index owning the slot. Only meaningful for
// occupied slots.
func (s *OverflowSlot[K, V]) ownerIndex() uintptr {
	return uintptr(s.owner - 1)
}

func (s *OverflowSlot[K, V]) setOwner(b uintptr) {
	s.owner = uint32(b + 1)
}
