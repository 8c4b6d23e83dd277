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

import "unsafe"

const (
	// eagerGrowthBytes and spanGrowthBytes are the sizes of the primary
	// array below which the corresponding growth triggers are active.
	eagerGrowthBytes = 1 << 20
	spanGrowthBytes  = 4 << 20

	defaultMaxSpan = 4
)

// GrowthPolicy controls when an insertion that collides in its bucket grows
// the table instead of placing the entry in the overflow array. Growth always
// doubles the capacity and re-places every entry.
//
// An insertion grows the table when any of the following holds:
//
//   - it is the bucket's first collision (span 0), the capacity is below
//     EagerCapacity, and the capacity is below 4x the number of entries;
//   - the resulting span is at least MaxSpan and the capacity is below
//     SpanCapacity;
//   - the resulting span is at least half the capacity.
//
// The first trigger grows eagerly while the table is small, keeping typical
// spans shallow. The last one bounds the probe length regardless of size.
type GrowthPolicy struct {
	EagerCapacity int
	SpanCapacity  int
	MaxSpan       int
}

// DefaultGrowthPolicy returns the policy used when WithGrowthPolicy is not
// specified. The capacity limits correspond to a primary array of 1MB and
// 4MB respectively for the slot size of K and V.
func DefaultGrowthPolicy[K comparable, V any]() GrowthPolicy {
	size := int(unsafe.Sizeof(PrimarySlot[K, V]{}))
	return GrowthPolicy{
		EagerCapacity: eagerGrowthBytes / size,
		SpanCapacity:  spanGrowthBytes / size,
		MaxSpan:       defaultMaxSpan,
	}
}

// growthReason records why the table is being resized.
type growthReason uint8

const (
	growReserve growthReason = iota
	growFull
	growFirstCollision
	growLongSpan
	growHalfSpan
)

func (r growthReason) String() string {
	switch r {
	case growReserve:
		return "reserve"
	case growFull:
		return "full"
	case growFirstCollision:
		return "first-collision"
	case growLongSpan:
		return "long-span"
	case growHalfSpan:
		return "half-span"
	default:
		return "unknown"
	}
}

// onFirstCollision reports whether a bucket's first collision should grow a
// table of the given capacity holding used entries.
func (p GrowthPolicy) onFirstCollision(capacity uintptr, used int) bool {
	return capacity < uintptr(p.EagerCapacity) && capacity < 4*uintptr(used)
}

// onSpan reports whether placing an entry at the end of a span of length
// newSpan should instead grow the table, and why.
func (p GrowthPolicy) onSpan(newSpan, capacity uintptr) (growthReason, bool) {
	if newSpan >= uintptr(p.MaxSpan) && capacity < uintptr(p.SpanCapacity) {
		return growLongSpan, true
	}
	if newSpan >= capacity/2 {
		return growHalfSpan, true
	}
	return 0, false
}
