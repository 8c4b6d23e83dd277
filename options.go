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

import "go.uber.org/zap"

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key *K, seed uintptr) uintptr
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function must be pure: the same key must always produce the same hash
// for a given seed, otherwise entries become unreachable.
//
// The low bits of the hash select the bucket. The default for integer keys
// is the identity, which suits dense or random keys; strided integer keys
// need a hash that mixes high bits into the low ones, for example
//
//	WithHash[uint64, V](func(k *uint64, seed uintptr) uintptr {
//		return uintptr(xxhash.Sum64(binary.LittleEndian.AppendUint64(nil, *k))) ^ seed
//	})
func WithHash[K comparable, V any](hash func(key *K, seed uintptr) uintptr) option[K, V] {
	return hashOption[K, V]{hash}
}

type equalOption[K comparable, V any] struct {
	equal func(a, b *K) bool
}

func (op equalOption[K, V]) apply(m *Map[K, V]) {
	m.equal = op.equal
}

// WithEqual is an option to specify the key equality function for a
// Map[K,V]. By default keys are compared with ==. Keys that are equal must
// hash identically.
func WithEqual[K comparable, V any](equal func(a, b *K) bool) option[K, V] {
	return equalOption[K, V]{equal}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Map. The default allocator utilizes Go's builtin make() and allows the
// GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure FreePrimary and
// FreeOverflow are called.
type Allocator[K comparable, V any] interface {
	// AllocPrimary should return a slice equivalent to
	// make([]PrimarySlot[K,V], n), or an error if the memory cannot be
	// provided. The contents need not be zeroed.
	AllocPrimary(n int) ([]PrimarySlot[K, V], error)

	// AllocOverflow should return a slice equivalent to
	// make([]OverflowSlot[K,V], n), or an error if the memory cannot be
	// provided. The contents need not be zeroed.
	AllocOverflow(n int) ([]OverflowSlot[K, V], error)

	// FreePrimary can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocPrimary.
	FreePrimary(v []PrimarySlot[K, V])

	// FreeOverflow can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocOverflow.
	FreeOverflow(v []OverflowSlot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocPrimary(n int) ([]PrimarySlot[K, V], error) {
	return make([]PrimarySlot[K, V], n), nil
}

func (defaultAllocator[K, V]) AllocOverflow(n int) ([]OverflowSlot[K, V], error) {
	return make([]OverflowSlot[K, V], n), nil
}

func (defaultAllocator[K, V]) FreePrimary(v []PrimarySlot[K, V]) {
}

func (defaultAllocator[K, V]) FreeOverflow(v []OverflowSlot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type growthPolicyOption[K comparable, V any] struct {
	policy GrowthPolicy
}

func (op growthPolicyOption[K, V]) apply(m *Map[K, V]) {
	m.policy = op.policy
}

// WithGrowthPolicy is an option to override the thresholds controlling when
// an insertion grows the table. See GrowthPolicy.
func WithGrowthPolicy[K comparable, V any](policy GrowthPolicy) option[K, V] {
	return growthPolicyOption[K, V]{policy}
}

type loggerOption[K comparable, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	if op.logger == nil {
		m.logger = zap.NewNop()
		return
	}
	m.logger = op.logger
}

// WithLogger is an option to specify the logger receiving resize and
// allocation failure events. The default discards everything.
func WithLogger[K comparable, V any](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}
