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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, m.debugString()))
		}
	}
}

// verify checks the structural invariants of the map, returning a
// description of the first violation found.
func (m *Map[K, V]) verify() error {
	if m.capacity&(m.capacity-1) != 0 {
		return errors.Errorf("capacity %d is not a power of two", m.capacity)
	}
	if uintptr(len(m.primary)) != m.capacity || uintptr(len(m.overflow)) != m.capacity {
		return errors.Errorf("capacity %d, but found %d primary and %d overflow slots",
			m.capacity, len(m.primary), len(m.overflow))
	}
	if uintptr(m.used) > m.capacity {
		return errors.Errorf("used count %d exceeds capacity %d", m.used, m.capacity)
	}
	if m.capacity == 0 {
		if m.used != 0 {
			return errors.Errorf("used count is %d without storage", m.used)
		}
		return nil
	}

	mask := m.capacity - 1
	var used int
	// owned[b] is the number of overflow slots owned by bucket b.
	owned := make([]int, m.capacity)
	for idx := range m.overflow {
		i := uintptr(idx)
		s := &m.overflow[i]
		if !s.occupied() {
			continue
		}
		used++
		b := s.ownerIndex()
		if b >= m.capacity {
			return errors.Errorf("overflow(%d): owner %d out of range", i, b)
		}
		p := &m.primary[b]
		if !p.occupied() {
			return errors.Errorf("overflow(%d): owned by empty bucket %d", i, b)
		}
		if ((i - b) & mask) >= p.span() {
			return errors.Errorf("overflow(%d): outside span %d of bucket %d", i, p.span(), b)
		}
		if h := m.hashKey(&s.key) & mask; h != b {
			return errors.Errorf("overflow(%d): %v hashes to bucket %d, but is owned by %d",
				i, s.key, h, b)
		}
		owned[b]++
	}

	for idx := range m.primary {
		b := uintptr(idx)
		p := &m.primary[b]
		if !p.occupied() {
			continue
		}
		used++
		if h := m.hashKey(&p.key) & mask; h != b {
			return errors.Errorf("primary(%d): %v hashes to bucket %d", b, p.key, h)
		}
		span := p.span()
		if span >= m.capacity {
			return errors.Errorf("primary(%d): span %d exceeds capacity", b, span)
		}
		if span > 0 && !m.overflow[(b+span-1)&mask].ownedBy(b) {
			return errors.Errorf("primary(%d): span %d does not end on an owned slot", b, span)
		}
		var found int
		for j := uintptr(0); j < span; j++ {
			if m.overflow[(b+j)&mask].ownedBy(b) {
				found++
			}
		}
		if found != owned[b] {
			return errors.Errorf("primary(%d): span %d covers %d of %d owned slots",
				b, span, found, owned[b])
		}
	}

	if used != m.used {
		return errors.Errorf("found %d used slots, but used count is %d", used, m.used)
	}

	// For every live slot, verify we can retrieve the key using lookup.
	for pos := m.nextPos(endPos); pos != endPos; pos = m.nextPos(pos) {
		k := m.keyAt(pos)
		if got := m.lookup(m.hashKey(k), k); got != pos {
			return errors.Errorf("slot(%d): %v found at %d", pos, *k, got)
		}
	}
	return nil
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d\n", m.capacity, m.used)
	for i := range m.primary {
		switch p := &m.primary[i]; p.state() {
		case bucketEmpty:
			fmt.Fprintf(&buf, "  primary  %4d: empty\n", i)
		default:
			fmt.Fprintf(&buf, "  primary  %4d: %v [%s span=%d]\n", i, p.key, p.state(), p.span())
		}
	}
	for i := range m.overflow {
		s := &m.overflow[i]
		if !s.occupied() {
			fmt.Fprintf(&buf, "  overflow %4d: empty\n", i)
			continue
		}
		fmt.Fprintf(&buf, "  overflow %4d: %v [owner=%d]\n", i, s.key, s.ownerIndex())
	}
	return buf.String()
}
