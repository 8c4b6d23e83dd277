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

	"github.com/pkg/errors"
)

var (
	// ErrKeyNotFound is returned by Map.At when the key is not present.
	ErrKeyNotFound = errors.New("coalesced: key not found")

	// ErrAllocationFailed is matched by every error caused by the Allocator
	// failing to provide memory.
	ErrAllocationFailed = errors.New("coalesced: allocation failed")
)

// AllocationError describes a failed request to the Allocator. The map is
// left exactly as it was before the operation that needed the memory.
type AllocationError struct {
	// Slots is the number of slots that were requested for each array.
	Slots int
	// Err is the error returned by the Allocator.
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("coalesced: allocating %d slots: %v", e.Slots, e.Err)
}

// Unwrap returns the Allocator's error.
func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAllocationFailed) true for every
// AllocationError.
func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocationFailed
}

func errorKeyNotFound[K comparable](key K) error {
	return errors.Wrapf(ErrKeyNotFound, "key %v", key)
}
