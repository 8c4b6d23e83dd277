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
	"hash/maphash"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

type hashFn[K comparable] func(key *K, seed uintptr) uintptr

// defaultHasher returns the hash function used when WithHash is not
// specified.
//
// Integer keys hash to themselves and ignore the seed. A dense range of
// integer keys therefore lands in distinct buckets and never collides,
// which matters for this table because collisions are what trigger
// growth. String keys are hashed with xxhash. Every other key type falls
// back to maphash.Comparable with a seed private to the hasher.
func defaultHasher[K comparable]() hashFn[K] {
	t := reflect.TypeFor[K]()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr:
		switch t.Size() {
		case 1:
			return func(key *K, _ uintptr) uintptr {
				return uintptr(*(*uint8)(unsafe.Pointer(key)))
			}
		case 2:
			return func(key *K, _ uintptr) uintptr {
				return uintptr(*(*uint16)(unsafe.Pointer(key)))
			}
		case 4:
			return func(key *K, _ uintptr) uintptr {
				return uintptr(*(*uint32)(unsafe.Pointer(key)))
			}
		default:
			return func(key *K, _ uintptr) uintptr {
				return uintptr(*(*uint64)(unsafe.Pointer(key)))
			}
		}

	case reflect.String:
		return func(key *K, seed uintptr) uintptr {
			return uintptr(xxhash.Sum64String(*(*string)(unsafe.Pointer(key)))) ^ seed
		}

	default:
		s := maphash.MakeSeed()
		return func(key *K, seed uintptr) uintptr {
			return uintptr(maphash.Comparable(s, *key)) ^ seed
		}
	}
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
