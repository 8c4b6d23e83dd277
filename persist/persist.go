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

// Package persist serializes key/value containers to a compact binary form
// and restores them.
//
// The encoding is the number of entries as a uvarint followed by each key
// and value in the container's iteration order:
//
//	count | key0 value0 | key1 value1 | ...
//
// Keys and values are encoded by a Codec. Any container that can report its
// length, iterate its entries, clear itself and insert an entry satisfies
// Container; no container-specific logic is required.
package persist

import (
	"bufio"
	"io"

	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"
)

const (
	// flushSize is the size at which Encode hands buffered bytes to the
	// writer.
	flushSize = 64 << 10

	// maxReserve caps the entry count Decode pre-sizes a container for. The
	// count is untrusted input; larger containers still decode but grow as
	// entries arrive.
	maxReserve = 1 << 20
)

// ErrDataFormat is matched by errors caused by malformed or truncated input.
var ErrDataFormat = errors.New("persist: malformed data")

// Container is the contract a key/value container must satisfy to be
// encoded and decoded.
type Container[K, V any] interface {
	Len() int
	// All calls yield for each entry until yield returns false.
	All(yield func(key K, value V) bool)
	Clear()
	// Emplace inserts an entry. Decoding never presents the same key twice
	// for input produced by Encode.
	Emplace(key K, value V) error
}

// reserver is implemented by containers that can be pre-sized.
type reserver interface {
	Reserve(n int) error
}

// Reader is the input consumed by a Codec.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Encode writes the entries of c to w.
func Encode[K, V any](w io.Writer, c Container[K, V], kc Codec[K], vc Codec[V]) error {
	n := c.Len()
	buf := varint.ToUvarint(uint64(n))

	var written int
	var err error
	c.All(func(k K, v V) bool {
		buf = kc.Append(buf, k)
		buf = vc.Append(buf, v)
		written++
		if len(buf) >= flushSize {
			if _, err = w.Write(buf); err != nil {
				return false
			}
			buf = buf[:0]
		}
		return true
	})
	if err != nil {
		return errors.Wrap(err, "persist: writing entries")
	}
	if written != n {
		return errors.Errorf("persist: container reported %d entries, but iterated %d", n, written)
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "persist: writing entries")
	}
	return nil
}

// Decode clears c and inserts the entries read from r. If r does not
// implement io.ByteReader it is wrapped in a bufio.Reader, which may read
// past the end of the encoded entries.
func Decode[K, V any](r io.Reader, c Container[K, V], kc Codec[K], vc Codec[V]) error {
	br, ok := r.(Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	c.Clear()
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return errors.Wrap(dataFormatError(err), "persist: reading entry count")
	}
	if rs, ok := c.(reserver); ok && n <= maxReserve {
		if err := rs.Reserve(int(n)); err != nil {
			return errors.Wrapf(err, "persist: reserving %d entries", n)
		}
	}

	for i := uint64(0); i < n; i++ {
		k, err := kc.Decode(br)
		if err != nil {
			return errors.Wrapf(dataFormatError(err), "persist: reading key %d of %d", i, n)
		}
		v, err := vc.Decode(br)
		if err != nil {
			return errors.Wrapf(dataFormatError(err), "persist: reading value %d of %d", i, n)
		}
		if err := c.Emplace(k, v); err != nil {
			return errors.Wrapf(err, "persist: inserting entry %d of %d", i, n)
		}
	}
	return nil
}

// dataFormatError converts errors that indicate malformed input into errors
// matching ErrDataFormat. Other errors, such as those returned by the
// underlying reader, are returned unchanged.
func dataFormatError(err error) error {
	switch {
	case errors.Is(err, ErrDataFormat):
		return err
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, varint.ErrOverflow),
		errors.Is(err, varint.ErrNotMinimal),
		errors.Is(err, varint.ErrUnderflow):
		return errors.WithMessage(ErrDataFormat, err.Error())
	default:
		return err
	}
}
