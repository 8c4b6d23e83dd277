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

package persist

import (
	"encoding/binary"
	"io"

	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// maxLength bounds the length prefix of strings and byte slices.
const maxLength = 1 << 30

// Codec encodes and decodes values of type T.
type Codec[T any] interface {
	// Append appends the encoding of v to dst and returns the extended
	// slice.
	Append(dst []byte, v T) []byte
	// Decode reads one value.
	Decode(r Reader) (T, error)
}

// Uvarint encodes unsigned integers as base-128 varints.
type Uvarint[T constraints.Unsigned] struct{}

var _ Codec[uint64] = Uvarint[uint64]{}

// Append implements Codec.
func (Uvarint[T]) Append(dst []byte, v T) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

// Decode implements Codec.
func (Uvarint[T]) Decode(r Reader) (T, error) {
	br := byteReader{r: r}
	x, err := binary.ReadUvarint(&br)
	if err != nil {
		return 0, br.varintError(err)
	}
	v := T(x)
	if uint64(v) != x {
		return 0, errors.WithMessagef(ErrDataFormat, "value %d overflows %T", x, v)
	}
	return v, nil
}

// Varint encodes signed integers as zig-zag base-128 varints, so values of
// small magnitude are short regardless of sign.
type Varint[T constraints.Signed] struct{}

var _ Codec[int64] = Varint[int64]{}

// Append implements Codec.
func (Varint[T]) Append(dst []byte, v T) []byte {
	return binary.AppendVarint(dst, int64(v))
}

// Decode implements Codec.
func (Varint[T]) Decode(r Reader) (T, error) {
	br := byteReader{r: r}
	x, err := binary.ReadVarint(&br)
	if err != nil {
		return 0, br.varintError(err)
	}
	v := T(x)
	if int64(v) != x {
		return 0, errors.WithMessagef(ErrDataFormat, "value %d overflows %T", x, v)
	}
	return v, nil
}

// byteReader records whether a varint decoding error came from the
// underlying reader.
type byteReader struct {
	r       io.ByteReader
	readErr bool
}

func (b *byteReader) ReadByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err != nil {
		b.readErr = true
	}
	return c, err
}

// varintError returns err unchanged if the reader failed, which includes
// running out of input. Any other error is an overlong encoding.
func (b *byteReader) varintError(err error) error {
	if b.readErr {
		return err
	}
	return errors.WithMessage(ErrDataFormat, err.Error())
}

// String encodes strings as a uvarint length followed by the bytes.
type String struct{}

var _ Codec[string] = String{}

// Append implements Codec.
func (String) Append(dst []byte, v string) []byte {
	dst = append(dst, varint.ToUvarint(uint64(len(v)))...)
	return append(dst, v...)
}

// Decode implements Codec.
func (String) Decode(r Reader) (string, error) {
	b, err := readLengthPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes encodes byte slices as a uvarint length followed by the bytes. A nil
// slice decodes as an empty, non-nil slice.
type Bytes struct{}

var _ Codec[[]byte] = Bytes{}

// Append implements Codec.
func (Bytes) Append(dst []byte, v []byte) []byte {
	dst = append(dst, varint.ToUvarint(uint64(len(v)))...)
	return append(dst, v...)
}

// Decode implements Codec.
func (Bytes) Decode(r Reader) ([]byte, error) {
	return readLengthPrefixed(r)
}

func readLengthPrefixed(r Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxLength {
		return nil, errors.WithMessagef(ErrDataFormat, "length %d exceeds %d", n, maxLength)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
