// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serialise implements the chunked binary log that every capture is
// made of.
//
// A Serialiser is symmetric: the same Serialise method on a payload type both
// writes and reads it, depending on the mode the Serialiser was created in.
// This keeps the wire layout of each chunk in exactly one place.
package serialise

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Serialisable is implemented by every chunk payload.
type Serialisable interface {
	Serialise(s *Serialiser)
}

// Serialiser reads or writes chunk payloads.
type Serialiser struct {
	reading bool
	buf     []byte
	err     error
	mapper  func(uint64) (uint64, error)
}

// NewWriter returns a Serialiser that appends encoded values to a new buffer.
func NewWriter() *Serialiser { return &Serialiser{} }

// NewWriterInto returns a Serialiser that appends encoded values to buf.
func NewWriterInto(buf []byte) *Serialiser { return &Serialiser{buf: buf[:0]} }

// NewReader returns a Serialiser that decodes values from payload.
func NewReader(payload []byte) *Serialiser { return &Serialiser{reading: true, buf: payload} }

// Reading returns true if the Serialiser decodes values.
func (s *Serialiser) Reading() bool { return s.reading }

// Writing returns true if the Serialiser encodes values.
func (s *Serialiser) Writing() bool { return !s.reading }

// Err returns the first error encountered.
func (s *Serialiser) Err() error { return s.err }

// SetError records err if no error has been recorded yet.
func (s *Serialiser) SetError(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

// Data returns the encoded bytes of a writing Serialiser, or the unread bytes
// of a reading one.
func (s *Serialiser) Data() []byte { return s.buf }

// Remaining returns the number of unread bytes.
func (s *Serialiser) Remaining() int {
	if !s.reading {
		return 0
	}
	return len(s.buf)
}

func (s *Serialiser) fail(what string, n int) {
	if n < 0 {
		s.SetError(errors.Wrapf(protowire.ParseError(n), "Decoding %s", what))
	}
}

// U64 serialises a uint64 as a varint.
func (s *Serialiser) U64(v *uint64) {
	if s.err != nil {
		return
	}
	if !s.reading {
		s.buf = protowire.AppendVarint(s.buf, *v)
		return
	}
	got, n := protowire.ConsumeVarint(s.buf)
	if n < 0 {
		s.fail("varint", n)
		return
	}
	*v, s.buf = got, s.buf[n:]
}

// U32 serialises a uint32 as a varint.
func (s *Serialiser) U32(v *uint32) {
	u := uint64(*v)
	s.U64(&u)
	if s.reading && s.err == nil {
		if u > math.MaxUint32 {
			s.SetError(errors.Errorf("Value %d overflows uint32", u))
			return
		}
		*v = uint32(u)
	}
}

// I64 serialises an int64 as a zig-zag varint.
func (s *Serialiser) I64(v *int64) {
	u := protowire.EncodeZigZag(*v)
	s.U64(&u)
	if s.reading && s.err == nil {
		*v = protowire.DecodeZigZag(u)
	}
}

// I32 serialises an int32 as a zig-zag varint.
func (s *Serialiser) I32(v *int32) {
	i := int64(*v)
	s.I64(&i)
	if s.reading && s.err == nil {
		*v = int32(i)
	}
}

// Bool serialises a bool as a single varint.
func (s *Serialiser) Bool(v *bool) {
	u := protowire.EncodeBool(*v)
	s.U64(&u)
	if s.reading && s.err == nil {
		*v = u != 0
	}
}

// F32 serialises a float32 as fixed 4 bytes.
func (s *Serialiser) F32(v *float32) {
	if s.err != nil {
		return
	}
	if !s.reading {
		s.buf = protowire.AppendFixed32(s.buf, math.Float32bits(*v))
		return
	}
	got, n := protowire.ConsumeFixed32(s.buf)
	if n < 0 {
		s.fail("float", n)
		return
	}
	*v, s.buf = math.Float32frombits(got), s.buf[n:]
}

// Fixed64 serialises a uint64 as fixed 8 bytes.
func (s *Serialiser) Fixed64(v *uint64) {
	if s.err != nil {
		return
	}
	if !s.reading {
		s.buf = protowire.AppendFixed64(s.buf, *v)
		return
	}
	got, n := protowire.ConsumeFixed64(s.buf)
	if n < 0 {
		s.fail("fixed64", n)
		return
	}
	*v, s.buf = got, s.buf[n:]
}

// Bytes serialises a length prefixed byte slice. A decoded slice is a copy
// and never aliases the payload.
func (s *Serialiser) Bytes(v *[]byte) {
	if s.err != nil {
		return
	}
	if !s.reading {
		s.buf = protowire.AppendBytes(s.buf, *v)
		return
	}
	got, n := protowire.ConsumeBytes(s.buf)
	if n < 0 {
		s.fail("bytes", n)
		return
	}
	if len(got) == 0 {
		*v = nil
	} else {
		*v = append([]byte(nil), got...)
	}
	s.buf = s.buf[n:]
}

// String serialises a length prefixed string.
func (s *Serialiser) String(v *string) {
	b := []byte(*v)
	s.Bytes(&b)
	if s.reading && s.err == nil {
		*v = string(b)
	}
}

// Rest serialises raw bytes with no length prefix. Reading consumes
// everything left in the payload, so it must be the last field.
func (s *Serialiser) Rest(v *[]byte) {
	if s.err != nil {
		return
	}
	if !s.reading {
		s.buf = append(s.buf, *v...)
		return
	}
	*v = append([]byte(nil), s.buf...)
	s.buf = s.buf[len(s.buf):]
}

// Object serialises a nested payload.
func (s *Serialiser) Object(o Serialisable) {
	if s.err != nil {
		return
	}
	o.Serialise(s)
}

// SetHandleMapper installs the function applied to every Handle as it is
// written. Capture uses it to store resource ids in place of native handles.
func (s *Serialiser) SetHandleMapper(m func(uint64) (uint64, error)) { s.mapper = m }

// Handle serialises an object reference. When writing, the handle mapper (if
// any) converts the value first. Reading never maps: the decoded value is
// whatever was stored.
func Handle[T ~uint64](s *Serialiser, v *T) {
	u := uint64(*v)
	if !s.reading && s.mapper != nil && u != 0 && s.err == nil {
		mapped, err := s.mapper(u)
		if err != nil {
			s.SetError(err)
			return
		}
		u = mapped
	}
	s.U64(&u)
	if s.reading && s.err == nil {
		*v = T(u)
	}
}

// Unsigned is the set of types that can be serialised by Enum.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Enum serialises any unsigned integer typed value as a varint.
func Enum[T Unsigned](s *Serialiser, v *T) {
	u := uint64(*v)
	s.U64(&u)
	if s.reading && s.err == nil {
		*v = T(u)
		if uint64(*v) != u {
			s.SetError(errors.Errorf("Value %d overflows %T", u, *v))
		}
	}
}

// Slice serialises a count followed by each element using fn.
func Slice[T any](s *Serialiser, v *[]T, fn func(s *Serialiser, e *T)) {
	count := uint64(len(*v))
	s.U64(&count)
	if s.err != nil {
		return
	}
	if s.reading {
		// every element takes at least one byte
		if count > uint64(len(s.buf)) {
			s.SetError(errors.Errorf("Slice count %d exceeds remaining payload %d", count, len(s.buf)))
			return
		}
		if count == 0 {
			*v = nil
			return
		}
		*v = make([]T, count)
	}
	for i := range *v {
		fn(s, &(*v)[i])
		if s.err != nil {
			return
		}
	}
}

// Objects serialises a slice of payload values.
func Objects[T any, P interface {
	*T
	Serialisable
}](s *Serialiser, v *[]T) {
	Slice(s, v, func(s *Serialiser, e *T) { P(e).Serialise(s) })
}

// Encode writes o to a new payload.
func Encode(o Serialisable) ([]byte, error) {
	s := NewWriter()
	o.Serialise(s)
	return s.Data(), s.Err()
}

// Decode reads o from payload. It fails if bytes remain unread.
func Decode(payload []byte, o Serialisable) error {
	s := NewReader(payload)
	o.Serialise(s)
	if err := s.Err(); err != nil {
		return err
	}
	if s.Remaining() != 0 {
		return errors.Errorf("%d trailing bytes after %T", s.Remaining(), o)
	}
	return nil
}
