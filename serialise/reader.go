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

package serialise

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// UnknownChunkError is returned by a Reader for an unknown chunk type at or
// above SystemChunkThreshold.
type UnknownChunkError struct {
	Type   ChunkType
	Offset uint64
}

func (e UnknownChunkError) Error() string {
	return fmt.Sprintf("Unknown chunk type %d at offset %d", uint32(e.Type), e.Offset)
}

// Reader walks a chunk stream sequentially. It can Seek directly to the
// offset of any chunk.
type Reader struct {
	data    []byte
	offset  uint64
	last    uint64
	known   func(ChunkType) bool
	skipped int
}

// NewStreamReader returns a Reader over data. Every chunk type is considered known
// until SetKnown is called.
func NewStreamReader(data []byte) *Reader {
	return &Reader{data: data}
}

// SetKnown installs the predicate deciding whether a chunk type is
// understood. Unknown system chunks are skipped, other unknown chunks fail.
func (r *Reader) SetKnown(known func(ChunkType) bool) { r.known = known }

// Offset returns the offset of the next chunk to be read.
func (r *Reader) Offset() uint64 { return r.offset }

// LastOffset returns the offset of the chunk most recently returned by Next.
func (r *Reader) LastOffset() uint64 { return r.last }

// Size returns the length of the stream.
func (r *Reader) Size() uint64 { return uint64(len(r.data)) }

// AtEnd returns true when no chunks remain.
func (r *Reader) AtEnd() bool { return r.offset >= uint64(len(r.data)) }

// Skipped returns the number of unknown system chunks that were skipped.
func (r *Reader) Skipped() int { return r.skipped }

// Seek moves the reader to offset, which must be the start of a chunk.
func (r *Reader) Seek(offset uint64) error {
	if offset > uint64(len(r.data)) {
		return errors.Errorf("Seek to %d beyond stream end %d", offset, len(r.data))
	}
	r.offset = offset
	return nil
}

// Next returns the next known chunk, or io.EOF at the end of the stream.
func (r *Reader) Next() (*Chunk, error) {
	for {
		if r.AtEnd() {
			return nil, io.EOF
		}
		c, n, err := ParseChunk(r.data[r.offset:])
		if err != nil {
			return nil, errors.Wrapf(err, "Reading chunk at offset %d", r.offset)
		}
		at := r.offset
		r.offset += uint64(n)
		if r.known != nil && !r.known(c.Type) {
			if c.Type.IsSystem() {
				r.skipped++
				continue
			}
			return nil, UnknownChunkError{Type: c.Type, Offset: at}
		}
		r.last = at
		return c, nil
	}
}

// Peek returns the type of the next chunk without consuming it.
func (r *Reader) Peek() (ChunkType, error) {
	if r.AtEnd() {
		return 0, io.EOF
	}
	c, _, err := ParseChunk(r.data[r.offset:])
	if err != nil {
		return 0, err
	}
	return c.Type, nil
}
