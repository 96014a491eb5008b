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
	"math"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ChunkType identifies the payload of a chunk.
type ChunkType uint32

// SystemChunkThreshold separates structural chunk types from the per-call
// chunk types. Unknown types below it are skipped by readers, unknown types
// at or above it are an error.
const SystemChunkThreshold ChunkType = 1000

// Structural chunk types.
const (
	ChunkDriverInit ChunkType = iota + 1
	ChunkInitialContentsList
	ChunkInitialContents
	ChunkCaptureBegin
	ChunkCaptureScope
	ChunkCaptureEnd
)

// MaxChunkType is the largest type that fits the 24 bit type field of a
// chunk header. The upper byte of the header carries the flags.
const MaxChunkType ChunkType = typeMask

// IsSystem returns true for structural chunk types.
func (t ChunkType) IsSystem() bool { return t < SystemChunkThreshold }

// Valid returns true if t can be encoded in a chunk header.
func (t ChunkType) Valid() bool { return t <= MaxChunkType }

var (
	namesLock  sync.RWMutex
	chunkNames = map[ChunkType]string{
		ChunkDriverInit:          "DriverInit",
		ChunkInitialContentsList: "InitialContentsList",
		ChunkInitialContents:     "InitialContents",
		ChunkCaptureBegin:        "CaptureBegin",
		ChunkCaptureScope:        "CaptureScope",
		ChunkCaptureEnd:          "CaptureEnd",
	}
)

// RegisterChunkName associates a display name with a chunk type. It panics if
// the type already has a different name or does not fit a chunk header.
func RegisterChunkName(t ChunkType, name string) {
	if !t.Valid() {
		panic(fmt.Errorf("Chunk type %d for %s exceeds the maximum %d", uint32(t), name, uint32(MaxChunkType)))
	}
	namesLock.Lock()
	defer namesLock.Unlock()
	if old, ok := chunkNames[t]; ok && old != name {
		panic(fmt.Errorf("Chunk type %d registered as both %s and %s", t, old, name))
	}
	chunkNames[t] = name
}

func (t ChunkType) String() string {
	namesLock.RLock()
	defer namesLock.RUnlock()
	if name, ok := chunkNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Chunk<%d>", uint32(t))
}

const (
	typeMask = 0x00ffffff

	flagThreadID   = uint32(1) << 24
	flagTimestamp  = uint32(1) << 25
	flagSequence   = uint32(1) << 26
	flagLongLength = uint32(1) << 31
)

// Chunk is one self describing record of the log.
type Chunk struct {
	Type ChunkType
	// Sequence orders chunks across all threads of a capture.
	Sequence uint64
	// ThreadID is the capture thread that produced the chunk, or 0.
	ThreadID uint64
	// Timestamp is microseconds since the capture context was created.
	Timestamp uint64
	// LongLength forces a 64 bit length field.
	LongLength bool
	// Payload is nil when the chunk carries no data.
	Payload []byte
}

// Length returns the payload length.
func (c *Chunk) Length() uint64 { return uint64(len(c.Payload)) }

// Decode reads the payload into o.
func (c *Chunk) Decode(o Serialisable) error {
	return errors.Wrapf(Decode(c.Payload, o), "Decoding %v", c.Type)
}

func (c *Chunk) long() bool { return c.LongLength || uint64(len(c.Payload)) > math.MaxUint32 }

func (c *Chunk) flags() uint32 {
	f := uint32(0)
	if c.ThreadID != 0 {
		f |= flagThreadID
	}
	if c.Timestamp != 0 {
		f |= flagTimestamp
	}
	if c.Sequence != 0 {
		f |= flagSequence
	}
	if c.long() {
		f |= flagLongLength
	}
	return f
}

// HeaderSize returns the number of bytes the chunk header takes on the wire.
func (c *Chunk) HeaderSize() uint64 {
	size := uint64(4)
	f := c.flags()
	if f&flagThreadID != 0 {
		size += 8
	}
	if f&flagTimestamp != 0 {
		size += 8
	}
	if f&flagSequence != 0 {
		size += 8
	}
	if f&flagLongLength != 0 {
		size += 8
	} else {
		size += 4
	}
	return size
}

// Size returns the number of bytes the chunk takes on the wire.
func (c *Chunk) Size() uint64 { return c.HeaderSize() + c.Length() }

// AppendTo encodes the chunk onto the end of dst. It panics if the chunk
// type does not fit the header.
func (c *Chunk) AppendTo(dst []byte) []byte {
	if !c.Type.Valid() {
		panic(fmt.Errorf("Chunk type %d exceeds the maximum %d", uint32(c.Type), uint32(MaxChunkType)))
	}
	f := c.flags()
	dst = protowire.AppendFixed32(dst, uint32(c.Type)|f)
	if f&flagThreadID != 0 {
		dst = protowire.AppendFixed64(dst, c.ThreadID)
	}
	if f&flagTimestamp != 0 {
		dst = protowire.AppendFixed64(dst, c.Timestamp)
	}
	if f&flagSequence != 0 {
		dst = protowire.AppendFixed64(dst, c.Sequence)
	}
	if f&flagLongLength != 0 {
		dst = protowire.AppendFixed64(dst, uint64(len(c.Payload)))
	} else {
		dst = protowire.AppendFixed32(dst, uint32(len(c.Payload)))
	}
	return append(dst, c.Payload...)
}

// ParseChunk decodes one chunk from the start of data, returning the chunk
// and the number of bytes consumed. The payload aliases data. A zero length
// payload is returned as nil, whether it was written from a nil or an empty
// slice.
func ParseChunk(data []byte) (*Chunk, int, error) {
	read := 0
	fixed32 := func() (uint32, bool) {
		v, n := protowire.ConsumeFixed32(data[read:])
		if n < 0 {
			return 0, false
		}
		read += n
		return v, true
	}
	fixed64 := func() (uint64, bool) {
		v, n := protowire.ConsumeFixed64(data[read:])
		if n < 0 {
			return 0, false
		}
		read += n
		return v, true
	}
	truncated := errors.New("Truncated chunk header")

	head, ok := fixed32()
	if !ok {
		return nil, 0, truncated
	}
	c := &Chunk{Type: ChunkType(head & typeMask)}
	if head&flagThreadID != 0 {
		if c.ThreadID, ok = fixed64(); !ok {
			return nil, 0, truncated
		}
	}
	if head&flagTimestamp != 0 {
		if c.Timestamp, ok = fixed64(); !ok {
			return nil, 0, truncated
		}
	}
	if head&flagSequence != 0 {
		if c.Sequence, ok = fixed64(); !ok {
			return nil, 0, truncated
		}
	}
	var length uint64
	if head&flagLongLength != 0 {
		c.LongLength = true
		if length, ok = fixed64(); !ok {
			return nil, 0, truncated
		}
	} else {
		l32, ok := fixed32()
		if !ok {
			return nil, 0, truncated
		}
		length = uint64(l32)
	}
	if length > uint64(len(data)-read) {
		return nil, 0, errors.Errorf("%v payload of %d bytes exceeds remaining %d", c.Type, length, len(data)-read)
	}
	if length > 0 {
		c.Payload = data[read : read+int(length)]
	}
	read += int(length)
	return c, read, nil
}
