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
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultMaxChunkSize is the largest payload a Writer accepts unless
// configured otherwise.
const DefaultMaxChunkSize = 1 << 30

// Sequencer hands out the global chunk order shared by every thread of a
// capture. It is the only state the per-thread writers share.
type Sequencer struct {
	next         atomic.Uint64
	epoch        time.Time
	MaxChunkSize uint64
}

// NewSequencer returns a Sequencer whose writers reject payloads larger than
// maxChunkSize. Zero selects DefaultMaxChunkSize.
func NewSequencer(maxChunkSize uint64) *Sequencer {
	if maxChunkSize == 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Sequencer{epoch: time.Now(), MaxChunkSize: maxChunkSize}
}

// Next returns the next sequence number. Sequence numbers start at 1.
func (q *Sequencer) Next() uint64 { return q.next.Add(1) }

// Current returns the last sequence number handed out.
func (q *Sequencer) Current() uint64 { return q.next.Load() }

// NewWriter returns a writer for a single thread. The writer must not be
// shared between goroutines.
func (q *Sequencer) NewWriter(threadID uint64) *Writer {
	return &Writer{seq: q, threadID: threadID}
}

// Writer builds chunks for one thread. Appending takes no lock: the only
// shared operation is the atomic sequence increment.
type Writer struct {
	seq      *Sequencer
	threadID uint64
	scratch  []byte
	stream   []*Chunk
}

// ThreadID returns the thread the writer belongs to.
func (w *Writer) ThreadID() uint64 { return w.threadID }

// Chunk encodes a new chunk of type t with body writing the payload.
// The chunk is not appended to the writer's stream.
func (w *Writer) Chunk(t ChunkType, body func(s *Serialiser)) (*Chunk, error) {
	if !t.Valid() {
		return nil, errors.Errorf("Chunk type %d exceeds the maximum %d", uint32(t), uint32(MaxChunkType))
	}
	s := NewWriterInto(w.scratch)
	if body != nil {
		body(s)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrapf(err, "Encoding %v", t)
	}
	data := s.Data()
	w.scratch = data[:0]
	if uint64(len(data)) > w.seq.MaxChunkSize {
		return nil, errors.Errorf("%v payload of %d bytes exceeds the %d byte chunk limit", t, len(data), w.seq.MaxChunkSize)
	}
	c := &Chunk{
		Type:      t,
		Sequence:  w.seq.Next(),
		ThreadID:  w.threadID,
		Timestamp: uint64(time.Since(w.seq.epoch).Microseconds()) + 1,
	}
	if len(data) > 0 {
		c.Payload = append([]byte(nil), data...)
	}
	return c, nil
}

// Object is shorthand for Chunk with o as the payload.
func (w *Writer) Object(t ChunkType, o Serialisable) (*Chunk, error) {
	return w.Chunk(t, o.Serialise)
}

// Append adds a chunk to the end of the writer's stream.
func (w *Writer) Append(c *Chunk) { w.stream = append(w.stream, c) }

// Stream returns the chunks appended so far.
func (w *Writer) Stream() []*Chunk { return w.stream }

// Reset empties the writer's stream.
func (w *Writer) Reset() { w.stream = nil }

// Merge combines chunk streams into file order. The order is the global
// sequence each chunk was given when it was built, never the order the
// streams are passed in, as threads race. Chunks appearing in more than one
// stream are emitted once.
func Merge(streams ...[]*Chunk) []*Chunk {
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	out := make([]*Chunk, 0, total)
	seen := make(map[*Chunk]struct{}, total)
	for _, s := range streams {
		for _, c := range s {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// EncodeStream writes the chunks back to back and returns the stream offset of
// each chunk.
func EncodeStream(chunks []*Chunk) ([]byte, []uint64) {
	size := uint64(0)
	for _, c := range chunks {
		size += c.Size()
	}
	out := make([]byte, 0, size)
	offsets := make([]uint64, len(chunks))
	for i, c := range chunks {
		offsets[i] = uint64(len(out))
		out = c.AppendTo(out)
	}
	return out, offsets
}

// WriteStream writes the chunks to w.
func WriteStream(w io.Writer, chunks []*Chunk) error {
	data, _ := EncodeStream(chunks)
	_, err := w.Write(data)
	return err
}
