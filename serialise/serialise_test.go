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

package serialise_test

import (
	"io"
	"math"
	"sync"
	"testing"

	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	A     uint32
	B     int64
	C     bool
	D     float32
	E     string
	F     []byte
	Items []item
	Kind  kind
}

type item struct {
	X uint64
	Y int32
}

type kind uint8

func (i *item) Serialise(s *serialise.Serialiser) {
	s.U64(&i.X)
	s.I32(&i.Y)
}

func (p *payload) Serialise(s *serialise.Serialiser) {
	s.U32(&p.A)
	s.I64(&p.B)
	s.Bool(&p.C)
	s.F32(&p.D)
	s.String(&p.E)
	s.Bytes(&p.F)
	serialise.Objects(s, &p.Items)
	serialise.Enum(s, &p.Kind)
}

func TestSerialiserSymmetric(t *testing.T) {
	in := payload{
		A: math.MaxUint32, B: -12345678901, C: true, D: 0.25, E: "vkCmdDraw",
		F: []byte{1, 2, 3}, Items: []item{{1, -1}, {math.MaxUint64, math.MinInt32}}, Kind: 7,
	}
	data, err := serialise.Encode(&in)
	require.NoError(t, err)
	var out payload
	require.NoError(t, serialise.Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestSerialiserErrors(t *testing.T) {
	in := payload{E: "hello", F: make([]byte, 16)}
	data, err := serialise.Encode(&in)
	require.NoError(t, err)

	var out payload
	assert.Error(t, serialise.Decode(data[:len(data)-3], &out), "truncated payload")
	assert.Error(t, serialise.Decode(append(data, 0), &out), "trailing bytes")

	s := serialise.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	var v uint32
	s.U32(&v)
	assert.Error(t, s.Err(), "uint32 overflow")

	s = serialise.NewReader([]byte{0x80, 0x02})
	var k kind
	serialise.Enum(s, &k)
	assert.Error(t, s.Err(), "enum overflow")
}

func TestChunkRoundTrip(t *testing.T) {
	const limit = 1 << 16
	seq := serialise.NewSequencer(limit)
	w := seq.NewWriter(3)

	max := make([]byte, limit)
	for i := range max {
		max[i] = byte(i * 7)
	}
	for _, test := range []struct {
		name string
		typ  serialise.ChunkType
		data []byte
		long bool
	}{
		{"zero length", serialise.ChunkCaptureEnd, nil, false},
		{"empty payload", serialise.ChunkCaptureBegin, []byte{}, false},
		{"largest type", serialise.MaxChunkType, []byte{9}, false},
		{"small", serialise.ChunkCaptureScope, []byte{1, 2, 3, 4}, false},
		{"maximum length", 1001, max, false},
		{"long length", 1002, max[:100], true},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, err := w.Chunk(test.typ, nil)
			require.NoError(t, err)
			c.Payload = test.data
			c.LongLength = test.long
			encoded := c.AppendTo(nil)
			assert.Equal(t, c.Size(), uint64(len(encoded)))
			got, n, err := serialise.ParseChunk(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
			// Empty payloads always parse as nil.
			if len(c.Payload) == 0 {
				c.Payload = nil
			}
			assert.Equal(t, c, got)
		})
	}

	_, err := w.Chunk(1003, func(s *serialise.Serialiser) {
		big := make([]byte, limit+1)
		s.Bytes(&big)
	})
	assert.Error(t, err, "payload over the chunk limit")
}

func TestChunkTypeRange(t *testing.T) {
	assert.True(t, serialise.MaxChunkType.Valid())
	tooBig := serialise.MaxChunkType + 1
	assert.False(t, tooBig.Valid())

	assert.Panics(t, func() { serialise.RegisterChunkName(tooBig, "Overflow") })
	assert.Panics(t, func() { (&serialise.Chunk{Type: tooBig}).AppendTo(nil) })

	w := serialise.NewSequencer(0).NewWriter(1)
	_, err := w.Chunk(tooBig, nil)
	assert.Error(t, err)
	_, err = w.Chunk(1<<31|5, nil)
	assert.Error(t, err, "flag bits in the type")
}

func TestWriterChunkPayload(t *testing.T) {
	w := serialise.NewSequencer(0).NewWriter(1)
	in := item{X: 99, Y: -4}
	c, err := w.Object(2000, &in)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Sequence)
	assert.Equal(t, uint64(1), c.ThreadID)
	var out item
	require.NoError(t, c.Decode(&out))
	assert.Equal(t, in, out)

	empty, err := w.Chunk(serialise.ChunkCaptureEnd, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Payload)
	assert.Equal(t, uint64(2), empty.Sequence)
}

func TestMergeBySequence(t *testing.T) {
	seq := serialise.NewSequencer(0)
	const threads, perThread = 8, 200
	writers := make([]*serialise.Writer, threads)
	for i := range writers {
		writers[i] = seq.NewWriter(uint64(i + 1))
	}
	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w *serialise.Writer) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				c, err := w.Chunk(1000, func(s *serialise.Serialiser) {
					v := uint64(i)
					s.U64(&v)
				})
				if err == nil {
					w.Append(c)
				}
			}
		}(w)
	}
	wg.Wait()

	streams := make([][]*serialise.Chunk, threads)
	for i, w := range writers {
		streams[threads-1-i] = w.Stream()
	}
	merged := serialise.Merge(streams...)
	require.Len(t, merged, threads*perThread)
	for i := range merged {
		assert.Equal(t, uint64(i+1), merged[i].Sequence)
	}
	// A chunk listed twice is emitted once.
	again := serialise.Merge(streams[0], streams[0][:1])
	assert.Len(t, again, perThread)
}

func TestReaderSeekAndSkip(t *testing.T) {
	w := serialise.NewSequencer(0).NewWriter(1)
	var chunks []*serialise.Chunk
	for _, typ := range []serialise.ChunkType{serialise.ChunkCaptureBegin, 900, 1000, 1001, serialise.ChunkCaptureEnd} {
		c, err := w.Chunk(typ, func(s *serialise.Serialiser) {
			v := uint32(typ)
			s.U32(&v)
		})
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	data, offsets := serialise.EncodeStream(chunks)

	r := serialise.NewStreamReader(data)
	r.SetKnown(func(t serialise.ChunkType) bool { return t != 900 })
	var got []serialise.ChunkType
	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, c.Type)
	}
	assert.Equal(t, []serialise.ChunkType{serialise.ChunkCaptureBegin, 1000, 1001, serialise.ChunkCaptureEnd}, got)
	assert.Equal(t, 1, r.Skipped())

	require.NoError(t, r.Seek(offsets[3]))
	c, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, serialise.ChunkType(1001), c.Type)
	assert.Equal(t, offsets[3], r.LastOffset())
	assert.Error(t, r.Seek(uint64(len(data)+1)))

	r.SetKnown(func(t serialise.ChunkType) bool { return t != 1001 })
	require.NoError(t, r.Seek(offsets[3]))
	_, err = r.Next()
	var unknown serialise.UnknownChunkError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, offsets[3], unknown.Offset)
}

func TestChunkNames(t *testing.T) {
	serialise.RegisterChunkName(4242, "vkTest")
	assert.Equal(t, "vkTest", serialise.ChunkType(4242).String())
	assert.Equal(t, "CaptureScope", serialise.ChunkCaptureScope.String())
	assert.Equal(t, "Chunk<4243>", serialise.ChunkType(4243).String())
	assert.Panics(t, func() { serialise.RegisterChunkName(4242, "other") })
}
