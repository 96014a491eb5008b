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

package resource

import (
	"sync"
	"sync/atomic"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/serialise"
)

// Record holds the chunks that recreate a resource, in the order they were
// written, plus the records it depends on.
type Record struct {
	ID   ID
	Kind gpu.ObjectKind

	// Special records are never given initial contents (queues, devices).
	Special bool

	mu      sync.Mutex
	chunks  []*serialise.Chunk
	parents []*Record
	refs    atomic.Int32
	written atomic.Bool
}

func newRecord(id ID, kind gpu.ObjectKind) *Record {
	r := &Record{ID: id, Kind: kind}
	r.refs.Store(1)
	return r
}

// AddChunk appends a creation or update chunk.
func (r *Record) AddChunk(c *serialise.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

// Chunks returns a copy of the record's chunks.
func (r *Record) Chunks() []*serialise.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*serialise.Chunk(nil), r.chunks...)
}

// AddParent makes p a dependency of r. The parent is kept alive for as long
// as r is.
func (r *Record) AddParent(p *Record) {
	if p == nil || p == r {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.parents {
		if e == p {
			return
		}
	}
	p.AddRef()
	r.parents = append(r.parents, p)
}

// Parents returns the direct dependencies of r.
func (r *Record) Parents() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Record(nil), r.parents...)
}

func (r *Record) AddRef() { r.refs.Add(1) }

// Refs returns the current reference count.
func (r *Record) Refs() int { return int(r.refs.Load()) }

// DataWritten reports whether the record's data reached a capture file.
func (r *Record) DataWritten() bool { return r.written.Load() }

// MarkDataWritten flags the record's data as written.
func (r *Record) MarkDataWritten() { r.written.Store(true) }

// insert adds the chunks of r and, first, of all its parents to out, keyed
// by sequence number.
func (r *Record) insert(out map[uint64]*serialise.Chunk, seen map[*Record]bool) {
	if seen[r] {
		return
	}
	seen[r] = true
	for _, p := range r.Parents() {
		p.insert(out, seen)
	}
	for _, c := range r.Chunks() {
		out[c.Sequence] = c
	}
}
