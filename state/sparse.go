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

package state

import (
	"sort"

	"github.com/baldurk/renderdoc-sub014/core/math/interval"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// Page is the memory bound to one sparse page.
type Page struct {
	Memory resource.ID
	Offset uint64
}

// SparseBind binds a page-aligned run of a sparse resource.
type SparseBind struct {
	ResourceOffset uint64
	Size           uint64
	Memory         resource.ID
	MemoryOffset   uint64
}

// Serialise implements serialise.Serialisable.
func (b *SparseBind) Serialise(s *serialise.Serialiser) {
	s.U64(&b.ResourceOffset)
	s.U64(&b.Size)
	b.Memory.Serialise(s)
	s.U64(&b.MemoryOffset)
}

// SparseTable maps the pages of a sparse resource to memory.
type SparseTable struct {
	Size  uint64
	pages map[uint64]Page
}

// NewSparseTable returns an unbound table for a resource of size bytes.
func NewSparseTable(size uint64) *SparseTable {
	return &SparseTable{Size: size, pages: map[uint64]Page{}}
}

// PageCount returns the number of pages the resource spans.
func (t *SparseTable) PageCount() uint64 {
	return (t.Size + gpu.SparsePageSize - 1) / gpu.SparsePageSize
}

// Bind replaces the whole table with binds. Pages not covered become
// unbound. On error the table is unchanged.
func (t *SparseTable) Bind(binds []SparseBind) error {
	pages := map[uint64]Page{}
	for _, b := range binds {
		if b.ResourceOffset%gpu.SparsePageSize != 0 || b.Size%gpu.SparsePageSize != 0 {
			return errors.Errorf("Sparse bind [%d,+%d) is not page aligned", b.ResourceOffset, b.Size)
		}
		first, count := b.ResourceOffset/gpu.SparsePageSize, b.Size/gpu.SparsePageSize
		if first+count > t.PageCount() {
			return errors.Errorf("Sparse bind [%d,+%d) is past the end (%d)", b.ResourceOffset, b.Size, t.Size)
		}
		for i := uint64(0); i < count; i++ {
			if b.Memory == resource.Null {
				delete(pages, first+i)
				continue
			}
			pages[first+i] = Page{Memory: b.Memory, Offset: b.MemoryOffset + i*gpu.SparsePageSize}
		}
	}
	t.pages = pages
	return nil
}

// Lookup returns the binding of page p.
func (t *SparseTable) Lookup(p uint64) (Page, bool) {
	pg, ok := t.pages[p]
	return pg, ok
}

// Pages returns the bound page indices in ascending order.
func (t *SparseTable) Pages() []uint64 {
	out := make([]uint64, 0, len(t.pages))
	for p := range t.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bound returns the byte spans of the resource that are backed by memory.
func (t *SparseTable) Bound() interval.U64SpanList {
	var l interval.U64SpanList
	for p := range t.pages {
		l.Merge(interval.U64Span{Start: p * gpu.SparsePageSize, End: (p + 1) * gpu.SparsePageSize})
	}
	return l
}

// Memories returns the distinct memory objects the table references.
func (t *SparseTable) Memories() []resource.ID {
	seen := map[resource.ID]bool{}
	var out []resource.ID
	for _, p := range t.Pages() {
		if m := t.pages[p].Memory; !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Binds returns the table as the shortest list of binds that recreates it.
func (t *SparseTable) Binds() []SparseBind {
	var out []SparseBind
	for _, p := range t.Pages() {
		pg := t.pages[p]
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Memory == pg.Memory &&
				last.ResourceOffset+last.Size == p*gpu.SparsePageSize &&
				last.MemoryOffset+last.Size == pg.Offset {
				last.Size += gpu.SparsePageSize
				continue
			}
		}
		out = append(out, SparseBind{
			ResourceOffset: p * gpu.SparsePageSize,
			Size:           gpu.SparsePageSize,
			Memory:         pg.Memory,
			MemoryOffset:   pg.Offset,
		})
	}
	return out
}

// Snapshot returns a copy of the table.
func (t *SparseTable) Snapshot() *SparseTable {
	out := NewSparseTable(t.Size)
	for p, pg := range t.pages {
		out.pages[p] = pg
	}
	return out
}

// Restore replaces the table with snap.
func (t *SparseTable) Restore(snap *SparseTable) {
	c := snap.Snapshot()
	t.Size, t.pages = c.Size, c.pages
}

// Serialise implements serialise.Serialisable.
func (t *SparseTable) Serialise(s *serialise.Serialiser) {
	s.U64(&t.Size)
	binds := t.Binds()
	serialise.Objects(s, &binds)
	if s.Reading() && s.Err() == nil {
		if t.pages == nil {
			t.pages = map[uint64]Page{}
		}
		if err := t.Bind(binds); err != nil {
			s.SetError(err)
		}
	}
}
