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

package soft

import (
	"context"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/pkg/errors"
)

// page is one sparse page binding. A zero mem means unbound.
type page struct {
	mem    gpu.Handle
	offset uint64
}

// storage is the backing store of a buffer or image: either a single dense
// memory binding or a table of sparse pages.
type storage struct {
	size      uint64
	sparse    bool
	mem       gpu.Handle
	memOffset uint64
	pages     []page
}

func newStorage(size uint64, sparse bool) storage {
	st := storage{size: size, sparse: sparse}
	if sparse {
		st.pages = make([]page, (size+gpu.SparsePageSize-1)/gpu.SparsePageSize)
	}
	return st
}

// access calls fn with every contiguous piece of the storage covering
// [offset, offset+size). b is nil for unbound sparse pages; at is the
// position of the piece within the request.
func (d *driver) access(st *storage, offset, size uint64, fn func(b []byte, at uint64)) error {
	if offset+size > st.size || offset+size < offset {
		return errors.Errorf("Access of %d bytes at %d past resource end %d", size, offset, st.size)
	}
	if !st.sparse {
		if st.mem == gpu.Null {
			return errors.New("Resource used without bound memory")
		}
		mem, err := get[*memory](d, st.mem)
		if err != nil {
			return errors.Wrap(err, "Bound memory")
		}
		start := st.memOffset + offset
		fn(mem.data[start:start+size], 0)
		return nil
	}
	at := uint64(0)
	for at < size {
		pos := offset + at
		idx := pos / gpu.SparsePageSize
		in := pos % gpu.SparsePageSize
		n := gpu.SparsePageSize - in
		if n > size-at {
			n = size - at
		}
		p := st.pages[idx]
		var b []byte
		if p.mem != gpu.Null {
			if mem, ok := d.objects[p.mem].(*memory); ok {
				start := p.offset + in
				b = mem.data[start : start+n]
			}
		}
		fn(b, at)
		at += n
	}
	return nil
}

func (d *driver) read(st *storage, offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	err := d.access(st, offset, size, func(b []byte, at uint64) {
		if b != nil {
			copy(out[at:], b)
		}
	})
	return out, err
}

func (d *driver) write(st *storage, offset uint64, data []byte) error {
	return d.access(st, offset, uint64(len(data)), func(b []byte, at uint64) {
		if b != nil {
			copy(b, data[at:])
		}
	})
}

func (d *driver) fill(st *storage, offset, size uint64, value byte) error {
	return d.access(st, offset, size, func(b []byte, at uint64) {
		for i := range b {
			b[i] = value
		}
	})
}

// bindSparse replaces the whole page table of a sparse resource.
func (d *driver) bindSparse(st *storage, binds []gpu.SparseMemoryBind) error {
	if !st.sparse {
		return errors.New("BindSparse on a resource that is not sparse")
	}
	pages := make([]page, len(st.pages))
	for _, b := range binds {
		if b.ResourceOffset%gpu.SparsePageSize != 0 || b.Size%gpu.SparsePageSize != 0 {
			return errors.Errorf("Sparse bind [%d, +%d) is not page aligned", b.ResourceOffset, b.Size)
		}
		first := b.ResourceOffset / gpu.SparsePageSize
		count := b.Size / gpu.SparsePageSize
		if first+count > uint64(len(pages)) {
			return errors.Errorf("Sparse bind [%d, +%d) past resource end %d", b.ResourceOffset, b.Size, st.size)
		}
		if b.Memory != gpu.Null {
			mem, err := get[*memory](d, b.Memory)
			if err != nil {
				return err
			}
			if b.MemoryOffset+b.Size > uint64(len(mem.data)) {
				return errors.Errorf("Sparse bind reads past memory end %d", len(mem.data))
			}
		}
		for i := uint64(0); i < count; i++ {
			p := page{}
			if b.Memory != gpu.Null {
				p = page{mem: b.Memory, offset: b.MemoryOffset + i*gpu.SparsePageSize}
			}
			pages[first+i] = p
		}
	}
	st.pages = pages
	return nil
}

func (d *driver) BindSparse(ctx context.Context, q gpu.Handle, binds []gpu.SparseBindInfo, f gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q != d.queue {
		return errors.Errorf("Unknown queue 0x%x", uint64(q))
	}
	for _, b := range binds {
		var st *storage
		switch o := d.objects[b.Resource].(type) {
		case *buffer:
			st = &o.storage
		case *image:
			st = &o.storage
		default:
			return errors.Errorf("BindSparse on 0x%x which is not a buffer or image", uint64(b.Resource))
		}
		if err := d.bindSparse(st, b.Binds); err != nil {
			return err
		}
	}
	return d.signalFence(f)
}
