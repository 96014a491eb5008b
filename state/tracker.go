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
	"sync"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/pkg/errors"
)

// Object is the creation info of one resource. Desc holds resource IDs in
// its handle fields.
type Object struct {
	ID     resource.ID
	Kind   gpu.ObjectKind
	Desc   gpu.Described
	Parent resource.ID

	// Memory binding of dense buffers and images.
	Memory       resource.ID
	MemoryOffset uint64
}

// Attachment is a framebuffer attachment resolved to its image.
type Attachment struct {
	View  resource.ID
	Image resource.ID
	Range gpu.SubresourceRange
}

// Tracker is the state of every resource of a device, keyed by ID.
type Tracker struct {
	mu      sync.RWMutex
	objects map[resource.ID]*Object
	images  map[resource.ID]*ImageState
	sparse  map[resource.ID]*SparseTable
	sets    map[resource.ID]*DescriptorSet
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		objects: map[resource.ID]*Object{},
		images:  map[resource.ID]*ImageState{},
		sparse:  map[resource.ID]*SparseTable{},
		sets:    map[resource.ID]*DescriptorSet{},
	}
}

// Create registers a new object. Images start in the undefined layout and
// sparse resources start unbound.
func (t *Tracker) Create(id resource.ID, kind gpu.ObjectKind, desc gpu.Described, parent resource.ID) *Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := &Object{ID: id, Kind: kind, Desc: desc, Parent: parent}
	t.objects[id] = o
	switch d := desc.(type) {
	case *gpu.ImageDesc:
		t.images[id] = NewImageState(d.MipLevels, d.ArrayLayers, gpu.LayoutUndefined)
		if d.Sparse {
			t.sparse[id] = NewSparseTable(d.Size())
		}
	case *gpu.BufferDesc:
		if d.Sparse {
			t.sparse[id] = NewSparseTable(d.Size)
		}
	}
	return o
}

// AllocateSet registers a descriptor set allocated from pool with layout.
func (t *Tracker) AllocateSet(id, pool, layout resource.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.objects[layout]
	if !ok {
		return fault.LookupError{ID: uint64(layout)}
	}
	ld, ok := l.Desc.(*gpu.DescriptorSetLayoutDesc)
	if !ok {
		return errors.Errorf("%v is a %v, not a descriptor set layout", layout, l.Kind)
	}
	t.objects[id] = &Object{ID: id, Kind: gpu.KindDescriptorSet, Parent: pool}
	t.sets[id] = NewDescriptorSet(*ld)
	return nil
}

// BindMemory records the memory binding of a dense buffer or image.
func (t *Tracker) BindMemory(id, memory resource.ID, offset uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.objects[id]
	if !ok {
		return fault.LookupError{ID: uint64(id)}
	}
	o.Memory, o.MemoryOffset = memory, offset
	return nil
}

// Destroy forgets id.
func (t *Tracker) Destroy(id resource.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, id)
	delete(t.images, id)
	delete(t.sparse, id)
	delete(t.sets, id)
}

// Children returns the IDs whose parent is id.
func (t *Tracker) Children(id resource.ID) []resource.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []resource.ID
	for cid, o := range t.objects {
		if o.Parent == id {
			out = append(out, cid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Object returns the creation info of id.
func (t *Tracker) Object(id resource.ID) (*Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.objects[id]
	return o, ok
}

// IDs returns every tracked ID in ascending order.
func (t *Tracker) IDs() []resource.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]resource.ID, 0, len(t.objects))
	for id := range t.objects {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func descOf[T any](t *Tracker, id resource.ID) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	o, ok := t.objects[id]
	if !ok {
		return zero, false
	}
	d, ok := any(o.Desc).(*T)
	if !ok {
		return zero, false
	}
	return *d, true
}

// ImageDesc returns the creation info of image id.
func (t *Tracker) ImageDesc(id resource.ID) (gpu.ImageDesc, bool) { return descOf[gpu.ImageDesc](t, id) }

// BufferDesc returns the creation info of buffer id.
func (t *Tracker) BufferDesc(id resource.ID) (gpu.BufferDesc, bool) { return descOf[gpu.BufferDesc](t, id) }

// MemoryDesc returns the creation info of memory id.
func (t *Tracker) MemoryDesc(id resource.ID) (gpu.MemoryDesc, bool) { return descOf[gpu.MemoryDesc](t, id) }

// ViewDesc returns the creation info of image view id.
func (t *Tracker) ViewDesc(id resource.ID) (gpu.ImageViewDesc, bool) {
	return descOf[gpu.ImageViewDesc](t, id)
}

// RenderPassDesc returns the creation info of render pass id.
func (t *Tracker) RenderPassDesc(id resource.ID) (gpu.RenderPassDesc, bool) {
	return descOf[gpu.RenderPassDesc](t, id)
}

// ShaderDesc returns the creation info of shader id.
func (t *Tracker) ShaderDesc(id resource.ID) (gpu.ShaderDesc, bool) { return descOf[gpu.ShaderDesc](t, id) }

// ImageState returns the layout table of image id.
func (t *Tracker) ImageState(id resource.ID) (*ImageState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.images[id]
	return s, ok
}

// Sparse returns the page table of sparse resource id.
func (t *Tracker) Sparse(id resource.ID) (*SparseTable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sparse[id]
	return s, ok
}

// DescriptorSet returns the binding state of set id.
func (t *Tracker) DescriptorSet(id resource.ID) (*DescriptorSet, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sets[id]
	return s, ok
}

// SetDescriptorSet replaces the binding state of set id.
func (t *Tracker) SetDescriptorSet(id resource.ID, s *DescriptorSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets[id] = s
}

// UpdateDescriptorSets applies writes and copies given in ID form.
func (t *Tracker) UpdateDescriptorSets(writes []gpu.DescriptorWrite, copies []gpu.DescriptorCopy) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range writes {
		set, ok := t.sets[resource.ID(w.Set)]
		if !ok {
			return fault.LookupError{ID: uint64(w.Set)}
		}
		if err := set.Write(w); err != nil {
			return err
		}
	}
	for _, c := range copies {
		src, ok := t.sets[resource.ID(c.Src)]
		if !ok {
			return fault.LookupError{ID: uint64(c.Src)}
		}
		dst, ok := t.sets[resource.ID(c.Dst)]
		if !ok {
			return fault.LookupError{ID: uint64(c.Dst)}
		}
		if err := dst.Copy(src, c); err != nil {
			return err
		}
	}
	return nil
}

// BindSparse replaces the page tables named by binds, given in ID form.
func (t *Tracker) BindSparse(binds []gpu.SparseBindInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range binds {
		table, ok := t.sparse[resource.ID(b.Resource)]
		if !ok {
			return errors.Errorf("%v is not a sparse resource", resource.ID(b.Resource))
		}
		sb := make([]SparseBind, len(b.Binds))
		for i, m := range b.Binds {
			sb[i] = SparseBind{ResourceOffset: m.ResourceOffset, Size: m.Size, Memory: resource.ID(m.Memory), MemoryOffset: m.MemoryOffset}
		}
		if err := table.Bind(sb); err != nil {
			return err
		}
	}
	return nil
}

// Backing returns the memory objects holding the contents of id.
func (t *Tracker) Backing(id resource.ID) []resource.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sparse[id]; ok {
		return s.Memories()
	}
	if o, ok := t.objects[id]; ok && o.Memory != resource.Null {
		return []resource.ID{o.Memory}
	}
	return nil
}

// BoundTo returns the resources whose contents live in memory, in ID order.
func (t *Tracker) BoundTo(memory resource.ID) []resource.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []resource.ID
	for id, o := range t.objects {
		if o.Memory == memory {
			out = append(out, id)
		}
	}
	for id, s := range t.sparse {
		for _, m := range s.Memories() {
			if m == memory {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ViewImage resolves an image view to its image and range.
func (t *Tracker) ViewImage(view resource.ID) (resource.ID, gpu.SubresourceRange, bool) {
	v, ok := t.ViewDesc(view)
	if !ok {
		return resource.Null, gpu.SubresourceRange{}, false
	}
	img := resource.ID(v.Image)
	if d, ok := t.ImageDesc(img); ok {
		return img, v.Range.Resolve(d.MipLevels, d.ArrayLayers), true
	}
	return img, v.Range, true
}

// Attachments resolves the attachments of framebuffer fb.
func (t *Tracker) Attachments(fb resource.ID) ([]Attachment, error) {
	d, ok := descOf[gpu.FramebufferDesc](t, fb)
	if !ok {
		return nil, fault.LookupError{ID: uint64(fb)}
	}
	out := make([]Attachment, len(d.Attachments))
	for i, v := range d.Attachments {
		img, r, ok := t.ViewImage(resource.ID(v))
		if !ok {
			return nil, fault.LookupError{ID: uint64(v)}
		}
		out[i] = Attachment{View: resource.ID(v), Image: img, Range: r}
	}
	return out, nil
}

// ApplyLayouts applies layout operations to the image tables.
func (t *Tracker) ApplyLayouts(ops []LayoutOp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range ops {
		if s, ok := t.images[op.Image]; ok {
			s.Transition(op.Range, op.Layout)
		}
	}
}

// SnapshotLayouts copies every image layout table.
func (t *Tracker) SnapshotLayouts() map[resource.ID]*ImageState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[resource.ID]*ImageState, len(t.images))
	for id, s := range t.images {
		out[id] = s.Clone()
	}
	return out
}

// RestoreLayouts replaces the tables of the images in snap.
func (t *Tracker) RestoreLayouts(snap map[resource.ID]*ImageState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range snap {
		if _, ok := t.images[id]; ok {
			t.images[id] = s.Clone()
		}
	}
}

// ValidateAll checks the layout table of every image.
func (t *Tracker) ValidateAll() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var errs fault.List
	for id, s := range t.images {
		if err := s.Validate(); err != nil {
			errs.Collect(errors.Wrapf(err, "%v", id))
		}
	}
	return errs.Err()
}
