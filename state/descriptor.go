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

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// Descriptor is the contents of one array element of a binding.
type Descriptor struct {
	Type     gpu.DescriptorType
	Resource resource.ID
	View     resource.ID
	Offset   uint64
	Range    uint64
	Layout   gpu.ImageLayout
}

// Serialise implements serialise.Serialisable.
func (d *Descriptor) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &d.Type)
	d.Resource.Serialise(s)
	d.View.Serialise(s)
	s.U64(&d.Offset)
	s.U64(&d.Range)
	serialise.Enum(s, &d.Layout)
}

// Empty returns true if nothing was written to the element.
func (d Descriptor) Empty() bool { return d.Resource == resource.Null && d.View == resource.Null }

// DescriptorSet is the binding state of one descriptor set. Writes and copies
// carry resource IDs in their handle fields.
type DescriptorSet struct {
	Layout   gpu.DescriptorSetLayoutDesc
	Bindings map[uint32][]Descriptor
}

// NewDescriptorSet returns an empty set for the given layout.
func NewDescriptorSet(layout gpu.DescriptorSetLayoutDesc) *DescriptorSet {
	s := &DescriptorSet{Layout: layout, Bindings: map[uint32][]Descriptor{}}
	for _, b := range layout.Bindings {
		s.Bindings[b.Binding] = make([]Descriptor, b.Count)
	}
	return s
}

// Write applies a descriptor write.
func (s *DescriptorSet) Write(w gpu.DescriptorWrite) error {
	slots, ok := s.Bindings[w.Binding]
	if !ok {
		return errors.Errorf("Descriptor set has no binding %d", w.Binding)
	}
	n := len(w.Buffers)
	if !w.Type.IsBuffer() {
		n = len(w.Images)
	}
	if int(w.ArrayElement)+n > len(slots) {
		return errors.Errorf("Write of %d descriptors at %d overflows binding %d", n, w.ArrayElement, w.Binding)
	}
	for i := 0; i < n; i++ {
		d := Descriptor{Type: w.Type}
		if w.Type.IsBuffer() {
			b := w.Buffers[i]
			d.Resource, d.Offset, d.Range = resource.ID(b.Buffer), b.Offset, b.Range
		} else {
			im := w.Images[i]
			d.View, d.Layout = resource.ID(im.View), im.Layout
		}
		slots[int(w.ArrayElement)+i] = d
	}
	return nil
}

// Copy applies a descriptor copy from src.
func (s *DescriptorSet) Copy(src *DescriptorSet, c gpu.DescriptorCopy) error {
	from, ok := src.Bindings[c.SrcBinding]
	if !ok || int(c.SrcElement+c.Count) > len(from) {
		return errors.Errorf("Descriptor copy reads past binding %d", c.SrcBinding)
	}
	to, ok := s.Bindings[c.DstBinding]
	if !ok || int(c.DstElement+c.Count) > len(to) {
		return errors.Errorf("Descriptor copy writes past binding %d", c.DstBinding)
	}
	copy(to[c.DstElement:c.DstElement+c.Count], from[c.SrcElement:c.SrcElement+c.Count])
	return nil
}

// Clone returns an independent copy.
func (s *DescriptorSet) Clone() *DescriptorSet {
	out := &DescriptorSet{Layout: s.Layout, Bindings: make(map[uint32][]Descriptor, len(s.Bindings))}
	for b, slots := range s.Bindings {
		out.Bindings[b] = append([]Descriptor(nil), slots...)
	}
	return out
}

// BindingNumbers returns the binding numbers in ascending order.
func (s *DescriptorSet) BindingNumbers() []uint32 {
	out := make([]uint32, 0, len(s.Bindings))
	for b := range s.Bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Referenced returns every resource and view the set points at.
func (s *DescriptorSet) Referenced() []Descriptor {
	var out []Descriptor
	for _, b := range s.BindingNumbers() {
		for _, d := range s.Bindings[b] {
			if !d.Empty() {
				out = append(out, d)
			}
		}
	}
	return out
}

// Writes returns the descriptor writes that recreate the set's contents on
// set, one per written element.
func (s *DescriptorSet) Writes(set gpu.Handle) []gpu.DescriptorWrite {
	var out []gpu.DescriptorWrite
	for _, b := range s.BindingNumbers() {
		for i, d := range s.Bindings[b] {
			if d.Empty() {
				continue
			}
			w := gpu.DescriptorWrite{Set: set, Binding: b, ArrayElement: uint32(i), Type: d.Type}
			if d.Type.IsBuffer() {
				w.Buffers = []gpu.BufferInfo{{Buffer: gpu.Handle(d.Resource), Offset: d.Offset, Range: d.Range}}
			} else {
				w.Images = []gpu.ImageInfo{{View: gpu.Handle(d.View), Layout: d.Layout}}
			}
			out = append(out, w)
		}
	}
	return out
}

type bindingState struct {
	Binding uint32
	Slots   []Descriptor
}

func (b *bindingState) Serialise(s *serialise.Serialiser) {
	s.U32(&b.Binding)
	serialise.Objects(s, &b.Slots)
}

// Serialise implements serialise.Serialisable.
func (s *DescriptorSet) Serialise(ser *serialise.Serialiser) {
	s.Layout.Serialise(ser)
	var list []bindingState
	if ser.Writing() {
		for _, b := range s.BindingNumbers() {
			list = append(list, bindingState{Binding: b, Slots: s.Bindings[b]})
		}
	}
	serialise.Objects(ser, &list)
	if ser.Reading() {
		s.Bindings = make(map[uint32][]Descriptor, len(list))
		for _, b := range list {
			s.Bindings[b.Binding] = b.Slots
		}
	}
}
