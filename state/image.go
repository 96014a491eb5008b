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

// Package state tracks GPU-side resource state that the driver does not
// expose: image layouts per subresource, sparse page tables, descriptor set
// contents and the command buffer state carried between commands.
package state

import (
	"fmt"
	"sort"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/math/interval"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// Entry is a rectangle of subresources sharing one layout.
type Entry struct {
	Mips   interval.U32Span
	Layers interval.U32Span
	Layout gpu.ImageLayout
}

// Range returns the subresource range covered by e.
func (e Entry) Range() gpu.SubresourceRange {
	return gpu.SubresourceRange{
		BaseMip: e.Mips.Start, MipCount: e.Mips.Len(),
		BaseLayer: e.Layers.Start, LayerCount: e.Layers.Len(),
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("mips[%d,%d) layers[%d,%d) %v", e.Mips.Start, e.Mips.End, e.Layers.Start, e.Layers.End, e.Layout)
}

// Serialise implements serialise.Serialisable.
func (e *Entry) Serialise(s *serialise.Serialiser) {
	s.U32(&e.Mips.Start)
	s.U32(&e.Mips.End)
	s.U32(&e.Layers.Start)
	s.U32(&e.Layers.End)
	serialise.Enum(s, &e.Layout)
}

func (e Entry) less(o Entry) bool {
	if e.Mips.Start != o.Mips.Start {
		return e.Mips.Start < o.Mips.Start
	}
	return e.Layers.Start < o.Layers.Start
}

// ImageState is the layout table of one image. Its entries always partition
// [0,Mips)x[0,Layers) and are kept sorted by (mip, layer).
type ImageState struct {
	Mips    uint32
	Layers  uint32
	entries []Entry
}

// NewImageState returns a table with every subresource in layout l.
func NewImageState(mips, layers uint32, l gpu.ImageLayout) *ImageState {
	return &ImageState{
		Mips:   mips,
		Layers: layers,
		entries: []Entry{{
			Mips:   interval.U32Span{End: mips},
			Layers: interval.U32Span{End: layers},
			Layout: l,
		}},
	}
}

func (s *ImageState) spans(r gpu.SubresourceRange) (mips, layers interval.U32Span) {
	r = r.Resolve(s.Mips, s.Layers)
	mips = interval.U32Span{Start: r.BaseMip, End: r.BaseMip + r.MipCount}.Intersect(interval.U32Span{End: s.Mips})
	layers = interval.U32Span{Start: r.BaseLayer, End: r.BaseLayer + r.LayerCount}.Intersect(interval.U32Span{End: s.Layers})
	return mips, layers
}

// Transition sets the layout of every subresource in r to l.
func (s *ImageState) Transition(r gpu.SubresourceRange, l gpu.ImageLayout) {
	mips, layers := s.spans(r)
	if mips.Empty() || layers.Empty() {
		return
	}
	out := make([]Entry, 0, len(s.entries)+4)
	for _, e := range s.entries {
		if !e.Mips.Overlaps(mips) || !e.Layers.Overlaps(layers) {
			out = append(out, e)
			continue
		}
		below, slab, above := e.Mips.Cut(mips)
		for _, m := range []interval.U32Span{below, above} {
			if !m.Empty() {
				out = append(out, Entry{Mips: m, Layers: e.Layers, Layout: e.Layout})
			}
		}
		front, inside, back := e.Layers.Cut(layers)
		for _, ly := range []interval.U32Span{front, back} {
			if !ly.Empty() {
				out = append(out, Entry{Mips: slab, Layers: ly, Layout: e.Layout})
			}
		}
		out = append(out, Entry{Mips: slab, Layers: inside, Layout: l})
	}
	s.entries = coalesce(out)
}

// coalesce sorts the entries and merges neighbours with equal layout whose
// union is a rectangle, until no more merges apply.
func coalesce(entries []Entry) []Entry {
	for merged := true; merged; {
		merged = false
		sort.Slice(entries, func(i, j int) bool { return entries[i].less(entries[j]) })
	outer:
		for i := range entries {
			for j := i + 1; j < len(entries); j++ {
				a, b := entries[i], entries[j]
				if a.Layout != b.Layout {
					continue
				}
				var u Entry
				switch {
				case a.Mips == b.Mips && a.Layers.End == b.Layers.Start:
					u = Entry{Mips: a.Mips, Layers: interval.U32Span{Start: a.Layers.Start, End: b.Layers.End}, Layout: a.Layout}
				case a.Layers == b.Layers && a.Mips.End == b.Mips.Start:
					u = Entry{Mips: interval.U32Span{Start: a.Mips.Start, End: b.Mips.End}, Layers: a.Layers, Layout: a.Layout}
				default:
					continue
				}
				entries[i] = u
				entries = append(entries[:j], entries[j+1:]...)
				merged = true
				break outer
			}
		}
	}
	return entries
}

// Entries returns a copy of the table.
func (s *ImageState) Entries() []Entry { return append([]Entry(nil), s.entries...) }

// LayoutAt returns the layout of one subresource.
func (s *ImageState) LayoutAt(mip, layer uint32) (gpu.ImageLayout, bool) {
	for _, e := range s.entries {
		if e.Mips.Contains(mip) && e.Layers.Contains(layer) {
			return e.Layout, true
		}
	}
	return gpu.LayoutUndefined, false
}

// Ranges returns the parts of the table that intersect r, clipped to r.
func (s *ImageState) Ranges(r gpu.SubresourceRange) []Entry {
	mips, layers := s.spans(r)
	var out []Entry
	for _, e := range s.entries {
		m, l := e.Mips.Intersect(mips), e.Layers.Intersect(layers)
		if !m.Empty() && !l.Empty() {
			out = append(out, Entry{Mips: m, Layers: l, Layout: e.Layout})
		}
	}
	return out
}

// Clone returns an independent copy.
func (s *ImageState) Clone() *ImageState {
	return &ImageState{Mips: s.Mips, Layers: s.Layers, entries: s.Entries()}
}

// Validate checks that the entries partition the image.
func (s *ImageState) Validate() error {
	var errs fault.List
	area := uint64(0)
	for i, e := range s.entries {
		if e.Mips.Empty() || e.Layers.Empty() {
			errs.Collect(errors.Errorf("entry %d (%v) is empty", i, e))
		}
		if e.Mips.End > s.Mips || e.Layers.End > s.Layers {
			errs.Collect(errors.Errorf("entry %d (%v) is outside %dx%d", i, e, s.Mips, s.Layers))
		}
		for _, o := range s.entries[i+1:] {
			if e.Mips.Overlaps(o.Mips) && e.Layers.Overlaps(o.Layers) {
				errs.Collect(errors.Errorf("entries %v and %v overlap", e, o))
			}
		}
		if i > 0 && !s.entries[i-1].less(e) {
			errs.Collect(errors.Errorf("entry %d (%v) is out of order", i, e))
		}
		area += uint64(e.Mips.Len()) * uint64(e.Layers.Len())
	}
	if want := uint64(s.Mips) * uint64(s.Layers); area != want {
		errs.Collect(errors.Errorf("entries cover %d subresources, image has %d", area, want))
	}
	return errs.Err()
}

// Serialise implements serialise.Serialisable.
func (s *ImageState) Serialise(ser *serialise.Serialiser) {
	ser.U32(&s.Mips)
	ser.U32(&s.Layers)
	serialise.Objects(ser, &s.entries)
	if ser.Reading() && ser.Err() == nil {
		if err := s.Validate(); err != nil {
			ser.SetError(errors.Wrap(err, "Invalid image layout table"))
		}
	}
}
