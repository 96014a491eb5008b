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
)

// VertexBinding is a bound vertex buffer.
type VertexBinding struct {
	Buffer resource.ID
	Offset uint64
}

// PipelineBinding is the state of one bind point.
type PipelineBinding struct {
	Pipeline resource.ID
	Layout   resource.ID
	Sets     map[uint32]resource.ID
}

func (p PipelineBinding) clone() PipelineBinding {
	out := p
	out.Sets = make(map[uint32]resource.ID, len(p.Sets))
	for k, v := range p.Sets {
		out.Sets[k] = v
	}
	return out
}

// RenderState is the state a command buffer carries from one command to the
// next. It is derived from the commands alone, so it can be computed for any
// point in a recorded command buffer without executing it.
type RenderState struct {
	RenderPass   resource.ID
	Framebuffer  resource.ID
	Area         gpu.Rect
	InRenderPass bool

	Graphics PipelineBinding
	Compute  PipelineBinding

	VertexBuffers map[uint32]VertexBinding
	PushLayout    resource.ID
	Push          []byte
	Viewport      *gpu.Viewport
	Scissor       *gpu.Rect

	// Markers is the stack of open debug marker names.
	Markers []string
}

// NewRenderState returns the state at the start of a command buffer.
func NewRenderState() *RenderState {
	return &RenderState{
		Graphics:      PipelineBinding{Sets: map[uint32]resource.ID{}},
		Compute:       PipelineBinding{Sets: map[uint32]resource.ID{}},
		VertexBuffers: map[uint32]VertexBinding{},
	}
}

// Bound returns the bind point state for bp.
func (s *RenderState) Bound(bp gpu.BindPoint) *PipelineBinding {
	if bp == gpu.BindCompute {
		return &s.Compute
	}
	return &s.Graphics
}

// Apply updates the state with one command. Commands carry resource IDs in
// their handle fields.
func (s *RenderState) Apply(cmd gpu.Command) {
	switch c := cmd.(type) {
	case *gpu.BeginRenderPass:
		s.RenderPass, s.Framebuffer = resource.ID(c.RenderPass), resource.ID(c.Framebuffer)
		s.Area, s.InRenderPass = c.Area, true
	case *gpu.EndRenderPass:
		s.InRenderPass = false
	case *gpu.BindPipeline:
		s.Bound(c.BindPoint).Pipeline = resource.ID(c.Pipeline)
	case *gpu.BindDescriptorSets:
		b := s.Bound(c.BindPoint)
		b.Layout = resource.ID(c.Layout)
		for i, set := range c.Sets {
			b.Sets[c.FirstSet+uint32(i)] = resource.ID(set)
		}
	case *gpu.BindVertexBuffers:
		for i, buf := range c.Buffers {
			off := uint64(0)
			if i < len(c.Offsets) {
				off = c.Offsets[i]
			}
			s.VertexBuffers[c.FirstBinding+uint32(i)] = VertexBinding{Buffer: resource.ID(buf), Offset: off}
		}
	case *gpu.PushConstants:
		s.PushLayout = resource.ID(c.Layout)
		end := int(c.Offset) + len(c.Data)
		if len(s.Push) < end {
			grown := make([]byte, end)
			copy(grown, s.Push)
			s.Push = grown
		}
		copy(s.Push[c.Offset:], c.Data)
	case *gpu.SetViewport:
		vp := c.Viewport
		s.Viewport = &vp
	case *gpu.SetScissor:
		sc := c.Scissor
		s.Scissor = &sc
	case *gpu.BeginDebugMarker:
		s.Markers = append(s.Markers, c.Name)
	case *gpu.EndDebugMarker:
		if n := len(s.Markers); n > 0 {
			s.Markers = s.Markers[:n-1]
		}
	}
}

// Clone returns an independent copy.
func (s *RenderState) Clone() *RenderState {
	out := *s
	out.Graphics, out.Compute = s.Graphics.clone(), s.Compute.clone()
	out.VertexBuffers = make(map[uint32]VertexBinding, len(s.VertexBuffers))
	for k, v := range s.VertexBuffers {
		out.VertexBuffers[k] = v
	}
	out.Push = append([]byte(nil), s.Push...)
	out.Markers = append([]string(nil), s.Markers...)
	if s.Viewport != nil {
		vp := *s.Viewport
		out.Viewport = &vp
	}
	if s.Scissor != nil {
		sc := *s.Scissor
		out.Scissor = &sc
	}
	return &out
}

// Rebind returns the commands that restore the bound state of s on a fresh
// command buffer, in ID form. Render pass and marker state are not included.
func (s *RenderState) Rebind() []gpu.Command {
	var out []gpu.Command
	bind := func(bp gpu.BindPoint, b PipelineBinding) {
		if b.Pipeline != resource.Null {
			out = append(out, &gpu.BindPipeline{BindPoint: bp, Pipeline: gpu.Handle(b.Pipeline)})
		}
		if b.Layout == resource.Null {
			return
		}
		for _, idx := range sortedSets(b.Sets) {
			out = append(out, &gpu.BindDescriptorSets{
				BindPoint: bp, Layout: gpu.Handle(b.Layout), FirstSet: idx,
				Sets: []gpu.Handle{gpu.Handle(b.Sets[idx])},
			})
		}
	}
	if s.InRenderPass {
		bind(gpu.BindGraphics, s.Graphics)
		for _, idx := range sortedVertex(s.VertexBuffers) {
			vb := s.VertexBuffers[idx]
			out = append(out, &gpu.BindVertexBuffers{
				FirstBinding: idx, Buffers: []gpu.Handle{gpu.Handle(vb.Buffer)}, Offsets: []uint64{vb.Offset},
			})
		}
		if s.Viewport != nil {
			out = append(out, &gpu.SetViewport{Viewport: *s.Viewport})
		}
		if s.Scissor != nil {
			out = append(out, &gpu.SetScissor{Scissor: *s.Scissor})
		}
	} else {
		bind(gpu.BindCompute, s.Compute)
	}
	if s.PushLayout != resource.Null && len(s.Push) > 0 {
		out = append(out, &gpu.PushConstants{Layout: gpu.Handle(s.PushLayout), Data: append([]byte(nil), s.Push...)})
	}
	return out
}

func sortedSets(m map[uint32]resource.ID) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortU32(out)
	return out
}

func sortedVertex(m map[uint32]VertexBinding) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortU32(out)
	return out
}

func sortU32(s []uint32) { sort.Slice(s, func(i, j int) bool { return s[i] < s[j] }) }
