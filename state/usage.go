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
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
)

// Usage is the way an event uses a resource.
type Usage int

const (
	UsageVertexBuffer Usage = iota + 1
	UsageConstants
	UsageReadOnly
	UsageReadWrite
	UsageCopySrc
	UsageCopyDst
	UsageClear
	UsageBarrier
	UsageColorTarget
)

var usageNames = map[Usage]string{
	UsageVertexBuffer: "VertexBuffer",
	UsageConstants:    "Constants",
	UsageReadOnly:     "ReadOnly",
	UsageReadWrite:    "ReadWrite",
	UsageCopySrc:      "CopySrc",
	UsageCopyDst:      "CopyDst",
	UsageClear:        "Clear",
	UsageBarrier:      "Barrier",
	UsageColorTarget:  "ColorTarget",
}

func (u Usage) String() string {
	if n, ok := usageNames[u]; ok {
		return n
	}
	return "Usage<?>"
}

// FrameRef returns the frame reference a use implies.
func (u Usage) FrameRef() resource.FrameRefType {
	switch u {
	case UsageCopyDst, UsageClear, UsageColorTarget:
		return resource.FrameRefPartialWrite
	case UsageReadWrite:
		return resource.FrameRefReadBeforeWrite
	}
	return resource.FrameRefRead
}

// Writes returns true if the use modifies the resource.
func (u Usage) Writes() bool {
	switch u {
	case UsageCopyDst, UsageClear, UsageColorTarget, UsageReadWrite:
		return true
	}
	return false
}

// Use is one resource used by a command.
type Use struct {
	ID    resource.ID
	Usage Usage
}

// LayoutOp is a layout change a command makes to an image.
type LayoutOp struct {
	Image  resource.ID
	Range  gpu.SubresourceRange
	Layout gpu.ImageLayout
}

// Uses returns the resources cmd uses. rs is the state before cmd. Views are
// reported as their images.
func (t *Tracker) Uses(rs *RenderState, cmd gpu.Command) []Use {
	var out []Use
	add := func(h gpu.Handle, u Usage) {
		if h != gpu.Null {
			out = append(out, Use{ID: resource.ID(h), Usage: u})
		}
	}
	view := func(v resource.ID, u Usage) {
		if img, _, ok := t.ViewImage(v); ok {
			out = append(out, Use{ID: img, Usage: u})
		}
	}
	sets := func(b PipelineBinding) {
		for _, idx := range sortedSets(b.Sets) {
			set, ok := t.DescriptorSet(b.Sets[idx])
			if !ok {
				continue
			}
			for _, d := range set.Referenced() {
				switch d.Type {
				case gpu.DescriptorUniformBuffer:
					out = append(out, Use{ID: d.Resource, Usage: UsageConstants})
				case gpu.DescriptorStorageBuffer:
					out = append(out, Use{ID: d.Resource, Usage: UsageReadWrite})
				case gpu.DescriptorSampledImage:
					view(d.View, UsageReadOnly)
				case gpu.DescriptorStorageImage:
					view(d.View, UsageReadWrite)
				}
			}
		}
	}
	attachments := func(fb resource.ID) {
		atts, err := t.Attachments(fb)
		if err != nil {
			return
		}
		for _, a := range atts {
			out = append(out, Use{ID: a.Image, Usage: UsageColorTarget})
		}
	}

	switch c := cmd.(type) {
	case *gpu.Draw:
		for _, idx := range sortedVertex(rs.VertexBuffers) {
			out = append(out, Use{ID: rs.VertexBuffers[idx].Buffer, Usage: UsageVertexBuffer})
		}
		sets(rs.Graphics)
		if rs.InRenderPass {
			attachments(rs.Framebuffer)
		}
	case *gpu.Dispatch:
		sets(rs.Compute)
	case *gpu.CopyBuffer:
		add(c.Src, UsageCopySrc)
		add(c.Dst, UsageCopyDst)
	case *gpu.CopyBufferToImage:
		add(c.Src, UsageCopySrc)
		add(c.Dst, UsageCopyDst)
	case *gpu.CopyImageToBuffer:
		add(c.Src, UsageCopySrc)
		add(c.Dst, UsageCopyDst)
	case *gpu.ClearColorImage:
		add(c.Image, UsageClear)
	case *gpu.FillBuffer:
		add(c.Buffer, UsageClear)
	case *gpu.UpdateBuffer:
		add(c.Buffer, UsageCopyDst)
	case *gpu.PipelineBarrier:
		for _, b := range c.Images {
			add(b.Image, UsageBarrier)
		}
	case *gpu.BeginRenderPass:
		attachments(resource.ID(c.Framebuffer))
	}
	return out
}

// LayoutOps returns the layout changes cmd makes. rs is the state before
// cmd.
func (t *Tracker) LayoutOps(rs *RenderState, cmd gpu.Command) []LayoutOp {
	var out []LayoutOp
	switch c := cmd.(type) {
	case *gpu.PipelineBarrier:
		for _, b := range c.Images {
			out = append(out, LayoutOp{Image: resource.ID(b.Image), Range: b.Range, Layout: b.NewLayout})
		}
	case *gpu.BeginRenderPass:
		atts, err := t.Attachments(resource.ID(c.Framebuffer))
		if err != nil {
			return nil
		}
		for _, a := range atts {
			out = append(out, LayoutOp{Image: a.Image, Range: a.Range, Layout: gpu.SubpassLayout})
		}
	case *gpu.EndRenderPass:
		if !rs.InRenderPass {
			return nil
		}
		rp, ok := t.RenderPassDesc(rs.RenderPass)
		atts, err := t.Attachments(rs.Framebuffer)
		if !ok || err != nil {
			return nil
		}
		for i, a := range atts {
			if i < len(rp.Attachments) && rp.Attachments[i].FinalLayout != gpu.LayoutUndefined {
				out = append(out, LayoutOp{Image: a.Image, Range: a.Range, Layout: rp.Attachments[i].FinalLayout})
			}
		}
	}
	return out
}

// CmdBuffer accumulates the effects of the commands recorded into one
// command buffer, to be applied when it is submitted.
type CmdBuffer struct {
	State *RenderState
	Ops   []LayoutOp
	Uses  []Use
}

// NewCmdBuffer returns the state of a freshly begun command buffer.
func NewCmdBuffer() *CmdBuffer { return &CmdBuffer{State: NewRenderState()} }

// Record adds the effects of cmd, in ID form.
func (t *Tracker) Record(cb *CmdBuffer, cmd gpu.Command) {
	cb.Uses = append(cb.Uses, t.Uses(cb.State, cmd)...)
	cb.Ops = append(cb.Ops, t.LayoutOps(cb.State, cmd)...)
	cb.State.Apply(cmd)
}
