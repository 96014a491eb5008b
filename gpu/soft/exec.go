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
	"encoding/binary"
	"fmt"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/pkg/errors"
)

// discardFill is written over image contents discarded by a transition from
// the undefined layout.
const discardFill = 0xCD

type vertexBinding struct {
	buffer gpu.Handle
	offset uint64
}

// execState is the state of one command buffer while it executes.
type execState struct {
	rp        *renderPass
	fb        *framebuffer
	area      gpu.Rect
	graphics  *gpu.GraphicsPipelineDesc
	compute   *gpu.ComputePipelineDesc
	sets      [2]map[uint32]gpu.Handle
	vertex    map[uint32]vertexBinding
	push      []byte
	viewport  *gpu.Viewport
	scissor   *gpu.Rect
}

func newExecState() *execState {
	return &execState{
		sets:   [2]map[uint32]gpu.Handle{{}, {}},
		vertex: map[uint32]vertexBinding{},
	}
}

func (d *driver) Submit(ctx context.Context, q gpu.Handle, submits []gpu.SubmitInfo, f gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q != d.queue {
		return errors.Errorf("Unknown queue 0x%x", uint64(q))
	}
	for _, s := range submits {
		for _, w := range s.Wait {
			sem, err := get[*semaphore](d, w)
			if err != nil {
				return err
			}
			if !sem.signalled {
				return fault.SubmitError{Queue: fmt.Sprint(q), Result: "wait on a semaphore that is never signalled"}
			}
			sem.signalled = false
		}
		for _, h := range s.CommandBuffers {
			cb, err := get[*commandBuffer](d, h)
			if err != nil {
				return err
			}
			if cb.state != cbExecutable {
				return fault.SubmitError{Queue: fmt.Sprint(q), Result: fmt.Sprintf("command buffer 0x%x is not executable", uint64(h))}
			}
			st := newExecState()
			for i, cmd := range cb.cmds {
				if err := d.execute(st, cmd); err != nil {
					return errors.WithStack(fault.SubmitError{
						Queue:  fmt.Sprint(q),
						Result: fmt.Sprintf("command buffer 0x%x command %d (%v): %v", uint64(h), i, cmd.Kind(), err),
					})
				}
			}
		}
		for _, h := range s.Signal {
			sem, err := get[*semaphore](d, h)
			if err != nil {
				return err
			}
			sem.signalled = true
		}
		d.submissions++
	}
	return d.signalFence(f)
}

func (d *driver) signalFence(h gpu.Handle) error {
	if h == gpu.Null {
		return nil
	}
	f, err := get[*fence](d, h)
	if err != nil {
		return err
	}
	f.signalled = true
	return nil
}

// expect checks the current layout of every subresource of r against one of
// the allowed layouts.
func (d *driver) expect(img *image, r gpu.SubresourceRange, allowed ...gpu.ImageLayout) error {
	if !d.desc.Validation {
		return nil
	}
	r = r.Resolve(img.desc.MipLevels, img.desc.ArrayLayers)
	for m := r.BaseMip; m < r.BaseMip+r.MipCount; m++ {
		for l := r.BaseLayer; l < r.BaseLayer+r.LayerCount; l++ {
			got := img.layouts[img.layoutIndex(m, l)]
			ok := false
			for _, a := range allowed {
				ok = ok || got == a
			}
			if !ok {
				return errors.Errorf("Subresource mip %d layer %d is in %v, expected %v", m, l, got, allowed)
			}
		}
	}
	return nil
}

// transition moves r to layout to. Moving from the undefined layout discards
// the contents.
func (d *driver) transition(img *image, r gpu.SubresourceRange, from, to gpu.ImageLayout) error {
	r = r.Resolve(img.desc.MipLevels, img.desc.ArrayLayers)
	if r.BaseMip+r.MipCount > img.desc.MipLevels || r.BaseLayer+r.LayerCount > img.desc.ArrayLayers {
		return errors.Errorf("Barrier range %v outside image", r)
	}
	if from != gpu.LayoutUndefined {
		if err := d.expect(img, r, from); err != nil {
			return err
		}
	}
	for m := r.BaseMip; m < r.BaseMip+r.MipCount; m++ {
		for l := r.BaseLayer; l < r.BaseLayer+r.LayerCount; l++ {
			if from == gpu.LayoutUndefined {
				if err := d.fill(&img.storage, img.desc.SubresourceOffset(m, l), img.desc.SubresourceSize(m), discardFill); err != nil {
					return err
				}
			}
			img.layouts[img.layoutIndex(m, l)] = to
		}
	}
	return nil
}

func (d *driver) execute(st *execState, cmd gpu.Command) error {
	switch c := cmd.(type) {
	case *gpu.PipelineBarrier:
		for _, b := range c.Images {
			img, err := get[*image](d, b.Image)
			if err != nil {
				return err
			}
			if err := d.transition(img, b.Range, b.OldLayout, b.NewLayout); err != nil {
				return err
			}
		}
	case *gpu.CopyBuffer:
		src, err := get[*buffer](d, c.Src)
		if err != nil {
			return err
		}
		dst, err := get[*buffer](d, c.Dst)
		if err != nil {
			return err
		}
		for _, r := range c.Regions {
			data, err := d.read(&src.storage, r.SrcOffset, r.Size)
			if err != nil {
				return err
			}
			if err := d.write(&dst.storage, r.DstOffset, data); err != nil {
				return err
			}
		}
	case *gpu.CopyBufferToImage:
		src, err := get[*buffer](d, c.Src)
		if err != nil {
			return err
		}
		dst, err := get[*image](d, c.Dst)
		if err != nil {
			return err
		}
		for _, r := range c.Regions {
			rng := gpu.SubresourceRange{BaseMip: r.Mip, MipCount: 1, BaseLayer: r.BaseLayer, LayerCount: r.LayerCount}
			if err := d.expect(dst, rng, c.Layout); err != nil {
				return err
			}
			if c.Layout != gpu.LayoutTransferDst && c.Layout != gpu.LayoutGeneral {
				return errors.Errorf("Copy destination in %v", c.Layout)
			}
			size := dst.desc.SubresourceSize(r.Mip)
			for l := uint32(0); l < r.LayerCount; l++ {
				data, err := d.read(&src.storage, r.BufferOffset+uint64(l)*size, size)
				if err != nil {
					return err
				}
				if err := d.write(&dst.storage, dst.desc.SubresourceOffset(r.Mip, r.BaseLayer+l), data); err != nil {
					return err
				}
			}
		}
	case *gpu.CopyImageToBuffer:
		src, err := get[*image](d, c.Src)
		if err != nil {
			return err
		}
		dst, err := get[*buffer](d, c.Dst)
		if err != nil {
			return err
		}
		for _, r := range c.Regions {
			rng := gpu.SubresourceRange{BaseMip: r.Mip, MipCount: 1, BaseLayer: r.BaseLayer, LayerCount: r.LayerCount}
			if err := d.expect(src, rng, c.Layout); err != nil {
				return err
			}
			if c.Layout != gpu.LayoutTransferSrc && c.Layout != gpu.LayoutGeneral {
				return errors.Errorf("Copy source in %v", c.Layout)
			}
			size := src.desc.SubresourceSize(r.Mip)
			for l := uint32(0); l < r.LayerCount; l++ {
				data, err := d.read(&src.storage, src.desc.SubresourceOffset(r.Mip, r.BaseLayer+l), size)
				if err != nil {
					return err
				}
				if err := d.write(&dst.storage, r.BufferOffset+uint64(l)*size, data); err != nil {
					return err
				}
			}
		}
	case *gpu.ClearColorImage:
		img, err := get[*image](d, c.Image)
		if err != nil {
			return err
		}
		if c.Layout != gpu.LayoutTransferDst && c.Layout != gpu.LayoutGeneral {
			return errors.Errorf("Clear destination in %v", c.Layout)
		}
		for _, r := range c.Ranges {
			if err := d.expect(img, r, c.Layout); err != nil {
				return err
			}
			r = r.Resolve(img.desc.MipLevels, img.desc.ArrayLayers)
			for m := r.BaseMip; m < r.BaseMip+r.MipCount; m++ {
				for l := r.BaseLayer; l < r.BaseLayer+r.LayerCount; l++ {
					area := gpu.Rect{Width: img.desc.MipWidth(m), Height: img.desc.MipHeight(m)}
					if err := d.clearRect(img, m, l, area, c.Color); err != nil {
						return err
					}
				}
			}
		}
	case *gpu.FillBuffer:
		buf, err := get[*buffer](d, c.Buffer)
		if err != nil {
			return err
		}
		size := c.Size
		if size == ^uint64(0) {
			size = (buf.desc.Size - c.Offset) &^ 3
		}
		data := make([]byte, size)
		for i := uint64(0); i+4 <= size; i += 4 {
			binary.LittleEndian.PutUint32(data[i:], c.Data)
		}
		return d.write(&buf.storage, c.Offset, data)
	case *gpu.UpdateBuffer:
		buf, err := get[*buffer](d, c.Buffer)
		if err != nil {
			return err
		}
		return d.write(&buf.storage, c.Offset, c.Data)
	case *gpu.BeginRenderPass:
		return d.beginRenderPass(st, c)
	case *gpu.EndRenderPass:
		return d.endRenderPass(st)
	case *gpu.BindPipeline:
		p, err := get[*pipeline](d, c.Pipeline)
		if err != nil {
			return err
		}
		switch c.BindPoint {
		case gpu.BindGraphics:
			if p.graphics == nil {
				return errors.New("Binding a compute pipeline to the graphics bind point")
			}
			st.graphics = p.graphics
		case gpu.BindCompute:
			if p.compute == nil {
				return errors.New("Binding a graphics pipeline to the compute bind point")
			}
			st.compute = p.compute
		default:
			return errors.Errorf("Unknown bind point %d", c.BindPoint)
		}
	case *gpu.BindDescriptorSets:
		if int(c.BindPoint) >= len(st.sets) {
			return errors.Errorf("Unknown bind point %d", c.BindPoint)
		}
		for i, s := range c.Sets {
			st.sets[c.BindPoint][c.FirstSet+uint32(i)] = s
		}
	case *gpu.BindVertexBuffers:
		if len(c.Offsets) != len(c.Buffers) {
			return errors.New("Vertex buffer and offset counts differ")
		}
		for i, b := range c.Buffers {
			st.vertex[c.FirstBinding+uint32(i)] = vertexBinding{buffer: b, offset: c.Offsets[i]}
		}
	case *gpu.PushConstants:
		end := int(c.Offset) + len(c.Data)
		if len(st.push) < end {
			grown := make([]byte, end)
			copy(grown, st.push)
			st.push = grown
		}
		copy(st.push[c.Offset:], c.Data)
	case *gpu.SetViewport:
		vp := c.Viewport
		st.viewport = &vp
	case *gpu.SetScissor:
		sc := c.Scissor
		st.scissor = &sc
	case *gpu.Draw:
		return d.draw(st, c)
	case *gpu.Dispatch:
		return d.dispatch(st, c)
	case *gpu.BeginDebugMarker, *gpu.EndDebugMarker:
	default:
		return errors.Errorf("Unsupported command %T", cmd)
	}
	return nil
}

// clearRect fills area of one subresource with color.
func (d *driver) clearRect(img *image, mip, layer uint32, area gpu.Rect, color gpu.ClearColor) error {
	texel := make([]byte, img.desc.Format.Size())
	gpu.EncodeTexel(img.desc.Format, color, texel)
	w, h := img.desc.MipWidth(mip), img.desc.MipHeight(mip)
	x0, y0, x1, y1 := clip(area, w, h)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}
	row := make([]byte, 0, int(x1-x0)*len(texel))
	for x := x0; x < x1; x++ {
		row = append(row, texel...)
	}
	base := img.desc.SubresourceOffset(mip, layer)
	for y := y0; y < y1; y++ {
		off := base + (uint64(y)*uint64(w)+uint64(x0))*uint64(len(texel))
		if err := d.write(&img.storage, off, row); err != nil {
			return err
		}
	}
	return nil
}

// clip returns the pixel bounds of r clamped to a w*h surface.
func clip(r gpu.Rect, w, h uint32) (x0, y0, x1, y1 int32) {
	x0, y0 = r.X, r.Y
	x1, y1 = r.X+int32(r.Width), r.Y+int32(r.Height)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > int32(w) {
		x1 = int32(w)
	}
	if y1 > int32(h) {
		y1 = int32(h)
	}
	return
}

// attachment is a render target resolved through its view.
type attachment struct {
	img  *image
	view gpu.ImageViewDesc
}

func (d *driver) attachments(fb *framebuffer) ([]attachment, error) {
	out := make([]attachment, len(fb.desc.Attachments))
	for i, h := range fb.desc.Attachments {
		v, err := get[*imageView](d, h)
		if err != nil {
			return nil, err
		}
		img, err := get[*image](d, v.desc.Image)
		if err != nil {
			return nil, err
		}
		out[i] = attachment{img: img, view: v.desc}
	}
	return out, nil
}

func (d *driver) beginRenderPass(st *execState, c *gpu.BeginRenderPass) error {
	if st.rp != nil {
		return errors.New("Render pass begun inside a render pass")
	}
	rp, err := get[*renderPass](d, c.RenderPass)
	if err != nil {
		return err
	}
	fb, err := get[*framebuffer](d, c.Framebuffer)
	if err != nil {
		return err
	}
	if len(fb.desc.Attachments) != len(rp.desc.Attachments) {
		return errors.New("Framebuffer is not compatible with the render pass")
	}
	atts, err := d.attachments(fb)
	if err != nil {
		return err
	}
	for i, a := range atts {
		desc := rp.desc.Attachments[i]
		if err := d.transition(a.img, a.view.Range, desc.InitialLayout, gpu.SubpassLayout); err != nil {
			return errors.Wrapf(err, "Attachment %d", i)
		}
		if desc.LoadOp == gpu.LoadOpClear {
			if i >= len(c.ClearValues) {
				return errors.Errorf("No clear value for attachment %d", i)
			}
			r := a.view.Range
			for m := r.BaseMip; m < r.BaseMip+r.MipCount; m++ {
				for l := r.BaseLayer; l < r.BaseLayer+r.LayerCount; l++ {
					if err := d.clearRect(a.img, m, l, c.Area, c.ClearValues[i]); err != nil {
						return err
					}
				}
			}
		}
	}
	st.rp, st.fb, st.area = rp, fb, c.Area
	return nil
}

func (d *driver) endRenderPass(st *execState) error {
	if st.rp == nil {
		return errors.New("EndRenderPass outside a render pass")
	}
	atts, err := d.attachments(st.fb)
	if err != nil {
		return err
	}
	for i, a := range atts {
		final := st.rp.desc.Attachments[i].FinalLayout
		if final == gpu.LayoutUndefined {
			continue
		}
		if err := d.transition(a.img, a.view.Range, gpu.SubpassLayout, final); err != nil {
			return errors.Wrapf(err, "Attachment %d", i)
		}
	}
	st.rp, st.fb = nil, nil
	return nil
}

// binding resolves a descriptor of a bound set.
func (d *driver) binding(st *execState, bp gpu.BindPoint, set, binding uint32) (descriptor, error) {
	h, ok := st.sets[bp][set]
	if !ok {
		return descriptor{}, errors.Errorf("No descriptor set bound at %d", set)
	}
	s, err := get[*descriptorSet](d, h)
	if err != nil {
		return descriptor{}, err
	}
	slots := s.bindings[binding]
	if len(slots) == 0 || (slots[0].buf.Buffer == gpu.Null && slots[0].img.View == gpu.Null) {
		return descriptor{}, errors.Errorf("Set %d binding %d was never written", set, binding)
	}
	return slots[0], nil
}

// bufferRange resolves a buffer descriptor to its storage and byte range.
func (d *driver) bufferRange(desc descriptor) (*storage, uint64, uint64, error) {
	buf, err := get[*buffer](d, desc.buf.Buffer)
	if err != nil {
		return nil, 0, 0, err
	}
	size := desc.buf.Range
	if size == ^uint64(0) || desc.buf.Offset+size > buf.desc.Size {
		size = buf.desc.Size - desc.buf.Offset
	}
	return &buf.storage, desc.buf.Offset, size, nil
}
