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

package gpu

import (
	"fmt"

	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// CommandKind identifies a command type.
type CommandKind uint32

const (
	CmdKindDraw CommandKind = iota + 1
	CmdKindDispatch
	CmdKindPipelineBarrier
	CmdKindCopyBuffer
	CmdKindCopyBufferToImage
	CmdKindCopyImageToBuffer
	CmdKindClearColorImage
	CmdKindFillBuffer
	CmdKindUpdateBuffer
	CmdKindBeginRenderPass
	CmdKindEndRenderPass
	CmdKindBindPipeline
	CmdKindBindDescriptorSets
	CmdKindBindVertexBuffers
	CmdKindPushConstants
	CmdKindSetViewport
	CmdKindSetScissor
	CmdKindBeginDebugMarker
	CmdKindEndDebugMarker
	cmdKindCount
)

// Command is a command recorded into a command buffer.
type Command interface {
	Described
	Kind() CommandKind
}

var commandFactories = map[CommandKind]func() Command{
	CmdKindDraw:               func() Command { return &Draw{} },
	CmdKindDispatch:           func() Command { return &Dispatch{} },
	CmdKindPipelineBarrier:    func() Command { return &PipelineBarrier{} },
	CmdKindCopyBuffer:         func() Command { return &CopyBuffer{} },
	CmdKindCopyBufferToImage:  func() Command { return &CopyBufferToImage{} },
	CmdKindCopyImageToBuffer:  func() Command { return &CopyImageToBuffer{} },
	CmdKindClearColorImage:    func() Command { return &ClearColorImage{} },
	CmdKindFillBuffer:         func() Command { return &FillBuffer{} },
	CmdKindUpdateBuffer:       func() Command { return &UpdateBuffer{} },
	CmdKindBeginRenderPass:    func() Command { return &BeginRenderPass{} },
	CmdKindEndRenderPass:      func() Command { return &EndRenderPass{} },
	CmdKindBindPipeline:       func() Command { return &BindPipeline{} },
	CmdKindBindDescriptorSets: func() Command { return &BindDescriptorSets{} },
	CmdKindBindVertexBuffers:  func() Command { return &BindVertexBuffers{} },
	CmdKindPushConstants:      func() Command { return &PushConstants{} },
	CmdKindSetViewport:        func() Command { return &SetViewport{} },
	CmdKindSetScissor:         func() Command { return &SetScissor{} },
	CmdKindBeginDebugMarker:   func() Command { return &BeginDebugMarker{} },
	CmdKindEndDebugMarker:     func() Command { return &EndDebugMarker{} },
}

// CommandKinds returns every command kind.
func CommandKinds() []CommandKind {
	out := make([]CommandKind, 0, cmdKindCount-1)
	for k := CmdKindDraw; k < cmdKindCount; k++ {
		out = append(out, k)
	}
	return out
}

// NewCommand returns a zero command of kind k.
func NewCommand(k CommandKind) (Command, error) {
	f, ok := commandFactories[k]
	if !ok {
		return nil, errors.Errorf("Unknown command kind %d", k)
	}
	return f(), nil
}

func (k CommandKind) String() string {
	if f, ok := commandFactories[k]; ok {
		return fmt.Sprintf("%T", f())[len("*gpu."):]
	}
	return fmt.Sprintf("Command<%d>", uint32(k))
}

// IsAction returns true for commands that do work rather than set state.
func (k CommandKind) IsAction() bool {
	switch k {
	case CmdKindDraw, CmdKindDispatch, CmdKindCopyBuffer, CmdKindCopyBufferToImage,
		CmdKindCopyImageToBuffer, CmdKindClearColorImage, CmdKindFillBuffer, CmdKindUpdateBuffer,
		CmdKindBeginRenderPass, CmdKindEndRenderPass:
		return true
	}
	return false
}

// Clone returns a deep copy of c.
func Clone[T Described](c T, fresh T) (T, error) {
	data, err := serialise.Encode(c)
	if err != nil {
		return fresh, err
	}
	if err := serialise.Decode(data, fresh); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// CloneCommand returns a deep copy of c.
func CloneCommand(c Command) (Command, error) {
	fresh, err := NewCommand(c.Kind())
	if err != nil {
		return nil, err
	}
	return Clone(c, fresh)
}

// Remap replaces every handle d refers to using f. Null handles are left
// untouched.
func Remap(d Described, f func(Handle) (Handle, error)) error {
	for _, h := range d.Handles() {
		if *h == Null {
			continue
		}
		mapped, err := f(*h)
		if err != nil {
			return err
		}
		*h = mapped
	}
	return nil
}

// Draw draws non-indexed primitives.
type Draw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (*Draw) Kind() CommandKind   { return CmdKindDraw }
func (*Draw) Handles() []*Handle { return nil }
func (c *Draw) Serialise(s *serialise.Serialiser) {
	s.U32(&c.VertexCount)
	s.U32(&c.InstanceCount)
	s.U32(&c.FirstVertex)
	s.U32(&c.FirstInstance)
}

// Dispatch runs compute workgroups.
type Dispatch struct {
	X, Y, Z uint32
}

func (*Dispatch) Kind() CommandKind   { return CmdKindDispatch }
func (*Dispatch) Handles() []*Handle { return nil }
func (c *Dispatch) Serialise(s *serialise.Serialiser) {
	s.U32(&c.X)
	s.U32(&c.Y)
	s.U32(&c.Z)
}

// ImageBarrier transitions a range of an image between layouts.
type ImageBarrier struct {
	Image     Handle
	Range     SubresourceRange
	OldLayout ImageLayout
	NewLayout ImageLayout
}

func (b *ImageBarrier) Serialise(s *serialise.Serialiser) {
	handle(s, &b.Image)
	b.Range.Serialise(s)
	serialise.Enum(s, &b.OldLayout)
	serialise.Enum(s, &b.NewLayout)
}

// PipelineBarrier orders memory accesses and transitions image layouts.
// A Global barrier makes every prior write visible to every later read.
type PipelineBarrier struct {
	Global bool
	Images []ImageBarrier
}

func (*PipelineBarrier) Kind() CommandKind { return CmdKindPipelineBarrier }
func (c *PipelineBarrier) Handles() []*Handle {
	out := make([]*Handle, len(c.Images))
	for i := range c.Images {
		out[i] = &c.Images[i].Image
	}
	return out
}
func (c *PipelineBarrier) Serialise(s *serialise.Serialiser) {
	s.Bool(&c.Global)
	serialise.Objects(s, &c.Images)
}

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

func (r *BufferCopy) Serialise(s *serialise.Serialiser) {
	s.U64(&r.SrcOffset)
	s.U64(&r.DstOffset)
	s.U64(&r.Size)
}

// CopyBuffer copies regions between buffers.
type CopyBuffer struct {
	Src     Handle
	Dst     Handle
	Regions []BufferCopy
}

func (*CopyBuffer) Kind() CommandKind   { return CmdKindCopyBuffer }
func (c *CopyBuffer) Handles() []*Handle { return []*Handle{&c.Src, &c.Dst} }
func (c *CopyBuffer) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Src)
	handle(s, &c.Dst)
	serialise.Objects(s, &c.Regions)
}

// BufferImageCopy copies whole subresources of one mip level. The buffer
// data is tightly packed, layer after layer.
type BufferImageCopy struct {
	BufferOffset uint64
	Mip          uint32
	BaseLayer    uint32
	LayerCount   uint32
}

func (r *BufferImageCopy) Serialise(s *serialise.Serialiser) {
	s.U64(&r.BufferOffset)
	s.U32(&r.Mip)
	s.U32(&r.BaseLayer)
	s.U32(&r.LayerCount)
}

// CopyBufferToImage uploads buffer data to image subresources. The image
// must be in Layout.
type CopyBufferToImage struct {
	Src     Handle
	Dst     Handle
	Layout  ImageLayout
	Regions []BufferImageCopy
}

func (*CopyBufferToImage) Kind() CommandKind   { return CmdKindCopyBufferToImage }
func (c *CopyBufferToImage) Handles() []*Handle { return []*Handle{&c.Src, &c.Dst} }
func (c *CopyBufferToImage) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Src)
	handle(s, &c.Dst)
	serialise.Enum(s, &c.Layout)
	serialise.Objects(s, &c.Regions)
}

// CopyImageToBuffer reads image subresources into a buffer.
type CopyImageToBuffer struct {
	Src     Handle
	Layout  ImageLayout
	Dst     Handle
	Regions []BufferImageCopy
}

func (*CopyImageToBuffer) Kind() CommandKind   { return CmdKindCopyImageToBuffer }
func (c *CopyImageToBuffer) Handles() []*Handle { return []*Handle{&c.Src, &c.Dst} }
func (c *CopyImageToBuffer) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Src)
	serialise.Enum(s, &c.Layout)
	handle(s, &c.Dst)
	serialise.Objects(s, &c.Regions)
}

// ClearColorImage fills image ranges with a color.
type ClearColorImage struct {
	Image  Handle
	Layout ImageLayout
	Color  ClearColor
	Ranges []SubresourceRange
}

func (*ClearColorImage) Kind() CommandKind   { return CmdKindClearColorImage }
func (c *ClearColorImage) Handles() []*Handle { return []*Handle{&c.Image} }
func (c *ClearColorImage) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Image)
	serialise.Enum(s, &c.Layout)
	c.Color.serialise(s)
	serialise.Objects(s, &c.Ranges)
}

// FillBuffer repeats a 32 bit value over a buffer range.
type FillBuffer struct {
	Buffer Handle
	Offset uint64
	Size   uint64
	Data   uint32
}

func (*FillBuffer) Kind() CommandKind   { return CmdKindFillBuffer }
func (c *FillBuffer) Handles() []*Handle { return []*Handle{&c.Buffer} }
func (c *FillBuffer) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Buffer)
	s.U64(&c.Offset)
	s.U64(&c.Size)
	s.U32(&c.Data)
}

// UpdateBuffer writes inline data to a buffer.
type UpdateBuffer struct {
	Buffer Handle
	Offset uint64
	Data   []byte
}

func (*UpdateBuffer) Kind() CommandKind   { return CmdKindUpdateBuffer }
func (c *UpdateBuffer) Handles() []*Handle { return []*Handle{&c.Buffer} }
func (c *UpdateBuffer) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Buffer)
	s.U64(&c.Offset)
	s.Bytes(&c.Data)
}

// BeginRenderPass starts a render pass on a framebuffer. ClearValues holds
// one color per attachment.
type BeginRenderPass struct {
	RenderPass  Handle
	Framebuffer Handle
	Area        Rect
	ClearValues []ClearColor
}

func (*BeginRenderPass) Kind() CommandKind { return CmdKindBeginRenderPass }
func (c *BeginRenderPass) Handles() []*Handle {
	return []*Handle{&c.RenderPass, &c.Framebuffer}
}
func (c *BeginRenderPass) Serialise(s *serialise.Serialiser) {
	handle(s, &c.RenderPass)
	handle(s, &c.Framebuffer)
	c.Area.Serialise(s)
	serialise.Slice(s, &c.ClearValues, func(s *serialise.Serialiser, c *ClearColor) { c.serialise(s) })
}

// EndRenderPass ends the active render pass.
type EndRenderPass struct{}

func (*EndRenderPass) Kind() CommandKind                  { return CmdKindEndRenderPass }
func (*EndRenderPass) Handles() []*Handle                 { return nil }
func (*EndRenderPass) Serialise(s *serialise.Serialiser) {}

// BindPoint selects graphics or compute state.
type BindPoint uint32

const (
	BindGraphics BindPoint = iota
	BindCompute
)

// BindPipeline binds a pipeline.
type BindPipeline struct {
	BindPoint BindPoint
	Pipeline  Handle
}

func (*BindPipeline) Kind() CommandKind   { return CmdKindBindPipeline }
func (c *BindPipeline) Handles() []*Handle { return []*Handle{&c.Pipeline} }
func (c *BindPipeline) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &c.BindPoint)
	handle(s, &c.Pipeline)
}

// BindDescriptorSets binds descriptor sets starting at FirstSet.
type BindDescriptorSets struct {
	BindPoint BindPoint
	Layout    Handle
	FirstSet  uint32
	Sets      []Handle
}

func (*BindDescriptorSets) Kind() CommandKind { return CmdKindBindDescriptorSets }
func (c *BindDescriptorSets) Handles() []*Handle {
	out := []*Handle{&c.Layout}
	for i := range c.Sets {
		out = append(out, &c.Sets[i])
	}
	return out
}
func (c *BindDescriptorSets) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &c.BindPoint)
	handle(s, &c.Layout)
	s.U32(&c.FirstSet)
	handles(s, &c.Sets)
}

// BindVertexBuffers binds vertex buffers starting at FirstBinding.
type BindVertexBuffers struct {
	FirstBinding uint32
	Buffers      []Handle
	Offsets      []uint64
}

func (*BindVertexBuffers) Kind() CommandKind { return CmdKindBindVertexBuffers }
func (c *BindVertexBuffers) Handles() []*Handle {
	out := make([]*Handle, len(c.Buffers))
	for i := range c.Buffers {
		out[i] = &c.Buffers[i]
	}
	return out
}
func (c *BindVertexBuffers) Serialise(s *serialise.Serialiser) {
	s.U32(&c.FirstBinding)
	handles(s, &c.Buffers)
	serialise.Slice(s, &c.Offsets, func(s *serialise.Serialiser, o *uint64) { s.U64(o) })
}

// PushConstants updates push constant bytes.
type PushConstants struct {
	Layout Handle
	Offset uint32
	Data   []byte
}

func (*PushConstants) Kind() CommandKind   { return CmdKindPushConstants }
func (c *PushConstants) Handles() []*Handle { return []*Handle{&c.Layout} }
func (c *PushConstants) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Layout)
	s.U32(&c.Offset)
	s.Bytes(&c.Data)
}

// SetViewport sets the dynamic viewport.
type SetViewport struct {
	Viewport Viewport
}

func (*SetViewport) Kind() CommandKind                  { return CmdKindSetViewport }
func (*SetViewport) Handles() []*Handle                 { return nil }
func (c *SetViewport) Serialise(s *serialise.Serialiser) { c.Viewport.Serialise(s) }

// SetScissor sets the dynamic scissor rectangle.
type SetScissor struct {
	Scissor Rect
}

func (*SetScissor) Kind() CommandKind                  { return CmdKindSetScissor }
func (*SetScissor) Handles() []*Handle                 { return nil }
func (c *SetScissor) Serialise(s *serialise.Serialiser) { c.Scissor.Serialise(s) }

// BeginDebugMarker opens a named region.
type BeginDebugMarker struct {
	Name  string
	Color ClearColor
}

func (*BeginDebugMarker) Kind() CommandKind   { return CmdKindBeginDebugMarker }
func (*BeginDebugMarker) Handles() []*Handle { return nil }
func (c *BeginDebugMarker) Serialise(s *serialise.Serialiser) {
	s.String(&c.Name)
	c.Color.serialise(s)
}

// EndDebugMarker closes the innermost region.
type EndDebugMarker struct{}

func (*EndDebugMarker) Kind() CommandKind                  { return CmdKindEndDebugMarker }
func (*EndDebugMarker) Handles() []*Handle                 { return nil }
func (*EndDebugMarker) Serialise(s *serialise.Serialiser) {}
