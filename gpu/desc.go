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
	"github.com/baldurk/renderdoc-sub014/serialise"
)

// Described is implemented by every object description and command.
type Described interface {
	serialise.Serialisable
	// Handles returns a pointer to every handle the value refers to.
	Handles() []*Handle
}

// MemoryDesc describes a device memory allocation.
type MemoryDesc struct {
	Size        uint64
	HostVisible bool
}

func (d *MemoryDesc) Serialise(s *serialise.Serialiser) {
	s.U64(&d.Size)
	s.Bool(&d.HostVisible)
}

func (d *MemoryDesc) Handles() []*Handle { return nil }

// BufferDesc describes a buffer.
type BufferDesc struct {
	Size   uint64
	Usage  Usage
	Sparse bool
}

func (d *BufferDesc) Serialise(s *serialise.Serialiser) {
	s.U64(&d.Size)
	serialise.Enum(s, &d.Usage)
	s.Bool(&d.Sparse)
}

func (d *BufferDesc) Handles() []*Handle { return nil }

// ImageDesc describes a 2D image with mips and array layers.
// Subresources are stored mip-major: every layer of mip 0, then every layer
// of mip 1 and so on.
type ImageDesc struct {
	Format      Format
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	Usage       Usage
	Sparse      bool
}

func (d *ImageDesc) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &d.Format)
	s.U32(&d.Width)
	s.U32(&d.Height)
	s.U32(&d.MipLevels)
	s.U32(&d.ArrayLayers)
	serialise.Enum(s, &d.Usage)
	s.Bool(&d.Sparse)
}

func (d *ImageDesc) Handles() []*Handle { return nil }

func mipDim(v, mip uint32) uint32 {
	v >>= mip
	if v == 0 {
		return 1
	}
	return v
}

// MipWidth returns the width of mip level m.
func (d ImageDesc) MipWidth(m uint32) uint32 { return mipDim(d.Width, m) }

// MipHeight returns the height of mip level m.
func (d ImageDesc) MipHeight(m uint32) uint32 { return mipDim(d.Height, m) }

// SubresourceSize returns the byte size of one layer of mip level m.
func (d ImageDesc) SubresourceSize(m uint32) uint64 {
	return uint64(d.MipWidth(m)) * uint64(d.MipHeight(m)) * uint64(d.Format.Size())
}

// SubresourceOffset returns the byte offset of (mip, layer) in the image's
// storage.
func (d ImageDesc) SubresourceOffset(mip, layer uint32) uint64 {
	offset := uint64(0)
	for m := uint32(0); m < mip; m++ {
		offset += d.SubresourceSize(m) * uint64(d.ArrayLayers)
	}
	return offset + d.SubresourceSize(mip)*uint64(layer)
}

// Size returns the byte size of the whole image.
func (d ImageDesc) Size() uint64 { return d.SubresourceOffset(d.MipLevels, 0) }

// ImageViewDesc describes a view onto a range of an image.
type ImageViewDesc struct {
	Image  Handle
	Format Format
	Range  SubresourceRange
}

func (d *ImageViewDesc) Serialise(s *serialise.Serialiser) {
	handle(s, &d.Image)
	serialise.Enum(s, &d.Format)
	d.Range.Serialise(s)
}

func (d *ImageViewDesc) Handles() []*Handle { return []*Handle{&d.Image} }

// ShaderStage is a pipeline stage a shader runs in.
type ShaderStage uint32

const (
	StageVertex ShaderStage = iota + 1
	StageFragment
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "Vertex"
	case StageFragment:
		return "Fragment"
	case StageCompute:
		return "Compute"
	}
	return "Stage<?>"
}

// DescriptorType is the kind of resource a descriptor binding holds.
type DescriptorType uint32

const (
	DescriptorUniformBuffer DescriptorType = iota + 1
	DescriptorStorageBuffer
	DescriptorSampledImage
	DescriptorStorageImage
)

// IsBuffer returns true for buffer descriptor types.
func (t DescriptorType) IsBuffer() bool {
	return t == DescriptorUniformBuffer || t == DescriptorStorageBuffer
}

// Writable returns true if shaders may write through the descriptor.
func (t DescriptorType) Writable() bool {
	return t == DescriptorStorageBuffer || t == DescriptorStorageImage
}

// ReflectedBinding is a resource binding a shader declares.
type ReflectedBinding struct {
	Set     uint32
	Binding uint32
	Type    DescriptorType
	Name    string
}

func (b *ReflectedBinding) Serialise(s *serialise.Serialiser) {
	s.U32(&b.Set)
	s.U32(&b.Binding)
	serialise.Enum(s, &b.Type)
	s.String(&b.Name)
}

// ShaderReflection is the opaque reflection data supplied with a shader.
type ShaderReflection struct {
	Bindings         []ReflectedBinding
	PushConstantSize uint32
	// LocalSize is the compute workgroup width.
	LocalSize uint32
}

func (r *ShaderReflection) Serialise(s *serialise.Serialiser) {
	serialise.Objects(s, &r.Bindings)
	s.U32(&r.PushConstantSize)
	s.U32(&r.LocalSize)
}

// ShaderDesc describes a shader module.
type ShaderDesc struct {
	Stage      ShaderStage
	EntryPoint string
	Code       []byte
	Reflection ShaderReflection
}

func (d *ShaderDesc) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &d.Stage)
	s.String(&d.EntryPoint)
	s.Bytes(&d.Code)
	d.Reflection.Serialise(s)
}

func (d *ShaderDesc) Handles() []*Handle { return nil }

// DescriptorLayoutBinding is one binding of a descriptor set layout.
type DescriptorLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
}

func (b *DescriptorLayoutBinding) Serialise(s *serialise.Serialiser) {
	s.U32(&b.Binding)
	serialise.Enum(s, &b.Type)
	s.U32(&b.Count)
}

// DescriptorSetLayoutDesc describes the bindings of a descriptor set.
type DescriptorSetLayoutDesc struct {
	Bindings []DescriptorLayoutBinding
}

func (d *DescriptorSetLayoutDesc) Serialise(s *serialise.Serialiser) {
	serialise.Objects(s, &d.Bindings)
}

func (d *DescriptorSetLayoutDesc) Handles() []*Handle { return nil }

// Binding returns the layout binding with the given number.
func (d *DescriptorSetLayoutDesc) Binding(n uint32) (DescriptorLayoutBinding, bool) {
	for _, b := range d.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return DescriptorLayoutBinding{}, false
}

// PipelineLayoutDesc describes the sets and push constants of a pipeline.
type PipelineLayoutDesc struct {
	SetLayouts       []Handle
	PushConstantSize uint32
}

func (d *PipelineLayoutDesc) Serialise(s *serialise.Serialiser) {
	handles(s, &d.SetLayouts)
	s.U32(&d.PushConstantSize)
}

func (d *PipelineLayoutDesc) Handles() []*Handle {
	out := make([]*Handle, len(d.SetLayouts))
	for i := range d.SetLayouts {
		out[i] = &d.SetLayouts[i]
	}
	return out
}

// LoadOp is what happens to an attachment when a render pass begins.
type LoadOp uint32

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// StoreOp is what happens to an attachment when a render pass ends.
type StoreOp uint32

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// AttachmentDesc describes one color attachment of a render pass.
type AttachmentDesc struct {
	Format        Format
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

func (a *AttachmentDesc) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &a.Format)
	serialise.Enum(s, &a.LoadOp)
	serialise.Enum(s, &a.StoreOp)
	serialise.Enum(s, &a.InitialLayout)
	serialise.Enum(s, &a.FinalLayout)
}

// RenderPassDesc describes a single subpass render pass. Every attachment is
// a color attachment used in LayoutColorAttachment during the subpass.
type RenderPassDesc struct {
	Attachments []AttachmentDesc
}

func (d *RenderPassDesc) Serialise(s *serialise.Serialiser) {
	serialise.Objects(s, &d.Attachments)
}

func (d *RenderPassDesc) Handles() []*Handle { return nil }

// SubpassLayout is the layout every attachment is in inside the subpass.
const SubpassLayout = LayoutColorAttachment

// LoadVariant returns a render pass compatible with d that preserves
// attachment contents when it begins. Replay uses it to re-open a pass part
// way through.
func (d RenderPassDesc) LoadVariant() RenderPassDesc {
	out := RenderPassDesc{Attachments: make([]AttachmentDesc, len(d.Attachments))}
	for i, a := range d.Attachments {
		a.LoadOp = LoadOpLoad
		a.InitialLayout = SubpassLayout
		out.Attachments[i] = a
	}
	return out
}

// FramebufferDesc binds image views to the attachments of a render pass.
type FramebufferDesc struct {
	RenderPass  Handle
	Attachments []Handle
	Width       uint32
	Height      uint32
}

func (d *FramebufferDesc) Serialise(s *serialise.Serialiser) {
	handle(s, &d.RenderPass)
	handles(s, &d.Attachments)
	s.U32(&d.Width)
	s.U32(&d.Height)
}

func (d *FramebufferDesc) Handles() []*Handle {
	out := []*Handle{&d.RenderPass}
	for i := range d.Attachments {
		out = append(out, &d.Attachments[i])
	}
	return out
}

// Topology is the primitive type a graphics pipeline assembles.
type Topology uint32

const (
	TopologyTriangleList Topology = iota
	TopologyLineList
)

// GraphicsPipelineDesc describes a graphics pipeline. Vertices are read from
// vertex buffer binding 0 as two float32 positions in normalized device
// coordinates, VertexStride bytes apart.
type GraphicsPipelineDesc struct {
	Layout         Handle
	RenderPass     Handle
	VertexShader   Handle
	FragmentShader Handle
	VertexStride   uint32
	Topology       Topology
	Wireframe      bool
}

func (d *GraphicsPipelineDesc) Serialise(s *serialise.Serialiser) {
	handle(s, &d.Layout)
	handle(s, &d.RenderPass)
	handle(s, &d.VertexShader)
	handle(s, &d.FragmentShader)
	s.U32(&d.VertexStride)
	serialise.Enum(s, &d.Topology)
	s.Bool(&d.Wireframe)
}

func (d *GraphicsPipelineDesc) Handles() []*Handle {
	return []*Handle{&d.Layout, &d.RenderPass, &d.VertexShader, &d.FragmentShader}
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Layout Handle
	Shader Handle
}

func (d *ComputePipelineDesc) Serialise(s *serialise.Serialiser) {
	handle(s, &d.Layout)
	handle(s, &d.Shader)
}

func (d *ComputePipelineDesc) Handles() []*Handle { return []*Handle{&d.Layout, &d.Shader} }

// DescriptorPoolDesc describes a descriptor pool.
type DescriptorPoolDesc struct {
	MaxSets uint32
}

func (d *DescriptorPoolDesc) Serialise(s *serialise.Serialiser) { s.U32(&d.MaxSets) }

func (d *DescriptorPoolDesc) Handles() []*Handle { return nil }

// BufferInfo is a buffer range bound to a descriptor.
type BufferInfo struct {
	Buffer Handle
	Offset uint64
	Range  uint64
}

func (b *BufferInfo) Serialise(s *serialise.Serialiser) {
	handle(s, &b.Buffer)
	s.U64(&b.Offset)
	s.U64(&b.Range)
}

// ImageInfo is an image view bound to a descriptor.
type ImageInfo struct {
	View   Handle
	Layout ImageLayout
}

func (i *ImageInfo) Serialise(s *serialise.Serialiser) {
	handle(s, &i.View)
	serialise.Enum(s, &i.Layout)
}

// DescriptorWrite updates consecutive array elements of one binding.
type DescriptorWrite struct {
	Set          Handle
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffers      []BufferInfo
	Images       []ImageInfo
}

func (w *DescriptorWrite) Serialise(s *serialise.Serialiser) {
	handle(s, &w.Set)
	s.U32(&w.Binding)
	s.U32(&w.ArrayElement)
	serialise.Enum(s, &w.Type)
	serialise.Objects(s, &w.Buffers)
	serialise.Objects(s, &w.Images)
}

func (w *DescriptorWrite) Handles() []*Handle {
	out := []*Handle{&w.Set}
	for i := range w.Buffers {
		out = append(out, &w.Buffers[i].Buffer)
	}
	for i := range w.Images {
		out = append(out, &w.Images[i].View)
	}
	return out
}

// DescriptorCopy copies descriptors between sets.
type DescriptorCopy struct {
	Src        Handle
	SrcBinding uint32
	SrcElement uint32
	Dst        Handle
	DstBinding uint32
	DstElement uint32
	Count      uint32
}

func (c *DescriptorCopy) Serialise(s *serialise.Serialiser) {
	handle(s, &c.Src)
	s.U32(&c.SrcBinding)
	s.U32(&c.SrcElement)
	handle(s, &c.Dst)
	s.U32(&c.DstBinding)
	s.U32(&c.DstElement)
	s.U32(&c.Count)
}

func (c *DescriptorCopy) Handles() []*Handle { return []*Handle{&c.Src, &c.Dst} }

// SubmitInfo is one batch of a queue submission.
type SubmitInfo struct {
	Wait           []Handle
	CommandBuffers []Handle
	Signal         []Handle
}

func (i *SubmitInfo) Serialise(s *serialise.Serialiser) {
	handles(s, &i.Wait)
	handles(s, &i.CommandBuffers)
	handles(s, &i.Signal)
}

func (i *SubmitInfo) Handles() []*Handle {
	var out []*Handle
	for _, l := range [][]Handle{i.Wait, i.CommandBuffers, i.Signal} {
		for j := range l {
			out = append(out, &l[j])
		}
	}
	return out
}

// SparseMemoryBind binds Size bytes of a sparse resource starting at
// ResourceOffset to memory. A null Memory leaves the range unbound.
type SparseMemoryBind struct {
	ResourceOffset uint64
	Size           uint64
	Memory         Handle
	MemoryOffset   uint64
}

func (b *SparseMemoryBind) Serialise(s *serialise.Serialiser) {
	s.U64(&b.ResourceOffset)
	s.U64(&b.Size)
	handle(s, &b.Memory)
	s.U64(&b.MemoryOffset)
}

// SparseBindInfo is the complete page list of one sparse resource. Binding
// replaces the resource's whole table: pages not listed become unbound.
type SparseBindInfo struct {
	Resource Handle
	Binds    []SparseMemoryBind
}

func (i *SparseBindInfo) Serialise(s *serialise.Serialiser) {
	handle(s, &i.Resource)
	serialise.Objects(s, &i.Binds)
}

func (i *SparseBindInfo) Handles() []*Handle {
	out := []*Handle{&i.Resource}
	for j := range i.Binds {
		out = append(out, &i.Binds[j].Memory)
	}
	return out
}
