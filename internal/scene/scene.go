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

// Package scene builds the small GPU workloads used by tests and by the
// rdcap capture verb. Every function works against any gpu.Driver, so the
// same workload runs on a bare device or through a capturing context.
package scene

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/pkg/errors"
)

// Target is the size of the triangle render target.
const Target = 4

var (
	// Red is the colour the triangle is drawn with.
	Red = []byte{255, 0, 0, 255}
	// Blue is the clear colour of the triangle's render pass.
	Blue = []byte{0, 0, 255, 255}
)

// Floats packs v as little endian float32 values.
func Floats(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Pixel returns the RGBA8 texel at x, y of a tightly packed image of the
// given width.
func Pixel(data []byte, width, x, y int) []byte {
	o := (y*width + x) * 4
	return data[o : o+4]
}

// Covered returns true if the triangle covers the Target sized pixel x, y.
func Covered(x, y int) bool { return x+y <= Target-1 }

// HostBuffer creates a buffer bound to host visible memory of the same size.
func HostBuffer(ctx context.Context, drv gpu.Driver, size uint64) (buf, mem gpu.Handle, err error) {
	if mem, err = drv.CreateMemory(ctx, gpu.MemoryDesc{Size: size, HostVisible: true}); err != nil {
		return gpu.Null, gpu.Null, err
	}
	usage := gpu.UsageTransferSrc | gpu.UsageTransferDst | gpu.UsageStorage | gpu.UsageVertex
	if buf, err = drv.CreateBuffer(ctx, gpu.BufferDesc{Size: size, Usage: usage}); err != nil {
		return gpu.Null, gpu.Null, err
	}
	return buf, mem, drv.BindBufferMemory(ctx, buf, mem, 0)
}

// Image creates an image with its own device memory.
func Image(ctx context.Context, drv gpu.Driver, desc gpu.ImageDesc) (img, mem gpu.Handle, err error) {
	if img, err = drv.CreateImage(ctx, desc); err != nil {
		return gpu.Null, gpu.Null, err
	}
	if mem, err = drv.CreateMemory(ctx, gpu.MemoryDesc{Size: desc.Size()}); err != nil {
		return gpu.Null, gpu.Null, err
	}
	return img, mem, drv.BindImageMemory(ctx, img, mem, 0)
}

// Commands is a command pool with a single command buffer.
type Commands struct {
	Pool gpu.Handle
	CB   gpu.Handle
}

// NewCommands allocates a command pool and its command buffer.
func NewCommands(ctx context.Context, drv gpu.Driver) (Commands, error) {
	pool, err := drv.CreateCommandPool(ctx)
	if err != nil {
		return Commands{}, err
	}
	cb, err := drv.AllocateCommandBuffer(ctx, pool)
	if err != nil {
		return Commands{}, err
	}
	return Commands{Pool: pool, CB: cb}, nil
}

// Record begins the command buffer, records cmds and ends it.
func (c Commands) Record(ctx context.Context, drv gpu.Driver, cmds ...gpu.Command) error {
	if err := drv.BeginCommandBuffer(ctx, c.CB); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := drv.Record(ctx, c.CB, cmd); err != nil {
			return errors.Wrapf(err, "Recording %v", cmd.Kind())
		}
	}
	return drv.EndCommandBuffer(ctx, c.CB)
}

// Submit submits the command buffer to the device queue and waits for it.
func (c Commands) Submit(ctx context.Context, drv gpu.Driver) error {
	q := drv.Queue()
	if err := drv.Submit(ctx, q, []gpu.SubmitInfo{{CommandBuffers: []gpu.Handle{c.CB}}}, gpu.Null); err != nil {
		return err
	}
	return drv.QueueWaitIdle(ctx, q)
}

// Triangle is a Target x Target RGBA8 render target with the objects that
// draw a red triangle over a blue clear.
type Triangle struct {
	Desc        gpu.ImageDesc
	Image       gpu.Handle
	View        gpu.Handle
	RenderPass  gpu.Handle
	Framebuffer gpu.Handle
	Layout      gpu.Handle
	Pipeline    gpu.Handle
	Vertices    gpu.Handle
	VertexMem   gpu.Handle
	Commands
}

// NewTriangle creates the triangle objects. The vertex data is written
// immediately.
func NewTriangle(ctx context.Context, drv gpu.Driver, wireframe bool) (*Triangle, error) {
	t := &Triangle{Desc: gpu.ImageDesc{
		Format: gpu.FormatRGBA8Unorm, Width: Target, Height: Target, MipLevels: 1, ArrayLayers: 1,
		Usage: gpu.UsageColorAttachment | gpu.UsageTransferSrc | gpu.UsageTransferDst | gpu.UsageSampled,
	}}
	var err error
	if t.Image, _, err = Image(ctx, drv, t.Desc); err != nil {
		return nil, err
	}
	if t.View, err = drv.CreateImageView(ctx, gpu.ImageViewDesc{Image: t.Image, Format: t.Desc.Format, Range: gpu.AllSubresources}); err != nil {
		return nil, err
	}
	if t.RenderPass, err = drv.CreateRenderPass(ctx, gpu.RenderPassDesc{Attachments: []gpu.AttachmentDesc{{
		Format: gpu.FormatRGBA8Unorm, LoadOp: gpu.LoadOpClear, FinalLayout: gpu.LayoutTransferSrc,
	}}}); err != nil {
		return nil, err
	}
	if t.Framebuffer, err = drv.CreateFramebuffer(ctx, gpu.FramebufferDesc{
		RenderPass: t.RenderPass, Attachments: []gpu.Handle{t.View}, Width: Target, Height: Target,
	}); err != nil {
		return nil, err
	}
	vs, err := shader(ctx, drv, soft.VSPosition2D)
	if err != nil {
		return nil, err
	}
	fs, err := shader(ctx, drv, soft.FSPushColor)
	if err != nil {
		return nil, err
	}
	if t.Layout, err = drv.CreatePipelineLayout(ctx, gpu.PipelineLayoutDesc{PushConstantSize: 16}); err != nil {
		return nil, err
	}
	if t.Pipeline, err = drv.CreateGraphicsPipeline(ctx, gpu.GraphicsPipelineDesc{
		Layout: t.Layout, RenderPass: t.RenderPass, VertexShader: vs, FragmentShader: fs,
		VertexStride: 8, Wireframe: wireframe,
	}); err != nil {
		return nil, err
	}
	verts := Floats(-1, -1, 1, -1, -1, 1)
	if t.Vertices, t.VertexMem, err = HostBuffer(ctx, drv, uint64(len(verts))); err != nil {
		return nil, err
	}
	if err := drv.WriteMemory(ctx, t.VertexMem, 0, verts); err != nil {
		return nil, err
	}
	if t.Commands, err = NewCommands(ctx, drv); err != nil {
		return nil, err
	}
	return t, nil
}

func shader(ctx context.Context, drv gpu.Driver, entry string) (gpu.Handle, error) {
	desc, ok := soft.Shader(entry)
	if !ok {
		return gpu.Null, errors.Errorf("No built-in shader %q", entry)
	}
	return drv.CreateShader(ctx, desc)
}

// Draw returns the commands of one triangle frame inside a "Frame" marker.
func (t *Triangle) Draw() []gpu.Command {
	return []gpu.Command{
		&gpu.BeginDebugMarker{Name: "Frame"},
		&gpu.BeginRenderPass{RenderPass: t.RenderPass, Framebuffer: t.Framebuffer,
			Area: gpu.Rect{Width: Target, Height: Target}, ClearValues: []gpu.ClearColor{{0, 0, 1, 1}}},
		&gpu.BindPipeline{BindPoint: gpu.BindGraphics, Pipeline: t.Pipeline},
		&gpu.BindVertexBuffers{Buffers: []gpu.Handle{t.Vertices}, Offsets: []uint64{0}},
		&gpu.SetViewport{Viewport: gpu.Viewport{Width: Target, Height: Target}},
		&gpu.SetScissor{Scissor: gpu.Rect{Width: Target, Height: Target}},
		&gpu.PushConstants{Layout: t.Layout, Data: Floats(1, 0, 0, 1)},
		&gpu.Draw{VertexCount: 3, InstanceCount: 1},
		&gpu.EndRenderPass{},
		&gpu.EndDebugMarker{},
	}
}

// Frame records the triangle frame and submits it.
func (t *Triangle) Frame(ctx context.Context, drv gpu.Driver) error {
	if err := t.Record(ctx, drv, t.Draw()...); err != nil {
		return err
	}
	return t.Submit(ctx, drv)
}

// Compute is a pair of storage buffers with a fill and an add pipeline.
// Fill writes its push constant to every word of A, add adds A to B.
type Compute struct {
	A, AMem   gpu.Handle
	B, BMem   gpu.Handle
	SetLayout gpu.Handle
	Layout    gpu.Handle
	SetPool   gpu.Handle
	Set       gpu.Handle
	Fill, Add gpu.Handle
	Commands
}

// ComputeSize is the size of both compute buffers.
const ComputeSize = 256

// NewCompute creates the compute objects and seeds B with 7 at word 0.
func NewCompute(ctx context.Context, drv gpu.Driver) (*Compute, error) {
	c := &Compute{}
	var err error
	if c.A, c.AMem, err = HostBuffer(ctx, drv, ComputeSize); err != nil {
		return nil, err
	}
	if c.B, c.BMem, err = HostBuffer(ctx, drv, ComputeSize); err != nil {
		return nil, err
	}
	if c.SetLayout, err = drv.CreateDescriptorSetLayout(ctx, gpu.DescriptorSetLayoutDesc{Bindings: []gpu.DescriptorLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 1},
		{Binding: 1, Type: gpu.DescriptorStorageBuffer, Count: 1},
	}}); err != nil {
		return nil, err
	}
	if c.Layout, err = drv.CreatePipelineLayout(ctx, gpu.PipelineLayoutDesc{SetLayouts: []gpu.Handle{c.SetLayout}, PushConstantSize: 4}); err != nil {
		return nil, err
	}
	if c.SetPool, err = drv.CreateDescriptorPool(ctx, gpu.DescriptorPoolDesc{MaxSets: 1}); err != nil {
		return nil, err
	}
	if c.Set, err = drv.AllocateDescriptorSet(ctx, c.SetPool, c.SetLayout); err != nil {
		return nil, err
	}
	if err := c.Bind(ctx, drv); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		out   *gpu.Handle
		entry string
	}{{&c.Fill, soft.CSFillU32}, {&c.Add, soft.CSAddU32}} {
		cs, err := shader(ctx, drv, p.entry)
		if err != nil {
			return nil, err
		}
		if *p.out, err = drv.CreateComputePipeline(ctx, gpu.ComputePipelineDesc{Layout: c.Layout, Shader: cs}); err != nil {
			return nil, err
		}
	}
	seven := make([]byte, 4)
	binary.LittleEndian.PutUint32(seven, 7)
	if err := drv.WriteMemory(ctx, c.BMem, 0, seven); err != nil {
		return nil, err
	}
	if c.Commands, err = NewCommands(ctx, drv); err != nil {
		return nil, err
	}
	return c, nil
}

// Bind points the descriptor set at A and B.
func (c *Compute) Bind(ctx context.Context, drv gpu.Driver) error {
	return drv.UpdateDescriptorSets(ctx, []gpu.DescriptorWrite{
		{Set: c.Set, Binding: 0, Type: gpu.DescriptorStorageBuffer, Buffers: []gpu.BufferInfo{{Buffer: c.A, Range: ^uint64(0)}}},
		{Set: c.Set, Binding: 1, Type: gpu.DescriptorStorageBuffer, Buffers: []gpu.BufferInfo{{Buffer: c.B, Range: ^uint64(0)}}},
	}, nil)
}

// Dispatch returns the commands filling A with value and adding it to B.
func (c *Compute) Dispatch(value uint32) []gpu.Command {
	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, value)
	return []gpu.Command{
		&gpu.BindDescriptorSets{BindPoint: gpu.BindCompute, Layout: c.Layout, Sets: []gpu.Handle{c.Set}},
		&gpu.BindPipeline{BindPoint: gpu.BindCompute, Pipeline: c.Fill},
		&gpu.PushConstants{Layout: c.Layout, Data: push},
		&gpu.Dispatch{X: 1, Y: 1, Z: 1},
		&gpu.BindPipeline{BindPoint: gpu.BindCompute, Pipeline: c.Add},
		&gpu.Dispatch{X: 1, Y: 1, Z: 1},
	}
}

// Frame records and submits Dispatch(value).
func (c *Compute) Frame(ctx context.Context, drv gpu.Driver, value uint32) error {
	if err := c.Record(ctx, drv, c.Dispatch(value)...); err != nil {
		return err
	}
	return c.Submit(ctx, drv)
}

// Pattern is a host visible buffer written with a byte ramp.
type Pattern struct {
	Buffer gpu.Handle
	Memory gpu.Handle
	Data   []byte
}

// NewPattern creates a size byte buffer. Nothing is written until Write.
func NewPattern(ctx context.Context, drv gpu.Driver, size int) (*Pattern, error) {
	buf, mem, err := HostBuffer(ctx, drv, uint64(size))
	if err != nil {
		return nil, err
	}
	p := &Pattern{Buffer: buf, Memory: mem, Data: make([]byte, size)}
	for i := range p.Data {
		p.Data[i] = byte(i*7 + 3)
	}
	return p, nil
}

// Write maps the pattern into the buffer memory.
func (p *Pattern) Write(ctx context.Context, drv gpu.Driver) error {
	return drv.WriteMemory(ctx, p.Memory, 0, p.Data)
}

// Sparse is a two page sparse buffer with one page of backing memory.
type Sparse struct {
	Buffer gpu.Handle
	Memory gpu.Handle
}

// NewSparse creates the sparse buffer and its memory without binding them.
func NewSparse(ctx context.Context, drv gpu.Driver) (*Sparse, error) {
	buf, err := drv.CreateBuffer(ctx, gpu.BufferDesc{
		Size: 2 * gpu.SparsePageSize, Usage: gpu.UsageTransferSrc | gpu.UsageTransferDst, Sparse: true,
	})
	if err != nil {
		return nil, err
	}
	mem, err := drv.CreateMemory(ctx, gpu.MemoryDesc{Size: gpu.SparsePageSize})
	if err != nil {
		return nil, err
	}
	return &Sparse{Buffer: buf, Memory: mem}, nil
}

// Bind maps the second page of the buffer to the memory.
func (s *Sparse) Bind(ctx context.Context, drv gpu.Driver) error {
	return drv.BindSparse(ctx, drv.Queue(), []gpu.SparseBindInfo{{
		Resource: s.Buffer,
		Binds:    []gpu.SparseMemoryBind{{ResourceOffset: gpu.SparsePageSize, Size: gpu.SparsePageSize, Memory: s.Memory}},
	}}, gpu.Null)
}

// Fill returns a command writing value over the whole buffer.
func (s *Sparse) Fill(value uint32) gpu.Command {
	return &gpu.FillBuffer{Buffer: s.Buffer, Size: ^uint64(0), Data: value}
}

// ReadBuffer copies size bytes from offset of buf into host memory.
func ReadBuffer(ctx context.Context, ic *gpu.InternalCmds, buf gpu.Handle, offset, size uint64) ([]byte, error) {
	drv := ic.Driver()
	dst, mem, err := HostBuffer(ctx, drv, size)
	if err != nil {
		return nil, err
	}
	defer drv.Destroy(ctx, dst)
	defer drv.Destroy(ctx, mem)
	if err := ic.Run(ctx, &gpu.CopyBuffer{Src: buf, Dst: dst, Regions: []gpu.BufferCopy{{SrcOffset: offset, Size: size}}}); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	return out, drv.ReadMemory(ctx, mem, 0, out)
}

// ReadImage copies one subresource of img, currently in layout, to host
// memory.
func ReadImage(ctx context.Context, ic *gpu.InternalCmds, img gpu.Handle, desc gpu.ImageDesc, layout gpu.ImageLayout, mip, layer uint32) ([]byte, error) {
	drv := ic.Driver()
	size := desc.SubresourceSize(mip)
	dst, mem, err := HostBuffer(ctx, drv, size)
	if err != nil {
		return nil, err
	}
	defer drv.Destroy(ctx, dst)
	defer drv.Destroy(ctx, mem)
	if err := ic.Run(ctx, &gpu.CopyImageToBuffer{
		Src: img, Layout: layout, Dst: dst,
		Regions: []gpu.BufferImageCopy{{Mip: mip, BaseLayer: layer, LayerCount: 1}},
	}); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	return out, drv.ReadMemory(ctx, mem, 0, out)
}
