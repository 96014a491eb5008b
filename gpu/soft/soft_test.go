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
	"math"
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	t   *testing.T
	drv gpu.Driver
	ic  *gpu.InternalCmds
}

func newDevice(ctx context.Context, t *testing.T) *device {
	drv := New(ctx, gpu.DeviceDesc{Name: "test", Validation: true})
	ic, err := gpu.NewInternalCmds(ctx, drv)
	require.NoError(t, err)
	return &device{t: t, drv: drv, ic: ic}
}

func (d *device) must(h gpu.Handle, err error) gpu.Handle {
	d.t.Helper()
	require.NoError(d.t, err)
	return h
}

// hostBuffer returns a buffer bound to host visible memory.
func (d *device) hostBuffer(ctx context.Context, size uint64) (buf, mem gpu.Handle) {
	mem = d.must(d.drv.CreateMemory(ctx, gpu.MemoryDesc{Size: size, HostVisible: true}))
	buf = d.must(d.drv.CreateBuffer(ctx, gpu.BufferDesc{Size: size, Usage: gpu.UsageTransferSrc | gpu.UsageTransferDst | gpu.UsageStorage | gpu.UsageVertex}))
	require.NoError(d.t, d.drv.BindBufferMemory(ctx, buf, mem, 0))
	return buf, mem
}

func (d *device) image(ctx context.Context, desc gpu.ImageDesc) gpu.Handle {
	img := d.must(d.drv.CreateImage(ctx, desc))
	mem := d.must(d.drv.CreateMemory(ctx, gpu.MemoryDesc{Size: desc.Size()}))
	require.NoError(d.t, d.drv.BindImageMemory(ctx, img, mem, 0))
	return img
}

func (d *device) readback(ctx context.Context, img gpu.Handle, desc gpu.ImageDesc, layout gpu.ImageLayout, mip uint32) []byte {
	size := desc.SubresourceSize(mip)
	buf, mem := d.hostBuffer(ctx, size)
	require.NoError(d.t, d.ic.Run(ctx, &gpu.CopyImageToBuffer{
		Src: img, Layout: layout, Dst: buf,
		Regions: []gpu.BufferImageCopy{{Mip: mip, LayerCount: 1}},
	}))
	out := make([]byte, size)
	require.NoError(d.t, d.drv.ReadMemory(ctx, mem, 0, out))
	return out
}

func floats(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func TestRegistered(t *testing.T) {
	ctx := log.Testing(t)
	b, err := gpu.Lookup(Name)
	require.NoError(t, err)
	drv, err := b.Open(ctx, gpu.DeviceDesc{Name: "registered"})
	require.NoError(t, err)
	assert.Equal(t, 0, drv.Stats().Objects)
	assert.Equal(t, gpu.KindQueue, drv.Kind(drv.Queue()))
}

func TestClearAndCopy(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	desc := gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 4, Height: 4, MipLevels: 2, ArrayLayers: 1}
	img := d.image(ctx, desc)
	require.NoError(t, d.ic.Run(ctx,
		&gpu.PipelineBarrier{Images: []gpu.ImageBarrier{{Image: img, Range: gpu.AllSubresources, NewLayout: gpu.LayoutTransferDst}}},
		&gpu.ClearColorImage{Image: img, Layout: gpu.LayoutTransferDst, Color: gpu.ClearColor{1, 0, 0, 1},
			Ranges: []gpu.SubresourceRange{{BaseMip: 1, MipCount: 1, LayerCount: 1}}},
		&gpu.PipelineBarrier{Images: []gpu.ImageBarrier{{Image: img, Range: gpu.AllSubresources,
			OldLayout: gpu.LayoutTransferDst, NewLayout: gpu.LayoutTransferSrc}}},
	))
	mip1 := d.readback(ctx, img, desc, gpu.LayoutTransferSrc, 1)
	assert.Equal(t, []byte{255, 0, 0, 255, 255, 0, 0, 255, 255, 0, 0, 255, 255, 0, 0, 255}, mip1)
	mip0 := d.readback(ctx, img, desc, gpu.LayoutTransferSrc, 0)
	assert.Equal(t, byte(discardFill), mip0[0], "undefined transition discards")
}

func TestLayoutValidation(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	desc := gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 2, Height: 2, MipLevels: 1, ArrayLayers: 1}
	img := d.image(ctx, desc)
	err := d.ic.Run(ctx, &gpu.ClearColorImage{Image: img, Layout: gpu.LayoutTransferDst, Ranges: []gpu.SubresourceRange{gpu.AllSubresources}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSubmissionFailure))

	// The device stays usable after a failed submission.
	require.NoError(t, d.ic.FlushQ(ctx))
	require.NoError(t, d.ic.Run(ctx,
		&gpu.PipelineBarrier{Images: []gpu.ImageBarrier{{Image: img, Range: gpu.AllSubresources, NewLayout: gpu.LayoutTransferDst}}},
	))
}

func TestSparseBuffer(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	sparse := d.must(d.drv.CreateBuffer(ctx, gpu.BufferDesc{Size: 2 * gpu.SparsePageSize, Sparse: true}))
	mem := d.must(d.drv.CreateMemory(ctx, gpu.MemoryDesc{Size: gpu.SparsePageSize}))
	require.NoError(t, d.drv.BindSparse(ctx, d.drv.Queue(), []gpu.SparseBindInfo{{
		Resource: sparse,
		Binds:    []gpu.SparseMemoryBind{{ResourceOffset: gpu.SparsePageSize, Size: gpu.SparsePageSize, Memory: mem}},
	}}, gpu.Null))

	require.NoError(t, d.ic.Run(ctx, &gpu.FillBuffer{Buffer: sparse, Size: ^uint64(0), Data: 0x01020304}))

	out, outMem := d.hostBuffer(ctx, 2*gpu.SparsePageSize)
	require.NoError(t, d.ic.Run(ctx, &gpu.CopyBuffer{Src: sparse, Dst: out, Regions: []gpu.BufferCopy{{Size: 2 * gpu.SparsePageSize}}}))
	data := make([]byte, 2*gpu.SparsePageSize)
	require.NoError(t, d.drv.ReadMemory(ctx, outMem, 0, data))
	assert.Equal(t, []byte{0, 0, 0, 0}, data[:4], "unbound page reads zero")
	assert.Equal(t, []byte{4, 3, 2, 1}, data[gpu.SparsePageSize:gpu.SparsePageSize+4])

	// Rebinding replaces the whole table.
	require.NoError(t, d.drv.BindSparse(ctx, d.drv.Queue(), []gpu.SparseBindInfo{{Resource: sparse}}, gpu.Null))
	require.NoError(t, d.ic.Run(ctx, &gpu.CopyBuffer{Src: sparse, Dst: out, Regions: []gpu.BufferCopy{{Size: 2 * gpu.SparsePageSize}}}))
	require.NoError(t, d.drv.ReadMemory(ctx, outMem, 0, data))
	assert.Equal(t, []byte{0, 0, 0, 0}, data[gpu.SparsePageSize:gpu.SparsePageSize+4])
}

type drawTarget struct {
	img, rp, fb, pipe, layout, vb gpu.Handle
	desc                          gpu.ImageDesc
}

func (d *device) drawTarget(ctx context.Context, wireframe bool, verts ...float32) drawTarget {
	tg := drawTarget{desc: gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1}}
	tg.img = d.image(ctx, tg.desc)
	view := d.must(d.drv.CreateImageView(ctx, gpu.ImageViewDesc{Image: tg.img, Range: gpu.AllSubresources}))
	tg.rp = d.must(d.drv.CreateRenderPass(ctx, gpu.RenderPassDesc{Attachments: []gpu.AttachmentDesc{{
		Format: gpu.FormatRGBA8Unorm, LoadOp: gpu.LoadOpClear, FinalLayout: gpu.LayoutTransferSrc,
	}}}))
	tg.fb = d.must(d.drv.CreateFramebuffer(ctx, gpu.FramebufferDesc{RenderPass: tg.rp, Attachments: []gpu.Handle{view}, Width: 4, Height: 4}))
	vsDesc, _ := Shader(VSPosition2D)
	fsDesc, _ := Shader(FSPushColor)
	vs := d.must(d.drv.CreateShader(ctx, vsDesc))
	fs := d.must(d.drv.CreateShader(ctx, fsDesc))
	tg.layout = d.must(d.drv.CreatePipelineLayout(ctx, gpu.PipelineLayoutDesc{PushConstantSize: 16}))
	tg.pipe = d.must(d.drv.CreateGraphicsPipeline(ctx, gpu.GraphicsPipelineDesc{
		Layout: tg.layout, RenderPass: tg.rp, VertexShader: vs, FragmentShader: fs, VertexStride: 8, Wireframe: wireframe,
	}))
	var mem gpu.Handle
	tg.vb, mem = d.hostBuffer(ctx, uint64(len(verts)*4))
	require.NoError(d.t, d.drv.WriteMemory(ctx, mem, 0, floats(verts...)))
	return tg
}

func (d *device) drawRed(ctx context.Context, tg drawTarget, count uint32) []byte {
	require.NoError(d.t, d.ic.Run(ctx,
		&gpu.BeginRenderPass{RenderPass: tg.rp, Framebuffer: tg.fb, Area: gpu.Rect{Width: 4, Height: 4},
			ClearValues: []gpu.ClearColor{{0, 0, 1, 1}}},
		&gpu.BindPipeline{BindPoint: gpu.BindGraphics, Pipeline: tg.pipe},
		&gpu.BindVertexBuffers{Buffers: []gpu.Handle{tg.vb}, Offsets: []uint64{0}},
		&gpu.PushConstants{Layout: tg.layout, Data: floats(1, 0, 0, 1)},
		&gpu.Draw{VertexCount: count, InstanceCount: 1},
		&gpu.EndRenderPass{},
	))
	return d.readback(ctx, tg.img, tg.desc, gpu.LayoutTransferSrc, 0)
}

func pixel(data []byte, x, y int) []byte {
	o := (y*4 + x) * 4
	return data[o : o+4]
}

func TestDrawTriangle(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	tg := d.drawTarget(ctx, false, -1, -1, 1, -1, -1, 1)
	data := d.drawRed(ctx, tg, 3)
	red, blue := []byte{255, 0, 0, 255}, []byte{0, 0, 255, 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x+y <= 3 {
				assert.Equal(t, red, pixel(data, x, y), "pixel %d,%d", x, y)
			} else {
				assert.Equal(t, blue, pixel(data, x, y), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestDrawWireframe(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	tg := d.drawTarget(ctx, true, -1, -1, 0.99, -1, -1, 0.99)
	data := d.drawRed(ctx, tg, 3)
	red, blue := []byte{255, 0, 0, 255}, []byte{0, 0, 255, 255}
	assert.Equal(t, red, pixel(data, 0, 0))
	assert.Equal(t, red, pixel(data, 3, 0))
	assert.Equal(t, red, pixel(data, 0, 3))
	assert.Equal(t, blue, pixel(data, 1, 1), "interior is not filled")
	assert.Equal(t, blue, pixel(data, 3, 3))
}

func TestCompute(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	a, aMem := d.hostBuffer(ctx, 256)
	b, bMem := d.hostBuffer(ctx, 256)
	setLayout := d.must(d.drv.CreateDescriptorSetLayout(ctx, gpu.DescriptorSetLayoutDesc{Bindings: []gpu.DescriptorLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 1},
		{Binding: 1, Type: gpu.DescriptorStorageBuffer, Count: 1},
	}}))
	layout := d.must(d.drv.CreatePipelineLayout(ctx, gpu.PipelineLayoutDesc{SetLayouts: []gpu.Handle{setLayout}, PushConstantSize: 4}))
	pool := d.must(d.drv.CreateDescriptorPool(ctx, gpu.DescriptorPoolDesc{MaxSets: 1}))
	set := d.must(d.drv.AllocateDescriptorSet(ctx, pool, setLayout))
	require.NoError(t, d.drv.UpdateDescriptorSets(ctx, []gpu.DescriptorWrite{
		{Set: set, Binding: 0, Type: gpu.DescriptorStorageBuffer, Buffers: []gpu.BufferInfo{{Buffer: a, Range: ^uint64(0)}}},
		{Set: set, Binding: 1, Type: gpu.DescriptorStorageBuffer, Buffers: []gpu.BufferInfo{{Buffer: b, Range: ^uint64(0)}}},
	}, nil))
	pipe := func(entry string) gpu.Handle {
		desc, ok := Shader(entry)
		require.True(t, ok)
		cs := d.must(d.drv.CreateShader(ctx, desc))
		return d.must(d.drv.CreateComputePipeline(ctx, gpu.ComputePipelineDesc{Layout: layout, Shader: cs}))
	}
	fill, add := pipe(CSFillU32), pipe(CSAddU32)
	seven := make([]byte, 4)
	binary.LittleEndian.PutUint32(seven, 7)
	require.NoError(t, d.drv.WriteMemory(ctx, bMem, 0, seven))

	require.NoError(t, d.ic.Run(ctx,
		&gpu.BindDescriptorSets{BindPoint: gpu.BindCompute, Layout: layout, Sets: []gpu.Handle{set}},
		&gpu.BindPipeline{BindPoint: gpu.BindCompute, Pipeline: fill},
		&gpu.PushConstants{Layout: layout, Data: []byte{5, 0, 0, 0}},
		&gpu.Dispatch{X: 1, Y: 1, Z: 1},
		&gpu.BindPipeline{BindPoint: gpu.BindCompute, Pipeline: add},
		&gpu.Dispatch{X: 1, Y: 1, Z: 1},
	))
	out := make([]byte, 256)
	require.NoError(t, d.drv.ReadMemory(ctx, aMem, 0, out))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(out[252:]))
	require.NoError(t, d.drv.ReadMemory(ctx, bMem, 0, out))
	assert.Equal(t, uint32(12), binary.LittleEndian.Uint32(out))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(out[4:]))
}

func TestDestroyCascades(t *testing.T) {
	ctx := log.Testing(t)
	d := newDevice(ctx, t)
	before := d.drv.Stats().Objects
	pool := d.must(d.drv.CreateCommandPool(ctx))
	d.must(d.drv.AllocateCommandBuffer(ctx, pool))
	d.must(d.drv.AllocateCommandBuffer(ctx, pool))
	assert.Equal(t, before+3, d.drv.Stats().Objects)
	require.NoError(t, d.drv.Destroy(ctx, pool))
	assert.Equal(t, before, d.drv.Stats().Objects)
	assert.Error(t, d.drv.Destroy(ctx, pool))
}
