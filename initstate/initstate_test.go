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

package initstate

import (
	"bytes"
	"context"
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	env *Env
}

func newFixture(t *testing.T) *fixture {
	ctx := log.Testing(t)
	drv := soft.New(ctx, gpu.DeviceDesc{Name: "initstate", Validation: true})
	cmds, err := gpu.NewInternalCmds(ctx, drv)
	require.NoError(t, err)
	return &fixture{t: t, ctx: ctx, env: &Env{
		Driver:  drv,
		Cmds:    cmds,
		Manager: resource.NewManager(&resource.IDGen{}),
		Tracker: state.NewTracker(),
	}}
}

func (f *fixture) wrap(kind gpu.ObjectKind, desc gpu.Described, h gpu.Handle, err error) resource.ID {
	f.t.Helper()
	require.NoError(f.t, err)
	id, _ := f.env.Manager.Wrap(f.ctx, h, kind)
	f.env.Tracker.Create(id, kind, desc, resource.Null)
	return id
}

func (f *fixture) live(id resource.ID) gpu.Handle {
	h, err := f.env.Manager.GetLiveHandle(id)
	require.NoError(f.t, err)
	return h
}

func (f *fixture) memory(size uint64, host bool) resource.ID {
	d := gpu.MemoryDesc{Size: size, HostVisible: host}
	h, err := f.env.Driver.CreateMemory(f.ctx, d)
	return f.wrap(gpu.KindMemory, &d, h, err)
}

func (f *fixture) readAll(id resource.ID) []byte {
	desc, _ := f.env.Tracker.MemoryDesc(id)
	data, err := f.env.readMemory(f.ctx, f.live(id), desc, 0, desc.Size)
	require.NoError(f.t, err)
	return data
}

func (f *fixture) write(id resource.ID, offset uint64, data []byte) {
	desc, _ := f.env.Tracker.MemoryDesc(id)
	require.NoError(f.t, f.env.writeMemory(f.ctx, f.live(id), desc, offset, data))
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)*7 + seed
	}
	return out
}

// roundTrip passes c through an InitialContents chunk.
func roundTrip(t *testing.T, id resource.ID, c *Contents) *Contents {
	w := serialise.NewSequencer(0).NewWriter(1)
	chunk, err := Serialise(w, id, c)
	require.NoError(t, err)
	assert.Equal(t, serialise.ChunkInitialContents, chunk.Type)
	gotID, got, err := Read(chunk)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	enc, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(enc)), GetSize(c))
	assert.True(t, bytes.HasSuffix(chunk.Payload, enc))
	return got
}

func TestMemoryContents(t *testing.T) {
	for _, host := range []bool{false, true} {
		f := newFixture(t)
		mem := f.memory(256, host)
		want := pattern(256, 3)
		f.write(mem, 0, want)

		c, err := Prepare(f.ctx, f.env, mem)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, TypeBlob, c.Type)
		assert.Equal(t, want, c.Data)
		stats := f.env.Driver.Stats().Objects

		f.write(mem, 0, make([]byte, 256))
		require.NoError(t, Apply(f.ctx, f.env, mem, roundTrip(t, mem, c)))
		assert.Equal(t, want, f.readAll(mem))
		assert.Equal(t, stats, f.env.Driver.Stats().Objects, "temporaries are destroyed")
	}
}

func TestImageContents(t *testing.T) {
	f := newFixture(t)
	ctx, drv := f.ctx, f.env.Driver
	desc := gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 4, Height: 4, MipLevels: 2, ArrayLayers: 1}
	h, err := drv.CreateImage(ctx, desc)
	img := f.wrap(gpu.KindImage, &desc, h, err)
	mem := f.memory(desc.Size(), false)
	require.NoError(t, drv.BindImageMemory(ctx, f.live(img), f.live(mem), 0))
	require.NoError(t, f.env.Tracker.BindMemory(img, mem, 0))

	mip0 := gpu.SubresourceRange{MipCount: 1, LayerCount: 1}
	paint := func(old, final gpu.ImageLayout, color gpu.ClearColor) {
		require.NoError(t, f.env.Cmds.Run(ctx,
			&gpu.PipelineBarrier{Images: []gpu.ImageBarrier{{Image: h, Range: mip0, OldLayout: old, NewLayout: gpu.LayoutTransferDst}}},
			&gpu.ClearColorImage{Image: h, Layout: gpu.LayoutTransferDst, Color: color, Ranges: []gpu.SubresourceRange{mip0}},
			&gpu.PipelineBarrier{Images: []gpu.ImageBarrier{{Image: h, Range: mip0, OldLayout: gpu.LayoutTransferDst, NewLayout: final}}},
		))
		f.env.Tracker.ApplyLayouts([]state.LayoutOp{{Image: img, Range: mip0, Layout: final}})
	}
	paint(gpu.LayoutUndefined, gpu.LayoutShaderReadOnly, gpu.ClearColor{1, 0, 0, 1})

	c, err := Prepare(ctx, f.env, img)
	require.NoError(t, err)
	require.NotNil(t, c.Layouts)
	require.Len(t, c.Layouts.Entries(), 2)
	assert.Equal(t, []byte{255, 0, 0, 255}, c.Data[:4])
	assert.Equal(t, []byte{255, 0, 0, 255}, c.Data[60:64])
	assert.Equal(t, make([]byte, 16), c.Data[64:], "undefined mips are not read")

	paint(gpu.LayoutShaderReadOnly, gpu.LayoutGeneral, gpu.ClearColor{0, 0, 1, 1})
	require.NoError(t, Apply(ctx, f.env, img, roundTrip(t, img, c)))
	cur, _ := f.env.Tracker.ImageState(img)
	l, _ := cur.LayoutAt(0, 0)
	assert.Equal(t, gpu.LayoutShaderReadOnly, l)

	again, err := Prepare(ctx, f.env, img)
	require.NoError(t, err)
	assert.Equal(t, c.Data, again.Data)
	assert.Equal(t, c.Layouts.Entries(), again.Layouts.Entries())
}

func TestSparseContents(t *testing.T) {
	f := newFixture(t)
	ctx, drv := f.ctx, f.env.Driver
	const page = gpu.SparsePageSize
	desc := gpu.BufferDesc{Size: 2 * page, Sparse: true}
	h, err := drv.CreateBuffer(ctx, desc)
	buf := f.wrap(gpu.KindBuffer, &desc, h, err)
	mem := f.memory(page, false)

	bind := func(m resource.ID) {
		info := gpu.SparseBindInfo{Resource: gpu.Handle(buf)}
		if m != resource.Null {
			info.Binds = []gpu.SparseMemoryBind{{ResourceOffset: page, Size: page, Memory: gpu.Handle(m)}}
		}
		live, err := LiveSparseBinds(ctx, f.env.Manager, []gpu.SparseBindInfo{info})
		require.NoError(t, err)
		require.NoError(t, drv.BindSparse(ctx, drv.Queue(), live, gpu.Null))
		require.NoError(t, f.env.Tracker.BindSparse([]gpu.SparseBindInfo{info}))
	}
	bind(mem)
	want := pattern(page, 9)
	f.write(mem, 0, want)

	c, err := Prepare(ctx, f.env, buf)
	require.NoError(t, err)
	assert.Equal(t, TypeSparse, c.Type)
	assert.Equal(t, []uint64{1}, c.Table.Pages())
	assert.True(t, bytes.Equal(want, c.Data))

	bind(resource.Null)
	f.write(mem, 0, make([]byte, page))
	require.NoError(t, Apply(ctx, f.env, buf, roundTrip(t, buf, c)))
	table, _ := f.env.Tracker.Sparse(buf)
	assert.Equal(t, []uint64{1}, table.Pages())
	assert.Equal(t, want, f.readAll(mem))
}

func TestLiveSparseBindsDropsUnknownMemory(t *testing.T) {
	f := newFixture(t)
	desc := gpu.BufferDesc{Size: gpu.SparsePageSize, Sparse: true}
	h, err := f.env.Driver.CreateBuffer(f.ctx, desc)
	buf := f.wrap(gpu.KindBuffer, &desc, h, err)
	live, err := LiveSparseBinds(f.ctx, f.env.Manager, []gpu.SparseBindInfo{{
		Resource: gpu.Handle(buf),
		Binds:    []gpu.SparseMemoryBind{{Size: gpu.SparsePageSize, Memory: 999}},
	}})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, h, live[0].Resource)
	assert.Empty(t, live[0].Binds)

	_, err = LiveSparseBinds(f.ctx, f.env.Manager, []gpu.SparseBindInfo{{Resource: 999}})
	assert.Error(t, err)
}

func TestDescriptorContents(t *testing.T) {
	f := newFixture(t)
	ctx, drv := f.ctx, f.env.Driver
	layoutDesc := gpu.DescriptorSetLayoutDesc{Bindings: []gpu.DescriptorLayoutBinding{{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 1}}}
	lh, err := drv.CreateDescriptorSetLayout(ctx, layoutDesc)
	layout := f.wrap(gpu.KindDescriptorSetLayout, &layoutDesc, lh, err)
	poolDesc := gpu.DescriptorPoolDesc{MaxSets: 1}
	ph, err := drv.CreateDescriptorPool(ctx, poolDesc)
	pool := f.wrap(gpu.KindDescriptorPool, &poolDesc, ph, err)
	sh, err := drv.AllocateDescriptorSet(ctx, ph, lh)
	require.NoError(t, err)
	set, _ := f.env.Manager.Wrap(ctx, sh, gpu.KindDescriptorSet)
	require.NoError(t, f.env.Tracker.AllocateSet(set, pool, layout))

	bufDesc := gpu.BufferDesc{Size: 64}
	var bufs [2]resource.ID
	for i := range bufs {
		h, err := drv.CreateBuffer(ctx, bufDesc)
		bufs[i] = f.wrap(gpu.KindBuffer, &bufDesc, h, err)
	}
	point := func(b resource.ID) {
		w := gpu.DescriptorWrite{Set: gpu.Handle(set), Type: gpu.DescriptorStorageBuffer,
			Buffers: []gpu.BufferInfo{{Buffer: gpu.Handle(b), Range: 64}}}
		require.NoError(t, f.env.Tracker.UpdateDescriptorSets([]gpu.DescriptorWrite{w}, nil))
		lw := w
		lw.Buffers = []gpu.BufferInfo{{Buffer: f.live(b), Range: 64}}
		lw.Set = sh
		require.NoError(t, drv.UpdateDescriptorSets(ctx, []gpu.DescriptorWrite{lw}, nil))
	}
	point(bufs[0])
	c, err := Prepare(ctx, f.env, set)
	require.NoError(t, err)
	assert.Equal(t, TypeDescriptors, c.Type)

	point(bufs[1])
	require.NoError(t, Apply(ctx, f.env, set, roundTrip(t, set, c)))
	got, _ := f.env.Tracker.DescriptorSet(set)
	assert.Equal(t, bufs[0], got.Bindings[0][0].Resource)
}

func TestCreateAndApplyAll(t *testing.T) {
	f := newFixture(t)
	ctx, drv := f.ctx, f.env.Driver
	mem := f.memory(128, true)
	f.write(mem, 0, pattern(128, 1))

	desc := gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 2, Height: 2, MipLevels: 1, ArrayLayers: 2}
	h, err := drv.CreateImage(ctx, desc)
	img := f.wrap(gpu.KindImage, &desc, h, err)
	imgMem := f.memory(desc.Size(), false)
	require.NoError(t, drv.BindImageMemory(ctx, h, f.live(imgMem), 0))
	require.NoError(t, f.env.Tracker.BindMemory(img, imgMem, 0))

	zero, err := Create(ctx, f.env, mem, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 128), zero.Data)
	require.NoError(t, EncodeAll(ctx, []*Contents{zero}))

	want := state.NewImageState(1, 2, gpu.LayoutUndefined)
	want.Transition(gpu.SubresourceRange{MipCount: 1, BaseLayer: 1, LayerCount: 1}, gpu.LayoutGeneral)
	require.NoError(t, ApplyAll(ctx, f.env,
		map[resource.ID]*Contents{mem: zero},
		map[resource.ID]*state.ImageState{img: want}))
	assert.Equal(t, make([]byte, 128), f.readAll(mem))
	cur, _ := f.env.Tracker.ImageState(img)
	assert.Equal(t, want.Entries(), cur.Entries())
	require.NoError(t, f.env.Tracker.ValidateAll())
}
