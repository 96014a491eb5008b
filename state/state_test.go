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
	"math/rand"
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mipRange(base, count uint32) gpu.SubresourceRange {
	return gpu.SubresourceRange{BaseMip: base, MipCount: count, LayerCount: gpu.Remaining}
}

func TestOverlappingTransitions(t *testing.T) {
	log.Testing(t)
	for _, layers := range []uint32{1, 4} {
		s := NewImageState(4, layers, gpu.LayoutUndefined)
		s.Transition(mipRange(0, 2), gpu.LayoutTransferDst)
		s.Transition(mipRange(1, 2), gpu.LayoutShaderReadOnly)
		s.Transition(mipRange(2, 2), gpu.LayoutShaderReadOnly)
		require.NoError(t, s.Validate())
		entries := s.Entries()
		require.Len(t, entries, 2, "layers %d: %v", layers, entries)
		assert.Equal(t, gpu.LayoutTransferDst, entries[0].Layout)
		assert.Equal(t, uint32(1), entries[0].Mips.End)
		assert.Equal(t, gpu.LayoutShaderReadOnly, entries[1].Layout)
		assert.Equal(t, uint32(1), entries[1].Mips.Start)
		assert.Equal(t, uint32(4), entries[1].Mips.End)
	}
}

func TestTransitionPartition(t *testing.T) {
	log.Testing(t)
	rng := rand.New(rand.NewSource(42))
	layouts := []gpu.ImageLayout{
		gpu.LayoutUndefined, gpu.LayoutGeneral, gpu.LayoutColorAttachment,
		gpu.LayoutShaderReadOnly, gpu.LayoutTransferSrc, gpu.LayoutTransferDst,
	}
	for iter := 0; iter < 50; iter++ {
		mips, layers := uint32(rng.Intn(6)+1), uint32(rng.Intn(6)+1)
		s := NewImageState(mips, layers, gpu.LayoutUndefined)
		grid := make([]gpu.ImageLayout, mips*layers)
		for step := 0; step < 40; step++ {
			bm, bl := uint32(rng.Intn(int(mips))), uint32(rng.Intn(int(layers)))
			r := gpu.SubresourceRange{
				BaseMip: bm, MipCount: uint32(rng.Intn(int(mips-bm))) + 1,
				BaseLayer: bl, LayerCount: uint32(rng.Intn(int(layers-bl))) + 1,
			}
			if rng.Intn(5) == 0 {
				r.LayerCount = gpu.Remaining
			}
			l := layouts[rng.Intn(len(layouts))]
			s.Transition(r, l)

			rr := r.Resolve(mips, layers)
			for m := rr.BaseMip; m < rr.BaseMip+rr.MipCount; m++ {
				for y := rr.BaseLayer; y < rr.BaseLayer+rr.LayerCount; y++ {
					grid[m*layers+y] = l
				}
			}
			require.NoError(t, s.Validate(), "after %v -> %v: %v", r, l, s.Entries())
		}
		for m := uint32(0); m < mips; m++ {
			for y := uint32(0); y < layers; y++ {
				got, ok := s.LayoutAt(m, y)
				require.True(t, ok)
				require.Equal(t, grid[m*layers+y], got, "mip %d layer %d", m, y)
			}
		}
	}
}

func TestRangesAndSerialise(t *testing.T) {
	log.Testing(t)
	s := NewImageState(2, 2, gpu.LayoutUndefined)
	s.Transition(gpu.SubresourceRange{BaseMip: 0, MipCount: 1, BaseLayer: 1, LayerCount: 1}, gpu.LayoutGeneral)
	got := s.Ranges(gpu.SubresourceRange{MipCount: 1, LayerCount: 2})
	require.Len(t, got, 2)
	assert.Equal(t, gpu.LayoutUndefined, got[0].Layout)
	assert.Equal(t, gpu.LayoutGeneral, got[1].Layout)

	data, err := serialise.Encode(s)
	require.NoError(t, err)
	back := &ImageState{}
	require.NoError(t, serialise.Decode(data, back))
	assert.Equal(t, s.Entries(), back.Entries())

	bad := &ImageState{Mips: 2, Layers: 2, entries: s.Entries()[:1]}
	data, err = serialise.Encode(bad)
	require.NoError(t, err)
	assert.Error(t, serialise.Decode(data, &ImageState{}))
}

func TestSparseTable(t *testing.T) {
	log.Testing(t)
	const page = gpu.SparsePageSize
	tab := NewSparseTable(4 * page)
	require.NoError(t, tab.Bind([]SparseBind{
		{ResourceOffset: 0, Size: 2 * page, Memory: 7, MemoryOffset: 0},
		{ResourceOffset: 3 * page, Size: page, Memory: 8, MemoryOffset: page},
	}))
	assert.Equal(t, []uint64{0, 1, 3}, tab.Pages())
	assert.Equal(t, uint64(3*page), tab.Bound().Total())
	assert.Equal(t, []resource.ID{7, 8}, tab.Memories())
	assert.Len(t, tab.Binds(), 2)

	snap := tab.Snapshot()
	require.NoError(t, tab.Bind([]SparseBind{{ResourceOffset: page, Size: page, Memory: 9}}))
	assert.Equal(t, []uint64{1}, tab.Pages(), "a bind replaces the whole table")
	_, ok := tab.Lookup(0)
	assert.False(t, ok)

	assert.Error(t, tab.Bind([]SparseBind{{ResourceOffset: 1, Size: page, Memory: 9}}))
	assert.Error(t, tab.Bind([]SparseBind{{ResourceOffset: 4 * page, Size: page, Memory: 9}}))
	assert.Equal(t, []uint64{1}, tab.Pages(), "a failed bind leaves the table alone")

	tab.Restore(snap)
	pg, ok := tab.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, Page{Memory: 8, Offset: page}, pg)

	data, err := serialise.Encode(tab)
	require.NoError(t, err)
	back := &SparseTable{}
	require.NoError(t, serialise.Decode(data, back))
	assert.Equal(t, tab.Binds(), back.Binds())
}

func TestDescriptorSet(t *testing.T) {
	log.Testing(t)
	layout := gpu.DescriptorSetLayoutDesc{Bindings: []gpu.DescriptorLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 2},
		{Binding: 3, Type: gpu.DescriptorSampledImage, Count: 1},
	}}
	a := NewDescriptorSet(layout)
	require.NoError(t, a.Write(gpu.DescriptorWrite{Binding: 0, ArrayElement: 1, Type: gpu.DescriptorStorageBuffer,
		Buffers: []gpu.BufferInfo{{Buffer: 5, Offset: 16, Range: 64}}}))
	require.NoError(t, a.Write(gpu.DescriptorWrite{Binding: 3, Type: gpu.DescriptorSampledImage,
		Images: []gpu.ImageInfo{{View: 6, Layout: gpu.LayoutShaderReadOnly}}}))
	assert.Error(t, a.Write(gpu.DescriptorWrite{Binding: 1, Type: gpu.DescriptorStorageBuffer}))
	assert.Error(t, a.Write(gpu.DescriptorWrite{Binding: 0, ArrayElement: 2, Type: gpu.DescriptorStorageBuffer,
		Buffers: []gpu.BufferInfo{{Buffer: 5}}}))

	refs := a.Referenced()
	require.Len(t, refs, 2)
	assert.Equal(t, resource.ID(5), refs[0].Resource)
	assert.Equal(t, resource.ID(6), refs[1].View)

	b := NewDescriptorSet(layout)
	require.NoError(t, b.Copy(a, gpu.DescriptorCopy{SrcBinding: 0, SrcElement: 1, DstBinding: 0, DstElement: 0, Count: 1}))
	assert.Equal(t, resource.ID(5), b.Bindings[0][0].Resource)
	assert.Error(t, b.Copy(a, gpu.DescriptorCopy{SrcBinding: 0, SrcElement: 1, DstBinding: 0, Count: 2}))

	c := a.Clone()
	c.Bindings[0][1].Resource = 99
	assert.Equal(t, resource.ID(5), a.Bindings[0][1].Resource)

	writes := a.Writes(42)
	require.Len(t, writes, 2)
	assert.Equal(t, gpu.Handle(42), writes[0].Set)
	assert.Equal(t, uint32(1), writes[0].ArrayElement)
	fresh := NewDescriptorSet(layout)
	for _, w := range writes {
		require.NoError(t, fresh.Write(w))
	}
	assert.Equal(t, a.Bindings, fresh.Bindings)

	data, err := serialise.Encode(a)
	require.NoError(t, err)
	back := &DescriptorSet{}
	require.NoError(t, serialise.Decode(data, back))
	assert.Equal(t, a.Bindings, back.Bindings)
}

func TestRenderState(t *testing.T) {
	log.Testing(t)
	rs := NewRenderState()
	for _, c := range []gpu.Command{
		&gpu.BindPipeline{BindPoint: gpu.BindCompute, Pipeline: 20},
		&gpu.BindDescriptorSets{BindPoint: gpu.BindCompute, Layout: 21, Sets: []gpu.Handle{22}},
		&gpu.BeginRenderPass{RenderPass: 1, Framebuffer: 2, Area: gpu.Rect{Width: 8, Height: 8}},
		&gpu.BindPipeline{Pipeline: 3},
		&gpu.BindDescriptorSets{Layout: 4, FirstSet: 1, Sets: []gpu.Handle{5}},
		&gpu.BindVertexBuffers{Buffers: []gpu.Handle{6}, Offsets: []uint64{32}},
		&gpu.PushConstants{Layout: 4, Offset: 4, Data: []byte{1, 2, 3, 4}},
		&gpu.SetViewport{Viewport: gpu.Viewport{Width: 8, Height: 8}},
		&gpu.BeginDebugMarker{Name: "outer"},
	} {
		rs.Apply(c)
	}
	assert.True(t, rs.InRenderPass)
	assert.Equal(t, []string{"outer"}, rs.Markers)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, rs.Push)

	clone := rs.Clone()
	rs.Apply(&gpu.EndRenderPass{})
	rs.Apply(&gpu.EndDebugMarker{})
	assert.True(t, clone.InRenderPass)
	assert.Len(t, clone.Markers, 1)

	cmds := clone.Rebind()
	kinds := make([]gpu.CommandKind, len(cmds))
	for i, c := range cmds {
		kinds[i] = c.Kind()
	}
	assert.Equal(t, []gpu.CommandKind{
		gpu.CmdKindBindPipeline, gpu.CmdKindBindDescriptorSets, gpu.CmdKindBindVertexBuffers,
		gpu.CmdKindSetViewport, gpu.CmdKindPushConstants,
	}, kinds)
	assert.Equal(t, uint32(1), cmds[1].(*gpu.BindDescriptorSets).FirstSet)

	cmds = rs.Rebind()
	require.Len(t, cmds, 3)
	assert.Equal(t, gpu.Handle(20), cmds[0].(*gpu.BindPipeline).Pipeline)
	assert.Equal(t, gpu.BindCompute, cmds[1].(*gpu.BindDescriptorSets).BindPoint)
}

func newTestTracker(t *testing.T) *Tracker {
	tr := NewTracker()
	tr.Create(1, gpu.KindImage, &gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 4, Height: 4, MipLevels: 2, ArrayLayers: 1}, resource.Null)
	tr.Create(2, gpu.KindImageView, &gpu.ImageViewDesc{Image: 1, Range: gpu.SubresourceRange{MipCount: 1, LayerCount: 1}}, resource.Null)
	tr.Create(3, gpu.KindRenderPass, &gpu.RenderPassDesc{Attachments: []gpu.AttachmentDesc{{
		Format: gpu.FormatRGBA8Unorm, LoadOp: gpu.LoadOpClear, FinalLayout: gpu.LayoutTransferSrc,
	}}}, resource.Null)
	tr.Create(4, gpu.KindFramebuffer, &gpu.FramebufferDesc{RenderPass: 3, Attachments: []gpu.Handle{2}, Width: 4, Height: 4}, resource.Null)
	tr.Create(5, gpu.KindBuffer, &gpu.BufferDesc{Size: 64}, resource.Null)
	tr.Create(6, gpu.KindDescriptorSetLayout, &gpu.DescriptorSetLayoutDesc{Bindings: []gpu.DescriptorLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 1},
	}}, resource.Null)
	tr.Create(7, gpu.KindDescriptorPool, &gpu.DescriptorPoolDesc{MaxSets: 1}, resource.Null)
	require.NoError(t, tr.AllocateSet(8, 7, 6))
	require.NoError(t, tr.UpdateDescriptorSets([]gpu.DescriptorWrite{{Set: 8, Type: gpu.DescriptorStorageBuffer,
		Buffers: []gpu.BufferInfo{{Buffer: 5, Range: 64}}}}, nil))
	return tr
}

func TestTrackerRenderPass(t *testing.T) {
	log.Testing(t)
	tr := newTestTracker(t)
	cb := NewCmdBuffer()
	for _, c := range []gpu.Command{
		&gpu.BeginRenderPass{RenderPass: 3, Framebuffer: 4, Area: gpu.Rect{Width: 4, Height: 4}},
		&gpu.BindVertexBuffers{Buffers: []gpu.Handle{5}},
		&gpu.Draw{VertexCount: 3, InstanceCount: 1},
		&gpu.EndRenderPass{},
	} {
		tr.Record(cb, c)
	}
	require.Len(t, cb.Ops, 2)
	assert.Equal(t, gpu.SubpassLayout, cb.Ops[0].Layout)
	assert.Equal(t, gpu.LayoutTransferSrc, cb.Ops[1].Layout)
	assert.Equal(t, []Use{
		{ID: 1, Usage: UsageColorTarget},
		{ID: 5, Usage: UsageVertexBuffer},
		{ID: 1, Usage: UsageColorTarget},
	}, cb.Uses)

	snap := tr.SnapshotLayouts()
	tr.ApplyLayouts(cb.Ops)
	img, _ := tr.ImageState(1)
	l, _ := img.LayoutAt(0, 0)
	assert.Equal(t, gpu.LayoutTransferSrc, l)
	l, _ = img.LayoutAt(1, 0)
	assert.Equal(t, gpu.LayoutUndefined, l, "only the viewed mip changes")
	require.NoError(t, tr.ValidateAll())

	tr.RestoreLayouts(snap)
	img, _ = tr.ImageState(1)
	l, _ = img.LayoutAt(0, 0)
	assert.Equal(t, gpu.LayoutUndefined, l)
}

func TestTrackerUses(t *testing.T) {
	log.Testing(t)
	tr := newTestTracker(t)
	rs := NewRenderState()
	rs.Apply(&gpu.BindDescriptorSets{BindPoint: gpu.BindCompute, Layout: 9, Sets: []gpu.Handle{8}})
	assert.Equal(t, []Use{{ID: 5, Usage: UsageReadWrite}}, tr.Uses(rs, &gpu.Dispatch{X: 1, Y: 1, Z: 1}))
	assert.Equal(t, resource.FrameRefReadBeforeWrite, UsageReadWrite.FrameRef())
	assert.Equal(t, []Use{{ID: 5, Usage: UsageCopySrc}, {ID: 1, Usage: UsageCopyDst}},
		tr.Uses(rs, &gpu.CopyBufferToImage{Src: 5, Dst: 1}))
	assert.True(t, UsageClear.Writes())
	assert.False(t, UsageBarrier.Writes())

	assert.Equal(t, []resource.ID{8}, tr.Children(7))
	tr.Destroy(8)
	_, ok := tr.DescriptorSet(8)
	assert.False(t, ok)
	assert.Error(t, tr.AllocateSet(10, 7, 5), "a buffer is not a set layout")

	require.NoError(t, tr.BindMemory(5, 11, 0))
	assert.Equal(t, []resource.ID{11}, tr.Backing(5))
	assert.Equal(t, []resource.ID{5}, tr.BoundTo(11))
	assert.Empty(t, tr.BoundTo(12))
}

func TestTrackerDescs(t *testing.T) {
	log.Testing(t)
	tr := newTestTracker(t)
	img, ok := tr.ImageDesc(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), img.MipLevels)
	buf, ok := tr.BufferDesc(5)
	require.True(t, ok)
	assert.Equal(t, uint64(64), buf.Size)
	_, ok = tr.BufferDesc(1)
	assert.False(t, ok, "an image is not a buffer")
	_, ok = tr.ImageDesc(99)
	assert.False(t, ok)
	view, ok := tr.ViewDesc(2)
	require.True(t, ok)
	assert.Equal(t, gpu.Handle(1), view.Image)
}
