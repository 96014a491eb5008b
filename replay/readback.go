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

package replay

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/metrics"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Texture is one subresource of an image read back from the device.
type Texture struct {
	ID     resource.ID
	Desc   gpu.ImageDesc
	Mip    uint32
	Layer  uint32
	Width  uint32
	Height uint32
	Format gpu.Format
	Data   []byte
}

// Texel returns the decoded texel at x, y.
func (t *Texture) Texel(x, y uint32) [4]float32 {
	size := t.Format.Size()
	i := (y*t.Width + x) * size
	return gpu.DecodeTexel(t.Format, t.Data[i:i+size])
}

func (t *Texture) clone() *Texture {
	out := *t
	out.Data = append([]byte(nil), t.Data...)
	return &out
}

// BufferInfo describes a buffer of the capture.
type BufferInfo struct {
	ID     resource.ID
	Desc   gpu.BufferDesc
	Memory resource.ID
	Offset uint64
}

// ResourceDesc is an entry of the resource list.
type ResourceDesc struct {
	ID   resource.ID
	Kind gpu.ObjectKind
	// Live is false for resources whose live object was never created or
	// has been removed.
	Live bool
	Name string
}

// PipelineState is the bound state at the current event.
type PipelineState struct {
	EventID uint32
	CB      resource.ID
	State   *state.RenderState
	// Command is the command of the event in ID form, or nil.
	Command gpu.Command

	Graphics    *gpu.GraphicsPipelineDesc
	Compute     *gpu.ComputePipelineDesc
	Attachments []state.Attachment
	// Sets holds the current contents of every bound descriptor set.
	Sets map[resource.ID]*state.DescriptorSet
}

type readKind uint64

const (
	readTexture readKind = iota + 1
	readBuffer
)

// cacheKey returns the cache key of a read at the current position. Reads
// are only cached after a replay whose result depends on its arguments alone.
func (r *Replayer) cacheKey(kind readKind, id resource.ID, args ...uint64) (uint64, bool) {
	if !r.pos.valid || r.cache == nil {
		return 0, false
	}
	d := xxhash.New()
	var b [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(b[:], v)
		d.Write(b[:])
	}
	put(uint64(kind))
	put(uint64(id))
	put(uint64(r.pos.event))
	put(uint64(r.pos.mode))
	for _, a := range args {
		put(a)
	}
	return d.Sum64(), true
}

func (r *Replayer) cached(key uint64, keyed bool) (interface{}, bool) {
	if !keyed {
		return nil, false
	}
	v, hit := r.cache.Get(key)
	metrics.CacheHit(hit)
	return v, hit
}

// GetTexture reads one subresource of image id as left by the last replay.
func (r *Replayer) GetTexture(ctx context.Context, id resource.ID, mip, layer uint32) (*Texture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texture(ctx, id, mip, layer)
}

func (r *Replayer) texture(ctx context.Context, id resource.ID, mip, layer uint32) (*Texture, error) {
	desc, ok := r.Tracker.ImageDesc(id)
	if !ok {
		return nil, errors.Errorf("%v is not an image", id)
	}
	if mip >= desc.MipLevels || layer >= desc.ArrayLayers {
		return nil, errors.Errorf("Mip %d layer %d is outside %v", mip, layer, id)
	}
	key, keyed := r.cacheKey(readTexture, id, uint64(mip), uint64(layer))
	if v, hit := r.cached(key, keyed); hit {
		return v.(*Texture).clone(), nil
	}
	img, err := r.Manager.GetLiveHandle(id)
	if err != nil {
		return nil, err
	}
	layouts, ok := r.Tracker.ImageState(id)
	if !ok {
		return nil, errors.Errorf("%v has no layout state", id)
	}
	from, _ := layouts.LayoutAt(mip, layer)
	rng := gpu.SubresourceRange{BaseMip: mip, MipCount: 1, BaseLayer: layer, LayerCount: 1}

	size := desc.SubresourceSize(mip)
	buf, mem, err := r.hostBuffer(ctx, size)
	if err != nil {
		return nil, err
	}
	defer r.destroy(ctx, buf, mem)

	var cmds []gpu.Command
	if from != gpu.LayoutTransferSrc {
		cmds = append(cmds, &gpu.PipelineBarrier{Images: []gpu.ImageBarrier{
			{Image: img, Range: rng, OldLayout: from, NewLayout: gpu.LayoutTransferSrc},
		}})
	}
	cmds = append(cmds, &gpu.CopyImageToBuffer{
		Src: img, Layout: gpu.LayoutTransferSrc, Dst: buf,
		Regions: []gpu.BufferImageCopy{{Mip: mip, BaseLayer: layer, LayerCount: 1}},
	})
	restore := from != gpu.LayoutTransferSrc && from != gpu.LayoutUndefined
	if restore {
		cmds = append(cmds, &gpu.PipelineBarrier{Images: []gpu.ImageBarrier{
			{Image: img, Range: rng, OldLayout: gpu.LayoutTransferSrc, NewLayout: from},
		}})
	}
	if err := r.cmds.Run(ctx, cmds...); err != nil {
		return nil, err
	}
	if from == gpu.LayoutUndefined {
		log.W(ctx, "Read %v mip %d layer %d with undefined contents", id, mip, layer)
		layouts.Transition(rng, gpu.LayoutTransferSrc)
	}
	data := make([]byte, size)
	if err := r.drv.ReadMemory(ctx, mem, 0, data); err != nil {
		return nil, err
	}
	t := &Texture{
		ID:     id,
		Desc:   desc,
		Mip:    mip,
		Layer:  layer,
		Width:  desc.MipWidth(mip),
		Height: desc.MipHeight(mip),
		Format: desc.Format,
		Data:   data,
	}
	if keyed {
		r.cache.Add(key, t.clone())
	}
	return t, nil
}

// ReadBuffer reads size bytes at offset of buffer or memory id. A size of 0,
// or one running past the end, reads to the end.
func (r *Replayer) ReadBuffer(ctx context.Context, id resource.ID, offset, size uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBuffer(ctx, id, offset, size)
}

func clampRange(offset, size, total uint64) (uint64, uint64) {
	if offset >= total {
		return total, 0
	}
	if size == 0 || size > total-offset {
		size = total - offset
	}
	return offset, size
}

func (r *Replayer) readBuffer(ctx context.Context, id resource.ID, offset, size uint64) ([]byte, error) {
	obj, ok := r.Tracker.Object(id)
	if !ok {
		return nil, errors.Errorf("Unknown resource %v", id)
	}
	var total uint64
	switch obj.Kind {
	case gpu.KindMemory:
		d, _ := r.Tracker.MemoryDesc(id)
		if !d.HostVisible {
			return nil, fault.UnsupportedError{Feature: fmt.Sprintf("reading device local memory %v", id)}
		}
		total = d.Size
	case gpu.KindBuffer:
		d, _ := r.Tracker.BufferDesc(id)
		total = d.Size
	default:
		return nil, errors.Errorf("%v is a %v, not a buffer", id, obj.Kind)
	}
	offset, size = clampRange(offset, size, total)
	if size == 0 {
		return []byte{}, nil
	}
	key, keyed := r.cacheKey(readBuffer, id, offset, size)
	if v, hit := r.cached(key, keyed); hit {
		return append([]byte(nil), v.([]byte)...), nil
	}
	live, err := r.Manager.GetLiveHandle(id)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if obj.Kind == gpu.KindMemory {
		if err := r.drv.ReadMemory(ctx, live, offset, out); err != nil {
			return nil, err
		}
	} else {
		buf, mem, err := r.hostBuffer(ctx, size)
		if err != nil {
			return nil, err
		}
		defer r.destroy(ctx, buf, mem)
		if err := r.cmds.Run(ctx, &gpu.CopyBuffer{
			Src: live, Dst: buf,
			Regions: []gpu.BufferCopy{{SrcOffset: offset, Size: size}},
		}); err != nil {
			return nil, err
		}
		if err := r.drv.ReadMemory(ctx, mem, 0, out); err != nil {
			return nil, err
		}
	}
	if keyed {
		r.cache.Add(key, append([]byte(nil), out...))
	}
	return out, nil
}

// hostBuffer creates a staging buffer the replayer does not track.
func (r *Replayer) hostBuffer(ctx context.Context, size uint64) (buf, mem gpu.Handle, err error) {
	if mem, err = r.drv.CreateMemory(ctx, gpu.MemoryDesc{Size: size, HostVisible: true}); err != nil {
		return gpu.Null, gpu.Null, err
	}
	if buf, err = r.drv.CreateBuffer(ctx, gpu.BufferDesc{Size: size, Usage: gpu.UsageTransferDst}); err != nil {
		r.destroy(ctx, mem)
		return gpu.Null, gpu.Null, err
	}
	if err = r.drv.BindBufferMemory(ctx, buf, mem, 0); err != nil {
		r.destroy(ctx, buf, mem)
		return gpu.Null, gpu.Null, err
	}
	return buf, mem, nil
}

func (r *Replayer) destroy(ctx context.Context, hs ...gpu.Handle) {
	for _, h := range hs {
		if err := r.drv.Destroy(ctx, h); err != nil {
			log.W(ctx, "Destroying staging object: %v", err)
		}
	}
}

// GetBuffer returns the creation info and binding of buffer id.
func (r *Replayer) GetBuffer(id resource.ID) (BufferInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Tracker.BufferDesc(id)
	if !ok {
		return BufferInfo{}, errors.Errorf("%v is not a buffer", id)
	}
	obj, _ := r.Tracker.Object(id)
	return BufferInfo{ID: id, Desc: d, Memory: obj.Memory, Offset: obj.MemoryOffset}, nil
}

// GetShader returns the module and reflection of shader id.
func (r *Replayer) GetShader(id resource.ID) (gpu.ShaderDesc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Tracker.ShaderDesc(id)
	if !ok {
		return gpu.ShaderDesc{}, errors.Errorf("%v is not a shader", id)
	}
	return d, nil
}

// GetActions returns the action tree of the frame.
func (r *Replayer) GetActions() []*Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actions
}

// GetEvents returns every event of the frame in order.
func (r *Replayer) GetEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// GetResources lists every resource the capture creates.
func (r *Replayer) GetResources() []ResourceDesc {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.Tracker.IDs()
	out := make([]ResourceDesc, 0, len(ids))
	for _, id := range ids {
		obj, _ := r.Tracker.Object(id)
		out = append(out, ResourceDesc{
			ID:   id,
			Kind: obj.Kind,
			Live: r.Manager.HasLive(id),
			Name: fmt.Sprintf("%v %d", obj.Kind, uint64(id)),
		})
	}
	return out
}

// GetDescriptorSet returns a copy of the current contents of set id.
func (r *Replayer) GetDescriptorSet(id resource.ID) (*state.DescriptorSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Tracker.DescriptorSet(id)
	if !ok {
		return nil, errors.Errorf("%v is not a descriptor set", id)
	}
	return s.Clone(), nil
}

// GetUsage returns the events that use resource id, in event order.
func (r *Replayer) GetUsage(id resource.ID) []EventUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventUsage(nil), r.usage[id]...)
}

// PipelineState returns the bound state after the current event. Events
// outside a command buffer have no bound state.
func (r *Replayer) PipelineState(ctx context.Context) (*PipelineState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.current
	out := &PipelineState{EventID: ev, State: state.NewRenderState(), Sets: map[resource.ID]*state.DescriptorSet{}}
	inst, ok := r.instanceOf(ev)
	if !ok {
		return out, nil
	}
	rs, cmd, err := r.carried(inst, ev)
	if err != nil {
		return nil, err
	}
	if cmd != nil {
		rs.Apply(cmd)
	}
	out.CB, out.State, out.Command = inst.CB, rs, cmd
	if obj, ok := r.Tracker.Object(rs.Graphics.Pipeline); ok {
		out.Graphics, _ = obj.Desc.(*gpu.GraphicsPipelineDesc)
	}
	if obj, ok := r.Tracker.Object(rs.Compute.Pipeline); ok {
		out.Compute, _ = obj.Desc.(*gpu.ComputePipelineDesc)
	}
	if rs.InRenderPass {
		if out.Attachments, err = r.Tracker.Attachments(rs.Framebuffer); err != nil {
			return nil, err
		}
	}
	for _, b := range []state.PipelineBinding{rs.Graphics, rs.Compute} {
		for _, set := range b.Sets {
			if s, ok := r.Tracker.DescriptorSet(set); ok {
				out.Sets[set] = s.Clone()
			}
		}
	}
	log.D(ctx, "Pipeline state at event %d of %v", ev, inst.CB)
	return out, nil
}
