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

package capture

import (
	"context"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

var _ gpu.Driver = (*Context)(nil)

// pool tracks the children of a descriptor or command pool.
type pool struct {
	children resource.Arena[resource.ID]
	slots    map[resource.ID]resource.Slot
}

func newPool() *pool { return &pool{slots: map[resource.ID]resource.Slot{}} }

// creation describes a new object in ID form.
type creation struct {
	kind      gpu.ObjectKind
	desc      gpu.Described
	parent    resource.ID
	layout    resource.ID
	signalled bool
}

// split returns an ID form copy of d for the log and a live copy for the
// driver. Neither shares memory with d.
func split[T any, P interface {
	*T
	gpu.Described
}](c *Context, d P) (P, P, error) {
	idForm, err := gpu.Clone(d, P(new(T)))
	if err != nil {
		return nil, nil, err
	}
	live, err := gpu.Clone(d, P(new(T)))
	if err != nil {
		return nil, nil, err
	}
	if err := gpu.Remap(live, c.live); err != nil {
		return nil, nil, err
	}
	return idForm, live, nil
}

// wrap gives the native object h an ID and writes its creation chunk into
// its record.
func (c *Context) wrap(ctx context.Context, t *Thread, cr creation, h gpu.Handle, err error) (gpu.Handle, error) {
	if err != nil {
		return gpu.Null, err
	}
	id, rec := c.Manager.Wrap(ctx, h, cr.kind)
	if cr.kind == gpu.KindDescriptorSet {
		if err := c.Tracker.AllocateSet(id, cr.parent, cr.layout); err != nil {
			return gpu.Null, err
		}
	} else {
		c.Tracker.Create(id, cr.kind, cr.desc, cr.parent)
	}
	payload := &api.Create{
		Kind:      cr.kind,
		ID:        id,
		Parent:    cr.parent,
		Layout:    cr.layout,
		Signalled: cr.signalled,
		Desc:      cr.desc,
	}
	typ, err := api.CreateChunk(cr.kind, cr.desc)
	if err != nil {
		return gpu.Null, err
	}
	chunk, err := t.w.Object(typ, payload)
	if err != nil {
		return gpu.Null, errors.Wrapf(err, "Recording creation of %v", id)
	}
	rec.AddChunk(chunk)
	for _, ref := range payload.References() {
		rec.AddParent(c.Manager.GetResourceRecord(ref))
	}
	if c.capturing() {
		c.Manager.MarkResourceFrameReferenced(id, resource.FrameRefCompleteWrite)
	}
	return gpu.Handle(id), nil
}

func (c *Context) Info() gpu.Info    { return c.drv.Info() }
func (c *Context) Queue() gpu.Handle { return gpu.Handle(c.queue) }
func (c *Context) Stats() gpu.Stats  { return c.drv.Stats() }

// Kind returns the kind of the object with ID h.
func (c *Context) Kind(h gpu.Handle) gpu.ObjectKind {
	if resource.ID(h) == c.queue {
		return gpu.KindQueue
	}
	if o, ok := c.Tracker.Object(resource.ID(h)); ok {
		return o.Kind
	}
	return gpu.KindUnknown
}

func (c *Context) CreateMemory(ctx context.Context, d gpu.MemoryDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateMemory(ctx, d)
	return c.wrap(ctx, t, creation{kind: gpu.KindMemory, desc: &d}, h, err)
}

func (c *Context) CreateBuffer(ctx context.Context, d gpu.BufferDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateBuffer(ctx, d)
	return c.wrap(ctx, t, creation{kind: gpu.KindBuffer, desc: &d}, h, err)
}

func (c *Context) CreateImage(ctx context.Context, d gpu.ImageDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateImage(ctx, d)
	return c.wrap(ctx, t, creation{kind: gpu.KindImage, desc: &d}, h, err)
}

func (c *Context) bindMemory(ctx context.Context, typ serialise.ChunkType, res, mem gpu.Handle, offset uint64,
	bind func(ctx context.Context, res, mem gpu.Handle, offset uint64) error) error {
	t, done := c.enter(ctx)
	defer done()
	liveRes, err := c.live(res)
	if err != nil {
		return err
	}
	liveMem, err := c.live(mem)
	if err != nil {
		return err
	}
	if err := bind(ctx, liveRes, liveMem, offset); err != nil {
		return err
	}
	id, memID := resource.ID(res), resource.ID(mem)
	if err := c.Tracker.BindMemory(id, memID, offset); err != nil {
		return err
	}
	chunk, err := t.w.Object(typ, &api.BindMemory{Resource: id, Memory: memID, Offset: offset})
	if err != nil {
		return err
	}
	rec := c.Manager.GetResourceRecord(id)
	if rec == nil {
		return fault.LookupError{ID: uint64(id)}
	}
	rec.AddChunk(chunk)
	rec.AddParent(c.Manager.GetResourceRecord(memID))
	return nil
}

func (c *Context) BindBufferMemory(ctx context.Context, buffer, memory gpu.Handle, offset uint64) error {
	return c.bindMemory(ctx, api.ChunkBindBufferMemory, buffer, memory, offset, c.drv.BindBufferMemory)
}

func (c *Context) BindImageMemory(ctx context.Context, image, memory gpu.Handle, offset uint64) error {
	return c.bindMemory(ctx, api.ChunkBindImageMemory, image, memory, offset, c.drv.BindImageMemory)
}

func (c *Context) CreateImageView(ctx context.Context, d gpu.ImageViewDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.ImageViewDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateImageView(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindImageView, desc: idForm}, h, err)
}

func (c *Context) CreateShader(ctx context.Context, d gpu.ShaderDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.ShaderDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateShader(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindShader, desc: idForm}, h, err)
}

// ReplaceShader would swap the code of a shader while capturing. Shader
// editing is not supported.
func (c *Context) ReplaceShader(ctx context.Context, shader gpu.Handle, d gpu.ShaderDesc) error {
	return fault.UnsupportedError{Feature: "ReplaceShader"}
}

func (c *Context) CreateDescriptorSetLayout(ctx context.Context, d gpu.DescriptorSetLayoutDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.DescriptorSetLayoutDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateDescriptorSetLayout(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindDescriptorSetLayout, desc: idForm}, h, err)
}

func (c *Context) CreatePipelineLayout(ctx context.Context, d gpu.PipelineLayoutDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.PipelineLayoutDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreatePipelineLayout(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindPipelineLayout, desc: idForm}, h, err)
}

func (c *Context) CreateRenderPass(ctx context.Context, d gpu.RenderPassDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.RenderPassDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateRenderPass(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindRenderPass, desc: idForm}, h, err)
}

func (c *Context) CreateFramebuffer(ctx context.Context, d gpu.FramebufferDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.FramebufferDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateFramebuffer(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindFramebuffer, desc: idForm}, h, err)
}

func (c *Context) CreateGraphicsPipeline(ctx context.Context, d gpu.GraphicsPipelineDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.GraphicsPipelineDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateGraphicsPipeline(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindPipeline, desc: idForm}, h, err)
}

func (c *Context) CreateComputePipeline(ctx context.Context, d gpu.ComputePipelineDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	idForm, live, err := split[gpu.ComputePipelineDesc](c, &d)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.CreateComputePipeline(ctx, *live)
	return c.wrap(ctx, t, creation{kind: gpu.KindPipeline, desc: idForm}, h, err)
}

func (c *Context) CreateDescriptorPool(ctx context.Context, d gpu.DescriptorPoolDesc) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateDescriptorPool(ctx, d)
	id, err := c.wrap(ctx, t, creation{kind: gpu.KindDescriptorPool, desc: &d}, h, err)
	if err == nil {
		c.addPool(resource.ID(id))
	}
	return id, err
}

func (c *Context) CreateCommandPool(ctx context.Context) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateCommandPool(ctx)
	id, err := c.wrap(ctx, t, creation{kind: gpu.KindCommandPool}, h, err)
	if err == nil {
		c.addPool(resource.ID(id))
	}
	return id, err
}

func (c *Context) addPool(id resource.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[id] = newPool()
}

// adopt makes child a member of the pool with the given ID.
func (c *Context) adopt(poolID, child resource.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[poolID]; ok {
		p.slots[child] = p.children.Alloc(child)
	}
}

func (c *Context) AllocateDescriptorSet(ctx context.Context, p, layout gpu.Handle) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	livePool, err := c.live(p)
	if err != nil {
		return gpu.Null, err
	}
	liveLayout, err := c.live(layout)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.AllocateDescriptorSet(ctx, livePool, liveLayout)
	id, err := c.wrap(ctx, t, creation{kind: gpu.KindDescriptorSet, parent: resource.ID(p), layout: resource.ID(layout)}, h, err)
	if err == nil {
		c.adopt(resource.ID(p), resource.ID(id))
	}
	return id, err
}

func (c *Context) AllocateCommandBuffer(ctx context.Context, p gpu.Handle) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	livePool, err := c.live(p)
	if err != nil {
		return gpu.Null, err
	}
	h, err := c.drv.AllocateCommandBuffer(ctx, livePool)
	id, err := c.wrap(ctx, t, creation{kind: gpu.KindCommandBuffer, parent: resource.ID(p)}, h, err)
	if err != nil {
		return id, err
	}
	c.adopt(resource.ID(p), resource.ID(id))
	c.mu.Lock()
	c.cbs[resource.ID(id)] = newCmdBuffer(resource.ID(p))
	c.mu.Unlock()
	return id, nil
}

func (c *Context) resetPool(ctx context.Context, typ serialise.ChunkType, p gpu.Handle, reset func(context.Context, gpu.Handle) error) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := c.live(p)
	if err != nil {
		return err
	}
	if err := reset(ctx, live); err != nil {
		return err
	}
	if _, err := c.frameChunk(t, typ, &api.ResetPool{Pool: resource.ID(p)}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pl, ok := c.pools[resource.ID(p)]
	if !ok {
		return fault.LookupError{ID: uint64(p)}
	}
	var children []resource.ID
	pl.children.Each(func(_ resource.Slot, id resource.ID) { children = append(children, id) })
	pl.children.Reset()
	pl.slots = map[resource.ID]resource.Slot{}
	for _, id := range children {
		c.forget(ctx, id)
	}
	return nil
}

func (c *Context) ResetDescriptorPool(ctx context.Context, p gpu.Handle) error {
	return c.resetPool(ctx, api.ChunkResetDescriptorPool, p, c.drv.ResetDescriptorPool)
}

func (c *Context) ResetCommandPool(ctx context.Context, p gpu.Handle) error {
	return c.resetPool(ctx, api.ChunkResetCommandPool, p, c.drv.ResetCommandPool)
}

func (c *Context) CreateSemaphore(ctx context.Context) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateSemaphore(ctx)
	return c.wrap(ctx, t, creation{kind: gpu.KindSemaphore}, h, err)
}

func (c *Context) CreateFence(ctx context.Context, signalled bool) (gpu.Handle, error) {
	t, done := c.enter(ctx)
	defer done()
	h, err := c.drv.CreateFence(ctx, signalled)
	return c.wrap(ctx, t, creation{kind: gpu.KindFence, signalled: signalled}, h, err)
}

// Destroy destroys the native object at once. While a frame is being
// captured the ID and record stay alive until the capture ends, so the frame
// can still refer to them.
func (c *Context) Destroy(ctx context.Context, h gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	id := resource.ID(h)
	live, err := c.live(h)
	if err != nil {
		return err
	}
	if err := c.drv.Destroy(ctx, live); err != nil {
		return err
	}
	if _, err := c.frameChunk(t, api.ChunkDestroy, &api.Destroy{ID: id}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pl, ok := c.pools[id]; ok {
		pl.children.Each(func(_ resource.Slot, child resource.ID) { c.forget(ctx, child) })
		delete(c.pools, id)
	}
	if o, ok := c.Tracker.Object(id); ok && o.Parent != resource.Null {
		if pl, ok := c.pools[o.Parent]; ok {
			pl.children.Free(pl.slots[id])
			delete(pl.slots, id)
		}
	}
	c.forget(ctx, id)
	return nil
}

// forget drops an object whose native object is gone. c.mu must be held.
func (c *Context) forget(ctx context.Context, id resource.ID) {
	if c.capturing() {
		c.deferred = append(c.deferred, id)
		return
	}
	c.release(ctx, id)
}

// release removes every trace of id. c.mu must be held.
func (c *Context) release(ctx context.Context, id resource.ID) {
	log.D(ctx, "Releasing %v", id)
	delete(c.cbs, id)
	c.Manager.EraseLive(id)
	c.Manager.MarkClean(id)
	c.Manager.ReleaseRecord(id)
	c.Tracker.Destroy(id)
}

// Close releases every internal object and closes the wrapped driver.
func (c *Context) Close(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if c.capturing() {
		c.abort(ctx)
	}
	if err := c.cmds.FlushQ(ctx); err != nil {
		return err
	}
	return c.drv.Close(ctx)
}
