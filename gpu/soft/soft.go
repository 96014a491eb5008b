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

// Package soft is a software implementation of gpu.Driver. Every object lives
// in host memory and submissions execute synchronously on the calling
// goroutine, which makes it the reference backend for tests and for
// replaying captures without a GPU.
package soft

import (
	"context"
	"sync"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/pkg/errors"
)

// Name is the name the backend is registered under.
const Name = "soft"

// ID is the driver id written into capture headers.
const ID = 0x50f7

type backend struct{}

func init() { gpu.Register(backend{}) }

func (backend) Info() gpu.Info { return gpu.Info{Name: Name, ID: ID, Vendor: "software"} }

func (backend) Open(ctx context.Context, d gpu.DeviceDesc) (gpu.Driver, error) {
	return New(ctx, d), nil
}

// New returns a new software device.
func New(ctx context.Context, d gpu.DeviceDesc) gpu.Driver {
	drv := &driver{
		desc:    d,
		objects: map[gpu.Handle]object{},
		next:    0x1000,
	}
	drv.queue = drv.add(&queue{})
	log.D(ctx, "Opened soft device %q (validation: %v)", d.Name, d.Validation)
	return drv
}

type object interface {
	kind() gpu.ObjectKind
}

type queue struct{}

func (*queue) kind() gpu.ObjectKind { return gpu.KindQueue }

type memory struct {
	desc gpu.MemoryDesc
	data []byte
}

func (*memory) kind() gpu.ObjectKind { return gpu.KindMemory }

type buffer struct {
	desc gpu.BufferDesc
	storage
}

func (*buffer) kind() gpu.ObjectKind { return gpu.KindBuffer }

type image struct {
	desc gpu.ImageDesc
	storage
	layouts []gpu.ImageLayout
}

func (*image) kind() gpu.ObjectKind { return gpu.KindImage }

func (i *image) layoutIndex(mip, layer uint32) int {
	return int(mip*i.desc.ArrayLayers + layer)
}

type imageView struct{ desc gpu.ImageViewDesc }

func (*imageView) kind() gpu.ObjectKind { return gpu.KindImageView }

type shader struct{ desc gpu.ShaderDesc }

func (*shader) kind() gpu.ObjectKind { return gpu.KindShader }

type setLayout struct{ desc gpu.DescriptorSetLayoutDesc }

func (*setLayout) kind() gpu.ObjectKind { return gpu.KindDescriptorSetLayout }

type pipelineLayout struct{ desc gpu.PipelineLayoutDesc }

func (*pipelineLayout) kind() gpu.ObjectKind { return gpu.KindPipelineLayout }

type renderPass struct{ desc gpu.RenderPassDesc }

func (*renderPass) kind() gpu.ObjectKind { return gpu.KindRenderPass }

type framebuffer struct{ desc gpu.FramebufferDesc }

func (*framebuffer) kind() gpu.ObjectKind { return gpu.KindFramebuffer }

type pipeline struct {
	graphics *gpu.GraphicsPipelineDesc
	compute  *gpu.ComputePipelineDesc
}

func (*pipeline) kind() gpu.ObjectKind { return gpu.KindPipeline }

type descriptorPool struct {
	desc gpu.DescriptorPoolDesc
	sets []gpu.Handle
}

func (*descriptorPool) kind() gpu.ObjectKind { return gpu.KindDescriptorPool }

type descriptor struct {
	typ gpu.DescriptorType
	buf gpu.BufferInfo
	img gpu.ImageInfo
}

type descriptorSet struct {
	pool     gpu.Handle
	layout   gpu.DescriptorSetLayoutDesc
	bindings map[uint32][]descriptor
}

func (*descriptorSet) kind() gpu.ObjectKind { return gpu.KindDescriptorSet }

type commandPool struct{ cbs []gpu.Handle }

func (*commandPool) kind() gpu.ObjectKind { return gpu.KindCommandPool }

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type commandBuffer struct {
	pool  gpu.Handle
	state cbState
	cmds  []gpu.Command
}

func (*commandBuffer) kind() gpu.ObjectKind { return gpu.KindCommandBuffer }

type semaphore struct{ signalled bool }

func (*semaphore) kind() gpu.ObjectKind { return gpu.KindSemaphore }

type fence struct{ signalled bool }

func (*fence) kind() gpu.ObjectKind { return gpu.KindFence }

type driver struct {
	mu          sync.Mutex
	desc        gpu.DeviceDesc
	objects     map[gpu.Handle]object
	next        gpu.Handle
	queue       gpu.Handle
	submissions int
}

func (d *driver) add(o object) gpu.Handle {
	d.next++
	h := d.next
	d.objects[h] = o
	return h
}

func get[T object](d *driver, h gpu.Handle) (T, error) {
	o, ok := d.objects[h].(T)
	if !ok {
		var zero T
		if h == gpu.Null {
			return zero, errors.Errorf("Null handle where %T expected", zero)
		}
		return zero, errors.Errorf("Handle 0x%x is not a %T", uint64(h), zero)
	}
	return o, nil
}

func (d *driver) Info() gpu.Info   { return backend{}.Info() }
func (d *driver) Queue() gpu.Handle { return d.queue }

func (d *driver) Kind(h gpu.Handle) gpu.ObjectKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.objects[h]; ok {
		return o.kind()
	}
	return gpu.KindUnknown
}

func (d *driver) Stats() gpu.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.Stats{Objects: len(d.objects) - 1, Submissions: d.submissions}
}

func (d *driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = map[gpu.Handle]object{d.queue: &queue{}}
	return nil
}

func (d *driver) CreateMemory(ctx context.Context, desc gpu.MemoryDesc) (gpu.Handle, error) {
	if desc.Size == 0 {
		return gpu.Null, errors.New("Zero sized memory allocation")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&memory{desc: desc, data: make([]byte, desc.Size)}), nil
}

func (d *driver) CreateBuffer(ctx context.Context, desc gpu.BufferDesc) (gpu.Handle, error) {
	if desc.Size == 0 {
		return gpu.Null, errors.New("Zero sized buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&buffer{desc: desc, storage: newStorage(desc.Size, desc.Sparse)}), nil
}

func (d *driver) CreateImage(ctx context.Context, desc gpu.ImageDesc) (gpu.Handle, error) {
	if desc.Format.Size() == 0 || desc.Width == 0 || desc.Height == 0 || desc.MipLevels == 0 || desc.ArrayLayers == 0 {
		return gpu.Null, errors.Errorf("Invalid image description %+v", desc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	img := &image{
		desc:    desc,
		storage: newStorage(desc.Size(), desc.Sparse),
		layouts: make([]gpu.ImageLayout, desc.MipLevels*desc.ArrayLayers),
	}
	return d.add(img), nil
}

func (d *driver) bindMemory(st *storage, h gpu.Handle, offset uint64) error {
	mem, err := get[*memory](d, h)
	if err != nil {
		return err
	}
	if st.sparse {
		return errors.New("Sparse resources are bound with BindSparse")
	}
	if st.mem != gpu.Null {
		return errors.New("Resource already bound to memory")
	}
	if offset+st.size > uint64(len(mem.data)) {
		return errors.Errorf("Binding %d bytes at %d overflows memory of %d bytes", st.size, offset, len(mem.data))
	}
	st.mem, st.memOffset = h, offset
	return nil
}

func (d *driver) BindBufferMemory(ctx context.Context, buf, mem gpu.Handle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := get[*buffer](d, buf)
	if err != nil {
		return err
	}
	return d.bindMemory(&b.storage, mem, offset)
}

func (d *driver) BindImageMemory(ctx context.Context, img, mem gpu.Handle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, err := get[*image](d, img)
	if err != nil {
		return err
	}
	return d.bindMemory(&i.storage, mem, offset)
}

func (d *driver) CreateImageView(ctx context.Context, desc gpu.ImageViewDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := get[*image](d, desc.Image)
	if err != nil {
		return gpu.Null, err
	}
	desc.Range = desc.Range.Resolve(img.desc.MipLevels, img.desc.ArrayLayers)
	if desc.Range.BaseMip+desc.Range.MipCount > img.desc.MipLevels ||
		desc.Range.BaseLayer+desc.Range.LayerCount > img.desc.ArrayLayers ||
		desc.Range.MipCount == 0 || desc.Range.LayerCount == 0 {
		return gpu.Null, errors.Errorf("View range %v outside image", desc.Range)
	}
	if desc.Format == gpu.FormatUndefined {
		desc.Format = img.desc.Format
	}
	return d.add(&imageView{desc: desc}), nil
}

func (d *driver) CreateShader(ctx context.Context, desc gpu.ShaderDesc) (gpu.Handle, error) {
	if _, ok := Shader(desc.EntryPoint); !ok {
		return gpu.Null, errors.Errorf("Unknown shader entry point %q", desc.EntryPoint)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&shader{desc: desc}), nil
}

func (d *driver) CreateDescriptorSetLayout(ctx context.Context, desc gpu.DescriptorSetLayoutDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&setLayout{desc: desc}), nil
}

func (d *driver) CreatePipelineLayout(ctx context.Context, desc gpu.PipelineLayoutDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range desc.SetLayouts {
		if _, err := get[*setLayout](d, l); err != nil {
			return gpu.Null, err
		}
	}
	return d.add(&pipelineLayout{desc: desc}), nil
}

func (d *driver) CreateRenderPass(ctx context.Context, desc gpu.RenderPassDesc) (gpu.Handle, error) {
	if len(desc.Attachments) == 0 {
		return gpu.Null, errors.New("Render pass without attachments")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&renderPass{desc: desc}), nil
}

func (d *driver) CreateFramebuffer(ctx context.Context, desc gpu.FramebufferDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, err := get[*renderPass](d, desc.RenderPass)
	if err != nil {
		return gpu.Null, err
	}
	if len(desc.Attachments) != len(rp.desc.Attachments) {
		return gpu.Null, errors.Errorf("Framebuffer has %d attachments, render pass %d", len(desc.Attachments), len(rp.desc.Attachments))
	}
	for _, a := range desc.Attachments {
		if _, err := get[*imageView](d, a); err != nil {
			return gpu.Null, err
		}
	}
	return d.add(&framebuffer{desc: desc}), nil
}

func (d *driver) CreateGraphicsPipeline(ctx context.Context, desc gpu.GraphicsPipelineDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := get[*pipelineLayout](d, desc.Layout); err != nil {
		return gpu.Null, err
	}
	if _, err := get[*renderPass](d, desc.RenderPass); err != nil {
		return gpu.Null, err
	}
	vs, err := get[*shader](d, desc.VertexShader)
	if err != nil {
		return gpu.Null, err
	}
	fs, err := get[*shader](d, desc.FragmentShader)
	if err != nil {
		return gpu.Null, err
	}
	if vs.desc.Stage != gpu.StageVertex || fs.desc.Stage != gpu.StageFragment {
		return gpu.Null, errors.New("Graphics pipeline needs a vertex and a fragment shader")
	}
	if desc.VertexStride < 8 {
		return gpu.Null, errors.Errorf("Vertex stride %d too small for a float2 position", desc.VertexStride)
	}
	return d.add(&pipeline{graphics: &desc}), nil
}

func (d *driver) CreateComputePipeline(ctx context.Context, desc gpu.ComputePipelineDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := get[*pipelineLayout](d, desc.Layout); err != nil {
		return gpu.Null, err
	}
	cs, err := get[*shader](d, desc.Shader)
	if err != nil {
		return gpu.Null, err
	}
	if cs.desc.Stage != gpu.StageCompute {
		return gpu.Null, errors.New("Compute pipeline needs a compute shader")
	}
	return d.add(&pipeline{compute: &desc}), nil
}

func (d *driver) CreateDescriptorPool(ctx context.Context, desc gpu.DescriptorPoolDesc) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&descriptorPool{desc: desc}), nil
}

func (d *driver) AllocateDescriptorSet(ctx context.Context, pool, layout gpu.Handle) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := get[*descriptorPool](d, pool)
	if err != nil {
		return gpu.Null, err
	}
	l, err := get[*setLayout](d, layout)
	if err != nil {
		return gpu.Null, err
	}
	if p.desc.MaxSets != 0 && uint32(len(p.sets)) >= p.desc.MaxSets {
		return gpu.Null, errors.Errorf("Descriptor pool exhausted (%d sets)", p.desc.MaxSets)
	}
	h := d.add(&descriptorSet{pool: pool, layout: l.desc, bindings: map[uint32][]descriptor{}})
	p.sets = append(p.sets, h)
	return h, nil
}

func (d *driver) ResetDescriptorPool(ctx context.Context, pool gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := get[*descriptorPool](d, pool)
	if err != nil {
		return err
	}
	for _, s := range p.sets {
		delete(d.objects, s)
	}
	p.sets = nil
	return nil
}

func (d *driver) UpdateDescriptorSets(ctx context.Context, writes []gpu.DescriptorWrite, copies []gpu.DescriptorCopy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		set, err := get[*descriptorSet](d, w.Set)
		if err != nil {
			return err
		}
		lb, ok := set.layout.Binding(w.Binding)
		if !ok {
			return errors.Errorf("Descriptor set has no binding %d", w.Binding)
		}
		if lb.Type != w.Type {
			return errors.Errorf("Binding %d is type %d, write is type %d", w.Binding, lb.Type, w.Type)
		}
		count := len(w.Buffers)
		if !w.Type.IsBuffer() {
			count = len(w.Images)
		}
		if uint32(count)+w.ArrayElement > lb.Count {
			return errors.Errorf("Write of %d descriptors at %d overflows binding %d", count, w.ArrayElement, w.Binding)
		}
		slots := set.bindings[w.Binding]
		if len(slots) < int(lb.Count) {
			grown := make([]descriptor, lb.Count)
			copy(grown, slots)
			slots = grown
		}
		for i := 0; i < count; i++ {
			desc := descriptor{typ: w.Type}
			if w.Type.IsBuffer() {
				if _, err := get[*buffer](d, w.Buffers[i].Buffer); err != nil {
					return err
				}
				desc.buf = w.Buffers[i]
			} else {
				if _, err := get[*imageView](d, w.Images[i].View); err != nil {
					return err
				}
				desc.img = w.Images[i]
			}
			slots[int(w.ArrayElement)+i] = desc
		}
		set.bindings[w.Binding] = slots
	}
	for _, c := range copies {
		src, err := get[*descriptorSet](d, c.Src)
		if err != nil {
			return err
		}
		dst, err := get[*descriptorSet](d, c.Dst)
		if err != nil {
			return err
		}
		from := src.bindings[c.SrcBinding]
		if int(c.SrcElement+c.Count) > len(from) {
			return errors.Errorf("Descriptor copy reads past binding %d", c.SrcBinding)
		}
		lb, ok := dst.layout.Binding(c.DstBinding)
		if !ok || c.DstElement+c.Count > lb.Count {
			return errors.Errorf("Descriptor copy writes past binding %d", c.DstBinding)
		}
		to := dst.bindings[c.DstBinding]
		if len(to) < int(lb.Count) {
			grown := make([]descriptor, lb.Count)
			copy(grown, to)
			to = grown
		}
		copy(to[c.DstElement:c.DstElement+c.Count], from[c.SrcElement:c.SrcElement+c.Count])
		dst.bindings[c.DstBinding] = to
	}
	return nil
}

func (d *driver) CreateCommandPool(ctx context.Context) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&commandPool{}), nil
}

func (d *driver) AllocateCommandBuffer(ctx context.Context, pool gpu.Handle) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := get[*commandPool](d, pool)
	if err != nil {
		return gpu.Null, err
	}
	h := d.add(&commandBuffer{pool: pool})
	p.cbs = append(p.cbs, h)
	return h, nil
}

func (d *driver) ResetCommandPool(ctx context.Context, pool gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := get[*commandPool](d, pool)
	if err != nil {
		return err
	}
	for _, h := range p.cbs {
		if cb, ok := d.objects[h].(*commandBuffer); ok {
			cb.state, cb.cmds = cbInitial, nil
		}
	}
	return nil
}

func (d *driver) CreateSemaphore(ctx context.Context) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&semaphore{}), nil
}

func (d *driver) CreateFence(ctx context.Context, signalled bool) (gpu.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(&fence{signalled: signalled}), nil
}

func (d *driver) Destroy(ctx context.Context, h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.objects[h]
	if !ok || h == d.queue {
		return errors.Errorf("Destroying unknown handle 0x%x", uint64(h))
	}
	switch o := o.(type) {
	case *commandPool:
		for _, cb := range o.cbs {
			delete(d.objects, cb)
		}
	case *descriptorPool:
		for _, s := range o.sets {
			delete(d.objects, s)
		}
	}
	delete(d.objects, h)
	return nil
}

func (d *driver) BeginCommandBuffer(ctx context.Context, cb gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := get[*commandBuffer](d, cb)
	if err != nil {
		return err
	}
	c.state, c.cmds = cbRecording, nil
	return nil
}

func (d *driver) Record(ctx context.Context, cb gpu.Handle, cmd gpu.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := get[*commandBuffer](d, cb)
	if err != nil {
		return err
	}
	if c.state != cbRecording {
		return errors.Errorf("Recording %v into a command buffer that is not recording", cmd.Kind())
	}
	for _, h := range cmd.Handles() {
		if *h != gpu.Null {
			if _, ok := d.objects[*h]; !ok {
				return errors.Errorf("%v refers to unknown handle 0x%x", cmd.Kind(), uint64(*h))
			}
		}
	}
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (d *driver) EndCommandBuffer(ctx context.Context, cb gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := get[*commandBuffer](d, cb)
	if err != nil {
		return err
	}
	if c.state != cbRecording {
		return errors.New("Ending a command buffer that is not recording")
	}
	c.state = cbExecutable
	return nil
}

func (d *driver) QueueWaitIdle(ctx context.Context, q gpu.Handle) error {
	if q != d.queue {
		return errors.Errorf("Unknown queue 0x%x", uint64(q))
	}
	return nil
}

func (d *driver) DeviceWaitIdle(ctx context.Context) error { return nil }

func (d *driver) WaitFence(ctx context.Context, h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := get[*fence](d, h)
	if err != nil {
		return err
	}
	if !f.signalled {
		return errors.New("Waiting on a fence that no submission will signal")
	}
	return nil
}

func (d *driver) ResetFence(ctx context.Context, h gpu.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := get[*fence](d, h)
	if err != nil {
		return err
	}
	f.signalled = false
	return nil
}

func (d *driver) ReadMemory(ctx context.Context, h gpu.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := get[*memory](d, h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(m.data)) {
		return errors.Errorf("Read of %d bytes at %d past memory end %d", len(data), offset, len(m.data))
	}
	copy(data, m.data[offset:])
	return nil
}

func (d *driver) WriteMemory(ctx context.Context, h gpu.Handle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := get[*memory](d, h)
	if err != nil {
		return err
	}
	if !m.desc.HostVisible {
		return errors.New("Host write to memory that is not host visible")
	}
	if offset+uint64(len(data)) > uint64(len(m.data)) {
		return errors.Errorf("Write of %d bytes at %d past memory end %d", len(data), offset, len(m.data))
	}
	copy(m.data[offset:], data)
	return nil
}
