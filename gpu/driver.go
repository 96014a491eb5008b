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
	"context"
	"sort"
	"sync"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/pkg/errors"
)

// ObjectKind is the type of a driver object.
type ObjectKind uint32

const (
	KindUnknown ObjectKind = iota
	KindDevice
	KindQueue
	KindMemory
	KindBuffer
	KindImage
	KindImageView
	KindShader
	KindDescriptorSetLayout
	KindPipelineLayout
	KindRenderPass
	KindFramebuffer
	KindPipeline
	KindDescriptorPool
	KindDescriptorSet
	KindCommandPool
	KindCommandBuffer
	KindSemaphore
	KindFence
)

var kindNames = [...]string{
	"Unknown", "Device", "Queue", "DeviceMemory", "Buffer", "Image", "ImageView", "ShaderModule",
	"DescriptorSetLayout", "PipelineLayout", "RenderPass", "Framebuffer", "Pipeline",
	"DescriptorPool", "DescriptorSet", "CommandPool", "CommandBuffer", "Semaphore", "Fence",
}

func (k ObjectKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Object<?>"
}

// Info identifies a driver variant.
type Info struct {
	Name   string
	ID     uint32
	Vendor string
}

// Stats counts live driver objects.
type Stats struct {
	Objects     int
	Submissions int
}

// Driver is the capability interface every backend variant implements. A
// Driver is one device with a single queue.
//
// Commands are recorded into command buffers with Record and only executed
// when the command buffer is submitted. Validation failures found while
// executing a submission are reported as fault.SubmitError.
type Driver interface {
	Info() Info
	Queue() Handle

	CreateMemory(ctx context.Context, d MemoryDesc) (Handle, error)
	CreateBuffer(ctx context.Context, d BufferDesc) (Handle, error)
	CreateImage(ctx context.Context, d ImageDesc) (Handle, error)
	BindBufferMemory(ctx context.Context, buffer, memory Handle, offset uint64) error
	BindImageMemory(ctx context.Context, image, memory Handle, offset uint64) error
	CreateImageView(ctx context.Context, d ImageViewDesc) (Handle, error)
	CreateShader(ctx context.Context, d ShaderDesc) (Handle, error)
	CreateDescriptorSetLayout(ctx context.Context, d DescriptorSetLayoutDesc) (Handle, error)
	CreatePipelineLayout(ctx context.Context, d PipelineLayoutDesc) (Handle, error)
	CreateRenderPass(ctx context.Context, d RenderPassDesc) (Handle, error)
	CreateFramebuffer(ctx context.Context, d FramebufferDesc) (Handle, error)
	CreateGraphicsPipeline(ctx context.Context, d GraphicsPipelineDesc) (Handle, error)
	CreateComputePipeline(ctx context.Context, d ComputePipelineDesc) (Handle, error)
	CreateDescriptorPool(ctx context.Context, d DescriptorPoolDesc) (Handle, error)
	AllocateDescriptorSet(ctx context.Context, pool, layout Handle) (Handle, error)
	ResetDescriptorPool(ctx context.Context, pool Handle) error
	UpdateDescriptorSets(ctx context.Context, writes []DescriptorWrite, copies []DescriptorCopy) error
	CreateCommandPool(ctx context.Context) (Handle, error)
	AllocateCommandBuffer(ctx context.Context, pool Handle) (Handle, error)
	ResetCommandPool(ctx context.Context, pool Handle) error
	CreateSemaphore(ctx context.Context) (Handle, error)
	CreateFence(ctx context.Context, signalled bool) (Handle, error)
	Destroy(ctx context.Context, h Handle) error

	BeginCommandBuffer(ctx context.Context, cb Handle) error
	Record(ctx context.Context, cb Handle, cmd Command) error
	EndCommandBuffer(ctx context.Context, cb Handle) error

	Submit(ctx context.Context, queue Handle, submits []SubmitInfo, fence Handle) error
	BindSparse(ctx context.Context, queue Handle, binds []SparseBindInfo, fence Handle) error
	QueueWaitIdle(ctx context.Context, queue Handle) error
	DeviceWaitIdle(ctx context.Context) error
	WaitFence(ctx context.Context, fence Handle) error
	ResetFence(ctx context.Context, fence Handle) error

	// ReadMemory and WriteMemory access host visible memory.
	ReadMemory(ctx context.Context, memory Handle, offset uint64, data []byte) error
	WriteMemory(ctx context.Context, memory Handle, offset uint64, data []byte) error

	// Kind returns the type of object h, or KindUnknown.
	Kind(h Handle) ObjectKind
	Stats() Stats
	Close(ctx context.Context) error
}

// DeviceDesc configures a new device.
type DeviceDesc struct {
	Name string
	// Validation enables layout checking on submission.
	Validation bool
}

// Backend creates drivers of one variant.
type Backend interface {
	Info() Info
	Open(ctx context.Context, d DeviceDesc) (Driver, error)
}

var (
	registryMu sync.RWMutex
	backends   = map[string]Backend{}
)

// Register makes a backend available by name. It is called from the init of
// the backend's package, following the database/sql driver pattern, and
// panics on duplicate names.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := b.Info().Name
	if _, dup := backends[name]; dup {
		panic("gpu: Register called twice for " + name)
	}
	backends[name] = b
}

// Unregister removes a backend. It is intended for tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Lookup returns the backend registered as name.
func Lookup(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := backends[name]
	if !ok {
		return nil, fault.UnsupportedError{Feature: "driver " + name + " (forgotten import?)"}
	}
	return b, nil
}

// LookupID returns the backend with the given driver id.
func LookupID(id uint32) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, b := range backends {
		if b.Info().ID == id {
			return b, nil
		}
	}
	return nil, errors.Wrapf(fault.ErrUnsupportedFeature, "No driver with id %d", id)
}

// Backends returns the names of every registered backend.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(backends))
	for n := range backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
