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

package api

import (
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
)

// DriverInit is the first chunk of every capture. It names the backend the
// capture was made with and the IDs of the implicit device objects.
type DriverInit struct {
	DriverID   uint32
	DriverName string
	Validation bool
	Device     resource.ID
	Queue      resource.ID
}

func (d *DriverInit) Serialise(s *serialise.Serialiser) {
	s.U32(&d.DriverID)
	s.String(&d.DriverName)
	s.Bool(&d.Validation)
	d.Device.Serialise(s)
	d.Queue.Serialise(s)
}

// ImageLayouts is the layout table of one image.
type ImageLayouts struct {
	ID     resource.ID
	Layout *state.ImageState
}

func (l *ImageLayouts) Serialise(s *serialise.Serialiser) {
	l.ID.Serialise(s)
	if s.Reading() {
		l.Layout = &state.ImageState{}
	}
	l.Layout.Serialise(s)
}

// CaptureBegin opens the frame. It carries the layout of every image as it
// was when the frame started.
type CaptureBegin struct {
	Frame   uint32
	Layouts []ImageLayouts
}

func (c *CaptureBegin) Serialise(s *serialise.Serialiser) {
	s.U32(&c.Frame)
	serialise.Objects(s, &c.Layouts)
}

// CaptureScope precedes the frame chunks.
type CaptureScope struct {
	Frame uint32
	// FrameOffset is the stream offset of the CaptureBegin chunk. It is
	// stored fixed width so the chunk size does not depend on it.
	FrameOffset uint64
}

func (c *CaptureScope) Serialise(s *serialise.Serialiser) {
	s.U32(&c.Frame)
	s.Fixed64(&c.FrameOffset)
}

// CaptureEnd closes the frame.
type CaptureEnd struct{}

func (*CaptureEnd) Serialise(*serialise.Serialiser) {}

// ContentsList is the InitialContentsList chunk.
type ContentsList struct {
	Needed []resource.Needed
}

func (l *ContentsList) Serialise(s *serialise.Serialiser) { serialise.Objects(s, &l.Needed) }

// Create is the payload of every creation chunk. Kind is implied by the
// chunk type and is not stored.
type Create struct {
	Kind gpu.ObjectKind
	ID   resource.ID
	// Parent is the pool of descriptor sets and command buffers.
	Parent resource.ID
	// Layout is the layout of descriptor sets.
	Layout    resource.ID
	Signalled bool
	Desc      gpu.Described
}

func (c *Create) Serialise(s *serialise.Serialiser) {
	c.ID.Serialise(s)
	switch c.Kind {
	case gpu.KindDescriptorSet:
		c.Parent.Serialise(s)
		c.Layout.Serialise(s)
	case gpu.KindCommandBuffer:
		c.Parent.Serialise(s)
	case gpu.KindFence:
		s.Bool(&c.Signalled)
	}
	if c.Desc != nil {
		c.Desc.Serialise(s)
	}
}

// References returns every other resource the created object depends on.
func (c *Create) References() []resource.ID {
	var out []resource.ID
	for _, id := range []resource.ID{c.Parent, c.Layout} {
		if id != resource.Null {
			out = append(out, id)
		}
	}
	if c.Desc != nil {
		for _, h := range c.Desc.Handles() {
			if *h != gpu.Null {
				out = append(out, resource.ID(*h))
			}
		}
	}
	return out
}

// BindMemory binds a dense buffer or image to memory.
type BindMemory struct {
	Resource resource.ID
	Memory   resource.ID
	Offset   uint64
}

func (b *BindMemory) Serialise(s *serialise.Serialiser) {
	b.Resource.Serialise(s)
	b.Memory.Serialise(s)
	s.U64(&b.Offset)
}

// ResetPool frees every child of a pool.
type ResetPool struct {
	Pool resource.ID
}

func (r *ResetPool) Serialise(s *serialise.Serialiser) { r.Pool.Serialise(s) }

// UpdateDescriptorSets writes and copies descriptors.
type UpdateDescriptorSets struct {
	Writes []gpu.DescriptorWrite
	Copies []gpu.DescriptorCopy
}

func (u *UpdateDescriptorSets) Serialise(s *serialise.Serialiser) {
	serialise.Objects(s, &u.Writes)
	serialise.Objects(s, &u.Copies)
}

func (u *UpdateDescriptorSets) Handles() []*gpu.Handle {
	var out []*gpu.Handle
	for i := range u.Writes {
		out = append(out, u.Writes[i].Handles()...)
	}
	for i := range u.Copies {
		out = append(out, u.Copies[i].Handles()...)
	}
	return out
}

// Destroy destroys an object.
type Destroy struct {
	ID resource.ID
}

func (d *Destroy) Serialise(s *serialise.Serialiser) { d.ID.Serialise(s) }

// CommandBuffer is the payload of begin and end command buffer.
type CommandBuffer struct {
	CB resource.ID
}

func (c *CommandBuffer) Serialise(s *serialise.Serialiser) { c.CB.Serialise(s) }

// Cmd is one command recorded into a command buffer.
type Cmd struct {
	CB  resource.ID
	Cmd gpu.Command
}

func (c *Cmd) Serialise(s *serialise.Serialiser) {
	c.CB.Serialise(s)
	c.Cmd.Serialise(s)
}

// QueueSubmit submits command buffers.
type QueueSubmit struct {
	Queue   resource.ID
	Submits []gpu.SubmitInfo
	Fence   resource.ID
}

func (q *QueueSubmit) Serialise(s *serialise.Serialiser) {
	q.Queue.Serialise(s)
	serialise.Objects(s, &q.Submits)
	q.Fence.Serialise(s)
}

// CommandBuffers returns the submitted command buffers in submission order.
func (q *QueueSubmit) CommandBuffers() []resource.ID {
	var out []resource.ID
	for _, sub := range q.Submits {
		for _, cb := range sub.CommandBuffers {
			out = append(out, resource.ID(cb))
		}
	}
	return out
}

// QueueBindSparse replaces the page tables of sparse resources.
type QueueBindSparse struct {
	Queue resource.ID
	Binds []gpu.SparseBindInfo
	Fence resource.ID
}

func (q *QueueBindSparse) Serialise(s *serialise.Serialiser) {
	q.Queue.Serialise(s)
	serialise.Objects(s, &q.Binds)
	q.Fence.Serialise(s)
}

// Queue is the payload of queue wait idle.
type Queue struct {
	Queue resource.ID
}

func (q *Queue) Serialise(s *serialise.Serialiser) { q.Queue.Serialise(s) }

// DeviceWaitIdle waits for all work to finish.
type DeviceWaitIdle struct{}

func (*DeviceWaitIdle) Serialise(*serialise.Serialiser) {}

// Fence is the payload of fence waits and resets.
type Fence struct {
	Fence resource.ID
}

func (f *Fence) Serialise(s *serialise.Serialiser) { f.Fence.Serialise(s) }

// WriteMemory is a host write to mapped memory.
type WriteMemory struct {
	Memory resource.ID
	Offset uint64
	Data   []byte
}

func (w *WriteMemory) Serialise(s *serialise.Serialiser) {
	w.Memory.Serialise(s)
	s.U64(&w.Offset)
	s.Bytes(&w.Data)
}
