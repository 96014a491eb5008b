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
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
)

// cmdBuffer is the capture side state of a command buffer: the chunks of its
// current recording and their effects, applied when it is submitted.
type cmdBuffer struct {
	pool   resource.ID
	chunks []*serialise.Chunk
	state  *state.CmdBuffer
	// refs are the objects the recorded commands name.
	refs map[resource.ID]struct{}
}

func newCmdBuffer(pool resource.ID) *cmdBuffer {
	return &cmdBuffer{pool: pool, state: state.NewCmdBuffer(), refs: map[resource.ID]struct{}{}}
}

func (c *Context) cmdBuffer(cb gpu.Handle) (*cmdBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.cbs[resource.ID(cb)]
	if !ok {
		return nil, fault.LookupError{ID: uint64(cb)}
	}
	return b, nil
}

func (c *Context) BeginCommandBuffer(ctx context.Context, cb gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	b, err := c.cmdBuffer(cb)
	if err != nil {
		return err
	}
	live, err := c.live(cb)
	if err != nil {
		return err
	}
	if err := c.drv.BeginCommandBuffer(ctx, live); err != nil {
		return err
	}
	chunk, err := t.w.Object(api.ChunkBeginCommandBuffer, &api.CommandBuffer{CB: resource.ID(cb)})
	if err != nil {
		return err
	}
	*b = *newCmdBuffer(b.pool)
	b.chunks = []*serialise.Chunk{chunk}
	return nil
}

// Record records cmd, given with IDs, into cb.
func (c *Context) Record(ctx context.Context, cb gpu.Handle, cmd gpu.Command) error {
	t, done := c.enter(ctx)
	defer done()
	b, err := c.cmdBuffer(cb)
	if err != nil {
		return err
	}
	liveCB, err := c.live(cb)
	if err != nil {
		return err
	}
	idForm, err := gpu.CloneCommand(cmd)
	if err != nil {
		return err
	}
	live, err := gpu.CloneCommand(cmd)
	if err != nil {
		return err
	}
	if err := gpu.Remap(live, c.live); err != nil {
		return errors.Wrapf(err, "Recording %v", cmd.Kind())
	}
	if err := c.drv.Record(ctx, liveCB, live); err != nil {
		return err
	}
	chunk, err := t.w.Object(api.CmdChunk(cmd.Kind()), &api.Cmd{CB: resource.ID(cb), Cmd: idForm})
	if err != nil {
		return err
	}
	b.chunks = append(b.chunks, chunk)
	for _, h := range idForm.Handles() {
		if *h != gpu.Null {
			b.refs[resource.ID(*h)] = struct{}{}
		}
	}
	c.Tracker.Record(b.state, idForm)
	return nil
}

func (c *Context) EndCommandBuffer(ctx context.Context, cb gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	b, err := c.cmdBuffer(cb)
	if err != nil {
		return err
	}
	live, err := c.live(cb)
	if err != nil {
		return err
	}
	if err := c.drv.EndCommandBuffer(ctx, live); err != nil {
		return err
	}
	chunk, err := t.w.Object(api.ChunkEndCommandBuffer, &api.CommandBuffer{CB: resource.ID(cb)})
	if err != nil {
		return err
	}
	b.chunks = append(b.chunks, chunk)
	return nil
}

// remapAll returns live copies of the ID form values in ds.
func remapAll[T any, P interface {
	*T
	gpu.Described
}](c *Context, ds []T) ([]T, error) {
	out := make([]T, len(ds))
	for i := range ds {
		live, err := gpu.Clone(P(&ds[i]), P(new(T)))
		if err != nil {
			return nil, err
		}
		if err := gpu.Remap(live, c.live); err != nil {
			return nil, err
		}
		out[i] = *live
	}
	return out, nil
}

func (c *Context) liveOrNull(h gpu.Handle) (gpu.Handle, error) {
	if h == gpu.Null {
		return gpu.Null, nil
	}
	return c.live(h)
}

// Submit submits command buffers. Their layout transitions are applied to the
// tracker and the resources they use are marked as referenced while a frame
// is being captured, or dirty otherwise.
func (c *Context) Submit(ctx context.Context, queue gpu.Handle, submits []gpu.SubmitInfo, fence gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := remapAll[gpu.SubmitInfo](c, submits)
	if err != nil {
		return err
	}
	liveQueue, err := c.live(queue)
	if err != nil {
		return err
	}
	liveFence, err := c.liveOrNull(fence)
	if err != nil {
		return err
	}
	if err := c.drv.Submit(ctx, liveQueue, live, liveFence); err != nil {
		return err
	}

	payload := &api.QueueSubmit{Queue: resource.ID(queue), Submits: submits, Fence: resource.ID(fence)}
	var expanded []*serialise.Chunk
	for _, id := range payload.CommandBuffers() {
		b, err := c.cmdBuffer(gpu.Handle(id))
		if err != nil {
			return err
		}
		c.Tracker.ApplyLayouts(b.state.Ops)
		for _, u := range b.state.Uses {
			if u.Usage.Writes() {
				c.dirty(u.ID)
			}
		}
		if !c.capturing() {
			continue
		}
		expanded = append(expanded, b.chunks...)
		c.reference(id, resource.FrameRefRead)
		c.reference(b.pool, resource.FrameRefRead)
		for ref := range b.refs {
			c.reference(ref, resource.FrameRefRead)
		}
		for _, u := range b.state.Uses {
			c.reference(u.ID, u.Usage.FrameRef())
		}
	}
	if !c.capturing() {
		return nil
	}
	c.reference(resource.ID(fence), resource.FrameRefRead)
	for _, s := range submits {
		for _, h := range append(append([]gpu.Handle(nil), s.Wait...), s.Signal...) {
			c.reference(resource.ID(h), resource.FrameRefRead)
		}
	}
	chunk, err := c.frameChunk(t, api.ChunkQueueSubmit, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.expand[chunk] = expanded
	c.mu.Unlock()
	return nil
}

// BindSparse replaces the page tables of sparse resources. Outside a frame
// capture the new tables become part of the resources' initial contents.
func (c *Context) BindSparse(ctx context.Context, queue gpu.Handle, binds []gpu.SparseBindInfo, fence gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := remapAll[gpu.SparseBindInfo](c, binds)
	if err != nil {
		return err
	}
	liveQueue, err := c.live(queue)
	if err != nil {
		return err
	}
	liveFence, err := c.liveOrNull(fence)
	if err != nil {
		return err
	}
	if err := c.drv.BindSparse(ctx, liveQueue, live, liveFence); err != nil {
		return err
	}
	if err := c.Tracker.BindSparse(binds); err != nil {
		return err
	}
	for _, b := range binds {
		c.dirty(resource.ID(b.Resource))
		if c.capturing() {
			c.reference(resource.ID(b.Resource), resource.FrameRefPartialWrite)
			for _, m := range b.Binds {
				c.reference(resource.ID(m.Memory), resource.FrameRefRead)
			}
		}
	}
	if c.capturing() {
		c.reference(resource.ID(fence), resource.FrameRefRead)
	}
	_, err = c.frameChunk(t, api.ChunkQueueBindSparse, &api.QueueBindSparse{
		Queue: resource.ID(queue), Binds: binds, Fence: resource.ID(fence),
	})
	return err
}

// UpdateDescriptorSets writes descriptors. Outside a frame capture the set
// contents become part of its initial contents.
func (c *Context) UpdateDescriptorSets(ctx context.Context, writes []gpu.DescriptorWrite, copies []gpu.DescriptorCopy) error {
	t, done := c.enter(ctx)
	defer done()
	liveWrites, err := remapAll[gpu.DescriptorWrite](c, writes)
	if err != nil {
		return err
	}
	liveCopies, err := remapAll[gpu.DescriptorCopy](c, copies)
	if err != nil {
		return err
	}
	if err := c.drv.UpdateDescriptorSets(ctx, liveWrites, liveCopies); err != nil {
		return err
	}
	payload := &api.UpdateDescriptorSets{Writes: writes, Copies: copies}
	if err := c.Tracker.UpdateDescriptorSets(writes, copies); err != nil {
		return err
	}
	for _, w := range writes {
		c.dirty(resource.ID(w.Set))
	}
	for _, cp := range copies {
		c.dirty(resource.ID(cp.Dst))
	}
	if c.capturing() {
		for _, h := range payload.Handles() {
			c.reference(resource.ID(*h), resource.FrameRefRead)
		}
		for _, w := range writes {
			c.reference(resource.ID(w.Set), resource.FrameRefPartialWrite)
		}
		for _, cp := range copies {
			c.reference(resource.ID(cp.Dst), resource.FrameRefPartialWrite)
		}
	}
	_, err = c.frameChunk(t, api.ChunkUpdateDescriptorSets, payload)
	return err
}

func (c *Context) QueueWaitIdle(ctx context.Context, queue gpu.Handle) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := c.live(queue)
	if err != nil {
		return err
	}
	if err := c.drv.QueueWaitIdle(ctx, live); err != nil {
		return err
	}
	_, err = c.frameChunk(t, api.ChunkQueueWaitIdle, &api.Queue{Queue: resource.ID(queue)})
	return err
}

func (c *Context) DeviceWaitIdle(ctx context.Context) error {
	t, done := c.enter(ctx)
	defer done()
	if err := c.drv.DeviceWaitIdle(ctx); err != nil {
		return err
	}
	_, err := c.frameChunk(t, api.ChunkDeviceWaitIdle, &api.DeviceWaitIdle{})
	return err
}

func (c *Context) fenceOp(ctx context.Context, typ serialise.ChunkType, fence gpu.Handle, op func(context.Context, gpu.Handle) error) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := c.live(fence)
	if err != nil {
		return err
	}
	if err := op(ctx, live); err != nil {
		return err
	}
	if c.capturing() {
		c.reference(resource.ID(fence), resource.FrameRefRead)
	}
	_, err = c.frameChunk(t, typ, &api.Fence{Fence: resource.ID(fence)})
	return err
}

func (c *Context) WaitFence(ctx context.Context, fence gpu.Handle) error {
	return c.fenceOp(ctx, api.ChunkWaitFence, fence, c.drv.WaitFence)
}

func (c *Context) ResetFence(ctx context.Context, fence gpu.Handle) error {
	return c.fenceOp(ctx, api.ChunkResetFence, fence, c.drv.ResetFence)
}

// ReadMemory reads host visible memory. Reads are not recorded.
func (c *Context) ReadMemory(ctx context.Context, memory gpu.Handle, offset uint64, data []byte) error {
	c.transition.RLock()
	defer c.transition.RUnlock()
	live, err := c.live(memory)
	if err != nil {
		return err
	}
	return c.drv.ReadMemory(ctx, live, offset, data)
}

// WriteMemory writes host visible memory. While a frame is being captured
// the data is recorded; otherwise the memory becomes dirty.
func (c *Context) WriteMemory(ctx context.Context, memory gpu.Handle, offset uint64, data []byte) error {
	t, done := c.enter(ctx)
	defer done()
	live, err := c.live(memory)
	if err != nil {
		return err
	}
	if err := c.drv.WriteMemory(ctx, live, offset, data); err != nil {
		return err
	}
	id := resource.ID(memory)
	c.dirty(id)
	if c.capturing() {
		c.reference(id, resource.FrameRefPartialWrite)
		// The write reaches every resource bound to the memory.
		for _, bound := range c.Tracker.BoundTo(id) {
			c.reference(bound, resource.FrameRefPartialWrite)
		}
	}
	_, err = c.frameChunk(t, api.ChunkWriteMemory, &api.WriteMemory{
		Memory: id, Offset: offset, Data: append([]byte(nil), data...),
	})
	return err
}
