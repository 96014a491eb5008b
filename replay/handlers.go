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

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/initstate"
	"github.com/baldurk/renderdoc-sub014/metrics"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// handler replays one chunk.
type handler func(r *Replayer, ctx context.Context, c *serialise.Chunk) error

var (
	// loadHandlers handle the chunks before the frame.
	loadHandlers = map[serialise.ChunkType]handler{
		api.ChunkBindBufferMemory:          (*Replayer).bindMemory,
		api.ChunkBindImageMemory:           (*Replayer).bindMemory,
		serialise.ChunkInitialContents:     (*Replayer).initialContents,
		serialise.ChunkInitialContentsList: (*Replayer).contentsList,
	}
	// frameHandlers handle the queue level chunks of the frame. Command
	// buffer chunks and submits are handled by the frame walk.
	frameHandlers = map[serialise.ChunkType]handler{
		api.ChunkQueueBindSparse:      (*Replayer).bindSparse,
		api.ChunkUpdateDescriptorSets: (*Replayer).updateDescriptorSets,
		api.ChunkWriteMemory:          (*Replayer).writeMemory,
		api.ChunkQueueWaitIdle:        (*Replayer).waitIdle,
		api.ChunkDeviceWaitIdle:       (*Replayer).waitIdle,
		api.ChunkWaitFence:            (*Replayer).waitIdle,
		api.ChunkResetFence:           (*Replayer).resetFence,
		api.ChunkDestroy:              (*Replayer).skip,
		api.ChunkResetDescriptorPool:  (*Replayer).skip,
		api.ChunkResetCommandPool:     (*Replayer).skip,
	}
)

func init() {
	for _, t := range api.Types() {
		if _, ok := api.CreateKind(t); ok {
			loadHandlers[t] = (*Replayer).create
		}
	}
}

func (r *Replayer) live(h gpu.Handle) (gpu.Handle, error) {
	return r.Manager.GetLiveHandle(resource.ID(h))
}

// chunkError attaches the position of a failed chunk to err.
func (r *Replayer) chunkError(err error, c *serialise.Chunk, offset uint64, event uint32) error {
	if errors.Is(err, fault.ErrResourceLookupFailure) {
		metrics.LookupFailure()
	}
	return errors.Wrapf(err, "%v at offset %d (event %d)", c.Type, offset, event)
}

func decode[T any, P interface {
	*T
	serialise.Serialisable
}](c *serialise.Chunk) (P, error) {
	p, err := api.Decode(c)
	if err != nil {
		return nil, err
	}
	out, ok := p.(P)
	if !ok {
		return nil, errors.Errorf("Unexpected payload %T for %v", p, c.Type)
	}
	return out, nil
}

// create recreates an object from its creation chunk. The chunk is decoded
// twice: once to keep in ID form for the tracker, once to remap to live
// handles for the driver.
func (r *Replayer) create(ctx context.Context, c *serialise.Chunk) error {
	cr, err := decode[api.Create](c)
	if err != nil {
		return err
	}
	live, err := decode[api.Create](c)
	if err != nil {
		return err
	}
	if live.Desc != nil {
		if err := gpu.Remap(live.Desc, r.live); err != nil {
			return err
		}
	}
	var h gpu.Handle
	switch d := live.Desc.(type) {
	case *gpu.MemoryDesc:
		h, err = r.drv.CreateMemory(ctx, *d)
	case *gpu.BufferDesc:
		h, err = r.drv.CreateBuffer(ctx, *d)
	case *gpu.ImageDesc:
		h, err = r.drv.CreateImage(ctx, *d)
	case *gpu.ImageViewDesc:
		h, err = r.drv.CreateImageView(ctx, *d)
	case *gpu.ShaderDesc:
		h, err = r.drv.CreateShader(ctx, *d)
	case *gpu.DescriptorSetLayoutDesc:
		h, err = r.drv.CreateDescriptorSetLayout(ctx, *d)
	case *gpu.PipelineLayoutDesc:
		h, err = r.drv.CreatePipelineLayout(ctx, *d)
	case *gpu.RenderPassDesc:
		h, err = r.drv.CreateRenderPass(ctx, *d)
	case *gpu.FramebufferDesc:
		h, err = r.drv.CreateFramebuffer(ctx, *d)
	case *gpu.GraphicsPipelineDesc:
		h, err = r.drv.CreateGraphicsPipeline(ctx, *d)
	case *gpu.ComputePipelineDesc:
		h, err = r.drv.CreateComputePipeline(ctx, *d)
	case *gpu.DescriptorPoolDesc:
		h, err = r.drv.CreateDescriptorPool(ctx, *d)
	case nil:
		h, err = r.createBare(ctx, cr)
	default:
		return errors.Errorf("No creation for %T", d)
	}
	if err != nil {
		return err
	}
	r.Manager.AddLive(cr.ID, h)
	if cr.Kind == gpu.KindDescriptorSet {
		return r.Tracker.AllocateSet(cr.ID, cr.Parent, cr.Layout)
	}
	r.Tracker.Create(cr.ID, cr.Kind, cr.Desc, cr.Parent)
	return nil
}

// createBare creates the objects that have no description.
func (r *Replayer) createBare(ctx context.Context, cr *api.Create) (gpu.Handle, error) {
	switch cr.Kind {
	case gpu.KindDescriptorSet:
		pool, err := r.Manager.GetLiveHandle(cr.Parent)
		if err != nil {
			return gpu.Null, err
		}
		layout, err := r.Manager.GetLiveHandle(cr.Layout)
		if err != nil {
			return gpu.Null, err
		}
		return r.drv.AllocateDescriptorSet(ctx, pool, layout)
	case gpu.KindCommandPool:
		return r.drv.CreateCommandPool(ctx)
	case gpu.KindCommandBuffer:
		pool, err := r.Manager.GetLiveHandle(cr.Parent)
		if err != nil {
			return gpu.Null, err
		}
		return r.drv.AllocateCommandBuffer(ctx, pool)
	case gpu.KindSemaphore:
		return r.drv.CreateSemaphore(ctx)
	case gpu.KindFence:
		return r.drv.CreateFence(ctx, cr.Signalled)
	}
	return gpu.Null, errors.Errorf("No creation for %v", cr.Kind)
}

func (r *Replayer) bindMemory(ctx context.Context, c *serialise.Chunk) error {
	b, err := decode[api.BindMemory](c)
	if err != nil {
		return err
	}
	res, err := r.Manager.GetLiveHandle(b.Resource)
	if err != nil {
		return err
	}
	mem, err := r.Manager.GetLiveHandle(b.Memory)
	if err != nil {
		return err
	}
	if c.Type == api.ChunkBindImageMemory {
		err = r.drv.BindImageMemory(ctx, res, mem, b.Offset)
	} else {
		err = r.drv.BindBufferMemory(ctx, res, mem, b.Offset)
	}
	if err != nil {
		return err
	}
	return r.Tracker.BindMemory(b.Resource, b.Memory, b.Offset)
}

func (r *Replayer) initialContents(ctx context.Context, c *serialise.Chunk) error {
	id, contents, err := initstate.Read(c)
	if err != nil {
		return err
	}
	r.contents[id] = contents
	return nil
}

func (r *Replayer) contentsList(ctx context.Context, c *serialise.Chunk) error {
	l, err := decode[api.ContentsList](c)
	if err != nil {
		return err
	}
	r.needed = l.Needed
	return nil
}

func (r *Replayer) bindSparse(ctx context.Context, c *serialise.Chunk) error {
	b, err := decode[api.QueueBindSparse](c)
	if err != nil {
		return err
	}
	binds, err := initstate.LiveSparseBinds(ctx, r.Manager, b.Binds)
	if err != nil {
		return err
	}
	if err := r.drv.BindSparse(ctx, r.drv.Queue(), binds, gpu.Null); err != nil {
		return err
	}
	return r.Tracker.BindSparse(b.Binds)
}

func (r *Replayer) updateDescriptorSets(ctx context.Context, c *serialise.Chunk) error {
	u, err := decode[api.UpdateDescriptorSets](c)
	if err != nil {
		return err
	}
	live, err := decode[api.UpdateDescriptorSets](c)
	if err != nil {
		return err
	}
	if err := gpu.Remap(live, r.live); err != nil {
		return err
	}
	if err := r.drv.UpdateDescriptorSets(ctx, live.Writes, live.Copies); err != nil {
		return err
	}
	return r.Tracker.UpdateDescriptorSets(u.Writes, u.Copies)
}

func (r *Replayer) writeMemory(ctx context.Context, c *serialise.Chunk) error {
	w, err := decode[api.WriteMemory](c)
	if err != nil {
		return err
	}
	mem, err := r.Manager.GetLiveHandle(w.Memory)
	if err != nil {
		return err
	}
	return r.drv.WriteMemory(ctx, mem, w.Offset, w.Data)
}

// waitIdle replays every wait as a queue idle wait. Fences and semaphores
// are not signalled on replay.
func (r *Replayer) waitIdle(ctx context.Context, c *serialise.Chunk) error {
	return r.drv.QueueWaitIdle(ctx, r.drv.Queue())
}

func (r *Replayer) resetFence(ctx context.Context, c *serialise.Chunk) error {
	f, err := decode[api.Fence](c)
	if err != nil {
		return err
	}
	fence, err := r.Manager.GetLiveHandle(f.Fence)
	if err != nil {
		return err
	}
	return r.drv.ResetFence(ctx, fence)
}

// skip ignores destruction and pool resets. Objects stay alive so the frame
// can be replayed again.
func (r *Replayer) skip(ctx context.Context, c *serialise.Chunk) error {
	log.D(ctx, "Not replaying %v", c.Type)
	return nil
}
