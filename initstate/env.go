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
	"context"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
)

// Env is the device a snapshot is taken from or applied to. Capture and
// replay each provide one.
type Env struct {
	Driver  gpu.Driver
	Cmds    *gpu.InternalCmds
	Manager *resource.Manager
	Tracker *state.Tracker
}

func (e *Env) live(id resource.ID) (gpu.Handle, error) { return e.Manager.GetLiveHandle(id) }

// temps tracks the temporary objects of one operation so they can be
// destroyed once the queue is idle.
type temps struct {
	env     *Env
	handles []gpu.Handle
}

func (t *temps) add(h gpu.Handle, err error) (gpu.Handle, error) {
	if err == nil {
		t.handles = append(t.handles, h)
	}
	return h, err
}

func (t *temps) release(ctx context.Context) {
	for i := len(t.handles) - 1; i >= 0; i-- {
		if err := t.env.Driver.Destroy(ctx, t.handles[i]); err != nil {
			log.W(ctx, "Destroying temporary object: %v", err)
		}
	}
	t.handles = nil
}

// staging returns a host visible buffer of size bytes and its memory.
func (t *temps) staging(ctx context.Context, size uint64) (buf, mem gpu.Handle, err error) {
	drv := t.env.Driver
	if mem, err = t.add(drv.CreateMemory(ctx, gpu.MemoryDesc{Size: size, HostVisible: true})); err != nil {
		return gpu.Null, gpu.Null, errors.Wrap(err, "Creating staging memory")
	}
	if buf, err = t.add(drv.CreateBuffer(ctx, gpu.BufferDesc{Size: size, Usage: gpu.UsageTransferSrc | gpu.UsageTransferDst})); err != nil {
		return gpu.Null, gpu.Null, errors.Wrap(err, "Creating staging buffer")
	}
	return buf, mem, drv.BindBufferMemory(ctx, buf, mem, 0)
}

// alias returns a buffer covering size bytes of mem from offset.
func (t *temps) alias(ctx context.Context, mem gpu.Handle, offset, size uint64) (gpu.Handle, error) {
	drv := t.env.Driver
	buf, err := t.add(drv.CreateBuffer(ctx, gpu.BufferDesc{Size: size, Usage: gpu.UsageTransferSrc | gpu.UsageTransferDst}))
	if err != nil {
		return gpu.Null, errors.Wrap(err, "Creating alias buffer")
	}
	return buf, drv.BindBufferMemory(ctx, buf, mem, offset)
}

// readMemory returns size bytes of mem starting at offset. Memory that is
// not host visible is copied out through a staging buffer.
func (e *Env) readMemory(ctx context.Context, mem gpu.Handle, desc gpu.MemoryDesc, offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	if desc.HostVisible {
		return out, e.Driver.ReadMemory(ctx, mem, offset, out)
	}
	t := &temps{env: e}
	defer t.release(ctx)
	src, err := t.alias(ctx, mem, offset, size)
	if err != nil {
		return nil, err
	}
	dst, dstMem, err := t.staging(ctx, size)
	if err != nil {
		return nil, err
	}
	if err := e.run(ctx, &gpu.CopyBuffer{Src: src, Dst: dst, Regions: []gpu.BufferCopy{{Size: size}}}); err != nil {
		return nil, err
	}
	return out, e.Driver.ReadMemory(ctx, dstMem, 0, out)
}

// writeMemory stores data into mem at offset.
func (e *Env) writeMemory(ctx context.Context, mem gpu.Handle, desc gpu.MemoryDesc, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if desc.HostVisible {
		return e.Driver.WriteMemory(ctx, mem, offset, data)
	}
	t := &temps{env: e}
	defer t.release(ctx)
	size := uint64(len(data))
	src, srcMem, err := t.staging(ctx, size)
	if err != nil {
		return err
	}
	if err := e.Driver.WriteMemory(ctx, srcMem, 0, data); err != nil {
		return err
	}
	dst, err := t.alias(ctx, mem, offset, size)
	if err != nil {
		return err
	}
	return e.run(ctx, &gpu.CopyBuffer{Src: src, Dst: dst, Regions: []gpu.BufferCopy{{Size: size}}})
}

// run records cmds into an internal command buffer and waits for the queue.
func (e *Env) run(ctx context.Context, cmds ...gpu.Command) error {
	return errors.Wrap(e.Cmds.Run(ctx, cmds...), "Internal command submission")
}

// resetLayouts returns the barriers moving every subresource of an image
// from its tracked layout to the layout in want. The tracker is updated.
func (e *Env) resetLayouts(id resource.ID, img gpu.Handle, want *state.ImageState) []gpu.ImageBarrier {
	cur, ok := e.Tracker.ImageState(id)
	if !ok {
		return nil
	}
	var out []gpu.ImageBarrier
	for _, w := range want.Entries() {
		for _, c := range cur.Ranges(w.Range()) {
			if c.Layout == w.Layout {
				continue
			}
			out = append(out, gpu.ImageBarrier{Image: img, Range: c.Range(), OldLayout: c.Layout, NewLayout: w.Layout})
		}
	}
	e.Tracker.RestoreLayouts(map[resource.ID]*state.ImageState{id: want})
	return out
}
