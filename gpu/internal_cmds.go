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

	"github.com/pkg/errors"
)

// InternalCmds batches the command buffers used for internal work (initial
// contents, readbacks, partial replay). Nothing is submitted implicitly:
// recorded work only reaches the queue at SubmitCmds, and only FlushQ waits
// for it.
type InternalCmds struct {
	drv   Driver
	queue Handle
	pool  Handle

	free      []Handle
	pending   []Handle
	submitted []Handle

	freeSems    []Handle
	pendingSems []Handle
	waitSems    []Handle
}

// NewInternalCmds creates the command pool used for internal work.
func NewInternalCmds(ctx context.Context, drv Driver) (*InternalCmds, error) {
	pool, err := drv.CreateCommandPool(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Creating internal command pool")
	}
	return &InternalCmds{drv: drv, queue: drv.Queue(), pool: pool}, nil
}

// GetNextCmd returns a command buffer that has been begun and will be
// submitted by the next SubmitCmds.
func (ic *InternalCmds) GetNextCmd(ctx context.Context) (Handle, error) {
	var cb Handle
	if n := len(ic.free); n > 0 {
		cb, ic.free = ic.free[n-1], ic.free[:n-1]
	} else {
		var err error
		if cb, err = ic.drv.AllocateCommandBuffer(ctx, ic.pool); err != nil {
			return Null, errors.Wrap(err, "Allocating internal command buffer")
		}
	}
	if err := ic.drv.BeginCommandBuffer(ctx, cb); err != nil {
		return Null, err
	}
	ic.pending = append(ic.pending, cb)
	return cb, nil
}

// GetNextSemaphore returns a semaphore the next SubmitCmds signals and the
// submission after it waits on.
func (ic *InternalCmds) GetNextSemaphore(ctx context.Context) (Handle, error) {
	var sem Handle
	if n := len(ic.freeSems); n > 0 {
		sem, ic.freeSems = ic.freeSems[n-1], ic.freeSems[:n-1]
	} else {
		var err error
		if sem, err = ic.drv.CreateSemaphore(ctx); err != nil {
			return Null, err
		}
	}
	ic.pendingSems = append(ic.pendingSems, sem)
	return sem, nil
}

// Pending returns the number of command buffers waiting for SubmitCmds.
func (ic *InternalCmds) Pending() int { return len(ic.pending) }

// SubmitCmds ends and submits every pending command buffer.
func (ic *InternalCmds) SubmitCmds(ctx context.Context) error {
	if len(ic.pending) == 0 && len(ic.pendingSems) == 0 {
		return nil
	}
	cbs := ic.pending
	ic.pending = nil
	for _, cb := range cbs {
		if err := ic.drv.EndCommandBuffer(ctx, cb); err != nil {
			return err
		}
	}
	info := SubmitInfo{Wait: ic.waitSems, CommandBuffers: cbs, Signal: ic.pendingSems}
	ic.submitted = append(ic.submitted, cbs...)
	ic.freeSems = append(ic.freeSems, ic.waitSems...)
	ic.waitSems, ic.pendingSems = ic.pendingSems, nil
	return ic.drv.Submit(ctx, ic.queue, []SubmitInfo{info}, Null)
}

// FlushQ submits any pending work and blocks until the queue is idle. The
// submitted command buffers are then recycled.
func (ic *InternalCmds) FlushQ(ctx context.Context) error {
	if err := ic.SubmitCmds(ctx); err != nil {
		return err
	}
	if err := ic.drv.QueueWaitIdle(ctx, ic.queue); err != nil {
		return err
	}
	ic.free = append(ic.free, ic.submitted...)
	ic.submitted = nil
	ic.freeSems = append(ic.freeSems, ic.waitSems...)
	ic.waitSems = nil
	return nil
}

// Run records cmds into a fresh command buffer and flushes the queue.
func (ic *InternalCmds) Run(ctx context.Context, cmds ...Command) error {
	cb, err := ic.GetNextCmd(ctx)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		if err := ic.drv.Record(ctx, cb, c); err != nil {
			return err
		}
	}
	return ic.FlushQ(ctx)
}

// Driver returns the driver the commands are submitted to.
func (ic *InternalCmds) Driver() Driver { return ic.drv }
