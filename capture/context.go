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

// Package capture intercepts the calls an application makes to a device and
// records them, with the resource contents they depend on, as capture files.
//
// A Context wraps a gpu.Driver and implements gpu.Driver itself. Every handle
// it returns is the resource ID of the wrapped object; native handles never
// leave the package.
package capture

import (
	"context"
	"io"
	"sync"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/initstate"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the state of the capture state machine.
type State int

const (
	Idle State = iota
	CapturingFrame
)

func (s State) String() string {
	if s == CapturingFrame {
		return "CapturingFrame"
	}
	return "Idle"
}

// Options configures a Context.
type Options struct {
	Capture config.Capture
	// Validation is recorded in the DriverInit chunk. Replay opens its device
	// with the same setting.
	Validation bool
	// TriggerOutput opens the destination of a capture started by
	// Capture.TriggerFrames. Triggered captures are skipped when it is nil.
	TriggerOutput func(frame uint32) (io.WriteCloser, error)
}

// Context is the capture side of one device. It owns the ID generator and
// the chunk sequencer shared by every Thread.
type Context struct {
	opts    Options
	drv     gpu.Driver
	gen     resource.IDGen
	seq     *serialise.Sequencer
	session uuid.UUID

	Manager *resource.Manager
	Tracker *state.Tracker
	cmds    *gpu.InternalCmds

	// transition is held shared by every intercepted call and exclusively by
	// the frame capture transitions.
	transition sync.RWMutex
	state      State
	frame      uint32
	capFrame   uint32
	triggered  io.WriteCloser

	device resource.ID
	queue  resource.ID

	main     *Thread
	threadMu sync.Mutex
	threads  []*Thread

	mu       sync.Mutex
	cbs      map[resource.ID]*cmdBuffer
	pools    map[resource.ID]*pool
	expand   map[*serialise.Chunk][]*serialise.Chunk
	deferred []resource.ID
}

// New wraps drv. The DriverInit chunk is written as the creation chunk of the
// device record.
func New(ctx context.Context, drv gpu.Driver, opts Options) (*Context, error) {
	cmds, err := gpu.NewInternalCmds(ctx, drv)
	if err != nil {
		return nil, err
	}
	c := &Context{
		opts:    opts,
		drv:     drv,
		seq:     serialise.NewSequencer(opts.Capture.MaxChunkSize),
		session: uuid.New(),
		Tracker: state.NewTracker(),
		cmds:    cmds,
		cbs:     map[resource.ID]*cmdBuffer{},
		pools:   map[resource.ID]*pool{},
		expand:  map[*serialise.Chunk][]*serialise.Chunk{},
	}
	c.Manager = resource.NewManager(&c.gen)
	c.main = c.NewThread()

	c.device = c.gen.Next()
	dev := c.Manager.AddResourceRecord(c.device, gpu.KindDevice)
	dev.Special = true
	q, qrec := c.Manager.Wrap(ctx, drv.Queue(), gpu.KindQueue)
	qrec.Special = true
	qrec.AddParent(dev)
	c.queue = q

	info := drv.Info()
	chunk, err := c.main.w.Object(serialise.ChunkDriverInit, &api.DriverInit{
		DriverID:   info.ID,
		DriverName: info.Name,
		Validation: opts.Validation,
		Device:     c.device,
		Queue:      c.queue,
	})
	if err != nil {
		return nil, err
	}
	dev.AddChunk(chunk)

	ctx = log.V{"session": c.session.String()}.Bind(ctx)
	log.I(ctx, "Capturing %s device, session %v", info.Name, c.session)
	if err := c.trigger(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Session returns the ID written to the notes of every capture of this
// context.
func (c *Context) Session() uuid.UUID { return c.session }

// State returns the current capture state.
func (c *Context) State() State {
	c.transition.RLock()
	defer c.transition.RUnlock()
	return c.state
}

// Frame returns the number of the frame in progress.
func (c *Context) Frame() uint32 {
	c.transition.RLock()
	defer c.transition.RUnlock()
	return c.frame
}

// Driver returns the wrapped driver.
func (c *Context) Driver() gpu.Driver { return c.drv }

func (c *Context) env() *initstate.Env {
	return &initstate.Env{Driver: c.drv, Cmds: c.cmds, Manager: c.Manager, Tracker: c.Tracker}
}

// enter begins an intercepted call.
func (c *Context) enter(ctx context.Context) (*Thread, func()) {
	c.transition.RLock()
	t, release := c.thread(ctx)
	return t, func() {
		release()
		c.transition.RUnlock()
	}
}

func (c *Context) capturing() bool { return c.state == CapturingFrame }

func (c *Context) live(h gpu.Handle) (gpu.Handle, error) {
	return c.Manager.GetLiveHandle(resource.ID(h))
}

// reference marks a use of id in the frame being captured. The memory
// backing id is given the same use.
func (c *Context) reference(id resource.ID, use resource.FrameRefType) {
	if id == resource.Null {
		return
	}
	c.Manager.MarkResourceFrameReferenced(id, use)
	for _, m := range c.Tracker.Backing(id) {
		c.Manager.MarkResourceFrameReferenced(m, use)
	}
}

// dirty flags id and its backing memory as modified.
func (c *Context) dirty(id resource.ID) {
	mark := c.Manager.MarkDirty
	if c.capturing() {
		mark = c.Manager.MarkPendingDirty
	}
	mark(id)
	for _, m := range c.Tracker.Backing(id) {
		mark(m)
	}
}

// frameChunk appends a queue level chunk to the frame being captured.
func (c *Context) frameChunk(t *Thread, typ serialise.ChunkType, payload serialise.Serialisable) (*serialise.Chunk, error) {
	if !c.capturing() {
		return nil, nil
	}
	chunk, err := t.w.Object(typ, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "Recording %v", typ)
	}
	t.w.Append(chunk)
	return chunk, nil
}
