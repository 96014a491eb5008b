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

// Package replay loads capture files and re-executes their frame, fully or
// up to any event, against a live driver.
package replay

import (
	"context"
	"io"
	"sync"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/initstate"
	"github.com/baldurk/renderdoc-sub014/rdcfile"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// State is the consumer side capture state.
type State int

const (
	// LogLoaded is the resting state between replays.
	LogLoaded State = iota
	// ReplayingRange is the state during ReplayLog.
	ReplayingRange
)

func (s State) String() string {
	if s == ReplayingRange {
		return "ReplayingRange"
	}
	return "LogLoaded"
}

// Options configures a Replayer.
type Options struct {
	config.Replay
	// Validation overrides the validation setting stored in the capture.
	Validation *bool
}

// Replayer owns the live device a capture is replayed on.
type Replayer struct {
	Manager *resource.Manager
	Tracker *state.Tracker

	mu    sync.Mutex
	opts  Options
	file  *rdcfile.File
	init  api.DriverInit
	drv   gpu.Driver
	cmds  *gpu.InternalCmds
	env   *initstate.Env
	rd    *serialise.Reader
	state State

	// frameStart is the offset of the CaptureBegin chunk.
	frameStart   uint64
	contents     map[resource.ID]*initstate.Contents
	needed       []resource.Needed
	beginLayouts map[resource.ID]*state.ImageState

	events    []Event
	index     EventIndex
	actions   []*Action
	submits   []*submission
	instances map[uint64]*cbInstance
	usage     map[resource.ID][]EventUsage

	current    uint32
	pos        position
	cache      *lru.Cache
	loadPasses map[resource.ID]gpu.Handle
}

// Load reads a capture from r and prepares it for replay. The version is
// checked before any device object is created. The frame is replayed to its
// last event before Load returns.
func Load(ctx context.Context, r io.Reader, opts Options) (*Replayer, error) {
	f, err := rdcfile.Read(r)
	if err != nil {
		return nil, err
	}
	return Open(ctx, f, opts)
}

// Open prepares an already read capture file for replay.
func Open(ctx context.Context, f *rdcfile.File, opts Options) (*Replayer, error) {
	data, err := f.FrameData()
	if err != nil {
		return nil, err
	}
	rd := serialise.NewStreamReader(data)
	rd.SetKnown(api.Known)
	first, err := rd.Next()
	if err != nil {
		return nil, errors.Wrap(err, "Reading driver init chunk")
	}
	if first.Type != serialise.ChunkDriverInit {
		return nil, errors.Errorf("Frame stream starts with %v, not %v", first.Type, serialise.ChunkDriverInit)
	}
	init := api.DriverInit{}
	if err := first.Decode(&init); err != nil {
		return nil, err
	}
	backend, err := selectBackend(opts, init)
	if err != nil {
		return nil, err
	}
	validation := init.Validation
	if opts.Validation != nil {
		validation = *opts.Validation
	}
	ctx = log.V{"driver": backend.Info().Name}.Bind(ctx)
	log.I(ctx, "Loading %s capture of %s (%s frame stream)",
		init.DriverName, f.ProgramVersion, humanize.IBytes(uint64(len(data))))

	drv, err := backend.Open(ctx, gpu.DeviceDesc{Name: "replay", Validation: validation})
	if err != nil {
		return nil, err
	}
	cmds, err := gpu.NewInternalCmds(ctx, drv)
	if err != nil {
		drv.Close(ctx)
		return nil, err
	}
	entries := opts.CacheEntries
	if entries <= 0 {
		entries = config.Default().Replay.CacheEntries
	}
	cache, err := lru.New(entries)
	if err != nil {
		drv.Close(ctx)
		return nil, err
	}
	r := &Replayer{
		Manager:      resource.NewManager(nil),
		Tracker:      state.NewTracker(),
		opts:         opts,
		file:         f,
		init:         init,
		drv:          drv,
		cmds:         cmds,
		rd:           rd,
		contents:     map[resource.ID]*initstate.Contents{},
		beginLayouts: map[resource.ID]*state.ImageState{},
		cache:        cache,
		loadPasses:   map[resource.ID]gpu.Handle{},
	}
	r.env = &initstate.Env{Driver: drv, Cmds: cmds, Manager: r.Manager, Tracker: r.Tracker}
	r.Manager.AddLive(init.Queue, drv.Queue())

	if err := r.load(ctx); err != nil {
		drv.Close(ctx)
		return nil, err
	}
	if err := r.ReplayLog(ctx, 0, r.index.Last(), Full); err != nil {
		drv.Close(ctx)
		return nil, err
	}
	return r, nil
}

func selectBackend(opts Options, init api.DriverInit) (gpu.Backend, error) {
	if opts.Backend != "" {
		return gpu.Lookup(opts.Backend)
	}
	if b, err := gpu.LookupID(init.DriverID); err == nil {
		return b, nil
	}
	return gpu.Lookup(init.DriverName)
}

// load dispatches the chunks before the frame, then scans the frame.
func (r *Replayer) load(ctx context.Context) error {
	for {
		c, err := r.rd.Next()
		if err == io.EOF {
			return errors.New("Capture has no CaptureScope chunk")
		}
		if err != nil {
			return err
		}
		offset := r.rd.LastOffset()
		if c.Type == serialise.ChunkCaptureScope {
			scope := api.CaptureScope{}
			if err := c.Decode(&scope); err != nil {
				return err
			}
			r.frameStart = r.rd.Offset()
			if scope.FrameOffset != r.frameStart {
				log.W(ctx, "Capture scope names frame offset %d, frame starts at %d", scope.FrameOffset, r.frameStart)
			}
			break
		}
		h, ok := loadHandlers[c.Type]
		if !ok {
			log.W(ctx, "Skipping %v before the frame", c.Type)
			continue
		}
		if err := h(r, ctx, c); err != nil {
			return r.chunkError(err, c, offset, 0)
		}
	}
	if err := r.scan(ctx); err != nil {
		return err
	}

	for _, n := range r.needed {
		if _, ok := r.contents[n.ID]; ok {
			continue
		}
		c, err := initstate.Create(ctx, r.env, n.ID, r.beginLayouts[n.ID])
		if err != nil {
			return err
		}
		if c != nil {
			r.contents[n.ID] = c
		}
	}
	log.I(ctx, "Capture loaded: %d resources, %d initial contents, %d events",
		len(r.Tracker.IDs()), len(r.contents), len(r.events))
	return nil
}

// scan reads the frame once, building the events, the action tree, the
// submissions and the usage of every resource.
func (r *Replayer) scan(ctx context.Context) error {
	for id, c := range r.contents {
		if c.Set != nil {
			r.Tracker.SetDescriptorSet(id, c.Set.Clone())
		}
	}
	b := newBuilder()
	for {
		c, err := r.rd.Next()
		if err == io.EOF {
			return errors.New("Frame has no CaptureEnd chunk")
		}
		if err != nil {
			return err
		}
		offset := r.rd.LastOffset()
		p, err := api.Decode(c)
		if err != nil {
			return r.chunkError(err, c, offset, 0)
		}
		switch p := p.(type) {
		case *api.CaptureBegin:
			for _, l := range p.Layouts {
				r.beginLayouts[l.ID] = l.Layout
			}
		case *api.CaptureEnd:
			return r.finishScan(ctx, b)
		case *api.CommandBuffer:
			if c.Type == api.ChunkBeginCommandBuffer {
				err = b.begin(offset, c.Type, p.CB)
			} else {
				err = b.end(offset, c.Type, p.CB)
			}
		case *api.Cmd:
			err = b.command(r.Tracker, offset, c.Type, p.CB, p.Cmd)
		case *api.QueueSubmit:
			_, err = b.submit(offset, c.Type, p.CommandBuffers())
		case *api.UpdateDescriptorSets:
			b.event(offset, c.Type, c.Type.String(), resource.Null, 0)
			err = r.Tracker.UpdateDescriptorSets(p.Writes, p.Copies)
		default:
			b.event(offset, c.Type, c.Type.String(), resource.Null, 0)
		}
		if err != nil {
			return r.chunkError(err, c, offset, 0)
		}
	}
}

func (r *Replayer) finishScan(ctx context.Context, b *builder) error {
	if len(b.pending) > 0 || len(b.open) > 0 {
		log.W(ctx, "%d command buffer recordings in the frame were never submitted", len(b.pending)+len(b.open))
	}
	r.events, r.index, r.actions, r.submits, r.usage = b.events, b.index, b.actions, b.submits, b.usage
	r.instances = map[uint64]*cbInstance{}
	for _, s := range r.submits {
		for _, inst := range s.Instances {
			r.instances[inst.Begin] = inst
		}
	}
	// Images created without a recorded layout start the frame undefined.
	for _, id := range r.Tracker.IDs() {
		if _, ok := r.beginLayouts[id]; ok {
			continue
		}
		if d, ok := r.Tracker.ImageDesc(id); ok {
			r.beginLayouts[id] = state.NewImageState(d.MipLevels, d.ArrayLayers, gpu.LayoutUndefined)
		}
	}
	return nil
}

// State returns the replay state.
func (r *Replayer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Driver returns the live device.
func (r *Replayer) Driver() gpu.Driver { return r.drv }

// Device runs f with the live driver and the internal command batcher
// while no replay or read is in progress. Objects f creates are its own to
// destroy.
func (r *Replayer) Device(ctx context.Context, f func(drv gpu.Driver, cmds *gpu.InternalCmds) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return f(r.drv, r.cmds)
}

// Cmds returns the internal command batcher of the live device.
func (r *Replayer) Cmds() *gpu.InternalCmds { return r.cmds }

// File returns the loaded capture file.
func (r *Replayer) File() *rdcfile.File { return r.file }

// DriverInit returns the driver init chunk of the capture.
func (r *Replayer) DriverInit() api.DriverInit { return r.init }

// CurrentEvent returns the event the last replay ended at.
func (r *Replayer) CurrentEvent() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close destroys the live device.
func (r *Replayer) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	if err := r.cmds.FlushQ(ctx); err != nil {
		log.W(ctx, "Flushing before close: %v", err)
	}
	return r.drv.Close(ctx)
}
