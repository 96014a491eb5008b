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
	"io"
	"time"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/initstate"
	"github.com/baldurk/renderdoc-sub014/metrics"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
)

// Mode selects what part of a range ReplayLog executes.
type Mode int

const (
	// Full replays everything up to and including the end event.
	Full Mode = iota
	// WithoutDraw replays up to the event before end.
	WithoutDraw
	// OnlyDraw replays the end event alone on top of the current state.
	OnlyDraw
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "Full"
	case WithoutDraw:
		return "WithoutDraw"
	case OnlyDraw:
		return "OnlyDraw"
	}
	return "Mode<?>"
}

// position identifies the device state left by a replay.
type position struct {
	valid bool
	event uint32
	mode  Mode
}

// ReplayLog replays the frame up to event end. Every replay except OnlyDraw
// starts from the initial contents, so the result depends only on the
// arguments. start must not be after end. A failure ends only this call.
func (r *Replayer) ReplayLog(ctx context.Context, start, end uint32, mode Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replayLog(ctx, start, end, mode)
}

func (r *Replayer) replayLog(ctx context.Context, start, end uint32, mode Mode) error {
	last := r.index.Last()
	if start > end || end > last {
		return errors.Errorf("Invalid replay range [%d, %d] of %d events", start, end, last)
	}
	if mode == OnlyDraw && end == 0 {
		return errors.New("OnlyDraw needs an event")
	}
	r.state = ReplayingRange
	defer func() { r.state = LogLoaded }()
	ctx = log.V{"start": start, "end": end, "mode": mode}.Bind(ctx)

	began := time.Now()
	r.pos = position{}
	var err error
	kind := "partial"
	if mode == OnlyDraw {
		kind = "draw"
		err = r.replayOnly(ctx, end)
	} else {
		if start == 0 && end == last {
			kind = "full"
		}
		target := end
		if mode == WithoutDraw && target > 0 {
			target--
		}
		err = r.replayFrame(ctx, target)
	}
	metrics.ReplayDuration(kind, began)
	if err != nil {
		log.E(ctx, "Replay failed: %v", err)
		return err
	}
	r.current = end
	// OnlyDraw results depend on what ran before, so they are never cached.
	r.pos = position{valid: mode != OnlyDraw, event: end, mode: mode}
	log.D(ctx, "Replayed %s in %v", kind, time.Since(began))
	return nil
}

// SetFrameEvent replays the frame up to ev unless it is already there.
func (r *Replayer) SetFrameEvent(ctx context.Context, ev uint32, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !force && r.pos.valid && r.pos.mode == Full && r.pos.event == ev {
		return nil
	}
	return r.replayLog(ctx, 0, ev, Full)
}

// live command buffer recording during a frame walk.
type liveCB struct {
	inst    *cbInstance
	live    gpu.Handle
	cb      *state.CmdBuffer
	partial bool
}

// replayFrame applies the initial contents and replays every frame chunk up
// to event target. The submission containing target is cut after it: earlier
// command buffers of the submission run whole, the one containing target is
// re-recorded up to target into an internal command buffer with any open
// render pass closed.
func (r *Replayer) replayFrame(ctx context.Context, target uint32) (err error) {
	var done, open []*liveCB
	defer func() {
		if err != nil {
			r.abandon(ctx, open)
		}
	}()
	if err := initstate.ApplyAll(ctx, r.env, r.contents, r.beginLayouts); err != nil {
		return errors.Wrap(err, "Applying initial contents")
	}
	if err := r.rd.Seek(r.frameStart); err != nil {
		return err
	}
	recording := map[resource.ID]*liveCB{}
	cut := func() error {
		for _, l := range open {
			if l.cb.State.InRenderPass {
				if err := r.record(ctx, l, &gpu.EndRenderPass{}); err != nil {
					return err
				}
			}
		}
		all := append(done, open...)
		open = nil
		return r.submitLive(ctx, all)
	}

	for {
		c, err := r.rd.Next()
		if err == io.EOF {
			return errors.New("Frame ended without CaptureEnd")
		}
		if err != nil {
			return err
		}
		offset := r.rd.LastOffset()
		ev, isEvent := r.index.ByOffset(offset)
		if c.Type == serialise.ChunkCaptureEnd || (isEvent && ev > target) {
			return cut()
		}
		if !isEvent {
			continue
		}
		p, err := api.Decode(c)
		if err != nil {
			return r.chunkError(err, c, offset, ev)
		}
		switch p := p.(type) {
		case *api.CommandBuffer:
			if c.Type == api.ChunkBeginCommandBuffer {
				l, err := r.beginLive(ctx, offset, p.CB, target)
				if err != nil {
					return r.chunkError(err, c, offset, ev)
				}
				recording[p.CB] = l
				open = append(open, l)
				continue
			}
			l, ok := recording[p.CB]
			if !ok {
				return r.chunkError(errors.Errorf("%v ended before it began", p.CB), c, offset, ev)
			}
			delete(recording, p.CB)
			if !l.partial {
				if err := r.drv.EndCommandBuffer(ctx, l.live); err != nil {
					return r.chunkError(err, c, offset, ev)
				}
			}
			open = remove(open, l)
			done = append(done, l)
		case *api.Cmd:
			l, ok := recording[p.CB]
			if !ok {
				return r.chunkError(errors.Errorf("%v recorded outside begin/end", p.CB), c, offset, ev)
			}
			if err := r.record(ctx, l, p.Cmd); err != nil {
				return r.chunkError(err, c, offset, ev)
			}
		case *api.QueueSubmit:
			if err := r.submitLive(ctx, done); err != nil {
				return r.chunkError(err, c, offset, ev)
			}
			done = nil
		default:
			h, ok := frameHandlers[c.Type]
			if !ok {
				log.W(ctx, "No replay for %v at offset %d", c.Type, offset)
				continue
			}
			if err := h(r, ctx, c); err != nil {
				return r.chunkError(err, c, offset, ev)
			}
		}
	}
}

// abandon closes the recordings left open by a failed replay. Partial
// recordings are submitted so the internal command buffers can be reused.
func (r *Replayer) abandon(ctx context.Context, open []*liveCB) {
	var partial []*liveCB
	for _, l := range open {
		if !l.partial {
			if err := r.drv.EndCommandBuffer(ctx, l.live); err != nil {
				log.D(ctx, "Ending abandoned %v: %v", l.inst.CB, err)
			}
			continue
		}
		if l.cb.State.InRenderPass {
			if err := r.record(ctx, l, &gpu.EndRenderPass{}); err != nil {
				log.D(ctx, "Closing abandoned render pass: %v", err)
			}
		}
		partial = append(partial, l)
	}
	if len(partial) == 0 {
		return
	}
	if err := r.submitLive(ctx, partial); err != nil {
		log.W(ctx, "Flushing abandoned replay: %v", err)
	}
}

func remove(list []*liveCB, l *liveCB) []*liveCB {
	out := list[:0]
	for _, x := range list {
		if x != l {
			out = append(out, x)
		}
	}
	return out
}

// beginLive starts replaying the recording that begins at offset. A
// recording that ends after target goes to an internal command buffer.
func (r *Replayer) beginLive(ctx context.Context, offset uint64, cb resource.ID, target uint32) (*liveCB, error) {
	inst, ok := r.instances[offset]
	if !ok {
		return nil, errors.Errorf("No submitted recording of %v at offset %d", cb, offset)
	}
	l := &liveCB{inst: inst, cb: state.NewCmdBuffer()}
	if inst.EndEvent > target {
		h, err := r.cmds.GetNextCmd(ctx)
		if err != nil {
			return nil, err
		}
		l.live, l.partial = h, true
		return l, nil
	}
	h, err := r.Manager.GetLiveHandle(cb)
	if err != nil {
		return nil, err
	}
	l.live = h
	return l, r.drv.BeginCommandBuffer(ctx, h)
}

// record replays one command of an ID form recording.
func (r *Replayer) record(ctx context.Context, l *liveCB, cmd gpu.Command) error {
	live, err := gpu.CloneCommand(cmd)
	if err != nil {
		return err
	}
	if err := gpu.Remap(live, r.live); err != nil {
		return err
	}
	if err := r.drv.Record(ctx, l.live, live); err != nil {
		return err
	}
	r.Tracker.Record(l.cb, cmd)
	return nil
}

// submitLive submits finished recordings in order. Semaphores are dropped:
// the queue runs submissions in order and the wait is made explicit.
func (r *Replayer) submitLive(ctx context.Context, list []*liveCB) error {
	var whole []gpu.Handle
	partial := false
	for _, l := range list {
		if l.partial {
			partial = true
		} else {
			whole = append(whole, l.live)
		}
	}
	q := r.drv.Queue()
	if len(whole) > 0 {
		if err := r.drv.Submit(ctx, q, []gpu.SubmitInfo{{CommandBuffers: whole}}, gpu.Null); err != nil {
			return err
		}
	}
	if partial {
		if err := r.cmds.FlushQ(ctx); err != nil {
			return err
		}
	} else if err := r.drv.QueueWaitIdle(ctx, q); err != nil {
		return err
	}
	for _, l := range list {
		r.Tracker.ApplyLayouts(l.cb.Ops)
	}
	return nil
}

// instanceOf returns the recording event ev belongs to.
func (r *Replayer) instanceOf(ev uint32) (*cbInstance, bool) {
	for _, s := range r.submits {
		for _, inst := range s.Instances {
			if ev >= inst.BeginEvent && ev <= inst.EndEvent {
				return inst, true
			}
		}
	}
	return nil, false
}

// carried returns the state of the recording of ev before ev runs, computed
// by reading the recording from its begin chunk. The reader position is not
// restored.
func (r *Replayer) carried(inst *cbInstance, ev uint32) (*state.RenderState, gpu.Command, error) {
	if err := r.rd.Seek(inst.Begin); err != nil {
		return nil, nil, err
	}
	rs := state.NewRenderState()
	for {
		c, err := r.rd.Next()
		if err != nil {
			return nil, nil, err
		}
		at, ok := r.index.ByOffset(r.rd.LastOffset())
		if !ok || at <= inst.BeginEvent {
			continue
		}
		if at >= inst.EndEvent {
			return rs, nil, nil
		}
		p, err := api.Decode(c)
		if err != nil {
			return nil, nil, err
		}
		cmd, ok := p.(*api.Cmd)
		if !ok || cmd.CB != inst.CB {
			continue
		}
		if at == ev {
			return rs, cmd.Cmd, nil
		}
		rs.Apply(cmd.Cmd)
	}
}

// replayOnly executes event ev alone on the current device state. A command
// inside a render pass runs in a re-opened pass that loads the attachments,
// with the bound state of the recording restored first.
func (r *Replayer) replayOnly(ctx context.Context, ev uint32) error {
	e := r.events[ev-1]
	if e.Command == 0 {
		if h, ok := frameHandlers[e.Chunk]; ok {
			if err := r.rd.Seek(e.Offset); err != nil {
				return err
			}
			c, err := r.rd.Next()
			if err != nil {
				return err
			}
			return h(r, ctx, c)
		}
		return nil
	}
	inst, ok := r.instanceOf(ev)
	if !ok {
		return errors.Errorf("Event %d is not in a submitted command buffer", ev)
	}
	rs, cmd, err := r.carried(inst, ev)
	if err != nil {
		return err
	}
	if cmd == nil {
		return errors.Errorf("Event %d has no command", ev)
	}
	// The carried state is local: the next replay starts again from the
	// recording.
	l := &liveCB{inst: inst, cb: &state.CmdBuffer{State: rs.Clone()}, partial: true}
	if l.live, err = r.cmds.GetNextCmd(ctx); err != nil {
		return err
	}
	if err := r.recordOnly(ctx, l, rs, cmd); err != nil {
		r.abandon(ctx, []*liveCB{l})
		return err
	}
	return r.submitLive(ctx, []*liveCB{l})
}

func (r *Replayer) recordOnly(ctx context.Context, l *liveCB, rs *state.RenderState, cmd gpu.Command) error {
	var prologue []gpu.Command
	if rs.InRenderPass && cmd.Kind() != gpu.CmdKindBeginRenderPass {
		reopen, err := r.reopen(ctx, rs)
		if err != nil {
			return err
		}
		prologue = append(prologue, reopen...)
	}
	rebind := rs.Rebind()
	for _, c := range prologue {
		if err := r.recordLive(ctx, l, c); err != nil {
			return err
		}
	}
	for _, c := range rebind {
		if err := r.record(ctx, l, c); err != nil {
			return err
		}
	}
	if err := r.record(ctx, l, cmd); err != nil {
		return err
	}
	if l.cb.State.InRenderPass {
		return r.record(ctx, l, &gpu.EndRenderPass{})
	}
	return nil
}

// recordLive records a command already in live form. The tracker is not
// consulted.
func (r *Replayer) recordLive(ctx context.Context, l *liveCB, cmd gpu.Command) error {
	return r.drv.Record(ctx, l.live, cmd)
}

// reopen returns the live commands that move the attachments of the open
// render pass of rs back to the subpass layout and begin a loading variant
// of the pass on the original framebuffer.
func (r *Replayer) reopen(ctx context.Context, rs *state.RenderState) ([]gpu.Command, error) {
	atts, err := r.Tracker.Attachments(rs.Framebuffer)
	if err != nil {
		return nil, err
	}
	var barriers []gpu.ImageBarrier
	var ops []state.LayoutOp
	for _, a := range atts {
		img, err := r.Manager.GetLiveHandle(a.Image)
		if err != nil {
			return nil, err
		}
		cur, ok := r.Tracker.ImageState(a.Image)
		if !ok {
			continue
		}
		for _, e := range cur.Ranges(a.Range) {
			if e.Layout == gpu.SubpassLayout {
				continue
			}
			if e.Layout == gpu.LayoutUndefined {
				log.W(ctx, "Attachment %v %v has undefined contents", a.Image, e.Range())
			}
			barriers = append(barriers, gpu.ImageBarrier{Image: img, Range: e.Range(), OldLayout: e.Layout, NewLayout: gpu.SubpassLayout})
		}
		ops = append(ops, state.LayoutOp{Image: a.Image, Range: a.Range, Layout: gpu.SubpassLayout})
	}
	r.Tracker.ApplyLayouts(ops)

	rp, err := r.loadPass(ctx, rs.RenderPass)
	if err != nil {
		return nil, err
	}
	fb, err := r.Manager.GetLiveHandle(rs.Framebuffer)
	if err != nil {
		return nil, err
	}
	out := []gpu.Command{}
	if len(barriers) > 0 {
		out = append(out, &gpu.PipelineBarrier{Images: barriers})
	}
	return append(out, &gpu.BeginRenderPass{RenderPass: rp, Framebuffer: fb, Area: rs.Area}), nil
}

// loadPass returns the live loading variant of render pass id.
func (r *Replayer) loadPass(ctx context.Context, id resource.ID) (gpu.Handle, error) {
	if h, ok := r.loadPasses[id]; ok {
		return h, nil
	}
	desc, ok := r.Tracker.RenderPassDesc(id)
	if !ok {
		return gpu.Null, errors.Errorf("%v is not a render pass", id)
	}
	h, err := r.drv.CreateRenderPass(ctx, desc.LoadVariant())
	if err != nil {
		return gpu.Null, err
	}
	r.loadPasses[id] = h
	return h, nil
}
