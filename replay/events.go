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
	"fmt"
	"sort"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
)

// Event is one replayable point of the frame. Event IDs start at 1 and
// follow the order of the frame chunks.
type Event struct {
	ID     uint32
	Offset uint64
	Chunk  serialise.ChunkType
	Name   string
	// CB is the command buffer the event was recorded into, or Null for
	// queue level events.
	CB resource.ID
	// Command is the recorded command kind, or 0.
	Command gpu.CommandKind
}

func (e Event) String() string { return fmt.Sprintf("%d:%s", e.ID, e.Name) }

// EventOffset pairs an event with the stream offset of its chunk.
type EventOffset struct {
	Offset  uint64
	EventID uint32
}

// EventIndex is sorted by both Offset and EventID.
type EventIndex []EventOffset

// ByOffset returns the event whose chunk starts at offset.
func (x EventIndex) ByOffset(offset uint64) (uint32, bool) {
	i := sort.Search(len(x), func(i int) bool { return x[i].Offset >= offset })
	if i < len(x) && x[i].Offset == offset {
		return x[i].EventID, true
	}
	return 0, false
}

// ByEvent returns the chunk offset of event id.
func (x EventIndex) ByEvent(id uint32) (uint64, bool) {
	i := sort.Search(len(x), func(i int) bool { return x[i].EventID >= id })
	if i < len(x) && x[i].EventID == id {
		return x[i].Offset, true
	}
	return 0, false
}

// Last returns the highest event id, or 0 for an empty frame.
func (x EventIndex) Last() uint32 {
	if len(x) == 0 {
		return 0
	}
	return x[len(x)-1].EventID
}

// ActionFlags classify an action.
type ActionFlags uint32

const (
	ActionDraw ActionFlags = 1 << iota
	ActionDispatch
	ActionCopy
	ActionClear
	ActionPassBoundary
	ActionMarkerGroup
	ActionCmdBufferLabel
)

// Action is a node of the frame's action tree. Marker groups and command
// buffer labels have children; draws, dispatches, copies and clears are
// leaves.
type Action struct {
	EventID  uint32
	Name     string
	Flags    ActionFlags
	Children []*Action
}

// Traverse calls cb for every action in depth first order. Returning an
// error from cb stops the traversal.
func Traverse(actions []*Action, cb func(depth int, a *Action) error) error {
	var visit func(depth int, list []*Action) error
	visit = func(depth int, list []*Action) error {
		for _, a := range list {
			if err := cb(depth, a); err != nil {
				return err
			}
			if err := visit(depth+1, a.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(0, actions)
}

func actionFlags(k gpu.CommandKind) ActionFlags {
	switch k {
	case gpu.CmdKindDraw:
		return ActionDraw
	case gpu.CmdKindDispatch:
		return ActionDispatch
	case gpu.CmdKindCopyBuffer, gpu.CmdKindCopyBufferToImage, gpu.CmdKindCopyImageToBuffer, gpu.CmdKindUpdateBuffer:
		return ActionCopy
	case gpu.CmdKindClearColorImage, gpu.CmdKindFillBuffer:
		return ActionClear
	case gpu.CmdKindBeginRenderPass, gpu.CmdKindEndRenderPass:
		return ActionPassBoundary
	}
	return 0
}

// EventUsage is one use of a resource by an event.
type EventUsage struct {
	EventID uint32
	Usage   state.Usage
}

// cbInstance is one submitted recording of a command buffer. A command
// buffer submitted twice in the frame has two instances.
type cbInstance struct {
	CB         resource.ID
	Begin      uint64
	BeginEvent uint32
	EndEvent   uint32
}

// contains returns true if ev is one of the instance's command events.
func (i *cbInstance) contains(ev uint32) bool { return ev > i.BeginEvent && ev < i.EndEvent }

// submission is a queue submit and the recordings it executes.
type submission struct {
	Event     uint32
	Offset    uint64
	Instances []*cbInstance
}

// builder collects the results of the frame scan.
type builder struct {
	events  []Event
	index   EventIndex
	actions []*Action
	submits []*submission
	usage   map[resource.ID][]EventUsage

	pending []*cbInstance
	open    map[resource.ID]*recording
}

// recording is a command buffer between its begin and end chunks.
type recording struct {
	inst   *cbInstance
	cb     *state.CmdBuffer
	label  *Action
	groups []*Action
}

func newBuilder() *builder {
	return &builder{usage: map[resource.ID][]EventUsage{}, open: map[resource.ID]*recording{}}
}

func (b *builder) event(offset uint64, typ serialise.ChunkType, name string, cb resource.ID, k gpu.CommandKind) uint32 {
	id := uint32(len(b.events)) + 1
	b.events = append(b.events, Event{ID: id, Offset: offset, Chunk: typ, Name: name, CB: cb, Command: k})
	b.index = append(b.index, EventOffset{Offset: offset, EventID: id})
	return id
}

// parent returns the action list new actions of rec are added to.
func (rec *recording) parent() *[]*Action {
	if n := len(rec.groups); n > 0 {
		return &rec.groups[n-1].Children
	}
	return &rec.label.Children
}

func (b *builder) begin(offset uint64, typ serialise.ChunkType, cb resource.ID) error {
	if _, ok := b.open[cb]; ok {
		return errors.Errorf("%v begun twice without an end", cb)
	}
	id := b.event(offset, typ, typ.String(), cb, 0)
	rec := &recording{
		inst:  &cbInstance{CB: cb, Begin: offset, BeginEvent: id},
		cb:    state.NewCmdBuffer(),
		label: &Action{EventID: id, Name: fmt.Sprintf("%v begin", cb), Flags: ActionCmdBufferLabel},
	}
	b.open[cb] = rec
	b.actions = append(b.actions, rec.label)
	return nil
}

func (b *builder) command(t *state.Tracker, offset uint64, typ serialise.ChunkType, cb resource.ID, cmd gpu.Command) error {
	rec, ok := b.open[cb]
	if !ok {
		return errors.Errorf("%v recorded into %v outside begin/end", cmd.Kind(), cb)
	}
	k := cmd.Kind()
	id := b.event(offset, typ, k.String(), cb, k)
	for _, u := range t.Uses(rec.cb.State, cmd) {
		b.usage[u.ID] = append(b.usage[u.ID], EventUsage{EventID: id, Usage: u.Usage})
	}
	switch c := cmd.(type) {
	case *gpu.BeginDebugMarker:
		g := &Action{EventID: id, Name: c.Name, Flags: ActionMarkerGroup}
		p := rec.parent()
		*p = append(*p, g)
		rec.groups = append(rec.groups, g)
	case *gpu.EndDebugMarker:
		if n := len(rec.groups); n > 0 {
			rec.groups = rec.groups[:n-1]
		}
	default:
		if k.IsAction() {
			p := rec.parent()
			*p = append(*p, &Action{EventID: id, Name: k.String(), Flags: actionFlags(k)})
		}
	}
	t.Record(rec.cb, cmd)
	return nil
}

func (b *builder) end(offset uint64, typ serialise.ChunkType, cb resource.ID) error {
	rec, ok := b.open[cb]
	if !ok {
		return errors.Errorf("%v ended without a begin", cb)
	}
	delete(b.open, cb)
	id := b.event(offset, typ, typ.String(), cb, 0)
	rec.inst.EndEvent = id
	b.actions = append(b.actions, &Action{EventID: id, Name: fmt.Sprintf("%v end", cb), Flags: ActionCmdBufferLabel})
	b.pending = append(b.pending, rec.inst)
	return nil
}

// submit claims the finished recordings for the submit at offset. cbs is the
// submission order named by the submit chunk.
func (b *builder) submit(offset uint64, typ serialise.ChunkType, cbs []resource.ID) (*submission, error) {
	id := b.event(offset, typ, typ.String(), resource.Null, 0)
	s := &submission{Event: id, Offset: offset}
	if len(cbs) != len(b.pending) {
		return nil, errors.Errorf("Submit of %d command buffers follows %d recordings", len(cbs), len(b.pending))
	}
	for i, cb := range cbs {
		if b.pending[i].CB != cb {
			return nil, errors.Errorf("Submit names %v where %v was recorded", cb, b.pending[i].CB)
		}
	}
	s.Instances, b.pending = b.pending, nil
	b.submits = append(b.submits, s)
	return s, nil
}
