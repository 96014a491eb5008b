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
	"bytes"
	"context"
	"io"
	"sort"
	"time"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/initstate"
	"github.com/baldurk/renderdoc-sub014/metrics"
	"github.com/baldurk/renderdoc-sub014/rdcfile"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ErrNotCapturing is returned when a frame capture is ended that was never
// started.
var ErrNotCapturing = errors.New("No frame capture in progress")

// ErrAlreadyCapturing is returned by StartFrameCapture during a capture.
var ErrAlreadyCapturing = errors.New("A frame capture is already in progress")

// StartFrameCapture begins capturing the current frame. The contents of
// every dirty resource are snapshotted before any call of the frame runs.
func (c *Context) StartFrameCapture(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	return c.start(ctx)
}

func (c *Context) start(ctx context.Context) error {
	if c.capturing() {
		return ErrAlreadyCapturing
	}
	ctx = log.V{"frame": c.frame}.Bind(ctx)
	started := time.Now()

	c.Manager.ClearReferencedResources()
	c.Manager.MarkResourceFrameReferenced(c.device, resource.FrameRefRead)
	c.Manager.MarkResourceFrameReferenced(c.queue, resource.FrameRefRead)

	env := c.env()
	var total uint64
	for _, id := range c.Manager.Dirty() {
		if _, ok := c.Tracker.Object(id); !ok {
			continue
		}
		contents, err := initstate.Prepare(ctx, env, id)
		if err != nil {
			c.Manager.FreeInitialContents()
			return err
		}
		if contents != nil {
			c.Manager.SetInitialContents(id, contents)
			total += uint64(len(contents.Data))
		}
	}

	snap := c.Tracker.SnapshotLayouts()
	begin := &api.CaptureBegin{Frame: c.frame}
	for id, l := range snap {
		begin.Layouts = append(begin.Layouts, api.ImageLayouts{ID: id, Layout: l})
	}
	sort.Slice(begin.Layouts, func(i, j int) bool { return begin.Layouts[i].ID < begin.Layouts[j].ID })

	c.state = CapturingFrame
	c.capFrame = c.frame
	t, release := c.thread(ctx)
	defer release()
	if _, err := c.frameChunk(t, serialise.ChunkCaptureBegin, begin); err != nil {
		c.abort(ctx)
		return err
	}
	log.I(ctx, "Frame capture started: %d snapshots, %s in %v",
		len(c.Manager.InitialContentIDs()), humanize.IBytes(total), time.Since(started))
	return nil
}

// EndFrameCapture finishes the capture in progress and writes the capture
// file to w.
func (c *Context) EndFrameCapture(ctx context.Context, w io.Writer) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	return c.end(ctx, w)
}

func (c *Context) end(ctx context.Context, w io.Writer) error {
	if !c.capturing() {
		return ErrNotCapturing
	}
	ctx = log.V{"frame": c.capFrame}.Bind(ctx)
	t, release := c.thread(ctx)
	defer release()
	defer c.finish(ctx)

	if _, err := c.frameChunk(t, serialise.ChunkCaptureEnd, &api.CaptureEnd{}); err != nil {
		return err
	}
	if err := c.cmds.FlushQ(ctx); err != nil {
		return err
	}
	if err := c.drv.DeviceWaitIdle(ctx); err != nil {
		return err
	}

	stream, err := c.stream(ctx, t)
	if err != nil {
		return err
	}
	f := rdcfile.New(c.drv.Info().ID, c.drv.Info().Name)
	flags := rdcfile.SectionFlags(0)
	if c.opts.Capture.Compress == "zstd" {
		flags = rdcfile.ZstdCompressed
	}
	f.SetSection(rdcfile.NewSection(rdcfile.SectionFrameCapture, stream, flags))
	notes, err := rdcfile.NotesSection(rdcfile.Notes{
		Session:     c.session.String(),
		Frame:       c.capFrame,
		CaptureTime: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	f.SetSection(notes)

	var buf bytes.Buffer
	if err := rdcfile.Write(&buf, f); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "Writing capture")
	}
	metrics.CaptureDone(buf.Len())
	log.I(ctx, "Frame capture written: %s stream, %s file",
		humanize.IBytes(uint64(len(stream))), humanize.IBytes(uint64(buf.Len())))
	return nil
}

// stream builds the frame capture section: the driver init and creation
// chunks of every referenced resource, their initial contents, the
// contents list, the capture scope and the frame itself.
func (c *Context) stream(ctx context.Context, t *Thread) ([]byte, error) {
	var contents []*initstate.Contents
	var ids []resource.ID
	for _, id := range c.Manager.InitialContentIDs() {
		if _, ok := c.Manager.FrameRef(id); !ok && !c.opts.Capture.RefAllResources {
			continue
		}
		ic, _ := c.Manager.GetInitialContents(id)
		ct := ic.(*initstate.Contents)
		contents = append(contents, ct)
		ids = append(ids, id)
		// Objects named by the snapshot are recreated before it is applied.
		if ct.Set != nil {
			for _, d := range ct.Set.Referenced() {
				c.reference(d.Resource, resource.FrameRefRead)
				c.reference(d.View, resource.FrameRefRead)
			}
		}
		if ct.Table != nil {
			for _, m := range ct.Table.Memories() {
				c.reference(m, resource.FrameRefRead)
			}
		}
	}
	if err := initstate.EncodeAll(ctx, contents); err != nil {
		return nil, err
	}

	pre := c.Manager.InsertReferencedChunks(c.opts.Capture.RefAllResources)
	metrics.ChunksWritten("resource", len(pre))
	for i, ct := range contents {
		chunk, err := initstate.Serialise(t.w, ids[i], ct)
		if err != nil {
			return nil, err
		}
		pre = append(pre, chunk)
	}
	metrics.ChunksWritten("contents", len(contents))
	list, err := t.w.Object(serialise.ChunkInitialContentsList, &api.ContentsList{Needed: c.Manager.InitialContentsNeeded()})
	if err != nil {
		return nil, err
	}
	pre = append(pre, list)

	c.mu.Lock()
	var frame []*serialise.Chunk
	for _, chunk := range serialise.Merge(c.streams()...) {
		frame = append(frame, c.expand[chunk]...)
		frame = append(frame, chunk)
	}
	c.mu.Unlock()
	metrics.ChunksWritten("frame", len(frame))

	offset := uint64(0)
	for _, chunk := range pre {
		offset += chunk.Size()
	}
	scope := &api.CaptureScope{Frame: c.capFrame}
	probe, err := t.w.Object(serialise.ChunkCaptureScope, scope)
	if err != nil {
		return nil, err
	}
	scope.FrameOffset = offset + probe.Size()
	scopeChunk, err := t.w.Object(serialise.ChunkCaptureScope, scope)
	if err != nil {
		return nil, err
	}
	all := append(append(pre, scopeChunk), frame...)
	data, _ := serialise.EncodeStream(all)
	log.D(ctx, "Capture stream: %d resource chunks, %d initial contents, %d frame chunks",
		len(pre)-len(contents)-1, len(contents), len(frame))
	return data, nil
}

// finish returns to Idle after a capture and releases the objects destroyed
// during it.
func (c *Context) finish(ctx context.Context) {
	c.Manager.MarkUnwritten()
	c.Manager.ClearReferencedResources()
	c.Manager.FreeInitialContents()
	c.Manager.FlushPendingDirty()
	c.resetStreams()
	c.state = Idle
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expand = map[*serialise.Chunk][]*serialise.Chunk{}
	for _, id := range c.deferred {
		c.release(ctx, id)
	}
	c.deferred = nil
}

// AbortFrameCapture stops the capture in progress without writing it.
func (c *Context) AbortFrameCapture(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if !c.capturing() {
		return ErrNotCapturing
	}
	c.abort(ctx)
	return nil
}

func (c *Context) abort(ctx context.Context) {
	log.W(ctx, "Frame capture of frame %d aborted", c.capFrame)
	metrics.CaptureAborted()
	c.finish(ctx)
}

// Present marks the end of the current frame. Captures listed in the
// trigger frames are started and ended around their frame.
func (c *Context) Present(ctx context.Context, queue gpu.Handle) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if _, err := c.live(queue); err != nil {
		return err
	}
	if c.capturing() && c.triggered != nil {
		out := c.triggered
		c.triggered = nil
		err := c.end(ctx, out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	c.frame++
	return c.trigger(ctx)
}

// trigger starts a capture if the current frame is a trigger frame.
func (c *Context) trigger(ctx context.Context) error {
	if c.capturing() || !c.opts.Capture.Trigger(c.frame) || c.opts.TriggerOutput == nil {
		return nil
	}
	out, err := c.opts.TriggerOutput(c.frame)
	if err != nil {
		return err
	}
	if err := c.start(ctx); err != nil {
		out.Close()
		return err
	}
	c.triggered = out
	return nil
}
