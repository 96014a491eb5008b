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
	"testing"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/baldurk/renderdoc-sub014/internal/scene"
	"github.com/baldurk/renderdoc-sub014/rdcfile"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func options() Options {
	return Options{Capture: config.Default().Capture, Validation: true}
}

func newContext(ctx context.Context, t *testing.T, opts Options) *Context {
	drv := soft.New(ctx, gpu.DeviceDesc{Name: t.Name(), Validation: true})
	c, err := New(ctx, drv, opts)
	require.NoError(t, err)
	return c
}

type parsed struct {
	file    *rdcfile.File
	chunks  []*serialise.Chunk
	offsets []uint64
}

func parse(t *testing.T, data []byte) parsed {
	f, err := rdcfile.Read(bytes.NewReader(data))
	require.NoError(t, err)
	frame, err := f.FrameData()
	require.NoError(t, err)
	r := serialise.NewStreamReader(frame)
	r.SetKnown(api.Known)
	p := parsed{file: f}
	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		p.chunks = append(p.chunks, c)
		p.offsets = append(p.offsets, r.LastOffset())
	}
	assert.Zero(t, r.Skipped())
	return p
}

func (p parsed) count(typ serialise.ChunkType) int {
	n := 0
	for _, c := range p.chunks {
		if c.Type == typ {
			n++
		}
	}
	return n
}

func (p parsed) index(typ serialise.ChunkType) int {
	for i, c := range p.chunks {
		if c.Type == typ {
			return i
		}
	}
	return -1
}

func captureTriangle(ctx context.Context, t *testing.T, opts Options) (*Context, *scene.Triangle, parsed) {
	c := newContext(ctx, t, opts)
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)
	require.NoError(t, c.StartFrameCapture(ctx))
	assert.Equal(t, CapturingFrame, c.State())
	require.NoError(t, tri.Frame(ctx, c))
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	assert.Equal(t, Idle, c.State())
	return c, tri, parse(t, buf.Bytes())
}

func TestTriangleCapture(t *testing.T) {
	ctx := log.Testing(t)
	_, _, p := captureTriangle(ctx, t, options())

	require.NotEmpty(t, p.chunks)
	assert.Equal(t, serialise.ChunkDriverInit, p.chunks[0].Type)
	init := &api.DriverInit{}
	require.NoError(t, p.chunks[0].Decode(init))
	assert.Equal(t, soft.Name, init.DriverName)
	assert.Equal(t, uint32(soft.ID), init.DriverID)

	assert.Equal(t, 1, p.count(serialise.ChunkCaptureScope))
	assert.Equal(t, 1, p.count(api.CmdChunk(gpu.CmdKindDraw)))
	assert.Equal(t, 1, p.count(api.ChunkQueueSubmit))
	assert.Equal(t, 1, p.count(serialise.ChunkInitialContentsList))
	assert.NotZero(t, p.count(serialise.ChunkInitialContents), "the vertex memory was written before the frame")

	list, scope, begin, end := p.index(serialise.ChunkInitialContentsList), p.index(serialise.ChunkCaptureScope),
		p.index(serialise.ChunkCaptureBegin), p.index(serialise.ChunkCaptureEnd)
	assert.True(t, list < scope && scope < begin && begin < end, "list %d scope %d begin %d end %d", list, scope, begin, end)
	assert.Equal(t, len(p.chunks)-1, end)

	s := &api.CaptureScope{}
	require.NoError(t, p.chunks[scope].Decode(s))
	assert.Equal(t, p.offsets[scope+1], uint64(s.FrameOffset), "frame offset names the first frame chunk")

	// Recorded commands appear in the frame between their command buffer's
	// begin and end, before the submit.
	beginCB, draw, endCB, submit := p.index(api.ChunkBeginCommandBuffer), p.index(api.CmdChunk(gpu.CmdKindDraw)),
		p.index(api.ChunkEndCommandBuffer), p.index(api.ChunkQueueSubmit)
	assert.True(t, begin < beginCB && beginCB < draw && draw < endCB && endCB < submit)

	for i := 1; i < len(p.offsets); i++ {
		assert.True(t, p.offsets[i] > p.offsets[i-1])
	}
	notes, ok, err := p.file.Notes()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0), notes.Frame)
}

func TestUnreferencedResourcesAreSkipped(t *testing.T) {
	ctx := log.Testing(t)
	for _, all := range []bool{false, true} {
		opts := options()
		opts.Capture.RefAllResources = all
		c := newContext(ctx, t, opts)
		tri, err := scene.NewTriangle(ctx, c, false)
		require.NoError(t, err)
		_, err = c.CreateBuffer(ctx, gpu.BufferDesc{Size: 64, Usage: gpu.UsageTransferDst})
		require.NoError(t, err)
		require.NoError(t, c.StartFrameCapture(ctx))
		require.NoError(t, tri.Frame(ctx, c))
		var buf bytes.Buffer
		require.NoError(t, c.EndFrameCapture(ctx, &buf))
		p := parse(t, buf.Bytes())
		if all {
			assert.Equal(t, 2, p.count(api.ChunkCreateBuffer))
		} else {
			assert.Equal(t, 1, p.count(api.ChunkCreateBuffer), "only the vertex buffer is used")
		}
	}
}

func TestResubmittedCommandBuffer(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)
	require.NoError(t, tri.Record(ctx, c, tri.Draw()...))
	require.NoError(t, c.StartFrameCapture(ctx))
	require.NoError(t, tri.Submit(ctx, c))
	require.NoError(t, tri.Submit(ctx, c))
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	p := parse(t, buf.Bytes())
	assert.Equal(t, 2, p.count(api.CmdChunk(gpu.CmdKindDraw)))
	assert.Equal(t, 2, p.count(api.ChunkBeginCommandBuffer))
	assert.Equal(t, 2, p.count(api.ChunkQueueSubmit))
}

func TestCaptureStateErrors(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	var buf bytes.Buffer
	assert.Equal(t, ErrNotCapturing, c.EndFrameCapture(ctx, &buf))
	assert.Equal(t, ErrNotCapturing, c.AbortFrameCapture(ctx))
	require.NoError(t, c.StartFrameCapture(ctx))
	assert.Equal(t, ErrAlreadyCapturing, c.StartFrameCapture(ctx))
	require.NoError(t, c.AbortFrameCapture(ctx))
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, buf.Len())
}

func TestAbortWritesNothing(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)
	require.NoError(t, c.StartFrameCapture(ctx))
	require.NoError(t, tri.Frame(ctx, c))
	require.NoError(t, c.AbortFrameCapture(ctx))
	assert.Empty(t, c.Manager.InitialContentIDs())

	// The next capture starts from a clean frame.
	require.NoError(t, c.StartFrameCapture(ctx))
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	p := parse(t, buf.Bytes())
	assert.Zero(t, p.count(api.CmdChunk(gpu.CmdKindDraw)))
}

func TestDestroyDuringCapture(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)
	require.NoError(t, c.StartFrameCapture(ctx))
	require.NoError(t, tri.Frame(ctx, c))
	require.NoError(t, c.Destroy(ctx, tri.Framebuffer))
	fb := resource.ID(tri.Framebuffer)
	assert.True(t, c.Manager.HasLive(fb), "destroyed objects stay known until the capture ends")

	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	assert.False(t, c.Manager.HasLive(fb))
	p := parse(t, buf.Bytes())
	assert.Equal(t, 1, p.count(api.ChunkCreateFramebuffer))
	assert.Equal(t, 1, p.count(api.ChunkDestroy))
	assert.True(t, p.index(api.ChunkCreateFramebuffer) < p.index(api.ChunkDestroy))
}

func TestReplaceShaderUnsupported(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	desc, _ := soft.Shader(soft.FSPushColor)
	sh, err := c.CreateShader(ctx, desc)
	require.NoError(t, err)
	err = c.ReplaceShader(ctx, sh, desc)
	assert.True(t, errors.Is(err, fault.ErrUnsupportedFeature))
}

type output struct {
	bytes.Buffer
	closed bool
}

func (o *output) Close() error {
	o.closed = true
	return nil
}

func TestTriggeredCapture(t *testing.T) {
	ctx := log.Testing(t)
	opts := options()
	opts.Capture.TriggerFrames = []uint32{1}
	outputs := map[uint32]*output{}
	opts.TriggerOutput = func(frame uint32) (io.WriteCloser, error) {
		o := &output{}
		outputs[frame] = o
		return o, nil
	}
	c := newContext(ctx, t, opts)
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)

	for frame := uint32(0); frame < 3; frame++ {
		assert.Equal(t, frame, c.Frame())
		assert.Equal(t, frame == 1, c.State() == CapturingFrame, "frame %d", frame)
		require.NoError(t, tri.Frame(ctx, c))
		require.NoError(t, c.Present(ctx, c.Queue()))
	}
	require.Len(t, outputs, 1)
	out := outputs[1]
	assert.True(t, out.closed)
	p := parse(t, out.Bytes())
	notes, _, err := p.file.Notes()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), notes.Frame)
	assert.Equal(t, c.Session().String(), notes.Session)
	assert.Equal(t, 1, p.count(api.CmdChunk(gpu.CmdKindDraw)))
}

func TestThreadsMergeBySequence(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	var patterns []*scene.Pattern
	for i := 0; i < 4; i++ {
		p, err := scene.NewPattern(ctx, c, 256)
		require.NoError(t, err)
		patterns = append(patterns, p)
	}
	require.NoError(t, c.StartFrameCapture(ctx))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range patterns {
		p := p
		th := c.NewThread()
		g.Go(func() error {
			return p.Write(WithThread(gctx, th), c)
		})
	}
	require.NoError(t, g.Wait())
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))

	p := parse(t, buf.Bytes())
	assert.Equal(t, len(patterns), p.count(api.ChunkWriteMemory))
	var last uint64
	threads := map[uint64]bool{}
	for _, chunk := range p.chunks[p.index(serialise.ChunkCaptureBegin):] {
		assert.True(t, chunk.Sequence > last, "frame chunks are ordered by sequence")
		last = chunk.Sequence
		if chunk.Type == api.ChunkWriteMemory {
			threads[chunk.ThreadID] = true
		}
	}
	assert.Len(t, threads, len(patterns))
}

func TestDirtyContentsCaptured(t *testing.T) {
	ctx := log.Testing(t)
	c := newContext(ctx, t, options())
	comp, err := scene.NewCompute(ctx, c)
	require.NoError(t, err)
	require.NoError(t, comp.Frame(ctx, c, 3))

	require.NoError(t, c.StartFrameCapture(ctx))
	for _, id := range []resource.ID{resource.ID(comp.AMem), resource.ID(comp.BMem)} {
		_, ok := c.Manager.GetInitialContents(id)
		assert.True(t, ok, "%v was written by the GPU before the frame", id)
	}
	require.NoError(t, comp.Frame(ctx, c, 5))
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	p := parse(t, buf.Bytes())
	assert.Equal(t, 2, p.count(api.CmdChunk(gpu.CmdKindDispatch)))
	assert.Equal(t, 1, p.count(api.ChunkAllocateDescriptorSet))
}
