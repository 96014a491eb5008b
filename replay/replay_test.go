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
	"bytes"
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/baldurk/renderdoc-sub014/api"
	"github.com/baldurk/renderdoc-sub014/capture"
	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/baldurk/renderdoc-sub014/internal/scene"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record captures one frame. setup runs before the frame, frame inside it.
func record(ctx context.Context, t *testing.T, setup func(drv gpu.Driver) (func() error, error)) []byte {
	drv := soft.New(ctx, gpu.DeviceDesc{Name: t.Name(), Validation: true})
	c, err := capture.New(ctx, drv, capture.Options{Capture: config.Default().Capture, Validation: true})
	require.NoError(t, err)
	frame, err := setup(c)
	require.NoError(t, err)
	require.NoError(t, c.StartFrameCapture(ctx))
	require.NoError(t, frame())
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))
	return buf.Bytes()
}

func load(ctx context.Context, t *testing.T, data []byte) *Replayer {
	r, err := Load(ctx, bytes.NewReader(data), Options{Replay: config.Default().Replay})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(ctx) })
	return r
}

func triangle(ctx context.Context, t *testing.T) (*scene.Triangle, []byte) {
	var tri *scene.Triangle
	data := record(ctx, t, func(drv gpu.Driver) (func() error, error) {
		var err error
		tri, err = scene.NewTriangle(ctx, drv, false)
		return func() error { return tri.Frame(ctx, drv) }, err
	})
	return tri, data
}

// actionEvents returns the events of every action with flag set.
func actionEvents(r *Replayer, flag ActionFlags) []uint32 {
	var out []uint32
	Traverse(r.GetActions(), func(depth int, a *Action) error {
		if a.Flags&flag != 0 {
			out = append(out, a.EventID)
		}
		return nil
	})
	return out
}

func checkTriangle(t *testing.T, tex *Texture) {
	require.Equal(t, uint32(scene.Target), tex.Width)
	require.Len(t, tex.Data, scene.Target*scene.Target*4)
	for y := 0; y < scene.Target; y++ {
		for x := 0; x < scene.Target; x++ {
			want := scene.Blue
			if scene.Covered(x, y) {
				want = scene.Red
			}
			assert.Equal(t, want, scene.Pixel(tex.Data, scene.Target, x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestTriangleReplay(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	assert.Equal(t, LogLoaded, r.State())
	assert.Equal(t, soft.Name, r.DriverInit().DriverName)

	draws := actionEvents(r, ActionDraw)
	require.Len(t, draws, 1)
	require.NoError(t, r.ReplayLog(ctx, draws[0], draws[0], Full))
	assert.Equal(t, draws[0], r.CurrentEvent())

	tex, err := r.GetTexture(ctx, resource.ID(tri.Image), 0, 0)
	require.NoError(t, err)
	checkTriangle(t, tex)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, tex.Texel(0, 0))
}

func TestReplayBeforeDrawShowsClear(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	draw := actionEvents(r, ActionDraw)[0]

	require.NoError(t, r.ReplayLog(ctx, 0, draw, WithoutDraw))
	tex, err := r.GetTexture(ctx, resource.ID(tri.Image), 0, 0)
	require.NoError(t, err)
	for y := 0; y < scene.Target; y++ {
		for x := 0; x < scene.Target; x++ {
			assert.Equal(t, scene.Blue, scene.Pixel(tex.Data, scene.Target, x, y))
		}
	}
}

func TestPartialReplayMatchesFull(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	draw := actionEvents(r, ActionDraw)[0]
	id := resource.ID(tri.Image)

	require.NoError(t, r.ReplayLog(ctx, 0, draw, Full))
	full, err := r.GetTexture(ctx, id, 0, 0)
	require.NoError(t, err)

	require.NoError(t, r.ReplayLog(ctx, 0, draw, WithoutDraw))
	require.NoError(t, r.ReplayLog(ctx, draw, draw, OnlyDraw))
	split, err := r.GetTexture(ctx, id, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, full.Data, split.Data)
	checkTriangle(t, split)
}

func TestReplayIsIdempotent(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	last := r.GetEvents()[len(r.GetEvents())-1].ID

	var sums []uint64
	for i := 0; i < 2; i++ {
		require.NoError(t, r.ReplayLog(ctx, 0, last, Full))
		tex, err := r.GetTexture(ctx, resource.ID(tri.Image), 0, 0)
		require.NoError(t, err)
		sums = append(sums, xxhash.Sum64(tex.Data))
	}
	assert.Equal(t, sums[0], sums[1])

	// A later replay starts again from the initial contents.
	require.NoError(t, r.ReplayLog(ctx, 0, last, WithoutDraw))
	require.NoError(t, r.ReplayLog(ctx, 0, last, Full))
	tex, err := r.GetTexture(ctx, resource.ID(tri.Image), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, sums[0], xxhash.Sum64(tex.Data))
}

func TestBufferWrittenInFrame(t *testing.T) {
	ctx := log.Testing(t)
	var p *scene.Pattern
	data := record(ctx, t, func(drv gpu.Driver) (func() error, error) {
		var err error
		p, err = scene.NewPattern(ctx, drv, 1024)
		return func() error { return p.Write(ctx, drv) }, err
	})
	r := load(ctx, t, data)

	got, err := r.ReadBuffer(ctx, resource.ID(p.Buffer), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, p.Data, got)

	tail, err := r.ReadBuffer(ctx, resource.ID(p.Buffer), 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, p.Data[1000:], tail)

	clamped, err := r.ReadBuffer(ctx, resource.ID(p.Buffer), 1020, 64)
	require.NoError(t, err)
	assert.Equal(t, p.Data[1020:], clamped)

	mem, err := r.ReadBuffer(ctx, resource.ID(p.Memory), 0, 16)
	require.NoError(t, err)
	assert.Equal(t, p.Data[:16], mem)

	info, err := r.GetBuffer(resource.ID(p.Buffer))
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), info.Desc.Size)
	assert.Equal(t, resource.ID(p.Memory), info.Memory)
}

type countingBackend struct {
	opens *int32
}

const countingName = "counting"

func (countingBackend) Info() gpu.Info { return gpu.Info{Name: countingName, ID: 0xc0} }

func (b countingBackend) Open(ctx context.Context, d gpu.DeviceDesc) (gpu.Driver, error) {
	atomic.AddInt32(b.opens, 1)
	return soft.New(ctx, d), nil
}

func TestVersionMismatchCreatesNothing(t *testing.T) {
	ctx := log.Testing(t)
	_, data := triangle(ctx, t)

	var opens int32
	gpu.Register(countingBackend{opens: &opens})
	defer gpu.Unregister(countingName)
	opts := Options{Replay: config.Default().Replay}
	opts.Backend = countingName

	// The counting backend opens devices for an intact file.
	r, err := Load(ctx, bytes.NewReader(data), opts)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))
	require.Equal(t, int32(1), atomic.LoadInt32(&opens))

	bad := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(bad[4:8], 0x101)
	_, err = Load(ctx, bytes.NewReader(bad), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrVersionIncompatible), "got %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens), "no device opened for a bad version")
}

func TestLookupFailureIsRecoverable(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	last := r.GetEvents()[len(r.GetEvents())-1].ID

	id := resource.ID(tri.Vertices)
	live, err := r.Manager.GetLiveHandle(id)
	require.NoError(t, err)
	r.Manager.EraseLive(id)

	err = r.ReplayLog(ctx, 0, last, Full)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrResourceLookupFailure), "got %v", err)
	assert.Equal(t, LogLoaded, r.State())

	r.Manager.AddLive(id, live)
	require.NoError(t, r.ReplayLog(ctx, 0, last, Full))
	tex, err := r.GetTexture(ctx, resource.ID(tri.Image), 0, 0)
	require.NoError(t, err)
	checkTriangle(t, tex)
}

func TestInvalidRanges(t *testing.T) {
	ctx := log.Testing(t)
	_, data := triangle(ctx, t)
	r := load(ctx, t, data)
	last := r.GetEvents()[len(r.GetEvents())-1].ID

	assert.Error(t, r.ReplayLog(ctx, 3, 2, Full))
	assert.Error(t, r.ReplayLog(ctx, 0, last+1, Full))
	assert.Error(t, r.ReplayLog(ctx, 0, 0, OnlyDraw))
	assert.Equal(t, LogLoaded, r.State())
}

func TestEventsAndActions(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)

	events := r.GetEvents()
	require.NotEmpty(t, events)
	for i, e := range events {
		assert.Equal(t, uint32(i+1), e.ID)
		if i > 0 {
			assert.True(t, e.Offset > events[i-1].Offset)
		}
	}
	assert.Equal(t, api.ChunkBeginCommandBuffer, events[0].Chunk)
	require.True(t, len(events) >= 2)
	last := events[len(events)-2:]
	assert.Equal(t, []serialise.ChunkType{api.ChunkQueueSubmit, api.ChunkQueueWaitIdle},
		[]serialise.ChunkType{last[0].Chunk, last[1].Chunk})

	var frame *Action
	depth := -1
	Traverse(r.GetActions(), func(d int, a *Action) error {
		if a.Flags&ActionMarkerGroup != 0 && a.Name == "Frame" {
			frame, depth = a, d
		}
		return nil
	})
	require.NotNil(t, frame)
	assert.Equal(t, 1, depth, "marker groups sit under the command buffer label")
	var kinds []ActionFlags
	for _, c := range frame.Children {
		kinds = append(kinds, c.Flags)
	}
	assert.Equal(t, []ActionFlags{ActionPassBoundary, ActionDraw, ActionPassBoundary}, kinds)

	draw := actionEvents(r, ActionDraw)[0]
	assert.Contains(t, r.GetUsage(resource.ID(tri.Image)), EventUsage{EventID: draw, Usage: state.UsageColorTarget})
	assert.Contains(t, r.GetUsage(resource.ID(tri.Vertices)), EventUsage{EventID: draw, Usage: state.UsageVertexBuffer})
}

func TestPipelineStateAtDraw(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)
	draw := actionEvents(r, ActionDraw)[0]
	require.NoError(t, r.ReplayLog(ctx, draw, draw, Full))

	ps, err := r.PipelineState(ctx)
	require.NoError(t, err)
	assert.Equal(t, draw, ps.EventID)
	assert.Equal(t, resource.ID(tri.CB), ps.CB)
	assert.True(t, ps.State.InRenderPass)
	assert.Equal(t, resource.ID(tri.Pipeline), ps.State.Graphics.Pipeline)
	require.NotNil(t, ps.Graphics)
	assert.False(t, ps.Graphics.Wireframe)
	assert.Nil(t, ps.Compute)
	require.Len(t, ps.Attachments, 1)
	assert.Equal(t, resource.ID(tri.Image), ps.Attachments[0].Image)
	assert.Equal(t, scene.Floats(1, 0, 0, 1), ps.State.Push)

	vs, err := r.GetShader(resource.ID(ps.Graphics.VertexShader))
	require.NoError(t, err)
	assert.Equal(t, soft.VSPosition2D, vs.EntryPoint)
}

func TestComputeReplay(t *testing.T) {
	ctx := log.Testing(t)
	var comp *scene.Compute
	data := record(ctx, t, func(drv gpu.Driver) (func() error, error) {
		var err error
		comp, err = scene.NewCompute(ctx, drv)
		return func() error { return comp.Frame(ctx, drv, 5) }, err
	})
	r := load(ctx, t, data)

	word := func(id gpu.Handle) uint32 {
		b, err := r.ReadBuffer(ctx, resource.ID(id), 0, 4)
		require.NoError(t, err)
		return binary.LittleEndian.Uint32(b)
	}
	assert.Equal(t, uint32(5), word(comp.A))
	assert.Equal(t, uint32(12), word(comp.B))

	dispatches := actionEvents(r, ActionDispatch)
	require.Len(t, dispatches, 2)
	require.NoError(t, r.ReplayLog(ctx, 0, dispatches[0], Full))
	assert.Equal(t, uint32(5), word(comp.A))
	assert.Equal(t, uint32(7), word(comp.B), "initial contents restored before the add")

	ps, err := r.PipelineState(ctx)
	require.NoError(t, err)
	require.NotNil(t, ps.Compute)
	set, ok := ps.Sets[resource.ID(comp.Set)]
	require.True(t, ok)
	assert.Len(t, set.Referenced(), 2)
}

func TestSparseReplay(t *testing.T) {
	ctx := log.Testing(t)
	var sp *scene.Sparse
	data := record(ctx, t, func(drv gpu.Driver) (func() error, error) {
		var err error
		sp, err = scene.NewSparse(ctx, drv)
		if err != nil {
			return nil, err
		}
		cmds, err := scene.NewCommands(ctx, drv)
		return func() error {
			if err := sp.Bind(ctx, drv); err != nil {
				return err
			}
			if err := cmds.Record(ctx, drv, sp.Fill(0x01010101)); err != nil {
				return err
			}
			return cmds.Submit(ctx, drv)
		}, err
	})
	r := load(ctx, t, data)

	got, err := r.ReadBuffer(ctx, resource.ID(sp.Buffer), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2*gpu.SparsePageSize)
	assert.Equal(t, make([]byte, gpu.SparsePageSize), got[:gpu.SparsePageSize], "unbound page reads zero")
	assert.Equal(t, bytes.Repeat([]byte{1}, gpu.SparsePageSize), got[gpu.SparsePageSize:])
}

func TestResourceList(t *testing.T) {
	ctx := log.Testing(t)
	tri, data := triangle(ctx, t)
	r := load(ctx, t, data)

	byID := map[resource.ID]ResourceDesc{}
	for _, d := range r.GetResources() {
		byID[d.ID] = d
	}
	img, ok := byID[resource.ID(tri.Image)]
	require.True(t, ok)
	assert.Equal(t, gpu.KindImage, img.Kind)
	assert.True(t, img.Live)
	assert.NotEmpty(t, img.Name)

	_, err := r.GetTexture(ctx, resource.ID(tri.Vertices), 0, 0)
	assert.Error(t, err, "a buffer is not a texture")
	_, err = r.GetTexture(ctx, resource.ID(tri.Image), 1, 0)
	assert.Error(t, err)
}
