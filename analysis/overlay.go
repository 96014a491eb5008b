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

package analysis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/image"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/pkg/errors"
)

// Overlay selects the view RenderOverlay draws.
type Overlay int

const (
	// OverlayDrawcall shows the pixels the draw covers over a darkened
	// background.
	OverlayDrawcall Overlay = iota + 1
	// OverlayWireframe shows the edges of the draw's triangles.
	OverlayWireframe
	// OverlayViewportScissor shades the viewport and outlines the scissor.
	OverlayViewportScissor
	// OverlayClearBeforeDraw shows the target with only the draw applied.
	OverlayClearBeforeDraw
)

var overlayNames = map[Overlay]string{
	OverlayDrawcall:        "Drawcall",
	OverlayWireframe:       "Wireframe",
	OverlayViewportScissor: "ViewportScissor",
	OverlayClearBeforeDraw: "ClearBeforeDraw",
}

func (o Overlay) String() string {
	if n, ok := overlayNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Overlay(%d)", int(o))
}

// ParseOverlay returns the overlay with the given name.
func ParseOverlay(name string) (Overlay, error) {
	for o, n := range overlayNames {
		if n == name {
			return o, nil
		}
	}
	return 0, errors.Errorf("Unknown overlay %q", name)
}

var (
	drawcallColor      = [4]float32{0.8, 0.1, 0.8, 1}
	drawcallBackground = [4]float32{0, 0, 0, 0.5}
	wireframeColor     = [4]float32{1, 1, 0, 1}
	viewportColor      = [4]float32{0.15, 0.3, 0.6, 0.3}
	scissorColor       = [4]float32{1, 1, 0, 1}
	clearColor         = [4]float32{}
	meshColor          = [4]float32{1, 1, 1, 1}
	meshBackground     = [4]float32{0, 0, 0, 1}
)

// drawAt is the draw of an event and the target it renders to.
type drawAt struct {
	ev     uint32
	ps     *replay.PipelineState
	draw   *gpu.Draw
	target resource.ID
	rng    gpu.SubresourceRange
	width  uint32
	height uint32
}

func drawState(ctx context.Context, r *replay.Replayer, ev uint32) (*drawAt, error) {
	if err := r.SetFrameEvent(ctx, ev, false); err != nil {
		return nil, err
	}
	ps, err := r.PipelineState(ctx)
	if err != nil {
		return nil, err
	}
	draw, ok := ps.Command.(*gpu.Draw)
	if !ok {
		return nil, errors.Errorf("Event %d is not a draw", ev)
	}
	if ps.Graphics == nil || len(ps.Attachments) == 0 {
		return nil, errors.Errorf("Draw at event %d has no pipeline or target", ev)
	}
	a := ps.Attachments[0]
	desc, ok := r.Tracker.ImageDesc(a.Image)
	if !ok {
		return nil, errors.Errorf("Attachment %v is not an image", a.Image)
	}
	return &drawAt{
		ev: ev, ps: ps, draw: draw, target: a.Image, rng: a.Range,
		width: desc.MipWidth(a.Range.BaseMip), height: desc.MipHeight(a.Range.BaseMip),
	}, nil
}

// RenderOverlay draws overlay o for the draw at event ev. The result has the
// size of the draw's first color target.
func RenderOverlay(ctx context.Context, r *replay.Replayer, ev uint32, o Overlay) (*image.Image2D, error) {
	ctx = log.V{"overlay": o, "event": ev}.Bind(ctx)
	at, err := drawState(ctx, r, ev)
	if err != nil {
		return nil, err
	}
	switch o {
	case OverlayDrawcall:
		return render(ctx, r, at.pass(drawcallBackground, drawcallColor, false))
	case OverlayWireframe:
		return render(ctx, r, at.pass(clearColor, wireframeColor, true))
	case OverlayViewportScissor:
		return at.viewportScissor(), nil
	case OverlayClearBeforeDraw:
		return clearBeforeDraw(ctx, r, at)
	}
	return nil, fault.UnsupportedError{Feature: o.String()}
}

// Mesh is the vertex input of a draw and a wireframe rendering of it.
type Mesh struct {
	// Positions are the clip space positions the draw reads.
	Positions [][2]float32
	Image     *image.Image2D
}

// RenderMesh reads the positions of the draw at event ev and renders them as
// a width x height wireframe. A 0 size selects the draw's target size.
func RenderMesh(ctx context.Context, r *replay.Replayer, ev uint32, width, height uint32) (*Mesh, error) {
	at, err := drawState(ctx, r, ev)
	if err != nil {
		return nil, err
	}
	vb, ok := at.ps.State.VertexBuffers[0]
	if !ok {
		return nil, errors.Errorf("Draw at event %d has no vertex buffer", ev)
	}
	stride := at.ps.Graphics.VertexStride
	if stride < 8 {
		return nil, errors.Errorf("Vertex stride %d is too small for a position", stride)
	}
	mesh := &Mesh{}
	if count := at.draw.VertexCount; count > 0 {
		start := vb.Offset + uint64(at.draw.FirstVertex)*uint64(stride)
		raw, err := r.ReadBuffer(ctx, vb.Buffer, start, uint64(count)*uint64(stride))
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			o := uint64(i) * uint64(stride)
			if o+8 > uint64(len(raw)) {
				break
			}
			mesh.Positions = append(mesh.Positions, [2]float32{
				math.Float32frombits(binary.LittleEndian.Uint32(raw[o:])),
				math.Float32frombits(binary.LittleEndian.Uint32(raw[o+4:])),
			})
		}
	}
	p := at.pass(meshBackground, meshColor, true)
	if width != 0 && height != 0 {
		p.width, p.height = width, height
	}
	p.viewport, p.scissor = nil, nil
	if mesh.Image, err = render(ctx, r, p); err != nil {
		return nil, err
	}
	return mesh, nil
}

// pass is an offscreen redraw of a captured draw with a flat colour.
type pass struct {
	width, height uint32
	bg, fg        [4]float32
	wireframe     bool
	stride        uint32
	topology      gpu.Topology
	vertex        resource.ID
	offset        uint64
	draw          gpu.Draw
	viewport      *gpu.Viewport
	scissor       *gpu.Rect
}

func (at *drawAt) pass(bg, fg [4]float32, wireframe bool) pass {
	vb := at.ps.State.VertexBuffers[0]
	return pass{
		width: at.width, height: at.height,
		bg: bg, fg: fg, wireframe: wireframe,
		stride: at.ps.Graphics.VertexStride, topology: at.ps.Graphics.Topology,
		vertex: vb.Buffer, offset: vb.Offset, draw: *at.draw,
		viewport: at.ps.State.Viewport, scissor: at.ps.State.Scissor,
	}
}

func floats(v [4]float32) []byte {
	out := make([]byte, 16)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func shader(ctx context.Context, drv gpu.Driver, entry string) (gpu.Handle, error) {
	desc, ok := soft.Shader(entry)
	if !ok {
		return gpu.Null, errors.Errorf("No built-in shader %q", entry)
	}
	return drv.CreateShader(ctx, desc)
}

// render redraws p into a new RGBA8 target and reads it back. Every object
// it creates is destroyed before it returns.
func render(ctx context.Context, r *replay.Replayer, p pass) (*image.Image2D, error) {
	var out *image.Image2D
	err := r.Device(ctx, func(drv gpu.Driver, cmds *gpu.InternalCmds) error {
		var objs []gpu.Handle
		defer func() {
			for i := len(objs) - 1; i >= 0; i-- {
				if err := drv.Destroy(ctx, objs[i]); err != nil {
					log.W(ctx, "Destroying overlay object: %v", err)
				}
			}
		}()
		keep := func(h gpu.Handle, err error) (gpu.Handle, error) {
			if err == nil {
				objs = append(objs, h)
			}
			return h, err
		}

		desc := gpu.ImageDesc{
			Format: gpu.FormatRGBA8Unorm, Width: p.width, Height: p.height, MipLevels: 1, ArrayLayers: 1,
			Usage: gpu.UsageColorAttachment | gpu.UsageTransferSrc,
		}
		mem, err := keep(drv.CreateMemory(ctx, gpu.MemoryDesc{Size: desc.Size()}))
		if err != nil {
			return err
		}
		img, err := keep(drv.CreateImage(ctx, desc))
		if err != nil {
			return err
		}
		if err := drv.BindImageMemory(ctx, img, mem, 0); err != nil {
			return err
		}
		view, err := keep(drv.CreateImageView(ctx, gpu.ImageViewDesc{Image: img, Format: desc.Format, Range: gpu.AllSubresources}))
		if err != nil {
			return err
		}
		rp, err := keep(drv.CreateRenderPass(ctx, gpu.RenderPassDesc{Attachments: []gpu.AttachmentDesc{{
			Format: desc.Format, LoadOp: gpu.LoadOpClear, FinalLayout: gpu.LayoutTransferSrc,
		}}}))
		if err != nil {
			return err
		}
		fb, err := keep(drv.CreateFramebuffer(ctx, gpu.FramebufferDesc{
			RenderPass: rp, Attachments: []gpu.Handle{view}, Width: p.width, Height: p.height,
		}))
		if err != nil {
			return err
		}
		vs, err := keep(shader(ctx, drv, soft.VSPosition2D))
		if err != nil {
			return err
		}
		fs, err := keep(shader(ctx, drv, soft.FSPushColor))
		if err != nil {
			return err
		}
		layout, err := keep(drv.CreatePipelineLayout(ctx, gpu.PipelineLayoutDesc{PushConstantSize: 16}))
		if err != nil {
			return err
		}
		pipe, err := keep(drv.CreateGraphicsPipeline(ctx, gpu.GraphicsPipelineDesc{
			Layout: layout, RenderPass: rp, VertexShader: vs, FragmentShader: fs,
			VertexStride: p.stride, Topology: p.topology, Wireframe: p.wireframe,
		}))
		if err != nil {
			return err
		}
		stageMem, err := keep(drv.CreateMemory(ctx, gpu.MemoryDesc{Size: desc.Size(), HostVisible: true}))
		if err != nil {
			return err
		}
		stage, err := keep(drv.CreateBuffer(ctx, gpu.BufferDesc{Size: desc.Size(), Usage: gpu.UsageTransferDst}))
		if err != nil {
			return err
		}
		if err := drv.BindBufferMemory(ctx, stage, stageMem, 0); err != nil {
			return err
		}
		vb, err := r.Manager.GetLiveHandle(p.vertex)
		if err != nil {
			return err
		}

		draw := p.draw
		list := []gpu.Command{
			&gpu.BeginRenderPass{RenderPass: rp, Framebuffer: fb,
				Area: gpu.Rect{Width: p.width, Height: p.height}, ClearValues: []gpu.ClearColor{p.bg}},
			&gpu.BindPipeline{BindPoint: gpu.BindGraphics, Pipeline: pipe},
			&gpu.BindVertexBuffers{Buffers: []gpu.Handle{vb}, Offsets: []uint64{p.offset}},
		}
		if p.viewport != nil {
			list = append(list, &gpu.SetViewport{Viewport: *p.viewport})
		}
		if p.scissor != nil {
			list = append(list, &gpu.SetScissor{Scissor: *p.scissor})
		}
		list = append(list,
			&gpu.PushConstants{Layout: layout, Data: floats(p.fg)},
			&draw,
			&gpu.EndRenderPass{},
			&gpu.CopyImageToBuffer{Src: img, Layout: gpu.LayoutTransferSrc, Dst: stage,
				Regions: []gpu.BufferImageCopy{{LayerCount: 1}}},
		)
		if err := cmds.Run(ctx, list...); err != nil {
			return err
		}
		data := make([]byte, desc.Size())
		if err := drv.ReadMemory(ctx, stageMem, 0, data); err != nil {
			return err
		}
		out, err = image.Decode(desc.Format, data, int(p.width), int(p.height))
		return err
	})
	return out, err
}

func clip(x, y int32, w, h uint32, width, height uint32) (x0, y0, x1, y1 int) {
	x0, y0 = max(int(x), 0), max(int(y), 0)
	x1, y1 = min(int(x)+int(w), int(width)), min(int(y)+int(h), int(height))
	return x0, y0, x1, y1
}

func (at *drawAt) viewportScissor() *image.Image2D {
	img := image.New(int(at.width), int(at.height), clearColor)
	full := gpu.Rect{Width: at.width, Height: at.height}

	vp := gpu.Viewport{Width: float32(at.width), Height: float32(at.height)}
	if v := at.ps.State.Viewport; v != nil {
		vp = *v
	}
	x0, y0, x1, y1 := clip(int32(math.Floor(float64(vp.X))), int32(math.Floor(float64(vp.Y))),
		uint32(math.Ceil(float64(vp.Width))), uint32(math.Ceil(float64(vp.Height))), at.width, at.height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, viewportColor)
		}
	}

	sc := full
	if s := at.ps.State.Scissor; s != nil {
		sc = *s
	}
	x0, y0, x1, y1 = clip(sc.X, sc.Y, sc.Width, sc.Height, at.width, at.height)
	if x1 <= x0 || y1 <= y0 {
		return img
	}
	for x := x0; x < x1; x++ {
		img.Set(x, y0, scissorColor)
		img.Set(x, y1-1, scissorColor)
	}
	for y := y0; y < y1; y++ {
		img.Set(x0, y, scissorColor)
		img.Set(x1-1, y, scissorColor)
	}
	return img
}

// clearBeforeDraw replays up to the draw, clears its targets and replays the
// draw alone. The frame is replayed to the draw again afterwards.
func clearBeforeDraw(ctx context.Context, r *replay.Replayer, at *drawAt) (*image.Image2D, error) {
	defer func() {
		if err := r.SetFrameEvent(ctx, at.ev, true); err != nil {
			log.W(ctx, "Restoring event %d: %v", at.ev, err)
		}
	}()
	if err := r.ReplayLog(ctx, 0, at.ev, replay.WithoutDraw); err != nil {
		return nil, err
	}
	for _, a := range at.ps.Attachments {
		if err := clearImage(ctx, r, a.Image, a.Range); err != nil {
			return nil, err
		}
	}
	if err := r.ReplayLog(ctx, at.ev, at.ev, replay.OnlyDraw); err != nil {
		return nil, err
	}
	tex, err := r.GetTexture(ctx, at.target, at.rng.BaseMip, at.rng.BaseLayer)
	if err != nil {
		return nil, err
	}
	return image.Decode(tex.Format, tex.Data, int(tex.Width), int(tex.Height))
}

// clearImage clears a range of a captured image to zero, leaving it in the
// layouts the tracker holds for it.
func clearImage(ctx context.Context, r *replay.Replayer, id resource.ID, rng gpu.SubresourceRange) error {
	return r.Device(ctx, func(drv gpu.Driver, cmds *gpu.InternalCmds) error {
		live, err := r.Manager.GetLiveHandle(id)
		if err != nil {
			return err
		}
		desc, ok := r.Tracker.ImageDesc(id)
		if !ok {
			return errors.Errorf("%v is not an image", id)
		}
		layouts, ok := r.Tracker.ImageState(id)
		if !ok {
			return errors.Errorf("%v has no layout state", id)
		}
		rng = rng.Resolve(desc.MipLevels, desc.ArrayLayers)
		entries := layouts.Ranges(rng)
		var to, back []gpu.ImageBarrier
		for _, e := range entries {
			if e.Layout == gpu.LayoutTransferDst {
				continue
			}
			to = append(to, gpu.ImageBarrier{Image: live, Range: e.Range(), OldLayout: e.Layout, NewLayout: gpu.LayoutTransferDst})
			if e.Layout != gpu.LayoutUndefined {
				back = append(back, gpu.ImageBarrier{Image: live, Range: e.Range(), OldLayout: gpu.LayoutTransferDst, NewLayout: e.Layout})
			}
		}
		var list []gpu.Command
		if len(to) > 0 {
			list = append(list, &gpu.PipelineBarrier{Images: to})
		}
		list = append(list, &gpu.ClearColorImage{
			Image: live, Layout: gpu.LayoutTransferDst, Color: gpu.ClearColor(clearColor), Ranges: []gpu.SubresourceRange{rng},
		})
		if len(back) > 0 {
			list = append(list, &gpu.PipelineBarrier{Images: back})
		}
		if err := cmds.Run(ctx, list...); err != nil {
			return err
		}
		for _, e := range entries {
			if e.Layout == gpu.LayoutUndefined {
				layouts.Transition(e.Range(), gpu.LayoutTransferDst)
			}
		}
		return nil
	})
}
