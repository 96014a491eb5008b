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

package soft

import (
	"encoding/binary"
	"math"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/pkg/errors"
)

type point struct{ x, y float32 }

// fragmentFunc returns the colour of the fragment at pixel (x, y).
type fragmentFunc func(x, y int32) (gpu.ClearColor, error)

func (d *driver) draw(st *execState, c *gpu.Draw) error {
	if st.rp == nil {
		return errors.New("Draw outside a render pass")
	}
	p := st.graphics
	if p == nil {
		return errors.New("Draw without a bound graphics pipeline")
	}
	fs, err := get[*shader](d, p.FragmentShader)
	if err != nil {
		return err
	}
	shade, err := d.fragmentShader(st, fs.desc.EntryPoint)
	if err != nil {
		return err
	}
	vb, ok := st.vertex[0]
	if !ok {
		return errors.New("Draw without a vertex buffer at binding 0")
	}
	buf, err := get[*buffer](d, vb.buffer)
	if err != nil {
		return err
	}
	atts, err := d.attachments(st.fb)
	if err != nil {
		return err
	}

	w, h := st.fb.desc.Width, st.fb.desc.Height
	vp := gpu.Viewport{Width: float32(w), Height: float32(h)}
	if st.viewport != nil {
		vp = *st.viewport
	}
	x0, y0, x1, y1 := clip(st.area, w, h)
	if st.scissor != nil {
		sx0, sy0, sx1, sy1 := clip(*st.scissor, w, h)
		x0, y0 = max(x0, sx0), max(y0, sy0)
		x1, y1 = min(x1, sx1), min(y1, sy1)
	}

	verts := make([]point, c.VertexCount)
	for i := range verts {
		off := vb.offset + uint64(c.FirstVertex+uint32(i))*uint64(p.VertexStride)
		raw, err := d.read(&buf.storage, off, 8)
		if err != nil {
			return errors.Wrapf(err, "Vertex %d", c.FirstVertex+uint32(i))
		}
		x := math.Float32frombits(binary.LittleEndian.Uint32(raw))
		y := math.Float32frombits(binary.LittleEndian.Uint32(raw[4:]))
		verts[i] = point{vp.X + (x+1)*0.5*vp.Width, vp.Y + (y+1)*0.5*vp.Height}
	}

	r := raster{x0: x0, y0: y0, x1: x1, y1: y1}
	r.emit = func(x, y int32) error {
		col, err := shade(x, y)
		if err != nil {
			return err
		}
		for _, a := range atts {
			if err := d.writeTexel(a.img, a.view.Range.BaseMip, a.view.Range.BaseLayer, x, y, col); err != nil {
				return err
			}
		}
		return nil
	}

	for inst := uint32(0); inst < c.InstanceCount; inst++ {
		switch {
		case p.Topology == gpu.TopologyLineList:
			for i := 0; i+1 < len(verts); i += 2 {
				if err := r.line(verts[i], verts[i+1]); err != nil {
					return err
				}
			}
		case p.Wireframe:
			for i := 0; i+2 < len(verts); i += 3 {
				for e := 0; e < 3; e++ {
					if err := r.line(verts[i+e], verts[i+(e+1)%3]); err != nil {
						return err
					}
				}
			}
		default:
			for i := 0; i+2 < len(verts); i += 3 {
				if err := r.triangle(verts[i], verts[i+1], verts[i+2]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *driver) fragmentShader(st *execState, entry string) (fragmentFunc, error) {
	switch entry {
	case FSPushColor:
		var col gpu.ClearColor
		for i := range col {
			if len(st.push) >= (i+1)*4 {
				col[i] = math.Float32frombits(binary.LittleEndian.Uint32(st.push[i*4:]))
			}
		}
		return func(int32, int32) (gpu.ClearColor, error) { return col, nil }, nil
	case FSCopyTexel:
		desc, err := d.binding(st, gpu.BindGraphics, 0, 0)
		if err != nil {
			return nil, err
		}
		view, err := get[*imageView](d, desc.img.View)
		if err != nil {
			return nil, err
		}
		src, err := get[*image](d, view.desc.Image)
		if err != nil {
			return nil, err
		}
		mip, layer := view.desc.Range.BaseMip, view.desc.Range.BaseLayer
		rng := gpu.SubresourceRange{BaseMip: mip, MipCount: 1, BaseLayer: layer, LayerCount: 1}
		if err := d.expect(src, rng, gpu.LayoutShaderReadOnly, gpu.LayoutGeneral); err != nil {
			return nil, errors.Wrap(err, "Sampled image")
		}
		w, h := int32(src.desc.MipWidth(mip)), int32(src.desc.MipHeight(mip))
		return func(x, y int32) (gpu.ClearColor, error) {
			x, y = min(max(x, 0), w-1), min(max(y, 0), h-1)
			return d.readTexel(src, mip, layer, x, y)
		}, nil
	}
	return nil, errors.Errorf("%q is not a fragment shader", entry)
}

func (d *driver) texelOffset(img *image, mip, layer uint32, x, y int32) (uint64, bool) {
	w, h := img.desc.MipWidth(mip), img.desc.MipHeight(mip)
	if x < 0 || y < 0 || uint32(x) >= w || uint32(y) >= h {
		return 0, false
	}
	size := uint64(img.desc.Format.Size())
	return img.desc.SubresourceOffset(mip, layer) + (uint64(y)*uint64(w)+uint64(x))*size, true
}

func (d *driver) writeTexel(img *image, mip, layer uint32, x, y int32, c gpu.ClearColor) error {
	off, ok := d.texelOffset(img, mip, layer, x, y)
	if !ok {
		return nil
	}
	texel := make([]byte, img.desc.Format.Size())
	gpu.EncodeTexel(img.desc.Format, c, texel)
	return d.write(&img.storage, off, texel)
}

func (d *driver) readTexel(img *image, mip, layer uint32, x, y int32) (gpu.ClearColor, error) {
	off, ok := d.texelOffset(img, mip, layer, x, y)
	if !ok {
		return gpu.ClearColor{}, nil
	}
	raw, err := d.read(&img.storage, off, uint64(img.desc.Format.Size()))
	if err != nil {
		return gpu.ClearColor{}, err
	}
	return gpu.DecodeTexel(img.desc.Format, raw), nil
}

// raster scan converts primitives inside the pixel bounds [x0,x1)*[y0,y1).
type raster struct {
	x0, y0, x1, y1 int32
	emit           func(x, y int32) error
}

func (r *raster) inside(x, y int32) bool {
	return x >= r.x0 && x < r.x1 && y >= r.y0 && y < r.y1
}

func edge(a, b, p point) float32 {
	return (b.x-a.x)*(p.y-a.y) - (b.y-a.y)*(p.x-a.x)
}

// triangle covers every pixel whose centre lies inside or on the edge of
// a, b, c. Both windings are accepted.
func (r *raster) triangle(a, b, c point) error {
	area := edge(a, b, c)
	if area == 0 {
		return nil
	}
	sign := float32(1)
	if area < 0 {
		sign = -1
	}
	minX := int32(math.Floor(float64(min(a.x, b.x, c.x))))
	maxX := int32(math.Ceil(float64(max(a.x, b.x, c.x))))
	minY := int32(math.Floor(float64(min(a.y, b.y, c.y))))
	maxY := int32(math.Ceil(float64(max(a.y, b.y, c.y))))
	minX, minY = max(minX, r.x0), max(minY, r.y0)
	maxX, maxY = min(maxX, r.x1-1), min(maxY, r.y1-1)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			p := point{float32(x) + 0.5, float32(y) + 0.5}
			if sign*edge(b, c, p) < 0 || sign*edge(c, a, p) < 0 || sign*edge(a, b, p) < 0 {
				continue
			}
			if err := r.emit(x, y); err != nil {
				return err
			}
		}
	}
	return nil
}

// line draws a one pixel wide Bresenham line, including both end points.
func (r *raster) line(a, b point) error {
	x0, y0 := int32(math.Floor(float64(a.x))), int32(math.Floor(float64(a.y)))
	x1, y1 := int32(math.Floor(float64(b.x))), int32(math.Floor(float64(b.y)))
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := int32(1), int32(1)
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if r.inside(x0, y0) {
			if err := r.emit(x0, y0); err != nil {
				return err
			}
		}
		if x0 == x1 && y0 == y1 {
			return nil
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func (d *driver) dispatch(st *execState, c *gpu.Dispatch) error {
	if st.rp != nil {
		return errors.New("Dispatch inside a render pass")
	}
	p := st.compute
	if p == nil {
		return errors.New("Dispatch without a bound compute pipeline")
	}
	cs, err := get[*shader](d, p.Shader)
	if err != nil {
		return err
	}
	invocations := uint64(c.X) * uint64(c.Y) * uint64(c.Z) * LocalSize
	storageBuffer := func(binding uint32) ([]uint32, func([]uint32) error, error) {
		desc, err := d.binding(st, gpu.BindCompute, 0, binding)
		if err != nil {
			return nil, nil, err
		}
		if desc.typ != gpu.DescriptorStorageBuffer {
			return nil, nil, errors.Errorf("Binding %d is not a storage buffer", binding)
		}
		stg, off, size, err := d.bufferRange(desc)
		if err != nil {
			return nil, nil, err
		}
		raw, err := d.read(stg, off, size&^3)
		if err != nil {
			return nil, nil, err
		}
		vals := make([]uint32, len(raw)/4)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		store := func(vals []uint32) error {
			out := make([]byte, len(vals)*4)
			for i, v := range vals {
				binary.LittleEndian.PutUint32(out[i*4:], v)
			}
			return d.write(stg, off, out)
		}
		return vals, store, nil
	}

	switch cs.desc.EntryPoint {
	case CSFillU32:
		dst, store, err := storageBuffer(0)
		if err != nil {
			return err
		}
		value := uint32(0)
		if len(st.push) >= 4 {
			value = binary.LittleEndian.Uint32(st.push)
		}
		for i := range dst {
			if uint64(i) < invocations {
				dst[i] = value
			}
		}
		return store(dst)
	case CSAddU32, CSCopyU32:
		src, _, err := storageBuffer(0)
		if err != nil {
			return err
		}
		dst, store, err := storageBuffer(1)
		if err != nil {
			return err
		}
		for i := range dst {
			if uint64(i) >= invocations || i >= len(src) {
				break
			}
			if cs.desc.EntryPoint == CSAddU32 {
				dst[i] += src[i]
			} else {
				dst[i] = src[i]
			}
		}
		return store(dst)
	}
	return errors.Errorf("%q is not a compute shader", cs.desc.EntryPoint)
}
