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

// Package analysis implements the debugging views of a loaded capture:
// texel queries, texture display, mesh display and draw overlays. Every
// query reads the device state left by the last replay.
package analysis

import (
	"context"

	"github.com/baldurk/renderdoc-sub014/core/image"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/pkg/errors"
)

// Channels selects the red, green, blue and alpha channels.
type Channels [4]bool

// RGBA selects every channel.
var RGBA = Channels{true, true, true, true}

func (c Channels) count() int {
	n := 0
	for _, on := range c {
		if on {
			n++
		}
	}
	return n
}

// HistogramBuckets is the default histogram resolution.
const HistogramBuckets = 256

func decode(ctx context.Context, r *replay.Replayer, id resource.ID, mip, layer uint32) (*image.Image2D, error) {
	tex, err := r.GetTexture(ctx, id, mip, layer)
	if err != nil {
		return nil, err
	}
	return image.Decode(tex.Format, tex.Data, int(tex.Width), int(tex.Height))
}

// PickPixel returns the texel at x, y of a subresource.
func PickPixel(ctx context.Context, r *replay.Replayer, id resource.ID, mip, layer, x, y uint32) ([4]float32, error) {
	tex, err := r.GetTexture(ctx, id, mip, layer)
	if err != nil {
		return [4]float32{}, err
	}
	if x >= tex.Width || y >= tex.Height {
		return [4]float32{}, errors.Errorf("Pixel %d,%d outside %dx%d", x, y, tex.Width, tex.Height)
	}
	return tex.Texel(x, y), nil
}

// GetMinMax returns the per channel minimum and maximum of a subresource.
// NaNs are ignored.
func GetMinMax(ctx context.Context, r *replay.Replayer, id resource.ID, mip, layer uint32) (lo, hi [4]float32, err error) {
	img, err := decode(ctx, r, id, mip, layer)
	if err != nil {
		return lo, hi, err
	}
	seen := [4]bool{}
	for _, t := range img.Texels {
		for c, v := range t {
			if v != v {
				continue
			}
			if !seen[c] {
				lo[c], hi[c], seen[c] = v, v, true
				continue
			}
			lo[c], hi[c] = min(lo[c], v), max(hi[c], v)
		}
	}
	return lo, hi, nil
}

// GetHistogram counts the values of the selected channels that lie in
// [lo, hi] into equally sized buckets. A bucket count of 0 selects
// HistogramBuckets.
func GetHistogram(ctx context.Context, r *replay.Replayer, id resource.ID, mip, layer uint32, lo, hi float32, ch Channels, buckets int) ([]uint32, error) {
	if !(hi > lo) {
		return nil, errors.Errorf("Empty histogram range [%v, %v]", lo, hi)
	}
	if buckets <= 0 {
		buckets = HistogramBuckets
	}
	img, err := decode(ctx, r, id, mip, layer)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, buckets)
	scale := float32(buckets) / (hi - lo)
	for _, t := range img.Texels {
		for c, v := range t {
			if !ch[c] || !(v >= lo && v <= hi) {
				continue
			}
			b := int((v - lo) * scale)
			if b >= buckets {
				b = buckets - 1
			}
			out[b]++
		}
	}
	return out, nil
}

// TextureDisplay configures RenderTexture.
type TextureDisplay struct {
	ID    resource.ID
	Mip   uint32
	Layer uint32
	// Width and Height of the output. 0 keeps the subresource size.
	Width  int
	Height int
	// RangeMin and RangeMax are mapped to black and white. Both 0 selects
	// [0, 1].
	RangeMin float32
	RangeMax float32
	// Channels to show. A single channel is shown as grey, none shows all.
	Channels Channels
	FlipY    bool
}

// RenderTexture draws a subresource for display.
func RenderTexture(ctx context.Context, r *replay.Replayer, d TextureDisplay) (*image.Image2D, error) {
	lo, hi := d.RangeMin, d.RangeMax
	if lo == 0 && hi == 0 {
		hi = 1
	}
	if !(hi > lo) {
		return nil, errors.Errorf("Empty display range [%v, %v]", lo, hi)
	}
	ch := d.Channels
	if ch.count() == 0 {
		ch = RGBA
	}
	img, err := decode(ctx, r, d.ID, d.Mip, d.Layer)
	if err != nil {
		return nil, err
	}
	norm := func(v float32) float32 { return min(max((v-lo)/(hi-lo), 0), 1) }
	grey := -1
	if ch.count() == 1 {
		for c, on := range ch {
			if on {
				grey = c
			}
		}
	}
	for i, t := range img.Texels {
		out := [4]float32{0, 0, 0, 1}
		if grey >= 0 {
			v := norm(t[grey])
			out = [4]float32{v, v, v, 1}
		} else {
			for c := 0; c < 3; c++ {
				if ch[c] {
					out[c] = norm(t[c])
				}
			}
			if ch[3] {
				out[3] = min(max(t[3], 0), 1)
			}
		}
		img.Texels[i] = out
	}
	if d.FlipY {
		img = img.FlipY()
	}
	w, h := d.Width, d.Height
	if w == 0 {
		w = img.Width
	}
	if h == 0 {
		h = img.Height
	}
	return img.Resize(w, h)
}
