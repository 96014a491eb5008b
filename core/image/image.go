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

// Package image holds host side RGBA float images produced from texture
// readbacks, with resizing, comparison and PNG encoding.
package image

import (
	"fmt"

	"github.com/baldurk/renderdoc-sub014/gpu"
)

// Image2D is a Width x Height image of RGBA float texels, stored row major.
type Image2D struct {
	Width  int
	Height int
	Texels [][4]float32
}

// New returns a w x h image with every texel set to c.
func New(w, h int, c [4]float32) *Image2D {
	i := &Image2D{Width: w, Height: h, Texels: make([][4]float32, w*h)}
	for t := range i.Texels {
		i.Texels[t] = c
	}
	return i
}

// Decode converts tightly packed texels of format f to an image.
func Decode(f gpu.Format, data []byte, w, h int) (*Image2D, error) {
	size := int(f.Size())
	if size == 0 {
		return nil, fmt.Errorf("Cannot decode format %v", f)
	}
	if len(data) < w*h*size {
		return nil, fmt.Errorf("Image data is %d bytes, expected %d for %dx%d %v", len(data), w*h*size, w, h, f)
	}
	i := &Image2D{Width: w, Height: h, Texels: make([][4]float32, w*h)}
	for t := range i.Texels {
		i.Texels[t] = gpu.DecodeTexel(f, data[t*size:])
	}
	return i, nil
}

// At returns the texel at x, y.
func (i *Image2D) At(x, y int) [4]float32 { return i.Texels[y*i.Width+x] }

// Set replaces the texel at x, y. Positions outside the image are ignored.
func (i *Image2D) Set(x, y int, c [4]float32) {
	if x < 0 || y < 0 || x >= i.Width || y >= i.Height {
		return
	}
	i.Texels[y*i.Width+x] = c
}

// FlipY returns the image upside down.
func (i *Image2D) FlipY() *Image2D {
	out := &Image2D{Width: i.Width, Height: i.Height, Texels: make([][4]float32, len(i.Texels))}
	for y := 0; y < i.Height; y++ {
		copy(out.Texels[y*i.Width:(y+1)*i.Width], i.Texels[(i.Height-1-y)*i.Width:])
	}
	return out
}

// RGBA8 returns the image encoded as RGBA8 unorm bytes.
func (i *Image2D) RGBA8() []byte {
	out := make([]byte, len(i.Texels)*4)
	for t, c := range i.Texels {
		gpu.EncodeTexel(gpu.FormatRGBA8Unorm, c, out[t*4:])
	}
	return out
}

// Difference returns the normalized square error between the two images.
// A return value of 0 denotes identical images, a return value of 1 denotes
// a complete mismatch (black vs white).
func Difference(a, b *Image2D) (float32, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return 1, fmt.Errorf("Image dimensions are not identical. %dx%d vs %dx%d",
			a.Width, a.Height, b.Width, b.Height)
	}
	if len(a.Texels) == 0 {
		return 0, nil
	}
	sqrErr := float32(0)
	for t := range a.Texels {
		for c := 0; c < 4; c++ {
			err := a.Texels[t][c] - b.Texels[t][c]
			sqrErr += err * err
		}
	}
	return sqrErr / float32(len(a.Texels)*4), nil
}
