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

package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// WritePNG encodes i as an 8 bit RGBA PNG.
func (i *Image2D) WritePNG(w io.Writer) error {
	img := image.NewNRGBA(image.Rect(0, 0, i.Width, i.Height))
	src := i.RGBA8()
	for y := 0; y < i.Height; y++ {
		for x := 0; x < i.Width; x++ {
			o := (y*i.Width + x) * 4
			img.Set(x, y, color.NRGBA{src[o], src[o+1], src[o+2], src[o+3]})
		}
	}
	return png.Encode(w, img)
}

// PNG returns i encoded as a PNG.
func (i *Image2D) PNG() ([]byte, error) {
	buf := bytes.Buffer{}
	if err := i.WritePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadPNG decodes a PNG into an image.
func ReadPNG(r io.Reader) (*Image2D, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	out := &Image2D{Width: b.Dx(), Height: b.Dy(), Texels: make([][4]float32, b.Dx()*b.Dy())}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c, ok := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if !ok {
				return nil, fmt.Errorf("Unsupported color model %T", img.ColorModel())
			}
			out.Texels[y*out.Width+x] = [4]float32{
				float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255, float32(c.A) / 255,
			}
		}
	}
	return out, nil
}
