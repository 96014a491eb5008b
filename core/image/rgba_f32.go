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

import "fmt"

type rgbaF32 = [4]float32

func rgbaAvg(a, b rgbaF32) rgbaF32 {
	return rgbaF32{(a[0] + b[0]) * 0.5, (a[1] + b[1]) * 0.5, (a[2] + b[2]) * 0.5, (a[3] + b[3]) * 0.5}
}

func rgbaLerp(a, b rgbaF32, f float32) rgbaF32 {
	return rgbaF32{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f, a[2] + (b[2]-a[2])*f, a[3] + (b[3]-a[3])*f}
}

// Resize returns the image resized to dstW x dstH.
// The algorithm uses pixel-pair averaging to down-sample (if required) the
// image to no greater than twice the width or height than the target
// dimensions, then uses a bilinear interpolator to calculate the final image
// at the requested size.
func (i *Image2D) Resize(dstW, dstH int) (*Image2D, error) {
	srcW, srcH := i.Width, i.Height
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("Invalid source size for Resize: %dx%d", srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, fmt.Errorf("Invalid target size for Resize: %dx%d", dstW, dstH)
	}
	if srcW == dstW && srcH == dstH {
		return &Image2D{Width: dstW, Height: dstH, Texels: append([][4]float32(nil), i.Texels...)}, nil
	}
	bufTexels := max(srcW*srcH, dstW*dstH)
	bufA, bufB := make([]rgbaF32, bufTexels), make([]rgbaF32, bufTexels)
	copy(bufA, i.Texels)
	dst, src := bufB, bufA

	samples := func(val, max int, scale float64) (int, int, float32) {
		f := float64(val) * scale
		i := int(f)
		return i, min(i+1, max-1), float32(f - float64(i))
	}

	for dstH*2 <= srcH { // Vertical 2x downsample
		i, newH := 0, srcH/2
		for y := 0; y < newH; y++ {
			srcA, srcB := src[srcW*y*2:], src[srcW*(y*2+1):]
			for x := 0; x < srcW; x++ {
				dst[i] = rgbaAvg(srcA[x], srcB[x])
				i++
			}
		}
		dst, src, srcH = src, dst, newH
	}

	if srcH != dstH { // Vertical bi-linear
		i, s := 0, float64(max(srcH-1, 0))/float64(max(dstH-1, 1))
		for y := 0; y < dstH; y++ {
			iA, iB, f := samples(y, srcH, s)
			srcA, srcB := src[srcW*iA:], src[srcW*iB:]
			for x := 0; x < srcW; x++ {
				dst[i] = rgbaLerp(srcA[x], srcB[x], f)
				i++
			}
		}
		dst, src, srcH = src, dst, dstH
	}

	for dstW*2 <= srcW { // Horizontal 2x downsample
		i, newW := 0, srcW/2
		for y := 0; y < srcH; y++ {
			row := src[srcW*y:]
			for x := 0; x < newW; x++ {
				dst[i] = rgbaAvg(row[x*2], row[x*2+1])
				i++
			}
		}
		dst, src, srcW = src, dst, newW
	}

	if srcW != dstW { // Horizontal bi-linear
		i, s := 0, float64(max(srcW-1, 0))/float64(max(dstW-1, 1))
		for y := 0; y < srcH; y++ {
			row := src[srcW*y:]
			for x := 0; x < dstW; x++ {
				iA, iB, f := samples(x, srcW, s)
				dst[i] = rgbaLerp(row[iA], row[iB], f)
				i++
			}
		}
		src = dst
	}

	return &Image2D{Width: dstW, Height: dstH, Texels: append([][4]float32(nil), src[:dstW*dstH]...)}, nil
}
