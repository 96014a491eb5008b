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

package gpu

import (
	"encoding/binary"
	"math"
)

// EncodeTexel writes c to dst in format f. dst must be at least f.Size()
// bytes long.
func EncodeTexel(f Format, c [4]float32, dst []byte) {
	switch f {
	case FormatRGBA8Unorm:
		for i := 0; i < 4; i++ {
			dst[i] = unorm8(c[i])
		}
	case FormatBGRA8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case FormatR32Uint:
		binary.LittleEndian.PutUint32(dst, uint32(c[0]))
	case FormatR32Float:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(c[0]))
	case FormatRGBA32Float:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(c[i]))
		}
	}
}

// DecodeTexel reads a texel of format f from src. Missing channels read as
// 0, and alpha as 1.
func DecodeTexel(f Format, src []byte) [4]float32 {
	switch f {
	case FormatRGBA8Unorm:
		return [4]float32{float32(src[0]) / 255, float32(src[1]) / 255, float32(src[2]) / 255, float32(src[3]) / 255}
	case FormatBGRA8Unorm:
		return [4]float32{float32(src[2]) / 255, float32(src[1]) / 255, float32(src[0]) / 255, float32(src[3]) / 255}
	case FormatR32Uint:
		return [4]float32{float32(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	case FormatR32Float:
		return [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(src)), 0, 0, 1}
	case FormatRGBA32Float:
		var out [4]float32
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
		return out
	}
	return [4]float32{}
}

func unorm8(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
