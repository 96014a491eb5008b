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

// Package gpu declares the explicit GPU API that captures are recorded
// against and replayed through.
//
// Every backend implements Driver. Object descriptions and commands are plain
// structs that know how to serialise themselves; any field referring to
// another object is a Handle and is reported by Handles() so capture and
// replay can translate it to and from resource ids.
package gpu

import (
	"fmt"

	"github.com/baldurk/renderdoc-sub014/serialise"
)

// Handle is a native object handle owned by a Driver. Zero is the null
// handle.
type Handle uint64

// Null is the null handle.
const Null Handle = 0

func handle(s *serialise.Serialiser, h *Handle) { serialise.Handle(s, h) }

func handles(s *serialise.Serialiser, hs *[]Handle) {
	serialise.Slice(s, hs, handle)
}

// Format is a texel format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR32Uint
	FormatR32Float
	FormatRGBA32Float
)

var formatNames = map[Format]string{
	FormatUndefined:   "Undefined",
	FormatRGBA8Unorm:  "RGBA8_UNORM",
	FormatBGRA8Unorm:  "BGRA8_UNORM",
	FormatR32Uint:     "R32_UINT",
	FormatR32Float:    "R32_SFLOAT",
	FormatRGBA32Float: "RGBA32_SFLOAT",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Format<%d>", uint32(f))
}

// Size returns the number of bytes per texel.
func (f Format) Size() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Uint, FormatR32Float:
		return 4
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

// Channels returns the number of components per texel.
func (f Format) Channels() int {
	switch f {
	case FormatR32Uint, FormatR32Float:
		return 1
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatRGBA32Float:
		return 4
	}
	return 0
}

// ImageLayout is the memory layout an image subresource is in.
type ImageLayout uint32

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

var layoutNames = map[ImageLayout]string{
	LayoutUndefined:       "UNDEFINED",
	LayoutGeneral:         "GENERAL",
	LayoutColorAttachment: "COLOR_ATTACHMENT_OPTIMAL",
	LayoutShaderReadOnly:  "SHADER_READ_ONLY_OPTIMAL",
	LayoutTransferSrc:     "TRANSFER_SRC_OPTIMAL",
	LayoutTransferDst:     "TRANSFER_DST_OPTIMAL",
	LayoutPresentSrc:      "PRESENT_SRC",
}

func (l ImageLayout) String() string {
	if n, ok := layoutNames[l]; ok {
		return n
	}
	return fmt.Sprintf("Layout<%d>", uint32(l))
}

// Usage is a set of ways a buffer or image may be used.
type Usage uint32

const (
	UsageTransferSrc Usage = 1 << iota
	UsageTransferDst
	UsageUniform
	UsageStorage
	UsageVertex
	UsageIndex
	UsageSampled
	UsageColorAttachment
)

// SparsePageSize is the granularity of sparse bindings.
const SparsePageSize = 4096

// Remaining selects every mip level or array layer from the base onwards.
const Remaining = ^uint32(0)

// SubresourceRange selects mip levels and array layers of an image.
type SubresourceRange struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// Serialise implements serialise.Serialisable.
func (r *SubresourceRange) Serialise(s *serialise.Serialiser) {
	s.U32(&r.BaseMip)
	s.U32(&r.MipCount)
	s.U32(&r.BaseLayer)
	s.U32(&r.LayerCount)
}

// Resolve replaces Remaining counts with concrete values for an image with
// the given number of mips and layers.
func (r SubresourceRange) Resolve(mips, layers uint32) SubresourceRange {
	if r.MipCount == Remaining {
		r.MipCount = mips - r.BaseMip
	}
	if r.LayerCount == Remaining {
		r.LayerCount = layers - r.BaseLayer
	}
	return r
}

// AllSubresources selects every subresource of an image.
var AllSubresources = SubresourceRange{MipCount: Remaining, LayerCount: Remaining}

func (r SubresourceRange) String() string {
	return fmt.Sprintf("mips[%d+%d] layers[%d+%d]", r.BaseMip, r.MipCount, r.BaseLayer, r.LayerCount)
}

// Rect is a 2D integer rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// Serialise implements serialise.Serialisable.
func (r *Rect) Serialise(s *serialise.Serialiser) {
	s.I32(&r.X)
	s.I32(&r.Y)
	s.U32(&r.Width)
	s.U32(&r.Height)
}

// Viewport maps normalized device coordinates to framebuffer pixels.
type Viewport struct {
	X, Y, Width, Height float32
}

// Serialise implements serialise.Serialisable.
func (v *Viewport) Serialise(s *serialise.Serialiser) {
	s.F32(&v.X)
	s.F32(&v.Y)
	s.F32(&v.Width)
	s.F32(&v.Height)
}

// ClearColor is an RGBA clear value.
type ClearColor [4]float32

func (c *ClearColor) serialise(s *serialise.Serialiser) {
	for i := range c {
		s.F32(&c[i])
	}
}
