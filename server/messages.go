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


package server

import (
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
)

type InfoRequest struct{}

type InfoResponse struct {
	Version        uint32
	ProgramVersion string
	DriverID       uint32
	DriverName     string
	Backend        string
	Events         int
	Resources      int
	Current        uint32
}

type EventsRequest struct{}

// EventInfo is one event of the frame.
type EventInfo struct {
	ID      uint32
	Name    string
	CB      resource.ID `json:",omitempty"`
	Command string      `json:",omitempty"`
}

type EventsResponse struct {
	Events []EventInfo
}

type ReplayLogRequest struct {
	Start uint32
	End   uint32
	// Mode is one of Full, WithoutDraw or OnlyDraw. Empty means Full.
	Mode string
}

type ReplayLogResponse struct {
	Current uint32
}

type BufferRequest struct {
	ID     resource.ID
	Offset uint64
	// Size of 0 reads to the end of the buffer.
	Size uint64
}

type BufferResponse struct {
	Data []byte
}

type TextureRequest struct {
	ID    resource.ID
	Mip   uint32
	Layer uint32
}

type TextureResponse struct {
	Width  uint32
	Height uint32
	Format gpu.Format
	Data   []byte
}

type PickPixelRequest struct {
	TextureRequest
	X, Y uint32
}

type PickPixelResponse struct {
	Value [4]float32
}

type HistogramRequest struct {
	TextureRequest
	Min, Max float32
	// Channels selects the channels counted. Nil counts all four.
	Channels []bool
	Buckets  int
}

type HistogramResponse struct {
	Buckets []uint32
}

type MinMaxResponse struct {
	Min, Max [4]float32
}

type PipelineStateRequest struct{}

type PipelineStateResponse struct {
	EventID      uint32
	CB           resource.ID
	InRenderPass bool
	RenderPass   resource.ID
	Framebuffer  resource.ID
	Area         gpu.Rect

	GraphicsPipeline resource.ID
	ComputePipeline  resource.ID
	VertexShader     string `json:",omitempty"`
	FragmentShader   string `json:",omitempty"`
	ComputeShader    string `json:",omitempty"`

	// Attachments are the image views of the current framebuffer.
	Attachments []resource.ID
	// Sets maps set index to the bound descriptor set for the current
	// pipeline kind.
	Sets     map[uint32]resource.ID
	Viewport *gpu.Viewport `json:",omitempty"`
	Scissor  *gpu.Rect     `json:",omitempty"`
	Push     []byte        `json:",omitempty"`
	Markers  []string      `json:",omitempty"`
}
