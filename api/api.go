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

// Package api declares the chunk type of every intercepted call and the
// payload each one carries.
//
// Payload handle fields always hold resource IDs. Capture writes them that
// way and replay translates them to live handles before calling the driver.
package api

import (
	"fmt"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
)

// Chunk types of the intercepted calls.
const (
	ChunkCreateMemory serialise.ChunkType = serialise.SystemChunkThreshold + iota
	ChunkCreateBuffer
	ChunkCreateImage
	ChunkBindBufferMemory
	ChunkBindImageMemory
	ChunkCreateImageView
	ChunkCreateShader
	ChunkCreateDescriptorSetLayout
	ChunkCreatePipelineLayout
	ChunkCreateRenderPass
	ChunkCreateFramebuffer
	ChunkCreateGraphicsPipeline
	ChunkCreateComputePipeline
	ChunkCreateDescriptorPool
	ChunkAllocateDescriptorSet
	ChunkResetDescriptorPool
	ChunkUpdateDescriptorSets
	ChunkCreateCommandPool
	ChunkAllocateCommandBuffer
	ChunkResetCommandPool
	ChunkCreateSemaphore
	ChunkCreateFence
	ChunkDestroy
	ChunkBeginCommandBuffer
	ChunkEndCommandBuffer
	ChunkQueueSubmit
	ChunkQueueBindSparse
	ChunkQueueWaitIdle
	ChunkDeviceWaitIdle
	ChunkWaitFence
	ChunkResetFence
	ChunkWriteMemory
	chunkCallEnd
)

// ChunkCmdBase is the chunk type of the first recorded command kind. Each
// gpu.CommandKind k is recorded as ChunkCmdBase+k.
const ChunkCmdBase serialise.ChunkType = 1100

var callNames = map[serialise.ChunkType]string{
	ChunkCreateMemory:              "vkAllocateMemory",
	ChunkCreateBuffer:              "vkCreateBuffer",
	ChunkCreateImage:               "vkCreateImage",
	ChunkBindBufferMemory:          "vkBindBufferMemory",
	ChunkBindImageMemory:           "vkBindImageMemory",
	ChunkCreateImageView:           "vkCreateImageView",
	ChunkCreateShader:              "vkCreateShaderModule",
	ChunkCreateDescriptorSetLayout: "vkCreateDescriptorSetLayout",
	ChunkCreatePipelineLayout:      "vkCreatePipelineLayout",
	ChunkCreateRenderPass:          "vkCreateRenderPass",
	ChunkCreateFramebuffer:         "vkCreateFramebuffer",
	ChunkCreateGraphicsPipeline:    "vkCreateGraphicsPipelines",
	ChunkCreateComputePipeline:     "vkCreateComputePipelines",
	ChunkCreateDescriptorPool:      "vkCreateDescriptorPool",
	ChunkAllocateDescriptorSet:     "vkAllocateDescriptorSets",
	ChunkResetDescriptorPool:       "vkResetDescriptorPool",
	ChunkUpdateDescriptorSets:      "vkUpdateDescriptorSets",
	ChunkCreateCommandPool:         "vkCreateCommandPool",
	ChunkAllocateCommandBuffer:     "vkAllocateCommandBuffers",
	ChunkResetCommandPool:          "vkResetCommandPool",
	ChunkCreateSemaphore:           "vkCreateSemaphore",
	ChunkCreateFence:               "vkCreateFence",
	ChunkDestroy:                   "vkDestroy",
	ChunkBeginCommandBuffer:        "vkBeginCommandBuffer",
	ChunkEndCommandBuffer:          "vkEndCommandBuffer",
	ChunkQueueSubmit:               "vkQueueSubmit",
	ChunkQueueBindSparse:           "vkQueueBindSparse",
	ChunkQueueWaitIdle:             "vkQueueWaitIdle",
	ChunkDeviceWaitIdle:            "vkDeviceWaitIdle",
	ChunkWaitFence:                 "vkWaitForFences",
	ChunkResetFence:                "vkResetFences",
	ChunkWriteMemory:               "vkFlushMappedMemoryRanges",
}

// createKinds maps creation chunks to the kind of object they create.
var createKinds = map[serialise.ChunkType]gpu.ObjectKind{
	ChunkCreateMemory:              gpu.KindMemory,
	ChunkCreateBuffer:              gpu.KindBuffer,
	ChunkCreateImage:               gpu.KindImage,
	ChunkCreateImageView:           gpu.KindImageView,
	ChunkCreateShader:              gpu.KindShader,
	ChunkCreateDescriptorSetLayout: gpu.KindDescriptorSetLayout,
	ChunkCreatePipelineLayout:      gpu.KindPipelineLayout,
	ChunkCreateRenderPass:          gpu.KindRenderPass,
	ChunkCreateFramebuffer:         gpu.KindFramebuffer,
	ChunkCreateGraphicsPipeline:    gpu.KindPipeline,
	ChunkCreateComputePipeline:     gpu.KindPipeline,
	ChunkCreateDescriptorPool:      gpu.KindDescriptorPool,
	ChunkAllocateDescriptorSet:     gpu.KindDescriptorSet,
	ChunkCreateCommandPool:         gpu.KindCommandPool,
	ChunkAllocateCommandBuffer:     gpu.KindCommandBuffer,
	ChunkCreateSemaphore:           gpu.KindSemaphore,
	ChunkCreateFence:               gpu.KindFence,
}

func init() {
	for t, name := range callNames {
		serialise.RegisterChunkName(t, name)
	}
	for _, k := range gpu.CommandKinds() {
		serialise.RegisterChunkName(CmdChunk(k), "vkCmd"+k.String())
	}
}

// CmdChunk returns the chunk type recording a command of kind k.
func CmdChunk(k gpu.CommandKind) serialise.ChunkType { return ChunkCmdBase + serialise.ChunkType(k) }

// CmdKind returns the command kind recorded by chunk type t.
func CmdKind(t serialise.ChunkType) (gpu.CommandKind, bool) {
	if t <= ChunkCmdBase {
		return 0, false
	}
	k := gpu.CommandKind(t - ChunkCmdBase)
	if _, err := gpu.NewCommand(k); err != nil {
		return 0, false
	}
	return k, true
}

// CreateKind returns the kind of object a creation chunk creates.
func CreateKind(t serialise.ChunkType) (gpu.ObjectKind, bool) {
	k, ok := createKinds[t]
	return k, ok
}

// CreateChunk returns the chunk type that creates an object of kind k.
// Pipelines are created by ChunkCreateGraphicsPipeline or
// ChunkCreateComputePipeline depending on desc.
func CreateChunk(k gpu.ObjectKind, desc gpu.Described) (serialise.ChunkType, error) {
	if k == gpu.KindPipeline {
		if _, ok := desc.(*gpu.ComputePipelineDesc); ok {
			return ChunkCreateComputePipeline, nil
		}
		return ChunkCreateGraphicsPipeline, nil
	}
	for t, kind := range createKinds {
		if kind == k {
			return t, nil
		}
	}
	return 0, errors.Errorf("No creation chunk for %v", k)
}

// Known returns true for every chunk type this build understands.
func Known(t serialise.ChunkType) bool {
	switch {
	case t >= serialise.ChunkDriverInit && t <= serialise.ChunkCaptureEnd:
		return true
	case t >= serialise.SystemChunkThreshold && t < chunkCallEnd:
		return true
	}
	_, ok := CmdKind(t)
	return ok
}

// Types returns every known chunk type in ascending order.
func Types() []serialise.ChunkType {
	var out []serialise.ChunkType
	for t := serialise.ChunkDriverInit; t <= serialise.ChunkCaptureEnd; t++ {
		out = append(out, t)
	}
	for t := serialise.SystemChunkThreshold; t < chunkCallEnd; t++ {
		out = append(out, t)
	}
	for _, k := range gpu.CommandKinds() {
		out = append(out, CmdChunk(k))
	}
	return out
}

// NewPayload returns an empty payload for chunk type t, ready to decode into.
func NewPayload(t serialise.ChunkType) (serialise.Serialisable, error) {
	if k, ok := CmdKind(t); ok {
		cmd, err := gpu.NewCommand(k)
		if err != nil {
			return nil, err
		}
		return &Cmd{Cmd: cmd}, nil
	}
	if k, ok := createKinds[t]; ok {
		return &Create{Kind: k, Desc: newDesc(t)}, nil
	}
	switch t {
	case serialise.ChunkDriverInit:
		return &DriverInit{}, nil
	case serialise.ChunkInitialContentsList:
		return &ContentsList{}, nil
	case serialise.ChunkCaptureBegin:
		return &CaptureBegin{}, nil
	case serialise.ChunkCaptureScope:
		return &CaptureScope{}, nil
	case serialise.ChunkCaptureEnd:
		return &CaptureEnd{}, nil
	case ChunkBindBufferMemory, ChunkBindImageMemory:
		return &BindMemory{}, nil
	case ChunkResetDescriptorPool, ChunkResetCommandPool:
		return &ResetPool{}, nil
	case ChunkUpdateDescriptorSets:
		return &UpdateDescriptorSets{}, nil
	case ChunkDestroy:
		return &Destroy{}, nil
	case ChunkBeginCommandBuffer, ChunkEndCommandBuffer:
		return &CommandBuffer{}, nil
	case ChunkQueueSubmit:
		return &QueueSubmit{}, nil
	case ChunkQueueBindSparse:
		return &QueueBindSparse{}, nil
	case ChunkQueueWaitIdle:
		return &Queue{}, nil
	case ChunkDeviceWaitIdle:
		return &DeviceWaitIdle{}, nil
	case ChunkWaitFence, ChunkResetFence:
		return &Fence{}, nil
	case ChunkWriteMemory:
		return &WriteMemory{}, nil
	}
	return nil, fmt.Errorf("No payload for chunk type %v", t)
}

// Decode reads the payload of c.
func Decode(c *serialise.Chunk) (serialise.Serialisable, error) {
	p, err := NewPayload(c.Type)
	if err != nil {
		return nil, err
	}
	if err := c.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

func newDesc(t serialise.ChunkType) gpu.Described {
	switch t {
	case ChunkCreateMemory:
		return &gpu.MemoryDesc{}
	case ChunkCreateBuffer:
		return &gpu.BufferDesc{}
	case ChunkCreateImage:
		return &gpu.ImageDesc{}
	case ChunkCreateImageView:
		return &gpu.ImageViewDesc{}
	case ChunkCreateShader:
		return &gpu.ShaderDesc{}
	case ChunkCreateDescriptorSetLayout:
		return &gpu.DescriptorSetLayoutDesc{}
	case ChunkCreatePipelineLayout:
		return &gpu.PipelineLayoutDesc{}
	case ChunkCreateRenderPass:
		return &gpu.RenderPassDesc{}
	case ChunkCreateFramebuffer:
		return &gpu.FramebufferDesc{}
	case ChunkCreateGraphicsPipeline:
		return &gpu.GraphicsPipelineDesc{}
	case ChunkCreateComputePipeline:
		return &gpu.ComputePipelineDesc{}
	case ChunkCreateDescriptorPool:
		return &gpu.DescriptorPoolDesc{}
	}
	return nil
}
