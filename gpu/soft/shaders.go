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
	"sort"

	"github.com/baldurk/renderdoc-sub014/gpu"
)

// Entry points understood by the backend. Shader code is not interpreted;
// the entry point selects a builtin.
const (
	// VSPosition2D reads a float2 position from vertex binding 0.
	VSPosition2D = "vs_position2d"
	// FSPushColor writes the four float push constants at offset 0.
	FSPushColor = "fs_push_color"
	// FSCopyTexel writes the texel of the sampled image at set 0 binding 0
	// under the fragment.
	FSCopyTexel = "fs_copy_texel"
	// CSFillU32 writes the uint push constant at offset 0 to every element
	// of the storage buffer at set 0 binding 0.
	CSFillU32 = "cs_fill_u32"
	// CSAddU32 adds the storage buffer at binding 0 into the one at binding 1.
	CSAddU32 = "cs_add_u32"
	// CSCopyU32 copies the storage buffer at binding 0 into the one at binding 1.
	CSCopyU32 = "cs_copy_u32"
)

// LocalSize is the workgroup width of every builtin compute shader.
const LocalSize = 64

var builtins = map[string]gpu.ShaderDesc{
	VSPosition2D: {Stage: gpu.StageVertex},
	FSPushColor: {
		Stage:      gpu.StageFragment,
		Reflection: gpu.ShaderReflection{PushConstantSize: 16},
	},
	FSCopyTexel: {
		Stage: gpu.StageFragment,
		Reflection: gpu.ShaderReflection{Bindings: []gpu.ReflectedBinding{
			{Set: 0, Binding: 0, Type: gpu.DescriptorSampledImage, Name: "src"},
		}},
	},
	CSFillU32: {
		Stage: gpu.StageCompute,
		Reflection: gpu.ShaderReflection{
			Bindings: []gpu.ReflectedBinding{
				{Set: 0, Binding: 0, Type: gpu.DescriptorStorageBuffer, Name: "dst"},
			},
			PushConstantSize: 4,
			LocalSize:        LocalSize,
		},
	},
	CSAddU32: {
		Stage: gpu.StageCompute,
		Reflection: gpu.ShaderReflection{
			Bindings: []gpu.ReflectedBinding{
				{Set: 0, Binding: 0, Type: gpu.DescriptorStorageBuffer, Name: "src"},
				{Set: 0, Binding: 1, Type: gpu.DescriptorStorageBuffer, Name: "dst"},
			},
			LocalSize: LocalSize,
		},
	},
	CSCopyU32: {
		Stage: gpu.StageCompute,
		Reflection: gpu.ShaderReflection{
			Bindings: []gpu.ReflectedBinding{
				{Set: 0, Binding: 0, Type: gpu.DescriptorStorageBuffer, Name: "src"},
				{Set: 0, Binding: 1, Type: gpu.DescriptorStorageBuffer, Name: "dst"},
			},
			LocalSize: LocalSize,
		},
	},
}

// Shader returns the description of the builtin shader with the given entry
// point, ready to pass to CreateShader.
func Shader(entry string) (gpu.ShaderDesc, bool) {
	d, ok := builtins[entry]
	if !ok {
		return gpu.ShaderDesc{}, false
	}
	d.EntryPoint = entry
	d.Code = []byte("soft:" + entry)
	d.Reflection.Bindings = append([]gpu.ReflectedBinding(nil), d.Reflection.Bindings...)
	return d, true
}

// Shaders returns the entry points of every builtin shader.
func Shaders() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
