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


package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/image"
	"github.com/baldurk/renderdoc-sub014/internal/scene"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"rdcap"}, args...)), "%v", args)
	return out.String()
}

func TestCaptureAndInspect(t *testing.T) {
	dir := t.TempDir()
	rdc := filepath.Join(dir, "triangle.rdc")
	run(t, "capture", "--workload", "triangle", rdc)

	info := run(t, "info", rdc)
	assert.Contains(t, info, "Version:  0x102")
	assert.Contains(t, info, "renderdoc/internal/framecapture")

	all := run(t, "chunks", rdc)
	summary := run(t, "chunks", "--summary", rdc)
	assert.NotEmpty(t, all)
	assert.NotEmpty(t, summary)
	assert.Less(t, len(summary), len(all))

	actions := run(t, "replay", "--list", rdc)
	assert.Contains(t, actions, "Frame")

	png := filepath.Join(dir, "out.png")
	run(t, "replay", "--out", png, rdc)
	f, err := os.Open(png)
	require.NoError(t, err)
	defer f.Close()
	img, err := image.ReadPNG(f)
	require.NoError(t, err)
	assert.Equal(t, scene.Target, img.Width)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, img.At(0, 0))
	assert.Equal(t, [4]float32{0, 0, 1, 1}, img.At(scene.Target-1, scene.Target-1))
}

func TestCaptureWorkloads(t *testing.T) {
	dir := t.TempDir()
	for _, name := range workloadNames() {
		rdc := filepath.Join(dir, name+".rdc")
		run(t, "capture", "--workload", name, "--frames", "3", "--frame", "2", rdc)
		_, err := os.Stat(rdc)
		assert.NoError(t, err, name)
	}
}

func TestCaptureRejectsBadArguments(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{
		{"capture", "--workload", "teapot", filepath.Join(dir, "a.rdc")},
		{"capture", "--frame", "0", filepath.Join(dir, "b.rdc")},
		{"capture", "--frames", "2", "--frame", "2", filepath.Join(dir, "c.rdc")},
		{"capture"},
	} {
		app := newApp()
		app.Writer = &bytes.Buffer{}
		app.ErrWriter = &bytes.Buffer{}
		assert.Error(t, app.Run(append([]string{"rdcap"}, args...)), "%v", args)
	}
}

func TestParseMode(t *testing.T) {
	m, err := parseMode("onlydraw")
	require.NoError(t, err)
	assert.Equal(t, replay.OnlyDraw, m)
	_, err = parseMode("partial")
	assert.Error(t, err)
}
