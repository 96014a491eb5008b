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

package gpu_test

import (
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageDescLayout(t *testing.T) {
	d := gpu.ImageDesc{Format: gpu.FormatRGBA8Unorm, Width: 8, Height: 4, MipLevels: 3, ArrayLayers: 2}
	for _, test := range []struct {
		mip, layer uint32
		offset     uint64
	}{
		{0, 0, 0},
		{0, 1, 128},
		{1, 0, 256},
		{1, 1, 288},
		{2, 0, 320},
		{2, 1, 328},
	} {
		assert.Equal(t, test.offset, d.SubresourceOffset(test.mip, test.layer), "mip %d layer %d", test.mip, test.layer)
	}
	assert.Equal(t, uint32(1), d.MipHeight(2))
	assert.Equal(t, uint64(336), d.Size())
}

func TestResolve(t *testing.T) {
	r := gpu.SubresourceRange{BaseMip: 1, MipCount: gpu.Remaining, BaseLayer: 2, LayerCount: gpu.Remaining}.Resolve(4, 6)
	assert.Equal(t, gpu.SubresourceRange{BaseMip: 1, MipCount: 3, BaseLayer: 2, LayerCount: 4}, r)
}

func TestCloneAndRemap(t *testing.T) {
	cmd := &gpu.CopyBuffer{Src: 10, Dst: 20, Regions: []gpu.BufferCopy{{Size: 4}}}
	clone, err := gpu.CloneCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd, clone)

	err = gpu.Remap(clone, func(h gpu.Handle) (gpu.Handle, error) { return h + 1, nil })
	require.NoError(t, err)
	assert.Equal(t, gpu.Handle(11), clone.(*gpu.CopyBuffer).Src)
	assert.Equal(t, gpu.Handle(10), cmd.Src, "clone is independent")

	fail := errors.New("nope")
	assert.Equal(t, fail, gpu.Remap(clone, func(gpu.Handle) (gpu.Handle, error) { return 0, fail }))
}

func TestCommandKinds(t *testing.T) {
	for _, k := range gpu.CommandKinds() {
		c, err := gpu.NewCommand(k)
		require.NoError(t, err)
		assert.Equal(t, k, c.Kind())
	}
	assert.Equal(t, "Draw", gpu.CmdKindDraw.String())
	assert.True(t, gpu.CmdKindDispatch.IsAction())
	assert.False(t, gpu.CmdKindBindPipeline.IsAction())
	_, err := gpu.NewCommand(0)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	_, err := gpu.Lookup("no-such-driver")
	assert.True(t, errors.Is(err, fault.ErrUnsupportedFeature))
	b, err := gpu.LookupID(soft.ID)
	require.NoError(t, err)
	assert.Equal(t, soft.Name, b.Info().Name)
	assert.Contains(t, gpu.Backends(), soft.Name)
	assert.Panics(t, func() { gpu.Register(b) })
}

func TestTexels(t *testing.T) {
	buf := make([]byte, 16)
	for _, f := range []gpu.Format{gpu.FormatRGBA8Unorm, gpu.FormatBGRA8Unorm, gpu.FormatRGBA32Float} {
		gpu.EncodeTexel(f, [4]float32{1, 0, 1, 1}, buf)
		assert.Equal(t, [4]float32{1, 0, 1, 1}, gpu.DecodeTexel(f, buf), "%v", f)
	}
	gpu.EncodeTexel(gpu.FormatBGRA8Unorm, [4]float32{1, 0, 0, 1}, buf)
	assert.Equal(t, []byte{0, 0, 255, 255}, buf[:4])
	gpu.EncodeTexel(gpu.FormatR32Uint, [4]float32{42}, buf)
	assert.Equal(t, [4]float32{42, 0, 0, 1}, gpu.DecodeTexel(gpu.FormatR32Uint, buf))
}

func TestInternalCmds(t *testing.T) {
	ctx := log.Testing(t)
	drv := soft.New(ctx, gpu.DeviceDesc{Validation: true})
	ic, err := gpu.NewInternalCmds(ctx, drv)
	require.NoError(t, err)

	cb, err := ic.GetNextCmd(ctx)
	require.NoError(t, err)
	_, err = ic.GetNextSemaphore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ic.Pending())
	assert.Equal(t, 0, drv.Stats().Submissions, "nothing is submitted implicitly")
	require.NoError(t, ic.SubmitCmds(ctx))
	assert.Equal(t, 0, ic.Pending())
	assert.Equal(t, 1, drv.Stats().Submissions)

	// The next batch waits on the semaphore the previous one signalled.
	require.NoError(t, ic.FlushQ(ctx))
	again, err := ic.GetNextCmd(ctx)
	require.NoError(t, err)
	assert.Equal(t, cb, again, "command buffers are recycled after FlushQ")
	require.NoError(t, ic.FlushQ(ctx))
	assert.Equal(t, 2, drv.Stats().Submissions)
}
