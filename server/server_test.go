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
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/baldurk/renderdoc-sub014/capture"
	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/gpu/soft"
	"github.com/baldurk/renderdoc-sub014/internal/scene"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/server/grpcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func triangleReplayer(ctx context.Context, t *testing.T) (*replay.Replayer, *scene.Triangle) {
	drv := soft.New(ctx, gpu.DeviceDesc{Name: t.Name(), Validation: true})
	c, err := capture.New(ctx, drv, capture.Options{Capture: config.Default().Capture, Validation: true})
	require.NoError(t, err)
	tri, err := scene.NewTriangle(ctx, c, false)
	require.NoError(t, err)
	require.NoError(t, c.StartFrameCapture(ctx))
	require.NoError(t, tri.Frame(ctx, c))
	var buf bytes.Buffer
	require.NoError(t, c.EndFrameCapture(ctx, &buf))

	r, err := replay.Load(ctx, &buf, replay.Options{Replay: config.Default().Replay})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(ctx) })
	return r, tri
}

// connect serves r over an in-memory listener and returns a client for it.
// The server is stopped and checked when the test ends.
func connect(ctx context.Context, t *testing.T, r *replay.Replayer) *Client {
	cfg := config.Default().Server
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return ServeWithListener(ctx, lis, cfg, r) })

	conn, err := grpcutil.Dial(ctx, "bufnet", cfg.MaxRecvMsgSize,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.NoError(t, g.Wait())
	})
	return NewClient(conn)
}

func drawEvent(t *testing.T, evs []EventInfo) uint32 {
	for _, e := range evs {
		if e.Command == "Draw" {
			return e.ID
		}
	}
	require.Fail(t, "no draw event")
	return 0
}

func TestInfoAndEvents(t *testing.T) {
	ctx := log.Testing(t)
	r, tri := triangleReplayer(ctx, t)
	c := connect(ctx, t, r)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, soft.Name, info.Backend)
	assert.Equal(t, len(r.GetEvents()), info.Events)
	assert.NotZero(t, info.Resources)

	evs, err := c.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs.Events, info.Events)
	draw := drawEvent(t, evs.Events)
	for _, e := range evs.Events {
		if e.ID == draw {
			assert.Equal(t, resource.ID(tri.CB), e.CB)
		}
	}
}

func TestReadsAtDraw(t *testing.T) {
	ctx := log.Testing(t)
	r, tri := triangleReplayer(ctx, t)
	c := connect(ctx, t, r)
	evs, err := c.Events(ctx)
	require.NoError(t, err)
	draw := drawEvent(t, evs.Events)

	res, err := c.ReplayLog(ctx, &ReplayLogRequest{End: draw})
	require.NoError(t, err)
	assert.Equal(t, draw, res.Current)

	img := resource.ID(tri.Image)
	tex, err := c.GetTexture(ctx, &TextureRequest{ID: img})
	require.NoError(t, err)
	assert.Equal(t, uint32(scene.Target), tex.Width)
	assert.Equal(t, gpu.FormatRGBA8Unorm, tex.Format)
	assert.Equal(t, scene.Red, scene.Pixel(tex.Data, scene.Target, 0, 0))
	assert.Equal(t, scene.Blue, scene.Pixel(tex.Data, scene.Target, scene.Target-1, scene.Target-1))

	px, err := c.PickPixel(ctx, &PickPixelRequest{TextureRequest: TextureRequest{ID: img}, X: 0, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, px.Value)

	mm, err := c.MinMax(ctx, &TextureRequest{ID: img})
	require.NoError(t, err)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, mm.Min)
	assert.Equal(t, [4]float32{1, 0, 1, 1}, mm.Max)

	h, err := c.Histogram(ctx, &HistogramRequest{
		TextureRequest: TextureRequest{ID: img},
		Min:            0, Max: 1,
		Channels: []bool{true, false, false, false},
		Buckets:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 10}, h.Buckets)

	buf, err := c.GetBuffer(ctx, &BufferRequest{ID: resource.ID(tri.Vertices)})
	require.NoError(t, err)
	assert.Equal(t, scene.Floats(-1, -1, 1, -1, -1, 1), buf.Data)

	ps, err := c.PipelineState(ctx)
	require.NoError(t, err)
	assert.Equal(t, draw, ps.EventID)
	assert.True(t, ps.InRenderPass)
	assert.Equal(t, resource.ID(tri.Pipeline), ps.GraphicsPipeline)
	assert.Equal(t, soft.VSPosition2D, ps.VertexShader)
	assert.Equal(t, soft.FSPushColor, ps.FragmentShader)
	assert.Equal(t, []resource.ID{resource.ID(tri.View)}, ps.Attachments)
	assert.Equal(t, scene.Floats(1, 0, 0, 1), ps.Push)
	require.NotNil(t, ps.Viewport)
	assert.Equal(t, float32(scene.Target), ps.Viewport.Width)
}

func TestErrorCodes(t *testing.T) {
	ctx := log.Testing(t)
	r, _ := triangleReplayer(ctx, t)
	c := connect(ctx, t, r)

	_, err := c.ReplayLog(ctx, &ReplayLogRequest{End: 1, Mode: "Sideways"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.ReplayLog(ctx, &ReplayLogRequest{Start: 5, End: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.GetTexture(ctx, &TextureRequest{ID: resource.ID(1 << 40)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// The server keeps working after failures.
	_, err = c.Info(ctx)
	assert.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	for _, test := range []struct {
		in   string
		want replay.Mode
	}{
		{"", replay.Full},
		{"Full", replay.Full},
		{"WithoutDraw", replay.WithoutDraw},
		{"OnlyDraw", replay.OnlyDraw},
	} {
		got, err := parseMode(test.in)
		assert.NoError(t, err, test.in)
		assert.Equal(t, test.want, got, test.in)
	}
	_, err := parseMode("full")
	assert.Error(t, err)
}
