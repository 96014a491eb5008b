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
	"context"

	"google.golang.org/grpc"
)

// Client calls the rdcap.Replay service over a connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient returns a Client using conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req interface{}) (*Resp, error) {
	out := new(Resp)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	return invoke[InfoResponse](ctx, c, "Info", &InfoRequest{})
}

func (c *Client) Events(ctx context.Context) (*EventsResponse, error) {
	return invoke[EventsResponse](ctx, c, "Events", &EventsRequest{})
}

func (c *Client) ReplayLog(ctx context.Context, req *ReplayLogRequest) (*ReplayLogResponse, error) {
	return invoke[ReplayLogResponse](ctx, c, "ReplayLog", req)
}

func (c *Client) GetBuffer(ctx context.Context, req *BufferRequest) (*BufferResponse, error) {
	return invoke[BufferResponse](ctx, c, "GetBuffer", req)
}

func (c *Client) GetTexture(ctx context.Context, req *TextureRequest) (*TextureResponse, error) {
	return invoke[TextureResponse](ctx, c, "GetTexture", req)
}

func (c *Client) PickPixel(ctx context.Context, req *PickPixelRequest) (*PickPixelResponse, error) {
	return invoke[PickPixelResponse](ctx, c, "PickPixel", req)
}

func (c *Client) Histogram(ctx context.Context, req *HistogramRequest) (*HistogramResponse, error) {
	return invoke[HistogramResponse](ctx, c, "Histogram", req)
}

func (c *Client) MinMax(ctx context.Context, req *TextureRequest) (*MinMaxResponse, error) {
	return invoke[MinMaxResponse](ctx, c, "MinMax", req)
}

func (c *Client) PipelineState(ctx context.Context) (*PipelineStateResponse, error) {
	return invoke[PipelineStateResponse](ctx, c, "PipelineState", &PipelineStateRequest{})
}
