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


// Package server exposes the replay read API as the rdcap.Replay gRPC
// service. Messages are JSON encoded.
package server

import (
	"context"

	"github.com/baldurk/renderdoc-sub014/analysis"
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the full gRPC name of the service.
const ServiceName = "rdcap.Replay"

// Service is the interface of the rdcap.Replay service.
type Service interface {
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	Events(context.Context, *EventsRequest) (*EventsResponse, error)
	ReplayLog(context.Context, *ReplayLogRequest) (*ReplayLogResponse, error)
	GetBuffer(context.Context, *BufferRequest) (*BufferResponse, error)
	GetTexture(context.Context, *TextureRequest) (*TextureResponse, error)
	PickPixel(context.Context, *PickPixelRequest) (*PickPixelResponse, error)
	Histogram(context.Context, *HistogramRequest) (*HistogramResponse, error)
	MinMax(context.Context, *TextureRequest) (*MinMaxResponse, error)
	PipelineState(context.Context, *PipelineStateRequest) (*PipelineStateResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary("Info", Service.Info),
		unary("Events", Service.Events),
		unary("ReplayLog", Service.ReplayLog),
		unary("GetBuffer", Service.GetBuffer),
		unary("GetTexture", Service.GetTexture),
		unary("PickPixel", Service.PickPixel),
		unary("Histogram", Service.Histogram),
		unary("MinMax", Service.MinMax),
		unary("PipelineState", Service.PipelineState),
	},
	Metadata: "rdcap",
}

func unary[Req, Resp any](name string, call func(Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(Service)
			if interceptor == nil {
				return call(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// Register adds s to the grpc server.
func Register(g *grpc.Server, s Service) {
	g.RegisterService(&serviceDesc, s)
}

// Server implements Service on top of a loaded capture.
type Server struct {
	r *replay.Replayer
}

// New returns a Server reading from r.
func New(r *replay.Replayer) *Server {
	return &Server{r: r}
}

// toStatus maps the replay error kinds onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case fault.Is(err, fault.ErrResourceLookupFailure):
		return status.Error(codes.NotFound, err.Error())
	case fault.Is(err, fault.ErrUnsupportedFeature):
		return status.Error(codes.Unimplemented, err.Error())
	case fault.Is(err, fault.ErrVersionIncompatible):
		return status.Error(codes.FailedPrecondition, err.Error())
	case fault.Is(err, fault.ErrSubmissionFailure):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.InvalidArgument, err.Error())
}

func parseMode(s string) (replay.Mode, error) {
	switch s {
	case "", replay.Full.String():
		return replay.Full, nil
	case replay.WithoutDraw.String():
		return replay.WithoutDraw, nil
	case replay.OnlyDraw.String():
		return replay.OnlyDraw, nil
	}
	return 0, errors.Errorf("Unknown replay mode %q", s)
}

func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	f := s.r.File()
	return &InfoResponse{
		Version:        f.Version,
		ProgramVersion: f.ProgramVersion,
		DriverID:       f.DriverID,
		DriverName:     f.DriverName,
		Backend:        s.r.Driver().Info().Name,
		Events:         len(s.r.GetEvents()),
		Resources:      len(s.r.GetResources()),
		Current:        s.r.CurrentEvent(),
	}, nil
}

func (s *Server) Events(ctx context.Context, req *EventsRequest) (*EventsResponse, error) {
	evs := s.r.GetEvents()
	out := &EventsResponse{Events: make([]EventInfo, len(evs))}
	for i, e := range evs {
		out.Events[i] = EventInfo{ID: e.ID, Name: e.Name, CB: e.CB}
		if e.Command != 0 {
			out.Events[i].Command = e.Command.String()
		}
	}
	return out, nil
}

func (s *Server) ReplayLog(ctx context.Context, req *ReplayLogRequest) (*ReplayLogResponse, error) {
	mode, err := parseMode(req.Mode)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.r.ReplayLog(ctx, req.Start, req.End, mode); err != nil {
		return nil, toStatus(err)
	}
	return &ReplayLogResponse{Current: s.r.CurrentEvent()}, nil
}

func (s *Server) GetBuffer(ctx context.Context, req *BufferRequest) (*BufferResponse, error) {
	data, err := s.r.ReadBuffer(ctx, req.ID, req.Offset, req.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BufferResponse{Data: data}, nil
}

func (s *Server) GetTexture(ctx context.Context, req *TextureRequest) (*TextureResponse, error) {
	t, err := s.r.GetTexture(ctx, req.ID, req.Mip, req.Layer)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TextureResponse{Width: t.Width, Height: t.Height, Format: t.Format, Data: t.Data}, nil
}

func (s *Server) PickPixel(ctx context.Context, req *PickPixelRequest) (*PickPixelResponse, error) {
	v, err := analysis.PickPixel(ctx, s.r, req.ID, req.Mip, req.Layer, req.X, req.Y)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PickPixelResponse{Value: v}, nil
}

func (s *Server) Histogram(ctx context.Context, req *HistogramRequest) (*HistogramResponse, error) {
	ch := analysis.RGBA
	if req.Channels != nil {
		ch = analysis.Channels{}
		copy(ch[:], req.Channels)
	}
	buckets := req.Buckets
	if buckets == 0 {
		buckets = analysis.HistogramBuckets
	}
	b, err := analysis.GetHistogram(ctx, s.r, req.ID, req.Mip, req.Layer, req.Min, req.Max, ch, buckets)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HistogramResponse{Buckets: b}, nil
}

func (s *Server) MinMax(ctx context.Context, req *TextureRequest) (*MinMaxResponse, error) {
	lo, hi, err := analysis.GetMinMax(ctx, s.r, req.ID, req.Mip, req.Layer)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MinMaxResponse{Min: lo, Max: hi}, nil
}

func (s *Server) PipelineState(ctx context.Context, req *PipelineStateRequest) (*PipelineStateResponse, error) {
	ps, err := s.r.PipelineState(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	rs := ps.State
	out := &PipelineStateResponse{
		EventID:          ps.EventID,
		CB:               ps.CB,
		InRenderPass:     rs.InRenderPass,
		RenderPass:       rs.RenderPass,
		Framebuffer:      rs.Framebuffer,
		Area:             rs.Area,
		GraphicsPipeline: rs.Graphics.Pipeline,
		ComputePipeline:  rs.Compute.Pipeline,
		Sets:             rs.Graphics.Sets,
		Viewport:         rs.Viewport,
		Scissor:          rs.Scissor,
		Push:             rs.Push,
		Markers:          rs.Markers,
	}
	if ps.Compute != nil && (ps.Graphics == nil || !rs.InRenderPass) {
		out.Sets = rs.Compute.Sets
	}
	if g := ps.Graphics; g != nil {
		out.VertexShader = s.entryPoint(ctx, g.VertexShader)
		out.FragmentShader = s.entryPoint(ctx, g.FragmentShader)
	}
	if c := ps.Compute; c != nil {
		out.ComputeShader = s.entryPoint(ctx, c.Shader)
	}
	for _, a := range ps.Attachments {
		out.Attachments = append(out.Attachments, a.View)
	}
	return out, nil
}

func (s *Server) entryPoint(ctx context.Context, h gpu.Handle) string {
	if h == gpu.Null {
		return ""
	}
	d, err := s.r.GetShader(resource.ID(h))
	if err != nil {
		log.W(ctx, "Pipeline shader %v: %v", h, err)
		return ""
	}
	return d.EntryPoint
}
