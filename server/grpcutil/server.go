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


// Package grpcutil holds the standard setup for the gRPC servers and clients
// of the replay front end.
package grpcutil

import (
	"context"
	"net"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
)

// PrepareTask is called to add the services to a grpc server before it starts running.
type PrepareTask func(context.Context, net.Listener, *grpc.Server) error

// Serve prepares and runs a grpc server on the specified address until ctx
// is cancelled.
func Serve(ctx context.Context, address string, maxRecv int, prepare PrepareTask, options ...grpc.ServerOption) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return log.Errf(ctx, err, "Could not start grpc server on %v", address)
	}
	return ServeWithListener(ctx, listener, maxRecv, prepare, options...)
}

// ServeWithListener prepares and runs a grpc server using the specified
// net.Listener. Cancelling ctx stops the server gracefully.
func ServeWithListener(ctx context.Context, listener net.Listener, maxRecv int, prepare PrepareTask, options ...grpc.ServerOption) error {
	options = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.MaxSendMsgSize(maxRecv),
	}, options...)
	defer listener.Close()
	grpcServer := grpc.NewServer(options...)
	if err := prepare(ctx, listener, grpcServer); err != nil {
		return err
	}

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
			grpcServer.GracefulStop()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		log.I(ctx, "Starting grpc server on %v", listener.Addr())
		if err := grpcServer.Serve(listener); err != nil {
			return log.Errf(ctx, err, "Abort running grpc server: %v", listener.Addr())
		}
		log.I(ctx, "Shutting down grpc server")
		return nil
	})
	return g.Wait()
}
