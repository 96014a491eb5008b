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
	"fmt"
	"net"
	"time"

	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/server/grpcutil"
	"google.golang.org/grpc"
)

// Serve runs the service for r on cfg.Address until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Server, r *replay.Replayer) error {
	l, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return log.Errf(ctx, err, "Could not listen on %v", cfg.Address)
	}
	return ServeWithListener(ctx, l, cfg, r)
}

// ServeWithListener runs the service for r on l until ctx is cancelled.
func ServeWithListener(ctx context.Context, l net.Listener, cfg config.Server, r *replay.Replayer) error {
	return grpcutil.ServeWithListener(ctx, l, cfg.MaxRecvMsgSize,
		func(ctx context.Context, l net.Listener, g *grpc.Server) error {
			Register(g, New(r))
			if addr, ok := l.Addr().(*net.TCPAddr); ok {
				// Tools parse this line to find the port.
				fmt.Printf("Bound on port '%d'\n", addr.Port)
			}
			return nil
		},
		grpc.UnaryInterceptor(logRequests(ctx)))
}

func logRequests(base context.Context) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = log.Put(ctx, log.From(base).Entry())
		ctx = log.V{"method": info.FullMethod}.Bind(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.W(ctx, "Failed after %v: %v", time.Since(start), err)
		} else {
			log.D(ctx, "Done in %v", time.Since(start))
		}
		return resp, err
	}
}
