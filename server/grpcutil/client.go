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


package grpcutil

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
)

// ClientTask is invoked with an open grpc connection by Client.
type ClientTask func(context.Context, *grpc.ClientConn) error

// Dial connects to a grpc server, and returns the connection.
// It also installs the standard options we normally use.
func Dial(ctx context.Context, target string, maxRecv int, options ...grpc.DialOption) (*grpc.ClientConn, error) {
	options = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.UseCompressor(gzip.Name),
			grpc.MaxCallRecvMsgSize(maxRecv),
			grpc.MaxCallSendMsgSize(maxRecv),
		),
	}, options...)
	return grpc.DialContext(ctx, target, options...)
}

// Client dials a grpc server, and runs the task with the connection, and closes the connection
// again before returning.
func Client(ctx context.Context, target string, maxRecv int, task ClientTask, options ...grpc.DialOption) error {
	conn, err := Dial(ctx, target, maxRecv, options...)
	if err != nil {
		return err
	}
	defer conn.Close()
	return task(ctx, conn)
}
