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
	"os"
	"os/signal"
	"syscall"

	"github.com/baldurk/renderdoc-sub014/metrics"
	"github.com/baldurk/renderdoc-sub014/server"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func init() {
	verbs = append(verbs, &cli.Command{
		Name:      "serve",
		Usage:     "load a capture and serve the rdcap.Replay gRPC service",
		ArgsUsage: "<capture.rdc>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Usage: "listen address, overrides the configuration"},
			&cli.StringFlag{Name: "metrics", Usage: "address to export Prometheus metrics on"},
		},
		Action: doServe,
	})
}

func doServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := configOf(c).Server
	if a := c.String("address"); a != "" {
		cfg.Address = a
	}
	path, err := captureArg(c)
	if err != nil {
		return err
	}
	r, err := load(ctx, c, path)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	g, ctx := errgroup.WithContext(ctx)
	if addr := c.String("metrics"); addr != "" {
		g.Go(func() error { return metrics.Serve(ctx, addr) })
	}
	g.Go(func() error { return server.Serve(ctx, cfg, r) })
	return g.Wait()
}
