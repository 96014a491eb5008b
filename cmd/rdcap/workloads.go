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
	"context"
	"sort"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/internal/scene"
	"github.com/pkg/errors"
)

// frameFunc renders frame n of a workload.
type frameFunc func(ctx context.Context, n uint32) error

// workload creates its objects on drv and returns the per frame work.
type workload func(ctx context.Context, drv gpu.Driver) (frameFunc, error)

var workloads = map[string]workload{
	"triangle": func(ctx context.Context, drv gpu.Driver) (frameFunc, error) {
		tri, err := scene.NewTriangle(ctx, drv, false)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, n uint32) error { return tri.Frame(ctx, drv) }, nil
	},
	"wireframe": func(ctx context.Context, drv gpu.Driver) (frameFunc, error) {
		tri, err := scene.NewTriangle(ctx, drv, true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, n uint32) error { return tri.Frame(ctx, drv) }, nil
	},
	"compute": func(ctx context.Context, drv gpu.Driver) (frameFunc, error) {
		comp, err := scene.NewCompute(ctx, drv)
		if err != nil {
			return nil, err
		}
		if err := comp.Bind(ctx, drv); err != nil {
			return nil, err
		}
		return func(ctx context.Context, n uint32) error { return comp.Frame(ctx, drv, n+1) }, nil
	},
	"sparse": func(ctx context.Context, drv gpu.Driver) (frameFunc, error) {
		sp, err := scene.NewSparse(ctx, drv)
		if err != nil {
			return nil, err
		}
		cmds, err := scene.NewCommands(ctx, drv)
		if err != nil {
			return nil, err
		}
		if err := sp.Bind(ctx, drv); err != nil {
			return nil, err
		}
		return func(ctx context.Context, n uint32) error {
			if err := cmds.Record(ctx, drv, sp.Fill(0x01010101*(n+1))); err != nil {
				return err
			}
			return cmds.Submit(ctx, drv)
		}, nil
	},
	"buffer": func(ctx context.Context, drv gpu.Driver) (frameFunc, error) {
		p, err := scene.NewPattern(ctx, drv, 4096)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, n uint32) error { return p.Write(ctx, drv) }, nil
	},
}

func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for n := range workloads {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupWorkload(name string) (workload, error) {
	w, ok := workloads[name]
	if !ok {
		return nil, errors.Errorf("Unknown workload %q, expected one of %v", name, workloadNames())
	}
	return w, nil
}
