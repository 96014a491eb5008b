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
	"io"
	"os"

	"github.com/baldurk/renderdoc-sub014/capture"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func init() {
	verbs = append(verbs, &cli.Command{
		Name:      "capture",
		Usage:     "run a built-in workload and capture one of its frames",
		ArgsUsage: "<output.rdc>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workload", Value: "triangle", Usage: "workload to run"},
			&cli.UintFlag{Name: "frames", Value: 2, Usage: "number of frames to run"},
			&cli.UintFlag{Name: "frame", Value: 1, Usage: "frame to capture, frame 0 creates the objects"},
			&cli.BoolFlag{Name: "no-validation", Usage: "disable layout validation on the device"},
		},
		Action: doCapture,
	})
}

// countingFile reports the bytes written through it.
type countingFile struct {
	*os.File
	n int64
}

func (f *countingFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	f.n += int64(n)
	return n, err
}

func doCapture(c *cli.Context) error {
	ctx := c.Context
	cfg := configOf(c)
	out, err := captureArg(c)
	if err != nil {
		return err
	}
	frames, frame := uint32(c.Uint("frames")), uint32(c.Uint("frame"))
	if frame == 0 || frame >= frames {
		return errors.Errorf("Capture frame %d must be in [1, %d)", frame, frames)
	}
	w, err := lookupWorkload(c.String("workload"))
	if err != nil {
		return err
	}
	b, err := gpu.Lookup(cfg.Replay.Backend)
	if err != nil {
		return err
	}
	validation := !c.Bool("no-validation")
	drv, err := b.Open(ctx, gpu.DeviceDesc{Name: "rdcap", Validation: validation})
	if err != nil {
		return err
	}

	opts := capture.Options{Capture: cfg.Capture, Validation: validation}
	opts.Capture.TriggerFrames = []uint32{frame}
	var file *countingFile
	opts.TriggerOutput = func(n uint32) (io.WriteCloser, error) {
		f, err := os.Create(out)
		if err != nil {
			return nil, errors.Wrap(err, "Creating capture file")
		}
		file = &countingFile{File: f}
		return file, nil
	}
	cc, err := capture.New(ctx, drv, opts)
	if err != nil {
		return err
	}
	render, err := w(ctx, cc)
	if err != nil {
		return errors.Wrap(err, "Creating workload")
	}
	for n := uint32(0); n < frames; n++ {
		if err := runFrame(ctx, cc, render, n); err != nil {
			return err
		}
	}
	if file == nil {
		return errors.Errorf("Frame %d was never captured", frame)
	}
	log.I(ctx, "Captured frame %d of %s (session %v) to %s, %s",
		frame, c.String("workload"), cc.Session(), out, humanize.IBytes(uint64(file.n)))
	return nil
}

func runFrame(ctx context.Context, cc *capture.Context, render frameFunc, n uint32) error {
	ctx = log.V{"frame": n}.Bind(ctx)
	if err := render(ctx, n); err != nil {
		return errors.Wrapf(err, "Rendering frame %d", n)
	}
	return cc.Present(ctx, cc.Queue())
}
