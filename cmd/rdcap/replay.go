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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/baldurk/renderdoc-sub014/analysis"
	"github.com/baldurk/renderdoc-sub014/core/image"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/replay"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func init() {
	verbs = append(verbs, &cli.Command{
		Name:      "replay",
		Usage:     "replay a capture up to an event and write a texture as PNG",
		ArgsUsage: "<capture.rdc>",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "event", Usage: "event to replay to, 0 for the last event"},
			&cli.StringFlag{Name: "mode", Value: "Full", Usage: "Full, WithoutDraw or OnlyDraw"},
			&cli.Uint64Flag{Name: "texture", Usage: "image resource to write, 0 for the first image"},
			&cli.UintFlag{Name: "mip"},
			&cli.UintFlag{Name: "layer"},
			&cli.IntFlag{Name: "width", Usage: "output width, 0 keeps the texture size"},
			&cli.IntFlag{Name: "height", Usage: "output height, 0 keeps the texture size"},
			&cli.StringFlag{Name: "overlay", Usage: "render an overlay of the event instead: Drawcall, Wireframe, ViewportScissor or ClearBeforeDraw"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "out.png", Usage: "PNG file to write"},
			&cli.BoolFlag{Name: "list", Usage: "print the action tree and exit"},
		},
		Action: doReplay,
	})
}

// load opens the capture at path on the configured backend.
func load(ctx context.Context, c *cli.Context, path string) (*replay.Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.Load(ctx, f, replay.Options{Replay: configOf(c).Replay})
}

func parseMode(s string) (replay.Mode, error) {
	for _, m := range []replay.Mode{replay.Full, replay.WithoutDraw, replay.OnlyDraw} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, errors.Errorf("Unknown replay mode %q", s)
}

func doReplay(c *cli.Context) error {
	ctx := c.Context
	path, err := captureArg(c)
	if err != nil {
		return err
	}
	r, err := load(ctx, c, path)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	if c.Bool("list") {
		return printActions(c.App.Writer, r.GetActions())
	}

	ev := uint32(c.Uint("event"))
	if ev == 0 {
		evs := r.GetEvents()
		if len(evs) == 0 {
			return errors.New("Capture has no events")
		}
		ev = evs[len(evs)-1].ID
	}
	var img *image.Image2D
	if name := c.String("overlay"); name != "" {
		o, err := analysis.ParseOverlay(name)
		if err != nil {
			return err
		}
		if img, err = analysis.RenderOverlay(ctx, r, ev, o); err != nil {
			return err
		}
	} else {
		mode, err := parseMode(c.String("mode"))
		if err != nil {
			return err
		}
		if err := r.ReplayLog(ctx, 0, ev, mode); err != nil {
			return err
		}
		id := resource.ID(c.Uint64("texture"))
		if id == resource.Null {
			if id, err = firstImage(r); err != nil {
				return err
			}
		}
		img, err = analysis.RenderTexture(ctx, r, analysis.TextureDisplay{
			ID: id, Mip: uint32(c.Uint("mip")), Layer: uint32(c.Uint("layer")),
			Width: c.Int("width"), Height: c.Int("height"),
		})
		if err != nil {
			return err
		}
	}

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := img.WritePNG(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.I(ctx, "Wrote %dx%d image of event %d to %s", img.Width, img.Height, ev, out)
	return nil
}

func firstImage(r *replay.Replayer) (resource.ID, error) {
	for _, res := range r.GetResources() {
		if res.Kind == gpu.KindImage && res.Live {
			return res.ID, nil
		}
	}
	return resource.Null, errors.New("Capture has no images")
}

func printActions(w io.Writer, actions []*replay.Action) error {
	return replay.Traverse(actions, func(depth int, a *replay.Action) error {
		_, err := fmt.Fprintf(w, "%s%d %s\n", strings.Repeat("  ", depth), a.EventID, a.Name)
		return err
	})
}
