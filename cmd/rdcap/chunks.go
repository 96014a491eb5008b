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
	"fmt"
	"io"
	"sort"

	"github.com/baldurk/renderdoc-sub014/rdcfile"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func init() {
	verbs = append(verbs, &cli.Command{
		Name:      "chunks",
		Usage:     "list the chunks of the frame capture section",
		ArgsUsage: "<capture.rdc>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "summary", Usage: "print chunk counts per type instead of every chunk"},
		},
		Action: doChunks,
	})
}

func doChunks(c *cli.Context) error {
	path, err := captureArg(c)
	if err != nil {
		return err
	}
	f, err := rdcfile.Open(path)
	if err != nil {
		return err
	}
	data, err := f.FrameData()
	if err != nil {
		return err
	}
	return printChunks(c.App.Writer, data, c.Bool("summary"))
}

type chunkTotal struct {
	count int
	bytes uint64
}

func printChunks(w io.Writer, data []byte, summary bool) error {
	r := serialise.NewStreamReader(data)
	totals := map[serialise.ChunkType]*chunkTotal{}
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "Listing chunks")
		}
		t, ok := totals[chunk.Type]
		if !ok {
			t = &chunkTotal{}
			totals[chunk.Type] = t
		}
		t.count++
		t.bytes += chunk.Size()
		if !summary {
			fmt.Fprintf(w, "%8d  %-28v seq %-5d thread %-3d %8s\n",
				r.LastOffset(), chunk.Type, chunk.Sequence, chunk.ThreadID, humanize.IBytes(chunk.Size()))
		}
	}
	if !summary {
		return nil
	}
	types := make([]serialise.ChunkType, 0, len(totals))
	for t := range totals {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(w, "%-28v %5d %8s\n", t, totals[t].count, humanize.IBytes(totals[t].bytes))
	}
	return nil
}
