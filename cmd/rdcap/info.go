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
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func init() {
	verbs = append(verbs, &cli.Command{
		Name:      "info",
		Usage:     "print the header, sections and notes of a capture file",
		ArgsUsage: "<capture.rdc>",
		Action:    doInfo,
	})
}

func doInfo(c *cli.Context) error {
	path, err := captureArg(c)
	if err != nil {
		return err
	}
	f, err := rdcfile.Open(path)
	if err != nil {
		return err
	}
	return printInfo(c.App.Writer, f)
}

func printInfo(w io.Writer, f *rdcfile.File) error {
	fmt.Fprintf(w, "Version:  0x%x\n", f.Version)
	fmt.Fprintf(w, "Program:  %s\n", f.ProgramVersion)
	fmt.Fprintf(w, "Driver:   %s (%d)\n", f.DriverName, f.DriverID)
	fmt.Fprintf(w, "Machine:  0x%016x\n", f.MachineIdent)
	fmt.Fprintf(w, "ID:       %x\n", f.CaptureID())
	if t := f.Thumbnail; t.Format != rdcfile.ThumbNone {
		fmt.Fprintf(w, "Thumb:    %dx%d %s\n", t.Width, t.Height, humanize.IBytes(uint64(len(t.Data))))
	}
	fmt.Fprintf(w, "Sections: %d\n", len(f.Sections))
	for _, s := range f.Sections {
		fmt.Fprintf(w, "  %-36s v%d flags 0x%x %s\n", s.Type, s.Version, uint32(s.Flags), humanize.IBytes(uint64(len(s.Data))))
	}
	notes, ok, err := f.Notes()
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(w, "Session:  %s\n", notes.Session)
		fmt.Fprintf(w, "Frame:    %d\n", notes.Frame)
		fmt.Fprintf(w, "Captured: %s\n", notes.CaptureTime)
		keys := make([]string, 0, len(notes.Comments))
		for k := range notes.Comments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, notes.Comments[k])
		}
	}
	return nil
}
