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

// Package rdcfile reads and writes the capture file container.
//
// A capture file is a fixed header (magic, version, thumbnail, machine and
// driver identity) followed by a list of sections. The frame capture section
// holds the chunk stream, the others carry optional extras.
package rdcfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"
)

// Magic is the FOURCC at the start of every capture file.
const Magic = uint32('R') | uint32('D')<<8 | uint32('O')<<16 | uint32('C')<<24

// Version is the container and chunk layout version written by this build.
// Files with any other version are rejected.
const Version = uint32(0x102)

// ThumbFormat is the pixel encoding of the header thumbnail.
type ThumbFormat uint32

const (
	ThumbNone ThumbFormat = iota
	ThumbRGBA8
	ThumbPNG
)

// Thumbnail is a small preview image stored in the header.
type Thumbnail struct {
	Width  uint32
	Height uint32
	Format ThumbFormat
	Data   []byte
}

// Header is the fixed part of a capture file.
type Header struct {
	Version        uint32
	ProgramVersion string
	Thumbnail      Thumbnail
	MachineIdent   uint64
	DriverID       uint32
	DriverName     string
}

const programVersionLen = 16

// File is a decoded capture file.
type File struct {
	Header
	Sections []*Section
}

// New returns an empty file for the given driver.
func New(driverID uint32, driverName string) *File {
	return &File{Header: Header{
		Version:        Version,
		ProgramVersion: "rdcap-1.0",
		MachineIdent:   MachineIdent(),
		DriverID:       driverID,
		DriverName:     driverName,
	}}
}

// Section returns the first section of type t, or nil.
func (f *File) Section(t SectionType) *Section {
	for _, s := range f.Sections {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// SetSection replaces the section of the same type, or appends it.
func (f *File) SetSection(s *Section) {
	for i, old := range f.Sections {
		if old.Type == s.Type && s.Type != SectionUnknown {
			f.Sections[i] = s
			return
		}
	}
	f.Sections = append(f.Sections, s)
}

// FrameData returns the chunk stream of the frame capture section.
func (f *File) FrameData() ([]byte, error) {
	s := f.Section(SectionFrameCapture)
	if s == nil {
		return nil, errors.New("Capture file has no frame capture section")
	}
	return s.Data, nil
}

// CaptureID returns a digest of the frame capture section identifying this
// capture.
func (f *File) CaptureID() [32]byte {
	data, _ := f.FrameData()
	return blake3.Sum256(data)
}

// MachineIdent describes the host that wrote a capture.
func MachineIdent() uint64 {
	ident := uint64(0)
	switch hostArch {
	case "amd64", "arm64", "ppc64le", "s390x", "riscv64", "mips64", "mips64le", "loong64":
		ident |= 1 << 0
	default:
		ident |= 1 << 1
	}
	switch hostOS {
	case "windows":
		ident |= 1 << 8
	case "linux":
		ident |= 1 << 9
	case "darwin":
		ident |= 1 << 10
	case "android":
		ident |= 1 << 11
	}
	return ident
}

type cursor struct {
	data []byte
	err  error
}

func (c *cursor) u32() uint32 {
	if c.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed32(c.data)
	if n < 0 {
		c.err = io.ErrUnexpectedEOF
		return 0
	}
	c.data = c.data[n:]
	return v
}

func (c *cursor) u64() uint64 {
	if c.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(c.data)
	if n < 0 {
		c.err = io.ErrUnexpectedEOF
		return 0
	}
	c.data = c.data[n:]
	return v
}

func (c *cursor) bytes(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if n > uint64(len(c.data)) {
		c.err = io.ErrUnexpectedEOF
		return nil
	}
	out := c.data[:n]
	c.data = c.data[n:]
	return out
}

func (h *Header) encode() []byte {
	body := make([]byte, 0, 64+len(h.Thumbnail.Data)+len(h.DriverName))
	prog := make([]byte, programVersionLen)
	copy(prog, h.ProgramVersion)
	body = append(body, prog...)
	body = protowire.AppendFixed32(body, h.Thumbnail.Width)
	body = protowire.AppendFixed32(body, h.Thumbnail.Height)
	body = protowire.AppendFixed32(body, uint32(h.Thumbnail.Format))
	body = protowire.AppendFixed32(body, uint32(len(h.Thumbnail.Data)))
	body = append(body, h.Thumbnail.Data...)
	body = protowire.AppendFixed64(body, h.MachineIdent)
	body = protowire.AppendFixed32(body, h.DriverID)
	body = protowire.AppendFixed32(body, uint32(len(h.DriverName)))
	body = append(body, h.DriverName...)

	out := make([]byte, 0, 12+len(body))
	out = protowire.AppendFixed32(out, Magic)
	out = protowire.AppendFixed32(out, h.Version)
	out = protowire.AppendFixed32(out, uint32(len(body)))
	return append(out, body...)
}

// ReadHeader reads and validates the header from r. A version mismatch
// returns a fault.VersionError before anything past the version field has
// been read.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	prefix := make([]byte, 12)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return h, errors.Wrap(err, "Reading capture header")
	}
	c := &cursor{data: prefix}
	if magic := c.u32(); magic != Magic {
		return h, errors.Errorf("Not a capture file: bad magic 0x%08x", magic)
	}
	h.Version = c.u32()
	if h.Version != Version {
		return h, fault.VersionError{Got: uint64(h.Version), Want: uint64(Version)}
	}
	bodyLen := c.u32()
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return h, errors.Wrap(err, "Reading capture header")
	}
	c = &cursor{data: body}
	h.ProgramVersion = string(bytes.TrimRight(c.bytes(programVersionLen), "\x00"))
	h.Thumbnail.Width = c.u32()
	h.Thumbnail.Height = c.u32()
	h.Thumbnail.Format = ThumbFormat(c.u32())
	if thumb := c.bytes(uint64(c.u32())); len(thumb) > 0 {
		h.Thumbnail.Data = append([]byte(nil), thumb...)
	}
	h.MachineIdent = c.u64()
	h.DriverID = c.u32()
	h.DriverName = string(c.bytes(uint64(c.u32())))
	if c.err != nil {
		return h, errors.Wrap(c.err, "Corrupt capture header")
	}
	return h, nil
}

// Write encodes f to w.
func Write(w io.Writer, f *File) error {
	if _, err := w.Write(f.Header.encode()); err != nil {
		return errors.Wrap(err, "Writing capture header")
	}
	for _, s := range f.Sections {
		data, err := s.encode()
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return errors.Wrapf(err, "Writing section %v", s.Type)
		}
	}
	return nil
}

// Read decodes a capture file from r.
func Read(r io.Reader) (*File, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	f := &File{Header: h}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "Reading capture sections")
	}
	for len(rest) > 0 {
		s, n, err := decodeSection(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "Section %d", len(f.Sections))
		}
		f.Sections = append(f.Sections, s)
		rest = rest[n:]
	}
	return f, nil
}

// Open reads the capture file at path.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	f, err := Read(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "Opening %s", path)
	}
	return f, nil
}

// Save writes f to path.
func Save(path string, f *File) error {
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(fd, f); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

func (h Header) String() string {
	return fmt.Sprintf("v0x%x %s driver %s(%d)", h.Version, h.ProgramVersion, h.DriverName, h.DriverID)
}
