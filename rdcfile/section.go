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

package rdcfile

import (
	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"gopkg.in/yaml.v3"
)

// SectionType identifies well known sections.
type SectionType uint32

const (
	SectionUnknown SectionType = iota
	SectionFrameCapture
	SectionResourceRenames
	SectionExtendedThumbnail
	SectionNotes
)

var sectionNames = map[SectionType]string{
	SectionUnknown:           "Unknown",
	SectionFrameCapture:      "renderdoc/internal/framecapture",
	SectionResourceRenames:   "renderdoc/ui/resrenames",
	SectionExtendedThumbnail: "renderdoc/internal/exthumb",
	SectionNotes:             "renderdoc/ui/notes",
}

func (t SectionType) String() string {
	if n, ok := sectionNames[t]; ok {
		return n
	}
	return "Section<?>"
}

// SectionFlags describe how a section is stored.
type SectionFlags uint32

const (
	ASCIIStored    SectionFlags = 0x1
	LZ4Compressed  SectionFlags = 0x2
	ZstdCompressed SectionFlags = 0x4
)

// Section is one named blob of a capture file. Data is always uncompressed.
type Section struct {
	Type    SectionType
	Name    string
	Flags   SectionFlags
	Version uint64
	Data    []byte
}

// NewSection returns a section of a well known type.
func NewSection(t SectionType, data []byte, flags SectionFlags) *Section {
	return &Section{Type: t, Name: t.String(), Flags: flags, Version: uint64(Version), Data: data}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func (s *Section) encode() ([]byte, error) {
	stored := s.Data
	switch {
	case s.Flags&LZ4Compressed != 0:
		return nil, fault.UnsupportedError{Feature: "LZ4 compressed sections"}
	case s.Flags&ZstdCompressed != 0:
		stored = zstdEncoder.EncodeAll(s.Data, make([]byte, 0, len(s.Data)/2))
	}
	out := make([]byte, 0, 40+len(s.Name)+len(stored))
	ascii := byte(0)
	if s.Flags&ASCIIStored != 0 {
		ascii = 1
	}
	out = append(out, ascii, 0, 0, 0)
	out = protowire.AppendFixed32(out, uint32(s.Type))
	out = protowire.AppendFixed64(out, uint64(len(stored)))
	out = protowire.AppendFixed64(out, uint64(len(s.Data)))
	out = protowire.AppendFixed64(out, s.Version)
	out = protowire.AppendFixed32(out, uint32(s.Flags))
	out = protowire.AppendFixed32(out, uint32(len(s.Name)))
	out = append(out, s.Name...)
	return append(out, stored...), nil
}

func decodeSection(data []byte) (*Section, int, error) {
	c := &cursor{data: data}
	c.bytes(4)
	s := &Section{}
	s.Type = SectionType(c.u32())
	compressed := c.u64()
	uncompressed := c.u64()
	s.Version = c.u64()
	s.Flags = SectionFlags(c.u32())
	s.Name = string(c.bytes(uint64(c.u32())))
	stored := c.bytes(compressed)
	if c.err != nil {
		return nil, 0, errors.Wrap(c.err, "Corrupt section header")
	}
	consumed := len(data) - len(c.data)
	switch {
	case s.Flags&LZ4Compressed != 0:
		return nil, 0, fault.UnsupportedError{Feature: "LZ4 compressed sections"}
	case s.Flags&ZstdCompressed != 0:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, uncompressed))
		if err != nil {
			return nil, 0, errors.Wrapf(err, "Decompressing section %s", s.Name)
		}
		s.Data = out
	default:
		s.Data = append([]byte(nil), stored...)
	}
	if uint64(len(s.Data)) != uncompressed {
		return nil, 0, errors.Errorf("Section %s is %d bytes, header says %d", s.Name, len(s.Data), uncompressed)
	}
	return s, consumed, nil
}

// Notes is the content of the notes section, stored as YAML.
type Notes struct {
	Session     string            `yaml:"session"`
	Frame       uint32            `yaml:"frame"`
	CaptureTime string            `yaml:"captureTime"`
	Comments    map[string]string `yaml:"comments,omitempty"`
}

// NotesSection encodes n as an ASCII section.
func NotesSection(n Notes) (*Section, error) {
	data, err := yaml.Marshal(&n)
	if err != nil {
		return nil, errors.Wrap(err, "Encoding notes")
	}
	return NewSection(SectionNotes, data, ASCIIStored), nil
}

// Notes decodes the notes section, if present.
func (f *File) Notes() (Notes, bool, error) {
	var n Notes
	s := f.Section(SectionNotes)
	if s == nil {
		return n, false, nil
	}
	if err := yaml.Unmarshal(s.Data, &n); err != nil {
		return n, true, errors.Wrap(err, "Decoding notes")
	}
	return n, true, nil
}
