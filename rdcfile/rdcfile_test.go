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

package rdcfile_test

import (
	"bytes"
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/rdcfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sample(t *testing.T) *rdcfile.File {
	f := rdcfile.New(7, "soft")
	f.Thumbnail = rdcfile.Thumbnail{Width: 2, Height: 1, Format: rdcfile.ThumbRGBA8, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	frame := bytes.Repeat([]byte("chunkdata"), 1000)
	f.SetSection(rdcfile.NewSection(rdcfile.SectionFrameCapture, frame, rdcfile.ZstdCompressed))
	notes, err := rdcfile.NotesSection(rdcfile.Notes{Session: "abc", Frame: 3})
	require.NoError(t, err)
	f.SetSection(notes)
	f.SetSection(rdcfile.NewSection(rdcfile.SectionResourceRenames, []byte{9, 9}, 0))
	return f
}

func TestRoundTrip(t *testing.T) {
	f := sample(t)
	buf := &bytes.Buffer{}
	require.NoError(t, rdcfile.Write(buf, f))

	got, err := rdcfile.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, f.Header, got.Header)
	require.Len(t, got.Sections, 3)
	for i := range f.Sections {
		assert.Equal(t, f.Sections[i], got.Sections[i])
	}
	assert.Equal(t, f.CaptureID(), got.CaptureID())

	notes, ok, err := got.Notes()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), notes.Frame)
	assert.Equal(t, "abc", notes.Session)
}

func TestCompressionShrinksFrame(t *testing.T) {
	f := sample(t)
	plain := &bytes.Buffer{}
	f.Sections[0].Flags = 0
	require.NoError(t, rdcfile.Write(plain, f))
	packed := &bytes.Buffer{}
	f.Sections[0].Flags = rdcfile.ZstdCompressed
	require.NoError(t, rdcfile.Write(packed, f))
	assert.Less(t, packed.Len(), plain.Len())
}

func TestVersionMismatch(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, rdcfile.Write(buf, sample(t)))
	data := buf.Bytes()
	for _, version := range []uint32{rdcfile.Version - 1, rdcfile.Version + 1} {
		bad := append([]byte(nil), data...)
		copy(bad[4:8], protowire.AppendFixed32(nil, version))
		_, err := rdcfile.Read(bytes.NewReader(bad))
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.ErrVersionIncompatible))
		var verr fault.VersionError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, uint64(version), verr.Got)
	}
}

func TestBadInput(t *testing.T) {
	_, err := rdcfile.Read(bytes.NewReader([]byte("NOPE00000000")))
	assert.Error(t, err)
	_, err = rdcfile.Read(bytes.NewReader([]byte("RD")))
	assert.Error(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, rdcfile.Write(buf, sample(t)))
	_, err = rdcfile.Read(bytes.NewReader(buf.Bytes()[:buf.Len()-5]))
	assert.Error(t, err, "truncated section")
}

func TestLZ4Unsupported(t *testing.T) {
	f := rdcfile.New(1, "soft")
	f.SetSection(rdcfile.NewSection(rdcfile.SectionFrameCapture, []byte{1}, rdcfile.LZ4Compressed))
	err := rdcfile.Write(&bytes.Buffer{}, f)
	assert.True(t, fault.Is(err, fault.ErrUnsupportedFeature))
}

func TestMissingFrame(t *testing.T) {
	f := rdcfile.New(1, "soft")
	_, err := f.FrameData()
	assert.Error(t, err)
}
