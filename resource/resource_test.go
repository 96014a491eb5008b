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

package resource_test

import (
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	R, W := resource.FrameRefRead, resource.FrameRefWrite
	for _, test := range []struct {
		name   string
		uses   []resource.FrameRefType
		expect resource.FrameRefType
	}{
		{"read", []resource.FrameRefType{R}, resource.FrameRefReadOnly},
		{"write", []resource.FrameRefType{W}, resource.FrameRefReadAndWrite},
		{"read then write", []resource.FrameRefType{R, W}, resource.FrameRefReadBeforeWrite},
		{"write then read", []resource.FrameRefType{W, R}, resource.FrameRefReadAndWrite},
		{"sticky", []resource.FrameRefType{R, W, W, R}, resource.FrameRefReadBeforeWrite},
		{"partial write", []resource.FrameRefType{resource.FrameRefPartialWrite}, resource.FrameRefReadBeforeWrite},
		{"complete write", []resource.FrameRefType{resource.FrameRefCompleteWrite, R}, resource.FrameRefReadAndWrite},
		{"none keeps state", []resource.FrameRefType{R, resource.FrameRefNone}, resource.FrameRefReadOnly},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, existed := resource.FrameRefNone, false
			for _, u := range test.uses {
				got = resource.Compose(got, u, existed)
				existed = true
			}
			assert.Equal(t, test.expect, got)
		})
	}
	assert.True(t, resource.FrameRefReadBeforeWrite.NeedsInitialContents())
	assert.False(t, resource.FrameRefReadAndWrite.NeedsInitialContents())
}

func TestLiveMapping(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager(&resource.IDGen{})
	id, rec := m.Wrap(ctx, 0x42, gpu.KindBuffer)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)

	h, err := m.GetLiveHandle(id)
	require.NoError(t, err)
	assert.Equal(t, gpu.Handle(0x42), h)
	orig, ok := m.GetOriginalID(0x42)
	assert.True(t, ok)
	assert.Equal(t, id, orig)

	m.EraseLive(id)
	_, err = m.GetLiveHandle(id)
	assert.True(t, errors.Is(err, fault.ErrResourceLookupFailure))
	var lookup fault.LookupError
	require.True(t, errors.As(err, &lookup))
	assert.Equal(t, uint64(id), lookup.ID)
	assert.False(t, m.HasLive(id))
}

func TestRecordLifetime(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager(&resource.IDGen{})
	poolID, pool := m.Wrap(ctx, 1, gpu.KindCommandPool)
	cbID, cb := m.Wrap(ctx, 2, gpu.KindCommandBuffer)
	cb.AddParent(pool)
	assert.Equal(t, 2, pool.Refs())

	m.ReleaseRecord(poolID)
	assert.NotNil(t, m.GetResourceRecord(poolID), "child keeps the parent alive")
	m.MarkResourceFrameReferenced(cbID, resource.FrameRefRead)
	m.ReleaseRecord(cbID)
	assert.NotNil(t, m.GetResourceRecord(cbID), "frame reference keeps the record alive")
	m.ClearReferencedResources()
	assert.Nil(t, m.GetResourceRecord(cbID))
	assert.Nil(t, m.GetResourceRecord(poolID))
	assert.Equal(t, 0, m.Records())
}

func TestInsertReferencedChunks(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager(&resource.IDGen{})
	chunk := func(seq uint64) *serialise.Chunk { return &serialise.Chunk{Type: 1000, Sequence: seq} }
	_, mem := m.Wrap(ctx, 1, gpu.KindMemory)
	bufID, buf := m.Wrap(ctx, 2, gpu.KindBuffer)
	_, other := m.Wrap(ctx, 3, gpu.KindBuffer)
	mem.AddChunk(chunk(1))
	other.AddChunk(chunk(2))
	buf.AddChunk(chunk(3))
	buf.AddChunk(chunk(5))
	mem.AddChunk(chunk(4))
	buf.AddParent(mem)

	m.MarkResourceFrameReferenced(bufID, resource.FrameRefWrite)
	var seqs []uint64
	for _, c := range m.InsertReferencedChunks(false) {
		seqs = append(seqs, c.Sequence)
	}
	assert.Equal(t, []uint64{1, 3, 4, 5}, seqs)
	assert.True(t, buf.DataWritten())
	assert.Len(t, m.InsertReferencedChunks(true), 5)

	m.MarkUnwritten()
	assert.False(t, buf.DataWritten())
}

func TestDirtyAndNeeded(t *testing.T) {
	m := resource.NewManager(&resource.IDGen{})
	m.MarkDirty(1)
	m.MarkDirty(2)
	m.MarkPendingDirty(3)
	m.MarkResourceFrameReferenced(2, resource.FrameRefWrite)
	m.MarkResourceFrameReferenced(4, resource.FrameRefRead)
	m.MarkResourceFrameReferenced(5, resource.FrameRefWrite)

	assert.Equal(t, []resource.ID{1, 2}, m.Dirty())
	assert.Equal(t, []resource.Needed{
		{ID: 1, Written: true},
		{ID: 2, Written: true},
		{ID: 5, Written: true},
	}, m.InitialContentsNeeded())

	m.FlushPendingDirty()
	assert.True(t, m.IsDirty(3))
	m.MarkClean(3)
	assert.False(t, m.IsDirty(3))
}

type blob []byte

func (b blob) Size() uint64 { return uint64(len(b)) }

func TestInitialContents(t *testing.T) {
	m := resource.NewManager(nil)
	m.SetInitialContents(2, blob{1, 2})
	m.SetInitialContents(1, blob{1})
	assert.Equal(t, []resource.ID{1, 2}, m.InitialContentIDs())
	c, ok := m.GetInitialContents(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), c.Size())

	m.PruneInitialContents(map[resource.ID]bool{1: true})
	assert.Equal(t, []resource.ID{1}, m.InitialContentIDs())
	m.FreeInitialContents()
	assert.Empty(t, m.InitialContentIDs())
}

func TestArena(t *testing.T) {
	var a resource.Arena[string]
	x := a.Alloc("x")
	y := a.Alloc("y")
	v, ok := a.Get(y)
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	assert.True(t, a.Free(x))
	assert.False(t, a.Free(x), "double free")
	z := a.Alloc("z")
	assert.Equal(t, x.Index, z.Index, "freed index is reused")
	_, ok = a.Get(x)
	assert.False(t, ok, "stale slot")

	a.Reset()
	_, ok = a.Get(y)
	assert.False(t, ok)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, uint32(1), a.Resets())

	var seen []string
	a.Alloc("w")
	a.Each(func(_ resource.Slot, v string) { seen = append(seen, v) })
	assert.Equal(t, []string{"w"}, seen)
}

func TestIDGen(t *testing.T) {
	var g resource.IDGen
	a, b := g.Next(), g.Next()
	assert.True(t, b > a)
	assert.Equal(t, b, g.Last())
	assert.Equal(t, "ResID::2", b.String())
}
