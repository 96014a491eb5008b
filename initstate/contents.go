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

// Package initstate snapshots the contents of resources when a frame capture
// starts and restores them before the frame is replayed.
package initstate

import (
	"context"
	"runtime"
	"sync"

	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/serialise"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Type is the variant of a snapshot.
type Type uint32

const (
	// TypeBlob is the plain bytes of a memory object or dense image.
	TypeBlob Type = iota + 1
	// TypeSparse is a page table and the bytes of every bound page.
	TypeSparse
	// TypeDescriptors is the bindings of a descriptor set.
	TypeDescriptors
)

func (t Type) String() string {
	switch t {
	case TypeBlob:
		return "Blob"
	case TypeSparse:
		return "Sparse"
	case TypeDescriptors:
		return "Descriptors"
	}
	return "Type<?>"
}

// Contents is the snapshot of one resource.
type Contents struct {
	Type Type
	Kind gpu.ObjectKind
	// Data holds the blob, or the bound pages of a sparse resource in page
	// order.
	Data []byte
	// Layouts is the layout table of images.
	Layouts *state.ImageState
	Table   *state.SparseTable
	Set     *state.DescriptorSet

	once    sync.Once
	encoded []byte
	err     error
}

var _ resource.InitialContents = (*Contents)(nil)

// Serialise implements serialise.Serialisable.
func (c *Contents) Serialise(s *serialise.Serialiser) {
	serialise.Enum(s, &c.Type)
	serialise.Enum(s, &c.Kind)
	s.Bytes(&c.Data)
	hasLayouts := c.Layouts != nil
	s.Bool(&hasLayouts)
	if hasLayouts {
		if s.Reading() {
			c.Layouts = &state.ImageState{}
		}
		c.Layouts.Serialise(s)
	}
	switch c.Type {
	case TypeSparse:
		if s.Reading() {
			c.Table = &state.SparseTable{}
		}
		c.Table.Serialise(s)
	case TypeDescriptors:
		if s.Reading() {
			c.Set = &state.DescriptorSet{}
		}
		c.Set.Serialise(s)
	}
}

// Encode serialises the snapshot once. Later calls return the cached
// encoding.
func (c *Contents) Encode() ([]byte, error) {
	c.once.Do(func() { c.encoded, c.err = serialise.Encode(c) })
	return c.encoded, c.err
}

// Size returns the exact serialized size of the snapshot.
func (c *Contents) Size() uint64 {
	data, _ := c.Encode()
	return uint64(len(data))
}

// GetSize returns the serialized size of c.
func GetSize(c resource.InitialContents) uint64 {
	if c == nil {
		return 0
	}
	return c.Size()
}

// EncodeAll encodes every snapshot in parallel.
func EncodeAll(ctx context.Context, all []*Contents) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, c := range all {
		c := c
		g.Go(func() error {
			_, err := c.Encode()
			return err
		})
	}
	return g.Wait()
}

// Serialise builds the InitialContents chunk for id. The payload is the id
// followed by the snapshot's cached encoding.
func Serialise(w *serialise.Writer, id resource.ID, c *Contents) (*serialise.Chunk, error) {
	data, err := c.Encode()
	if err != nil {
		return nil, errors.Wrapf(err, "Encoding initial contents of %v", id)
	}
	return w.Chunk(serialise.ChunkInitialContents, func(s *serialise.Serialiser) {
		id.Serialise(s)
		s.Rest(&data)
	})
}

// Read decodes an InitialContents chunk.
func Read(chunk *serialise.Chunk) (resource.ID, *Contents, error) {
	var id resource.ID
	var data []byte
	s := serialise.NewReader(chunk.Payload)
	id.Serialise(s)
	s.Rest(&data)
	if err := s.Err(); err != nil {
		return resource.Null, nil, errors.Wrap(err, "Decoding initial contents chunk")
	}
	c := &Contents{}
	if err := serialise.Decode(data, c); err != nil {
		return id, nil, errors.Wrapf(err, "Decoding initial contents of %v", id)
	}
	return id, c, nil
}
