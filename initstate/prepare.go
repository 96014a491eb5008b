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

package initstate

import (
	"context"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Prepare snapshots the current contents of id. It returns nil for
// resources whose contents are held elsewhere, such as dense buffers whose
// memory is snapshotted instead.
func Prepare(ctx context.Context, env *Env, id resource.ID) (*Contents, error) {
	obj, ok := env.Tracker.Object(id)
	if !ok {
		return nil, errors.Errorf("Preparing unknown resource %v", id)
	}
	var c *Contents
	var err error
	switch d := obj.Desc.(type) {
	case *gpu.MemoryDesc:
		c, err = prepareMemory(ctx, env, id, *d)
	case *gpu.BufferDesc:
		if d.Sparse {
			c, err = prepareSparse(ctx, env, id, obj.Kind)
		}
	case *gpu.ImageDesc:
		if d.Sparse {
			c, err = prepareSparse(ctx, env, id, obj.Kind)
		} else if obj.Memory != resource.Null {
			c, err = prepareImage(ctx, env, id, *d)
		}
	default:
		if obj.Kind == gpu.KindDescriptorSet {
			if set, ok := env.Tracker.DescriptorSet(id); ok {
				c = &Contents{Type: TypeDescriptors, Kind: obj.Kind, Set: set.Clone()}
			}
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Preparing initial contents of %v", id)
	}
	if c != nil {
		log.D(ctx, "Prepared %v %v contents of %v (%s)", c.Type, obj.Kind, id, humanize.IBytes(uint64(len(c.Data))))
	}
	return c, nil
}

func prepareMemory(ctx context.Context, env *Env, id resource.ID, desc gpu.MemoryDesc) (*Contents, error) {
	mem, err := env.live(id)
	if err != nil {
		return nil, err
	}
	data, err := env.readMemory(ctx, mem, desc, 0, desc.Size)
	if err != nil {
		return nil, err
	}
	return &Contents{Type: TypeBlob, Kind: gpu.KindMemory, Data: data}, nil
}

// imageRegions returns one copy region per mip of every entry of layouts not
// in the undefined layout. Buffer offsets follow the image's storage order.
func imageRegions(desc gpu.ImageDesc, layouts *state.ImageState) []gpu.BufferImageCopy {
	var out []gpu.BufferImageCopy
	for _, e := range layouts.Entries() {
		if e.Layout == gpu.LayoutUndefined {
			continue
		}
		for m := e.Mips.Start; m < e.Mips.End; m++ {
			out = append(out, gpu.BufferImageCopy{
				BufferOffset: desc.SubresourceOffset(m, e.Layers.Start),
				Mip:          m,
				BaseLayer:    e.Layers.Start,
				LayerCount:   e.Layers.Len(),
			})
		}
	}
	return out
}

func prepareImage(ctx context.Context, env *Env, id resource.ID, desc gpu.ImageDesc) (*Contents, error) {
	img, err := env.live(id)
	if err != nil {
		return nil, err
	}
	cur, ok := env.Tracker.ImageState(id)
	if !ok {
		return nil, errors.Errorf("No layout table for %v", id)
	}
	layouts := cur.Clone()
	c := &Contents{Type: TypeBlob, Kind: gpu.KindImage, Layouts: layouts, Data: make([]byte, desc.Size())}
	regions := imageRegions(desc, layouts)
	if len(regions) == 0 {
		return c, nil
	}

	var to, from []gpu.ImageBarrier
	for _, e := range layouts.Entries() {
		if e.Layout == gpu.LayoutUndefined {
			continue
		}
		to = append(to, gpu.ImageBarrier{Image: img, Range: e.Range(), OldLayout: e.Layout, NewLayout: gpu.LayoutTransferSrc})
		from = append(from, gpu.ImageBarrier{Image: img, Range: e.Range(), OldLayout: gpu.LayoutTransferSrc, NewLayout: e.Layout})
	}
	t := &temps{env: env}
	defer t.release(ctx)
	buf, mem, err := t.staging(ctx, desc.Size())
	if err != nil {
		return nil, err
	}
	if err := env.run(ctx,
		&gpu.PipelineBarrier{Images: to},
		&gpu.CopyImageToBuffer{Src: img, Layout: gpu.LayoutTransferSrc, Dst: buf, Regions: regions},
		&gpu.PipelineBarrier{Images: from},
	); err != nil {
		return nil, err
	}
	if err := env.Driver.ReadMemory(ctx, mem, 0, c.Data); err != nil {
		return nil, err
	}
	return c, nil
}

func prepareSparse(ctx context.Context, env *Env, id resource.ID, kind gpu.ObjectKind) (*Contents, error) {
	table, ok := env.Tracker.Sparse(id)
	if !ok {
		return nil, errors.Errorf("No page table for %v", id)
	}
	c := &Contents{Type: TypeSparse, Kind: kind, Table: table.Snapshot()}
	if kind == gpu.KindImage {
		if cur, ok := env.Tracker.ImageState(id); ok {
			c.Layouts = cur.Clone()
		}
	}
	whole := map[resource.ID][]byte{}
	for _, p := range c.Table.Pages() {
		pg, _ := c.Table.Lookup(p)
		data, ok := whole[pg.Memory]
		if !ok {
			desc, ok := env.Tracker.MemoryDesc(pg.Memory)
			if !ok {
				return nil, errors.Errorf("Page %d of %v is bound to unknown memory %v", p, id, pg.Memory)
			}
			mem, err := env.live(pg.Memory)
			if err != nil {
				return nil, err
			}
			if data, err = env.readMemory(ctx, mem, desc, 0, desc.Size); err != nil {
				return nil, err
			}
			whole[pg.Memory] = data
		}
		if pg.Offset+gpu.SparsePageSize > uint64(len(data)) {
			return nil, errors.Errorf("Page %d of %v is bound past the end of %v", p, id, pg.Memory)
		}
		c.Data = append(c.Data, data[pg.Offset:pg.Offset+gpu.SparsePageSize]...)
	}
	return c, nil
}

// Create returns zero-filled contents for a resource that needs initial
// contents but has none stored.
func Create(ctx context.Context, env *Env, id resource.ID, layouts *state.ImageState) (*Contents, error) {
	obj, ok := env.Tracker.Object(id)
	if !ok {
		return nil, errors.Errorf("Creating initial contents of unknown resource %v", id)
	}
	switch d := obj.Desc.(type) {
	case *gpu.MemoryDesc:
		return &Contents{Type: TypeBlob, Kind: obj.Kind, Data: make([]byte, d.Size)}, nil
	case *gpu.BufferDesc:
		if d.Sparse {
			table, _ := env.Tracker.Sparse(id)
			return zeroSparse(obj.Kind, table, nil), nil
		}
	case *gpu.ImageDesc:
		if layouts == nil {
			layouts = state.NewImageState(d.MipLevels, d.ArrayLayers, gpu.LayoutGeneral)
		}
		if d.Sparse {
			table, _ := env.Tracker.Sparse(id)
			return zeroSparse(obj.Kind, table, layouts.Clone()), nil
		}
		if obj.Memory != resource.Null {
			return &Contents{Type: TypeBlob, Kind: obj.Kind, Data: make([]byte, d.Size()), Layouts: layouts.Clone()}, nil
		}
	default:
		if set, ok := env.Tracker.DescriptorSet(id); ok {
			return &Contents{Type: TypeDescriptors, Kind: obj.Kind, Set: state.NewDescriptorSet(set.Layout)}, nil
		}
	}
	log.D(ctx, "No initial contents needed for %v %v", obj.Kind, id)
	return nil, nil
}

func zeroSparse(kind gpu.ObjectKind, table *state.SparseTable, layouts *state.ImageState) *Contents {
	c := &Contents{Type: TypeSparse, Kind: kind, Layouts: layouts, Table: state.NewSparseTable(0)}
	if table != nil {
		c.Table = table.Snapshot()
		c.Data = make([]byte, uint64(len(c.Table.Pages()))*gpu.SparsePageSize)
	}
	return c
}
