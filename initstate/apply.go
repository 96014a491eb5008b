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
	"sort"

	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/resource"
	"github.com/baldurk/renderdoc-sub014/state"
	"github.com/pkg/errors"
)

var globalBarrier = &gpu.PipelineBarrier{Global: true}

// Apply restores the snapshot c to id. The caller is responsible for
// ordering later GPU work after it; ApplyAll does so.
func Apply(ctx context.Context, env *Env, id resource.ID, c *Contents) error {
	obj, ok := env.Tracker.Object(id)
	if !ok {
		return errors.Errorf("Applying initial contents to unknown resource %v", id)
	}
	var err error
	switch c.Type {
	case TypeBlob:
		switch d := obj.Desc.(type) {
		case *gpu.MemoryDesc:
			err = applyMemory(ctx, env, id, *d, c)
		case *gpu.ImageDesc:
			err = applyImage(ctx, env, id, *d, c)
		default:
			err = errors.Errorf("Blob contents for %v", obj.Kind)
		}
	case TypeSparse:
		err = applySparse(ctx, env, id, c)
	case TypeDescriptors:
		err = applyDescriptors(ctx, env, id, c)
	default:
		err = errors.Errorf("Unknown contents type %v", c.Type)
	}
	return errors.Wrapf(err, "Applying initial contents of %v", id)
}

func applyMemory(ctx context.Context, env *Env, id resource.ID, desc gpu.MemoryDesc, c *Contents) error {
	mem, err := env.live(id)
	if err != nil {
		return err
	}
	if uint64(len(c.Data)) != desc.Size {
		return errors.Errorf("Snapshot of %d bytes for memory of %d bytes", len(c.Data), desc.Size)
	}
	return env.writeMemory(ctx, mem, desc, 0, c.Data)
}

func applyImage(ctx context.Context, env *Env, id resource.ID, desc gpu.ImageDesc, c *Contents) error {
	img, err := env.live(id)
	if err != nil {
		return err
	}
	if c.Layouts == nil || uint64(len(c.Data)) != desc.Size() {
		return errors.New("Image snapshot does not match the image")
	}
	cur, ok := env.Tracker.ImageState(id)
	if !ok {
		return errors.Errorf("No layout table for %v", id)
	}
	regions := imageRegions(desc, c.Layouts)
	if len(regions) == 0 {
		return env.run(ctx, &gpu.PipelineBarrier{Images: env.resetLayouts(id, img, c.Layouts)})
	}

	t := &temps{env: env}
	defer t.release(ctx)
	buf, mem, err := t.staging(ctx, desc.Size())
	if err != nil {
		return err
	}
	if err := env.Driver.WriteMemory(ctx, mem, 0, c.Data); err != nil {
		return err
	}
	var to []gpu.ImageBarrier
	for _, e := range cur.Entries() {
		to = append(to, gpu.ImageBarrier{Image: img, Range: e.Range(), OldLayout: e.Layout, NewLayout: gpu.LayoutTransferDst})
	}
	env.Tracker.RestoreLayouts(map[resource.ID]*state.ImageState{
		id: state.NewImageState(desc.MipLevels, desc.ArrayLayers, gpu.LayoutTransferDst),
	})
	return env.run(ctx,
		&gpu.PipelineBarrier{Images: to},
		&gpu.CopyBufferToImage{Src: buf, Dst: img, Layout: gpu.LayoutTransferDst, Regions: regions},
		&gpu.PipelineBarrier{Images: env.resetLayouts(id, img, c.Layouts)},
	)
}

// LiveSparseBinds translates page tables given in ID form to live handles.
// Binds referring to memory with no live mapping are dropped and logged.
func LiveSparseBinds(ctx context.Context, m *resource.Manager, binds []gpu.SparseBindInfo) ([]gpu.SparseBindInfo, error) {
	out := make([]gpu.SparseBindInfo, 0, len(binds))
	for _, b := range binds {
		res, err := m.GetLiveHandle(resource.ID(b.Resource))
		if err != nil {
			return nil, err
		}
		live := gpu.SparseBindInfo{Resource: res}
		for _, mb := range b.Binds {
			if mb.Memory != gpu.Null {
				mem, err := m.GetLiveHandle(resource.ID(mb.Memory))
				if err != nil {
					log.W(ctx, "Dropping sparse bind of %v to %v: %v", resource.ID(b.Resource), resource.ID(mb.Memory), err)
					continue
				}
				mb.Memory = mem
			}
			live.Binds = append(live.Binds, mb)
		}
		out = append(out, live)
	}
	return out, nil
}

func sparseBindInfo(id resource.ID, table *state.SparseTable) gpu.SparseBindInfo {
	info := gpu.SparseBindInfo{Resource: gpu.Handle(id)}
	for _, b := range table.Binds() {
		info.Binds = append(info.Binds, gpu.SparseMemoryBind{
			ResourceOffset: b.ResourceOffset, Size: b.Size,
			Memory: gpu.Handle(b.Memory), MemoryOffset: b.MemoryOffset,
		})
	}
	return info
}

func applySparse(ctx context.Context, env *Env, id resource.ID, c *Contents) error {
	if c.Table == nil {
		return errors.New("Sparse snapshot has no page table")
	}
	pages := c.Table.Pages()
	if uint64(len(c.Data)) != uint64(len(pages))*gpu.SparsePageSize {
		return errors.Errorf("Sparse snapshot has %d bytes for %d pages", len(c.Data), len(pages))
	}
	idForm := []gpu.SparseBindInfo{sparseBindInfo(id, c.Table)}
	live, err := LiveSparseBinds(ctx, env.Manager, idForm)
	if err != nil {
		return err
	}
	if err := env.Cmds.FlushQ(ctx); err != nil {
		return err
	}
	if err := env.Driver.BindSparse(ctx, env.Driver.Queue(), live, gpu.Null); err != nil {
		return err
	}
	if err := env.Tracker.BindSparse(idForm); err != nil {
		return err
	}
	for i, p := range pages {
		pg, _ := c.Table.Lookup(p)
		desc, ok := env.Tracker.MemoryDesc(pg.Memory)
		if !ok {
			continue
		}
		mem, err := env.live(pg.Memory)
		if err != nil {
			continue
		}
		page := c.Data[uint64(i)*gpu.SparsePageSize : uint64(i+1)*gpu.SparsePageSize]
		if err := env.writeMemory(ctx, mem, desc, pg.Offset, page); err != nil {
			return err
		}
	}
	if c.Layouts != nil {
		img, err := env.live(id)
		if err != nil {
			return err
		}
		if barriers := env.resetLayouts(id, img, c.Layouts); len(barriers) > 0 {
			return env.run(ctx, &gpu.PipelineBarrier{Images: barriers})
		}
	}
	return nil
}

func applyDescriptors(ctx context.Context, env *Env, id resource.ID, c *Contents) error {
	if _, err := env.live(id); err != nil {
		return err
	}
	var writes []gpu.DescriptorWrite
	for _, w := range c.Set.Writes(gpu.Handle(id)) {
		w := w
		if err := gpu.Remap(&w, func(h gpu.Handle) (gpu.Handle, error) { return env.live(resource.ID(h)) }); err != nil {
			log.W(ctx, "Skipping descriptor %d[%d] of %v: %v", w.Binding, w.ArrayElement, id, err)
			continue
		}
		writes = append(writes, w)
	}
	if err := env.Driver.UpdateDescriptorSets(ctx, writes, nil); err != nil {
		return err
	}
	env.Tracker.SetDescriptorSet(id, c.Set.Clone())
	return nil
}

// ApplyAll restores every snapshot in contents, then moves every image in
// layouts without a snapshot to its recorded layout. Global barriers order
// the uploads after earlier work and before any later work.
func ApplyAll(ctx context.Context, env *Env, contents map[resource.ID]*Contents, layouts map[resource.ID]*state.ImageState) error {
	if err := env.run(ctx, globalBarrier); err != nil {
		return err
	}
	ids := make([]resource.ID, 0, len(contents))
	for id := range contents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := Apply(ctx, env, id, contents[id]); err != nil {
			return err
		}
	}

	var barriers []gpu.ImageBarrier
	ids = ids[:0]
	for id := range layouts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if c, ok := contents[id]; ok && c.Layouts != nil {
			continue
		}
		img, err := env.live(id)
		if err != nil {
			continue
		}
		barriers = append(barriers, env.resetLayouts(id, img, layouts[id])...)
	}
	return env.run(ctx, &gpu.PipelineBarrier{Global: true, Images: barriers})
}
