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

package resource

import (
	"context"
	"sort"
	"sync"

	"github.com/baldurk/renderdoc-sub014/core/fault"
	"github.com/baldurk/renderdoc-sub014/core/log"
	"github.com/baldurk/renderdoc-sub014/gpu"
	"github.com/baldurk/renderdoc-sub014/serialise"
)

// InitialContents is a snapshot of a resource taken at the start of a frame.
type InitialContents interface {
	// Size returns the serialized size of the snapshot in bytes.
	Size() uint64
}

// Needed is one entry of the list of resources whose initial state matters
// to the frame. Written is false when the frame only reads the resource.
type Needed struct {
	ID      ID
	Written bool
}

// Serialise implements serialise.Serialisable.
func (n *Needed) Serialise(s *serialise.Serialiser) {
	n.ID.Serialise(s)
	s.Bool(&n.Written)
}

// Manager is the registry of records and live handles.
type Manager struct {
	gen *IDGen

	mu           sync.RWMutex
	records      map[ID]*Record
	live         map[ID]gpu.Handle
	original     map[gpu.Handle]ID
	frameRefs    map[ID]FrameRefType
	dirty        map[ID]struct{}
	pendingDirty map[ID]struct{}
	initial      map[ID]InitialContents
}

// NewManager returns an empty manager. gen may be nil on the replay side,
// where IDs come from the log.
func NewManager(gen *IDGen) *Manager {
	return &Manager{
		gen:          gen,
		records:      map[ID]*Record{},
		live:         map[ID]gpu.Handle{},
		original:     map[gpu.Handle]ID{},
		frameRefs:    map[ID]FrameRefType{},
		dirty:        map[ID]struct{}{},
		pendingDirty: map[ID]struct{}{},
		initial:      map[ID]InitialContents{},
	}
}

// Wrap assigns a new ID to a native object, installs the mapping and creates
// its record.
func (m *Manager) Wrap(ctx context.Context, native gpu.Handle, kind gpu.ObjectKind) (ID, *Record) {
	id := m.gen.Next()
	m.AddLive(id, native)
	rec := m.AddResourceRecord(id, kind)
	log.D(ctx, "Wrapped %v 0x%x as %v", kind, uint64(native), id)
	return id, rec
}

// AddResourceRecord creates the record for id. An existing record is
// returned unchanged.
func (m *Manager) AddResourceRecord(id ID, kind gpu.ObjectKind) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r
	}
	r := newRecord(id, kind)
	m.records[id] = r
	return r
}

// GetResourceRecord returns the record for id, or nil.
func (m *Manager) GetResourceRecord(id ID) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id]
}

// ReleaseRecord drops one reference to the record of id. When the last
// reference goes the record is removed and its parents released in turn.
func (m *Manager) ReleaseRecord(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		m.release(r)
	}
}

func (m *Manager) release(r *Record) {
	if r.refs.Add(-1) > 0 {
		return
	}
	if m.records[r.ID] == r {
		delete(m.records, r.ID)
	}
	for _, p := range r.Parents() {
		m.release(p)
	}
}

// Records returns the number of live records.
func (m *Manager) Records() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// AddLive maps id to the live handle h.
func (m *Manager) AddLive(id ID, h gpu.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.live[id]; ok {
		delete(m.original, old)
	}
	m.live[id] = h
	m.original[h] = id
}

// GetLiveHandle returns the live handle for id. A missing mapping is a
// fault.LookupError; a zero handle is never returned without an error.
func (m *Manager) GetLiveHandle(id ID) (gpu.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.live[id]
	if !ok || h == gpu.Null {
		return gpu.Null, fault.LookupError{ID: uint64(id)}
	}
	return h, nil
}

// GetOriginalID returns the ID a live handle was created for.
func (m *Manager) GetOriginalID(h gpu.Handle) (ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.original[h]
	return id, ok
}

// HasLive returns true if id is mapped to a live handle.
func (m *Manager) HasLive(id ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.live[id]
	return ok
}

// EraseLive removes the mapping for id.
func (m *Manager) EraseLive(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.live[id]; ok {
		delete(m.original, h)
		delete(m.live, id)
	}
}

// LiveIDs returns every mapped ID in ascending order.
func (m *Manager) LiveIDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.live)
}

// MarkResourceFrameReferenced records a use of id in the current frame. The
// first reference takes a reference on the record.
func (m *Manager) MarkResourceFrameReferenced(id ID, use FrameRefType) {
	if id == Null {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.frameRefs[id]
	m.frameRefs[id] = Compose(old, use, existed)
	if !existed {
		if r, ok := m.records[id]; ok {
			r.AddRef()
		}
	}
}

// FrameRef returns the merged use of id in the current frame.
func (m *Manager) FrameRef(id ID) (FrameRefType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.frameRefs[id]
	return t, ok
}

// FrameReferenced returns every ID referenced by the current frame.
func (m *Manager) FrameReferenced() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.frameRefs)
}

// ClearReferencedResources forgets the frame references, releasing the
// record references they held.
func (m *Manager) ClearReferencedResources() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.frameRefs {
		if r, ok := m.records[id]; ok {
			m.release(r)
		}
	}
	m.frameRefs = map[ID]FrameRefType{}
}

// MarkDirty flags id as modified by the GPU outside of a capture.
func (m *Manager) MarkDirty(id ID) {
	if id == Null {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[id] = struct{}{}
}

// MarkPendingDirty flags id as modified during a capture. It becomes dirty
// at FlushPendingDirty.
func (m *Manager) MarkPendingDirty(id ID) {
	if id == Null {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingDirty[id] = struct{}{}
}

// FlushPendingDirty promotes every pending-dirty ID to dirty.
func (m *Manager) FlushPendingDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.pendingDirty {
		m.dirty[id] = struct{}{}
	}
	m.pendingDirty = map[ID]struct{}{}
}

// IsDirty returns true if id is dirty.
func (m *Manager) IsDirty(id ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dirty[id]
	return ok
}

// MarkClean removes id from the dirty set.
func (m *Manager) MarkClean(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirty, id)
}

// Dirty returns the dirty IDs in ascending order.
func (m *Manager) Dirty() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.dirty)
}

// MarkUnwritten clears the data-written flag of every record.
func (m *Manager) MarkUnwritten() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		r.written.Store(false)
	}
}

// InsertReferencedChunks returns the chunks of every frame referenced record
// (or every record, if all is set), parents included, sorted by sequence.
func (m *Manager) InsertReferencedChunks(all bool) []*serialise.Chunk {
	m.mu.RLock()
	var recs []*Record
	if all {
		for _, r := range m.records {
			recs = append(recs, r)
		}
	} else {
		for id := range m.frameRefs {
			if r, ok := m.records[id]; ok {
				recs = append(recs, r)
			}
		}
	}
	m.mu.RUnlock()

	bySeq := map[uint64]*serialise.Chunk{}
	seen := map[*Record]bool{}
	for _, r := range recs {
		r.insert(bySeq, seen)
	}
	out := make([]*serialise.Chunk, 0, len(bySeq))
	for _, c := range bySeq {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	for _, r := range recs {
		r.MarkDataWritten()
	}
	return out
}

// InitialContentsNeeded lists the resources whose pre-frame state the replay
// must establish: everything the frame writes, plus dirty resources the
// frame does not reference or only reads.
func (m *Manager) InitialContentsNeeded() []Needed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Needed
	for id, t := range m.frameRefs {
		if t.Written() {
			written := true
			if r, ok := m.records[id]; ok {
				written = r.DataWritten()
			}
			out = append(out, Needed{ID: id, Written: written})
		}
	}
	for id := range m.dirty {
		if t, ok := m.frameRefs[id]; !ok || t == FrameRefReadOnly {
			out = append(out, Needed{ID: id, Written: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetInitialContents stores the snapshot for id, replacing any previous one.
func (m *Manager) SetInitialContents(id ID, c InitialContents) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial[id] = c
}

// GetInitialContents returns the snapshot for id.
func (m *Manager) GetInitialContents(id ID) (InitialContents, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.initial[id]
	return c, ok
}

// InitialContentIDs returns the IDs that have a snapshot, ascending.
func (m *Manager) InitialContentIDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.initial)
}

// FreeInitialContents drops every snapshot.
func (m *Manager) FreeInitialContents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial = map[ID]InitialContents{}
}

// PruneInitialContents drops the snapshots of resources not in keep.
func (m *Manager) PruneInitialContents(keep map[ID]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.initial {
		if !keep[id] {
			delete(m.initial, id)
		}
	}
}

func sortedKeys[V any](m map[ID]V) []ID {
	out := make([]ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
