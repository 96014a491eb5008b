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

// Slot addresses one entry of an Arena. A slot goes stale when its entry is
// freed or the arena is reset.
type Slot struct {
	Index      uint32
	Generation uint32
}

type arenaEntry[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Arena owns the children of a pool object. Children are freed one at a time
// or all at once with Reset.
type Arena[T any] struct {
	entries []arenaEntry[T]
	free    []uint32
	counter uint32
	resets  uint32
}

// Alloc stores v and returns its slot.
func (a *Arena[T]) Alloc(v T) Slot {
	a.counter++
	e := arenaEntry[T]{value: v, gen: a.counter, live: true}
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.entries[idx] = e
		return Slot{Index: idx, Generation: e.gen}
	}
	a.entries = append(a.entries, e)
	return Slot{Index: uint32(len(a.entries) - 1), Generation: e.gen}
}

// Get returns the value in s if the slot is still valid.
func (a *Arena[T]) Get(s Slot) (T, bool) {
	if int(s.Index) >= len(a.entries) {
		var zero T
		return zero, false
	}
	e := a.entries[s.Index]
	if !e.live || e.gen != s.Generation {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Free releases s. It returns false for a stale slot.
func (a *Arena[T]) Free(s Slot) bool {
	if _, ok := a.Get(s); !ok {
		return false
	}
	var zero T
	a.entries[s.Index] = arenaEntry[T]{value: zero}
	a.free = append(a.free, s.Index)
	return true
}

// Reset frees every entry. Slots handed out before the reset are stale.
func (a *Arena[T]) Reset() {
	a.free = a.free[:0]
	for i := range a.entries {
		a.entries[i] = arenaEntry[T]{}
		a.free = append(a.free, uint32(i))
	}
	a.resets++
}

// Resets returns how many times the arena was reset.
func (a *Arena[T]) Resets() uint32 { return a.resets }

// Len returns the number of live entries.
func (a *Arena[T]) Len() int { return len(a.entries) - len(a.free) }

// Each calls f for every live entry in index order.
func (a *Arena[T]) Each(f func(Slot, T)) {
	for i, e := range a.entries {
		if e.live {
			f(Slot{Index: uint32(i), Generation: e.gen}, e.value)
		}
	}
}
