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

// Package resource virtualizes object identity. Every wrapped object gets a
// process-unique ID, and the Manager maps IDs to native handles in both
// directions, tracks which resources a frame touches and holds their
// initial contents.
package resource

import (
	"fmt"
	"sync/atomic"

	"github.com/baldurk/renderdoc-sub014/serialise"
)

// ID identifies a resource across capture and replay.
type ID uint64

// Null is the invalid ID.
const Null ID = 0

func (id ID) String() string { return fmt.Sprintf("ResID::%d", uint64(id)) }

// Serialise reads or writes the ID without handle mapping.
func (id *ID) Serialise(s *serialise.Serialiser) {
	v := uint64(*id)
	s.U64(&v)
	*id = ID(v)
}

// IDGen hands out monotonically increasing IDs. Each capture context owns
// its own generator.
type IDGen struct {
	last atomic.Uint64
}

// Next returns a new ID.
func (g *IDGen) Next() ID { return ID(g.last.Add(1)) }

// Last returns the most recently generated ID.
func (g *IDGen) Last() ID { return ID(g.last.Load()) }
