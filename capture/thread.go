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

package capture

import (
	"context"
	"sync"

	"github.com/baldurk/renderdoc-sub014/serialise"
)

// Thread is the per-thread state of a capture. A Thread must only be used by
// one goroutine at a time; chunks it builds take no lock beyond the shared
// sequence counter.
type Thread struct {
	ID uint64
	w  *serialise.Writer
	// shared is set for the context's default thread, used by calls whose
	// context carries no Thread.
	shared sync.Mutex
}

type threadKeyTy string

const threadKey = threadKeyTy("captureThread")

// NewThread returns a new thread handle of c.
func (c *Context) NewThread() *Thread {
	c.threadMu.Lock()
	defer c.threadMu.Unlock()
	id := uint64(len(c.threads)) + 1
	t := &Thread{ID: id, w: c.seq.NewWriter(id)}
	c.threads = append(c.threads, t)
	return t
}

// WithThread attaches t to ctx. Calls made with the returned context append
// through t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey, t)
}

// ThreadFrom returns the thread attached to ctx, or nil.
func ThreadFrom(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey).(*Thread)
	return t
}

// thread returns the thread to append through and the function to call once
// the call is done.
func (c *Context) thread(ctx context.Context) (*Thread, func()) {
	if t := ThreadFrom(ctx); t != nil {
		return t, func() {}
	}
	c.main.shared.Lock()
	return c.main, c.main.shared.Unlock
}

// streams returns the frame chunks appended by every thread.
func (c *Context) streams() [][]*serialise.Chunk {
	c.threadMu.Lock()
	defer c.threadMu.Unlock()
	out := make([][]*serialise.Chunk, len(c.threads))
	for i, t := range c.threads {
		out[i] = t.w.Stream()
	}
	return out
}

func (c *Context) resetStreams() {
	c.threadMu.Lock()
	defer c.threadMu.Unlock()
	for _, t := range c.threads {
		t.w.Reset()
	}
}
