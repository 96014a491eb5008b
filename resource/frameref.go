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

// FrameRefType describes how a frame uses a resource. Read, Write,
// PartialWrite and CompleteWrite are inputs; ReadOnly, ReadAndWrite and
// ReadBeforeWrite are the merged states.
type FrameRefType int

const (
	FrameRefNone FrameRefType = iota
	FrameRefRead
	FrameRefWrite
	FrameRefPartialWrite
	FrameRefCompleteWrite
	FrameRefReadOnly
	FrameRefReadAndWrite
	FrameRefReadBeforeWrite
)

var frameRefNames = [...]string{
	"None", "Read", "Write", "PartialWrite", "CompleteWrite", "ReadOnly", "ReadAndWrite", "ReadBeforeWrite",
}

func (t FrameRefType) String() string {
	if t >= 0 && int(t) < len(frameRefNames) {
		return frameRefNames[t]
	}
	return "FrameRef<?>"
}

// Compose merges a new use into the existing state. existed is false for
// the first use in the frame.
//
// A partial write means the old contents survive the write, so it counts as
// a read before the write. A complete write is an ordinary write.
func Compose(old, use FrameRefType, existed bool) FrameRefType {
	switch use {
	case FrameRefPartialWrite:
		use = FrameRefReadBeforeWrite
	case FrameRefCompleteWrite:
		use = FrameRefWrite
	}
	if !existed {
		switch use {
		case FrameRefRead:
			return FrameRefReadOnly
		case FrameRefWrite:
			return FrameRefReadAndWrite
		}
		return use
	}
	switch {
	case use == FrameRefNone:
		return old
	case use == FrameRefReadBeforeWrite:
		return FrameRefReadBeforeWrite
	case old == FrameRefNone:
		if use == FrameRefRead || use == FrameRefReadOnly {
			return FrameRefReadOnly
		}
		return FrameRefReadAndWrite
	case old == FrameRefReadOnly && (use == FrameRefWrite || use == FrameRefReadAndWrite):
		return FrameRefReadBeforeWrite
	}
	return old
}

// NeedsInitialContents returns true if the frame observes the contents the
// resource had before the frame started.
func (t FrameRefType) NeedsInitialContents() bool {
	return t == FrameRefReadBeforeWrite || t == FrameRefReadOnly
}

// Written returns true if the frame writes the resource.
func (t FrameRefType) Written() bool {
	return t != FrameRefReadOnly && t != FrameRefNone
}
