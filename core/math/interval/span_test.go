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

package interval_test

import (
	"testing"

	"github.com/baldurk/renderdoc-sub014/core/math/interval"
	"github.com/stretchr/testify/assert"
)

func TestU32Cut(t *testing.T) {
	s := interval.U32Span{Start: 0, End: 8}
	below, inside, above := s.Cut(interval.U32Span{Start: 2, End: 5})
	assert.Equal(t, interval.U32Span{Start: 0, End: 2}, below)
	assert.Equal(t, interval.U32Span{Start: 2, End: 5}, inside)
	assert.Equal(t, interval.U32Span{Start: 5, End: 8}, above)

	below, inside, above = s.Cut(interval.U32Span{Start: 0, End: 16})
	assert.True(t, below.Empty())
	assert.Equal(t, s, inside)
	assert.True(t, above.Empty())

	below, inside, _ = s.Cut(interval.U32Span{Start: 10, End: 12})
	assert.Equal(t, s, below)
	assert.True(t, inside.Empty())
}

func TestU64SpanListMerge(t *testing.T) {
	for _, test := range []struct {
		name   string
		merges []interval.U64Span
		expect interval.U64SpanList
	}{
		{"single", []interval.U64Span{{10, 20}}, interval.U64SpanList{{10, 20}}},
		{"disjoint", []interval.U64Span{{30, 40}, {10, 20}}, interval.U64SpanList{{10, 20}, {30, 40}}},
		{"adjacent", []interval.U64Span{{10, 20}, {20, 30}}, interval.U64SpanList{{10, 30}}},
		{"overlap many", []interval.U64Span{{0, 5}, {10, 15}, {20, 25}, {3, 22}}, interval.U64SpanList{{0, 25}}},
		{"inside", []interval.U64Span{{0, 100}, {10, 20}}, interval.U64SpanList{{0, 100}}},
		{"empty ignored", []interval.U64Span{{5, 5}}, nil},
	} {
		t.Run(test.name, func(t *testing.T) {
			var l interval.U64SpanList
			for _, m := range test.merges {
				l.Merge(m)
			}
			assert.Equal(t, test.expect, l)
		})
	}
}

func TestU64SpanListRemove(t *testing.T) {
	l := interval.U64SpanList{{0, 10}, {20, 30}}
	l.Remove(interval.U64Span{Start: 5, End: 25})
	assert.Equal(t, interval.U64SpanList{{0, 5}, {25, 30}}, l)
	l.Remove(interval.U64Span{Start: 1, End: 2})
	assert.Equal(t, interval.U64SpanList{{0, 1}, {2, 5}, {25, 30}}, l)
	assert.Equal(t, uint64(9), l.Total())
	assert.Equal(t, interval.U64SpanList{{2, 4}}, l.Intersect(interval.U64Span{Start: 2, End: 4}))
}
