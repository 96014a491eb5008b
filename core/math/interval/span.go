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

// Package interval contains half open interval types and the list algorithms
// used to track subresource ranges and dirty byte ranges.
package interval

import "sort"

// U32Span is a half open interval that includes the lower bound, but not the
// upper. It is used for mip level and array layer ranges.
type U32Span struct {
	Start uint32 // the value at which the interval begins
	End   uint32 // the next value not included in the interval.
}

// Len returns the number of values in the span.
func (s U32Span) Len() uint32 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Empty returns true if the span contains no values.
func (s U32Span) Empty() bool { return s.End <= s.Start }

// Contains returns true if v is inside the span.
func (s U32Span) Contains(v uint32) bool { return s.Start <= v && v < s.End }

// Covers returns true if o is entirely inside s.
func (s U32Span) Covers(o U32Span) bool { return s.Start <= o.Start && o.End <= s.End }

// Overlaps returns true if the two spans share at least one value.
func (s U32Span) Overlaps(o U32Span) bool { return s.Start < o.End && o.Start < s.End }

// Intersect returns the shared part of s and o.
func (s U32Span) Intersect(o U32Span) U32Span {
	r := U32Span{Start: max32(s.Start, o.Start), End: min32(s.End, o.End)}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Cut splits s at the bounds of o, returning the part of s below o, the part
// inside o and the part above o. Any of the three may be empty.
func (s U32Span) Cut(o U32Span) (below, inside, above U32Span) {
	inside = s.Intersect(o)
	if inside.Empty() {
		return s, inside, U32Span{}
	}
	below = U32Span{Start: s.Start, End: inside.Start}
	above = U32Span{Start: inside.End, End: s.End}
	return below, inside, above
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// U64Span is a half open byte interval.
type U64Span struct {
	Start uint64 // the value at which the interval begins
	End   uint64 // the next value not included in the interval.
}

// U64Range is an interval specified by a beginning and size.
type U64Range struct {
	First uint64 // the first value in the interval
	Count uint64 // the count of values in the interval
}

// Range converts a U64Span to a U64Range
func (s U64Span) Range() U64Range { return U64Range{First: s.Start, Count: s.End - s.Start} }

// Span converts a U64Range to a U64Span
func (r U64Range) Span() U64Span { return U64Span{Start: r.First, End: r.First + r.Count} }

// U64SpanList is a sorted list of non-overlapping, non-adjacent spans.
type U64SpanList []U64Span

// Merge adds span to the list, joining it with any span it overlaps or
// touches.
func (l *U64SpanList) Merge(span U64Span) {
	if span.End <= span.Start {
		return
	}
	list := *l
	// first span whose end reaches span.Start
	lo := sort.Search(len(list), func(i int) bool { return list[i].End >= span.Start })
	// first span starting beyond span.End
	hi := sort.Search(len(list), func(i int) bool { return list[i].Start > span.End })
	if lo < hi {
		if list[lo].Start < span.Start {
			span.Start = list[lo].Start
		}
		if list[hi-1].End > span.End {
			span.End = list[hi-1].End
		}
	}
	out := make(U64SpanList, 0, len(list)-(hi-lo)+1)
	out = append(out, list[:lo]...)
	out = append(out, span)
	out = append(out, list[hi:]...)
	*l = out
}

// Remove cuts span out of the list, trimming or splitting spans it overlaps.
func (l *U64SpanList) Remove(span U64Span) {
	if span.End <= span.Start {
		return
	}
	out := make(U64SpanList, 0, len(*l)+1)
	for _, s := range *l {
		if s.End <= span.Start || span.End <= s.Start {
			out = append(out, s)
			continue
		}
		if s.Start < span.Start {
			out = append(out, U64Span{Start: s.Start, End: span.Start})
		}
		if span.End < s.End {
			out = append(out, U64Span{Start: span.End, End: s.End})
		}
	}
	*l = out
}

// Intersect returns the parts of the list that lie inside span.
func (l U64SpanList) Intersect(span U64Span) U64SpanList {
	var out U64SpanList
	for _, s := range l {
		if s.End <= span.Start || span.End <= s.Start {
			continue
		}
		if s.Start < span.Start {
			s.Start = span.Start
		}
		if s.End > span.End {
			s.End = span.End
		}
		out = append(out, s)
	}
	return out
}

// Total returns the number of values covered by the list.
func (l U64SpanList) Total() uint64 {
	total := uint64(0)
	for _, s := range l {
		total += s.End - s.Start
	}
	return total
}
