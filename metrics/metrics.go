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

// Package metrics exports Prometheus counters for captures and replays.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rdcap"

var (
	chunksWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "chunks_written_total",
			Help:      "Chunks written to capture files. Broken down by chunk class.",
		},
		[]string{"class"},
	)

	captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Frame captures by outcome.",
		},
		[]string{"outcome"},
	)

	captureBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "bytes_total",
			Help:      "Bytes of capture files written.",
		},
	)

	replayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "duration_seconds",
			Help:      "Duration of ReplayLog calls. Broken down by full or partial replay.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"kind"},
	)

	lookupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "lookup_failures_total",
			Help:      "Resource lookups that found no live handle.",
		},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "readback_cache_total",
			Help:      "Readback cache lookups by result.",
		},
		[]string{"result"},
	)
)

var register sync.Once

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

// Register adds the collectors to Registry. It may be called any number of
// times.
func Register() *prometheus.Registry {
	register.Do(func() {
		Registry.MustRegister(chunksWritten, captures, captureBytes, replayDuration, lookupFailures, cacheResults)
	})
	return Registry
}

// ChunksWritten counts n chunks of the given class ("resource", "contents"
// or "frame").
func ChunksWritten(class string, n int) {
	chunksWritten.WithLabelValues(class).Add(float64(n))
}

// CaptureDone counts a finished capture of size bytes.
func CaptureDone(size int) {
	captures.WithLabelValues("written").Inc()
	captureBytes.Add(float64(size))
}

// CaptureAborted counts a capture that was discarded.
func CaptureAborted() {
	captures.WithLabelValues("aborted").Inc()
}

// ReplayDuration observes a replay that started at start.
func ReplayDuration(kind string, start time.Time) {
	replayDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// LookupFailure counts a failed resource lookup.
func LookupFailure() { lookupFailures.Inc() }

// CacheHit counts a readback cache lookup.
func CacheHit(hit bool) {
	if hit {
		cacheResults.WithLabelValues("hit").Inc()
	} else {
		cacheResults.WithLabelValues("miss").Inc()
	}
}
