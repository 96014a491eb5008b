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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := Register()
	assert.Same(t, reg, Register())

	before := testutil.ToFloat64(chunksWritten.WithLabelValues("frame"))
	ChunksWritten("frame", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(chunksWritten.WithLabelValues("frame")))

	aborted := testutil.ToFloat64(captures.WithLabelValues("aborted"))
	CaptureAborted()
	assert.Equal(t, aborted+1, testutil.ToFloat64(captures.WithLabelValues("aborted")))

	CacheHit(true)
	LookupFailure()
	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rdcap_capture_chunks_written_total"])
	assert.True(t, names["rdcap_replay_lookup_failures_total"])
}

func TestHandler(t *testing.T) {
	LookupFailure()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rdcap_replay_lookup_failures_total")
}
