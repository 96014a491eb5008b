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

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log: {level: debug}
capture:
  triggerFrames: [3, 5]
  compress: none
replay: {cacheEntries: 8}
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep their defaults")
	assert.Equal(t, "none", cfg.Capture.Compress)
	assert.Equal(t, 8, cfg.Replay.CacheEntries)
	assert.Equal(t, "soft", cfg.Replay.Backend)
	assert.True(t, cfg.Capture.Trigger(5))
	assert.False(t, cfg.Capture.Trigger(4))
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"level", "log: {level: loud}"},
		{"format", "log: {format: xml}"},
		{"compress", "capture: {compress: lz4}"},
		{"cache", "replay: {cacheEntries: 0}"},
		{"optimisation", "replay: {optimisation: reckless}"},
		{"syntax", "log: ["},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdcap.yaml")
	want := Default()
	want.Capture.TriggerFrames = []uint32{2}
	want.Server.Address = "localhost:9000"
	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
