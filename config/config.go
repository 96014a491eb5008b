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

// Package config holds the settings of the capture, replay and server
// components. Settings are stored as YAML.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Log configures core/log.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Capture configures the capture side.
type Capture struct {
	// MaxChunkSize is the largest chunk payload a writer accepts.
	MaxChunkSize uint64 `yaml:"maxChunkSize"`
	// TriggerFrames lists frame numbers captured automatically on Present.
	TriggerFrames []uint32 `yaml:"triggerFrames"`
	// Compress is the frame section compression: "none" or "zstd".
	Compress          string `yaml:"compress"`
	CaptureCallstacks bool   `yaml:"captureCallstacks"`
	// RefAllResources writes every live resource into the capture, not just
	// the ones the frame references.
	RefAllResources bool `yaml:"refAllResources"`
}

// Replay configures the replay side.
type Replay struct {
	Backend      string `yaml:"backend"`
	CacheEntries int    `yaml:"cacheEntries"`
	Optimisation string `yaml:"optimisation"`
}

// Server configures the gRPC front end.
type Server struct {
	Address        string `yaml:"address"`
	MaxRecvMsgSize int    `yaml:"maxRecvMsgSize"`
}

// Config is the complete configuration.
type Config struct {
	Log     Log     `yaml:"log"`
	Capture Capture `yaml:"capture"`
	Replay  Replay  `yaml:"replay"`
	Server  Server  `yaml:"server"`
}

var (
	compressions  = map[string]bool{"none": true, "zstd": true}
	optimisations = map[string]bool{"none": true, "balanced": true, "fastest": true}
	levels        = map[string]bool{"debug": true, "info": true, "warning": true, "error": true, "fatal": true}
	formats       = map[string]bool{"text": true, "json": true}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "text"},
		Capture: Capture{
			MaxChunkSize: 64 << 20,
			Compress:     "zstd",
		},
		Replay: Replay{Backend: "soft", CacheEntries: 64, Optimisation: "balanced"},
		Server: Server{Address: "localhost:0", MaxRecvMsgSize: 1<<31 - 1},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "Reading config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "Parsing config")
	}
	return cfg, cfg.Validate()
}

// Validate checks every enumerated setting.
func (c Config) Validate() error {
	switch {
	case !levels[c.Log.Level]:
		return errors.Errorf("Unknown log level %q", c.Log.Level)
	case !formats[c.Log.Format]:
		return errors.Errorf("Unknown log format %q", c.Log.Format)
	case !compressions[c.Capture.Compress]:
		return errors.Errorf("Unknown compression %q", c.Capture.Compress)
	case !optimisations[c.Replay.Optimisation]:
		return errors.Errorf("Unknown replay optimisation %q", c.Replay.Optimisation)
	case c.Replay.CacheEntries <= 0:
		return errors.Errorf("Replay cache needs at least one entry, got %d", c.Replay.CacheEntries)
	case c.Capture.MaxChunkSize == 0:
		return errors.New("Capture maxChunkSize must not be zero")
	}
	return nil
}

// Trigger returns true if frame is listed in TriggerFrames.
func (c Capture) Trigger(frame uint32) bool {
	for _, f := range c.TriggerFrames {
		if f == frame {
			return true
		}
	}
	return false
}

// Save writes c to path as YAML.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "Encoding config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "Writing config")
}
