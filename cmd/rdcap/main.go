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


// The rdcap command captures frames of the built-in workloads and inspects
// and replays capture files.
package main

import (
	"context"
	"os"

	"github.com/baldurk/renderdoc-sub014/config"
	"github.com/baldurk/renderdoc-sub014/core/log"
	_ "github.com/baldurk/renderdoc-sub014/gpu/soft" // registers the soft backend
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// verbs is filled in by the init function of each verb's file.
var verbs []*cli.Command

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.F(context.Background(), true, "%v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rdcap",
		Usage: "capture and replay GPU frames",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file", EnvVars: []string{"RDCAP_CONFIG"}, TakesFile: true},
			&cli.StringFlag{Name: "log-level", Usage: "Override the configured log level (debug, info, warning, error)"},
			&cli.StringFlag{Name: "log-format", Usage: "Override the configured log format (text, json)"},
		},
		Before:   setup,
		Commands: verbs,
	}
}

// setup loads the configuration and installs the logger.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if l := c.String("log-level"); l != "" {
		cfg.Log.Level = l
	}
	if f := c.String("log-format"); f != "" {
		cfg.Log.Format = f
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return errors.Wrap(err, "Setting up logging")
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configOf(c *cli.Context) config.Config {
	if cfg, ok := c.App.Metadata[configKey].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// captureArg returns the single capture file argument of a verb.
func captureArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("%s expects one capture file, got %d arguments", c.Command.Name, c.NArg())
	}
	return c.Args().First(), nil
}
