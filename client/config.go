// Copyright 2018-2019 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/fql"
	"github.com/logrange/lrfeed/pkg/source"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config struct contains the lrfeed client settings
type Config struct {
	// Source describes where the log lines are read from
	Source *source.Config `json:"source" yaml:"source"`

	// Filter is the feed filter in fql, e.g. `service="api" AND level>=WARN`
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`

	// PageLimit is the backfill page size
	PageLimit int `json:"pageLimit,omitempty" yaml:"pageLimit,omitempty"`

	// PollIntervalMs defines how often the tail printer checks the
	// consolidated records
	PollIntervalMs int `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`

	// HistoryFile is the viewer commands history file, empty value means
	// ~/.lrfeed_history
	HistoryFile string `json:"historyFile,omitempty" yaml:"historyFile,omitempty"`
}

//===================== config =====================

func NewDefaultConfig() *Config {
	return &Config{
		Source:         source.NewDefaultConfig(),
		PageLimit:      feed.DefaultPageLimit,
		PollIntervalMs: 200,
	}
}

// LoadCfgFromFile reads the config from JSON or YAML file. The format is
// chosen by the file extension.
func LoadCfgFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	return cfg, nil
}

// Apply overrides the settings by non-empty values of other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}

	if other.Source != nil {
		if c.Source == nil {
			c.Source = source.NewDefaultConfig()
		}
		c.Source.Apply(deepcopy.Copy(other.Source).(*source.Config))
	}
	if strings.TrimSpace(other.Filter) != "" {
		c.Filter = other.Filter
	}
	if other.PageLimit > 0 {
		c.PageLimit = other.PageLimit
	}
	if other.PollIntervalMs > 0 {
		c.PollIntervalMs = other.PollIntervalMs
	}
	if other.HistoryFile != "" {
		c.HistoryFile = other.HistoryFile
	}
}

func (c *Config) Check() error {
	if c.Source == nil {
		return fmt.Errorf("invalid config; source=%v, must be non-nil", c.Source)
	}
	if err := c.Source.Check(); err != nil {
		return err
	}
	if _, err := fql.Parse(c.Filter); err != nil {
		return errors.Wrapf(err, "invalid config; filter=%q", c.Filter)
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("invalid config; pageLimit=%d must be positive", c.PageLimit)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid config; pollIntervalMs=%d must be positive", c.PollIntervalMs)
	}
	return nil
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}
