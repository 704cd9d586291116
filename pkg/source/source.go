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

// Package source contains the factory which creates feed sources by their
// configuration.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/source/file"
	"github.com/logrange/lrfeed/pkg/source/inmem"
	"github.com/logrange/lrfeed/pkg/source/sqlite"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type (
	// Type names the source implementation
	Type string

	// Config describes a source. Params are decoded into the config of the
	// source type, unknown params are an error.
	Config struct {
		Type   Type                   `json:"type" yaml:"type"`
		Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	}

	// Source is the feed source which lines could be appended to
	Source interface {
		api.FeedSource
		api.Appender
	}

	// Initializer is implemented by sources which must be initialized before
	// use. The linker calls it for the registered components.
	Initializer interface {
		Init(ctx context.Context) error
	}

	// Shutdowner is implemented by sources which hold resources
	Shutdowner interface {
		Shutdown()
	}
)

const (
	TypeInMem  Type = "inmem"
	TypeFile   Type = "file"
	TypeSqlite Type = "sqlite"
)

// NewDefaultConfig returns the in-memory source config
func NewDefaultConfig() *Config {
	return &Config{Type: TypeInMem}
}

// Apply overrides the type and params by the non-empty values of other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.Type != "" && other.Type != c.Type {
		c.Type = other.Type
		c.Params = nil
	}
	for k, v := range other.Params {
		if c.Params == nil {
			c.Params = make(map[string]interface{})
		}
		c.Params[k] = v
	}
}

// Check validates the config, the params are decoded and checked as well
func (c *Config) Check() error {
	_, err := c.decode()
	return err
}

func (c *Config) String() string {
	return utils.ToJsonStr(c)
}

// New creates the source by the config. The returned source could implement
// Initializer and Shutdowner.
func New(cfg *Config) (Source, error) {
	tc, err := cfg.decode()
	if err != nil {
		return nil, err
	}

	switch c := tc.(type) {
	case *inmem.Config:
		return inmem.New(c), nil
	case *file.Config:
		return file.New(c), nil
	case *sqlite.Config:
		return sqlite.New(c), nil
	}
	panic(fmt.Sprintf("unexpected config %T", tc))
}

// decode returns checked config of the source type
func (c *Config) decode() (interface{ Check() error }, error) {
	var tc interface{ Check() error }
	switch Type(strings.ToLower(string(c.Type))) {
	case TypeInMem:
		tc = inmem.NewDefaultConfig()
	case TypeFile:
		tc = file.NewDefaultConfig()
	case TypeSqlite:
		tc = sqlite.NewDefaultConfig()
	default:
		return nil, fmt.Errorf("invalid config; unknown source type=%v, expected one of %s, %s, %s", c.Type,
			TypeInMem, TypeFile, TypeSqlite)
	}

	if len(c.Params) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           tc,
		})
		if err != nil {
			return nil, errors.Wrap(err, "could not create the params decoder")
		}
		if err := dec.Decode(c.Params); err != nil {
			return nil, errors.Wrapf(err, "invalid params for source type=%s", c.Type)
		}
	}

	if err := tc.Check(); err != nil {
		return nil, errors.Wrapf(err, "invalid params for source type=%s", c.Type)
	}
	return tc, nil
}
