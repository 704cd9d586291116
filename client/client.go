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

// Package client contains the lrfeed client configuration and the wiring of
// the components the views work with.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/linker"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/fql"
	"github.com/logrange/lrfeed/pkg/source"
)

type (
	// Feeds creates consolidators over the configured source
	Feeds interface {
		// NewConsolidator returns new consolidator, which is not started
		NewConsolidator() *feed.Consolidator

		// Filter parses fql. Empty string returns the configured filter.
		Filter(fql string) (*api.Filter, error)

		// Appender returns the source appender
		Appender() api.Appender

		// PollInterval returns how often views check the consolidated records
		PollInterval() time.Duration
	}

	feeds struct {
		Config *Config       `inject:"clientConfig"`
		Source source.Source `inject:""`

		logger log4g.Logger
	}

	// App holds the components of one client process
	App struct {
		injector *linker.Injector
		Config   *Config
		Feeds    Feeds
	}
)

// NewFeeds creates the Feeds component
func NewFeeds() Feeds {
	fs := new(feeds)
	fs.logger = log4g.GetLogger("client.feeds")
	return fs
}

// Init is a part of linker.Initializer
func (fs *feeds) Init(ctx context.Context) error {
	fs.logger.Info("Initializing with source ", fs.Source)
	return nil
}

func (fs *feeds) NewConsolidator() *feed.Consolidator {
	return feed.NewConsolidator(fs.Source, feed.Config{PageLimit: fs.Config.PageLimit})
}

func (fs *feeds) Filter(q string) (*api.Filter, error) {
	if q == "" {
		q = fs.Config.Filter
	}
	return fql.Parse(q)
}

func (fs *feeds) Appender() api.Appender {
	return fs.Source
}

func (fs *feeds) PollInterval() time.Duration {
	return time.Duration(fs.Config.PollIntervalMs) * time.Millisecond
}

// NewApp checks the config, creates the source and initializes the
// components. Shutdown() must be called to release the source.
func NewApp(ctx context.Context, cfg *Config) (app *App, err error) {
	if err = cfg.Check(); err != nil {
		return nil, err
	}

	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, err
	}

	log := log4g.GetLogger("client")
	log.Info("Starting with config:", cfg)

	app = new(App)
	app.Config = cfg
	app.Feeds = NewFeeds()
	app.injector = linker.New()
	app.injector.SetLogger(log4g.GetLogger("injector"))
	app.injector.Register(
		linker.Component{Name: "clientConfig", Value: cfg},
		linker.Component{Name: "", Value: src},
		linker.Component{Name: "", Value: app.Feeds},
	)

	// the injector panics if a component could not be initialized
	defer func() {
		if r := recover(); r != nil {
			app = nil
			err = fmt.Errorf("could not initialize components: %v", r)
		}
	}()
	app.injector.Init(ctx)
	return app, nil
}

// Shutdown releases the components
func (a *App) Shutdown() {
	a.injector.Shutdown()
}
