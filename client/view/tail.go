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

package view

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/model"
	"github.com/logrange/lrfeed/pkg/utils"
)

type (
	// TailConfig defines the tail printer settings
	TailConfig struct {
		// Filter defines the feed
		Filter *api.Filter

		// Follow makes the printer follow the live records after the history
		// is printed
		Follow bool

		// Format is the record format, DefaultFormat is used if empty
		Format string

		// PollInterval defines how often the printer checks the consolidated
		// records. It is also the delay before re-attaching a dropped feed.
		PollInterval time.Duration
	}

	// eventsQueue collects the consolidator events for the printing loop
	eventsQueue struct {
		lock   sync.Mutex
		events []feed.Event
		sigCh  chan struct{}
	}
)

var tailLogger = log4g.GetLogger("view.tail")

// Tail prints the first page of history of the feed to w. If cfg.Follow is
// set, it prints live records until the feed is completed or ctx is closed.
// The consolidator is stopped when Tail returns.
func Tail(ctx context.Context, c *feed.Consolidator, cfg TailConfig, w io.Writer) error {
	fp := defaultFormatParser
	if cfg.Format != "" {
		var err error
		if fp, err = model.NewFormatParser(cfg.Format); err != nil {
			return err
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}

	eq := newEventsQueue()
	defer c.AddListener(eq.onEvent)()
	defer c.Stop()

	p := newPrinter(w, fp)
	err := c.Start(ctx, cfg.Filter)
	if err != nil && !c.State().Started {
		return err
	}
	p.printNew(c)
	if !cfg.Follow {
		return nil
	}

	tckr := time.NewTicker(cfg.PollInterval)
	defer tckr.Stop()
	for {
		for _, ev := range eq.take() {
			switch ev.Type {
			case feed.EventPossibleGap:
				p.printNew(c)
				p.notice("records after %d could be missed", ev.Seq)
			case feed.EventLiveFailed:
				tailLogger.Warn("The live feed failed, err=", ev.Err)
			}
		}
		p.printNew(c)

		st := c.State()
		switch st.Live {
		case feed.LiveCompleted:
			p.printNew(c)
			p.notice("the feed is completed")
			return nil
		case feed.LiveDetached:
			// the feed was dropped or could not be attached, trying again
			if utils.Sleep(ctx, cfg.PollInterval) {
				if err := c.Attach(ctx); err != nil {
					tailLogger.Warn("Could not attach the live feed, err=", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-eq.sigCh:
		case <-tckr.C:
		}
	}
}

func newEventsQueue() *eventsQueue {
	return &eventsQueue{sigCh: make(chan struct{}, 1)}
}

func (eq *eventsQueue) onEvent(ev feed.Event) {
	if ev.Type != feed.EventChanged {
		eq.lock.Lock()
		eq.events = append(eq.events, ev)
		eq.lock.Unlock()
	}
	select {
	case eq.sigCh <- struct{}{}:
	default:
	}
}

func (eq *eventsQueue) take() []feed.Event {
	eq.lock.Lock()
	defer eq.lock.Unlock()
	res := eq.events
	eq.events = nil
	return res
}
