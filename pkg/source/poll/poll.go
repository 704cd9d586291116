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

// Package poll provides api.LiveHandle for the sources which can not push
// records, but can read records after a known sequence number. The
// subscription reads the source periodically and delivers new records to the
// listener.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/utils"
	rctx "github.com/logrange/range/pkg/context"
)

type (
	// Reader is implemented by the sources which can be polled
	Reader interface {
		// ReadAfter returns up to limit records matching f with sequence
		// greater than after, in ascending order.
		ReadAfter(ctx context.Context, f *api.Filter, after api.Sequence, limit int) ([]api.Record, error)
	}

	// Config defines the polling settings
	Config struct {
		// Interval is the pause between reads when no new records are found
		Interval time.Duration

		// Limit is the maximum number of records read at once
		Limit int
	}

	subscription struct {
		rdr    Reader
		filter *api.Filter
		lstnr  api.LiveListener
		cfg    Config
		pos    api.Sequence
		logger log4g.Logger

		stopCh chan struct{}
		done   chan struct{}
		once   sync.Once
	}
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultLimit    = 1000
)

// Subscribe starts polling rdr for records matching f with sequence greater
// than from. The listener gets OnReady() after the first successful read,
// OnError() if a read fails and OnComplete() after a batch with a terminal
// record. The polling stops then, or when the returned handle is closed.
func Subscribe(rdr Reader, f *api.Filter, from api.Sequence, l api.LiveListener, cfg Config) api.LiveHandle {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	s := &subscription{
		rdr:    rdr,
		filter: f,
		lstnr:  l,
		cfg:    cfg,
		pos:    from,
		logger: log4g.GetLogger("source.poll"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(rctx.WrapChannel(s.stopCh))
	return s
}

// Close stops the polling and waits until the polling goroutine is over.
// It must not be called from the listener methods, the feed consolidator
// closes it in background when asked to from there.
func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stopCh)
	})
	<-s.done
	return nil
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	s.logger.Debug("Polling ", s.filter, " after ", s.pos)

	ready := false
	for ctx.Err() == nil {
		recs, err := s.rdr.ReadAfter(ctx, s.filter, s.pos, s.cfg.Limit)
		if ctx.Err() != nil {
			break
		}

		if err != nil {
			s.logger.Warn("Could not read records after ", s.pos, ", err=", err)
			s.lstnr.OnError(err)
			return
		}

		if !ready {
			ready = true
			s.lstnr.OnReady()
		}

		if len(recs) == 0 {
			utils.Sleep(ctx, s.cfg.Interval)
			continue
		}

		s.lstnr.OnBatch(recs)
		s.pos = recs[len(recs)-1].Sequence
		for _, r := range recs {
			if r.IsTerminal() {
				s.logger.Debug("Terminal record ", r.Sequence, " is read, completing the subscription")
				s.lstnr.OnComplete()
				return
			}
		}

		if len(recs) < s.cfg.Limit {
			utils.Sleep(ctx, s.cfg.Interval)
		}
	}
	s.logger.Debug("Polling after ", s.pos, " is stopped")
}
