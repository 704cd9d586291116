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

package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/container"
	rerrors "github.com/logrange/range/pkg/utils/errors"
	"github.com/pkg/errors"
)

type (
	// BackfillState describes the state of Backfill
	BackfillState int

	// Backfill fetches historical records of a feed in bounded pages and puts
	// them into the buffer. The newest page is loaded by LoadInitial(), the
	// older ones by LoadOlder(). Backfill shares its lock with the buffer
	// owner, so it never holds the lock while waiting for the source.
	Backfill struct {
		lock   *sync.Mutex
		src    api.FeedSource
		filter *api.Filter
		buf    *container.Buffer
		ntfr   *notifier
		logger log4g.Logger
		limit  int

		state   BackfillState
		loaded  bool
		head    api.Sequence
		lastErr error
		closed  bool
		cancel  context.CancelFunc
	}
)

const (
	// BackfillIdle means no fetch is in progress
	BackfillIdle BackfillState = iota

	// BackfillFetching means a page request is in flight
	BackfillFetching

	// BackfillExhausted means no more history exists below the lowest
	// buffered record. It is a terminal state.
	BackfillExhausted
)

// DefaultPageLimit is used when no page limit is configured
const DefaultPageLimit = 100

func (s BackfillState) String() string {
	switch s {
	case BackfillIdle:
		return "IDLE"
	case BackfillFetching:
		return "FETCHING"
	case BackfillExhausted:
		return "EXHAUSTED"
	}
	return fmt.Sprintf("BackfillState(%d)", int(s))
}

func newBackfill(lock *sync.Mutex, src api.FeedSource, f *api.Filter, buf *container.Buffer, limit int, ntfr *notifier, logger log4g.Logger) *Backfill {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &Backfill{lock: lock, src: src, filter: f, buf: buf, limit: limit, ntfr: ntfr, logger: logger}
}

// LoadInitial fetches the newest page of the feed. On success the page seeds
// the buffer and the highest loaded sequence becomes Head(). It returns an
// error with ErrBackfillFailed cause if the page could not be fetched, the
// buffer is not changed then and the call could be repeated. The call is
// ignored if a fetch is in progress already.
func (b *Backfill) LoadInitial(ctx context.Context) error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return rerrors.ClosedState
	}
	if b.loaded {
		b.lock.Unlock()
		return errors.Wrapf(rerrors.WrongState, "the initial page is loaded already")
	}
	cctx, ok := b.startFetch(ctx)
	b.lock.Unlock()
	if !ok {
		return nil
	}

	req := api.PageRequest{Limit: b.limit}
	b.logger.Debug("Loading initial page ", req)
	recs, err := b.src.FetchPage(cctx, b.filter, req)

	b.lock.Lock()
	err = b.onPage(req, recs, err)
	b.lock.Unlock()
	b.ntfr.flush()
	return err
}

// LoadOlder fetches the page of records which are below the lowest buffered
// one. It must be called only after LoadInitial() succeeded, it panics
// otherwise. The call is no-op when a fetch is in progress or the history is
// exhausted.
func (b *Backfill) LoadOlder(ctx context.Context) error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return rerrors.ClosedState
	}
	if !b.loaded {
		b.lock.Unlock()
		panic("LoadOlder() must be called after LoadInitial() succeeded")
	}

	lowest, ok := b.buf.Lowest()
	if !ok && b.state == BackfillIdle {
		// nothing is buffered, so no edge to fetch below
		b.setExhausted()
		b.lock.Unlock()
		b.ntfr.flush()
		return nil
	}

	cctx, ok := b.startFetch(ctx)
	b.lock.Unlock()
	if !ok {
		return nil
	}

	req := api.PageRequest{Before: lowest, Limit: b.limit}
	b.logger.Debug("Loading older page ", req)
	recs, err := b.src.FetchPage(cctx, b.filter, req)

	b.lock.Lock()
	err = b.onPage(req, recs, err)
	b.lock.Unlock()
	b.ntfr.flush()
	return err
}

// State returns the current state
func (b *Backfill) State() BackfillState {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state
}

// Head returns the highest sequence of the initial page, or 0 if the
// initial page was empty or is not loaded yet.
func (b *Backfill) Head() api.Sequence {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.head
}

// Loaded returns whether the initial page is loaded
func (b *Backfill) Loaded() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.loaded
}

// close makes the controller to drop results of in-flight fetches. Must be
// called under the lock.
func (b *Backfill) close() {
	if b.closed {
		return
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// startFetch moves the controller to BackfillFetching. Returns false if the
// fetch must not be done. Must be called under the lock.
func (b *Backfill) startFetch(ctx context.Context) (context.Context, bool) {
	switch b.state {
	case BackfillFetching:
		b.logger.Debug("A fetch is in progress, the request is coalesced")
		return nil, false
	case BackfillExhausted:
		b.logger.Debug("The history is exhausted, nothing to fetch")
		return nil, false
	}
	b.state = BackfillFetching
	cctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	return cctx, true
}

// onPage applies the fetch result. Must be called under the lock.
func (b *Backfill) onPage(req api.PageRequest, recs []api.Record, err error) error {
	if b.closed {
		b.logger.Debug("The page for ", req, " arrived after close, dropping it")
		return rerrors.ClosedState
	}
	b.cancel()
	b.cancel = nil

	if err != nil {
		b.state = BackfillIdle
		failures.WithLabelValues(originBackfill).Inc()
		err = errors.Wrapf(ErrBackfillFailed, "could not fetch page %s for filter %s: %v", req, b.filter, err)
		b.lastErr = err
		b.logger.Warn("Backfill failure, err=", err)
		b.ntfr.post(Event{Type: EventBackfillFailed, Err: err})
		return err
	}
	b.lastErr = nil
	pagesFetched.Inc()

	if len(recs) > req.Limit {
		b.logger.Warn("The source returned ", len(recs), " records, but only ", req.Limit, " were requested.")
	}

	fetched := len(recs)
	recs = inRange(recs, 0, req.Before)
	if len(recs) < fetched {
		b.logger.Warn("The source returned ", fetched-len(recs), " records out of the requested range ", req, ", dropping them.")
	}

	n, isBelow := b.buf.Prepend(recs)
	if req.Before != 0 && !isBelow {
		b.logger.Debug("The page for ", req, " overlaps buffered records")
	}
	recordsAdded.WithLabelValues(originBackfill).Add(float64(n))
	recordsDropped.WithLabelValues(originBackfill).Add(float64(fetched - n))

	if !b.loaded {
		b.loaded = true
		b.head, _ = b.buf.Highest()
	}

	b.state = BackfillIdle
	if n > 0 {
		hi, _ := b.buf.Highest()
		b.ntfr.post(Event{Type: EventChanged, Seq: hi})
	}
	if fetched < req.Limit {
		b.setExhausted()
	}
	return nil
}

// setExhausted must be called under the lock
func (b *Backfill) setExhausted() {
	b.state = BackfillExhausted
	b.logger.Info("No more history for ", b.filter)
	lo, _ := b.buf.Lowest()
	b.ntfr.post(Event{Type: EventExhausted, Seq: lo})
}

// inRange returns records with lo < sequence < hi, hi == 0 means no upper bound.
// recs is returned as is when all records are in the range.
func inRange(recs []api.Record, lo, hi api.Sequence) []api.Record {
	in := func(r api.Record) bool {
		return r.Sequence > lo && (hi == 0 || r.Sequence < hi)
	}
	for i, r := range recs {
		if !in(r) {
			res := make([]api.Record, i, len(recs))
			copy(res, recs[:i])
			for _, r := range recs[i+1:] {
				if in(r) {
					res = append(res, r)
				}
			}
			return res
		}
	}
	return recs
}
