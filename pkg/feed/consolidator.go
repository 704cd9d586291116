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

	"github.com/google/uuid"
	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/container"
	rerrors "github.com/logrange/range/pkg/utils/errors"
	"github.com/pkg/errors"
)

type (
	// Config contains the consolidator settings
	Config struct {
		// PageLimit defines the number of records requested by one page fetch.
		// DefaultPageLimit is used if it is not positive
		PageLimit int
	}

	// Consolidator merges the historical pages and the live records of one
	// feed into the ordered, duplicate-free list of records. Each view owns
	// its own Consolidator.
	//
	// The buffer and both controllers are guarded by one lock, which is never
	// held while waiting for the source. Every Start() creates a new
	// generation of the buffer and the controllers, Stop() closes them, so
	// results which arrive after Stop() are dropped.
	Consolidator struct {
		id     string
		logger log4g.Logger
		src    api.FeedSource
		cfg    Config
		ntfr   *notifier

		lock   sync.Mutex
		filter *api.Filter
		buf    *container.Buffer
		bf     *Backfill
		la     *LiveAttach

		// startErr keeps the last failure of Start()
		startErr error
	}

	// State describes the consolidator state
	State struct {
		// Started is true between successful Start() and Stop()
		Started bool
		Filter  *api.Filter

		Backfill BackfillState
		Live     LiveState

		// Len is the number of buffered records
		Len int

		// Lowest and Highest are the buffer bounds, 0 if the buffer is empty
		Lowest  api.Sequence
		Highest api.Sequence

		// ContiguousLow and ContiguousHigh define the maximal gap-free run of
		// sequences ending at Highest
		ContiguousLow  api.Sequence
		ContiguousHigh api.Sequence

		// PossibleGap is true when the live feed was re-attached after a drop.
		// Records with sequence greater than GapAfter could be missed.
		PossibleGap bool
		GapAfter    api.Sequence

		// BackfillErr and LiveErr contain the last failures, they are reset by
		// the next successful operation of the same kind
		BackfillErr error
		LiveErr     error
	}
)

// NewConsolidator returns new Consolidator which reads the feeds from src
func NewConsolidator(src api.FeedSource, cfg Config) *Consolidator {
	if src == nil {
		panic("the feed source must not be nil")
	}
	c := new(Consolidator)
	c.id = uuid.New().String()
	c.logger = log4g.GetLogger("feed.consolidator").WithId("{" + c.id + "}").(log4g.Logger)
	c.src = src
	c.cfg = cfg
	if c.cfg.PageLimit <= 0 {
		c.cfg.PageLimit = DefaultPageLimit
	}
	c.ntfr = newNotifier()
	return c
}

// Id returns the consolidator identifier, which is used in logs
func (c *Consolidator) Id() string {
	return c.id
}

// Start loads the newest page of the feed described by f and then attaches
// the live feed from the highest loaded sequence. The live feed is not
// attached, but marked completed, if f has the upper time bound or the newest
// record is terminal.
//
// If the initial page could not be loaded, the error with ErrBackfillFailed
// cause is returned and the consolidator stays stopped, so Start() could be
// called again. If the live feed could not be attached, the error with
// ErrLiveAttachFailed cause is returned, but the consolidator is started and
// Attach() could be used for the next try.
//
// Start() returns an error with rerrors.WrongState cause if the consolidator
// is started already. Stop() must be called before starting another feed.
func (c *Consolidator) Start(ctx context.Context, f *api.Filter) error {
	if f == nil {
		f = &api.Filter{}
	}
	flt := *f
	flt.Levels = append([]string(nil), f.Levels...)

	c.lock.Lock()
	if c.bf != nil {
		c.lock.Unlock()
		return errors.Wrapf(rerrors.WrongState, "the consolidator is started already for %s", c.filter)
	}
	c.filter = &flt
	c.startErr = nil
	c.buf = container.NewBuffer()
	c.bf = newBackfill(&c.lock, c.src, c.filter, c.buf, c.cfg.PageLimit, c.ntfr, c.logger)
	c.la = newLiveAttach(&c.lock, c.src, c.filter, c.buf, c.ntfr, c.logger)
	bf, la := c.bf, c.la
	c.lock.Unlock()

	c.logger.Info("Starting for ", c.filter)
	if err := bf.LoadInitial(ctx); err != nil {
		c.lock.Lock()
		if c.bf == bf {
			c.reset()
			c.startErr = err
		}
		c.lock.Unlock()
		return err
	}

	c.lock.Lock()
	if c.bf != bf {
		c.lock.Unlock()
		return rerrors.ClosedState
	}
	head := bf.head
	last, ok := c.buf.HighestRecord()
	if !flt.OpenEnded() || (ok && last.IsTerminal()) {
		la.complete()
		c.lock.Unlock()
		c.ntfr.flush()
		return nil
	}
	c.lock.Unlock()

	return la.Attach(ctx, head)
}

// LoadOlder loads the page of records below the lowest buffered one. It
// returns ErrNotStarted if the initial page is not loaded. The call is no-op
// if another page is being loaded or the history is exhausted.
func (c *Consolidator) LoadOlder(ctx context.Context) error {
	c.lock.Lock()
	bf := c.bf
	ok := bf != nil && bf.loaded
	c.lock.Unlock()
	if !ok {
		return ErrNotStarted
	}
	return bf.LoadOlder(ctx)
}

// Attach attaches the live feed from the highest buffered sequence. It is
// used after the live feed failure or Detach(). It returns ErrCompleted if the
// feed is completed already.
func (c *Consolidator) Attach(ctx context.Context) error {
	c.lock.Lock()
	if c.bf == nil || !c.bf.loaded {
		c.lock.Unlock()
		return ErrNotStarted
	}
	la := c.la
	from, _ := c.buf.Highest()
	c.lock.Unlock()
	return la.Attach(ctx, from)
}

// Detach closes the live feed subscription, if any. Buffered records stay
// available.
func (c *Consolidator) Detach() {
	c.lock.Lock()
	la := c.la
	c.lock.Unlock()
	if la != nil {
		la.Detach()
	}
}

// Snapshot returns the buffered records in ascending order. It never waits
// for the source. The result is nil if the consolidator is not started.
func (c *Consolidator) Snapshot() []api.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.buf == nil {
		return nil
	}
	return c.buf.Snapshot()
}

// Last returns up to limit newest buffered records in ascending order
func (c *Consolidator) Last(limit int) []api.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.buf == nil {
		return nil
	}
	return c.buf.Last(limit)
}

// RangeBelow returns up to limit buffered records with sequence less than
// seq in ascending order
func (c *Consolidator) RangeBelow(seq api.Sequence, limit int) []api.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.buf == nil {
		return nil
	}
	return c.buf.RangeBelow(seq, limit)
}

// RangeAbove returns up to limit buffered records with sequence greater than
// seq in ascending order
func (c *Consolidator) RangeAbove(seq api.Sequence, limit int) []api.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.buf == nil {
		return nil
	}
	return c.buf.RangeAbove(seq, limit)
}

// State returns the current state of the consolidator
func (c *Consolidator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	var st State
	if c.bf == nil {
		st.BackfillErr = c.startErr
		return st
	}
	st.Started = c.bf.loaded
	st.Filter = c.filter
	st.Backfill = c.bf.state
	st.BackfillErr = c.bf.lastErr
	st.Live = c.la.state
	st.LiveErr = c.la.lastErr
	st.PossibleGap = c.la.gap
	st.GapAfter = c.la.gapSeq
	st.Len = c.buf.Len()
	st.Lowest, _ = c.buf.Lowest()
	st.Highest, _ = c.buf.Highest()
	st.ContiguousLow, st.ContiguousHigh, _ = c.buf.Contiguous()
	return st
}

// Stop detaches the live feed, cancels in-flight requests and discards the
// buffered records. Stop is idempotent.
func (c *Consolidator) Stop() {
	c.lock.Lock()
	if c.bf == nil {
		c.lock.Unlock()
		return
	}
	h := c.reset()
	c.lock.Unlock()

	if h != nil {
		releaseHandle(c.ntfr, h, c.logger)
	}
	c.logger.Info("Stopped")
}

// AddListener registers l for the consolidator events. The returned function
// removes the listener. Listeners survive Stop() and Start().
func (c *Consolidator) AddListener(l Listener) func() {
	return c.ntfr.add(l)
}

func (c *Consolidator) String() string {
	st := c.State()
	return fmt.Sprintf("{id=%s, filter=%s, backfill=%s, live=%s, len=%d, lowest=%d, highest=%d}", c.id, st.Filter,
		st.Backfill, st.Live, st.Len, st.Lowest, st.Highest)
}

// reset closes the current generation. Must be called under the lock, the
// returned handle must be closed after releasing the lock.
func (c *Consolidator) reset() api.LiveHandle {
	c.bf.close()
	h := c.la.close()
	c.bf = nil
	c.la = nil
	c.buf = nil
	c.filter = nil
	return h
}
