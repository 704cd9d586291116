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
	// LiveState describes the state of LiveAttach
	LiveState int

	// LiveAttach owns the live subscription of a feed and routes the pushed
	// records into the buffer. Every Attach() starts a new subscription
	// generation, notifications of older generations are ignored.
	LiveAttach struct {
		lock   *sync.Mutex
		src    api.FeedSource
		filter *api.Filter
		buf    *container.Buffer
		ntfr   *notifier
		logger log4g.Logger

		state   LiveState
		gen     uint64
		from    api.Sequence
		handle  api.LiveHandle
		cancel  context.CancelFunc
		dropped bool
		gap     bool
		gapSeq  api.Sequence
		lastErr error
		errGen  uint64
		closed  bool
	}

	// liveListener is the api.LiveListener of one subscription generation
	liveListener struct {
		la  *LiveAttach
		gen uint64
	}
)

const (
	// LiveDetached means there is no subscription
	LiveDetached LiveState = iota

	// LiveAttaching means the subscription is requested, but not confirmed yet
	LiveAttaching

	// LiveAttached means the subscription is established
	LiveAttached

	// LiveCompleted means the feed is over, it is a terminal state
	LiveCompleted
)

func (s LiveState) String() string {
	switch s {
	case LiveDetached:
		return "DETACHED"
	case LiveAttaching:
		return "ATTACHING"
	case LiveAttached:
		return "ATTACHED"
	case LiveCompleted:
		return "COMPLETED"
	}
	return fmt.Sprintf("LiveState(%d)", int(s))
}

func newLiveAttach(lock *sync.Mutex, src api.FeedSource, f *api.Filter, buf *container.Buffer, ntfr *notifier, logger log4g.Logger) *LiveAttach {
	return &LiveAttach{lock: lock, src: src, filter: f, buf: buf, ntfr: ntfr, logger: logger}
}

// Attach subscribes for records with sequence greater than from. It is
// allowed in LiveDetached state only. If the previous subscription was
// dropped because of an error, EventPossibleGap is sent with from, records
// produced between the drop and the new subscription could be missed if the
// source does not keep them.
//
// The returned error has ErrLiveAttachFailed cause if the source rejected
// the subscription.
func (la *LiveAttach) Attach(ctx context.Context, from api.Sequence) error {
	la.lock.Lock()
	if la.closed {
		la.lock.Unlock()
		return rerrors.ClosedState
	}
	switch la.state {
	case LiveCompleted:
		la.lock.Unlock()
		return ErrCompleted
	case LiveAttaching, LiveAttached:
		st := la.state
		la.lock.Unlock()
		return errors.Wrapf(rerrors.WrongState, "could not attach in %s state", st)
	}

	la.gen++
	gen := la.gen
	la.state = LiveAttaching
	la.from = from
	if la.dropped {
		la.dropped = false
		la.gap = true
		la.gapSeq = from
		la.logger.Warn("Re-attaching after a drop, records after ", from, " could be missed")
		la.ntfr.post(Event{Type: EventPossibleGap, Seq: from})
	}
	cctx, cancel := context.WithCancel(ctx)
	la.cancel = cancel
	la.lock.Unlock()
	la.ntfr.flush()

	la.logger.Debug("Subscribing from ", from)
	h, err := la.src.Subscribe(cctx, la.filter, from, &liveListener{la, gen})
	cancel()

	la.lock.Lock()
	if la.gen != gen || la.closed {
		// detached, closed or ended by a notification while subscribing
		closed := la.closed
		failed := la.errGen == gen
		err = la.lastErr
		la.lock.Unlock()
		if h != nil {
			releaseHandle(la.ntfr, h, la.logger)
		}
		if closed {
			return rerrors.ClosedState
		}
		if failed {
			// the subscription was dropped by the source before it returned
			return err
		}
		return nil
	}
	la.cancel = nil

	if err != nil {
		la.gen++
		la.setState(LiveDetached)
		err = la.failed(errors.Wrapf(ErrLiveAttachFailed, "could not subscribe from %d for filter %s: %v", from, la.filter, err))
		la.lock.Unlock()
		la.ntfr.flush()
		return err
	}
	la.handle = h
	la.lock.Unlock()
	return nil
}

// Detach closes the subscription and moves the controller to LiveDetached
// state. Nothing happens if there is no subscription.
func (la *LiveAttach) Detach() {
	la.lock.Lock()
	if la.state != LiveAttaching && la.state != LiveAttached {
		la.lock.Unlock()
		return
	}
	la.gen++
	la.setState(LiveDetached)
	h := la.release()
	la.lock.Unlock()

	la.logger.Info("Detached")
	// the source goroutine could wait for the lock in a notification, so
	// the handle must be closed without holding it
	if h != nil {
		releaseHandle(la.ntfr, h, la.logger)
	}
}

// PossibleGap returns whether the feed was re-attached after a drop, and the
// sequence after which records could be missed.
func (la *LiveAttach) PossibleGap() (api.Sequence, bool) {
	la.lock.Lock()
	defer la.lock.Unlock()
	return la.gapSeq, la.gap
}

// State returns the current state
func (la *LiveAttach) State() LiveState {
	la.lock.Lock()
	defer la.lock.Unlock()
	return la.state
}

// close ends the current subscription and makes the controller to ignore
// all notifications. It must be called under the lock, the returned handle
// must be closed by the caller after releasing the lock.
func (la *LiveAttach) close() api.LiveHandle {
	if la.closed {
		return nil
	}
	la.closed = true
	la.gen++
	if la.state != LiveCompleted {
		la.setState(LiveDetached)
	}
	return la.release()
}

// complete moves the controller to the terminal state. Must be called under the lock.
func (la *LiveAttach) complete() {
	if la.state == LiveCompleted {
		return
	}
	la.gen++
	la.setState(LiveCompleted)
	la.logger.Info("The feed is completed")
	hi, _ := la.buf.Highest()
	la.ntfr.post(Event{Type: EventCompleted, Seq: hi})
}

// release must be called under the lock
func (la *LiveAttach) release() api.LiveHandle {
	if la.cancel != nil {
		la.cancel()
		la.cancel = nil
	}
	h := la.handle
	la.handle = nil
	return h
}

// setState must be called under the lock
func (la *LiveAttach) setState(st LiveState) {
	if la.state == st {
		return
	}
	if la.state == LiveAttached {
		liveFeeds.Dec()
	}
	if st == LiveAttached {
		liveFeeds.Inc()
	}
	la.state = st
}

// failed must be called under the lock
func (la *LiveAttach) failed(err error) error {
	failures.WithLabelValues(originLive).Inc()
	la.lastErr = err
	la.logger.Warn("Live feed failure, err=", err)
	la.ntfr.post(Event{Type: EventLiveFailed, Err: err})
	return err
}

// current returns whether the notification belongs to the active
// subscription. Must be called under the lock.
func (la *LiveAttach) current(gen uint64) bool {
	return !la.closed && la.gen == gen && (la.state == LiveAttaching || la.state == LiveAttached)
}

// attached must be called under the lock
func (la *LiveAttach) attached() {
	if la.state == LiveAttaching {
		la.setState(LiveAttached)
		la.lastErr = nil
		la.logger.Info("Attached from ", la.from)
		la.ntfr.post(Event{Type: EventAttached, Seq: la.from})
	}
}

// ====================== liveListener ========================

func (ll *liveListener) OnReady() {
	la := ll.la
	la.lock.Lock()
	if la.current(ll.gen) {
		la.attached()
	}
	la.lock.Unlock()
	la.ntfr.flush()
}

func (ll *liveListener) OnBatch(recs []api.Record) {
	la := ll.la
	la.lock.Lock()
	if !la.current(ll.gen) {
		la.lock.Unlock()
		la.logger.Debug("Dropping batch of ", len(recs), " records from a stale subscription")
		return
	}
	la.attached()

	received := len(recs)
	recs = inRange(recs, la.from, 0)
	if len(recs) < received {
		la.logger.Warn("The source pushed ", received-len(recs), " records with sequence <= ", la.from, ", dropping them.")
	}

	n := la.buf.Insert(recs)
	recordsAdded.WithLabelValues(originLive).Add(float64(n))
	recordsDropped.WithLabelValues(originLive).Add(float64(received - n))
	if n > 0 {
		hi, _ := la.buf.Highest()
		la.ntfr.post(Event{Type: EventChanged, Seq: hi})
	}

	var h api.LiveHandle
	for _, r := range recs {
		if r.IsTerminal() {
			la.logger.Debug("Terminal record ", r.Sequence, " is received")
			h = la.release()
			la.complete()
			break
		}
	}
	la.lock.Unlock()
	la.ntfr.flush()

	if h != nil {
		// this is the source notification goroutine, the handle could wait for it
		go closeHandle(h, la.logger)
	}
}

func (ll *liveListener) OnComplete() {
	la := ll.la
	la.lock.Lock()
	if la.current(ll.gen) {
		la.release()
		la.complete()
	}
	la.lock.Unlock()
	la.ntfr.flush()
}

func (ll *liveListener) OnError(err error) {
	la := ll.la
	la.lock.Lock()
	if !la.current(ll.gen) {
		la.lock.Unlock()
		la.logger.Debug("Ignoring error of a stale subscription, err=", err)
		return
	}
	la.dropped = la.state == LiveAttached
	la.errGen = ll.gen
	la.gen++
	la.setState(LiveDetached)
	la.release()
	hi, _ := la.buf.Highest()
	la.failed(errors.Wrapf(ErrLiveAttachFailed, "the live feed is dropped, the highest buffered is %d: %v", hi, err))
	la.lock.Unlock()
	la.ntfr.flush()
}

// releaseHandle closes h in background if the caller could be a listener
// called from the source goroutine, closing the handle there would wait for
// the goroutine itself.
func releaseHandle(ntfr *notifier, h api.LiveHandle, logger log4g.Logger) {
	if ntfr.busy() {
		go closeHandle(h, logger)
		return
	}
	closeHandle(h, logger)
}

func closeHandle(h api.LiveHandle, logger log4g.Logger) {
	if err := h.Close(); err != nil {
		logger.Warn("Could not close live handle, err=", err)
	}
}
