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
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/container"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newTestConsolidator(src *testSource, limit int) (*Consolidator, *eventsCollector) {
	c := NewConsolidator(src, Config{PageLimit: limit})
	ec := &eventsCollector{}
	c.AddListener(ec.onEvent)
	return c, ec
}

func TestConsolidatorScenario(t *testing.T) {
	src := newTestSource(1, 2, 3)
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()

	err := c.Start(ctx, &api.Filter{Origin: api.Origin{Service: "api"}})
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seqsOf(c.Snapshot()))
	assert.Equal(t, LiveAttached, c.State().Live)

	sub := src.lastSub()
	if sub == nil || sub.from != 3 {
		t.Fatal("expecting subscription from 3, but sub=", sub)
	}
	sub.push(4)
	assert.Equal(t, []int{1, 2, 3, 4}, seqsOf(c.Snapshot()))

	assert.NoError(t, c.LoadOlder(ctx))
	assert.Equal(t, api.PageRequest{Before: 1, Limit: 3}, src.reqs[1])
	assert.Equal(t, BackfillExhausted, c.State().Backfill)
	assert.Equal(t, []int{1, 2, 3, 4}, seqsOf(c.Snapshot()))

	assert.Equal(t, []EventType{EventChanged, EventAttached, EventChanged, EventExhausted}, ec.types())
	c.Stop()
	assert.True(t, sub.isClosed())
}

func TestConsolidatorSeam(t *testing.T) {
	src := newTestSource(5, 6, 7)
	c, ec := newTestConsolidator(src, 100)
	assert.NoError(t, c.Start(context.Background(), &api.Filter{}))

	sub := src.lastSub()
	assert.Equal(t, api.Sequence(7), sub.from)

	sub.push(7, 8)
	assert.Equal(t, []int{5, 6, 7, 8}, seqsOf(c.Snapshot()))

	// records at or below the subscription start are not accepted
	before := len(ec.types())
	sub.push(2)
	assert.Equal(t, []int{5, 6, 7, 8}, seqsOf(c.Snapshot()))
	assert.Equal(t, before, len(ec.types()))

	// at-least-once delivery
	sub.push(9, 8, 9)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, seqsOf(c.Snapshot()))
}

func TestConsolidatorExhaustion(t *testing.T) {
	src := newTestSource(1, 2, 3, 4, 5)
	c, _ := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	assert.Equal(t, []int{3, 4, 5}, seqsOf(c.Snapshot()))
	assert.Equal(t, BackfillIdle, c.State().Backfill)

	assert.NoError(t, c.LoadOlder(ctx))
	assert.Equal(t, BackfillExhausted, c.State().Backfill)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seqsOf(c.Snapshot()))
	assert.Equal(t, 2, src.reqsCount())

	assert.NoError(t, c.LoadOlder(ctx))
	assert.Equal(t, 2, src.reqsCount())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seqsOf(c.Snapshot()))
}

func TestConsolidatorLowestNeverGrows(t *testing.T) {
	seqs := make([]int, 0, 200)
	for i := 1; i <= 200; i++ {
		seqs = append(seqs, i*2)
	}
	src := newTestSource(seqs...)
	c, _ := newTestConsolidator(src, 7)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	sub := src.lastSub()

	rnd := rand.New(rand.NewSource(11))
	lowest := c.State().Lowest
	next := 401
	for i := 0; i < 100; i++ {
		switch rnd.Intn(3) {
		case 0:
			assert.NoError(t, c.LoadOlder(ctx))
		case 1:
			sub.push(next, next+1)
			next += 2
		default:
			// redelivery of something old
			sub.push(rnd.Intn(next) + 1)
		}
		st := c.State()
		if st.Lowest > lowest {
			t.Fatal("lowest grows from ", lowest, " to ", st.Lowest, " at step ", i)
		}
		lowest = st.Lowest

		snap := c.Snapshot()
		for j := 1; j < len(snap); j++ {
			if snap[j-1].Sequence >= snap[j].Sequence {
				t.Fatal("the snapshot is not ordered at ", j, ": ", snap[j-1].Sequence, ", ", snap[j].Sequence)
			}
		}
	}
}

func TestConsolidatorCoalescedLoadOlder(t *testing.T) {
	src := newTestSource(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	c, _ := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	sub := src.lastSub()

	src.lock.Lock()
	src.hold = true
	src.lock.Unlock()

	done := make(chan error)
	go func() {
		done <- c.LoadOlder(ctx)
	}()
	pp := <-src.pending
	assert.Equal(t, api.PageRequest{Before: 8, Limit: 3}, pp.req)
	assert.Equal(t, BackfillFetching, c.State().Backfill)

	// the second request is coalesced
	assert.NoError(t, c.LoadOlder(ctx))
	assert.Equal(t, 2, src.reqsCount())

	// live records arrive while the page is in flight
	sub.push(11)
	assert.Equal(t, []int{8, 9, 10, 11}, seqsOf(c.Snapshot()))

	pp.resolve(recsOf(7, 6, 5), nil)
	assert.NoError(t, <-done)
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10, 11}, seqsOf(c.Snapshot()))
	assert.Equal(t, BackfillIdle, c.State().Backfill)
}

func TestConsolidatorStopDropsLatePage(t *testing.T) {
	src := newTestSource()
	src.hold = true
	c, _ := newTestConsolidator(src, 3)
	ctx := context.Background()

	res1 := make(chan error)
	go func() {
		res1 <- c.Start(ctx, &api.Filter{Origin: api.Origin{Service: "a"}})
	}()
	pp1 := <-src.pending
	c.Stop()
	assert.Nil(t, c.Snapshot())

	res2 := make(chan error)
	go func() {
		res2 <- c.Start(ctx, &api.Filter{Origin: api.Origin{Service: "b"}})
	}()
	pp2 := <-src.pending

	pp1.resolve(recsOf(100, 99), nil)
	err := <-res1
	if !IsClosed(err) {
		t.Fatal("expecting closed state error, but err=", err)
	}
	assert.Equal(t, 0, len(c.Snapshot()))

	pp2.resolve(recsOf(3, 2, 1), nil)
	assert.NoError(t, <-res2)
	assert.Equal(t, []int{1, 2, 3}, seqsOf(c.Snapshot()))
	assert.Equal(t, "b", c.State().Filter.Service)
	assert.Equal(t, 1, len(src.subs))
}

func TestConsolidatorStopDropsLateBatch(t *testing.T) {
	src := newTestSource(1, 2, 3)
	c, _ := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	sub := src.lastSub()

	c.Stop()
	c.Stop()
	assert.True(t, sub.isClosed())
	sub.push(10)
	assert.Nil(t, c.Snapshot())

	assert.NoError(t, c.Start(ctx, nil))
	sub.push(11)
	assert.Equal(t, []int{1, 2, 3}, seqsOf(c.Snapshot()))
}

func TestConsolidatorBackfillFailed(t *testing.T) {
	src := newTestSource(1, 2, 3, 4)
	src.pageErr = errors.New("connection refused")
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()

	err := c.Start(ctx, nil)
	if !IsBackfillFailed(err) {
		t.Fatal("expecting backfill failure, but err=", err)
	}
	st := c.State()
	assert.False(t, st.Started)
	assert.Equal(t, err, st.BackfillErr)
	assert.Nil(t, src.lastSub())
	_, ok := ec.find(EventBackfillFailed)
	assert.True(t, ok)

	src.pageErr = nil
	assert.NoError(t, c.Start(ctx, nil))
	assert.Equal(t, []int{2, 3, 4}, seqsOf(c.Snapshot()))

	src.pageErr = errors.New("timeout")
	err = c.LoadOlder(ctx)
	assert.True(t, IsBackfillFailed(err))
	assert.Equal(t, BackfillIdle, c.State().Backfill)
	assert.Equal(t, []int{2, 3, 4}, seqsOf(c.Snapshot()))

	src.pageErr = nil
	assert.NoError(t, c.LoadOlder(ctx))
	assert.Equal(t, []int{1, 2, 3, 4}, seqsOf(c.Snapshot()))
	assert.Nil(t, c.State().BackfillErr)
}

func TestConsolidatorLiveDropAndReattach(t *testing.T) {
	src := newTestSource(1, 2, 3)
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	sub1 := src.lastSub()
	sub1.push(4)

	sub1.l.OnError(errors.New("connection reset"))
	st := c.State()
	assert.Equal(t, LiveDetached, st.Live)
	assert.True(t, IsLiveAttachFailed(st.LiveErr))
	ev, ok := ec.find(EventLiveFailed)
	assert.True(t, ok)
	assert.True(t, IsLiveAttachFailed(ev.Err))

	assert.NoError(t, c.Attach(ctx))
	sub2 := src.lastSub()
	assert.Equal(t, api.Sequence(4), sub2.from)
	ev, ok = ec.find(EventPossibleGap)
	assert.True(t, ok)
	assert.Equal(t, api.Sequence(4), ev.Seq)
	st = c.State()
	assert.True(t, st.PossibleGap)
	assert.Equal(t, api.Sequence(4), st.GapAfter)
	assert.Nil(t, st.LiveErr)

	// stale subscription
	sub1.push(5)
	assert.Equal(t, []int{1, 2, 3, 4}, seqsOf(c.Snapshot()))
	sub2.push(5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seqsOf(c.Snapshot()))

	err := c.Attach(ctx)
	assert.True(t, IsWrongState(err))
}

func TestConsolidatorSubscribeFailed(t *testing.T) {
	src := newTestSource(1, 2, 3)
	src.subErr = errors.New("unavailable")
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()

	err := c.Start(ctx, nil)
	assert.True(t, IsLiveAttachFailed(err))
	st := c.State()
	assert.True(t, st.Started)
	assert.Equal(t, LiveDetached, st.Live)
	assert.Equal(t, []int{1, 2, 3}, seqsOf(c.Snapshot()))

	src.subErr = nil
	assert.NoError(t, c.Attach(ctx))
	assert.Equal(t, LiveAttached, c.State().Live)
	_, ok := ec.find(EventPossibleGap)
	assert.False(t, ok)
}

func TestConsolidatorDroppedWhileSubscribing(t *testing.T) {
	src := newTestSource(1, 2, 3)
	src.dropErr = errors.New("connection reset")
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()

	err := c.Start(ctx, nil)
	assert.True(t, IsLiveAttachFailed(err))
	assert.Equal(t, LiveDetached, c.State().Live)
	assert.True(t, src.lastSub().isClosed())
	_, ok := ec.find(EventLiveFailed)
	assert.True(t, ok)

	// the next drop is reported by Attach as well, a plain detach is not
	err = c.Attach(ctx)
	assert.True(t, IsLiveAttachFailed(err))

	src.dropErr = nil
	assert.NoError(t, c.Attach(ctx))
	assert.Equal(t, LiveAttached, c.State().Live)
	assert.Nil(t, c.State().LiveErr)
}

func TestConsolidatorAttachingUntilFirstBatch(t *testing.T) {
	src := newTestSource(1)
	src.ready = false
	c, _ := newTestConsolidator(src, 3)
	assert.NoError(t, c.Start(context.Background(), nil))
	assert.Equal(t, LiveAttaching, c.State().Live)

	src.lastSub().push(2)
	assert.Equal(t, LiveAttached, c.State().Live)
}

func TestConsolidatorCompletion(t *testing.T) {
	src := newTestSource(1, 2)
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))

	src.lastSub().l.OnBatch([]api.Record{rec(3), terminalRec(4)})
	assert.Equal(t, LiveCompleted, c.State().Live)
	assert.Equal(t, []int{1, 2, 3, 4}, seqsOf(c.Snapshot()))
	ev, ok := ec.find(EventCompleted)
	assert.True(t, ok)
	assert.Equal(t, api.Sequence(4), ev.Seq)
	assert.Equal(t, ErrCompleted, c.Attach(ctx))

	c.Stop()
	assert.NoError(t, c.Start(ctx, nil))
	src.lastSub().l.OnComplete()
	assert.Equal(t, LiveCompleted, c.State().Live)
	assert.Equal(t, ErrCompleted, c.Attach(ctx))
}

func TestConsolidatorNoLiveForClosedFeeds(t *testing.T) {
	src := newTestSource(1, 2)
	src.recs = append(src.recs, terminalRec(3))
	c, _ := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	assert.Equal(t, LiveCompleted, c.State().Live)
	assert.Nil(t, src.lastSub())
	c.Stop()

	src = newTestSource(1, 2)
	c, _ = newTestConsolidator(src, 3)
	assert.NoError(t, c.Start(ctx, &api.Filter{ToTime: time.Now()}))
	assert.Equal(t, LiveCompleted, c.State().Live)
	assert.Nil(t, src.lastSub())
}

func TestConsolidatorWrongState(t *testing.T) {
	c, _ := newTestConsolidator(newTestSource(1), 3)
	ctx := context.Background()

	assert.Equal(t, ErrNotStarted, c.LoadOlder(ctx))
	assert.Equal(t, ErrNotStarted, c.Attach(ctx))
	assert.True(t, IsWrongState(ErrNotStarted))
	assert.Nil(t, c.Snapshot())
	assert.False(t, c.State().Started)
	c.Detach()
	c.Stop()

	assert.NoError(t, c.Start(ctx, nil))
	err := c.Start(ctx, nil)
	if !IsWrongState(err) {
		t.Fatal("expecting wrong state error, but err=", err)
	}
}

func TestConsolidatorDetach(t *testing.T) {
	src := newTestSource(1, 2, 3)
	c, ec := newTestConsolidator(src, 3)
	ctx := context.Background()
	assert.NoError(t, c.Start(ctx, nil))
	sub1 := src.lastSub()

	c.Detach()
	assert.True(t, sub1.isClosed())
	assert.Equal(t, LiveDetached, c.State().Live)
	sub1.push(4)
	assert.Equal(t, []int{1, 2, 3}, seqsOf(c.Snapshot()))

	assert.NoError(t, c.Attach(ctx))
	assert.Equal(t, api.Sequence(3), src.lastSub().from)
	_, ok := ec.find(EventPossibleGap)
	assert.False(t, ok)
}

func TestConsolidatorStopFromListener(t *testing.T) {
	for _, detach := range []bool{false, true} {
		src := newTestSource(1, 2, 3)
		src.serialClose = true
		c, _ := newTestConsolidator(src, 3)
		assert.NoError(t, c.Start(context.Background(), nil))
		c.AddListener(func(ev Event) {
			if ev.Type != EventChanged || len(c.Snapshot()) < 4 {
				return
			}
			if detach {
				c.Detach()
			} else {
				c.Stop()
			}
		})

		sub := src.lastSub()
		done := make(chan struct{})
		go func() {
			sub.push(4)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("the listener is blocked by closing the subscription, detach=", detach)
		}

		deadline := time.Now().Add(5 * time.Second)
		for !sub.isClosed() {
			if time.Now().After(deadline) {
				t.Fatal("the subscription is not closed, detach=", detach)
			}
			time.Sleep(time.Millisecond)
		}
		assert.Equal(t, LiveDetached, c.State().Live)
	}
}

func TestConsolidatorListeners(t *testing.T) {
	src := newTestSource(1, 2, 3)
	c := NewConsolidator(src, Config{PageLimit: 3})
	ctx := context.Background()

	var lens []int
	remove := c.AddListener(func(ev Event) {
		if ev.Type == EventChanged {
			// listeners are called without the lock
			lens = append(lens, len(c.Snapshot()))
		}
	})
	assert.NoError(t, c.Start(ctx, nil))
	src.lastSub().push(4)
	assert.Equal(t, []int{3, 4}, lens)

	remove()
	remove()
	src.lastSub().push(5)
	assert.Equal(t, []int{3, 4}, lens)
}

func TestBackfillLoadOlderBeforeInitial(t *testing.T) {
	bf := newBackfill(&sync.Mutex{}, newTestSource(1), &api.Filter{}, container.NewBuffer(), 3, newNotifier(),
		log4g.GetLogger("feed.test"))
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("LoadOlder() must panic before LoadInitial()")
		}
	}()
	bf.LoadOlder(context.Background())
}

func TestBackfillDropsOutOfRangeRecords(t *testing.T) {
	src := newTestSource(5, 6, 7)
	bf := newBackfill(&sync.Mutex{}, src, &api.Filter{}, container.NewBuffer(), 3, newNotifier(),
		log4g.GetLogger("feed.test"))
	ctx := context.Background()
	assert.NoError(t, bf.LoadInitial(ctx))
	assert.Equal(t, api.Sequence(7), bf.Head())
	assert.True(t, IsWrongState(bf.LoadInitial(ctx)))

	src.lock.Lock()
	src.hold = true
	src.lock.Unlock()
	go func() {
		pp := <-src.pending
		pp.resolve([]api.Record{rec(9), rec(4), {Sequence: 0}}, nil)
	}()
	assert.NoError(t, bf.LoadOlder(ctx))
	assert.Equal(t, []int{4, 5, 6, 7}, seqsOf(bf.buf.Snapshot()))
	assert.Equal(t, BackfillIdle, bf.State())
}

func TestNotifierOrder(t *testing.T) {
	n := newNotifier()
	var got []EventType
	n.add(func(ev Event) {
		got = append(got, ev.Type)
		if ev.Type == EventChanged {
			n.post(Event{Type: EventCompleted})
			n.flush()
		}
	})
	n.post(Event{Type: EventChanged})
	n.post(Event{Type: EventExhausted})
	n.flush()
	assert.Equal(t, []EventType{EventChanged, EventExhausted, EventCompleted}, got)
	assert.Equal(t, "COMPLETED", EventCompleted.String())
}
