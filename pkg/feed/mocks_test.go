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
	"sort"
	"sync"

	"github.com/logrange/lrfeed/api"
)

type (
	// testSource is api.FeedSource which serves pages from the recs slice.
	// If hold is set, every FetchPage call is sent to pending and waits
	// there until the test resolves it.
	testSource struct {
		lock    sync.Mutex
		recs    []api.Record
		reqs    []api.PageRequest
		subs    []*testSub
		pageErr error
		subErr  error
		ready   bool

		// dropErr is reported by the listener before Subscribe returns
		dropErr error

		// serialClose makes Close of the subscriptions to wait for the
		// pushes in progress, the way a polling goroutine is stopped
		serialClose bool

		hold    bool
		pending chan *pendingPage
	}

	pendingPage struct {
		req  api.PageRequest
		recs []api.Record
		err  error
		done chan struct{}
	}

	testSub struct {
		from   api.Sequence
		l      api.LiveListener
		lock   sync.Mutex
		closed bool
		serial bool
		calls  sync.WaitGroup
	}
)

func newTestSource(seqs ...int) *testSource {
	ts := &testSource{pending: make(chan *pendingPage, 10), ready: true}
	for _, s := range seqs {
		ts.recs = append(ts.recs, rec(s))
	}
	return ts
}

func rec(seq int) api.Record {
	return api.Record{Sequence: api.Sequence(seq), Payload: api.LogLine{Message: "line"}}
}

func terminalRec(seq int) api.Record {
	ok := true
	return api.Record{Sequence: api.Sequence(seq), Payload: api.LogLine{Message: "done", TerminationStatus: &ok}}
}

func recsOf(seqs ...int) []api.Record {
	res := make([]api.Record, len(seqs))
	for i, s := range seqs {
		res[i] = rec(s)
	}
	return res
}

func seqsOf(recs []api.Record) []int {
	res := make([]int, len(recs))
	for i, r := range recs {
		res[i] = int(r.Sequence)
	}
	return res
}

func (ts *testSource) FetchPage(ctx context.Context, f *api.Filter, req api.PageRequest) ([]api.Record, error) {
	ts.lock.Lock()
	ts.reqs = append(ts.reqs, req)
	hold := ts.hold
	ts.lock.Unlock()

	if hold {
		pp := &pendingPage{req: req, done: make(chan struct{})}
		ts.pending <- pp
		<-pp.done
		return pp.recs, pp.err
	}

	ts.lock.Lock()
	defer ts.lock.Unlock()
	if ts.pageErr != nil {
		return nil, ts.pageErr
	}
	return ts.page(req), nil
}

// page must be called under the lock
func (ts *testSource) page(req api.PageRequest) []api.Record {
	idx := len(ts.recs)
	if req.Before != 0 {
		idx = sort.Search(len(ts.recs), func(i int) bool { return ts.recs[i].Sequence >= req.Before })
	}
	res := make([]api.Record, 0, req.Limit)
	for i := idx - 1; i >= 0 && len(res) < req.Limit; i-- {
		res = append(res, ts.recs[i])
	}
	return res
}

func (ts *testSource) Subscribe(ctx context.Context, f *api.Filter, from api.Sequence, l api.LiveListener) (api.LiveHandle, error) {
	ts.lock.Lock()
	if ts.subErr != nil {
		err := ts.subErr
		ts.lock.Unlock()
		return nil, err
	}
	sub := &testSub{from: from, l: l, serial: ts.serialClose}
	ts.subs = append(ts.subs, sub)
	ready := ts.ready
	dropErr := ts.dropErr
	ts.lock.Unlock()

	if ready {
		l.OnReady()
	}
	if dropErr != nil {
		l.OnError(dropErr)
	}
	return sub, nil
}

func (ts *testSource) lastSub() *testSub {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	if len(ts.subs) == 0 {
		return nil
	}
	return ts.subs[len(ts.subs)-1]
}

func (ts *testSource) reqsCount() int {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return len(ts.reqs)
}

func (pp *pendingPage) resolve(recs []api.Record, err error) {
	pp.recs = recs
	pp.err = err
	close(pp.done)
}

func (s *testSub) push(seqs ...int) {
	s.calls.Add(1)
	defer s.calls.Done()
	s.l.OnBatch(recsOf(seqs...))
}

func (s *testSub) Close() error {
	if s.serial {
		s.calls.Wait()
	}
	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()
	return nil
}

func (s *testSub) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

type eventsCollector struct {
	lock sync.Mutex
	evs  []Event
}

func (ec *eventsCollector) onEvent(ev Event) {
	ec.lock.Lock()
	ec.evs = append(ec.evs, ev)
	ec.lock.Unlock()
}

func (ec *eventsCollector) types() []EventType {
	ec.lock.Lock()
	defer ec.lock.Unlock()
	res := make([]EventType, len(ec.evs))
	for i, ev := range ec.evs {
		res[i] = ev.Type
	}
	return res
}

func (ec *eventsCollector) find(et EventType) (Event, bool) {
	ec.lock.Lock()
	defer ec.lock.Unlock()
	for _, ev := range ec.evs {
		if ev.Type == et {
			return ev, true
		}
	}
	return Event{}, false
}
