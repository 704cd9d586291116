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
	"fmt"
	"sync"

	"github.com/logrange/lrfeed/api"
)

type (
	// EventType defines the kind of a consolidator notification
	EventType int

	// Event is sent to the consolidator listeners. Seq and Err are set
	// depending on the event type.
	Event struct {
		Type EventType

		// Seq is the highest buffered sequence for EventChanged, the sequence
		// after which records could be lost for EventPossibleGap
		Seq api.Sequence

		// Err is set for EventBackfillFailed and EventLiveFailed
		Err error
	}

	// Listener receives the consolidator events. It is never called under the
	// consolidator lock, so it is allowed to call the consolidator methods.
	// A live handle released by Stop() or Detach() called from a listener is
	// closed in background, the source goroutine could be the one delivering.
	Listener func(ev Event)

	// notifier queues events posted under the feed lock and delivers them
	// from flush() in the posting order. Only one goroutine delivers at a time,
	// a flush() which finds delivery in progress leaves its events to it.
	notifier struct {
		lock       sync.Mutex
		lstnrs     map[int]Listener
		nextId     int
		queue      []Event
		delivering bool
	}
)

const (
	// EventChanged is sent when Snapshot() returns a different value than before
	EventChanged EventType = iota + 1

	// EventBackfillFailed is sent when a page fetch failed
	EventBackfillFailed

	// EventLiveFailed is sent when the live subscription failed or was dropped
	EventLiveFailed

	// EventAttached is sent when the live subscription is established
	EventAttached

	// EventPossibleGap is sent when the live feed is re-attached after a drop,
	// records produced while the feed was detached could be missed
	EventPossibleGap

	// EventExhausted is sent when no more history exists
	EventExhausted

	// EventCompleted is sent when the feed is completed, no new records are expected
	EventCompleted
)

var evNames = map[EventType]string{
	EventChanged:        "CHANGED",
	EventBackfillFailed: "BACKFILL_FAILED",
	EventLiveFailed:     "LIVE_FAILED",
	EventAttached:       "ATTACHED",
	EventPossibleGap:    "POSSIBLE_GAP",
	EventExhausted:      "EXHAUSTED",
	EventCompleted:      "COMPLETED",
}

func (et EventType) String() string {
	if s, ok := evNames[et]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(et))
}

func (ev Event) String() string {
	if ev.Err != nil {
		return fmt.Sprintf("{Type: %s, Seq: %d, Err: %v}", ev.Type, ev.Seq, ev.Err)
	}
	return fmt.Sprintf("{Type: %s, Seq: %d}", ev.Type, ev.Seq)
}

func newNotifier() *notifier {
	return &notifier{lstnrs: make(map[int]Listener)}
}

func (n *notifier) add(l Listener) func() {
	if l == nil {
		panic("listener must not be nil")
	}
	n.lock.Lock()
	id := n.nextId
	n.nextId++
	n.lstnrs[id] = l
	n.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.lock.Lock()
			delete(n.lstnrs, id)
			n.lock.Unlock()
		})
	}
}

func (n *notifier) post(ev Event) {
	n.lock.Lock()
	n.queue = append(n.queue, ev)
	n.lock.Unlock()
}

// busy returns whether some goroutine is delivering events right now
func (n *notifier) busy() bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.delivering
}

func (n *notifier) flush() {
	n.lock.Lock()
	if n.delivering {
		n.lock.Unlock()
		return
	}
	n.delivering = true
	for len(n.queue) > 0 {
		q := n.queue
		n.queue = nil
		ls := make([]Listener, 0, len(n.lstnrs))
		for _, l := range n.lstnrs {
			ls = append(ls, l)
		}
		n.lock.Unlock()

		for _, ev := range q {
			for _, l := range ls {
				l(ev)
			}
		}

		n.lock.Lock()
	}
	n.delivering = false
	n.lock.Unlock()
}
