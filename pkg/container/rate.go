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

package container

import (
	"fmt"
	"time"
)

type (
	// RateWindow counts events in a time-sliding window, which consists of
	// chained buckets. It is used for observing how many records arrive per
	// time unit. RateWindow is not safe for concurrent use.
	RateWindow struct {
		// tail points to the last bucket, which points to head one etc.
		tail *rateBucket

		clockNow func() time.Time

		// bktDur is the bucket size in time duration
		bktDur time.Duration

		// winDur is the window size in time duration
		winDur time.Duration

		total int64
	}

	rateBucket struct {
		next  *rateBucket
		sTime time.Time
		cnt   int64
	}
)

// NewRateWindow same as NewRateWindowWithClock, but uses time.Now()
func NewRateWindow(bktDur, winDur time.Duration) *RateWindow {
	return NewRateWindowWithClock(bktDur, winDur, time.Now)
}

// NewRateWindowWithClock constructs new RateWindow. Expects the bucket size
// bktDur, the window size winDur, which must be not less than bktDur, and the
// clock function clck
func NewRateWindowWithClock(bktDur, winDur time.Duration, clck func() time.Time) *RateWindow {
	if bktDur > winDur || bktDur <= 0 {
		panic(fmt.Sprint("Wrong durations: both window duration=", winDur, " and bucket one=", bktDur, " must be positive, and the first one should be bigger then second one."))
	}
	rw := new(RateWindow)
	rw.clockNow = clck
	rw.bktDur = bktDur
	rw.winDur = winDur

	rw.tail = new(rateBucket)
	rw.tail.next = rw.tail
	rw.tail.sTime = clck().Truncate(bktDur)
	return rw
}

// Add counts n events at the current time
func (rw *RateWindow) Add(n int) {
	now := rw.sweep()
	bkt := rw.getBucket(now)
	bkt.cnt += int64(n)
	rw.total += int64(n)
}

// Total returns the number of events in the window
func (rw *RateWindow) Total() int64 {
	rw.sweep()
	return rw.total
}

// PerSecond returns the average number of events per second in the window
func (rw *RateWindow) PerSecond() float64 {
	return float64(rw.Total()) / rw.winDur.Seconds()
}

// Window returns the window duration
func (rw *RateWindow) Window() time.Duration {
	return rw.winDur
}

func (rw *RateWindow) sweep() time.Time {
	now := rw.clockNow()
	if now.Sub(rw.tail.sTime) >= rw.winDur {
		rw.total = 0
		rw.tail.next = rw.tail
		rw.tail.cnt = 0
		rw.tail.sTime = now.Truncate(rw.bktDur)
		return now
	}

	head := rw.tail.next
	for head != rw.tail && now.Sub(head.sTime) >= rw.winDur {
		rw.total -= head.cnt
		h := head.next
		head.next = nil
		head = h
		rw.tail.next = head
	}
	return now
}

func (rw *RateWindow) getBucket(now time.Time) *rateBucket {
	d := now.Sub(rw.tail.sTime)
	if d < rw.bktDur {
		// the clock could go back a bit, the value is counted in the last bucket then
		return rw.tail
	}

	newTail := new(rateBucket)
	newTail.next = rw.tail.next
	newTail.sTime = now.Truncate(rw.bktDur)
	rw.tail.next = newTail
	rw.tail = newTail
	return newTail
}
