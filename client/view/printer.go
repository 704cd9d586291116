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

// Package view contains the terminal views of a feed: the interactive viewer
// and the tail printer.
package view

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/container"
	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/model"
	"github.com/logrange/range/pkg/utils/bytes"
)

type (
	// printer writes records to w and remembers the highest printed one
	printer struct {
		w  io.Writer
		fp *model.FormatParser

		lock  sync.Mutex
		rate  *container.RateWindow
		last  api.Sequence
		total int64
	}
)

const (
	DefaultFormat = "{ts:2006-01-02 15:04:05.000} {level} {msg}\n"

	// printBatch is the number of records printed per one read of the
	// consolidator
	printBatch = 1000
)

var defaultFormatParser, _ = model.NewFormatParser(DefaultFormat)

func newPrinter(w io.Writer, fp *model.FormatParser) *printer {
	if fp == nil {
		fp = defaultFormatParser
	}
	p := new(printer)
	p.w = w
	p.fp = fp
	p.rate = container.NewRateWindow(time.Second, 10*time.Second)
	return p
}

// print writes the records. It doesn't check whether they were printed
// before.
func (p *printer) print(recs []api.Record) {
	if len(recs) == 0 {
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := range recs {
		_, _ = p.w.Write(bytes.StringToByteArray(p.fp.FormatStr(&recs[i])))
		if recs[i].Sequence > p.last {
			p.last = recs[i].Sequence
		}
	}
	p.rate.Add(len(recs))
	p.total += int64(len(recs))
}

// printNew writes the consolidated records above the highest printed one,
// returns the number of records written.
func (p *printer) printNew(c *feed.Consolidator) int {
	n := 0
	for {
		recs := c.RangeAbove(p.lastPrinted(), printBatch)
		p.print(recs)
		n += len(recs)
		if len(recs) < printBatch {
			return n
		}
	}
}

func (p *printer) lastPrinted() api.Sequence {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.last
}

// notice writes a service line, which is not a record
func (p *printer) notice(format string, args ...interface{}) {
	p.lock.Lock()
	defer p.lock.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(p.w, "-- %s --\n", strings.TrimSpace(msg))
}

func (p *printer) stats() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return fmt.Sprintf("%s records printed, %.1f rec/s in last %s", humanize.Comma(p.total), p.rate.PerSecond(),
		p.rate.Window())
}

// describe returns the human readable consolidator state
func describe(st feed.State) string {
	if !st.Started {
		if st.BackfillErr != nil {
			return fmt.Sprintf("not started, the last error: %v", st.BackfillErr)
		}
		return "not started"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %s\n", "filter:", st.Filter)
	fmt.Fprintf(&sb, "%-16s %s records [%d..%d]\n", "buffer:", humanize.Comma(int64(st.Len)), st.Lowest, st.Highest)
	if st.ContiguousLow != st.Lowest || st.ContiguousHigh != st.Highest {
		fmt.Fprintf(&sb, "%-16s [%d..%d]\n", "contiguous:", st.ContiguousLow, st.ContiguousHigh)
	}
	fmt.Fprintf(&sb, "%-16s %s\n", "history:", st.Backfill)
	if st.BackfillErr != nil {
		fmt.Fprintf(&sb, "%-16s %v\n", "history error:", st.BackfillErr)
	}
	fmt.Fprintf(&sb, "%-16s %s\n", "live:", st.Live)
	if st.LiveErr != nil {
		fmt.Fprintf(&sb, "%-16s %v\n", "live error:", st.LiveErr)
	}
	if st.PossibleGap {
		fmt.Fprintf(&sb, "%-16s after %d\n", "possible gap:", st.GapAfter)
	}
	return sb.String()
}
