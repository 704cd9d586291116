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
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/fql"
	"github.com/logrange/lrfeed/pkg/model"
	"github.com/logrange/lrfeed/pkg/source/inmem"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/stretchr/testify/assert"
)

type (
	testFeeds struct {
		src *inmem.Source
	}

	// syncBuffer is bytes.Buffer which could be written by the printer and
	// read by the test concurrently
	syncBuffer struct {
		lock sync.Mutex
		buf  bytes.Buffer
	}
)

func (tf *testFeeds) NewConsolidator() *feed.Consolidator {
	return feed.NewConsolidator(tf.src, feed.Config{PageLimit: 5})
}

func (tf *testFeeds) Filter(q string) (*api.Filter, error) { return fql.Parse(q) }
func (tf *testFeeds) Appender() api.Appender               { return tf.src }
func (tf *testFeeds) PollInterval() time.Duration          { return time.Millisecond }

func (sb *syncBuffer) Write(p []byte) (int, error) {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.buf.Write(p)
}

func (sb *syncBuffer) String() string {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.buf.String()
}

func (sb *syncBuffer) lines() []string {
	return strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
}

func (sb *syncBuffer) reset() {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	sb.buf.Reset()
}

var msgFormat, _ = model.NewFormatParser("{seq} {msg}\n")

func newTestSource(t *testing.T, n int) *inmem.Source {
	src := inmem.New(&inmem.Config{Capacity: 1000, PollIntervalMs: 1})
	for i := 1; i <= n; i++ {
		svc := "api"
		if i%2 == 0 {
			svc = "db"
		}
		_, err := src.Append(context.Background(), api.Origin{Service: svc}, []api.LogLine{{Level: "INFO", Message: fmt.Sprintf("line%d", i)}})
		if err != nil {
			t.Fatal("could not append, err=", err)
		}
	}
	return src
}

func newTestConfig(src *inmem.Source, out *syncBuffer) *config {
	cfg := newConfig(&testFeeds{src: src}, out)
	cfg.prnt = newPrinter(out, msgFormat)
	cfg.pageSize = 3
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	start := time.Now()
	for !cond() {
		if time.Since(start) > 5*time.Second {
			t.Fatal("the condition is not met in 5 seconds")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecCmdSyntax(t *testing.T) {
	src := newTestSource(t, 0)
	defer src.Shutdown()
	cfg := newTestConfig(src, &syncBuffer{})
	defer cfg.c.Stop()

	ctx := context.Background()
	assert.Error(t, execCmd(ctx, "select 1", cfg))
	assert.Error(t, execCmd(ctx, "more lines", cfg))
	assert.Error(t, execCmd(ctx, "follow maybe", cfg))
	assert.Equal(t, feed.ErrNotStarted, execCmd(ctx, "show", cfg))
	assert.Equal(t, errQuit, execCmd(ctx, "QUIT", cfg))
	assert.NoError(t, execCmd(ctx, "help", cfg))
}

func TestShowAndMore(t *testing.T) {
	src := newTestSource(t, 20)
	defer src.Shutdown()
	out := &syncBuffer{}
	cfg := newTestConfig(src, out)
	defer cfg.c.Stop()

	ctx := context.Background()
	assert.NoError(t, execCmd(ctx, "filter service=api", cfg))
	assert.Equal(t, []string{"15 line15", "17 line17", "19 line19"}, out.lines())

	out.reset()
	assert.NoError(t, execCmd(ctx, "more", cfg))
	assert.Equal(t, []string{"9 line9", "11 line11", "13 line13"}, out.lines())

	out.reset()
	assert.NoError(t, execCmd(ctx, "more 10", cfg))
	lines := out.lines()
	assert.Equal(t, []string{"1 line1", "3 line3", "5 line5", "7 line7", "-- the beginning of the feed --"}, lines)
	assert.Equal(t, feed.BackfillExhausted, cfg.c.State().Backfill)

	out.reset()
	assert.NoError(t, execCmd(ctx, "more", cfg))
	assert.Equal(t, []string{"-- no older records --"}, out.lines())

	out.reset()
	assert.NoError(t, execCmd(ctx, "show 2", cfg))
	assert.Equal(t, []string{"17 line17", "19 line19"}, out.lines())

	out.reset()
	assert.NoError(t, execCmd(ctx, "filter", cfg))
	assert.Equal(t, `service="api"`, strings.TrimSpace(out.String()))

	out.reset()
	assert.NoError(t, execCmd(ctx, "state", cfg))
	assert.Contains(t, out.String(), "10 records [1..19]")

	assert.Error(t, execCmd(ctx, "filter level>=LOUD", cfg))
}

func TestFollow(t *testing.T) {
	src := newTestSource(t, 4)
	defer src.Shutdown()
	out := &syncBuffer{}
	cfg := newTestConfig(src, out)
	defer cfg.c.Stop()

	ctx := context.Background()
	assert.NoError(t, execCmd(ctx, "filter service=db", cfg))
	assert.Equal(t, []string{"2 line2", "4 line4"}, out.lines())

	fctx, cancel := context.WithCancel(ctx)
	done := make(chan error)
	go func() {
		done <- execCmd(fctx, "follow on", cfg)
	}()

	out.reset()
	src.Append(ctx, api.Origin{Service: "db"}, []api.LogLine{{Message: "live1"}})
	src.Append(ctx, api.Origin{Service: "api"}, []api.LogLine{{Message: "other"}})
	src.Append(ctx, api.Origin{Service: "db"}, []api.LogLine{{Message: "live2"}})
	waitFor(t, func() bool { return strings.Contains(out.String(), "live2") })
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []string{"5 live1", "7 live2"}, out.lines())

	out.reset()
	assert.NoError(t, execCmd(ctx, "follow off", cfg))
	assert.Equal(t, feed.LiveDetached, cfg.c.State().Live)

	// the feed is completed by the terminal line, follow returns
	src.Append(ctx, api.Origin{Service: "db"}, []api.LogLine{{Message: "done", TerminationStatus: utils.BoolPtr(true)}})
	out.reset()
	assert.NoError(t, execCmd(ctx, "follow", cfg))
	assert.Equal(t, []string{"8 done", "-- the feed is completed --"}, out.lines())
	assert.Equal(t, feed.LiveCompleted, cfg.c.State().Live)
}

func TestTail(t *testing.T) {
	src := newTestSource(t, 10)
	defer src.Shutdown()
	tf := &testFeeds{src: src}

	out := &syncBuffer{}
	err := Tail(context.Background(), tf.NewConsolidator(), TailConfig{Filter: &api.Filter{Origin: api.Origin{Service: "api"}},
		Format: "{msg}\n"}, out)
	assert.NoError(t, err)
	assert.Equal(t, []string{"line1", "line3", "line5", "line7", "line9"}, out.lines())

	out.reset()
	done := make(chan error)
	go func() {
		done <- Tail(context.Background(), tf.NewConsolidator(), TailConfig{Filter: &api.Filter{Origin: api.Origin{Service: "db"}},
			Format: "{msg}\n", Follow: true, PollInterval: time.Millisecond}, out)
	}()
	waitFor(t, func() bool { return strings.Contains(out.String(), "line10") })
	src.Append(context.Background(), api.Origin{Service: "db"}, []api.LogLine{{Message: "live"}, {Message: "end", TerminationStatus: utils.BoolPtr(false)}})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail is not finished")
	}
	assert.Equal(t, []string{"line2", "line4", "line6", "line8", "line10", "live", "end", "-- the feed is completed --"}, out.lines())

	err = Tail(context.Background(), tf.NewConsolidator(), TailConfig{Format: "{unknown}"}, out)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "not started", describe(feed.State{}))
	st := feed.State{Started: true, Filter: &api.Filter{}, Len: 1200, Lowest: 1, Highest: 1300, ContiguousLow: 1250,
		ContiguousHigh: 1300, PossibleGap: true, GapAfter: 1100}
	s := describe(st)
	assert.Contains(t, s, "1,200 records [1..1300]")
	assert.Contains(t, s, "[1250..1300]")
	assert.Contains(t, s, "after 1100")
}

func BenchmarkPrinter(b *testing.B) {
	recs := make([]api.Record, 100)
	for i := range recs {
		recs[i] = api.Record{Sequence: api.Sequence(i + 1), Payload: api.LogLine{Time: time.Now(), Level: "INFO",
			Message: "some message to be printed"}}
	}
	p := newPrinter(&nilWriter{}, nil)

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		p.print(recs)
	}
}

type nilWriter struct{}

func (*nilWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}
