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

// Package inmem contains the feed source which keeps the last log lines in
// memory. It is used for tests and demos, and as a fan-in point for the
// lines appended by the same process.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/container"
	"github.com/logrange/lrfeed/pkg/source/poll"
	rerrors "github.com/logrange/range/pkg/utils/errors"
)

type (
	// Config defines the in-memory source settings
	Config struct {
		// Capacity is the maximum number of lines kept, the oldest lines are
		// dropped when it is reached
		Capacity int `mapstructure:"capacity" json:"capacity,omitempty" yaml:"capacity,omitempty"`

		// PollIntervalMs defines how often subscriptions check new lines
		PollIntervalMs int `mapstructure:"pollIntervalMs" json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
	}

	// Source is api.FeedSource and api.Appender which keeps lines in a ring
	// buffer
	Source struct {
		cfg    Config
		logger log4g.Logger

		lock    sync.RWMutex
		lines   *container.RingBuffer[entry]
		lastSeq api.Sequence
		closed  bool
	}

	entry struct {
		origin api.Origin
		rec    api.Record
	}
)

const (
	DefaultCapacity       = 100000
	DefaultPollIntervalMs = 100
)

// NewDefaultConfig returns the default in-memory source config
func NewDefaultConfig() *Config {
	return &Config{Capacity: DefaultCapacity, PollIntervalMs: DefaultPollIntervalMs}
}

// Check validates the config
func (c *Config) Check() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("invalid config; capacity=%d must be positive", c.Capacity)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid config; pollIntervalMs=%d must be positive", c.PollIntervalMs)
	}
	return nil
}

// New creates new in-memory source
func New(cfg *Config) *Source {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Check(); err != nil {
		panic(err)
	}
	s := new(Source)
	s.cfg = *cfg
	s.logger = log4g.GetLogger("source.inmem")
	s.lines = container.NewRingBuffer[entry](cfg.Capacity)
	return s
}

// Shutdown drops all lines. The source could not be used after the call.
func (s *Source) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	s.lines.Clear()
	s.logger.Info("Shutdown")
}

// Append adds the lines produced by the origin o. The lines get sequence
// numbers in the order they are provided.
func (s *Source) Append(ctx context.Context, o api.Origin, lines []api.LogLine) ([]api.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil, rerrors.ClosedState
	}

	res := make([]api.Record, len(lines))
	for i, ll := range lines {
		if ll.Time.IsZero() {
			ll.Time = time.Now()
		}
		s.lastSeq++
		res[i] = api.Record{Sequence: s.lastSeq, Payload: ll}
		s.lines.Push(entry{origin: o, rec: res[i]})
	}
	return res, nil
}

// FetchPage is a part of api.FeedSource
func (s *Source) FetchPage(ctx context.Context, f *api.Filter, req api.PageRequest) ([]api.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return nil, rerrors.ClosedState
	}

	idx := s.lines.Len()
	if req.Before != 0 {
		idx = s.lines.Search(func(e entry) bool { return e.rec.Sequence >= req.Before })
	}
	res := make([]api.Record, 0, 10)
	for i := idx - 1; i >= 0 && len(res) < req.Limit; i-- {
		if e := s.lines.At(i); e.matches(f) {
			res = append(res, e.rec)
		}
	}
	return res, nil
}

// ReadAfter is a part of poll.Reader
func (s *Source) ReadAfter(ctx context.Context, f *api.Filter, after api.Sequence, limit int) ([]api.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return nil, rerrors.ClosedState
	}

	var res []api.Record
	for i := s.lines.Search(func(e entry) bool { return e.rec.Sequence > after }); i < s.lines.Len() && len(res) < limit; i++ {
		if e := s.lines.At(i); e.matches(f) {
			res = append(res, e.rec)
		}
	}
	return res, nil
}

// Subscribe is a part of api.FeedSource
func (s *Source) Subscribe(ctx context.Context, f *api.Filter, from api.Sequence, l api.LiveListener) (api.LiveHandle, error) {
	s.lock.RLock()
	closed := s.closed
	s.lock.RUnlock()
	if closed {
		return nil, rerrors.ClosedState
	}
	return poll.Subscribe(s, f, from, l, poll.Config{Interval: time.Duration(s.cfg.PollIntervalMs) * time.Millisecond}), nil
}

// Len returns the number of kept lines
func (s *Source) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lines.Len()
}

func (s *Source) String() string {
	return fmt.Sprintf("inmem{capacity=%d, len=%d}", s.cfg.Capacity, s.Len())
}

func (e *entry) matches(f *api.Filter) bool {
	ll, ok := e.rec.Payload.(api.LogLine)
	return ok && f.Matches(e.origin, &ll)
}
