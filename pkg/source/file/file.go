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

// Package file contains the feed source which keeps log lines in a local
// journal file. Every line of the journal is one record in logfmt form:
//
//	seq=12 ts=2019-05-10T12:30:15Z level=INFO service=api msg="connection reset"
//
// Several processes could append to the same journal, appends are serialized
// by the lock file next to the journal.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/source/poll"
	rerrors "github.com/logrange/range/pkg/utils/errors"
	"github.com/logrange/range/pkg/utils/fileutil"
	"github.com/pkg/errors"
)

type (
	// Config defines the file source settings
	Config struct {
		// Dir is the folder where the journal is stored
		Dir string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`

		// Journal is the journal file name in Dir
		Journal string `mapstructure:"journal" json:"journal,omitempty" yaml:"journal,omitempty"`

		// PollIntervalMs defines how often subscriptions check the journal
		PollIntervalMs int `mapstructure:"pollIntervalMs" json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
	}

	// Source is api.FeedSource and api.Appender over the journal file. It
	// keeps the index of the journal lines in memory, the index is extended
	// when the journal grows.
	Source struct {
		cfg    Config
		fn     string
		logger log4g.Logger

		lock    sync.Mutex
		f       *os.File
		fl      *flock.Flock
		idx     []lineRef
		indexed int64
	}

	lineRef struct {
		seq api.Sequence
		off int64
		len int
	}
)

const (
	DefaultJournal        = "feed.log"
	DefaultPollIntervalMs = 500
)

// NewDefaultConfig returns the default file source config
func NewDefaultConfig() *Config {
	return &Config{Dir: ".", Journal: DefaultJournal, PollIntervalMs: DefaultPollIntervalMs}
}

// Check validates the config
func (c *Config) Check() error {
	if strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("invalid config; dir=%v, must be non-empty", c.Dir)
	}
	if strings.TrimSpace(c.Journal) == "" || strings.ContainsRune(c.Journal, os.PathSeparator) {
		return fmt.Errorf("invalid config; journal=%v, must be non-empty file name", c.Journal)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid config; pollIntervalMs=%d must be positive", c.PollIntervalMs)
	}
	return nil
}

// New creates new file source, the default config is used if cfg is nil.
// Init() must be called before use.
func New(cfg *Config) *Source {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	s := new(Source)
	s.cfg = *cfg
	s.fn = filepath.Join(cfg.Dir, cfg.Journal)
	s.logger = log4g.GetLogger("source.file").WithId("[" + s.fn + "]").(log4g.Logger)
	return s
}

// Init opens the journal file, it creates it if needed, and indexes it
func (s *Source) Init(ctx context.Context) error {
	if err := s.cfg.Check(); err != nil {
		return err
	}
	if err := fileutil.EnsureDirExists(s.cfg.Dir); err != nil {
		return errors.Wrapf(err, "could not create dir %s", s.cfg.Dir)
	}

	f, err := os.OpenFile(s.fn, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return errors.Wrapf(err, "could not open journal %s", s.fn)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.f = f
	s.fl = flock.New(s.fn + ".lock")
	if err := s.refresh(); err != nil {
		s.f.Close()
		s.f = nil
		return err
	}
	s.logger.Info("Initialized, ", len(s.idx), " lines are indexed")
	return nil
}

// Shutdown closes the journal
func (s *Source) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.f == nil {
		return
	}
	s.f.Close()
	s.f = nil
	s.idx = nil
	s.logger.Info("Shutdown")
}

// Append adds the lines to the journal. The lines get sequence numbers
// following the last one in the journal.
func (s *Source) Append(ctx context.Context, o api.Origin, lines []api.LogLine) ([]api.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.f == nil {
		return nil, rerrors.ClosedState
	}

	if err := s.fl.Lock(); err != nil {
		return nil, errors.Wrapf(err, "could not lock journal %s", s.fn)
	}
	defer s.fl.Unlock()

	// other processes could write to the journal
	if err := s.refresh(); err != nil {
		return nil, err
	}

	var last api.Sequence
	if len(s.idx) > 0 {
		last = s.idx[len(s.idx)-1].seq
	}

	var sb strings.Builder
	res := make([]api.Record, len(lines))
	for i := range lines {
		ll := lines[i]
		if ll.Time.IsZero() {
			ll.Time = time.Now()
		}
		last++
		encodeLine(&sb, last, o, &ll)
		res[i] = api.Record{Sequence: last, Payload: ll}
	}

	if _, err := s.f.WriteString(sb.String()); err != nil {
		return nil, errors.Wrapf(err, "could not write %d lines to journal %s", len(lines), s.fn)
	}
	return res, s.refresh()
}

// FetchPage is a part of api.FeedSource
func (s *Source) FetchPage(ctx context.Context, f *api.Filter, req api.PageRequest) ([]api.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkAndRefresh(); err != nil {
		return nil, err
	}

	i := len(s.idx)
	if req.Before != 0 {
		i = sort.Search(len(s.idx), func(i int) bool { return s.idx[i].seq >= req.Before })
	}

	res := make([]api.Record, 0, 10)
	for i--; i >= 0 && len(res) < req.Limit; i-- {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r, ok, err := s.readLine(s.idx[i], f)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, r)
		}
	}
	return res, nil
}

// ReadAfter is a part of poll.Reader
func (s *Source) ReadAfter(ctx context.Context, f *api.Filter, after api.Sequence, limit int) ([]api.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkAndRefresh(); err != nil {
		return nil, err
	}

	var res []api.Record
	for i := sort.Search(len(s.idx), func(i int) bool { return s.idx[i].seq > after }); i < len(s.idx) && len(res) < limit; i++ {
		r, ok, err := s.readLine(s.idx[i], f)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, r)
		}
	}
	return res, nil
}

// Subscribe is a part of api.FeedSource
func (s *Source) Subscribe(ctx context.Context, f *api.Filter, from api.Sequence, l api.LiveListener) (api.LiveHandle, error) {
	s.lock.Lock()
	closed := s.f == nil
	s.lock.Unlock()
	if closed {
		return nil, rerrors.ClosedState
	}
	return poll.Subscribe(s, f, from, l, poll.Config{Interval: time.Duration(s.cfg.PollIntervalMs) * time.Millisecond}), nil
}

func (s *Source) String() string {
	return fmt.Sprintf("file{journal=%s}", s.fn)
}

// checkAndRefresh must be called under the lock
func (s *Source) checkAndRefresh() error {
	if s.f == nil {
		return rerrors.ClosedState
	}
	return s.refresh()
}

// refresh indexes the lines appended to the journal after the last call.
// Must be called under the lock.
func (s *Source) refresh() error {
	fi, err := s.f.Stat()
	if err != nil {
		return errors.Wrapf(err, "could not stat journal %s", s.fn)
	}
	if fi.Size() < s.indexed {
		return errors.Errorf("the journal %s is truncated, size=%d, but %d bytes were indexed", s.fn, fi.Size(), s.indexed)
	}
	if fi.Size() == s.indexed {
		return nil
	}

	buf := make([]byte, fi.Size()-s.indexed)
	n, err := s.f.ReadAt(buf, s.indexed)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "could not read journal %s at %d", s.fn, s.indexed)
	}
	buf = buf[:n]

	var last api.Sequence
	if len(s.idx) > 0 {
		last = s.idx[len(s.idx)-1].seq
	}
	for {
		eol := bytes.IndexByte(buf, '\n')
		if eol < 0 {
			// incomplete line, it will be indexed when written completely
			break
		}
		line := buf[:eol]
		if len(bytes.TrimSpace(line)) > 0 {
			ld, err := decodeLine(line, true)
			if err != nil {
				return err
			}
			if ld.seq <= last {
				return errors.Errorf("the journal %s is corrupted, sequence %d follows %d", s.fn, ld.seq, last)
			}
			last = ld.seq
			s.idx = append(s.idx, lineRef{seq: ld.seq, off: s.indexed, len: eol})
		}
		s.indexed += int64(eol + 1)
		buf = buf[eol+1:]
	}
	return nil
}

// readLine reads the line and returns whether it matches the filter. Must be
// called under the lock.
func (s *Source) readLine(lr lineRef, f *api.Filter) (api.Record, bool, error) {
	buf := make([]byte, lr.len)
	if _, err := s.f.ReadAt(buf, lr.off); err != nil {
		return api.Record{}, false, errors.Wrapf(err, "could not read journal %s at %d", s.fn, lr.off)
	}
	ld, err := decodeLine(buf, false)
	if err != nil {
		return api.Record{}, false, err
	}
	return ld.record(), f.Matches(ld.origin, &ld.ll), nil
}
