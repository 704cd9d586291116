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

// Package sqlite contains the feed source which stores log lines in a SQLite
// database. The filter is translated to the query, so only matching lines
// are read from the database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/source/poll"
	"github.com/logrange/lrfeed/pkg/utils"
	rerrors "github.com/logrange/range/pkg/utils/errors"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type (
	// Config defines the sqlite source settings
	Config struct {
		// Path is the database file path
		Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`

		// PollIntervalMs defines how often subscriptions query new lines
		PollIntervalMs int `mapstructure:"pollIntervalMs" json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
	}

	// Source is api.FeedSource and api.Appender over the sqlite database
	Source struct {
		cfg    Config
		logger log4g.Logger

		lock sync.RWMutex
		db   *sql.DB
	}
)

const (
	DefaultPath           = "feed.db"
	DefaultPollIntervalMs = 500
)

const (
	createTableSql = `CREATE TABLE IF NOT EXISTS log_lines (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	level TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL DEFAULT '',
	instance TEXT NOT NULL DEFAULT '',
	directory TEXT NOT NULL DEFAULT '',
	process TEXT NOT NULL DEFAULT '',
	task TEXT NOT NULL DEFAULT '',
	term INTEGER,
	msg TEXT NOT NULL DEFAULT ''
)`
	createIndexSql = `CREATE INDEX IF NOT EXISTS log_lines_service ON log_lines (service, seq)`

	insertSql = `INSERT INTO log_lines (ts, level, unit, service, instance, directory, process, task, term, msg)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSql = `SELECT seq, ts, level, unit, term, msg FROM log_lines`
)

// NewDefaultConfig returns the default sqlite source config
func NewDefaultConfig() *Config {
	return &Config{Path: DefaultPath, PollIntervalMs: DefaultPollIntervalMs}
}

// Check validates the config
func (c *Config) Check() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("invalid config; path=%v, must be non-empty", c.Path)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid config; pollIntervalMs=%d must be positive", c.PollIntervalMs)
	}
	return nil
}

// New creates the sqlite source, the default config is used if cfg is nil.
// Init() must be called before use.
func New(cfg *Config) *Source {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	s := new(Source)
	s.cfg = *cfg
	s.logger = log4g.GetLogger("source.sqlite").WithId("[" + cfg.Path + "]").(log4g.Logger)
	return s
}

// Init opens the database and creates the schema if needed
func (s *Source) Init(ctx context.Context) error {
	if err := s.cfg.Check(); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", s.cfg.Path)
	if err != nil {
		return errors.Wrapf(err, "could not open database %s", s.cfg.Path)
	}
	// one connection serializes the writers of the process
	db.SetMaxOpenConns(1)

	for _, q := range []string{createTableSql, createIndexSql} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return errors.Wrapf(err, "could not create schema in %s", s.cfg.Path)
		}
	}

	s.lock.Lock()
	s.db = db
	s.lock.Unlock()
	s.logger.Info("Initialized")
	return nil
}

// Shutdown closes the database
func (s *Source) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Could not close the database, err=", err)
	}
	s.db = nil
	s.logger.Info("Shutdown")
}

// Append is a part of api.Appender
func (s *Source) Append(ctx context.Context, o api.Origin, lines []api.LogLine) ([]api.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return nil, rerrors.ClosedState
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSql)
	if err != nil {
		return nil, errors.Wrap(err, "could not prepare insert")
	}
	defer stmt.Close()

	res := make([]api.Record, len(lines))
	for i := range lines {
		ll := lines[i]
		if ll.Time.IsZero() {
			ll.Time = time.Now()
		}
		var term interface{}
		if v, ok := utils.PtrBool(ll.TerminationStatus); ok {
			term = v
		}
		r, err := stmt.ExecContext(ctx, ll.Time.UnixNano(), ll.Level, ll.Unit, o.Service, o.Instance, o.Directory,
			o.Process, o.Task, term, ll.Message)
		if err != nil {
			return nil, errors.Wrapf(err, "could not insert line %s", ll)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return nil, errors.Wrap(err, "could not get the line sequence")
		}
		res[i] = api.Record{Sequence: api.Sequence(id), Payload: ll}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "could not commit %d lines", len(lines))
	}
	return res, nil
}

// FetchPage is a part of api.FeedSource
func (s *Source) FetchPage(ctx context.Context, f *api.Filter, req api.PageRequest) ([]api.Record, error) {
	w := newWhere(f)
	if req.Before != 0 {
		w.add("seq < ?", uint64(req.Before))
	}
	return s.query(ctx, w, "DESC", req.Limit)
}

// ReadAfter is a part of poll.Reader
func (s *Source) ReadAfter(ctx context.Context, f *api.Filter, after api.Sequence, limit int) ([]api.Record, error) {
	w := newWhere(f)
	w.add("seq > ?", uint64(after))
	return s.query(ctx, w, "ASC", limit)
}

// Subscribe is a part of api.FeedSource
func (s *Source) Subscribe(ctx context.Context, f *api.Filter, from api.Sequence, l api.LiveListener) (api.LiveHandle, error) {
	s.lock.RLock()
	closed := s.db == nil
	s.lock.RUnlock()
	if closed {
		return nil, rerrors.ClosedState
	}
	return poll.Subscribe(s, f, from, l, poll.Config{Interval: time.Duration(s.cfg.PollIntervalMs) * time.Millisecond}), nil
}

func (s *Source) String() string {
	return fmt.Sprintf("sqlite{path=%s}", s.cfg.Path)
}

func (s *Source) query(ctx context.Context, w *where, order string, limit int) ([]api.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return nil, rerrors.ClosedState
	}

	q := selectSql + w.String() + " ORDER BY seq " + order + " LIMIT ?"
	rows, err := s.db.QueryContext(ctx, q, append(w.args, limit)...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not query %s", q)
	}
	defer rows.Close()

	var res []api.Record
	for rows.Next() {
		var (
			seq  int64
			ts   int64
			term sql.NullBool
			ll   api.LogLine
		)
		if err := rows.Scan(&seq, &ts, &ll.Level, &ll.Unit, &term, &ll.Message); err != nil {
			return nil, errors.Wrap(err, "could not read line")
		}
		ll.Time = time.Unix(0, ts)
		if term.Valid {
			ll.TerminationStatus = utils.BoolPtr(term.Bool)
		}
		res = append(res, api.Record{Sequence: api.Sequence(seq), Payload: ll})
	}
	return res, rows.Err()
}
