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

// Package fql contains the feed query language parser. A feed query is the
// textual form of api.Filter, which is a list of conditions separated by
// comma or AND:
//
//	service=api, instance="api-1", level>=WARN, find="timeout", from=-1h
//
// Known fields are service, instance, directory, process, task, level, levels,
// find, from and to. The level condition accepts "=" for one level, ">=" for
// the level and all more severe ones and IN (L1, L2...) for a set of levels.
package fql

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/participle"
	"github.com/alecthomas/participle/lexer"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/model"
	"github.com/pkg/errors"
)

type (
	// Query is the parsed feed query
	Query struct {
		Conds []*Condition `parser:"( @@ ( (\",\" | \"AND\") @@ )* )?"`
	}

	// Condition is one field condition
	Condition struct {
		Field  string   `parser:"@Ident"`
		Op     string   `parser:"@(\"<=\" | \">=\" | \"=\" | \"IN\")"`
		Values []string `parser:"( \"(\" (@String|@Value|@Ident) ( \",\" (@String|@Value|@Ident) )* \")\" | @String | @Value | @Ident )"`
	}
)

const (
	FldService   = "service"
	FldInstance  = "instance"
	FldDirectory = "directory"
	FldProcess   = "process"
	FldTask      = "task"
	FldLevel     = "level"
	FldLevels    = "levels"
	FldFind      = "find"
	FldFrom      = "from"
	FldTo        = "to"
)

var (
	fqlLexer = lexer.Must(newLongestDefinition(`(\s+)` +
		`|(?P<Keyword>(?i)AND|IN)` +
		`|(?P<Ident>[a-zA-Z_][a-zA-Z0-9_]*)` +
		`|(?P<String>"([^\\"]|\\.)*"|'([^\\']|\\.)*')` +
		`|(?P<Operator><=|>=|[,=()])` +
		`|(?P<Value>[a-zA-Z0-9_\-\\/!@|#$%^&\*+~\.:]+)`,
	))

	parser = participle.MustBuild(
		&Query{},
		participle.Lexer(fqlLexer),
		participle.Unquote("String"),
		participle.CaseInsensitive("Keyword"),
	)
)

// ParseQuery parses the query text
func ParseQuery(fql string) (*Query, error) {
	q := &Query{}
	if strings.TrimSpace(fql) == "" {
		return q, nil
	}
	if err := parser.ParseString(fql, q); err != nil {
		return nil, errors.Wrapf(err, "could not parse feed query \"%s\"", fql)
	}
	return q, nil
}

// Parse parses the query text into the filter. Relative times are counted
// from now.
func Parse(fql string) (*api.Filter, error) {
	q, err := ParseQuery(fql)
	if err != nil {
		return nil, err
	}
	return q.Filter(time.Now())
}

// Filter builds the filter for the query. now is used for relative times.
func (q *Query) Filter(now time.Time) (*api.Filter, error) {
	f := &api.Filter{}
	seen := make(map[string]bool, len(q.Conds))
	for _, c := range q.Conds {
		fld := strings.ToLower(c.Field)
		if fld == FldLevels {
			fld = FldLevel
		}
		if seen[fld] {
			return nil, fmt.Errorf("field %s is used more than once", c.Field)
		}
		seen[fld] = true

		if err := c.apply(f, fld, now); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (c *Condition) apply(f *api.Filter, fld string, now time.Time) error {
	op := strings.ToUpper(c.Op)
	switch fld {
	case FldService, FldInstance, FldDirectory, FldProcess, FldTask, FldFind:
		v, err := c.single(op, "=")
		if err != nil {
			return err
		}
		switch fld {
		case FldService:
			f.Service = v
		case FldInstance:
			f.Instance = v
		case FldDirectory:
			f.Directory = v
		case FldProcess:
			f.Process = v
		case FldTask:
			f.Task = v
		default:
			f.Find = v
		}
	case FldLevel:
		switch op {
		case "=", "IN":
			f.Levels = model.SortLevels(upper(c.Values))
		case ">=":
			v, err := c.single(op, ">=")
			if err != nil {
				return err
			}
			f.Levels = model.WithSubLevels(v, nil)
			if f.Levels == nil {
				return fmt.Errorf("unknown level %s, expected one of %v", v, model.KnownLevels)
			}
		default:
			return c.opErr("=", ">=", "IN")
		}
	case FldFrom, FldTo:
		exp := ">="
		if fld == FldTo {
			exp = "<="
		}
		if op != "=" && op != exp {
			return c.opErr("=", exp)
		}
		if len(c.Values) != 1 {
			return fmt.Errorf("expecting one value for %s, but got %v", c.Field, c.Values)
		}
		tm, err := parseDateTime(c.Values[0], now)
		if err != nil {
			return err
		}
		if fld == FldFrom {
			f.FromTime = tm
		} else {
			f.ToTime = tm
		}
	default:
		return fmt.Errorf("unknown field %s, expected one of service, instance, directory, process, task, level, levels, find, from, to", c.Field)
	}
	return nil
}

func (c *Condition) single(op string, allowed ...string) (string, error) {
	for _, a := range allowed {
		if a == op {
			if len(c.Values) != 1 {
				return "", fmt.Errorf("expecting one value for %s, but got %v", c.Field, c.Values)
			}
			return c.Values[0], nil
		}
	}
	return "", c.opErr(allowed...)
}

func (c *Condition) opErr(allowed ...string) error {
	return fmt.Errorf("operation %s is not supported for %s, expected one of %v", c.Op, c.Field, allowed)
}

// Format returns the query text for the filter. Parse(Format(f)) returns the
// filter equal to f.
func Format(f *api.Filter) string {
	if f == nil {
		return ""
	}
	var conds []string
	add := func(fld, v string) {
		if v != "" {
			conds = append(conds, fld+"="+quote(v))
		}
	}
	add(FldService, f.Service)
	add(FldInstance, f.Instance)
	add(FldDirectory, f.Directory)
	add(FldProcess, f.Process)
	add(FldTask, f.Task)
	if len(f.Levels) > 0 {
		lvls := make([]string, len(f.Levels))
		for i, l := range f.Levels {
			lvls[i] = quote(l)
		}
		conds = append(conds, FldLevel+" IN ("+strings.Join(lvls, ", ")+")")
	}
	add(FldFind, f.Find)
	if !f.FromTime.IsZero() {
		add(FldFrom, f.FromTime.Format(time.RFC3339Nano))
	}
	if !f.ToTime.IsZero() {
		add(FldTo, f.ToTime.Format(time.RFC3339Nano))
	}
	return strings.Join(conds, ", ")
}

func quote(v string) string {
	return fmt.Sprintf("%q", v)
}

func upper(ss []string) []string {
	res := make([]string, len(ss))
	for i, s := range ss {
		res[i] = strings.ToUpper(s)
	}
	return res
}
