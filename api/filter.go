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

package api

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type (
	// Filter is the feed identity. It scopes which records belong to one
	// feed. Two filters with different Key() values describe different feeds,
	// a changed filter is never a refinement of an existing feed.
	Filter struct {
		Origin

		// Levels contains the set of accepted log levels. Empty set accepts any level
		Levels []string

		// Find is a free-text substring the message must contain
		Find string

		// FromTime and ToTime bound the line time, zero values mean no bound
		FromTime time.Time
		ToTime   time.Time
	}
)

// Key returns the canonical representation of the filter. Filters with equal
// keys describe the same feed.
func (f *Filter) Key() string {
	var sb strings.Builder
	add := func(k, v string) {
		if v == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strconv.Quote(v))
	}
	add("service", f.Service)
	add("instance", f.Instance)
	add("directory", f.Directory)
	add("process", f.Process)
	add("task", f.Task)
	if lvls := f.normLevels(); len(lvls) > 0 {
		for i, l := range lvls {
			lvls[i] = strconv.Quote(l)
		}
		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		sb.WriteString("levels=")
		sb.WriteString(strings.Join(lvls, ","))
	}
	add("find", f.Find)
	if !f.FromTime.IsZero() {
		add("from", f.FromTime.UTC().Format(time.RFC3339Nano))
	}
	if !f.ToTime.IsZero() {
		add("to", f.ToTime.UTC().Format(time.RFC3339Nano))
	}
	return sb.String()
}

// Equal returns whether f and other describe the same feed
func (f *Filter) Equal(other *Filter) bool {
	if other == nil {
		return false
	}
	return f.Key() == other.Key()
}

// OpenEnded returns true if the feed could get new records in future. A filter
// with the upper time bound describes a closed range of history.
func (f *Filter) OpenEnded() bool {
	return f.ToTime.IsZero()
}

// Matches returns whether the line produced by the origin o belongs to the feed
func (f *Filter) Matches(o Origin, ll *LogLine) bool {
	if !matchStr(f.Service, o.Service) || !matchStr(f.Instance, o.Instance) ||
		!matchStr(f.Directory, o.Directory) || !matchStr(f.Process, o.Process) ||
		!matchStr(f.Task, o.Task) {
		return false
	}

	if len(f.Levels) > 0 {
		found := false
		for _, l := range f.Levels {
			if strings.EqualFold(l, ll.Level) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Find != "" && !strings.Contains(ll.Message, f.Find) {
		return false
	}

	if !f.FromTime.IsZero() && ll.Time.Before(f.FromTime) {
		return false
	}
	return f.ToTime.IsZero() || !ll.Time.After(f.ToTime)
}

func (f *Filter) String() string {
	return "{" + f.Key() + "}"
}

func (f *Filter) normLevels() []string {
	if len(f.Levels) == 0 {
		return nil
	}
	res := make([]string, len(f.Levels))
	for i, l := range f.Levels {
		res[i] = strings.ToUpper(l)
	}
	sort.Strings(res)
	n := 0
	for _, l := range res {
		if n == 0 || res[n-1] != l {
			res[n] = l
			n++
		}
	}
	return res[:n]
}

func matchStr(exp, v string) bool {
	return exp == "" || exp == v
}
