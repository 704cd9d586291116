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

package fql

import (
	"testing"
	"time"

	"github.com/logrange/lrfeed/api"
	"github.com/stretchr/testify/assert"
)

func TestParseOrigin(t *testing.T) {
	f, err := Parse(`service=api, instance="api-1" AND directory=/var/log, process=nginx, task=t-123`)
	assert.NoError(t, err)
	assert.Equal(t, api.Origin{Service: "api", Instance: "api-1", Directory: "/var/log", Process: "nginx", Task: "t-123"}, f.Origin)
	assert.True(t, f.OpenEnded())
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse("   ")
	assert.NoError(t, err)
	assert.Equal(t, &api.Filter{}, f)
}

func TestParseLevels(t *testing.T) {
	f, err := Parse("level>=warn")
	assert.NoError(t, err)
	assert.Equal(t, []string{"WARN", "WARNING", "ERROR"}, f.Levels)

	f, err = Parse("level in (error, \"info\")")
	assert.NoError(t, err)
	assert.Equal(t, []string{"INFO", "ERROR"}, f.Levels)

	f, err = Parse("levels=(DEBUG)")
	assert.NoError(t, err)
	assert.Equal(t, []string{"DEBUG"}, f.Levels)

	f, err = Parse("level=ERROR")
	assert.NoError(t, err)
	assert.Equal(t, []string{"ERROR"}, f.Levels)

	_, err = Parse("level>=FATAL")
	assert.Error(t, err)
}

func TestParseTimes(t *testing.T) {
	now := time.Date(2019, 5, 10, 12, 30, 15, 0, time.UTC)
	q, err := ParseQuery(`from=-1.5h, to="2019-05-10 12:00:00", find="connection reset"`)
	assert.NoError(t, err)
	f, err := q.Filter(now)
	assert.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), f.FromTime)
	assert.Equal(t, time.Date(2019, 5, 10, 12, 0, 0, 0, time.UTC), f.ToTime)
	assert.Equal(t, "connection reset", f.Find)
	assert.False(t, f.OpenEnded())

	q, err = ParseQuery(`from>=day`)
	assert.NoError(t, err)
	f, err = q.Filter(now)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2019, 5, 10, 0, 0, 0, 0, time.UTC), f.FromTime)
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"service",
		"service=",
		"service>=api",
		"color=red",
		"service=a, service=b",
		"level=INFO, levels=(WARN)",
		"from=yesterday-ish",
		"to>=-1h",
		"service=a,,",
	}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Fatal("expecting an error for ", s)
		}
	}
}

func TestFormat(t *testing.T) {
	f := &api.Filter{
		Origin:   api.Origin{Service: "api", Task: "t 1"},
		Levels:   []string{"WARN", "ERROR"},
		Find:     `say "hi"`,
		FromTime: time.Date(2019, 5, 10, 12, 30, 15, 0, time.UTC),
	}
	s := Format(f)
	assert.Equal(t, `service="api", task="t 1", level IN ("WARN", "ERROR"), find="say \"hi\"", from="2019-05-10T12:30:15Z"`, s)

	f2, err := Parse(s)
	assert.NoError(t, err)
	assert.True(t, f.Equal(f2))
	assert.Equal(t, "", Format(nil))
}

func TestParseDateTime(t *testing.T) {
	now := time.Date(2019, 5, 10, 12, 30, 15, 123, time.UTC)
	for _, w := range []string{"now", "minute", "hour", "day", "week"} {
		tm, err := parseDateTime(w, now)
		if err != nil {
			t.Fatal("expecting no error, but err=", err, " for ", w)
		}
		if tm.After(now) {
			t.Fatal("expecting ", tm, " not after ", now, " for ", w)
		}
	}
	tm, _ := parseDateTime("week", now)
	assert.Equal(t, time.Date(2019, 5, 5, 0, 0, 0, 0, time.UTC), tm)

	tm, err := parseDateTime("1557491415000000000", now)
	assert.NoError(t, err)
	assert.Equal(t, int64(1557491415000000000), tm.UnixNano())

	_, err = parseDateTime(" - 12 h", now)
	assert.Error(t, err)
}
