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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterKey(t *testing.T) {
	f1 := &Filter{Origin: Origin{Service: "api", Instance: "i1"}, Levels: []string{"error", "WARN"}}
	f2 := &Filter{Origin: Origin{Service: "api", Instance: "i1"}, Levels: []string{"WARN", "ERROR"}}
	assert.Equal(t, `service="api"|instance="i1"|levels="ERROR","WARN"`, f1.Key())
	assert.True(t, f1.Equal(f2))
	assert.False(t, f1.Equal(nil))

	f2.Find = "x"
	assert.False(t, f1.Equal(f2))

	loc := time.FixedZone("X", 3600)
	f3 := &Filter{FromTime: time.Date(2019, 1, 1, 1, 0, 0, 0, loc)}
	f4 := &Filter{FromTime: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.True(t, f3.Equal(f4))
}

func TestFilterKeyIsUnambiguous(t *testing.T) {
	f1 := &Filter{Find: "x|levels=WARN"}
	f2 := &Filter{Levels: []string{"WARN"}, Find: "x"}
	assert.NotEqual(t, f1.Key(), f2.Key())
	assert.False(t, f1.Equal(f2))

	f1 = &Filter{Origin: Origin{Service: "a|instance=b"}}
	f2 = &Filter{Origin: Origin{Service: "a", Instance: "b"}}
	assert.False(t, f1.Equal(f2))

	f1 = &Filter{Levels: []string{"WARN,ERROR"}}
	f2 = &Filter{Levels: []string{"WARN", "ERROR"}}
	assert.False(t, f1.Equal(f2))

	f1 = &Filter{Levels: []string{"WARN", "warn", "WARN"}}
	f2 = &Filter{Levels: []string{"WARN"}}
	assert.True(t, f1.Equal(f2))
	assert.Equal(t, `levels="WARN"`, f1.Key())
	assert.Equal(t, []string{"WARN", "warn", "WARN"}, f1.Levels)
}

func TestFilterMatches(t *testing.T) {
	tm := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	o := Origin{Service: "api", Instance: "i1", Task: "t1"}
	ll := &LogLine{Time: tm, Level: "warn", Message: "connection reset by peer"}

	assert.True(t, (&Filter{}).Matches(o, ll))
	assert.True(t, (&Filter{Origin: Origin{Service: "api"}}).Matches(o, ll))
	assert.False(t, (&Filter{Origin: Origin{Service: "db"}}).Matches(o, ll))
	assert.False(t, (&Filter{Origin: Origin{Process: "p"}}).Matches(o, ll))
	assert.True(t, (&Filter{Levels: []string{"WARN", "ERROR"}}).Matches(o, ll))
	assert.False(t, (&Filter{Levels: []string{"ERROR"}}).Matches(o, ll))
	assert.True(t, (&Filter{Find: "reset"}).Matches(o, ll))
	assert.False(t, (&Filter{Find: "Reset"}).Matches(o, ll))
	assert.True(t, (&Filter{FromTime: tm, ToTime: tm}).Matches(o, ll))
	assert.False(t, (&Filter{FromTime: tm.Add(time.Second)}).Matches(o, ll))
	assert.False(t, (&Filter{ToTime: tm.Add(-time.Second)}).Matches(o, ll))
}

func TestRecordIsTerminal(t *testing.T) {
	ok := false
	assert.False(t, Record{Sequence: 1, Payload: LogLine{}}.IsTerminal())
	assert.True(t, Record{Sequence: 1, Payload: LogLine{TerminationStatus: &ok}}.IsTerminal())
	assert.True(t, Record{Sequence: 1, Payload: &LogLine{TerminationStatus: &ok}}.IsTerminal())
	assert.False(t, Record{Sequence: 1, Payload: "text"}.IsTerminal())
	assert.False(t, Record{Sequence: 1}.IsTerminal())
}

func TestOrigin(t *testing.T) {
	assert.True(t, Origin{}.IsEmpty())
	assert.Equal(t, "service=api,task=t1", Origin{Service: "api", Task: "t1"}.String())
}
