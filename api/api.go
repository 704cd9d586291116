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

// Package api contains structures and data-type definitions shared between
// feed sources (the transport side) and the feed consolidator (the view side).
//
// The following rules must be obeyed when a change is needed:
//  - Names of existing data-types cannot be changed
//  - Names of struct fields must be capitalized and cannot be changed
//  - Types of already existing fields cannot be changed
//  - Functions params and signatures cannot be changed.
//  - New fields could be added to the existing data structures
//  - New types and structures could be added
package api

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Sequence is a per-feed, strictly increasing, never reused record number.
	// The value 0 is never assigned to a record, so it is used as "unset" in
	// requests.
	Sequence uint64

	// Record is a sequenced payload. The payload is opaque for the consolidator
	// and must not be modified after the record is delivered.
	Record struct {
		Sequence Sequence
		Payload  interface{}
	}

	// Terminator could be implemented by a record payload. A payload which
	// returns true from Terminal() is the last record of its feed.
	Terminator interface {
		Terminal() bool
	}

	// LogLine is the payload of a service or task log record.
	LogLine struct {
		// Time contains the time-stamp when the line was produced
		Time time.Time

		// Level is the log level, like INFO, WARN etc.
		Level string

		// Unit names the component which wrote the line
		Unit string

		// Message contains the line text
		Message string

		// TerminationStatus is set for the last line of a task log only. It
		// contains whether the task was successful.
		TerminationStatus *bool
	}

	// Origin identifies the producer of log lines.
	Origin struct {
		Service   string
		Instance  string
		Directory string
		Process   string
		Task      string
	}
)

// Terminal is a part of Terminator
func (ll LogLine) Terminal() bool {
	return ll.TerminationStatus != nil
}

func (ll LogLine) String() string {
	ts := ""
	if ll.TerminationStatus != nil {
		ts = fmt.Sprintf(", Terminated: %t", *ll.TerminationStatus)
	}
	return fmt.Sprintf("{Time: %s, Level: %s, Unit: %s, Message: %s%s}", ll.Time.Format(time.RFC3339Nano), ll.Level,
		ll.Unit, ll.Message, ts)
}

func (r Record) String() string {
	return fmt.Sprintf("{Seq: %d, Payload: %v}", r.Sequence, r.Payload)
}

// IsTerminal returns whether the record payload marks the end of its feed
func (r Record) IsTerminal() bool {
	if t, ok := r.Payload.(Terminator); ok {
		return t.Terminal()
	}
	return false
}

// IsEmpty returns true if no origin field is set
func (o Origin) IsEmpty() bool {
	return o == Origin{}
}

func (o Origin) String() string {
	var sb strings.Builder
	add := func(k, v string) {
		if v == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(v)
	}
	add("service", o.Service)
	add("instance", o.Instance)
	add("directory", o.Directory)
	add("process", o.Process)
	add("task", o.Task)
	return sb.String()
}
