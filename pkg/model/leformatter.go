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

package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrange/lrfeed/api"
)

type (
	formatField struct {
		typ   int
		value string
	}

	// FormatParser struct provides simple record formatting functionality. The
	// FormatParser is used for printing feed records in the client.
	FormatParser struct {
		fields []formatField
		now    func() time.Time
	}
)

const (
	frmtFldTs = iota
	frmtFldAgo
	frmtFldMsg
	frmtFldLevel
	frmtFldUnit
	frmtFldSeq
	frmtFldConst
)

// NewFormatParser returns FormatParser for the format string provided or returns an error if any.
//
// The following conventions is applied for the format string fstr: record fields
// should be placed into curly braces '{', '}':
// {msg} 	- the line message
// {level} 	- the line level
// {unit} 	- the line unit
// {seq} 	- the record sequence number
// {ts} 	- the line timestamp in RFC3339 format
// {ts:<format>} 	- the line timestamp in the format provided
// {ago} 	- the line timestamp relative to now, like "3 minutes ago"
//
// Example:
// 	"{ts:15:04:05.000} {level}: {msg}" - will print the time, level and the message
func NewFormatParser(fstr string) (*FormatParser, error) {
	fields := make([]formatField, 0, 10)
	state := 0
	startIdx := 0
	for i, rune := range fstr {
		switch state {
		case 0:
			if rune == '{' {
				if i-startIdx > 0 {
					fields = append(fields, formatField{frmtFldConst, fstr[startIdx:i]})
				}
				state = 1
				startIdx = i + 1
			}
		case 1:
			if rune == '}' {
				val := strings.Trim(fstr[startIdx:i], " ")
				cv := strings.ToLower(val)
				switch {
				case cv == "msg":
					fields = append(fields, formatField{frmtFldMsg, ""})
				case cv == "level":
					fields = append(fields, formatField{frmtFldLevel, ""})
				case cv == "unit":
					fields = append(fields, formatField{frmtFldUnit, ""})
				case cv == "seq":
					fields = append(fields, formatField{frmtFldSeq, ""})
				case cv == "ago":
					fields = append(fields, formatField{frmtFldAgo, ""})
				case cv == "ts":
					fields = append(fields, formatField{frmtFldTs, time.RFC3339})
				case strings.HasPrefix(cv, "ts:"):
					fields = append(fields, formatField{frmtFldTs, val[3:]})
				default:
					return nil, fmt.Errorf("unknown field {%s}. Expected values are: {msg}, {level}, {unit}, {seq}, {ago}, {ts}, {ts:<time format>}", val)
				}
				startIdx = i + 1
				state = 0
			}
		}
	}

	if state != 0 {
		return nil, fmt.Errorf("unexpected end of string, '}' is not found")
	}

	if startIdx < len(fstr) {
		fields = append(fields, formatField{frmtFldConst, fstr[startIdx:]})
	}

	return &FormatParser{fields: fields, now: time.Now}, nil
}

// FormatStr formats the record. Payloads other than api.LogLine are printed
// with the %v verb in place of {msg}.
func (fp *FormatParser) FormatStr(r *api.Record) string {
	var ll api.LogLine
	other := ""
	switch p := r.Payload.(type) {
	case api.LogLine:
		ll = p
	case *api.LogLine:
		if p != nil {
			ll = *p
		}
	case nil:
	default:
		other = fmt.Sprintf("%v", p)
	}

	var buf strings.Builder
	for _, ff := range fp.fields {
		switch ff.typ {
		case frmtFldTs:
			if len(ff.value) > 0 && !ll.Time.IsZero() {
				buf.WriteString(ll.Time.Format(ff.value))
			}
		case frmtFldAgo:
			if !ll.Time.IsZero() {
				buf.WriteString(humanize.RelTime(ll.Time, fp.now(), "ago", "from now"))
			}
		case frmtFldMsg:
			if other != "" {
				buf.WriteString(other)
			} else {
				buf.WriteString(ll.Message)
			}
		case frmtFldLevel:
			buf.WriteString(ll.Level)
		case frmtFldUnit:
			buf.WriteString(ll.Unit)
		case frmtFldSeq:
			buf.WriteString(strconv.FormatUint(uint64(r.Sequence), 10))
		case frmtFldConst:
			buf.WriteString(ff.value)
		}
	}
	return buf.String()
}
