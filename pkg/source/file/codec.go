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

package file

import (
	"strconv"
	"strings"
	"time"

	"github.com/kr/logfmt"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/logrange/range/pkg/utils/bytes"
	"github.com/pkg/errors"
)

// journal line fields
const (
	fldSeq       = "seq"
	fldTime      = "ts"
	fldLevel     = "level"
	fldUnit      = "unit"
	fldService   = "service"
	fldInstance  = "instance"
	fldDirectory = "dir"
	fldProcess   = "process"
	fldTask      = "task"
	fldTerm      = "term"
	fldMsg       = "msg"
)

type (
	// lineDecoder is logfmt.Handler which collects the journal line fields
	lineDecoder struct {
		seqOnly bool
		seq     api.Sequence
		origin  api.Origin
		ll      api.LogLine
	}
)

// encodeLine writes the record into sb in logfmt form, terminated by '\n'
func encodeLine(sb *strings.Builder, seq api.Sequence, o api.Origin, ll *api.LogLine) {
	sb.WriteString(fldSeq)
	sb.WriteByte('=')
	sb.WriteString(strconv.FormatUint(uint64(seq), 10))
	writeField(sb, fldTime, ll.Time.UTC().Format(time.RFC3339Nano), false)
	writeField(sb, fldLevel, ll.Level, false)
	writeField(sb, fldUnit, ll.Unit, false)
	writeField(sb, fldService, o.Service, false)
	writeField(sb, fldInstance, o.Instance, false)
	writeField(sb, fldDirectory, o.Directory, false)
	writeField(sb, fldProcess, o.Process, false)
	writeField(sb, fldTask, o.Task, false)
	if v, ok := utils.PtrBool(ll.TerminationStatus); ok {
		writeField(sb, fldTerm, strconv.FormatBool(v), false)
	}
	writeField(sb, fldMsg, ll.Message, true)
	sb.WriteByte('\n')
}

func writeField(sb *strings.Builder, key, val string, always bool) {
	if val == "" && !always {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')
	if needsQuotes(val) {
		utils.WriteQuoted(sb, val)
	} else {
		sb.WriteString(val)
	}
}

func needsQuotes(val string) bool {
	if val == "" {
		return true
	}
	for i := 0; i < len(val); i++ {
		if c := val[i]; c <= ' ' || c == '=' || c == '"' || c == '\\' || c >= 0x7f {
			return true
		}
	}
	return false
}

// decodeLine parses the journal line. If seqOnly is true, only the sequence
// number is decoded.
func decodeLine(line []byte, seqOnly bool) (*lineDecoder, error) {
	ld := &lineDecoder{seqOnly: seqOnly}
	if err := logfmt.Unmarshal(line, ld); err != nil {
		return nil, errors.Wrapf(err, "could not parse journal line %q", line)
	}
	if ld.seq == 0 {
		return nil, errors.Errorf("no sequence number in the journal line %q", line)
	}
	return ld, nil
}

// HandleLogfmt is a part of logfmt.Handler
func (ld *lineDecoder) HandleLogfmt(key, val []byte) error {
	k := bytes.ByteArrayToString(key)
	if k == fldSeq {
		v, err := strconv.ParseUint(bytes.ByteArrayToString(val), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "wrong sequence number %s", val)
		}
		ld.seq = api.Sequence(v)
		return nil
	}
	if ld.seqOnly {
		return nil
	}

	switch k {
	case fldTime:
		tm, err := time.Parse(time.RFC3339Nano, bytes.ByteArrayToString(val))
		if err != nil {
			return errors.Wrapf(err, "wrong time-stamp %s", val)
		}
		ld.ll.Time = tm
	case fldLevel:
		ld.ll.Level = string(val)
	case fldUnit:
		ld.ll.Unit = string(val)
	case fldService:
		ld.origin.Service = string(val)
	case fldInstance:
		ld.origin.Instance = string(val)
	case fldDirectory:
		ld.origin.Directory = string(val)
	case fldProcess:
		ld.origin.Process = string(val)
	case fldTask:
		ld.origin.Task = string(val)
	case fldTerm:
		b, err := strconv.ParseBool(bytes.ByteArrayToString(val))
		if err != nil {
			return errors.Wrapf(err, "wrong termination status %s", val)
		}
		ld.ll.TerminationStatus = utils.BoolPtr(b)
	case fldMsg:
		ld.ll.Message = string(val)
	}
	return nil
}

func (ld *lineDecoder) record() api.Record {
	return api.Record{Sequence: ld.seq, Payload: ld.ll}
}
