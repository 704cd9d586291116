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

package sqlite

import (
	"strings"

	"github.com/logrange/lrfeed/api"
)

// where builds the WHERE clause which selects the lines matching a filter
type where struct {
	conds []string
	args  []interface{}
}

func newWhere(f *api.Filter) *where {
	w := new(where)
	w.addStr("service", f.Service)
	w.addStr("instance", f.Instance)
	w.addStr("directory", f.Directory)
	w.addStr("process", f.Process)
	w.addStr("task", f.Task)

	if len(f.Levels) > 0 {
		ph := make([]string, len(f.Levels))
		args := make([]interface{}, len(f.Levels))
		for i, l := range f.Levels {
			ph[i] = "?"
			args[i] = strings.ToUpper(l)
		}
		w.add("UPPER(level) IN ("+strings.Join(ph, ", ")+")", args...)
	}

	if f.Find != "" {
		w.add("instr(msg, ?) > 0", f.Find)
	}
	if !f.FromTime.IsZero() {
		w.add("ts >= ?", f.FromTime.UnixNano())
	}
	if !f.ToTime.IsZero() {
		w.add("ts <= ?", f.ToTime.UnixNano())
	}
	return w
}

func (w *where) addStr(col, v string) {
	if v != "" {
		w.add(col+" = ?", v)
	}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
