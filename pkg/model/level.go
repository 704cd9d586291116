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
	"sort"
	"strings"
)

// KnownLevels contains the log levels from the least to the most severe one
var KnownLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR"}

// LevelRank returns the severity rank of the level. Unknown levels have the
// rank above all known ones.
func LevelRank(level string) int {
	lvl := strings.ToUpper(level)
	for i, l := range KnownLevels {
		if l == lvl {
			return i
		}
	}
	return len(KnownLevels)
}

// SortLevels sorts levels by severity in place, unknown levels go last
func SortLevels(levels []string) []string {
	sort.SliceStable(levels, func(i, j int) bool { return LevelRank(levels[i]) < LevelRank(levels[j]) })
	return levels
}

// WithSubLevels returns level and all more severe levels from levels. If
// levels is empty, KnownLevels is used. Returns nil if level is not in the list.
func WithSubLevels(level string, levels []string) []string {
	if len(levels) == 0 {
		levels = KnownLevels
	}
	sorted := SortLevels(append([]string(nil), levels...))
	for i, l := range sorted {
		if strings.EqualFold(l, level) {
			return sorted[i:]
		}
	}
	return nil
}
