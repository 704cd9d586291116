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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// absolute date-time layouts, the first matching one is used
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000 -0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
}

// parseDateTime parses the time point of from and to conditions. The value
// could be specified in one of the forms:
// 		absolute: e.g. '2019-01-02 12:34:55'
// 		relative: e.g. '-3.5h' or  '-24m' etc.
//		special: 'now', 'minute', 'hour', 'day' or 'week'
// 		unix time in nanoseconds
//
// The relative form is -<number>(s|m|h|d) where d stays for 24 hours.
// Examples are: '-1.5h' means the timestamp for 1 hour 30 mins ago from
// the current time.
//
// The special values mean the start of the current minute, hour, day or week
// (Sunday 12:00AM)
func parseDateTime(dt0 string, now time.Time) (time.Time, error) {
	dt := strings.TrimSpace(dt0)

	if tm, err := parseRelativeDateTime(dt, now); err == nil {
		return tm, nil
	}

	if tm, err := parseConstantDateTime(strings.ToLower(dt), now); err == nil {
		return tm, nil
	}

	for _, l := range dateTimeLayouts {
		if tm, err := time.ParseInLocation(l, dt, now.Location()); err == nil {
			return tm, nil
		}
	}

	if v, err := strconv.ParseInt(dt, 10, 64); err == nil {
		return time.Unix(0, v), nil
	}

	return time.Time{}, fmt.Errorf("could not parse value \"%s\" as relative or absolute timestamp", dt0)
}

func parseRelativeDateTime(dt string, now time.Time) (time.Time, error) {
	if len(dt) < 3 || dt[0] != '-' {
		return time.Time{}, fmt.Errorf("wrong relative format. expecting -<number>(s|m|h|d), but got \"%s\"", dt)
	}

	var mult float64
	switch dim := dt[len(dt)-1]; dim {
	case 's':
		mult = float64(time.Second)
	case 'm':
		mult = float64(time.Minute)
	case 'h':
		mult = float64(time.Hour)
	case 'd':
		mult = float64(24 * time.Hour)
	default:
		return time.Time{}, fmt.Errorf("unknown dimension %c at %s", dim, dt)
	}

	val, err := strconv.ParseFloat(dt[1:len(dt)-1], 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "could not parse value %s", dt[1:len(dt)-1])
	}

	return now.Add(-time.Duration(val * mult)), nil
}

func parseConstantDateTime(dt string, now time.Time) (time.Time, error) {
	h, m, s := now.Clock()
	ns := time.Duration(now.Nanosecond())
	switch dt {
	case "now":
		return now, nil
	case "minute":
		return now.Add(-time.Duration(s)*time.Second - ns), nil
	case "hour":
		return now.Add(-time.Duration(m)*time.Minute - time.Duration(s)*time.Second - ns), nil
	case "day":
		return now.Add(-time.Duration(h)*time.Hour - time.Duration(m)*time.Minute - time.Duration(s)*time.Second - ns), nil
	case "week":
		h += 24 * int(now.Weekday())
		return now.Add(-time.Duration(h)*time.Hour - time.Duration(m)*time.Minute - time.Duration(s)*time.Second - ns), nil
	}
	return time.Time{}, fmt.Errorf("unknown time constant \"%s\"", dt)
}
