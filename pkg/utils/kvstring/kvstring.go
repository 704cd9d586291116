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

// Package kvstring parses the key=value lists given on the command line, like
// the --origin and --source-param values: `service=api, task="backup 1"`.
// The list could be put into curly braces.
package kvstring

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ToMap parses the comma separated list of key=value pairs. A value could be
// double-quoted or back-quoted, then it could contain commas and equal signs.
// Keys are case sensitive and must be unique.
func ToMap(kvs string) (map[string]string, error) {
	body := strings.TrimSpace(kvs)
	if strings.HasPrefix(body, "{") || strings.HasSuffix(body, "}") {
		if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
			return nil, errors.Errorf("unbalanced curly braces in %q", kvs)
		}
		body = strings.TrimSpace(body[1 : len(body)-1])
	}

	res := make(map[string]string)
	if body == "" {
		return res, nil
	}
	pairs, err := splitPairs(body)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %q", kvs)
	}
	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			return nil, errors.Errorf("%q in %q must be a <key>=<value> pair", p, kvs)
		}
		k := strings.TrimSpace(p[:idx])
		v := strings.TrimSpace(p[idx+1:])
		if k == "" {
			return nil, errors.Errorf("empty key in %q of %q", p, kvs)
		}
		if _, ok := res[k]; ok {
			return nil, errors.Errorf("the key %q is met twice in %q", k, kvs)
		}
		if len(v) > 0 && (v[0] == '"' || v[0] == '`') {
			uv, err := strconv.Unquote(v)
			if err != nil {
				return nil, errors.Wrapf(err, "wrong quoted value of %q in %q", k, kvs)
			}
			v = uv
		}
		res[k] = v
	}
	return res, nil
}

// splitPairs splits s by commas which are not in quotes
func splitPairs(s string) ([]string, error) {
	var res []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' && quote == '"' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '`':
			quote = c
		case c == ',':
			res = append(res, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, errors.Errorf("the quotation %c is not closed", quote)
	}
	return append(res, s[start:]), nil
}
