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
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"regexp"
	"unicode/utf8"

	"github.com/alecthomas/participle/lexer"
)

// longestDefinition is lexer.Definition, which chooses the longest match of
// the named sub-expressions instead of the first one. This way the keyword
// "in" does not cut the identifier "instance".
type longestDefinition struct {
	re      *regexp.Regexp
	symbols map[string]rune
}

type longestLexer struct {
	pos   lexer.Position
	b     []byte
	re    *regexp.Regexp
	names []string
}

var eol = []byte("\n")

// newLongestDefinition creates the lexer definition from the regular expression.
// Named sub-expressions are tokens, anonymous ones are matched and dropped.
func newLongestDefinition(pattern string) (lexer.Definition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	symbols := map[string]rune{
		"EOF": lexer.EOF,
	}
	for i, sym := range re.SubexpNames()[1:] {
		if sym != "" {
			symbols[sym] = lexer.EOF - 1 - rune(i)
		}
	}

	re.Longest()
	return &longestDefinition{re: re, symbols: symbols}, nil
}

func (d *longestDefinition) Lex(r io.Reader) (lexer.Lexer, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &longestLexer{
		pos:   lexer.Position{Filename: lexer.NameOfReader(r), Line: 1, Column: 1},
		b:     b,
		re:    d.re,
		names: d.re.SubexpNames(),
	}, nil
}

func (d *longestDefinition) Symbols() map[string]rune {
	return d.symbols
}

func (l *longestLexer) Next() (lexer.Token, error) {
	for len(l.b) != 0 {
		m := l.re.FindSubmatchIndex(l.b)
		if m == nil || m[0] != 0 {
			rn, _ := utf8.DecodeRune(l.b)
			return lexer.Token{}, fmt.Errorf("invalid token %q, pos=%s", rn, l.pos)
		}
		match := l.b[:m[1]]
		tok := lexer.Token{Pos: l.pos, Value: string(match)}

		l.pos.Offset += m[1]
		if lines := bytes.Count(match, eol); lines == 0 {
			l.pos.Column += utf8.RuneCount(match)
		} else {
			l.pos.Line += lines
			l.pos.Column = utf8.RuneCount(match[bytes.LastIndex(match, eol):])
		}
		l.b = l.b[m[1]:]

		named := false
		for i := 2; i < len(m); i += 2 {
			if m[i] != -1 && l.names[i/2] != "" {
				tok.Type = lexer.EOF - rune(i/2)
				named = true
				break
			}
		}
		if named {
			return tok, nil
		}
	}

	return lexer.EOFToken(l.pos), nil
}
