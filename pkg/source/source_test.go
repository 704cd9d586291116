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

package source

import (
	"path/filepath"
	"testing"

	"github.com/logrange/lrfeed/pkg/source/file"
	"github.com/logrange/lrfeed/pkg/source/inmem"
	"github.com/logrange/lrfeed/pkg/source/sqlite"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	s, err := New(NewDefaultConfig())
	assert.NoError(t, err)
	im, ok := s.(*inmem.Source)
	if !ok {
		t.Fatal("expected in-memory source, but got ", s)
	}
	defer im.Shutdown()

	dir := t.TempDir()
	s, err = New(&Config{Type: "File", Params: map[string]interface{}{"dir": dir, "pollIntervalMs": "10"}})
	assert.NoError(t, err)
	_, ok = s.(*file.Source)
	assert.True(t, ok)
	_, ok = s.(Initializer)
	assert.True(t, ok)

	s, err = New(&Config{Type: TypeSqlite, Params: map[string]interface{}{"path": filepath.Join(dir, "a.db")}})
	assert.NoError(t, err)
	_, ok = s.(*sqlite.Source)
	assert.True(t, ok)
	_, ok = s.(Shutdowner)
	assert.True(t, ok)
}

func TestCheck(t *testing.T) {
	assert.Error(t, (&Config{Type: "kafka"}).Check())
	assert.Error(t, (&Config{Type: TypeInMem, Params: map[string]interface{}{"size": 10}}).Check())
	assert.Error(t, (&Config{Type: TypeInMem, Params: map[string]interface{}{"capacity": -1}}).Check())
	assert.Error(t, (&Config{Type: TypeSqlite, Params: map[string]interface{}{"path": ""}}).Check())
	assert.NoError(t, (&Config{Type: TypeInMem, Params: map[string]interface{}{"capacity": "10"}}).Check())
}

func TestApply(t *testing.T) {
	c := NewDefaultConfig()
	c.Apply(&Config{Params: map[string]interface{}{"capacity": 10}})
	assert.Equal(t, TypeInMem, c.Type)
	assert.Equal(t, 10, c.Params["capacity"])

	c.Apply(&Config{Type: TypeFile, Params: map[string]interface{}{"dir": "/tmp"}})
	assert.Equal(t, TypeFile, c.Type)
	assert.Equal(t, map[string]interface{}{"dir": "/tmp"}, c.Params)
	c.Apply(nil)
	assert.Equal(t, TypeFile, c.Type)
}
