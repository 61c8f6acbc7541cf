// Copyright 2025 Philipp Hossner
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

package introspection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(v interface{}) Var {
	return Func(func() (interface{}, error) { return v, nil })
}

func failing(msg string) Var {
	return Func(func() (interface{}, error) { return nil, errors.New(msg) })
}

func TestRegistry_PublishAndGet(t *testing.T) {
	reg := NewRegistry()
	assert.Zero(t, reg.Len())
	assert.Equal(t, []string{}, reg.Paths())

	reg.Publish("uptime", value("1h"))
	reg.Publish("resources/VirtualServer", value(3))
	reg.Publish("config", value(map[string]int{"healthz_port": 8081}))
	reg.Publish("uptime", value("2h"))

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []string{"config", "resources/VirtualServer", "uptime"}, reg.Paths())

	got, err := reg.Get("uptime")
	require.NoError(t, err)
	assert.Equal(t, "2h", got, "publish replaces")

	field, err := reg.GetWithField("config", "{.healthz_port}")
	require.NoError(t, err)
	assert.Equal(t, 8081.0, field)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrVarNotFound)
}

func TestRegistry_PublishPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.Publish("", value(1)) })
	assert.Panics(t, func() { reg.Publish("x", nil) })
}

func TestRegistry_All(t *testing.T) {
	reg := NewRegistry()
	reg.Publish("a", value(1))
	reg.Publish("b", value("two"))

	all, err := reg.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": "two"}, all)

	reg.Publish("c", failing("boom"))
	_, err = reg.All()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"c"`)

	_, err = reg.Get("c")
	assert.EqualError(t, err, "boom")
}
