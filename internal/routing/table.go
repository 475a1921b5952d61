// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package routing

import (
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// Table maps an event type to the route carrying it to a sink.
type Table struct {
	routes sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(route *core.Route) {
	t.routes.Store(route.Source, route)
}

func (t *Table) Remove(source string) {
	t.routes.Delete(source)
}

func (t *Table) Lookup(source string) (*core.Route, bool) {
	v, ok := t.routes.Load(source)
	if !ok {
		return nil, false
	}
	return v.(*core.Route), true
}

// Resolve returns the route for eventType, falling back to the wildcard route.
func (t *Table) Resolve(eventType core.EventType) (*core.Route, bool) {
	if r, ok := t.Lookup(string(eventType)); ok {
		return r, true
	}
	return t.Lookup(core.RouteWildcard)
}

func (t *Table) ReplaceAll(routes []*core.Route) {
	t.routes.Range(func(key, _ any) bool {
		t.routes.Delete(key)
		return true
	})
	for _, r := range routes {
		t.routes.Store(r.Source, r)
	}
}

// Routes returns a snapshot sorted by source.
func (t *Table) Routes() []*core.Route {
	var out []*core.Route
	t.routes.Range(func(_, v any) bool {
		out = append(out, v.(*core.Route))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
