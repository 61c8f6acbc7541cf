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

package resourcestore

import "sort"

// Snapshot is an immutable view of the store at one point in time.
type Snapshot struct {
	// Generation increases with every store mutation.
	Generation uint64

	resources map[Identity]WatchedResource
	reverse   map[Identity]map[Identity]struct{}
}

// NewSnapshot builds a snapshot from a fixed set of resources. Used by the
// offline renderer and by tests.
func NewSnapshot(resources ...WatchedResource) *Snapshot {
	s := New()
	for _, res := range resources {
		s.Upsert(res)
	}
	return s.Snapshot()
}

// Get returns the resource with the given identity.
func (s *Snapshot) Get(id Identity) (WatchedResource, bool) {
	res, ok := s.resources[id]
	return res, ok
}

// List returns all resources of a kind ordered by namespace and name.
func (s *Snapshot) List(kind string) []WatchedResource {
	return listLocked(s.resources, kind)
}

// ListByAge returns all resources of a kind, oldest first.
func (s *Snapshot) ListByAge(kind string) []WatchedResource {
	out := listLocked(s.resources, kind)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OlderThan(out[j]) })
	return out
}

// FindReferencing returns every resource that depends on id.
func (s *Snapshot) FindReferencing(id Identity) []Identity {
	return findReferencing(s.reverse, id)
}

// Len returns the number of resources in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.resources)
}
