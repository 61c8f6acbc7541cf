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

import (
	"sort"
	"sync"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// Store is the authoritative in-memory index of watched resources.
//
// Writes come from the watch layer; the reconciliation loop reads its own
// writes through Get/List, concurrent readers use Snapshot.
//
// Thread-safe for concurrent access.
type Store struct {
	mu        sync.RWMutex
	resources map[Identity]WatchedResource

	// forward maps an owner to the identities it references.
	forward map[Identity][]Identity
	// reverse maps a referenced identity to the owners referencing it.
	reverse map[Identity]map[Identity]struct{}

	generation uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		resources: make(map[Identity]WatchedResource),
		forward:   make(map[Identity][]Identity),
		reverse:   make(map[Identity]map[Identity]struct{}),
	}
}

// Upsert creates or replaces a resource. The stored copy always starts in
// StateUnvalidated and its references are re-extracted.
//
// Returns true when the resource is new or its resource version changed.
func (s *Store) Upsert(res WatchedResource) bool {
	res.State = StateUnvalidated
	refs := ExtractReferences(res)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.resources[res.Identity]
	s.resources[res.Identity] = res
	s.unindexLocked(res.Identity)
	s.indexLocked(res.Identity, refs)
	s.generation++

	return !existed || prev.ResourceVersion != res.ResourceVersion
}

// Delete removes a resource. Returns false when it did not exist.
func (s *Store) Delete(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return false
	}
	delete(s.resources, id)
	s.unindexLocked(id)
	s.generation++
	return true
}

// Get returns the resource with the given identity or ErrNotFound.
func (s *Store) Get(id Identity) (WatchedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.resources[id]
	if !ok {
		return WatchedResource{}, &StoreError{Operation: "get", Identity: id, Err: ErrNotFound}
	}
	return res, nil
}

// List returns all resources of a kind ordered by namespace and name.
func (s *Store) List(kind string) []WatchedResource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listLocked(s.resources, kind)
}

// FindReferencing returns every resource that depends on id directly or
// through other resources, e.g. the VirtualServers using a Policy that
// references a Secret.
func (s *Store) FindReferencing(id Identity) []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return findReferencing(s.reverse, id)
}

// SetState records the validation outcome of the given version of a
// resource. It is ignored when the resource was deleted or updated to
// another version while it was validated.
func (s *Store) SetState(id Identity, resourceVersion string, state ValidationState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.resources[id]
	if !ok || res.ResourceVersion != resourceVersion || res.State == state {
		return
	}
	res.State = state
	s.resources[id] = res
}

// Counts returns the number of stored resources per kind.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, rk := range v1.WatchedKinds {
		counts[rk.Kind] = 0
	}
	for id := range s.resources {
		counts[id.Kind]++
	}
	return counts
}

// Snapshot returns an immutable copy of the current contents.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Generation: s.generation,
		resources:  make(map[Identity]WatchedResource, len(s.resources)),
		reverse:    make(map[Identity]map[Identity]struct{}, len(s.reverse)),
	}
	for id, res := range s.resources {
		snap.resources[id] = res
	}
	for id, owners := range s.reverse {
		cp := make(map[Identity]struct{}, len(owners))
		for owner := range owners {
			cp[owner] = struct{}{}
		}
		snap.reverse[id] = cp
	}
	return snap
}

func (s *Store) indexLocked(owner Identity, refs []Identity) {
	if len(refs) == 0 {
		return
	}
	s.forward[owner] = refs
	for _, ref := range refs {
		owners, ok := s.reverse[ref]
		if !ok {
			owners = make(map[Identity]struct{})
			s.reverse[ref] = owners
		}
		owners[owner] = struct{}{}
	}
}

func (s *Store) unindexLocked(owner Identity) {
	for _, ref := range s.forward[owner] {
		owners := s.reverse[ref]
		delete(owners, owner)
		if len(owners) == 0 {
			delete(s.reverse, ref)
		}
	}
	delete(s.forward, owner)
}

func listLocked(resources map[Identity]WatchedResource, kind string) []WatchedResource {
	out := make([]WatchedResource, 0)
	for id, res := range resources {
		if id.Kind == kind {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.Less(out[j].Identity) })
	return out
}

func findReferencing(reverse map[Identity]map[Identity]struct{}, id Identity) []Identity {
	start := id
	if id.Kind == v1.KindGlobalConfiguration {
		start = Identity{Kind: v1.KindGlobalConfiguration}
	}

	seen := map[Identity]struct{}{id: {}}
	queue := []Identity{start}
	var out []Identity
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for owner := range reverse[cur] {
			if _, ok := seen[owner]; ok {
				continue
			}
			seen[owner] = struct{}{}
			out = append(out, owner)
			queue = append(queue, owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
