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

// Package claims arbitrates exclusive ownership of network-facing bindings.
//
// A Table remembers which resource owns each key across reconciliation
// passes. The first claimant of a key keeps it for as long as it keeps
// claiming it; later claimants are rejected with a Conflict. When the owner
// is deleted or stops claiming the key, the oldest remaining claimant is
// promoted.
package claims

import (
	"fmt"
	"sort"
	"sync"

	"nginx-reconciler/pkg/controller/resourcestore"
)

// ListenerKey identifies a listener binding.
type ListenerKey struct {
	Name     string
	Port     int
	Protocol string
	TLSMode  string
}

// HostKey identifies a hostname binding.
type HostKey string

// Claim lists the keys a resource wants to own.
type Claim[K comparable] struct {
	Claimant resourcestore.Identity
	Keys     []K
}

// Conflict is returned for every key a claimant did not get.
type Conflict[K comparable] struct {
	Key   K
	Owner resourcestore.Identity

	subject string
}

func (c *Conflict[K]) Error() string {
	return fmt.Sprintf("%s is taken by another resource", c.subject)
}

// Result is the outcome of one arbitration round.
type Result[K comparable] struct {
	// Conflicts holds the rejected keys per claimant.
	Conflicts map[resourcestore.Identity][]*Conflict[K]

	// Promoted lists claimants that own a key previously owned by another resource.
	Promoted []resourcestore.Identity
}

// Rejected reports whether id lost at least one key.
func (r Result[K]) Rejected(id resourcestore.Identity) bool {
	return len(r.Conflicts[id]) > 0
}

// Table holds the current owner of every key.
//
// Thread-safe for concurrent access.
type Table[K comparable] struct {
	mu       sync.RWMutex
	owners   map[K]resourcestore.Identity
	describe func(K) string
}

// NewTable creates an empty table. describe renders a key as the subject of
// the conflict message, e.g. "Host" or "Listener tcp-server".
func NewTable[K comparable](describe func(K) string) *Table[K] {
	return &Table[K]{
		owners:   make(map[K]resourcestore.Identity),
		describe: describe,
	}
}

// NewListenerTable creates a table for listener claims.
func NewListenerTable() *Table[ListenerKey] {
	return NewTable(func(k ListenerKey) string { return "Listener " + k.Name })
}

// NewHostTable creates a table for host claims.
func NewHostTable() *Table[HostKey] {
	return NewTable(func(HostKey) string { return "Host" })
}

// Arbitrate applies the complete set of current claims. claims must be
// ordered oldest claimant first; that order decides ties between claimants
// of a key nobody owns yet and which pending claimant is promoted.
//
// Keys that nobody claims any more are released.
func (t *Table[K]) Arbitrate(claims []Claim[K]) Result[K] {
	t.mu.Lock()
	defer t.mu.Unlock()

	desired := make(map[K][]resourcestore.Identity)
	var order []K
	for _, c := range claims {
		for _, key := range c.Keys {
			if _, ok := desired[key]; !ok {
				order = append(order, key)
			}
			if !containsIdentity(desired[key], c.Claimant) {
				desired[key] = append(desired[key], c.Claimant)
			}
		}
	}

	released := make(map[K]bool)
	for key, owner := range t.owners {
		if !containsIdentity(desired[key], owner) {
			delete(t.owners, key)
			released[key] = true
		}
	}

	result := Result[K]{Conflicts: make(map[resourcestore.Identity][]*Conflict[K])}
	promoted := make(map[resourcestore.Identity]struct{})

	for _, key := range order {
		claimants := desired[key]
		owner, owned := t.owners[key]
		if !owned {
			owner = claimants[0]
			t.owners[key] = owner
			if released[key] {
				promoted[owner] = struct{}{}
			}
		}
		for _, claimant := range claimants {
			if claimant == owner {
				continue
			}
			result.Conflicts[claimant] = append(result.Conflicts[claimant], &Conflict[K]{
				Key:     key,
				Owner:   owner,
				subject: t.describe(key),
			})
		}
	}

	for id := range promoted {
		result.Promoted = append(result.Promoted, id)
	}
	sort.Slice(result.Promoted, func(i, j int) bool { return result.Promoted[i].Less(result.Promoted[j]) })
	return result
}

// Owner returns the current owner of key.
func (t *Table[K]) Owner(key K) (resourcestore.Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	owner, ok := t.owners[key]
	return owner, ok
}

// Len returns the number of owned keys.
func (t *Table[K]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.owners)
}

func containsIdentity(ids []resourcestore.Identity, id resourcestore.Identity) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
