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

package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nginx-reconciler/pkg/controller/resourcestore"
)

func ts(name string) resourcestore.Identity {
	return resourcestore.Identity{Kind: "TransportServer", Namespace: "default", Name: name}
}

var tcpListener = ListenerKey{Name: "tcp-server", Port: 3333, Protocol: "TCP"}

func TestTable_FirstClaimWins(t *testing.T) {
	table := NewListenerTable()

	result := table.Arbitrate([]Claim[ListenerKey]{
		{Claimant: ts("a"), Keys: []ListenerKey{tcpListener}},
		{Claimant: ts("b"), Keys: []ListenerKey{tcpListener}},
	})

	owner, ok := table.Owner(tcpListener)
	require.True(t, ok)
	assert.Equal(t, ts("a"), owner)
	assert.False(t, result.Rejected(ts("a")))
	require.True(t, result.Rejected(ts("b")))
	assert.EqualError(t, result.Conflicts[ts("b")][0], "Listener tcp-server is taken by another resource")
	assert.Equal(t, ts("a"), result.Conflicts[ts("b")][0].Owner)
}

func TestTable_IncumbentKeepsKeyAgainstOlderClaimant(t *testing.T) {
	table := NewHostTable()
	table.Arbitrate([]Claim[HostKey]{{Claimant: ts("b"), Keys: []HostKey{"foo"}}})

	// a sorts first in the next round but b already owns the key.
	result := table.Arbitrate([]Claim[HostKey]{
		{Claimant: ts("a"), Keys: []HostKey{"foo"}},
		{Claimant: ts("b"), Keys: []HostKey{"foo"}},
	})

	owner, _ := table.Owner("foo")
	assert.Equal(t, ts("b"), owner)
	require.True(t, result.Rejected(ts("a")))
	assert.EqualError(t, result.Conflicts[ts("a")][0], "Host is taken by another resource")
	assert.Empty(t, result.Promoted)
}

func TestTable_ReleasePromotesOldestPending(t *testing.T) {
	table := NewListenerTable()
	table.Arbitrate([]Claim[ListenerKey]{
		{Claimant: ts("a"), Keys: []ListenerKey{tcpListener}},
		{Claimant: ts("b"), Keys: []ListenerKey{tcpListener}},
		{Claimant: ts("c"), Keys: []ListenerKey{tcpListener}},
	})

	// a is deleted.
	result := table.Arbitrate([]Claim[ListenerKey]{
		{Claimant: ts("b"), Keys: []ListenerKey{tcpListener}},
		{Claimant: ts("c"), Keys: []ListenerKey{tcpListener}},
	})

	owner, _ := table.Owner(tcpListener)
	assert.Equal(t, ts("b"), owner)
	assert.Equal(t, []resourcestore.Identity{ts("b")}, result.Promoted)
	assert.False(t, result.Rejected(ts("b")))
	assert.True(t, result.Rejected(ts("c")), "exactly one pending claimant is promoted")
}

func TestTable_DroppingKeyReleasesIt(t *testing.T) {
	table := NewListenerTable()
	other := ListenerKey{Name: "udp-server", Port: 5353, Protocol: "UDP"}
	table.Arbitrate([]Claim[ListenerKey]{
		{Claimant: ts("a"), Keys: []ListenerKey{tcpListener}},
		{Claimant: ts("b"), Keys: []ListenerKey{tcpListener}},
	})

	// a switches to another listener.
	result := table.Arbitrate([]Claim[ListenerKey]{
		{Claimant: ts("a"), Keys: []ListenerKey{other}},
		{Claimant: ts("b"), Keys: []ListenerKey{tcpListener}},
	})

	owner, _ := table.Owner(tcpListener)
	assert.Equal(t, ts("b"), owner)
	owner, _ = table.Owner(other)
	assert.Equal(t, ts("a"), owner)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 2, table.Len())
}

func TestTable_UnclaimedKeysAreForgotten(t *testing.T) {
	table := NewHostTable()
	table.Arbitrate([]Claim[HostKey]{{Claimant: ts("a"), Keys: []HostKey{"foo", "bar"}}})
	assert.Equal(t, 2, table.Len())

	table.Arbitrate(nil)
	assert.Equal(t, 0, table.Len())
}

// TestTable_AtMostOneOwner checks that the owner never changes while it keeps
// claiming, whatever the arrival order of other claimants.
func TestTable_AtMostOneOwner(t *testing.T) {
	table := NewHostTable()
	claimants := []resourcestore.Identity{ts("a")}
	table.Arbitrate([]Claim[HostKey]{{Claimant: ts("a"), Keys: []HostKey{"foo"}}})

	for _, name := range []string{"e", "b", "d", "c"} {
		claimants = append(claimants, ts(name))
		var round []Claim[HostKey]
		for _, id := range claimants {
			round = append(round, Claim[HostKey]{Claimant: id, Keys: []HostKey{"foo"}})
		}
		result := table.Arbitrate(round)

		owner, _ := table.Owner("foo")
		assert.Equal(t, ts("a"), owner)
		assert.Len(t, result.Conflicts, len(claimants)-1)
	}
}
