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

package configuration

import (
	"sort"

	"nginx-reconciler/pkg/claims"
	"nginx-reconciler/pkg/controller/resourcestore"
)

// candidate is a valid resource that still has to win its claims.
type candidate struct {
	res  resourcestore.WatchedResource
	rep  *report
	skip bool
}

func (c *candidate) rejected() bool {
	return c.skip || c.rep.conflict != nil
}

type hostClaim struct {
	res   resourcestore.WatchedResource
	hosts []string
	// lose is called for every host the resource does not get.
	lose func(host string, conflict error)
}

// arbitrateHosts assigns every host to one VirtualServer, TLS passthrough
// TransportServer or Ingress. Older resources win.
func (r *run) arbitrateHosts(vss []*vsCandidate, tss []*tsCandidate, ings []*ingCandidate) {
	var hcs []hostClaim

	for _, c := range vss {
		if c.rejected() {
			continue
		}
		c := c
		hcs = append(hcs, hostClaim{
			res:   c.res,
			hosts: []string{c.vs.Spec.Host},
			lose:  func(_ string, err error) { c.rep.conflict = err },
		})
	}
	for _, c := range tss {
		if c.rejected() || !c.passthrough {
			continue
		}
		c := c
		hcs = append(hcs, hostClaim{
			res:   c.res,
			hosts: []string{c.ts.Spec.Host},
			lose:  func(_ string, err error) { c.rep.conflict = err },
		})
	}
	for _, c := range ings {
		if c.rejected() || c.minion {
			continue
		}
		c := c
		hcs = append(hcs, hostClaim{
			res:   c.res,
			hosts: c.hosts,
			lose:  c.loseHost,
		})
	}

	sort.SliceStable(hcs, func(i, j int) bool { return hcs[i].res.OlderThan(hcs[j].res) })

	cls := make([]claims.Claim[claims.HostKey], 0, len(hcs))
	for _, hc := range hcs {
		keys := make([]claims.HostKey, 0, len(hc.hosts))
		for _, h := range hc.hosts {
			keys = append(keys, claims.HostKey(h))
		}
		cls = append(cls, claims.Claim[claims.HostKey]{Claimant: hc.res.Identity, Keys: keys})
	}

	result := r.b.hosts.Arbitrate(cls)
	for _, hc := range hcs {
		for _, conflict := range result.Conflicts[hc.res.Identity] {
			hc.lose(string(conflict.Key), conflict)
		}
	}
	for _, id := range result.Promoted {
		r.promoted[id] = true
	}
}

// arbitrateListeners assigns every custom stream listener to one
// TransportServer. Older resources win.
func (r *run) arbitrateListeners(tss []*tsCandidate) {
	var cls []claims.Claim[claims.ListenerKey]
	byID := make(map[resourcestore.Identity]*tsCandidate)

	for _, c := range tss {
		if c.rejected() || c.passthrough {
			continue
		}
		byID[c.res.Identity] = c
		cls = append(cls, claims.Claim[claims.ListenerKey]{
			Claimant: c.res.Identity,
			Keys: []claims.ListenerKey{{
				Name:     c.listener.Name,
				Port:     c.listener.Port,
				Protocol: c.listener.Protocol,
			}},
		})
	}

	result := r.b.listeners.Arbitrate(cls)
	for id, conflicts := range result.Conflicts {
		if c, ok := byID[id]; ok && len(conflicts) > 0 {
			c.rep.conflict = conflicts[0]
		}
	}
	for _, id := range result.Promoted {
		r.promoted[id] = true
	}
}
