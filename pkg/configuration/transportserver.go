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
	"strconv"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/validation"
)

type tsCandidate struct {
	candidate
	ts          *v1.TransportServer
	listener    v1.Listener
	passthrough bool
}

func (r *run) collectTransportServers() []*tsCandidate {
	var out []*tsCandidate
	for _, res := range r.snap.ListByAge(v1.KindTransportServer) {
		if !r.handled(res) {
			continue
		}
		ts := &v1.TransportServer{}
		if !r.decode(res, ts) {
			continue
		}
		rep := r.report(res)
		if err := validation.ValidateTransportServer(ts, r.opts.validationOptions()); err != nil {
			rep.err = err
			continue
		}

		c := &tsCandidate{
			candidate:   candidate{res: res, rep: rep},
			ts:          ts,
			passthrough: validation.IsTLSPassthrough(ts),
		}
		l, err := validation.ResolveTransportServerListener(ts, r.gc, r.opts.TLSPassthroughPort)
		if err != nil {
			rep.warnings.Add(err.Error())
			c.skip = true
		}
		c.listener = l
		out = append(out, c)
	}
	return out
}

func (r *run) buildTransportServer(c *tsCandidate) {
	ts := c.ts
	ns := ts.Namespace
	source := c.res.Identity.String()
	name := objectName("ts", ns, ts.Name)

	for _, u := range ts.Spec.Upstreams {
		up := Upstream{
			Name:        objectName(name, u.Name),
			Source:      source,
			FailTimeout: u.FailTimeout,
			Servers:     r.endpoints(ns, u.Service, servicePort{number: u.Port}),
		}
		up.LBMethod, _ = validation.ParseStreamLBMethod(u.LoadBalancingMethod)
		if u.MaxFails != nil {
			up.MaxFails = strconv.Itoa(*u.MaxFails)
		}
		r.streamUps[up.Name] = up
	}
	upstream := objectName(name, ts.Spec.Action.Pass)
	r.model.StreamSnippets = append(r.model.StreamSnippets, splitSnippet(ts.Spec.StreamSnippets)...)

	if c.passthrough {
		r.model.PassthroughHosts = append(r.model.PassthroughHosts, PassthroughHost{
			Host:     ts.Spec.Host,
			Source:   source,
			Upstream: upstream,
		})
		return
	}

	s := StreamServer{
		Name:     name,
		Source:   source,
		Listener: c.listener.Name,
		Port:     c.listener.Port,
		UDP:      c.listener.Protocol == v1.ProtocolUDP,
		Upstream: upstream,
		Snippets: splitSnippet(ts.Spec.ServerSnippets),
	}
	if ts.Spec.TLS != nil {
		cert, warning := r.certificate(ns, ts.Spec.TLS.Secret, name, false)
		if warning != "" {
			c.rep.warnings.Add(warning)
		}
		s.Certificate = cert
	}
	r.model.StreamServers = append(r.model.StreamServers, s)
}
