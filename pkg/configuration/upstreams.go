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
	"net"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

// servicePort identifies a port of a Service by number or by name.
type servicePort struct {
	number int
	name   string
}

func (p servicePort) String() string {
	if p.name != "" {
		return p.name
	}
	return strconv.Itoa(p.number)
}

// endpoints returns the sorted "address:port" list of the ready endpoints
// of the Service ns/service.
func (r *run) endpoints(ns, service string, port servicePort) []string {
	res, ok := r.snap.Get(resourcestore.Identity{Kind: v1.KindEndpoints, Namespace: ns, Name: service})
	if !ok {
		return nil
	}
	var eps corev1.Endpoints
	if err := v1.FromUnstructured(res.Object, &eps); err != nil {
		r.b.logger.Debug("skipping undecodable endpoints", "endpoints", res.Key(), "error", err)
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, subset := range eps.Subsets {
		p, ok := subsetPort(subset.Ports, port)
		if !ok {
			continue
		}
		for _, addr := range subset.Addresses {
			hp := net.JoinHostPort(addr.IP, strconv.Itoa(int(p)))
			if !seen[hp] {
				seen[hp] = true
				out = append(out, hp)
			}
		}
	}
	sort.Strings(out)
	return out
}

func subsetPort(ports []corev1.EndpointPort, want servicePort) (int32, bool) {
	if len(ports) == 1 {
		return ports[0].Port, true
	}
	for _, p := range ports {
		if want.name != "" && p.Name == want.name {
			return p.Port, true
		}
		if want.number != 0 && int(p.Port) == want.number {
			return p.Port, true
		}
	}
	return 0, false
}

// httpUpstream adds an upstream of a VirtualServer or VirtualServerRoute.
func (r *run) httpUpstream(name, source, ns string, u v1.Upstream) {
	up := Upstream{
		Name:        name,
		Source:      source,
		LBMethod:    r.model.Global.LBMethod,
		FailTimeout: u.FailTimeout,
		Servers:     r.endpoints(ns, u.Service, servicePort{number: int(u.Port)}),
	}
	if u.LBMethod != "" {
		// Validated together with the resource.
		up.LBMethod, _ = validation.ParseLBMethod(u.LBMethod)
	}
	if u.MaxFails != nil {
		up.MaxFails = strconv.Itoa(*u.MaxFails)
	}
	if u.Keepalive != nil {
		up.Keepalive = *u.Keepalive
	}
	r.upstreams[name] = up
}

// proxyLocation points loc at the upstream named name.
func (r *run) proxyLocation(loc *Location, name string, u v1.Upstream) {
	scheme := "http"
	if u.TLS.Enable {
		scheme = "https"
	}
	g := r.model.Global
	loc.ProxyPass = scheme + "://" + name
	loc.ProxyConnectTimeout = valueOr(u.ConnectTimeout, g.ProxyConnectTimeout)
	loc.ProxyReadTimeout = valueOr(u.ReadTimeout, g.ProxyReadTimeout)
	loc.ProxySendTimeout = valueOr(u.SendTimeout, g.ProxySendTimeout)
	loc.ClientMaxBodySize = valueOr(u.ClientMaxBodySize, g.ClientMaxBodySize)
}
