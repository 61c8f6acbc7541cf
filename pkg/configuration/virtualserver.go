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
	"fmt"
	"strconv"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

const (
	defaultRedirectCode = 301
	defaultReturnCode   = 200
	missingRouteCode    = 502
)

type vsCandidate struct {
	candidate
	vs        *v1.VirtualServer
	listeners validation.ServerListeners
}

type vsrEntry struct {
	res resourcestore.WatchedResource
	vsr *v1.VirtualServerRoute
	rep *report
	// mismatch is set when a VirtualServer delegates to the route with a
	// host or path the route does not fit.
	mismatch error
}

func (r *run) collectVirtualServerRoutes() {
	for _, res := range r.snap.List(v1.KindVirtualServerRoute) {
		if !r.handled(res) {
			continue
		}
		vsr := &v1.VirtualServerRoute{}
		if !r.decode(res, vsr) {
			continue
		}
		rep := r.report(res)
		if err := validation.ValidateVirtualServerRoute(vsr, r.opts.validationOptions()); err != nil {
			rep.err = err
			continue
		}
		r.vsrs[res.Identity] = &vsrEntry{res: res, vsr: vsr, rep: rep}
	}
}

func (r *run) collectVirtualServers() []*vsCandidate {
	var out []*vsCandidate
	for _, res := range r.snap.ListByAge(v1.KindVirtualServer) {
		if !r.handled(res) {
			continue
		}
		vs := &v1.VirtualServer{}
		if !r.decode(res, vs) {
			continue
		}
		rep := r.report(res)
		if err := validation.ValidateVirtualServer(vs, r.opts.validationOptions()); err != nil {
			rep.err = err
			continue
		}

		ls, warnings := validation.ResolveVirtualServerListeners(vs, r.gc)
		for _, w := range warnings {
			rep.warnings.Add(w)
		}
		out = append(out, &vsCandidate{
			candidate: candidate{res: res, rep: rep, skip: ls.Empty()},
			vs:        vs,
			listeners: ls,
		})
	}
	return out
}

// upstreamSet resolves the upstream names used in actions.
type upstreamSet struct {
	prefix string
	ups    map[string]v1.Upstream
}

func (s upstreamSet) name(upstream string) string {
	return objectName(s.prefix, upstream)
}

// routeBuilder adds the locations of one server.
type routeBuilder struct {
	r      *run
	server *Server
	// prefix names the split clients of the server.
	prefix string
	splits int
}

func (r *run) buildVirtualServer(c *vsCandidate) {
	vs := c.vs
	ns := vs.Namespace
	rep := c.rep
	source := c.res.Identity.String()
	name := objectName("vs", ns, vs.Name)

	s := &Server{
		Name:     name,
		Source:   source,
		Host:     vs.Spec.Host,
		Gunzip:   vs.Spec.Gunzip,
		Snippets: splitSnippet(vs.Spec.ServerSnippets),
	}
	r.model.HTTPSnippets = append(r.model.HTTPSnippets, splitSnippet(vs.Spec.HTTPSnippets)...)

	if c.listeners.HTTPPort != 0 {
		s.HTTPPorts = []int{c.listeners.HTTPPort}
	}
	tls := vs.Spec.TLS
	if c.listeners.HTTPSPort != 0 {
		s.HTTPSPorts = []int{c.listeners.HTTPSPort}
		s.TLS = &ServerTLS{}
		if tls != nil && tls.Secret != "" {
			cert, warning := r.certificate(ns, tls.Secret, name, true)
			if warning != "" {
				rep.warnings.Add(warning)
			}
			s.TLS.Certificate = cert
		}
		if tls != nil && tls.Redirect != nil && tls.Redirect.Enable {
			s.SSLRedirect = &SSLRedirect{
				Code:    intOr(tls.Redirect.Code, defaultRedirectCode),
				BasedOn: valueOr(tls.Redirect.BasedOn, "scheme"),
			}
		}
	}

	owner := policyOwner{
		rep:         rep,
		namespace:   ns,
		vsNamespace: ns,
		vsName:      vs.Name,
		server:      name,
		tls:         tls != nil && tls.Secret != "",
	}
	specPol, mtls := r.resolvePolicies(owner, vs.Spec.Policies, contextSpec)
	s.IngressMTLS = mtls

	set := upstreamSet{prefix: name, ups: make(map[string]v1.Upstream)}
	for _, u := range vs.Spec.Upstreams {
		set.ups[u.Name] = u
		r.httpUpstream(set.name(u.Name), source, ns, u)
	}

	b := &routeBuilder{r: r, server: s, prefix: name}
	for _, route := range vs.Spec.Routes {
		if route.Route != "" {
			r.delegate(b, c, route, owner, specPol)
			continue
		}
		routePol, _ := r.resolvePolicies(owner, route.Policies, contextRoute)
		b.add(route, set, mergePolicies(specPol, routePol), source)
	}

	r.model.Servers = append(r.model.Servers, *s)
}

// delegate adds the subroutes of the VirtualServerRoute route points to.
func (r *run) delegate(b *routeBuilder, c *vsCandidate, route v1.Route, owner policyOwner, specPol policySet) {
	vs := c.vs
	rns, rname := resourcestore.SplitRouteReference(route.Route, vs.Namespace)
	ref := rns + "/" + rname
	source := c.res.Identity.String()

	entry, ok := r.vsrs[resourcestore.Identity{Kind: v1.KindVirtualServerRoute, Namespace: rns, Name: rname}]
	if !ok {
		owner.rep.warn("VirtualServerRoute %s doesn't exist or invalid", ref)
		b.errorLocation(route.Path, source, missingRouteCode)
		return
	}
	if err := validation.ValidateVirtualServerRouteForVirtualServer(entry.vsr, vs.Spec.Host, route.Path); err != nil {
		entry.mismatch = err
		owner.rep.warn("VirtualServerRoute %s is invalid: %v", ref, err)
		b.errorLocation(route.Path, source, missingRouteCode)
		return
	}
	if entry.rep.referencedBy == "" {
		entry.rep.referencedBy = c.res.Key()
	}

	routePol, _ := r.resolvePolicies(owner, route.Policies, contextRoute)

	vsr := entry.vsr
	vsrSource := entry.res.Identity.String()
	set := upstreamSet{
		prefix: objectName("vs", vs.Namespace, vs.Name, "vsr", vsr.Namespace, vsr.Name),
		ups:    make(map[string]v1.Upstream),
	}
	for _, u := range vsr.Spec.Upstreams {
		set.ups[u.Name] = u
		r.httpUpstream(set.name(u.Name), vsrSource, vsr.Namespace, u)
	}

	subOwner := owner
	subOwner.rep = entry.rep
	subOwner.namespace = vsr.Namespace
	for _, sub := range vsr.Spec.Subroutes {
		subPol, _ := r.resolvePolicies(subOwner, sub.Policies, contextRoute)
		b.add(sub, set, mergePolicies(specPol, routePol, subPol), vsrSource)
	}
}

// finishVirtualServerRoutes reports routes no VirtualServer uses.
func (r *run) finishVirtualServerRoutes() {
	for _, e := range r.vsrs {
		if e.rep.referencedBy != "" {
			continue
		}
		if e.mismatch != nil {
			e.rep.err = e.mismatch
			continue
		}
		e.rep.warn("VirtualServerRoute is not referenced by any VirtualServer")
	}
}

func (b *routeBuilder) add(route v1.Route, set upstreamSet, pol Policies, source string) {
	loc := Location{
		Path:     route.Path,
		Source:   source,
		Policies: pol,
		Snippets: splitSnippet(route.LocationSnippets),
	}
	if len(route.Splits) > 0 {
		b.addSplits(&loc, route, set)
	} else {
		b.applyAction(&loc, route.Action, set)
	}
	b.server.Locations = append(b.server.Locations, loc)
}

func (b *routeBuilder) errorLocation(path, source string, code int) {
	b.server.Locations = append(b.server.Locations, Location{
		Path:   path,
		Source: source,
		Return: &Return{Code: code},
	})
}

func (b *routeBuilder) applyAction(loc *Location, a *v1.Action, set upstreamSet) {
	switch {
	case a == nil:
		loc.Return = &Return{Code: missingRouteCode}
	case a.Pass != "":
		u, ok := set.ups[a.Pass]
		if !ok {
			loc.Return = &Return{Code: missingRouteCode}
			return
		}
		b.r.proxyLocation(loc, set.name(a.Pass), u)
	case a.Redirect != nil:
		code := a.Redirect.Code
		if code == 0 {
			code = defaultRedirectCode
		}
		loc.Redirect = &Redirect{URL: a.Redirect.URL, Code: code}
	case a.Return != nil:
		code := a.Return.Code
		if code == 0 {
			code = defaultReturnCode
		}
		loc.Return = &Return{Code: code, Type: valueOr(a.Return.Type, "text/plain"), Body: a.Return.Body}
	}
}

// addSplits turns loc into a dispatcher over one internal location per split.
func (b *routeBuilder) addSplits(loc *Location, route v1.Route, set upstreamSet) {
	n := b.splits
	b.splits++

	sc := SplitClient{Variable: "$" + variableName(b.prefix, "splits", strconv.Itoa(n))}
	for i, split := range route.Splits {
		path := fmt.Sprintf("/internal_location_splits_%d_split_%d", n, i)
		internal := Location{
			Path:     path,
			Internal: true,
			Source:   loc.Source,
			Policies: loc.Policies,
			Snippets: loc.Snippets,
		}
		b.applyAction(&internal, split.Action, set)
		b.server.Locations = append(b.server.Locations, internal)
		sc.Distributions = append(sc.Distributions, SplitDistribution{Weight: split.Weight, Location: path})
	}
	loc.SplitVariable = sc.Variable

	if b.r.opts.EnableDynamicWeightChanges && len(sc.Distributions) == 2 {
		b.dynamicSplit(&sc, n)
	}
	b.r.model.SplitClients = append(b.r.model.SplitClients, sc)
}

// dynamicSplit precomputes every weight combination of a two-way split so
// that the active one can be switched through the key-value store.
func (b *routeBuilder) dynamicSplit(sc *SplitClient, n int) {
	idx := strconv.Itoa(n)
	base := variableName(b.prefix, "split_clients", idx)

	sc.Dynamic = true
	sc.KeyValZone = objectName(b.prefix, "keyval_zone_split_clients", idx)
	sc.KeyValKey = objectName(b.prefix, "keyval_key_split_clients", idx)
	sc.KeyValVar = "$" + variableName(b.prefix, "keyval_split_clients", idx)
	sc.Value = splitValue(base, sc.Distributions[0].Weight, sc.Distributions[1].Weight)

	for w := 0; w <= 100; w++ {
		value := splitValue(base, w, 100-w)
		v := SplitVariant{Value: value, Variable: "$" + value}
		for i, weight := range []int{w, 100 - w} {
			if weight == 0 {
				continue
			}
			v.Distributions = append(v.Distributions, SplitDistribution{
				Weight:   weight,
				Location: sc.Distributions[i].Location,
			})
		}
		sc.Variants = append(sc.Variants, v)
	}
}

func splitValue(base string, w0, w1 int) string {
	return fmt.Sprintf("%s_%d_%d", base, w0, w1)
}
