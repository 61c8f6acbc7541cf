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

	networkingv1 "k8s.io/api/networking/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/validation"
)

const defaultHSTSMaxAge = 2592000

// Annotations a master does not pass on.
var masterDenylist = []string{
	v1.AnnotationRewrites,
	v1.AnnotationSSLServices,
	v1.AnnotationWebsocketServices,
}

// Annotations a minion may not set.
var minionDenylist = []string{
	v1.AnnotationRedirectToHTTPS,
	v1.AnnotationSSLRedirect,
	v1.AnnotationHSTS,
	v1.AnnotationHSTSMaxAge,
	v1.AnnotationHSTSIncludeSubdomains,
	v1.AnnotationServerTokens,
	v1.AnnotationListenPorts,
	v1.AnnotationListenPortsSSL,
	v1.AnnotationServerSnippets,
}

// Annotations a minion inherits from its master.
var minionInherited = []string{
	v1.AnnotationProxyConnectTimeout,
	v1.AnnotationProxyReadTimeout,
	v1.AnnotationProxySendTimeout,
	v1.AnnotationClientMaxBodySize,
	v1.AnnotationProxyBuffering,
	v1.AnnotationProxyBuffers,
	v1.AnnotationProxyBufferSize,
	v1.AnnotationLBMethod,
	v1.AnnotationKeepalive,
	v1.AnnotationMaxFails,
	v1.AnnotationFailTimeout,
}

type ingCandidate struct {
	candidate
	ing    *networkingv1.Ingress
	master bool
	minion bool
	hosts  []string
	lost   map[string]bool
}

// loseHost drops host from the Ingress. An Ingress that loses every host
// is rejected.
func (c *ingCandidate) loseHost(host string, conflict error) {
	c.lost[host] = true
	if len(c.lost) == len(c.hosts) {
		c.rep.conflict = conflict
		return
	}
	c.rep.warn("Host %s is taken by another resource", host)
}

func (r *run) collectIngresses() []*ingCandidate {
	var out []*ingCandidate
	for _, res := range r.snap.ListByAge(v1.KindIngress) {
		if !r.handled(res) {
			continue
		}
		ing := &networkingv1.Ingress{}
		if !r.decode(res, ing) {
			continue
		}
		rep := r.report(res)
		if err := validation.ValidateIngress(ing, r.opts.validationOptions()); err != nil {
			rep.err = err
			continue
		}

		c := &ingCandidate{
			candidate: candidate{res: res, rep: rep},
			ing:       ing,
			master:    validation.MergeableType(ing) == v1.MergeableTypeMaster,
			minion:    validation.MergeableType(ing) == v1.MergeableTypeMinion,
			lost:      make(map[string]bool),
		}
		for _, rule := range ing.Spec.Rules {
			c.hosts = append(c.hosts, rule.Host)
		}
		out = append(out, c)
	}
	return out
}

func (r *run) buildIngresses(ings []*ingCandidate) {
	minions := make(map[string][]*ingCandidate)
	for _, c := range ings {
		if c.minion && !c.rejected() {
			minions[c.hosts[0]] = append(minions[c.hosts[0]], c)
		}
	}

	served := make(map[string]bool)
	for _, c := range ings {
		if c.rejected() || c.minion {
			continue
		}
		if c.master {
			host := c.hosts[0]
			served[host] = true
			r.buildMergeable(c, minions[host])
			continue
		}
		for _, rule := range c.ing.Spec.Rules {
			if c.lost[rule.Host] {
				continue
			}
			r.buildIngressHost(c, rule)
		}
	}

	for host, list := range minions {
		if served[host] {
			continue
		}
		for _, c := range list {
			c.rep.warn("Ingress master is missing for host %s", host)
		}
	}
}

func (r *run) buildIngressHost(c *ingCandidate, rule networkingv1.IngressRule) {
	ann := c.ing.Annotations
	s := r.ingressServer(c, rule.Host, ann)
	auth := r.ingressBasicAuth(c, ann)

	hasRoot := false
	if rule.HTTP != nil {
		for _, p := range rule.HTTP.Paths {
			loc := r.ingressLocation(c, rule.Host, p, ann, auth)
			hasRoot = hasRoot || loc.Path == "/"
			s.Locations = append(s.Locations, loc)
		}
	}
	if db := c.ing.Spec.DefaultBackend; db != nil && !hasRoot {
		s.Locations = append(s.Locations, r.ingressLocation(c, rule.Host, networkingv1.HTTPIngressPath{Backend: *db}, ann, auth))
	}
	r.model.Servers = append(r.model.Servers, *s)
}

// buildMergeable builds the server of a master Ingress from the paths of
// its minions. Older minions win duplicate paths.
func (r *run) buildMergeable(master *ingCandidate, minions []*ingCandidate) {
	host := master.hosts[0]
	masterAnn := withoutKeys(master.ing.Annotations, masterDenylist)
	s := r.ingressServer(master, host, masterAnn)
	masterAuth := r.ingressBasicAuth(master, masterAnn)

	paths := make(map[string]bool)
	for _, m := range minions {
		ann := withoutKeys(m.ing.Annotations, minionDenylist)
		for _, key := range minionInherited {
			if _, ok := ann[key]; !ok {
				if v, ok := masterAnn[key]; ok {
					ann[key] = v
				}
			}
		}
		auth := masterAuth
		if _, ok := ann[v1.AnnotationBasicAuthSecret]; ok {
			auth = r.ingressBasicAuth(m, ann)
		}

		for _, p := range m.ing.Spec.Rules[0].HTTP.Paths {
			loc := r.ingressLocation(m, host, p, ann, auth)
			if paths[loc.Path] {
				m.rep.warn("Path %s for host %s is taken by another resource", loc.Path, host)
				continue
			}
			paths[loc.Path] = true
			s.Locations = append(s.Locations, loc)
		}
	}
	r.model.Servers = append(r.model.Servers, *s)
}

// ingressServer creates the server for host from server level annotations.
func (r *run) ingressServer(c *ingCandidate, host string, ann map[string]string) *Server {
	ing := c.ing
	name := objectName("ing", ing.Namespace, ing.Name, host)
	s := &Server{
		Name:      name,
		Source:    c.res.Identity.String(),
		Host:      host,
		HTTPPorts: []int{validation.DefaultHTTPPort},
		Snippets:  splitSnippet(ann[v1.AnnotationServerSnippets]),
	}
	if v, ok := ann[v1.AnnotationListenPorts]; ok {
		if ports, err := validation.ParsePortList(v); err == nil {
			s.HTTPPorts = ports
		}
	}
	if v, ok := parseBoolAnnotation(ann, v1.AnnotationServerTokens); ok {
		s.ServerTokens = &v
	}

	secret, tls := ingressTLSSecret(ing, host)
	if tls {
		s.HTTPSPorts = []int{validation.DefaultHTTPSPort}
		if v, ok := ann[v1.AnnotationListenPortsSSL]; ok {
			if ports, err := validation.ParsePortList(v); err == nil {
				s.HTTPSPorts = ports
			}
		}
		s.TLS = &ServerTLS{}
		if secret != "" {
			cert, warning := r.certificate(ing.Namespace, secret, name, true)
			if warning != "" {
				c.rep.warnings.Add(warning)
			}
			s.TLS.Certificate = cert
		}
		if redirect, ok := parseBoolAnnotation(ann, v1.AnnotationSSLRedirect); redirect || !ok {
			s.SSLRedirect = &SSLRedirect{Code: defaultRedirectCode, BasedOn: "scheme"}
		}
		if hsts, _ := parseBoolAnnotation(ann, v1.AnnotationHSTS); hsts {
			s.HSTS = &HSTS{MaxAge: defaultHSTSMaxAge}
			if v, err := strconv.Atoi(ann[v1.AnnotationHSTSMaxAge]); err == nil {
				s.HSTS.MaxAge = v
			}
			s.HSTS.IncludeSubdomains, _ = parseBoolAnnotation(ann, v1.AnnotationHSTSIncludeSubdomains)
		}
	}
	if redirect, _ := parseBoolAnnotation(ann, v1.AnnotationRedirectToHTTPS); redirect {
		s.SSLRedirect = &SSLRedirect{Code: defaultRedirectCode, BasedOn: "x-forwarded-proto"}
	}
	return s
}

// ingressBasicAuth resolves the basic auth annotations of c. A broken
// secret makes the locations answer with an error.
func (r *run) ingressBasicAuth(c *ingCandidate, ann map[string]string) Policies {
	name, ok := ann[v1.AnnotationBasicAuthSecret]
	if !ok {
		return Policies{}
	}
	ns := c.ing.Namespace
	s, err := r.typedSecret(ns, name, v1.SecretTypeHtpasswd)
	if err != nil {
		c.rep.warn("Basic auth secret %s/%s is invalid: %v", ns, name, err)
		return Policies{ErrorReturn: policyErrorReturn}
	}
	return Policies{BasicAuth: &BasicAuth{
		Realm: ann[v1.AnnotationBasicAuthRealm],
		File:  r.auxFile(ns, name, ".htpasswd", s.Data[validation.HtpasswdKey]),
	}}
}

func (r *run) ingressLocation(c *ingCandidate, host string, p networkingv1.HTTPIngressPath, ann map[string]string, auth Policies) Location {
	ing := c.ing
	g := r.model.Global
	backend := p.Backend.Service

	path := p.Path
	if path == "" {
		path = "/"
	}
	if p.PathType != nil && *p.PathType == networkingv1.PathTypeExact {
		path = "= " + path
	}

	port := servicePort{number: int(backend.Port.Number), name: backend.Port.Name}
	upstream := objectName("ing", ing.Namespace, ing.Name, host, backend.Name, port.String())
	r.ingressUpstream(c, upstream, backend.Name, port, ann)

	scheme := "http"
	if validation.ParseServiceList(ann[v1.AnnotationSSLServices]).Has(backend.Name) {
		scheme = "https"
	}
	loc := Location{
		Path:                path,
		Source:              c.res.Identity.String(),
		ProxyPass:           scheme + "://" + upstream,
		ProxyConnectTimeout: valueOr(ann[v1.AnnotationProxyConnectTimeout], g.ProxyConnectTimeout),
		ProxyReadTimeout:    valueOr(ann[v1.AnnotationProxyReadTimeout], g.ProxyReadTimeout),
		ProxySendTimeout:    valueOr(ann[v1.AnnotationProxySendTimeout], g.ProxySendTimeout),
		ClientMaxBodySize:   valueOr(ann[v1.AnnotationClientMaxBodySize], g.ClientMaxBodySize),
		ProxyBuffering:      ann[v1.AnnotationProxyBuffering],
		ProxyBuffers:        ann[v1.AnnotationProxyBuffers],
		ProxyBufferSize:     ann[v1.AnnotationProxyBufferSize],
		Websocket:           validation.ParseServiceList(ann[v1.AnnotationWebsocketServices]).Has(backend.Name),
		Policies:            auth,
		Snippets:            splitSnippet(ann[v1.AnnotationLocationSnippets]),
	}
	if rewrites, err := validation.ParseRewrites(ann[v1.AnnotationRewrites]); err == nil {
		loc.Rewrite = rewrites[backend.Name]
	}
	return loc
}

func (r *run) ingressUpstream(c *ingCandidate, name, service string, port servicePort, ann map[string]string) {
	up := Upstream{
		Name:        name,
		Source:      c.res.Identity.String(),
		LBMethod:    r.model.Global.LBMethod,
		MaxFails:    ann[v1.AnnotationMaxFails],
		FailTimeout: ann[v1.AnnotationFailTimeout],
		Servers:     r.endpoints(c.ing.Namespace, service, port),
	}
	if v, ok := ann[v1.AnnotationLBMethod]; ok {
		if method, err := validation.ParseLBMethod(v); err == nil {
			up.LBMethod = method
		}
	}
	if v, err := strconv.Atoi(ann[v1.AnnotationKeepalive]); err == nil {
		up.Keepalive = v
	}
	r.upstreams[name] = up
}

// ingressTLSSecret returns the TLS secret for host and whether TLS is
// enabled for it at all.
func ingressTLSSecret(ing *networkingv1.Ingress, host string) (string, bool) {
	for _, t := range ing.Spec.TLS {
		if len(t.Hosts) == 0 {
			return t.SecretName, true
		}
		for _, h := range t.Hosts {
			if h == host {
				return t.SecretName, true
			}
		}
	}
	return "", false
}

func parseBoolAnnotation(ann map[string]string, key string) (bool, bool) {
	v, ok := ann[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func withoutKeys(in map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
