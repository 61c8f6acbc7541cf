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
	"strings"

	networkingv1 "k8s.io/api/networking/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// ExtractReferences returns the identities res refers to by name.
//
// References to the GlobalConfiguration carry only the kind, since there is a
// single GlobalConfiguration per controller and resources refer to its
// listeners rather than to the object itself.
//
// Resources that cannot be decoded have no references; decoding problems are
// reported by validation.
func ExtractReferences(res WatchedResource) []Identity {
	if res.Object == nil {
		return nil
	}

	refs := make(map[Identity]struct{})
	add := func(id Identity) {
		if id.Name == "" && id.Kind != v1.KindGlobalConfiguration {
			return
		}
		refs[id] = struct{}{}
	}
	ns := res.Namespace

	switch res.Kind {
	case v1.KindVirtualServer:
		var vs v1.VirtualServer
		if v1.FromUnstructured(res.Object, &vs) != nil {
			return nil
		}
		addPolicyRefs(add, ns, vs.Spec.Policies)
		if vs.Spec.TLS != nil {
			add(Identity{Kind: v1.KindSecret, Namespace: ns, Name: vs.Spec.TLS.Secret})
		}
		if vs.Spec.Listener != nil {
			add(Identity{Kind: v1.KindGlobalConfiguration})
		}
		addUpstreamRefs(add, ns, vs.Spec.Upstreams)
		for _, route := range vs.Spec.Routes {
			addPolicyRefs(add, ns, route.Policies)
			if route.Route != "" {
				rns, rname := SplitRouteReference(route.Route, ns)
				add(Identity{Kind: v1.KindVirtualServerRoute, Namespace: rns, Name: rname})
			}
		}

	case v1.KindVirtualServerRoute:
		var vsr v1.VirtualServerRoute
		if v1.FromUnstructured(res.Object, &vsr) != nil {
			return nil
		}
		addUpstreamRefs(add, ns, vsr.Spec.Upstreams)
		for _, route := range vsr.Spec.Subroutes {
			addPolicyRefs(add, ns, route.Policies)
		}

	case v1.KindTransportServer:
		var ts v1.TransportServer
		if v1.FromUnstructured(res.Object, &ts) != nil {
			return nil
		}
		if ts.Spec.TLS != nil {
			add(Identity{Kind: v1.KindSecret, Namespace: ns, Name: ts.Spec.TLS.Secret})
		}
		if ts.Spec.Listener.Name != v1.TLSPassthroughListenerName {
			add(Identity{Kind: v1.KindGlobalConfiguration})
		}
		for _, u := range ts.Spec.Upstreams {
			add(Identity{Kind: v1.KindEndpoints, Namespace: ns, Name: u.Service})
		}

	case v1.KindPolicy:
		var pol v1.Policy
		if v1.FromUnstructured(res.Object, &pol) != nil {
			return nil
		}
		for _, name := range policySecrets(pol.Spec) {
			add(Identity{Kind: v1.KindSecret, Namespace: ns, Name: name})
		}

	case v1.KindIngress:
		var ing networkingv1.Ingress
		if v1.FromUnstructured(res.Object, &ing) != nil {
			return nil
		}
		for _, tls := range ing.Spec.TLS {
			add(Identity{Kind: v1.KindSecret, Namespace: ns, Name: tls.SecretName})
		}
		if name := ing.Annotations[v1.AnnotationBasicAuthSecret]; name != "" {
			add(Identity{Kind: v1.KindSecret, Namespace: ns, Name: name})
		}
		if b := ing.Spec.DefaultBackend; b != nil && b.Service != nil {
			add(Identity{Kind: v1.KindEndpoints, Namespace: ns, Name: b.Service.Name})
		}
		for _, rule := range ing.Spec.Rules {
			if rule.HTTP == nil {
				continue
			}
			for _, p := range rule.HTTP.Paths {
				if p.Backend.Service != nil {
					add(Identity{Kind: v1.KindEndpoints, Namespace: ns, Name: p.Backend.Service.Name})
				}
			}
		}
	}

	out := make([]Identity, 0, len(refs))
	for id := range refs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// SplitRouteReference splits a "namespace/name" VirtualServerRoute reference.
// A bare name resolves to defaultNamespace.
func SplitRouteReference(ref, defaultNamespace string) (string, string) {
	if ns, name, ok := strings.Cut(ref, "/"); ok {
		return ns, name
	}
	return defaultNamespace, ref
}

func addPolicyRefs(add func(Identity), ns string, policies []v1.PolicyReference) {
	for _, p := range policies {
		pns := p.Namespace
		if pns == "" {
			pns = ns
		}
		add(Identity{Kind: v1.KindPolicy, Namespace: pns, Name: p.Name})
	}
}

func addUpstreamRefs(add func(Identity), ns string, upstreams []v1.Upstream) {
	for _, u := range upstreams {
		add(Identity{Kind: v1.KindEndpoints, Namespace: ns, Name: u.Service})
	}
}

func policySecrets(spec v1.PolicySpec) []string {
	var names []string
	if spec.JWTAuth != nil {
		names = append(names, spec.JWTAuth.Secret)
	}
	if spec.BasicAuth != nil {
		names = append(names, spec.BasicAuth.Secret)
	}
	if spec.IngressMTLS != nil {
		names = append(names, spec.IngressMTLS.ClientCertSecret)
	}
	if spec.EgressMTLS != nil {
		names = append(names, spec.EgressMTLS.TLSSecret, spec.EgressMTLS.TrustedCertSecret)
	}
	return names
}
