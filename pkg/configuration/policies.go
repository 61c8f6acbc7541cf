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
	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

// Policy contexts.
const (
	contextSpec  = "spec"
	contextRoute = "route"
)

const policyErrorReturn = 500

const accessControlOverridden = "AccessControl policy (or policies) with deny rules is overridden by policy (or policies) with allow rules"

// collectPolicies validates every Policy and keeps the valid ones.
func (r *run) collectPolicies() {
	for _, res := range r.snap.List(v1.KindPolicy) {
		if !r.handled(res) {
			continue
		}
		var p v1.Policy
		if !r.decode(res, &p) {
			continue
		}
		if err := validation.ValidatePolicy(&p); err != nil {
			r.report(res).err = err
			continue
		}
		r.policies[res.Identity] = &p
	}
}

// policyOwner describes the resource a list of policy references belongs to.
type policyOwner struct {
	rep *report
	// namespace resolves references without a namespace.
	namespace string
	// vsNamespace and vsName identify the VirtualServer the policies end up in.
	vsNamespace string
	vsName      string
	server      string
	tls         bool
}

// Policy types tracked for failures. A reference to a missing Policy has no
// known type and is never overridden.
const (
	policyTypeMissing       = "missing"
	policyTypeAccessControl = "accessControl"
	policyTypeRateLimit     = "rateLimit"
	policyTypeBasicAuth     = "basicAuth"
	policyTypeJWTAuth       = "jwt"
	policyTypeIngressMTLS   = "ingressMTLS"
	policyTypeEgressMTLS    = "egressMTLS"
)

// policySet holds the policies resolved for one context together with the
// policy types that failed to apply there.
type policySet struct {
	Policies
	failed map[string]bool
}

func (ps *policySet) fail(policyType string) {
	if ps.failed == nil {
		ps.failed = make(map[string]bool)
	}
	ps.failed[policyType] = true
}

// applied returns the policy types this context sets successfully.
func (ps *policySet) applied() []string {
	var out []string
	if len(ps.Allow) > 0 || len(ps.Deny) > 0 {
		out = append(out, policyTypeAccessControl)
	}
	if len(ps.LimitReqs) > 0 {
		out = append(out, policyTypeRateLimit)
	}
	if ps.BasicAuth != nil {
		out = append(out, policyTypeBasicAuth)
	}
	if ps.JWTAuth != nil {
		out = append(out, policyTypeJWTAuth)
	}
	if ps.EgressMTLS != nil {
		out = append(out, policyTypeEgressMTLS)
	}
	return out
}

// resolvePolicies turns policy references of one context into directives.
// Problems are reported as warnings on the owner and make the affected
// locations answer with an error.
func (r *run) resolvePolicies(o policyOwner, refs []v1.PolicyReference, context string) (policySet, *IngressMTLS) {
	var (
		p    policySet
		mtls *IngressMTLS
	)

	for _, ref := range refs {
		ns := ref.Namespace
		if ns == "" {
			ns = o.namespace
		}
		key := ns + "/" + ref.Name

		pol, ok := r.policies[resourcestore.Identity{Kind: v1.KindPolicy, Namespace: ns, Name: ref.Name}]
		if !ok {
			o.rep.warn("Policy %s is missing or invalid", key)
			p.fail(policyTypeMissing)
			continue
		}
		spec := pol.Spec

		switch {
		case spec.AccessControl != nil:
			p.Allow = append(p.Allow, spec.AccessControl.Allow...)
			p.Deny = append(p.Deny, spec.AccessControl.Deny...)

		case spec.RateLimit != nil:
			p.LimitReqs = append(p.LimitReqs, r.rateLimit(pol, o))

		case spec.BasicAuth != nil:
			if p.BasicAuth != nil {
				o.rep.warn("Multiple basic auth policies in the same context is not valid. Basic auth policy %s will be ignored", key)
				continue
			}
			s, err := r.typedSecret(ns, spec.BasicAuth.Secret, v1.SecretTypeHtpasswd)
			if err != nil {
				o.rep.warn("%s", secretProblem("BasicAuth", key, ns, spec.BasicAuth.Secret, err))
				p.fail(policyTypeBasicAuth)
				continue
			}
			p.BasicAuth = &BasicAuth{
				Realm: spec.BasicAuth.Realm,
				File:  r.auxFile(ns, spec.BasicAuth.Secret, ".htpasswd", s.Data[validation.HtpasswdKey]),
			}

		case spec.JWTAuth != nil:
			if p.JWTAuth != nil {
				o.rep.warn("Multiple jwt policies in the same context is not valid. JWT policy %s will be ignored", key)
				continue
			}
			s, err := r.typedSecret(ns, spec.JWTAuth.Secret, v1.SecretTypeJWK)
			if err != nil {
				o.rep.warn("%s", secretProblem("JWT", key, ns, spec.JWTAuth.Secret, err))
				p.fail(policyTypeJWTAuth)
				continue
			}
			p.JWTAuth = &JWTAuth{
				Realm: spec.JWTAuth.Realm,
				File:  r.auxFile(ns, spec.JWTAuth.Secret, ".jwk", s.Data[validation.JWKKey]),
				Token: spec.JWTAuth.Token,
			}

		case spec.IngressMTLS != nil:
			if context != contextSpec {
				o.rep.warn("IngressMTLS policy %s is not allowed in the %s context", key, context)
				continue
			}
			if mtls != nil {
				o.rep.warn("Multiple ingressMTLS policies are not allowed. IngressMTLS policy %s will be ignored", key)
				continue
			}
			if !o.tls {
				o.rep.warn("TLS must be enabled in VirtualServer for IngressMTLS policy %s", key)
				p.fail(policyTypeIngressMTLS)
				continue
			}
			s, err := r.typedSecret(ns, spec.IngressMTLS.ClientCertSecret, v1.SecretTypeCA)
			if err != nil {
				o.rep.warn("%s", secretProblem("IngressMTLS", key, ns, spec.IngressMTLS.ClientCertSecret, err))
				p.fail(policyTypeIngressMTLS)
				continue
			}
			mtls = &IngressMTLS{
				ClientCert:   r.auxFile(ns, spec.IngressMTLS.ClientCertSecret, "-ca.crt", s.Data[validation.CAKey]),
				VerifyClient: valueOr(spec.IngressMTLS.VerifyClient, "on"),
				VerifyDepth:  intOr(spec.IngressMTLS.VerifyDepth, 1),
			}

		case spec.EgressMTLS != nil:
			if p.EgressMTLS != nil {
				o.rep.warn("Multiple egressMTLS policies in the same context is not valid. EgressMTLS policy %s will be ignored", key)
				continue
			}
			e, ok := r.egressMTLS(ns, key, spec.EgressMTLS, o)
			if !ok {
				p.fail(policyTypeEgressMTLS)
				continue
			}
			p.EgressMTLS = e
		}
	}

	if len(p.Allow) > 0 && len(p.Deny) > 0 {
		o.rep.warn(accessControlOverridden)
		p.Deny = nil
	}
	return p, mtls
}

func (r *run) rateLimit(pol *v1.Policy, o policyOwner) LimitReq {
	rl := pol.Spec.RateLimit
	zone := objectName("pol_rl", pol.Namespace, pol.Name, o.vsNamespace, o.vsName)
	r.zones[zone] = RateLimitZone{Name: zone, Key: rl.Key, Size: rl.ZoneSize, Rate: rl.Rate}

	lr := LimitReq{
		Zone:       zone,
		Burst:      intOr(rl.Burst, 0),
		Delay:      intOr(rl.Delay, 0),
		LogLevel:   valueOr(rl.LogLevel, "error"),
		RejectCode: intOr(rl.RejectCode, 503),
	}
	if rl.NoDelay != nil {
		lr.NoDelay = *rl.NoDelay
	}
	if rl.DryRun != nil {
		lr.DryRun = *rl.DryRun
	}
	return lr
}

func (r *run) egressMTLS(ns, key string, spec *v1.EgressMTLS, o policyOwner) (*EgressMTLS, bool) {
	e := &EgressMTLS{
		VerifyServer: spec.VerifyServer,
		VerifyDepth:  intOr(spec.VerifyDepth, 1),
		SSLName:      spec.SSLName,
	}

	if spec.TLSSecret != "" {
		if _, err := r.typedSecret(ns, spec.TLSSecret, v1.SecretTypeTLS); err != nil {
			o.rep.warn("%s", secretProblem("EgressMTLS", key, ns, spec.TLSSecret, err))
			return nil, false
		}
		e.Certificate, _ = r.certificate(ns, spec.TLSSecret, o.server, false)
	}
	if spec.TrustedCertSecret != "" {
		s, err := r.typedSecret(ns, spec.TrustedCertSecret, v1.SecretTypeCA)
		if err != nil {
			o.rep.warn("%s", secretProblem("EgressMTLS", key, ns, spec.TrustedCertSecret, err))
			return nil, false
		}
		e.TrustedCert = r.auxFile(ns, spec.TrustedCertSecret, "-ca.crt", s.Data[validation.CAKey])
	}
	return e, true
}

// mergePolicies combines the policies of nested contexts, outermost first.
// For every policy type the innermost context that sets it wins. A failed
// policy type is inherited until a more specific context applies that type;
// any failure left makes the location answer with an error.
func mergePolicies(levels ...policySet) Policies {
	var out Policies
	failed := make(map[string]bool)
	for _, p := range levels {
		for _, t := range p.applied() {
			delete(failed, t)
		}
		for t := range p.failed {
			failed[t] = true
		}

		if len(p.Allow) > 0 || len(p.Deny) > 0 {
			out.Allow, out.Deny = p.Allow, p.Deny
		}
		if len(p.LimitReqs) > 0 {
			out.LimitReqs = p.LimitReqs
		}
		if p.BasicAuth != nil {
			out.BasicAuth = p.BasicAuth
		}
		if p.JWTAuth != nil {
			out.JWTAuth = p.JWTAuth
		}
		if p.EgressMTLS != nil {
			out.EgressMTLS = p.EgressMTLS
		}
	}
	if len(failed) > 0 {
		out.ErrorReturn = policyErrorReturn
	}
	return out
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
