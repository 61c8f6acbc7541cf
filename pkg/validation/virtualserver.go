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

package validation

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

var (
	redirectCodes = []int{301, 302, 307, 308}
	returnCodes   = []int{200, 201, 204, 400, 401, 403, 404, 405, 409, 410, 429, 500, 501, 502, 503, 504}
)

// ValidateVirtualServer checks a VirtualServer in isolation.
func ValidateVirtualServer(vs *v1.VirtualServer, opts Options) error {
	spec := &vs.Spec
	fieldPath := field.NewPath("spec")

	allErrs := validateHost(spec.Host, fieldPath.Child("host"))
	allErrs = append(allErrs, validateVirtualServerListener(spec.Listener, fieldPath.Child("listener"))...)
	allErrs = append(allErrs, validateTLS(spec.TLS, fieldPath.Child("tls"))...)
	allErrs = append(allErrs, validatePolicyReferences(spec.Policies, fieldPath.Child("policies"))...)

	upstreamErrs, upstreamNames := validateUpstreams(spec.Upstreams, fieldPath.Child("upstreams"))
	allErrs = append(allErrs, upstreamErrs...)
	allErrs = append(allErrs, validateRoutes(spec.Routes, upstreamNames, true, opts, fieldPath.Child("routes"))...)

	allErrs = append(allErrs, validateSnippet(spec.HTTPSnippets, opts, fieldPath.Child("http-snippets"))...)
	allErrs = append(allErrs, validateSnippet(spec.ServerSnippets, opts, fieldPath.Child("server-snippets"))...)

	return newError(allErrs)
}

// ValidateVirtualServerRoute checks a VirtualServerRoute in isolation.
func ValidateVirtualServerRoute(vsr *v1.VirtualServerRoute, opts Options) error {
	spec := &vsr.Spec
	fieldPath := field.NewPath("spec")

	allErrs := validateHost(spec.Host, fieldPath.Child("host"))
	upstreamErrs, upstreamNames := validateUpstreams(spec.Upstreams, fieldPath.Child("upstreams"))
	allErrs = append(allErrs, upstreamErrs...)
	allErrs = append(allErrs, validateRoutes(spec.Subroutes, upstreamNames, false, opts, fieldPath.Child("subroutes"))...)

	return newError(allErrs)
}

// ValidateVirtualServerRouteForVirtualServer checks that a VirtualServerRoute
// fits the VirtualServer route delegating to it.
func ValidateVirtualServerRouteForVirtualServer(vsr *v1.VirtualServerRoute, vsHost, vsPath string) error {
	allErrs := field.ErrorList{}
	fieldPath := field.NewPath("spec")

	if vsr.Spec.Host != vsHost {
		allErrs = append(allErrs, field.Invalid(fieldPath.Child("host"), vsr.Spec.Host,
			fmt.Sprintf("must be equal to '%s'", vsHost)))
	}
	for i, r := range vsr.Spec.Subroutes {
		if !strings.HasPrefix(r.Path, vsPath) {
			allErrs = append(allErrs, field.Invalid(fieldPath.Child("subroutes").Index(i).Child("path"), r.Path,
				fmt.Sprintf("must start with '%s'", vsPath)))
		}
	}
	return newError(allErrs)
}

func validateVirtualServerListener(l *v1.VirtualServerListener, fieldPath *field.Path) field.ErrorList {
	if l == nil {
		return nil
	}
	allErrs := field.ErrorList{}
	if l.HTTP != "" {
		allErrs = append(allErrs, validateDNS1035Label(l.HTTP, fieldPath.Child("http"))...)
	}
	if l.HTTPS != "" {
		allErrs = append(allErrs, validateDNS1035Label(l.HTTPS, fieldPath.Child("https"))...)
	}
	if l.HTTP != "" && l.HTTP == l.HTTPS {
		allErrs = append(allErrs, field.Duplicate(fieldPath.Child("https"), l.HTTPS))
	}
	return allErrs
}

func validateTLS(tls *v1.TLS, fieldPath *field.Path) field.ErrorList {
	if tls == nil {
		return nil
	}
	allErrs := field.ErrorList{}
	if tls.Secret != "" {
		allErrs = append(allErrs, validateSecretName(tls.Secret, fieldPath.Child("secret"))...)
	}
	if r := tls.Redirect; r != nil {
		if r.Code != nil {
			allErrs = append(allErrs, validateStatusCode(*r.Code, redirectCodes, fieldPath.Child("redirect", "code"))...)
		}
		if r.BasedOn != "" && r.BasedOn != "scheme" && r.BasedOn != "x-forwarded-proto" {
			allErrs = append(allErrs, field.NotSupported(fieldPath.Child("redirect", "basedOn"), r.BasedOn,
				[]string{"scheme", "x-forwarded-proto"}))
		}
	}
	return allErrs
}

func validatePolicyReferences(refs []v1.PolicyReference, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	for i, p := range refs {
		idx := fieldPath.Index(i)
		if p.Name == "" {
			allErrs = append(allErrs, field.Required(idx.Child("name"), ""))
			continue
		}
		allErrs = append(allErrs, validateSecretName(p.Name, idx.Child("name"))...)
		if p.Namespace != "" {
			allErrs = append(allErrs, validateSecretName(p.Namespace, idx.Child("namespace"))...)
		}
	}
	return allErrs
}

func validateUpstreams(upstreams []v1.Upstream, fieldPath *field.Path) (field.ErrorList, sets.Set[string]) {
	allErrs := field.ErrorList{}
	names := sets.Set[string]{}

	for i, u := range upstreams {
		idx := fieldPath.Index(i)

		nameErrs := validateDNS1035Label(u.Name, idx.Child("name"))
		if len(nameErrs) > 0 {
			allErrs = append(allErrs, nameErrs...)
		} else if names.Has(u.Name) {
			allErrs = append(allErrs, field.Duplicate(idx.Child("name"), u.Name))
		} else {
			names.Insert(u.Name)
		}

		allErrs = append(allErrs, validateDNS1035Label(u.Service, idx.Child("service"))...)
		allErrs = append(allErrs, validatePort(int(u.Port), idx.Child("port"))...)
		if _, err := ParseLBMethod(u.LBMethod); err != nil {
			allErrs = append(allErrs, field.Invalid(idx.Child("lb-method"), u.LBMethod, err.Error()))
		}
		allErrs = append(allErrs, validateTime(u.FailTimeout, idx.Child("fail-timeout"))...)
		allErrs = append(allErrs, validateTime(u.ConnectTimeout, idx.Child("connect-timeout"))...)
		allErrs = append(allErrs, validateTime(u.ReadTimeout, idx.Child("read-timeout"))...)
		allErrs = append(allErrs, validateTime(u.SendTimeout, idx.Child("send-timeout"))...)
		allErrs = append(allErrs, validateSize(u.ClientMaxBodySize, idx.Child("client-max-body-size"))...)
		if u.MaxFails != nil {
			allErrs = append(allErrs, validateNonNegativeInt(*u.MaxFails, idx.Child("max-fails"))...)
		}
		if u.Keepalive != nil {
			allErrs = append(allErrs, validateNonNegativeInt(*u.Keepalive, idx.Child("keepalive"))...)
		}
	}

	return allErrs, names
}

func validateRoutes(routes []v1.Route, upstreamNames sets.Set[string], allowDelegation bool, opts Options, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	paths := sets.Set[string]{}

	for i, r := range routes {
		idx := fieldPath.Index(i)

		pathErrs := validatePath(r.Path, idx.Child("path"))
		if len(pathErrs) > 0 {
			allErrs = append(allErrs, pathErrs...)
		} else if paths.Has(r.Path) {
			allErrs = append(allErrs, field.Duplicate(idx.Child("path"), r.Path))
		} else {
			paths.Insert(r.Path)
		}

		allErrs = append(allErrs, validatePolicyReferences(r.Policies, idx.Child("policies"))...)
		allErrs = append(allErrs, validateSnippet(r.LocationSnippets, opts, idx.Child("location-snippets"))...)

		fieldCount := 0
		if r.Action != nil {
			allErrs = append(allErrs, validateAction(r.Action, upstreamNames, idx.Child("action"))...)
			fieldCount++
		}
		if len(r.Splits) > 0 {
			allErrs = append(allErrs, validateSplits(r.Splits, upstreamNames, idx.Child("splits"))...)
			fieldCount++
		}
		if r.Route != "" {
			if !allowDelegation {
				allErrs = append(allErrs, field.Forbidden(idx.Child("route"), "is not allowed in subroutes"))
			} else {
				allErrs = append(allErrs, validateRouteReference(r.Route, idx.Child("route"))...)
			}
			fieldCount++
		}

		if fieldCount != 1 {
			msg := "must specify exactly one of: `action`, `splits`"
			if allowDelegation {
				msg += ", `route`"
			}
			allErrs = append(allErrs, field.Invalid(idx, "", msg))
		}
	}

	return allErrs
}

func validateRouteReference(ref string, fieldPath *field.Path) field.ErrorList {
	parts := strings.Split(ref, "/")
	if len(parts) > 2 {
		return field.ErrorList{field.Invalid(fieldPath, ref, "must be a name or namespace/name")}
	}
	allErrs := field.ErrorList{}
	for _, p := range parts {
		allErrs = append(allErrs, validateSecretName(p, fieldPath)...)
	}
	return allErrs
}

func validateAction(a *v1.Action, upstreamNames sets.Set[string], fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	fieldCount := 0

	if a.Pass != "" {
		if !upstreamNames.Has(a.Pass) {
			allErrs = append(allErrs, field.NotFound(fieldPath.Child("pass"), a.Pass))
		}
		fieldCount++
	}
	if a.Redirect != nil {
		if a.Redirect.URL == "" {
			allErrs = append(allErrs, field.Required(fieldPath.Child("redirect", "url"), ""))
		}
		if a.Redirect.Code != 0 {
			allErrs = append(allErrs, validateStatusCode(a.Redirect.Code, redirectCodes, fieldPath.Child("redirect", "code"))...)
		}
		fieldCount++
	}
	if a.Return != nil {
		if a.Return.Code != 0 {
			allErrs = append(allErrs, validateStatusCode(a.Return.Code, returnCodes, fieldPath.Child("return", "code"))...)
		}
		if strings.ContainsAny(a.Return.Type, " ;") {
			allErrs = append(allErrs, field.Invalid(fieldPath.Child("return", "type"), a.Return.Type, "must be a MIME type"))
		}
		fieldCount++
	}

	if fieldCount != 1 {
		allErrs = append(allErrs, field.Invalid(fieldPath, "", "must specify exactly one of: `pass`, `redirect` or `return`"))
	}
	return allErrs
}

func validateSplits(splits []v1.Split, upstreamNames sets.Set[string], fieldPath *field.Path) field.ErrorList {
	if len(splits) < 2 {
		return field.ErrorList{field.Invalid(fieldPath, "", "must include at least 2 splits")}
	}

	allErrs := field.ErrorList{}
	total := 0
	for i, s := range splits {
		idx := fieldPath.Index(i)
		if s.Weight < 0 || s.Weight > 100 {
			allErrs = append(allErrs, field.Invalid(idx.Child("weight"), s.Weight, "must be in the range [0, 100]"))
		}
		total += s.Weight
		if s.Action == nil {
			allErrs = append(allErrs, field.Required(idx.Child("action"), ""))
			continue
		}
		allErrs = append(allErrs, validateAction(s.Action, upstreamNames, idx.Child("action"))...)
	}
	if total != 100 {
		allErrs = append(allErrs, field.Invalid(fieldPath, "", "the sum of the weights of all splits must be equal to 100"))
	}
	return allErrs
}
