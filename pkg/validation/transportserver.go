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

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// ValidateTransportServer checks a TransportServer in isolation.
func ValidateTransportServer(ts *v1.TransportServer, opts Options) error {
	spec := &ts.Spec
	fieldPath := field.NewPath("spec")

	allErrs := validateTransportListener(spec, opts, fieldPath)

	names := sets.Set[string]{}
	for i, u := range spec.Upstreams {
		idx := fieldPath.Child("upstreams").Index(i)
		nameErrs := validateDNS1035Label(u.Name, idx.Child("name"))
		if len(nameErrs) > 0 {
			allErrs = append(allErrs, nameErrs...)
		} else if names.Has(u.Name) {
			allErrs = append(allErrs, field.Duplicate(idx.Child("name"), u.Name))
		} else {
			names.Insert(u.Name)
		}
		allErrs = append(allErrs, validateDNS1035Label(u.Service, idx.Child("service"))...)
		allErrs = append(allErrs, validatePort(u.Port, idx.Child("port"))...)
		allErrs = append(allErrs, validateTime(u.FailTimeout, idx.Child("failTimeout"))...)
		if u.MaxFails != nil {
			allErrs = append(allErrs, validateNonNegativeInt(*u.MaxFails, idx.Child("maxFails"))...)
		}
		if _, err := ParseStreamLBMethod(u.LoadBalancingMethod); err != nil {
			allErrs = append(allErrs, field.Invalid(idx.Child("loadBalancingMethod"), u.LoadBalancingMethod, err.Error()))
		}
	}

	switch {
	case spec.Action == nil || spec.Action.Pass == "":
		allErrs = append(allErrs, field.Required(fieldPath.Child("action", "pass"), ""))
	case !names.Has(spec.Action.Pass):
		allErrs = append(allErrs, field.NotFound(fieldPath.Child("action", "pass"), spec.Action.Pass))
	}

	allErrs = append(allErrs, validateSnippet(spec.ServerSnippets, opts, fieldPath.Child("serverSnippets"))...)
	allErrs = append(allErrs, validateSnippet(spec.StreamSnippets, opts, fieldPath.Child("streamSnippets"))...)

	return newError(allErrs)
}

// IsTLSPassthrough reports whether ts uses the built-in TLS passthrough listener.
func IsTLSPassthrough(ts *v1.TransportServer) bool {
	return ts.Spec.Listener.Name == v1.TLSPassthroughListenerName
}

func validateTransportListener(spec *v1.TransportServerSpec, opts Options, fieldPath *field.Path) field.ErrorList {
	listenerPath := fieldPath.Child("listener")
	l := spec.Listener

	if l.Name == v1.TLSPassthroughListenerName {
		allErrs := field.ErrorList{}
		if !opts.EnableTLSPassthrough {
			allErrs = append(allErrs, field.Forbidden(listenerPath.Child("name"), "TLS Passthrough is not enabled"))
		}
		if l.Protocol != v1.TLSPassthroughListenerProtocol {
			allErrs = append(allErrs, field.Invalid(listenerPath.Child("protocol"), l.Protocol,
				"must be "+v1.TLSPassthroughListenerProtocol+" for the built-in listener"))
		}
		allErrs = append(allErrs, validateHost(spec.Host, fieldPath.Child("host"))...)
		if spec.TLS != nil {
			allErrs = append(allErrs, field.Forbidden(fieldPath.Child("tls"), "is not supported for TLS passthrough"))
		}
		return allErrs
	}

	allErrs := validateDNS1035Label(l.Name, listenerPath.Child("name"))
	if l.Protocol != v1.ProtocolTCP && l.Protocol != v1.ProtocolUDP {
		allErrs = append(allErrs, field.NotSupported(listenerPath.Child("protocol"), l.Protocol,
			[]string{v1.ProtocolTCP, v1.ProtocolUDP}))
	}
	if spec.Host != "" {
		allErrs = append(allErrs, field.Forbidden(fieldPath.Child("host"), "host field is allowed only for TLS Passthrough TransportServers"))
	}
	if spec.TLS != nil {
		if l.Protocol == v1.ProtocolUDP {
			allErrs = append(allErrs, field.Forbidden(fieldPath.Child("tls"), "is not supported for UDP listeners"))
		}
		if spec.TLS.Secret == "" {
			allErrs = append(allErrs, field.Required(fieldPath.Child("tls", "secret"), ""))
		} else {
			allErrs = append(allErrs, validateSecretName(spec.TLS.Secret, fieldPath.Child("tls", "secret"))...)
		}
	}
	return allErrs
}

var streamLBMethods = map[string]string{
	"round_robin":           "",
	"least_conn":            "least_conn",
	"random":                "random",
	"random two":            "random two",
	"random two least_conn": "random two least_conn",
}

// ParseStreamLBMethod returns the stream upstream directive for a load
// balancing method.
func ParseStreamLBMethod(method string) (string, error) {
	if method == "" {
		return "", nil
	}
	if directive, ok := streamLBMethods[method]; ok {
		return directive, nil
	}
	if hashMethodRegexp.MatchString(method) {
		return method, nil
	}
	return "", fmt.Errorf("invalid load balancing method: %q", method)
}
