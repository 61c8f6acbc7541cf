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

var allowedProtocols = []string{v1.ProtocolHTTP, v1.ProtocolTCP, v1.ProtocolUDP}

// ValidateGlobalConfiguration checks the listener list. forbiddenPorts are
// ports the controller already binds (80, 443, the TLS passthrough port).
func ValidateGlobalConfiguration(gc *v1.GlobalConfiguration, forbiddenPorts map[int]bool) error {
	return newError(validateListeners(gc.Spec.Listeners, forbiddenPorts, field.NewPath("spec").Child("listeners")))
}

func validateListeners(listeners []v1.Listener, forbiddenPorts map[int]bool, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	names := sets.Set[string]{}
	portProtocols := sets.Set[string]{}
	portOwner := make(map[int]string)

	for i, l := range listeners {
		idxPath := fieldPath.Index(i)
		key := fmt.Sprintf("%d/%s", l.Port, l.Protocol)

		if errs := validateListener(l, forbiddenPorts, idxPath); len(errs) > 0 {
			allErrs = append(allErrs, errs...)
			continue
		}

		switch {
		case names.Has(l.Name):
			allErrs = append(allErrs, field.Duplicate(idxPath.Child("name"), l.Name))
		case portProtocols.Has(key):
			allErrs = append(allErrs, field.Duplicate(fieldPath, fmt.Sprintf("Duplicated port/protocol combination %s", key)))
		case portOwner[l.Port] == v1.ProtocolHTTP && l.Protocol != v1.ProtocolHTTP:
			allErrs = append(allErrs, field.Forbidden(fieldPath, fmt.Sprintf(
				"Listener %s with protocol %s can't use port %d. Port is taken by an HTTP listener", l.Name, l.Protocol, l.Port)))
		case portOwner[l.Port] != "" && portOwner[l.Port] != v1.ProtocolHTTP && l.Protocol == v1.ProtocolHTTP:
			allErrs = append(allErrs, field.Forbidden(fieldPath, fmt.Sprintf(
				"Listener %s with protocol %s can't use port %d. Port is taken by TCP or UDP listener", l.Name, l.Protocol, l.Port)))
		default:
			names.Insert(l.Name)
			portProtocols.Insert(key)
			if _, ok := portOwner[l.Port]; !ok {
				portOwner[l.Port] = l.Protocol
			}
		}
	}

	return allErrs
}

func validateListener(l v1.Listener, forbiddenPorts map[int]bool, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if l.Name == v1.TLSPassthroughListenerName {
		allErrs = append(allErrs, field.Forbidden(fieldPath.Child("name"), "is the name of a built-in listener"))
	} else {
		allErrs = append(allErrs, validateDNS1035Label(l.Name, fieldPath.Child("name"))...)
	}

	if forbiddenPorts[l.Port] {
		allErrs = append(allErrs, field.Forbidden(fieldPath.Child("port"), fmt.Sprintf("port %v is forbidden", l.Port)))
	} else {
		allErrs = append(allErrs, validatePort(l.Port, fieldPath.Child("port"))...)
	}

	if !sets.New(allowedProtocols...).Has(l.Protocol) {
		allErrs = append(allErrs, field.NotSupported(fieldPath.Child("protocol"), l.Protocol, allowedProtocols))
	}
	if l.SSL && l.Protocol != v1.ProtocolHTTP {
		allErrs = append(allErrs, field.Forbidden(fieldPath.Child("ssl"), "ssl is only supported for HTTP listeners"))
	}

	return allErrs
}
