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
	"regexp"
	"sort"
	"strconv"
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

type annotationValidator func(value string, services sets.Set[string], opts Options, fieldPath *field.Path) field.ErrorList

var annotationValidators = map[string]annotationValidator{
	v1.AnnotationMergeableIngressType:  validateMergeableType,
	v1.AnnotationLBMethod:              validateLBMethodAnnotation,
	v1.AnnotationServerSnippets:        validateSnippetAnnotation,
	v1.AnnotationLocationSnippets:      validateSnippetAnnotation,
	v1.AnnotationProxyConnectTimeout:   simple(validateTime),
	v1.AnnotationProxyReadTimeout:      simple(validateTime),
	v1.AnnotationProxySendTimeout:      simple(validateTime),
	v1.AnnotationFailTimeout:           simple(validateTime),
	v1.AnnotationClientMaxBodySize:     simple(validateSize),
	v1.AnnotationProxyBufferSize:       simple(validateSize),
	v1.AnnotationProxyBuffers:          simple(validateProxyBuffers),
	v1.AnnotationRedirectToHTTPS:       simple(validateBool),
	v1.AnnotationSSLRedirect:           simple(validateBool),
	v1.AnnotationProxyBuffering:        simple(validateBool),
	v1.AnnotationHSTS:                  simple(validateBool),
	v1.AnnotationHSTSIncludeSubdomains: simple(validateBool),
	v1.AnnotationServerTokens:          simple(validateBool),
	v1.AnnotationHSTSMaxAge:            simple(validateNonNegativeIntString),
	v1.AnnotationKeepalive:             simple(validateNonNegativeIntString),
	v1.AnnotationMaxFails:              simple(validateNonNegativeIntString),
	v1.AnnotationListenPorts:           simple(validatePortList),
	v1.AnnotationListenPortsSSL:        simple(validatePortList),
	v1.AnnotationBasicAuthSecret:       simple(validateSecretName),
	v1.AnnotationBasicAuthRealm:        simple(validateRealm),
	v1.AnnotationSSLServices:           validateServiceListAnnotation,
	v1.AnnotationWebsocketServices:     validateServiceListAnnotation,
	v1.AnnotationRewrites:              validateRewritesAnnotation,
}

func simple(fn func(string, *field.Path) field.ErrorList) annotationValidator {
	return func(value string, _ sets.Set[string], _ Options, fieldPath *field.Path) field.ErrorList {
		return fn(value, fieldPath)
	}
}

// ValidateIngress checks annotations, rules and the mergeable Ingress constraints.
func ValidateIngress(ing *networkingv1.Ingress, opts Options) error {
	services := specServices(ing.Spec)

	allErrs := validateIngressAnnotations(ing.Annotations, services, opts, field.NewPath("annotations"))
	allErrs = append(allErrs, validateIngressSpec(&ing.Spec, field.NewPath("spec"))...)

	switch MergeableType(ing) {
	case v1.MergeableTypeMaster:
		allErrs = append(allErrs, validateMasterSpec(&ing.Spec, field.NewPath("spec"))...)
	case v1.MergeableTypeMinion:
		allErrs = append(allErrs, validateMinionSpec(&ing.Spec, field.NewPath("spec"))...)
	}

	return newError(allErrs)
}

// MergeableType returns "master", "minion" or "" for a regular Ingress.
func MergeableType(ing *networkingv1.Ingress) string {
	return ing.Annotations[v1.AnnotationMergeableIngressType]
}

func validateIngressAnnotations(annotations map[string]string, services sets.Set[string], opts Options, fieldPath *field.Path) field.ErrorList {
	names := make([]string, 0, len(annotationValidators))
	for name := range annotationValidators {
		names = append(names, name)
	}
	sort.Strings(names)

	allErrs := field.ErrorList{}
	for _, name := range names {
		value, ok := annotations[name]
		if !ok {
			continue
		}
		allErrs = append(allErrs, annotationValidators[name](value, services, opts, fieldPath.Key(name))...)
	}
	return allErrs
}

func validateMergeableType(value string, _ sets.Set[string], _ Options, fieldPath *field.Path) field.ErrorList {
	if value != v1.MergeableTypeMaster && value != v1.MergeableTypeMinion {
		return field.ErrorList{field.Invalid(fieldPath, value, "must be one of: 'master' or 'minion'")}
	}
	return nil
}

func validateLBMethodAnnotation(value string, _ sets.Set[string], _ Options, fieldPath *field.Path) field.ErrorList {
	if _, err := ParseLBMethod(value); err != nil {
		return field.ErrorList{field.Invalid(fieldPath, value, err.Error())}
	}
	return nil
}

func validateSnippetAnnotation(value string, _ sets.Set[string], opts Options, fieldPath *field.Path) field.ErrorList {
	return validateSnippet(value, opts, fieldPath)
}

func validateBool(value string, fieldPath *field.Path) field.ErrorList {
	if _, err := strconv.ParseBool(value); err != nil {
		return field.ErrorList{field.Invalid(fieldPath, value, "must be a boolean")}
	}
	return nil
}

func validateNonNegativeIntString(value string, fieldPath *field.Path) field.ErrorList {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return field.ErrorList{field.Invalid(fieldPath, value, "must be a non-negative integer")}
	}
	return nil
}

var proxyBuffersRegexp = regexp.MustCompile(`^\d+ ` + sizeFmt + `$`)

func validateProxyBuffers(value string, fieldPath *field.Path) field.ErrorList {
	if !proxyBuffersRegexp.MatchString(value) {
		return field.ErrorList{field.Invalid(fieldPath, value, "must be a proxy buffer spec")}
	}
	return nil
}

// ParsePortList parses a comma-separated list of ports.
func ParsePortList(value string) ([]int, error) {
	var ports []int
	for _, p := range strings.Split(value, ",") {
		port, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func validatePortList(value string, fieldPath *field.Path) field.ErrorList {
	if _, err := ParsePortList(value); err != nil {
		return field.ErrorList{field.Invalid(fieldPath, value, "must be a comma-separated list of port numbers")}
	}
	return nil
}

// ParseServiceList parses a comma-separated list of service names.
func ParseServiceList(value string) sets.Set[string] {
	out := sets.Set[string]{}
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out.Insert(s)
		}
	}
	return out
}

func validateServiceListAnnotation(value string, services sets.Set[string], _ Options, fieldPath *field.Path) field.ErrorList {
	unknown := sets.List(ParseServiceList(value).Difference(services))
	if len(unknown) > 0 {
		return field.ErrorList{field.Invalid(fieldPath, value, fmt.Sprintf(
			"must be a comma-separated list of services. The following services were not found: %s", strings.Join(unknown, ",")))}
	}
	return nil
}

// ParseRewrites parses "serviceName=svc rewrite=/path;..." into a map from
// service name to rewrite path.
func ParseRewrites(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "serviceName=") || !strings.HasPrefix(fields[1], "rewrite=") {
			return nil, fmt.Errorf("%q is not a valid rewrite, expected serviceName=<service> rewrite=<path>", part)
		}
		out[strings.TrimPrefix(fields[0], "serviceName=")] = strings.TrimPrefix(fields[1], "rewrite=")
	}
	return out, nil
}

func validateRewritesAnnotation(value string, services sets.Set[string], _ Options, fieldPath *field.Path) field.ErrorList {
	rewrites, err := ParseRewrites(value)
	if err != nil {
		return field.ErrorList{field.Invalid(fieldPath, value, err.Error())}
	}
	var unknown []string
	for svc := range rewrites {
		if !services.Has(svc) {
			unknown = append(unknown, svc)
		}
	}
	sort.Strings(unknown)
	if len(unknown) > 0 {
		return field.ErrorList{field.Invalid(fieldPath, value, fmt.Sprintf(
			"The following services were not found: %s", strings.Join(unknown, ",")))}
	}
	return nil
}

func validateIngressSpec(spec *networkingv1.IngressSpec, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if spec.DefaultBackend != nil {
		allErrs = append(allErrs, validateIngressBackend(spec.DefaultBackend, fieldPath.Child("defaultBackend"))...)
	} else if len(spec.Rules) == 0 {
		return append(allErrs, field.Required(fieldPath.Child("rules"), ""))
	}

	hosts := sets.Set[string]{}
	for i, r := range spec.Rules {
		idx := fieldPath.Child("rules").Index(i)
		if r.Host == "" {
			allErrs = append(allErrs, field.Required(idx.Child("host"), ""))
		} else if hosts.Has(r.Host) {
			allErrs = append(allErrs, field.Duplicate(idx.Child("host"), r.Host))
		} else {
			hosts.Insert(r.Host)
			allErrs = append(allErrs, validateHost(r.Host, idx.Child("host"))...)
		}

		if r.HTTP == nil {
			continue
		}
		for j, p := range r.HTTP.Paths {
			pathIdx := idx.Child("http", "paths").Index(j)
			if p.Path != "" || p.PathType == nil || *p.PathType != networkingv1.PathTypeImplementationSpecific {
				allErrs = append(allErrs, validatePath(p.Path, pathIdx.Child("path"))...)
			}
			allErrs = append(allErrs, validateIngressBackend(&p.Backend, pathIdx.Child("backend"))...)
		}
	}
	return allErrs
}

func validateIngressBackend(b *networkingv1.IngressBackend, fieldPath *field.Path) field.ErrorList {
	if b.Resource != nil {
		return field.ErrorList{field.Forbidden(fieldPath.Child("resource"), "resource backends are not supported")}
	}
	if b.Service == nil {
		return field.ErrorList{field.Required(fieldPath.Child("service"), "")}
	}
	return nil
}

func validateMasterSpec(spec *networkingv1.IngressSpec, fieldPath *field.Path) field.ErrorList {
	if len(spec.Rules) != 1 {
		return field.ErrorList{field.TooMany(fieldPath.Child("rules"), len(spec.Rules), 1)}
	}
	if http := spec.Rules[0].HTTP; http != nil && len(http.Paths) != 0 {
		return field.ErrorList{field.TooMany(fieldPath.Child("rules").Index(0).Child("http", "paths"), len(http.Paths), 0)}
	}
	return nil
}

func validateMinionSpec(spec *networkingv1.IngressSpec, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	if len(spec.TLS) > 0 {
		allErrs = append(allErrs, field.TooMany(fieldPath.Child("tls"), len(spec.TLS), 0))
	}
	if len(spec.Rules) != 1 {
		return append(allErrs, field.TooMany(fieldPath.Child("rules"), len(spec.Rules), 1))
	}
	if http := spec.Rules[0].HTTP; http == nil || len(http.Paths) == 0 {
		return append(allErrs, field.Required(fieldPath.Child("rules").Index(0).Child("http", "paths"), "must include at least one path"))
	}
	return allErrs
}

func specServices(spec networkingv1.IngressSpec) sets.Set[string] {
	services := sets.Set[string]{}
	if spec.DefaultBackend != nil && spec.DefaultBackend.Service != nil {
		services.Insert(spec.DefaultBackend.Service.Name)
	}
	for _, r := range spec.Rules {
		if r.HTTP == nil {
			continue
		}
		for _, p := range r.HTTP.Paths {
			if p.Backend.Service != nil {
				services.Insert(p.Backend.Service.Name)
			}
		}
	}
	return services
}
