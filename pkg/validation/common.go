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
	"net"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Options carries the feature flags that change what is accepted.
type Options struct {
	EnableSnippets       bool
	EnableTLSPassthrough bool
}

const (
	timeFmt    = `\d+(ms|s|m|h|d|w|M|y)?`
	timeErrMsg = "must be a time"
	sizeFmt    = `\d+[kKmMgG]?`
	sizeErrMsg = "must be a size"
)

var (
	timeRegexp = regexp.MustCompile("^(" + timeFmt + ")+$")
	sizeRegexp = regexp.MustCompile("^" + sizeFmt + "$")
	pathRegexp = regexp.MustCompile(`^/[^\s{};]*$`)
)

// lbMethods maps accepted load balancing methods to their directive. An
// empty directive means the NGINX default (round robin).
var lbMethods = map[string]string{
	"round_robin":           "",
	"least_conn":            "least_conn",
	"ip_hash":               "ip_hash",
	"random":                "random",
	"random two":            "random two",
	"random two least_conn": "random two least_conn",
	"least_time header":     "least_time header",
	"least_time last_byte":  "least_time last_byte",
}

var hashMethodRegexp = regexp.MustCompile(`^hash (\S+)( consistent)?$`)

// ParseLBMethod returns the upstream directive for a load balancing method.
func ParseLBMethod(method string) (string, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return "", nil
	}
	if directive, ok := lbMethods[method]; ok {
		return directive, nil
	}
	if hashMethodRegexp.MatchString(method) {
		return method, nil
	}
	return "", fmt.Errorf("invalid load balancing method: %q", method)
}

func validateHost(host string, fieldPath *field.Path) field.ErrorList {
	if host == "" {
		return field.ErrorList{field.Required(fieldPath, "")}
	}
	check := host
	if strings.HasPrefix(host, "*.") {
		check = strings.TrimPrefix(host, "*.")
	}
	allErrs := field.ErrorList{}
	for _, msg := range validation.IsDNS1123Subdomain(check) {
		allErrs = append(allErrs, field.Invalid(fieldPath, host, msg))
	}
	return allErrs
}

func validatePath(path string, fieldPath *field.Path) field.ErrorList {
	if path == "" {
		return field.ErrorList{field.Required(fieldPath, "")}
	}
	switch {
	case strings.HasPrefix(path, "="):
		path = strings.TrimSpace(strings.TrimPrefix(path, "="))
	case strings.HasPrefix(path, "~"):
		expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(path, "~*"), "~"))
		if _, err := regexp.Compile(expr); err != nil {
			return field.ErrorList{field.Invalid(fieldPath, path, fmt.Sprintf("must be a valid regular expression: %v", err))}
		}
		return nil
	}
	if !pathRegexp.MatchString(path) {
		msg := validation.RegexError("must start with / and must not include any whitespace character, `{`, `}` or `;`",
			pathRegexp.String(), "/", "/path", "/path/subpath-123")
		return field.ErrorList{field.Invalid(fieldPath, path, msg)}
	}
	return nil
}

// IsTime reports whether s is an NGINX time value such as "30s" or "1m30s".
func IsTime(s string) bool {
	return timeRegexp.MatchString(s)
}

// IsSize reports whether s is an NGINX size value such as "1m".
func IsSize(s string) bool {
	return sizeRegexp.MatchString(s)
}

func validateTime(value string, fieldPath *field.Path) field.ErrorList {
	if value == "" {
		return nil
	}
	if !timeRegexp.MatchString(value) {
		return field.ErrorList{field.Invalid(fieldPath, value, timeErrMsg)}
	}
	return nil
}

func validateSize(value string, fieldPath *field.Path) field.ErrorList {
	if value == "" {
		return nil
	}
	if !sizeRegexp.MatchString(value) {
		return field.ErrorList{field.Invalid(fieldPath, value, sizeErrMsg)}
	}
	return nil
}

func validateDNS1035Label(name string, fieldPath *field.Path) field.ErrorList {
	if name == "" {
		return field.ErrorList{field.Required(fieldPath, "")}
	}
	allErrs := field.ErrorList{}
	for _, msg := range validation.IsDNS1035Label(name) {
		allErrs = append(allErrs, field.Invalid(fieldPath, name, msg))
	}
	return allErrs
}

func validatePort(port int, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	for _, msg := range validation.IsValidPortNum(port) {
		allErrs = append(allErrs, field.Invalid(fieldPath, port, msg))
	}
	return allErrs
}

func validatePositiveInt(n int, fieldPath *field.Path) field.ErrorList {
	if n <= 0 {
		return field.ErrorList{field.Invalid(fieldPath, n, "must be positive")}
	}
	return nil
}

func validateNonNegativeInt(n int, fieldPath *field.Path) field.ErrorList {
	if n < 0 {
		return field.ErrorList{field.Invalid(fieldPath, n, "must be non-negative")}
	}
	return nil
}

func validateIPorCIDR(ipOrCIDR string, fieldPath *field.Path) field.ErrorList {
	if _, _, err := net.ParseCIDR(ipOrCIDR); err == nil {
		return nil
	}
	if net.ParseIP(ipOrCIDR) != nil {
		return nil
	}
	return field.ErrorList{field.Invalid(fieldPath, ipOrCIDR, "must be a CIDR or IP")}
}

const (
	realmFmt       = `([^"$\\]|\\[^$])*`
	realmFmtErrMsg = `a valid realm must have all '"' escaped and must not contain any '$' or end with an unescaped '\'`
)

var realmRegexp = regexp.MustCompile("^" + realmFmt + "$")

func validateRealm(realm string, fieldPath *field.Path) field.ErrorList {
	if !realmRegexp.MatchString(realm) {
		msg := validation.RegexError(realmFmtErrMsg, realmFmt, "MyAPI", "My Product API")
		return field.ErrorList{field.Invalid(fieldPath, realm, msg)}
	}
	return nil
}

func validateSnippet(snippet string, opts Options, fieldPath *field.Path) field.ErrorList {
	if snippet != "" && !opts.EnableSnippets {
		return field.ErrorList{field.Forbidden(fieldPath, "snippet specified but snippets feature is not enabled")}
	}
	return nil
}

func validateStatusCode(code int, allowed []int, fieldPath *field.Path) field.ErrorList {
	for _, a := range allowed {
		if code == a {
			return nil
		}
	}
	strs := make([]string, len(allowed))
	for i, a := range allowed {
		strs[i] = strconv.Itoa(a)
	}
	return field.ErrorList{field.NotSupported(fieldPath, code, strs)}
}
