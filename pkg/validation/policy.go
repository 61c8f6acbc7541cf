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
	"regexp"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// ValidatePolicy checks that exactly one policy type is set and that it is well formed.
func ValidatePolicy(policy *v1.Policy) error {
	return newError(validatePolicySpec(&policy.Spec, field.NewPath("spec")))
}

func validatePolicySpec(spec *v1.PolicySpec, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	fieldCount := 0

	if spec.AccessControl != nil {
		allErrs = append(allErrs, validateAccessControl(spec.AccessControl, fieldPath.Child("accessControl"))...)
		fieldCount++
	}
	if spec.RateLimit != nil {
		allErrs = append(allErrs, validateRateLimit(spec.RateLimit, fieldPath.Child("rateLimit"))...)
		fieldCount++
	}
	if spec.JWTAuth != nil {
		allErrs = append(allErrs, validateJWT(spec.JWTAuth, fieldPath.Child("jwt"))...)
		fieldCount++
	}
	if spec.BasicAuth != nil {
		allErrs = append(allErrs, validateBasicAuth(spec.BasicAuth, fieldPath.Child("basicAuth"))...)
		fieldCount++
	}
	if spec.IngressMTLS != nil {
		allErrs = append(allErrs, validateIngressMTLS(spec.IngressMTLS, fieldPath.Child("ingressMTLS"))...)
		fieldCount++
	}
	if spec.EgressMTLS != nil {
		allErrs = append(allErrs, validateEgressMTLS(spec.EgressMTLS, fieldPath.Child("egressMTLS"))...)
		fieldCount++
	}

	if fieldCount != 1 {
		allErrs = append(allErrs, field.Invalid(fieldPath, "",
			"must specify exactly one of: `accessControl`, `rateLimit`, `ingressMTLS`, `egressMTLS`, `basicAuth`, `jwt`"))
	}

	return allErrs
}

func validateAccessControl(ac *v1.AccessControl, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	fieldCount := 0

	if ac.Allow != nil {
		for i, v := range ac.Allow {
			allErrs = append(allErrs, validateIPorCIDR(v, fieldPath.Child("allow").Index(i))...)
		}
		fieldCount++
	}
	if ac.Deny != nil {
		for i, v := range ac.Deny {
			allErrs = append(allErrs, validateIPorCIDR(v, fieldPath.Child("deny").Index(i))...)
		}
		fieldCount++
	}

	if fieldCount != 1 {
		allErrs = append(allErrs, field.Invalid(fieldPath, "", "must specify exactly one of: `allow` or `deny`"))
	}
	return allErrs
}

const (
	rateFmt    = `[1-9]\d*r/[sSmM]`
	rateErrMsg = "must consist of numeric characters followed by a valid rate suffix. 'r/s|r/m"
)

var (
	rateRegexp         = regexp.MustCompile("^" + rateFmt + "$")
	rateLimitKeyRegexp = regexp.MustCompile(`^(\$\{?(binary_remote_addr|request_uri|uri|args|(arg|http|cookie)_[A-Za-z0-9_]+)\}?)+$`)
	jwtTokenRegexp     = regexp.MustCompile(`^\$(arg|http|cookie)_[A-Za-z0-9_]+$`)
)

var validLogLevels = []string{"info", "notice", "warn", "error"}

func validateRateLimit(rl *v1.RateLimit, fieldPath *field.Path) field.ErrorList {
	allErrs := validateRateLimitZoneSize(rl.ZoneSize, fieldPath.Child("zoneSize"))

	switch {
	case rl.Rate == "":
		allErrs = append(allErrs, field.Required(fieldPath.Child("rate"), ""))
	case !rateRegexp.MatchString(rl.Rate):
		msg := validation.RegexError(rateErrMsg, rateFmt, "16r/s", "32r/m", "64r/s")
		allErrs = append(allErrs, field.Invalid(fieldPath.Child("rate"), rl.Rate, msg))
	}

	switch {
	case rl.Key == "":
		allErrs = append(allErrs, field.Required(fieldPath.Child("key"), ""))
	case !rateLimitKeyRegexp.MatchString(rl.Key):
		allErrs = append(allErrs, field.Invalid(fieldPath.Child("key"), rl.Key,
			"must only use the variables binary_remote_addr, request_uri, uri, args and the arg_, http_, cookie_ families"))
	}

	if rl.Delay != nil {
		allErrs = append(allErrs, validatePositiveInt(*rl.Delay, fieldPath.Child("delay"))...)
	}
	if rl.Burst != nil {
		allErrs = append(allErrs, validatePositiveInt(*rl.Burst, fieldPath.Child("burst"))...)
	}
	if rl.LogLevel != "" {
		ok := false
		for _, l := range validLogLevels {
			ok = ok || l == rl.LogLevel
		}
		if !ok {
			allErrs = append(allErrs, field.NotSupported(fieldPath.Child("logLevel"), rl.LogLevel, validLogLevels))
		}
	}
	if rl.RejectCode != nil && (*rl.RejectCode < 400 || *rl.RejectCode > 599) {
		allErrs = append(allErrs, field.Invalid(fieldPath.Child("rejectCode"), *rl.RejectCode, "must be within the range [400-599]"))
	}

	return allErrs
}

func validateRateLimitZoneSize(zoneSize string, fieldPath *field.Path) field.ErrorList {
	if zoneSize == "" {
		return field.ErrorList{field.Required(fieldPath, "")}
	}

	allErrs := validateSize(zoneSize, fieldPath)
	lower := strings.ToLower(zoneSize)
	kb, kbErr := strconv.Atoi(strings.TrimSuffix(lower, "k"))
	mb, mbErr := strconv.Atoi(strings.TrimSuffix(lower, "m"))
	if kbErr == nil && kb < 32 || mbErr == nil && mb == 0 {
		allErrs = append(allErrs, field.Invalid(fieldPath, zoneSize, "must be greater than 31k"))
	}
	return allErrs
}

func validateJWT(jwt *v1.JWTAuth, fieldPath *field.Path) field.ErrorList {
	if jwt.Realm == "" {
		return field.ErrorList{field.Required(fieldPath.Child("realm"), "realm field must be present")}
	}
	allErrs := validateRealm(jwt.Realm, fieldPath.Child("realm"))

	if jwt.Secret == "" {
		allErrs = append(allErrs, field.Required(fieldPath.Child("secret"), ""))
	} else {
		allErrs = append(allErrs, validateSecretName(jwt.Secret, fieldPath.Child("secret"))...)
	}

	if jwt.Token != "" && !jwtTokenRegexp.MatchString(jwt.Token) {
		allErrs = append(allErrs, field.Invalid(fieldPath.Child("token"), jwt.Token, "must only have special vars"))
	}
	return allErrs
}

func validateBasicAuth(basic *v1.BasicAuth, fieldPath *field.Path) field.ErrorList {
	if basic.Secret == "" {
		return field.ErrorList{field.Required(fieldPath.Child("secret"), "")}
	}
	allErrs := validateSecretName(basic.Secret, fieldPath.Child("secret"))
	if basic.Realm != "" {
		allErrs = append(allErrs, validateRealm(basic.Realm, fieldPath.Child("realm"))...)
	}
	return allErrs
}

var verifyClientValues = []string{"on", "off", "optional", "optional_no_ca"}

func validateIngressMTLS(mtls *v1.IngressMTLS, fieldPath *field.Path) field.ErrorList {
	if mtls.ClientCertSecret == "" {
		return field.ErrorList{field.Required(fieldPath.Child("clientCertSecret"), "")}
	}
	allErrs := validateSecretName(mtls.ClientCertSecret, fieldPath.Child("clientCertSecret"))

	if mtls.VerifyClient != "" {
		ok := false
		for _, v := range verifyClientValues {
			ok = ok || v == mtls.VerifyClient
		}
		if !ok {
			allErrs = append(allErrs, field.NotSupported(fieldPath.Child("verifyClient"), mtls.VerifyClient, verifyClientValues))
		}
	}
	if mtls.VerifyDepth != nil {
		allErrs = append(allErrs, validateNonNegativeInt(*mtls.VerifyDepth, fieldPath.Child("verifyDepth"))...)
	}
	return allErrs
}

func validateEgressMTLS(mtls *v1.EgressMTLS, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	if mtls.TLSSecret != "" {
		allErrs = append(allErrs, validateSecretName(mtls.TLSSecret, fieldPath.Child("tlsSecret"))...)
	}
	if mtls.VerifyServer && mtls.TrustedCertSecret == "" {
		return append(allErrs, field.Required(fieldPath.Child("trustedCertSecret"), "must be set when verifyServer is 'true'"))
	}
	if mtls.TrustedCertSecret != "" {
		allErrs = append(allErrs, validateSecretName(mtls.TrustedCertSecret, fieldPath.Child("trustedCertSecret"))...)
	}
	if mtls.VerifyDepth != nil {
		allErrs = append(allErrs, validateNonNegativeInt(*mtls.VerifyDepth, fieldPath.Child("verifyDepth"))...)
	}
	return allErrs
}

func validateSecretName(name string, fieldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	for _, msg := range validation.IsDNS1123Subdomain(name) {
		allErrs = append(allErrs, field.Invalid(fieldPath, name, msg))
	}
	return allErrs
}
