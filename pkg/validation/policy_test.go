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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		spec    v1.PolicySpec
		wantErr string
	}{
		{
			name: "access control allow",
			spec: v1.PolicySpec{AccessControl: &v1.AccessControl{Allow: []string{"10.0.0.0/8", "127.0.0.1"}}},
		},
		{
			name:    "access control allow and deny",
			spec:    v1.PolicySpec{AccessControl: &v1.AccessControl{Allow: []string{"10.0.0.0/8"}, Deny: []string{"10.0.0.1"}}},
			wantErr: "must specify exactly one of: `allow` or `deny`",
		},
		{
			name:    "access control bad cidr",
			spec:    v1.PolicySpec{AccessControl: &v1.AccessControl{Deny: []string{"10.0.0.0/33"}}},
			wantErr: "spec.accessControl.deny[0]",
		},
		{
			name: "rate limit",
			spec: v1.PolicySpec{RateLimit: &v1.RateLimit{Rate: "10r/s", Key: "${binary_remote_addr}", ZoneSize: "10M"}},
		},
		{
			name:    "rate limit small zone",
			spec:    v1.PolicySpec{RateLimit: &v1.RateLimit{Rate: "10r/s", Key: "${binary_remote_addr}", ZoneSize: "16k"}},
			wantErr: "must be greater than 31k",
		},
		{
			name:    "rate limit bad rate",
			spec:    v1.PolicySpec{RateLimit: &v1.RateLimit{Rate: "10r/h", Key: "${binary_remote_addr}", ZoneSize: "10M"}},
			wantErr: "spec.rateLimit.rate: Invalid value",
		},
		{
			name:    "rate limit bad reject code",
			spec:    v1.PolicySpec{RateLimit: &v1.RateLimit{Rate: "10r/s", Key: "${uri}", ZoneSize: "10M", RejectCode: intPtr(200)}},
			wantErr: "must be within the range [400-599]",
		},
		{
			name: "jwt",
			spec: v1.PolicySpec{JWTAuth: &v1.JWTAuth{Realm: "My API", Secret: "jwk-secret", Token: "$http_token"}},
		},
		{
			name:    "jwt without realm",
			spec:    v1.PolicySpec{JWTAuth: &v1.JWTAuth{Secret: "jwk-secret"}},
			wantErr: "realm field must be present",
		},
		{
			name:    "jwt bad token",
			spec:    v1.PolicySpec{JWTAuth: &v1.JWTAuth{Realm: "My API", Secret: "jwk-secret", Token: "$request_id"}},
			wantErr: "must only have special vars",
		},
		{
			name:    "basic auth without secret",
			spec:    v1.PolicySpec{BasicAuth: &v1.BasicAuth{Realm: "users"}},
			wantErr: "spec.basicAuth.secret: Required value",
		},
		{
			name:    "ingress mtls verify client",
			spec:    v1.PolicySpec{IngressMTLS: &v1.IngressMTLS{ClientCertSecret: "ca", VerifyClient: "always"}},
			wantErr: "spec.ingressMTLS.verifyClient: Unsupported value",
		},
		{
			name:    "egress mtls verify server without trusted cert",
			spec:    v1.PolicySpec{EgressMTLS: &v1.EgressMTLS{VerifyServer: true}},
			wantErr: "must be set when verifyServer is 'true'",
		},
		{
			name:    "no type",
			spec:    v1.PolicySpec{},
			wantErr: "must specify exactly one of",
		},
		{
			name: "two types",
			spec: v1.PolicySpec{
				AccessControl: &v1.AccessControl{Allow: []string{"10.0.0.0/8"}},
				BasicAuth:     &v1.BasicAuth{Secret: "htpasswd"},
			},
			wantErr: "must specify exactly one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicy(&v1.Policy{Spec: tt.spec})
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
