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

func intPtr(i int) *int { return &i }

func validVirtualServer() *v1.VirtualServer {
	return &v1.VirtualServer{
		Spec: v1.VirtualServerSpec{
			Host: "cafe.example.com",
			Upstreams: []v1.Upstream{
				{Name: "tea", Service: "tea-svc", Port: 80, LBMethod: "least_conn"},
				{Name: "coffee", Service: "coffee-svc", Port: 80, ReadTimeout: "30s"},
			},
			Routes: []v1.Route{
				{Path: "/tea", Action: &v1.Action{Pass: "tea"}},
				{Path: "/coffee", Splits: []v1.Split{
					{Weight: 80, Action: &v1.Action{Pass: "coffee"}},
					{Weight: 20, Action: &v1.Action{Pass: "tea"}},
				}},
				{Path: "/juice", Route: "juice/juice-vsr"},
			},
		},
	}
}

func TestValidateVirtualServer_Valid(t *testing.T) {
	require.NoError(t, ValidateVirtualServer(validVirtualServer(), Options{}))
}

func TestValidateVirtualServer_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(vs *v1.VirtualServer)
		opts    Options
		wantErr string
	}{
		{
			name:    "missing host",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.Host = "" },
			wantErr: "spec.host: Required value",
		},
		{
			name:    "duplicate upstream",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.Upstreams[1].Name = "tea" },
			wantErr: "spec.upstreams[1].name: Duplicate value",
		},
		{
			name:    "unknown lb method",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.Upstreams[0].LBMethod = "fastest" },
			wantErr: "invalid load balancing method",
		},
		{
			name:    "pass to unknown upstream",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.Routes[0].Action.Pass = "milk" },
			wantErr: "spec.routes[0].action.pass: Not found",
		},
		{
			name: "split weights do not add up",
			mutate: func(vs *v1.VirtualServer) {
				vs.Spec.Routes[1].Splits[0].Weight = 70
			},
			wantErr: "the sum of the weights of all splits must be equal to 100",
		},
		{
			name: "route with action and splits",
			mutate: func(vs *v1.VirtualServer) {
				vs.Spec.Routes[1].Action = &v1.Action{Pass: "tea"}
			},
			wantErr: "must specify exactly one of",
		},
		{
			name:    "duplicate path",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.Routes[1].Path = "/tea" },
			wantErr: "spec.routes[1].path: Duplicate value",
		},
		{
			name:    "snippets disabled",
			mutate:  func(vs *v1.VirtualServer) { vs.Spec.ServerSnippets = "add_header X-Test 1;" },
			wantErr: "snippets feature is not enabled",
		},
		{
			name: "invalid redirect code",
			mutate: func(vs *v1.VirtualServer) {
				vs.Spec.TLS = &v1.TLS{Secret: "cafe-secret", Redirect: &v1.TLSRedirect{Enable: true, Code: intPtr(303)}}
			},
			wantErr: "spec.tls.redirect.code: Unsupported value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := validVirtualServer()
			tt.mutate(vs)

			err := ValidateVirtualServer(vs, tt.opts)
			require.Error(t, err)

			var verr *Error
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateVirtualServer_SnippetsEnabled(t *testing.T) {
	vs := validVirtualServer()
	vs.Spec.ServerSnippets = "add_header X-Test 1;"

	assert.NoError(t, ValidateVirtualServer(vs, Options{EnableSnippets: true}))
}

func TestValidateVirtualServerRoute(t *testing.T) {
	vsr := &v1.VirtualServerRoute{
		Spec: v1.VirtualServerRouteSpec{
			Host:      "cafe.example.com",
			Upstreams: []v1.Upstream{{Name: "juice", Service: "juice-svc", Port: 8080}},
			Subroutes: []v1.Route{
				{Path: "/juice/orange", Action: &v1.Action{Pass: "juice"}},
				{Path: "/juice/apple", Action: &v1.Action{Return: &v1.ActionReturn{Code: 200, Body: "apple"}}},
			},
		},
	}
	require.NoError(t, ValidateVirtualServerRoute(vsr, Options{}))

	t.Run("delegation in subroute is forbidden", func(t *testing.T) {
		bad := *vsr
		bad.Spec.Subroutes = []v1.Route{{Path: "/juice/orange", Route: "other"}}
		err := ValidateVirtualServerRoute(&bad, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not allowed in subroutes")
	})

	t.Run("host must match", func(t *testing.T) {
		err := ValidateVirtualServerRouteForVirtualServer(vsr, "tea.example.com", "/juice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be equal to 'tea.example.com'")
	})

	t.Run("subroutes must start with route path", func(t *testing.T) {
		err := ValidateVirtualServerRouteForVirtualServer(vsr, "cafe.example.com", "/drinks")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must start with '/drinks'")
	})

	t.Run("fits", func(t *testing.T) {
		assert.NoError(t, ValidateVirtualServerRouteForVirtualServer(vsr, "cafe.example.com", "/juice"))
	})
}

func TestParseLBMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "round_robin", want: ""},
		{in: "least_conn", want: "least_conn"},
		{in: "random two least_conn", want: "random two least_conn"},
		{in: "hash $request_id consistent", want: "hash $request_id consistent"},
		{in: "hash", wantErr: true},
		{in: "fastest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLBMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
