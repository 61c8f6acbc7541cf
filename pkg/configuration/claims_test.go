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

package configuration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/testutil"
)

func transportServer(ns, name string, spec v1.TransportServerSpec) resourcestore.WatchedResource {
	return testutil.Resource(v1.KindTransportServer, ns, name, &v1.TransportServer{Spec: spec})
}

func dnsSpec(listener, protocol string) v1.TransportServerSpec {
	return v1.TransportServerSpec{
		Listener:  v1.TransportServerListener{Name: listener, Protocol: protocol},
		Upstreams: []v1.TransportServerUpstream{{Name: "dns", Service: "coredns", Port: 53}},
		Action:    &v1.TransportServerAction{Pass: "dns"},
	}
}

func passthroughSpec(host string) v1.TransportServerSpec {
	return v1.TransportServerSpec{
		Listener:  v1.TransportServerListener{Name: v1.TLSPassthroughListenerName, Protocol: v1.TLSPassthroughListenerProtocol},
		Host:      host,
		Upstreams: []v1.TransportServerUpstream{{Name: "app", Service: "app-svc", Port: 8443}},
		Action:    &v1.TransportServerAction{Pass: "app"},
	}
}

func TestBuild_HostConflictAndPromotion(t *testing.T) {
	b := newBuilder(configuration.Options{})
	older := virtualServer("default", "first", cafeSpec())
	newer := virtualServer("default", "second", cafeSpec())

	res := build(b, older, newer)

	assert.True(t, hasServer(res.Model, "vs_default_first"))
	assert.False(t, hasServer(res.Model, "vs_default_second"))
	o := outcome(t, res, newer)
	assert.Equal(t, resourcestore.StateWarning, o.State)
	assert.Equal(t, v1.ReasonRejected, o.Reason)
	assert.Equal(t, "Host is taken by another resource", o.Message)
	assert.Empty(t, res.Promoted)

	res = build(b, newer)

	assert.True(t, hasServer(res.Model, "vs_default_second"))
	assert.Equal(t, []resourcestore.Identity{newer.Identity}, res.Promoted)
	assert.Equal(t, resourcestore.StateValid, outcome(t, res, newer).State)
}

func TestBuild_HostOwnerKeepsHost(t *testing.T) {
	b := newBuilder(configuration.Options{})
	older := virtualServer("default", "older", cafeSpec())
	owner := virtualServer("default", "owner", cafeSpec())
	build(b, owner)

	res := build(b, older, owner)

	assert.True(t, hasServer(res.Model, "vs_default_owner"))
	assert.False(t, hasServer(res.Model, "vs_default_older"))
	assert.Equal(t, v1.ReasonRejected, outcome(t, res, older).Reason)
}

func TestBuild_PassthroughClaimsHost(t *testing.T) {
	opts := configuration.Options{EnableTLSPassthrough: true}
	ts := transportServer("default", "secure", passthroughSpec("cafe.example.com"))
	vs := virtualServer("default", "cafe", cafeSpec())

	res := build(newBuilder(opts), ts, vs, endpoints("default", "app-svc", 8443, "10.0.0.9"))

	require.Len(t, res.Model.PassthroughHosts, 1)
	assert.Equal(t, configuration.PassthroughHost{
		Host:     "cafe.example.com",
		Source:   "TransportServer default/secure",
		Upstream: "ts_default_secure_app",
	}, res.Model.PassthroughHosts[0])
	require.Len(t, res.Model.StreamUpstreams, 1)
	assert.Equal(t, []string{"10.0.0.9:8443"}, res.Model.StreamUpstreams[0].Servers)

	assert.False(t, hasServer(res.Model, "vs_default_cafe"))
	assert.Equal(t, "Host is taken by another resource", outcome(t, res, vs).Message)
}

func TestBuild_ListenerConflict(t *testing.T) {
	gc := testutil.Resource(v1.KindGlobalConfiguration, "nginx", "gc", &v1.GlobalConfiguration{Spec: v1.GlobalConfigurationSpec{
		Listeners: []v1.Listener{{Name: "dns-tcp", Port: 5353, Protocol: v1.ProtocolTCP}},
	}})
	first := transportServer("default", "dns-a", dnsSpec("dns-tcp", v1.ProtocolTCP))
	second := transportServer("default", "dns-b", dnsSpec("dns-tcp", v1.ProtocolTCP))
	unknown := transportServer("default", "dns-c", dnsSpec("dns-udp", v1.ProtocolUDP))

	res := build(newBuilder(configuration.Options{GlobalConfiguration: "nginx/gc"}), gc, first, second, unknown)

	require.Len(t, res.Model.StreamServers, 1)
	s := res.Model.StreamServers[0]
	assert.Equal(t, "ts_default_dns-a", s.Name)
	assert.Equal(t, 5353, s.Port)
	assert.False(t, s.UDP)
	assert.Equal(t, "ts_default_dns-a_dns", s.Upstream)

	o := outcome(t, res, second)
	assert.Equal(t, resourcestore.StateWarning, o.State)
	assert.Equal(t, v1.ReasonRejected, o.Reason)
	assert.Equal(t, "Listener dns-tcp is taken by another resource", o.Message)

	o = outcome(t, res, unknown)
	assert.Equal(t, resourcestore.StateWarning, o.State)
	assert.Contains(t, o.Message, "Listener dns-udp is not defined in GlobalConfiguration")
}
