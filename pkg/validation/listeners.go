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

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
)

// ServerListeners are the ports a VirtualServer is served on. A zero port
// means the server has no listener of that kind.
type ServerListeners struct {
	HTTPPort  int
	HTTPSPort int
	// Custom is set when the ports come from GlobalConfiguration listeners.
	Custom bool
}

// Empty reports whether the server is not reachable on any port.
func (l ServerListeners) Empty() bool {
	return l.HTTPPort == 0 && l.HTTPSPort == 0
}

// ResolveVirtualServerListeners maps spec.listener of a VirtualServer onto
// the listeners of gc. gc is nil when no GlobalConfiguration is deployed.
//
// A listener that cannot be used is dropped with a warning. Custom listeners
// replace the default ports even when they fail to resolve.
func ResolveVirtualServerListeners(vs *v1.VirtualServer, gc *v1.GlobalConfiguration) (ServerListeners, Warnings) {
	var warnings Warnings

	l := vs.Spec.Listener
	if l == nil || (l.HTTP == "" && l.HTTPS == "") {
		res := ServerListeners{HTTPPort: DefaultHTTPPort}
		if vs.Spec.TLS != nil {
			res.HTTPSPort = DefaultHTTPSPort
		}
		return res, nil
	}

	res := ServerListeners{Custom: true}
	if gc == nil {
		warnings.Add("Listeners defined, but no GlobalConfiguration is deployed")
		return res, warnings
	}

	byName := make(map[string]v1.Listener, len(gc.Spec.Listeners))
	for _, gl := range gc.Spec.Listeners {
		byName[gl.Name] = gl
	}

	if l.HTTP != "" {
		gl, ok := byName[l.HTTP]
		switch {
		case !ok:
			warnings.Add(fmt.Sprintf("Listener %s is not defined in GlobalConfiguration", l.HTTP))
		case gl.Protocol != v1.ProtocolHTTP:
			warnings.Add(fmt.Sprintf("Listener %s can't be use in `listener.http` context as it is not an HTTP listener.", l.HTTP))
		case gl.SSL:
			warnings.Add(fmt.Sprintf("Listener %s can't be use in `listener.http` context as SSL is enabled for that listener.", l.HTTP))
		default:
			res.HTTPPort = gl.Port
		}
	}

	if l.HTTPS != "" {
		gl, ok := byName[l.HTTPS]
		switch {
		case !ok:
			warnings.Add(fmt.Sprintf("Listener %s is not defined in GlobalConfiguration", l.HTTPS))
		case gl.Protocol != v1.ProtocolHTTP:
			warnings.Add(fmt.Sprintf("Listener %s can't be use in `listener.https` context as it is not an HTTP listener.", l.HTTPS))
		case !gl.SSL:
			warnings.Add(fmt.Sprintf("Listener %s can't be use in `listener.https` context as SSL is not enabled for that listener.", l.HTTPS))
		default:
			res.HTTPSPort = gl.Port
		}
	}

	return res, warnings
}

// ResolveTransportServerListener finds the GlobalConfiguration listener a
// TransportServer binds to. The built-in TLS passthrough listener resolves
// to passthroughPort without consulting gc.
func ResolveTransportServerListener(ts *v1.TransportServer, gc *v1.GlobalConfiguration, passthroughPort int) (v1.Listener, error) {
	if IsTLSPassthrough(ts) {
		return v1.Listener{
			Name:     v1.TLSPassthroughListenerName,
			Port:     passthroughPort,
			Protocol: v1.TLSPassthroughListenerProtocol,
		}, nil
	}
	if gc == nil {
		return v1.Listener{}, fmt.Errorf("Listener %s is not defined in GlobalConfiguration: no GlobalConfiguration is deployed", ts.Spec.Listener.Name)
	}
	for _, gl := range gc.Spec.Listeners {
		if gl.Name != ts.Spec.Listener.Name {
			continue
		}
		if gl.Protocol != ts.Spec.Listener.Protocol {
			return v1.Listener{}, fmt.Errorf("Listener %s is defined with protocol %s, but the TransportServer uses %s",
				gl.Name, gl.Protocol, ts.Spec.Listener.Protocol)
		}
		return gl, nil
	}
	return v1.Listener{}, fmt.Errorf("Listener %s is not defined in GlobalConfiguration", ts.Spec.Listener.Name)
}
