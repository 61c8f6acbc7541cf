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

package configuration

import (
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

// ConfigMap keys read into Global.
const (
	KeyProxyConnectTimeout = "proxy-connect-timeout"
	KeyProxyReadTimeout    = "proxy-read-timeout"
	KeyProxySendTimeout    = "proxy-send-timeout"
	KeyClientMaxBodySize   = "client-max-body-size"
	KeyLBMethod            = "lb-method"
	KeyGunzip              = "gunzip"
	KeyServerTokens        = "server-tokens"
	KeyHTTPSnippets        = "http-snippets"
	KeyServerSnippets      = "server-snippets"
	KeyWorkerConnections   = "worker-connections"
	KeyKeepaliveTimeout    = "keepalive-timeout"
)

// DefaultLBMethod is used by upstreams that do not set a method.
const DefaultLBMethod = "random two least_conn"

var timeOrSizeKeys = map[string]func(string) bool{
	KeyProxyConnectTimeout: validation.IsTime,
	KeyProxyReadTimeout:    validation.IsTime,
	KeyProxySendTimeout:    validation.IsTime,
	KeyKeepaliveTimeout:    validation.IsTime,
	KeyClientMaxBodySize:   validation.IsSize,
}

// DefaultGlobal returns the settings used without a ConfigMap. Proxy
// timeouts and the body size limit stay empty so that their directives are
// only emitted when configured.
func DefaultGlobal() Global {
	return Global{
		WorkerConnections: "1024",
		KeepaliveTimeout:  "65s",
		ServerTokens:      true,
		LBMethod:          DefaultLBMethod,
	}
}

func (r *run) buildGlobal() Global {
	g := DefaultGlobal()
	g.TLSPassthrough = r.opts.EnableTLSPassthrough
	g.TLSPassthroughPort = r.opts.TLSPassthroughPort

	if r.opts.ConfigMap == "" {
		return g
	}
	ns, name, _ := strings.Cut(r.opts.ConfigMap, "/")
	res, ok := r.snap.Get(resourcestore.Identity{Kind: v1.KindConfigMap, Namespace: ns, Name: name})
	if !ok {
		return g
	}

	rep := r.report(res)
	var cm corev1.ConfigMap
	if err := v1.FromUnstructured(res.Object, &cm); err != nil {
		rep.err = err
		return g
	}

	set := func(key string, target *string) {
		value, ok := cm.Data[key]
		if !ok {
			return
		}
		if check, ok := timeOrSizeKeys[key]; ok && !check(value) {
			rep.warn("Invalid value for %s: %q", key, value)
			return
		}
		*target = value
	}
	set(KeyProxyConnectTimeout, &g.ProxyConnectTimeout)
	set(KeyProxyReadTimeout, &g.ProxyReadTimeout)
	set(KeyProxySendTimeout, &g.ProxySendTimeout)
	set(KeyClientMaxBodySize, &g.ClientMaxBodySize)
	set(KeyKeepaliveTimeout, &g.KeepaliveTimeout)

	if v, ok := cm.Data[KeyWorkerConnections]; ok {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			rep.warn("Invalid value for %s: %q", KeyWorkerConnections, v)
		} else {
			g.WorkerConnections = v
		}
	}
	if v, ok := cm.Data[KeyLBMethod]; ok {
		if method, err := validation.ParseLBMethod(v); err != nil {
			rep.warn("Invalid value for %s: %v", KeyLBMethod, err)
		} else {
			g.LBMethod = method
		}
	}
	parseBool := func(key string, target *bool) {
		v, ok := cm.Data[key]
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			rep.warn("Invalid value for %s: %q", key, v)
			return
		}
		*target = b
	}
	parseBool(KeyGunzip, &g.Gunzip)
	parseBool(KeyServerTokens, &g.ServerTokens)

	for _, key := range []string{KeyHTTPSnippets, KeyServerSnippets} {
		v, ok := cm.Data[key]
		if !ok {
			continue
		}
		if !r.opts.EnableSnippets {
			rep.warn("%s ignored: snippets are not enabled", key)
			continue
		}
		if key == KeyHTTPSnippets {
			r.model.HTTPSnippets = append(r.model.HTTPSnippets, splitSnippet(v)...)
		} else {
			g.ServerSnippets = splitSnippet(v)
		}
	}

	return g
}

// globalConfiguration validates every GlobalConfiguration and returns the
// one configured for this controller, or nil.
func (r *run) globalConfiguration() *v1.GlobalConfiguration {
	forbidden := map[int]bool{validation.DefaultHTTPPort: true, validation.DefaultHTTPSPort: true}
	if r.opts.EnableTLSPassthrough {
		forbidden[r.opts.TLSPassthroughPort] = true
	}

	var selected *v1.GlobalConfiguration
	for _, res := range r.snap.List(v1.KindGlobalConfiguration) {
		rep := r.report(res)
		if r.opts.GlobalConfiguration == "" {
			rep.warn("GlobalConfiguration is ignored: custom listeners are not configured")
			continue
		}
		if res.Key() != r.opts.GlobalConfiguration {
			rep.warn("GlobalConfiguration is ignored: the controller uses %s", r.opts.GlobalConfiguration)
			continue
		}

		var gc v1.GlobalConfiguration
		if !r.decode(res, &gc) {
			continue
		}
		if err := validation.ValidateGlobalConfiguration(&gc, forbidden); err != nil {
			rep.err = err
			continue
		}
		selected = &gc
	}
	return selected
}

func splitSnippet(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, " \t\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}
