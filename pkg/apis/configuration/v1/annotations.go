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

package v1

// AnnotationIngressClass is the legacy way of selecting the Ingress class.
const AnnotationIngressClass = "kubernetes.io/ingress.class"

// Ingress annotations understood by the controller.
const (
	AnnotationMergeableIngressType  = "nginx.org/mergeable-ingress-type"
	AnnotationLBMethod              = "nginx.org/lb-method"
	AnnotationServerSnippets        = "nginx.org/server-snippets"
	AnnotationLocationSnippets      = "nginx.org/location-snippets"
	AnnotationProxyConnectTimeout   = "nginx.org/proxy-connect-timeout"
	AnnotationProxyReadTimeout      = "nginx.org/proxy-read-timeout"
	AnnotationProxySendTimeout      = "nginx.org/proxy-send-timeout"
	AnnotationClientMaxBodySize     = "nginx.org/client-max-body-size"
	AnnotationRedirectToHTTPS       = "nginx.org/redirect-to-https"
	AnnotationSSLRedirect           = "ingress.kubernetes.io/ssl-redirect"
	AnnotationProxyBuffering        = "nginx.org/proxy-buffering"
	AnnotationProxyBuffers          = "nginx.org/proxy-buffers"
	AnnotationProxyBufferSize       = "nginx.org/proxy-buffer-size"
	AnnotationHSTS                  = "nginx.org/hsts"
	AnnotationHSTSMaxAge            = "nginx.org/hsts-max-age"
	AnnotationHSTSIncludeSubdomains = "nginx.org/hsts-include-subdomains"
	AnnotationBasicAuthSecret       = "nginx.org/basic-auth-secret"
	AnnotationBasicAuthRealm        = "nginx.org/basic-auth-realm"
	AnnotationListenPorts           = "nginx.org/listen-ports"
	AnnotationListenPortsSSL        = "nginx.org/listen-ports-ssl"
	AnnotationKeepalive             = "nginx.org/keepalive"
	AnnotationMaxFails              = "nginx.org/max-fails"
	AnnotationFailTimeout           = "nginx.org/fail-timeout"
	AnnotationRewrites              = "nginx.org/rewrites"
	AnnotationSSLServices           = "nginx.org/ssl-services"
	AnnotationWebsocketServices     = "nginx.org/websocket-services"
	AnnotationServerTokens          = "nginx.org/server-tokens"
)

// Mergeable Ingress types.
const (
	MergeableTypeMaster = "master"
	MergeableTypeMinion = "minion"
)

// Secret types with a special meaning for policies and annotations.
const (
	SecretTypeHtpasswd = "nginx.org/htpasswd"
	SecretTypeJWK      = "nginx.org/jwk"
	SecretTypeCA       = "nginx.org/ca"
	SecretTypeTLS      = "kubernetes.io/tls"
)
