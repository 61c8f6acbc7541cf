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

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Status states written by the controller.
const (
	StateValid   = "Valid"
	StateInvalid = "Invalid"
	StateWarning = "Warning"
)

// Status reasons written by the controller.
const (
	ReasonAddedOrUpdated            = "AddedOrUpdated"
	ReasonAddedOrUpdatedWithWarning = "AddedOrUpdatedWithWarning"
	ReasonRejected                  = "Rejected"
)

// Protocols allowed in GlobalConfiguration listeners.
const (
	ProtocolHTTP = "HTTP"
	ProtocolTCP  = "TCP"
	ProtocolUDP  = "UDP"
)

// TLSPassthroughListenerName is the name of the built-in TLS passthrough listener.
const TLSPassthroughListenerName = "tls-passthrough"

// TLSPassthroughListenerProtocol is the protocol of the built-in TLS passthrough listener.
const TLSPassthroughListenerProtocol = "TLS_PASSTHROUGH"

// Status is the common status block of the custom resources.
type Status struct {
	State              string `json:"state,omitempty"`
	Reason             string `json:"reason,omitempty"`
	Message            string `json:"message,omitempty"`
	ObservedGeneration int64  `json:"observedGeneration,omitempty"`
}

// VirtualServer defines the configuration of a single routable host.
type VirtualServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   VirtualServerSpec `json:"spec"`
	Status Status            `json:"status,omitempty"`
}

// VirtualServerSpec is the spec of the VirtualServer resource.
type VirtualServerSpec struct {
	IngressClass   string                 `json:"ingressClassName,omitempty"`
	Host           string                 `json:"host"`
	Listener       *VirtualServerListener `json:"listener,omitempty"`
	TLS            *TLS                   `json:"tls,omitempty"`
	Gunzip         bool                   `json:"gunzip,omitempty"`
	Policies       []PolicyReference      `json:"policies,omitempty"`
	Upstreams      []Upstream             `json:"upstreams,omitempty"`
	Routes         []Route                `json:"routes,omitempty"`
	HTTPSnippets   string                 `json:"http-snippets,omitempty"`
	ServerSnippets string                 `json:"server-snippets,omitempty"`
}

// VirtualServerListener references custom listeners from the GlobalConfiguration.
type VirtualServerListener struct {
	HTTP  string `json:"http,omitempty"`
	HTTPS string `json:"https,omitempty"`
}

// PolicyReference references a Policy by name and optional namespace.
type PolicyReference struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// Upstream defines a backend service.
type Upstream struct {
	Name              string      `json:"name"`
	Service           string      `json:"service"`
	Port              uint16      `json:"port"`
	LBMethod          string      `json:"lb-method,omitempty"`
	FailTimeout       string      `json:"fail-timeout,omitempty"`
	MaxFails          *int        `json:"max-fails,omitempty"`
	Keepalive         *int        `json:"keepalive,omitempty"`
	ConnectTimeout    string      `json:"connect-timeout,omitempty"`
	ReadTimeout       string      `json:"read-timeout,omitempty"`
	SendTimeout       string      `json:"send-timeout,omitempty"`
	ClientMaxBodySize string      `json:"client-max-body-size,omitempty"`
	TLS               UpstreamTLS `json:"tls,omitempty"`
}

// UpstreamTLS enables TLS towards the upstream.
type UpstreamTLS struct {
	Enable bool `json:"enable"`
}

// Route defines a location of a VirtualServer or a subroute of a VirtualServerRoute.
type Route struct {
	Path             string            `json:"path"`
	Policies         []PolicyReference `json:"policies,omitempty"`
	Route            string            `json:"route,omitempty"`
	Action           *Action           `json:"action,omitempty"`
	Splits           []Split           `json:"splits,omitempty"`
	LocationSnippets string            `json:"location-snippets,omitempty"`
}

// Action defines what happens with a request matched by a route.
type Action struct {
	Pass     string          `json:"pass,omitempty"`
	Redirect *ActionRedirect `json:"redirect,omitempty"`
	Return   *ActionReturn   `json:"return,omitempty"`
}

// ActionRedirect redirects requests.
type ActionRedirect struct {
	URL  string `json:"url"`
	Code int    `json:"code,omitempty"`
}

// ActionReturn returns a preconfigured response.
type ActionReturn struct {
	Code int    `json:"code,omitempty"`
	Type string `json:"type,omitempty"`
	Body string `json:"body"`
}

// Split distributes requests between actions by weight.
type Split struct {
	Weight int     `json:"weight"`
	Action *Action `json:"action"`
}

// TLS defines TLS termination for a VirtualServer or TLS passthrough for a TransportServer.
type TLS struct {
	Secret   string       `json:"secret,omitempty"`
	Redirect *TLSRedirect `json:"redirect,omitempty"`
}

// TLSRedirect redirects plain HTTP requests to HTTPS.
type TLSRedirect struct {
	Enable  bool   `json:"enable"`
	Code    *int   `json:"code,omitempty"`
	BasedOn string `json:"basedOn,omitempty"`
}

// VirtualServerRoute defines routes delegated from a VirtualServer.
type VirtualServerRoute struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   VirtualServerRouteSpec   `json:"spec"`
	Status VirtualServerRouteStatus `json:"status,omitempty"`
}

// VirtualServerRouteSpec is the spec of the VirtualServerRoute resource.
type VirtualServerRouteSpec struct {
	IngressClass string     `json:"ingressClassName,omitempty"`
	Host         string     `json:"host"`
	Upstreams    []Upstream `json:"upstreams,omitempty"`
	Subroutes    []Route    `json:"subroutes,omitempty"`
}

// VirtualServerRouteStatus extends Status with the referencing VirtualServer.
type VirtualServerRouteStatus struct {
	Status       `json:",inline"`
	ReferencedBy string `json:"referencedBy,omitempty"`
}

// GlobalConfiguration defines the cluster-wide custom listeners.
type GlobalConfiguration struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GlobalConfigurationSpec `json:"spec"`
	Status Status                  `json:"status,omitempty"`
}

// GlobalConfigurationSpec is the spec of the GlobalConfiguration resource.
type GlobalConfigurationSpec struct {
	Listeners []Listener `json:"listeners,omitempty"`
}

// Listener defines a custom listener.
type Listener struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	SSL      bool   `json:"ssl,omitempty"`
}

// TransportServer defines a TCP/UDP load balancer or a TLS passthrough host.
type TransportServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   TransportServerSpec `json:"spec"`
	Status Status              `json:"status,omitempty"`
}

// TransportServerSpec is the spec of the TransportServer resource.
type TransportServerSpec struct {
	IngressClass   string                    `json:"ingressClassName,omitempty"`
	TLS            *TransportServerTLS       `json:"tls,omitempty"`
	Listener       TransportServerListener   `json:"listener"`
	Host           string                    `json:"host,omitempty"`
	Upstreams      []TransportServerUpstream `json:"upstreams,omitempty"`
	Action         *TransportServerAction    `json:"action,omitempty"`
	ServerSnippets string                    `json:"serverSnippets,omitempty"`
	StreamSnippets string                    `json:"streamSnippets,omitempty"`
}

// TransportServerTLS terminates TLS on a TransportServer listener.
type TransportServerTLS struct {
	Secret string `json:"secret,omitempty"`
}

// TransportServerListener references a listener by name and protocol.
type TransportServerListener struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
}

// TransportServerUpstream defines a stream backend.
type TransportServerUpstream struct {
	Name                string `json:"name"`
	Service             string `json:"service"`
	Port                int    `json:"port"`
	FailTimeout         string `json:"failTimeout,omitempty"`
	MaxFails            *int   `json:"maxFails,omitempty"`
	LoadBalancingMethod string `json:"loadBalancingMethod,omitempty"`
}

// TransportServerAction passes connections to an upstream.
type TransportServerAction struct {
	Pass string `json:"pass,omitempty"`
}

// Policy defines a reusable set of directives.
type Policy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PolicySpec `json:"spec"`
	Status Status     `json:"status,omitempty"`
}

// PolicySpec holds exactly one policy type.
type PolicySpec struct {
	IngressClass  string         `json:"ingressClassName,omitempty"`
	AccessControl *AccessControl `json:"accessControl,omitempty"`
	RateLimit     *RateLimit     `json:"rateLimit,omitempty"`
	JWTAuth       *JWTAuth       `json:"jwt,omitempty"`
	BasicAuth     *BasicAuth     `json:"basicAuth,omitempty"`
	IngressMTLS   *IngressMTLS   `json:"ingressMTLS,omitempty"`
	EgressMTLS    *EgressMTLS    `json:"egressMTLS,omitempty"`
}

// AccessControl allows or denies client addresses.
type AccessControl struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// RateLimit limits the request rate per key.
type RateLimit struct {
	Rate       string `json:"rate"`
	Key        string `json:"key"`
	Delay      *int   `json:"delay,omitempty"`
	NoDelay    *bool  `json:"noDelay,omitempty"`
	Burst      *int   `json:"burst,omitempty"`
	ZoneSize   string `json:"zoneSize"`
	DryRun     *bool  `json:"dryRun,omitempty"`
	LogLevel   string `json:"logLevel,omitempty"`
	RejectCode *int   `json:"rejectCode,omitempty"`
}

// JWTAuth validates JSON Web Tokens against a JWK secret.
type JWTAuth struct {
	Realm  string `json:"realm"`
	Secret string `json:"secret"`
	Token  string `json:"token,omitempty"`
}

// BasicAuth validates credentials against an htpasswd secret.
type BasicAuth struct {
	Realm  string `json:"realm,omitempty"`
	Secret string `json:"secret"`
}

// IngressMTLS verifies client certificates.
type IngressMTLS struct {
	ClientCertSecret string `json:"clientCertSecret"`
	VerifyClient     string `json:"verifyClient,omitempty"`
	VerifyDepth      *int   `json:"verifyDepth,omitempty"`
}

// EgressMTLS presents a client certificate to upstreams.
type EgressMTLS struct {
	TLSSecret         string `json:"tlsSecret,omitempty"`
	VerifyServer      bool   `json:"verifyServer,omitempty"`
	VerifyDepth       *int   `json:"verifyDepth,omitempty"`
	TrustedCertSecret string `json:"trustedCertSecret,omitempty"`
	SSLName           string `json:"sslName,omitempty"`
}
