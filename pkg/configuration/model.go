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

// Package configuration merges validated resources into the model the
// NGINX configuration is rendered from.
//
// A Builder recomputes the whole Model from a store snapshot on every pass.
// Everything in a Model is held in sorted slices so that rendering the same
// set of resources always produces the same text. A Model is never modified
// after Build returns it.
package configuration

import (
	"nginx-reconciler/pkg/controller/resourcestore"
)

// Model is the merged, conflict-free configuration of all valid resources.
type Model struct {
	Global           Global            `json:"global"`
	HTTPSnippets     []string          `json:"http_snippets"`
	Servers          []Server          `json:"servers"`
	Upstreams        []Upstream        `json:"upstreams"`
	SplitClients     []SplitClient     `json:"split_clients"`
	RateLimitZones   []RateLimitZone   `json:"rate_limit_zones"`
	StreamSnippets   []string          `json:"stream_snippets"`
	StreamServers    []StreamServer    `json:"stream_servers"`
	StreamUpstreams  []Upstream        `json:"stream_upstreams"`
	PassthroughHosts []PassthroughHost `json:"passthrough_hosts"`
	Certificates     []Certificate     `json:"certificates"`
	Files            []AuxFile         `json:"files"`
}

// Global holds controller wide settings from the ConfigMap and flags.
type Global struct {
	WorkerConnections   string   `json:"worker_connections"`
	KeepaliveTimeout    string   `json:"keepalive_timeout"`
	ServerTokens        bool     `json:"server_tokens"`
	ProxyConnectTimeout string   `json:"proxy_connect_timeout"`
	ProxyReadTimeout    string   `json:"proxy_read_timeout"`
	ProxySendTimeout    string   `json:"proxy_send_timeout"`
	ClientMaxBodySize   string   `json:"client_max_body_size"`
	LBMethod            string   `json:"lb_method"`
	Gunzip              bool     `json:"gunzip"`
	ServerSnippets      []string `json:"server_snippets"`

	TLSPassthrough     bool `json:"tls_passthrough"`
	TLSPassthroughPort int  `json:"tls_passthrough_port"`
}

// Server is an HTTP server block, built from a VirtualServer or from one
// host of an Ingress.
type Server struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Host   string `json:"host"`

	HTTPPorts  []int `json:"http_ports"`
	HTTPSPorts []int `json:"https_ports"`

	TLS          *ServerTLS   `json:"tls"`
	SSLRedirect  *SSLRedirect `json:"ssl_redirect"`
	HSTS         *HSTS        `json:"hsts"`
	Gunzip       bool         `json:"gunzip"`
	ServerTokens *bool        `json:"server_tokens"`

	IngressMTLS *IngressMTLS `json:"ingress_mtls"`
	Snippets    []string     `json:"snippets"`
	Locations   []Location   `json:"locations"`
}

// ServerTLS configures TLS termination of a server.
type ServerTLS struct {
	// Certificate names an entry of Model.Certificates. Empty means no
	// usable certificate: the handshake is rejected.
	Certificate string `json:"certificate"`
}

// SSLRedirect redirects plain HTTP requests to HTTPS.
type SSLRedirect struct {
	Code int `json:"code"`
	// BasedOn is "scheme" or "x-forwarded-proto".
	BasedOn string `json:"based_on"`
}

// HSTS configures the Strict-Transport-Security header.
type HSTS struct {
	MaxAge            int  `json:"max_age"`
	IncludeSubdomains bool `json:"include_subdomains"`
}

// Location is a location block of a server.
type Location struct {
	Path     string `json:"path"`
	Internal bool   `json:"internal"`
	Source   string `json:"source"`

	ProxyPass           string `json:"proxy_pass"`
	Rewrite             string `json:"rewrite"`
	ProxyConnectTimeout string `json:"proxy_connect_timeout"`
	ProxyReadTimeout    string `json:"proxy_read_timeout"`
	ProxySendTimeout    string `json:"proxy_send_timeout"`
	ClientMaxBodySize   string `json:"client_max_body_size"`
	ProxyBuffering      string `json:"proxy_buffering"`
	ProxyBuffers        string `json:"proxy_buffers"`
	ProxyBufferSize     string `json:"proxy_buffer_size"`
	Websocket           bool   `json:"websocket"`

	// SplitVariable is set for locations that dispatch to internal split
	// locations.
	SplitVariable string `json:"split_variable"`

	Return   *Return   `json:"return"`
	Redirect *Redirect `json:"redirect"`

	Policies Policies `json:"policies"`
	Snippets []string `json:"snippets"`
}

// Return answers a request directly.
type Return struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Body string `json:"body"`
}

// Redirect answers a request with a redirect.
type Redirect struct {
	URL  string `json:"url"`
	Code int    `json:"code"`
}

// Policies are the policy directives effective in a location.
type Policies struct {
	Allow      []string    `json:"allow"`
	Deny       []string    `json:"deny"`
	LimitReqs  []LimitReq  `json:"limit_reqs"`
	BasicAuth  *BasicAuth  `json:"basic_auth"`
	JWTAuth    *JWTAuth    `json:"jwt_auth"`
	EgressMTLS *EgressMTLS `json:"egress_mtls"`

	// ErrorReturn is non-zero when a referenced policy could not be applied.
	// Requests to the location are answered with this status code.
	ErrorReturn int `json:"error_return"`
}

// LimitReq applies a rate limit zone.
type LimitReq struct {
	Zone       string `json:"zone"`
	Burst      int    `json:"burst"`
	NoDelay    bool   `json:"no_delay"`
	Delay      int    `json:"delay"`
	DryRun     bool   `json:"dry_run"`
	LogLevel   string `json:"log_level"`
	RejectCode int    `json:"reject_code"`
}

// BasicAuth references an htpasswd file in Model.Files.
type BasicAuth struct {
	Realm string `json:"realm"`
	File  string `json:"file"`
}

// JWTAuth references a JWKS file in Model.Files.
type JWTAuth struct {
	Realm string `json:"realm"`
	File  string `json:"file"`
	Token string `json:"token"`
}

// IngressMTLS verifies client certificates against a CA file.
type IngressMTLS struct {
	ClientCert   string `json:"client_cert"`
	VerifyClient string `json:"verify_client"`
	VerifyDepth  int    `json:"verify_depth"`
}

// EgressMTLS configures TLS towards upstreams.
type EgressMTLS struct {
	Certificate  string `json:"certificate"`
	TrustedCert  string `json:"trusted_cert"`
	VerifyServer bool   `json:"verify_server"`
	VerifyDepth  int    `json:"verify_depth"`
	SSLName      string `json:"ssl_name"`
}

// Upstream is an upstream block shared by HTTP and stream servers.
type Upstream struct {
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	LBMethod    string   `json:"lb_method"`
	Keepalive   int      `json:"keepalive"`
	MaxFails    string   `json:"max_fails"`
	FailTimeout string   `json:"fail_timeout"`
	// Servers are "address:port" endpoints. An upstream without servers
	// answers with 502.
	Servers     []string `json:"servers"`
}

// SplitClient distributes requests over internal locations by weight.
type SplitClient struct {
	Variable      string              `json:"variable"`
	Distributions []SplitDistribution `json:"distributions"`

	// Dynamic split clients select one of Variants through a key-value
	// zone, so weight changes do not require a reload.
	Dynamic    bool           `json:"dynamic"`
	KeyValZone string         `json:"keyval_zone"`
	KeyValKey  string         `json:"keyval_key"`
	KeyValVar  string         `json:"keyval_var"`
	Value      string         `json:"value"`
	Variants   []SplitVariant `json:"variants"`
}

// SplitDistribution maps a share of requests to a location.
type SplitDistribution struct {
	Weight   int    `json:"weight"`
	Location string `json:"location"`
}

// SplitVariant is one precomputed weight combination of a dynamic split.
type SplitVariant struct {
	Value         string              `json:"value"`
	Variable      string              `json:"variable"`
	Distributions []SplitDistribution `json:"distributions"`
}

// RateLimitZone is a limit_req_zone of the http context.
type RateLimitZone struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Size string `json:"size"`
	Rate string `json:"rate"`
}

// StreamServer is a TCP or UDP server built from a TransportServer.
type StreamServer struct {
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	Listener    string   `json:"listener"`
	Port        int      `json:"port"`
	UDP         bool     `json:"udp"`
	Upstream    string   `json:"upstream"`
	Certificate string   `json:"certificate"`
	Snippets    []string `json:"snippets"`
}

// PassthroughHost routes TLS connections for Host to Upstream without
// terminating them.
type PassthroughHost struct {
	Host     string `json:"host"`
	Source   string `json:"source"`
	Upstream string `json:"upstream"`
}

// Certificate is a TLS certificate and key pair.
type Certificate struct {
	// Name is the file name the pair is written to.
	Name   string `json:"name"`
	Secret string `json:"secret"`
	// Users are the names of the servers using the certificate.
	Users []string `json:"users"`
	// Dynamic is true when every user can pick up a new certificate
	// without a reload.
	Dynamic bool `json:"dynamic"`

	Content []byte `json:"-"`
}

// AuxFile is a file derived from a Secret, e.g. an htpasswd file.
type AuxFile struct {
	Name    string `json:"name"`
	Content []byte `json:"-"`
}

// Outcome is the validation result of one resource.
type Outcome struct {
	ID resourcestore.Identity
	// ResourceVersion is the version of the resource that was validated.
	ResourceVersion string
	State           resourcestore.ValidationState
	Reason          string
	Message         string

	// ReferencedBy is set for VirtualServerRoutes: the VirtualServer that
	// delegates to the route.
	ReferencedBy string
	Generation   int64
}

// Result is what a pass of the Builder produces.
type Result struct {
	Model    *Model
	Outcomes []Outcome
	// Promoted lists resources that gained a host or listener released by
	// another resource during this pass.
	Promoted []resourcestore.Identity
}

// Outcome returns the outcome for id.
func (r *Result) Outcome(id resourcestore.Identity) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}
