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

// Package config provides the data model of the controller configuration.
//
// The configuration is a YAML file, usually mounted from a ConfigMap. CLI
// flags and environment variables override single fields of it.
package config

import (
	"nginx-reconciler/pkg/templating"
)

// Config is the root configuration structure.
type Config struct {
	// Controller contains controller-level settings (ports, references, etc.).
	Controller ControllerConfig `yaml:"controller"`

	// Logging configures logging behavior.
	Logging LoggingConfig `yaml:"logging"`

	// Features are the feature flags of the controller.
	Features FeatureFlags `yaml:"features"`

	// Watch selects the namespaces the controller watches.
	Watch WatchConfig `yaml:"watch"`

	// Timing configures batching and reload pacing.
	Timing TimingConfig `yaml:"timing"`

	// Nginx configures the managed NGINX instance.
	Nginx NginxConfig `yaml:"nginx"`

	// Templates replaces built-in templates by name.
	//
	// Example:
	//   templates:
	//     nginx.conf: |
	//       worker_processes auto;
	//       ...
	Templates map[string]string `yaml:"templates"`

	// PostProcessors run over each rendered file in order.
	PostProcessors []templating.PostProcessorConfig `yaml:"post_processors"`
}

// ControllerConfig contains controller-level configuration.
type ControllerConfig struct {
	// HealthzPort is the port of the debug server serving /healthz, /readyz
	// and /debug/*.
	// Default: 8081
	HealthzPort int `yaml:"healthz_port"`

	// MetricsPort is the port for Prometheus metrics.
	// Default: 9090
	MetricsPort int `yaml:"metrics_port"`

	// IngressClass selects the resources handled by this controller.
	// Default: nginx
	IngressClass string `yaml:"ingress_class"`

	// NginxConfigMap is the namespace/name of the ConfigMap holding global
	// NGINX settings.
	// Default: nginx-ingress/nginx-config
	NginxConfigMap string `yaml:"nginx_configmap"`

	// GlobalConfiguration is the namespace/name of the GlobalConfiguration
	// holding custom listeners. Empty disables custom listeners.
	GlobalConfiguration string `yaml:"global_configuration"`

	// LeaderElection configures leader election for high availability.
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// LeaderElectionConfig configures leader election for running multiple replicas.
//
// Only the leader writes status and Events. Every replica renders and
// reloads its own NGINX.
type LeaderElectionConfig struct {
	// Enabled determines whether leader election is active.
	// If false, the controller assumes it is the sole instance.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// LeaseName is the name of the Lease resource used for coordination.
	// Default: nginx-reconciler-leader
	LeaseName string `yaml:"lease_name"`

	// LeaseDuration is the duration that non-leader candidates will wait
	// to force acquire leadership.
	// Format: Go duration string (e.g., "60s", "1m")
	// Default: 60s
	// Minimum: 15s
	LeaseDuration string `yaml:"lease_duration"`

	// RenewDeadline is the duration that the acting leader will retry
	// refreshing leadership before giving up.
	// Default: 15s
	// Must be less than LeaseDuration
	RenewDeadline string `yaml:"renew_deadline"`

	// RetryPeriod is the duration between tries of actions.
	// Default: 5s
	// Must be less than RenewDeadline
	RetryPeriod string `yaml:"retry_period"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Verbose controls log level: 0=WARNING, 1=INFO, 2=DEBUG
	// Default: 1
	Verbose int `yaml:"verbose"`
}

// FeatureFlags switch optional behavior on and off.
type FeatureFlags struct {
	// EnableCustomResources enables the VirtualServer, VirtualServerRoute,
	// TransportServer, Policy and GlobalConfiguration kinds.
	// Default: true
	EnableCustomResources *bool `yaml:"enable_custom_resources"`

	// EnableTLSPassthrough routes TLS connections by SNI without
	// terminating them. Requires custom resources.
	EnableTLSPassthrough bool `yaml:"enable_tls_passthrough"`

	// TLSPassthroughPort is the port the passthrough listener binds.
	// Default: 443
	TLSPassthroughPort int `yaml:"tls_passthrough_port"`

	// EnableIPv6 adds IPv6 listeners to every server.
	EnableIPv6 bool `yaml:"enable_ipv6"`

	// EnableDynamicSSLReload loads certificates by variable so that
	// rotating a certificate needs no reload.
	EnableDynamicSSLReload bool `yaml:"enable_dynamic_ssl_reload"`

	// EnableDynamicWeightChangesReload applies split weight changes through
	// the NGINX Plus key-value API. Requires nginx.plus.
	EnableDynamicWeightChangesReload bool `yaml:"enable_dynamic_weight_changes_reload"`

	// EnableSnippets allows raw NGINX snippets in resources and the ConfigMap.
	EnableSnippets bool `yaml:"enable_snippets"`
}

// WatchConfig selects the namespaces the controller watches.
// Namespaces and NamespaceLabel are mutually exclusive. With neither set,
// all namespaces are watched.
type WatchConfig struct {
	// Namespaces is a fixed list of namespaces.
	Namespaces []string `yaml:"namespaces"`

	// NamespaceLabel is a label selector; namespaces matching it are
	// watched and picked up as they appear.
	//
	// Example: "nginx-ingress=enabled"
	NamespaceLabel string `yaml:"namespace_label"`

	// RetryBudget is the number of consecutive watch failures per kind the
	// controller tolerates before it exits.
	// Default: 10
	RetryBudget int `yaml:"retry_budget"`
}

// TimingConfig configures batching and reload pacing.
type TimingConfig struct {
	// BatchInterval is the quiet period after the last change before a
	// reconciliation pass starts.
	// Default: 1s
	BatchInterval string `yaml:"batch_interval"`

	// BatchMaxWait caps the batching window under a continuous stream of
	// changes. Must not be less than BatchInterval.
	// Default: 3s
	BatchMaxWait string `yaml:"batch_max_wait"`

	// MinReloadInterval is the minimum time between two NGINX reloads.
	// "0s" disables the limit.
	// Default: 1s
	MinReloadInterval string `yaml:"min_reload_interval"`

	// EventQueueSize is the capacity of the event bus channels.
	// Default: 1024
	EventQueueSize int `yaml:"event_queue_size"`
}

// NginxConfig configures the managed NGINX instance.
type NginxConfig struct {
	// Binary is the nginx executable.
	// Default: nginx
	Binary string `yaml:"binary"`

	// ConfDir holds nginx.conf and the conf.d, stream-conf.d directories.
	// Default: /etc/nginx
	ConfDir string `yaml:"conf_dir"`

	// SecretsDir holds certificates and files derived from Secrets.
	// Default: /etc/nginx/secrets
	SecretsDir string `yaml:"secrets_dir"`

	// StateDir holds runtime state such as the TLS passthrough socket.
	// Default: /var/lib/nginx
	StateDir string `yaml:"state_dir"`

	// PidFile is the NGINX master PID file.
	// Default: /var/run/nginx/nginx.pid
	PidFile string `yaml:"pid_file"`

	// StatusPort is the local port of the status server reporting the
	// loaded configuration version.
	// Default: 8080
	StatusPort int `yaml:"status_port"`

	// Plus enables NGINX Plus features.
	Plus bool `yaml:"plus"`

	// PlusAPIVersion is the version of the NGINX Plus API.
	// Default: 9
	PlusAPIVersion int `yaml:"plus_api_version"`

	// ReloadTimeout bounds how long a reload may take until NGINX reports
	// the new configuration version.
	// Default: 60s
	ReloadTimeout string `yaml:"reload_timeout"`

	// StartNginx starts NGINX when no master process is running.
	StartNginx bool `yaml:"start_nginx"`

	// BreakerFailures is the number of consecutive reload failures after
	// which reloads are suspended for BreakerTimeout.
	// Default: 5
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerTimeout is how long reloads stay suspended.
	// Default: 30s
	BreakerTimeout string `yaml:"breaker_timeout"`
}
