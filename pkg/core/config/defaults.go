package config

import "time"

// Default values for configuration fields.
const (
	// DefaultHealthzPort is the default port of the debug server.
	DefaultHealthzPort = 8081

	// DefaultMetricsPort is the default port for Prometheus metrics.
	DefaultMetricsPort = 9090

	// DefaultVerbose is the default log level (1 = INFO).
	DefaultVerbose = 1

	DefaultIngressClass   = "nginx"
	DefaultNginxConfigMap = "nginx-ingress/nginx-config"

	DefaultLeaseName     = "nginx-reconciler-leader"
	DefaultLeaseDuration = 60 * time.Second
	DefaultRenewDeadline = 15 * time.Second
	DefaultRetryPeriod   = 5 * time.Second

	// DefaultTLSPassthroughPort is the port of the TLS passthrough listener.
	DefaultTLSPassthroughPort = 443

	// DefaultRetryBudget is the number of consecutive watch failures
	// tolerated per kind.
	DefaultRetryBudget = 10

	DefaultBatchInterval     = 1 * time.Second
	DefaultBatchMaxWait      = 3 * time.Second
	DefaultMinReloadInterval = 1 * time.Second
	DefaultEventQueueSize    = 1024

	DefaultNginxBinary     = "nginx"
	DefaultNginxConfDir    = "/etc/nginx"
	DefaultNginxSecretsDir = "/etc/nginx/secrets"
	DefaultNginxStateDir   = "/var/lib/nginx"
	DefaultNginxPidFile    = "/var/run/nginx/nginx.pid"
	DefaultStatusPort      = 8080
	DefaultPlusAPIVersion  = 9
	DefaultReloadTimeout   = 60 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// Default returns a configuration with every default applied, as used when
// no configuration file is given.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Verbose: DefaultVerbose}}
	setDefaults(cfg)
	return cfg
}

// setDefaults applies default values to unset configuration fields.
// This modifies the config in-place and should be called after parsing
// the configuration and before validation.
func setDefaults(cfg *Config) {
	// Controller defaults
	if cfg.Controller.HealthzPort == 0 {
		cfg.Controller.HealthzPort = DefaultHealthzPort
	}
	if cfg.Controller.MetricsPort == 0 {
		cfg.Controller.MetricsPort = DefaultMetricsPort
	}
	if cfg.Controller.IngressClass == "" {
		cfg.Controller.IngressClass = DefaultIngressClass
	}
	if cfg.Controller.NginxConfigMap == "" {
		cfg.Controller.NginxConfigMap = DefaultNginxConfigMap
	}

	le := &cfg.Controller.LeaderElection
	if le.Enabled == nil {
		le.Enabled = boolPtr(true)
	}
	if le.LeaseName == "" {
		le.LeaseName = DefaultLeaseName
	}

	// Logging defaults
	// Note: Verbose level 0 is valid (WARNING), so we don't set a default

	// Feature defaults
	if cfg.Features.EnableCustomResources == nil {
		cfg.Features.EnableCustomResources = boolPtr(true)
	}
	if cfg.Features.TLSPassthroughPort == 0 {
		cfg.Features.TLSPassthroughPort = DefaultTLSPassthroughPort
	}

	if cfg.Watch.RetryBudget == 0 {
		cfg.Watch.RetryBudget = DefaultRetryBudget
	}

	if cfg.Timing.EventQueueSize == 0 {
		cfg.Timing.EventQueueSize = DefaultEventQueueSize
	}

	// NGINX defaults
	n := &cfg.Nginx
	if n.Binary == "" {
		n.Binary = DefaultNginxBinary
	}
	if n.ConfDir == "" {
		n.ConfDir = DefaultNginxConfDir
	}
	if n.SecretsDir == "" {
		n.SecretsDir = DefaultNginxSecretsDir
	}
	if n.StateDir == "" {
		n.StateDir = DefaultNginxStateDir
	}
	if n.PidFile == "" {
		n.PidFile = DefaultNginxPidFile
	}
	if n.StatusPort == 0 {
		n.StatusPort = DefaultStatusPort
	}
	if n.PlusAPIVersion == 0 {
		n.PlusAPIVersion = DefaultPlusAPIVersion
	}
	if n.BreakerFailures == 0 {
		n.BreakerFailures = DefaultBreakerFailures
	}

	// Durations stay empty; the Get* accessors fall back to the defaults.
}

func boolPtr(b bool) *bool { return &b }

// IsEnabled reports whether leader election is enabled. Unset means enabled.
func (le *LeaderElectionConfig) IsEnabled() bool {
	return le.Enabled == nil || *le.Enabled
}

// CustomResources reports whether the custom resource kinds are watched.
// Unset means enabled.
func (f *FeatureFlags) CustomResources() bool {
	return f.EnableCustomResources == nil || *f.EnableCustomResources
}

// parseDuration returns the parsed value of s, or def if s is empty or
// invalid. ValidateStructure rejects invalid values before they get here.
func parseDuration(s string, def time.Duration) time.Duration {
	if s != "" {
		if duration, err := time.ParseDuration(s); err == nil {
			return duration
		}
	}
	return def
}

// GetLeaseDuration returns the configured lease duration or the default.
func (le *LeaderElectionConfig) GetLeaseDuration() time.Duration {
	return parseDuration(le.LeaseDuration, DefaultLeaseDuration)
}

// GetRenewDeadline returns the configured renew deadline or the default.
func (le *LeaderElectionConfig) GetRenewDeadline() time.Duration {
	return parseDuration(le.RenewDeadline, DefaultRenewDeadline)
}

// GetRetryPeriod returns the configured retry period or the default.
func (le *LeaderElectionConfig) GetRetryPeriod() time.Duration {
	return parseDuration(le.RetryPeriod, DefaultRetryPeriod)
}

// GetBatchInterval returns the configured batch interval or the default.
func (t *TimingConfig) GetBatchInterval() time.Duration {
	return parseDuration(t.BatchInterval, DefaultBatchInterval)
}

// GetBatchMaxWait returns the configured maximum batching window or the default.
func (t *TimingConfig) GetBatchMaxWait() time.Duration {
	return parseDuration(t.BatchMaxWait, DefaultBatchMaxWait)
}

// GetMinReloadInterval returns the configured minimum reload interval or
// the default. Zero disables reload rate limiting.
func (t *TimingConfig) GetMinReloadInterval() time.Duration {
	return parseDuration(t.MinReloadInterval, DefaultMinReloadInterval)
}

// GetReloadTimeout returns the configured reload timeout or the default.
func (n *NginxConfig) GetReloadTimeout() time.Duration {
	return parseDuration(n.ReloadTimeout, DefaultReloadTimeout)
}

// GetBreakerTimeout returns the configured breaker timeout or the default.
func (n *NginxConfig) GetBreakerTimeout() time.Duration {
	return parseDuration(n.BreakerTimeout, DefaultBreakerTimeout)
}
