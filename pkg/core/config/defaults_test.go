package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetDefaults_AllUnset(t *testing.T) {
	cfg := &Config{}

	setDefaults(cfg)

	// Controller defaults
	assert.Equal(t, DefaultHealthzPort, cfg.Controller.HealthzPort)
	assert.Equal(t, DefaultMetricsPort, cfg.Controller.MetricsPort)
	assert.Equal(t, DefaultIngressClass, cfg.Controller.IngressClass)
	assert.Equal(t, DefaultNginxConfigMap, cfg.Controller.NginxConfigMap)
	assert.Equal(t, DefaultLeaseName, cfg.Controller.LeaderElection.LeaseName)
	assert.True(t, cfg.Controller.LeaderElection.IsEnabled())

	// Feature defaults
	assert.True(t, cfg.Features.CustomResources())
	assert.False(t, cfg.Features.EnableSnippets)
	assert.Equal(t, DefaultTLSPassthroughPort, cfg.Features.TLSPassthroughPort)

	assert.Equal(t, DefaultRetryBudget, cfg.Watch.RetryBudget)
	assert.Equal(t, DefaultEventQueueSize, cfg.Timing.EventQueueSize)

	// NGINX defaults
	assert.Equal(t, DefaultNginxBinary, cfg.Nginx.Binary)
	assert.Equal(t, DefaultNginxSecretsDir, cfg.Nginx.SecretsDir)
	assert.Equal(t, DefaultNginxPidFile, cfg.Nginx.PidFile)
	assert.Equal(t, DefaultStatusPort, cfg.Nginx.StatusPort)
	assert.Equal(t, DefaultPlusAPIVersion, cfg.Nginx.PlusAPIVersion)
	assert.Equal(t, DefaultBreakerFailures, cfg.Nginx.BreakerFailures)
}

func TestSetDefaults_AllSet(t *testing.T) {
	cfg := &Config{
		Controller: ControllerConfig{
			HealthzPort:  8082,
			MetricsPort:  9091,
			IngressClass: "edge",
		},
		Nginx: NginxConfig{
			Binary:     "/usr/sbin/nginx-debug",
			StatusPort: 8090,
		},
		Watch: WatchConfig{RetryBudget: 3},
	}

	setDefaults(cfg)

	// Verify existing values are not overwritten
	assert.Equal(t, 8082, cfg.Controller.HealthzPort)
	assert.Equal(t, 9091, cfg.Controller.MetricsPort)
	assert.Equal(t, "edge", cfg.Controller.IngressClass)
	assert.Equal(t, "/usr/sbin/nginx-debug", cfg.Nginx.Binary)
	assert.Equal(t, 8090, cfg.Nginx.StatusPort)
	assert.Equal(t, 3, cfg.Watch.RetryBudget)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultVerbose, cfg.Logging.Verbose)
	assert.NoError(t, ValidateStructure(cfg))
}

func TestDurationAccessors(t *testing.T) {
	tests := []struct {
		name string
		get  func(*Config) time.Duration
		set  func(*Config, string)
		def  time.Duration
	}{
		{
			name: "batch_interval",
			get:  func(c *Config) time.Duration { return c.Timing.GetBatchInterval() },
			set:  func(c *Config, v string) { c.Timing.BatchInterval = v },
			def:  DefaultBatchInterval,
		},
		{
			name: "batch_max_wait",
			get:  func(c *Config) time.Duration { return c.Timing.GetBatchMaxWait() },
			set:  func(c *Config, v string) { c.Timing.BatchMaxWait = v },
			def:  DefaultBatchMaxWait,
		},
		{
			name: "min_reload_interval",
			get:  func(c *Config) time.Duration { return c.Timing.GetMinReloadInterval() },
			set:  func(c *Config, v string) { c.Timing.MinReloadInterval = v },
			def:  DefaultMinReloadInterval,
		},
		{
			name: "reload_timeout",
			get:  func(c *Config) time.Duration { return c.Nginx.GetReloadTimeout() },
			set:  func(c *Config, v string) { c.Nginx.ReloadTimeout = v },
			def:  DefaultReloadTimeout,
		},
		{
			name: "breaker_timeout",
			get:  func(c *Config) time.Duration { return c.Nginx.GetBreakerTimeout() },
			set:  func(c *Config, v string) { c.Nginx.BreakerTimeout = v },
			def:  DefaultBreakerTimeout,
		},
		{
			name: "lease_duration",
			get:  func(c *Config) time.Duration { return c.Controller.LeaderElection.GetLeaseDuration() },
			set:  func(c *Config, v string) { c.Controller.LeaderElection.LeaseDuration = v },
			def:  DefaultLeaseDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			assert.Equal(t, tt.def, tt.get(cfg), "unset")

			tt.set(cfg, "250ms")
			assert.Equal(t, 250*time.Millisecond, tt.get(cfg), "set")

			tt.set(cfg, "soon")
			assert.Equal(t, tt.def, tt.get(cfg), "invalid")
		})
	}
}

func TestMinReloadInterval_Zero(t *testing.T) {
	cfg := &Config{Timing: TimingConfig{MinReloadInterval: "0s"}}
	assert.Equal(t, time.Duration(0), cfg.Timing.GetMinReloadInterval())
}
