package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/labels"

	"nginx-reconciler/pkg/templating"
)

// MinLeaseDuration is the shortest accepted leader election lease.
const MinLeaseDuration = 15 * time.Second

// ValidateStructure performs structural validation on the configuration.
// Validates value ranges, references, durations and feature flag
// combinations. Template overrides are parsed but not rendered.
func ValidateStructure(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateControllerConfig(&cfg.Controller); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := validateFeatureFlags(&cfg.Features, &cfg.Nginx); err != nil {
		return fmt.Errorf("features: %w", err)
	}

	if err := validateWatchConfig(&cfg.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if err := validateTimingConfig(&cfg.Timing); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	if err := validateNginxConfig(&cfg.Nginx, &cfg.Controller); err != nil {
		return fmt.Errorf("nginx: %w", err)
	}

	for name, tmpl := range cfg.Templates {
		if name == "" {
			return fmt.Errorf("templates: name cannot be empty")
		}
		if strings.TrimSpace(tmpl) == "" {
			return fmt.Errorf("templates: %s: template cannot be empty", name)
		}
		if err := templating.ValidateTemplate(name, tmpl, templating.EngineTypeGonja); err != nil {
			return fmt.Errorf("templates: %s: %w", name, err)
		}
	}

	for i, pp := range cfg.PostProcessors {
		if _, err := templating.NewPostProcessor(pp); err != nil {
			return fmt.Errorf("post_processors[%d]: %w", i, err)
		}
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

// validateReference checks a namespace/name reference.
func validateReference(name, ref string) error {
	ns, n, ok := strings.Cut(ref, "/")
	if !ok || ns == "" || n == "" || strings.Contains(n, "/") {
		return fmt.Errorf("%s must have the form namespace/name, got %q", name, ref)
	}
	return nil
}

func validateDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative, got %s", name, value)
	}
	return d, nil
}

// validateControllerConfig validates the controller configuration.
func validateControllerConfig(cc *ControllerConfig) error {
	if err := validatePort("healthz_port", cc.HealthzPort); err != nil {
		return err
	}
	if err := validatePort("metrics_port", cc.MetricsPort); err != nil {
		return err
	}
	if cc.HealthzPort == cc.MetricsPort {
		return fmt.Errorf("healthz_port and metrics_port cannot be the same (%d)", cc.HealthzPort)
	}

	if cc.IngressClass == "" {
		return fmt.Errorf("ingress_class cannot be empty")
	}
	if err := validateReference("nginx_configmap", cc.NginxConfigMap); err != nil {
		return err
	}
	if cc.GlobalConfiguration != "" {
		if err := validateReference("global_configuration", cc.GlobalConfiguration); err != nil {
			return err
		}
	}

	if err := validateLeaderElection(&cc.LeaderElection); err != nil {
		return fmt.Errorf("leader_election: %w", err)
	}

	return nil
}

func validateLeaderElection(le *LeaderElectionConfig) error {
	if !le.IsEnabled() {
		return nil
	}
	if le.LeaseName == "" {
		return fmt.Errorf("lease_name cannot be empty")
	}

	for name, value := range map[string]string{
		"lease_duration": le.LeaseDuration,
		"renew_deadline": le.RenewDeadline,
		"retry_period":   le.RetryPeriod,
	} {
		if _, err := validateDuration(name, value); err != nil {
			return err
		}
	}

	lease, renew, retry := le.GetLeaseDuration(), le.GetRenewDeadline(), le.GetRetryPeriod()
	if lease < MinLeaseDuration {
		return fmt.Errorf("lease_duration must be at least %s, got %s", MinLeaseDuration, lease)
	}
	if renew >= lease {
		return fmt.Errorf("renew_deadline (%s) must be less than lease_duration (%s)", renew, lease)
	}
	if retry <= 0 || retry >= renew {
		return fmt.Errorf("retry_period (%s) must be positive and less than renew_deadline (%s)", retry, renew)
	}

	return nil
}

// validateLoggingConfig validates the logging configuration.
func validateLoggingConfig(lc *LoggingConfig) error {
	if lc.Verbose < 0 || lc.Verbose > 2 {
		return fmt.Errorf("verbose must be 0 (WARNING), 1 (INFO), or 2 (DEBUG), got %d", lc.Verbose)
	}

	return nil
}

func validateFeatureFlags(f *FeatureFlags, n *NginxConfig) error {
	if err := validatePort("tls_passthrough_port", f.TLSPassthroughPort); err != nil {
		return err
	}
	if f.EnableTLSPassthrough && !f.CustomResources() {
		return fmt.Errorf("enable_tls_passthrough requires enable_custom_resources")
	}
	if f.EnableDynamicWeightChangesReload && !n.Plus {
		return fmt.Errorf("enable_dynamic_weight_changes_reload requires nginx.plus")
	}
	return nil
}

func validateWatchConfig(w *WatchConfig) error {
	if len(w.Namespaces) > 0 && w.NamespaceLabel != "" {
		return fmt.Errorf("namespaces and namespace_label are mutually exclusive")
	}
	for i, ns := range w.Namespaces {
		if ns == "" {
			return fmt.Errorf("namespaces[%d] cannot be empty", i)
		}
	}
	if w.NamespaceLabel != "" {
		if _, err := labels.Parse(w.NamespaceLabel); err != nil {
			return fmt.Errorf("namespace_label: %w", err)
		}
	}
	if w.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be at least 1, got %d", w.RetryBudget)
	}
	return nil
}

func validateTimingConfig(t *TimingConfig) error {
	if _, err := validateDuration("batch_interval", t.BatchInterval); err != nil {
		return err
	}
	if _, err := validateDuration("batch_max_wait", t.BatchMaxWait); err != nil {
		return err
	}
	if _, err := validateDuration("min_reload_interval", t.MinReloadInterval); err != nil {
		return err
	}

	interval, maxWait := t.GetBatchInterval(), t.GetBatchMaxWait()
	if interval <= 0 {
		return fmt.Errorf("batch_interval must be positive, got %s", interval)
	}
	if maxWait < interval {
		return fmt.Errorf("batch_max_wait (%s) must not be less than batch_interval (%s)", maxWait, interval)
	}

	if t.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be at least 1, got %d", t.EventQueueSize)
	}
	return nil
}

func validateNginxConfig(n *NginxConfig, cc *ControllerConfig) error {
	if n.Binary == "" {
		return fmt.Errorf("binary cannot be empty")
	}
	for name, dir := range map[string]string{
		"conf_dir":    n.ConfDir,
		"secrets_dir": n.SecretsDir,
		"state_dir":   n.StateDir,
		"pid_file":    n.PidFile,
	} {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, dir)
		}
	}

	if err := validatePort("status_port", n.StatusPort); err != nil {
		return err
	}
	if n.StatusPort == cc.HealthzPort || n.StatusPort == cc.MetricsPort {
		return fmt.Errorf("status_port %d collides with a controller port", n.StatusPort)
	}

	if _, err := validateDuration("reload_timeout", n.ReloadTimeout); err != nil {
		return err
	}
	if n.GetReloadTimeout() <= 0 {
		return fmt.Errorf("reload_timeout must be positive")
	}
	if _, err := validateDuration("breaker_timeout", n.BreakerTimeout); err != nil {
		return err
	}
	if n.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1, got %d", n.BreakerFailures)
	}
	if n.PlusAPIVersion < 1 {
		return fmt.Errorf("plus_api_version must be at least 1, got %d", n.PlusAPIVersion)
	}
	return nil
}
