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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"nginx-reconciler/pkg/controller"
	coreconfig "nginx-reconciler/pkg/core/config"
	"nginx-reconciler/pkg/k8s/client"
)

// runFlags holds the flags of the run command. Apart from --config and
// --kubeconfig every flag mirrors a key of the configuration file.
type runFlags struct {
	configPath string
	kubeconfig string

	ingressClass        string
	nginxConfigMap      string
	globalConfiguration string
	healthzPort         int
	metricsPort         int
	leaderElection      bool
	leaseName           string

	watchNamespaces []string
	namespaceLabel  string

	enableCustomResources  bool
	enableSnippets         bool
	enableIPv6             bool
	enableTLSPassthrough   bool
	tlsPassthroughPort     int
	enableDynamicSSLReload bool
	enableDynamicWeights   bool
	batchInterval          string
	minReloadInterval      string
	nginxBinary            string
	nginxPlus              bool
	nginxStatusPort        int
	startNginx             bool
}

// binding applies a changed flag to the configuration.
type binding struct {
	flag  string
	apply func(cfg *coreconfig.Config)
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to the controller configuration file (env: CONFIG)")
	fs.StringVar(&f.kubeconfig, "kubeconfig", "", "Path to kubeconfig file (for out-of-cluster development)")

	fs.StringVar(&f.ingressClass, "ingress-class", "", "Ingress class handled by this controller")
	fs.StringVar(&f.nginxConfigMap, "nginx-configmap", "", "namespace/name of the ConfigMap with global NGINX settings")
	fs.StringVar(&f.globalConfiguration, "global-configuration", "", "namespace/name of the GlobalConfiguration with custom listeners")
	fs.IntVar(&f.healthzPort, "healthz-port", 0, "Port of the health and debug server")
	fs.IntVar(&f.metricsPort, "metrics-port", 0, "Port of the Prometheus metrics server (0 disables it)")
	fs.BoolVar(&f.leaderElection, "leader-election", true, "Elect a leader before writing resource status")
	fs.StringVar(&f.leaseName, "lease-name", "", "Name of the leader election Lease")

	fs.StringSliceVar(&f.watchNamespaces, "watch-namespace", nil, "Namespaces to watch (default: all)")
	fs.StringVar(&f.namespaceLabel, "watch-namespace-label", "", "Label selector namespaces must match to be watched")

	fs.BoolVar(&f.enableCustomResources, "enable-custom-resources", true, "Watch VirtualServer, TransportServer and Policy resources")
	fs.BoolVar(&f.enableSnippets, "enable-snippets", false, "Allow custom NGINX snippets in resources")
	fs.BoolVar(&f.enableIPv6, "enable-ipv6", false, "Add IPv6 listeners to every server")
	fs.BoolVar(&f.enableTLSPassthrough, "enable-tls-passthrough", false, "Route TLS connections by SNI without terminating them")
	fs.IntVar(&f.tlsPassthroughPort, "tls-passthrough-port", 0, "Port of the TLS passthrough listener")
	fs.BoolVar(&f.enableDynamicSSLReload, "enable-dynamic-ssl-reload", false, "Apply certificate changes without reloading NGINX")
	fs.BoolVar(&f.enableDynamicWeights, "enable-dynamic-weight-changes-reload", false, "Apply split weight changes without reloading NGINX Plus")
	fs.StringVar(&f.batchInterval, "batch-interval", "", "Quiet period before a batch of changes is reconciled")
	fs.StringVar(&f.minReloadInterval, "min-reload-interval", "", "Minimum time between two NGINX reloads")
	fs.StringVar(&f.nginxBinary, "nginx-binary", "", "Path to the nginx binary")
	fs.BoolVar(&f.nginxPlus, "nginx-plus", false, "Enable NGINX Plus features")
	fs.IntVar(&f.nginxStatusPort, "nginx-status-port", 0, "Port of the local NGINX status and API server")
	fs.BoolVar(&f.startNginx, "start-nginx", false, "Start NGINX when it is not running")
}

func (f *runFlags) bindings() []binding {
	return []binding{
		{"ingress-class", func(c *coreconfig.Config) { c.Controller.IngressClass = f.ingressClass }},
		{"nginx-configmap", func(c *coreconfig.Config) { c.Controller.NginxConfigMap = f.nginxConfigMap }},
		{"global-configuration", func(c *coreconfig.Config) { c.Controller.GlobalConfiguration = f.globalConfiguration }},
		{"healthz-port", func(c *coreconfig.Config) { c.Controller.HealthzPort = f.healthzPort }},
		{"metrics-port", func(c *coreconfig.Config) { c.Controller.MetricsPort = f.metricsPort }},
		{"leader-election", func(c *coreconfig.Config) {
			enabled := f.leaderElection
			c.Controller.LeaderElection.Enabled = &enabled
		}},
		{"lease-name", func(c *coreconfig.Config) { c.Controller.LeaderElection.LeaseName = f.leaseName }},
		{"watch-namespace", func(c *coreconfig.Config) { c.Watch.Namespaces = f.watchNamespaces }},
		{"watch-namespace-label", func(c *coreconfig.Config) { c.Watch.NamespaceLabel = f.namespaceLabel }},
		{"enable-custom-resources", func(c *coreconfig.Config) {
			enabled := f.enableCustomResources
			c.Features.EnableCustomResources = &enabled
		}},
		{"enable-snippets", func(c *coreconfig.Config) { c.Features.EnableSnippets = f.enableSnippets }},
		{"enable-ipv6", func(c *coreconfig.Config) { c.Features.EnableIPv6 = f.enableIPv6 }},
		{"enable-tls-passthrough", func(c *coreconfig.Config) { c.Features.EnableTLSPassthrough = f.enableTLSPassthrough }},
		{"tls-passthrough-port", func(c *coreconfig.Config) { c.Features.TLSPassthroughPort = f.tlsPassthroughPort }},
		{"enable-dynamic-ssl-reload", func(c *coreconfig.Config) { c.Features.EnableDynamicSSLReload = f.enableDynamicSSLReload }},
		{"enable-dynamic-weight-changes-reload", func(c *coreconfig.Config) {
			c.Features.EnableDynamicWeightChangesReload = f.enableDynamicWeights
		}},
		{"batch-interval", func(c *coreconfig.Config) { c.Timing.BatchInterval = f.batchInterval }},
		{"min-reload-interval", func(c *coreconfig.Config) { c.Timing.MinReloadInterval = f.minReloadInterval }},
		{"nginx-binary", func(c *coreconfig.Config) { c.Nginx.Binary = f.nginxBinary }},
		{"nginx-plus", func(c *coreconfig.Config) { c.Nginx.Plus = f.nginxPlus }},
		{"nginx-status-port", func(c *coreconfig.Config) { c.Nginx.StatusPort = f.nginxStatusPort }},
		{"start-nginx", func(c *coreconfig.Config) { c.Nginx.StartNginx = f.startNginx }},
	}
}

// override returns the function applying every flag set on fs to a loaded
// configuration.
func (f *runFlags) override(fs *pflag.FlagSet) func(*coreconfig.Config) {
	var changed []binding
	for _, b := range f.bindings() {
		if fs.Changed(b.flag) {
			changed = append(changed, b)
		}
	}
	return func(cfg *coreconfig.Config) {
		for _, b := range changed {
			b.apply(cfg)
		}
	}
}

// envName is the environment variable backing a flag.
func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnvironment sets every flag that was not given on the command line
// from its environment variable.
func applyEnvironment(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	var errs []error
	fs.VisitAll(func(fl *pflag.Flag) {
		if fl.Changed {
			return
		}
		value, ok := lookup(envName(fl.Name))
		if !ok || value == "" {
			return
		}
		if err := fs.Set(fl.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envName(fl.Name), err))
		}
	})
	return errors.Join(errs...)
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the NGINX reconciler",
		Long: `Run the NGINX reconciler.

The controller watches Ingress, VirtualServer, VirtualServerRoute,
TransportServer, Policy, GlobalConfiguration, Secret, ConfigMap and Endpoints
resources, renders the NGINX configuration from them and reloads NGINX when
the configuration changed. Resource status is written back by the elected
leader.

Configuration is taken from:
1. Command-line flags (highest priority)
2. Environment variables
3. The configuration file given by --config
4. Default values (lowest priority)

The configuration file is watched. A valid change reinitializes the
controller; an invalid one is reported and ignored.

Example usage:
  # Run with defaults in-cluster
  controller run

  # Run with a configuration file and a kubeconfig
  controller run --config /etc/nginx-reconciler/config.yaml --kubeconfig ~/.kube/config

  # Handle only the "internal" class in two namespaces
  controller run --ingress-class internal --watch-namespace team-a,team-b`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runController(cmd, flags)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func runController(cmd *cobra.Command, flags *runFlags) error {
	if err := applyEnvironment(cmd.Flags(), os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	override := flags.override(cmd.Flags())

	// Fail fast on a broken configuration; the controller loads the file
	// again on every iteration.
	loaded, err := controller.LoadConfig(flags.configPath, override)
	if err != nil {
		return err
	}

	logger := setupLogging(os.Stdout, loaded.Config.Logging.Verbose)
	gomaxprocs, gomemlimit := resourceLimits()
	logger.Info("NGINX reconciler starting",
		"version", Version,
		"config", flags.configPath,
		"config_version", loaded.Version,
		"ingress_class", loaded.Config.Controller.IngressClass,
		"gomaxprocs", gomaxprocs,
		"gomemlimit", gomemlimit)

	k8sClient, err := client.New(client.Config{
		Kubeconfig: flags.kubeconfig,
		Namespace:  os.Getenv("POD_NAMESPACE"),
	})
	if err != nil {
		return fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	logger.Info("Kubernetes client created successfully",
		"namespace", k8sClient.Namespace(),
		"in_cluster", flags.kubeconfig == "")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	err = controller.Run(ctx, k8sClient, controller.Options{
		ConfigPath: flags.configPath,
		Override:   override,
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("controller failed: %w", err)
	}

	logger.Info("Controller shutdown complete")
	return nil
}
