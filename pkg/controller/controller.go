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

// Package controller wires the reconciliation pipeline together and runs it.
//
// The controller runs in iterations. Each iteration:
//  1. Loads and validates the configuration file
//  2. Creates an event bus and the components, which subscribe on creation
//  3. Starts the components, then the bus, releasing buffered events
//  4. Runs until the configuration file changes, a component fails or the
//     context is cancelled
//
// A configuration change starts a new iteration with fresh components. The
// new iteration re-lists every watched resource before its first pass.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/controller/commentator"
	"nginx-reconciler/pkg/controller/debug"
	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/executor"
	leaderelectionctrl "nginx-reconciler/pkg/controller/leaderelection"
	"nginx-reconciler/pkg/controller/metrics"
	"nginx-reconciler/pkg/controller/reconciler"
	"nginx-reconciler/pkg/controller/reloader"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/controller/resourcewatcher"
	"nginx-reconciler/pkg/controller/status"
	coreconfig "nginx-reconciler/pkg/core/config"
	"nginx-reconciler/pkg/dataplane"
	busevents "nginx-reconciler/pkg/events"
	"nginx-reconciler/pkg/introspection"
	"nginx-reconciler/pkg/k8s/client"
	k8sleaderelection "nginx-reconciler/pkg/k8s/leaderelection"
	k8sstatus "nginx-reconciler/pkg/k8s/status"
	"nginx-reconciler/pkg/k8s/watcher"
	pkgmetrics "nginx-reconciler/pkg/metrics"
	"nginx-reconciler/pkg/templating"
)

const (
	// RetryDelay is the wait before retrying a failed iteration.
	RetryDelay = 5 * time.Second

	// ShutdownTimeout bounds the wait for components to stop. The elector
	// needs it to release the lease.
	ShutdownTimeout = 30 * time.Second

	// ReadinessTimeout bounds how long /readyz waits for components.
	ReadinessTimeout = 2 * time.Second

	// EventSource is the component name on Kubernetes Events.
	EventSource = "nginx-reconciler"
)

// readinessComponents must all report ready for /readyz to succeed.
var readinessComponents = []string{
	resourcewatcher.ComponentName,
	reconciler.ComponentName,
	executor.ComponentName,
	reloader.ComponentName,
	status.ComponentName,
}

// Options configure Run.
type Options struct {
	// ConfigPath is the controller configuration file. Empty runs with the
	// defaults and never reinitializes.
	ConfigPath string

	// Override is applied to every loaded configuration before validation.
	// The command line flags use it.
	Override func(*coreconfig.Config)

	// Manager replaces the NGINX manager built from the configuration.
	Manager dataplane.Manager
}

// Run runs iterations until ctx is cancelled. It returns an error only when
// a watch exhausts its retry budget; a restart of the process then re-lists
// everything.
func Run(ctx context.Context, k8sClient *client.Client, opts Options) error {
	logger := slog.Default()
	logger.Info("NGINX reconciler starting", "config", opts.ConfigPath, "namespace", k8sClient.Namespace())

	for {
		err := runIteration(ctx, k8sClient, opts, logger)
		switch {
		case ctx.Err() != nil:
			logger.Info("controller shutting down", "reason", ctx.Err())
			return nil
		case errors.Is(err, watcher.ErrRetryBudgetExceeded):
			return err
		case err != nil:
			logger.Error("controller iteration failed, retrying", "error", err, "retry_delay", RetryDelay)
			select {
			case <-time.After(RetryDelay):
			case <-ctx.Done():
				return nil
			}
		}
		// err == nil: the configuration changed, start over right away
	}
}

// LoadedConfig is a validated configuration and the version of the file it
// was read from.
type LoadedConfig struct {
	Config  *coreconfig.Config
	Raw     []byte
	Version string
}

// LoadConfig reads the configuration file at path, applies override and
// validates the result. An empty path yields the defaults.
func LoadConfig(path string, override func(*coreconfig.Config)) (*LoadedConfig, error) {
	loaded := &LoadedConfig{Version: "default"}

	if path == "" {
		loaded.Config = coreconfig.Default()
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err := coreconfig.LoadConfig(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		loaded.Config, loaded.Raw, loaded.Version = cfg, raw, contentVersion(raw)
	}

	if override != nil {
		override(loaded.Config)
	}
	if err := coreconfig.ValidateStructure(loaded.Config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return loaded, nil
}

// contentVersion is a short hash of a configuration file.
func contentVersion(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:12]
}

func runIteration(ctx context.Context, k8sClient *client.Client, opts Options, logger *slog.Logger) error {
	loaded, err := LoadConfig(opts.ConfigPath, opts.Override)
	if err != nil {
		return err
	}
	logger.Info("starting controller iteration", "config_version", loaded.Version)

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p, err := newPipeline(iterCtx, loaded, k8sClient, opts.Manager, logger)
	if err != nil {
		return err
	}
	defer p.stopRecorder()

	g, gCtx := errgroup.WithContext(iterCtx)
	p.start(gCtx, g, logger)

	changed := make(chan struct{}, 1)
	if opts.ConfigPath != "" {
		w := coreconfig.NewWatcher(opts.ConfigPath, loaded.Raw, func(*coreconfig.Config) {
			version := "unknown"
			if raw, err := os.ReadFile(opts.ConfigPath); err == nil {
				version = contentVersion(raw)
			}
			p.bus.Publish(events.NewConfigChangedEvent(opts.ConfigPath, version))
			select {
			case changed <- struct{}{}:
			default:
			}
		}, logger)
		w.OnError(func(err error) {
			p.bus.Publish(events.NewConfigInvalidEvent(opts.ConfigPath, err))
		})
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				logger.Error("config watcher failed, changes need a restart", "error", err)
			}
			return nil
		})
	}

	p.bus.Start()
	p.bus.Publish(events.NewControllerStartedEvent(loaded.Version))
	logger.Info("controller iteration running")

	select {
	case <-gCtx.Done():
		p.bus.Publish(events.NewControllerShutdownEvent("context cancelled"))
	case <-changed:
		p.bus.Publish(events.NewControllerShutdownEvent("configuration changed"))
		logger.Info("configuration changed, reinitializing")
	}

	cancel()
	return waitForGoroutinesToFinish(g, logger)
}

// pipeline holds the components of one iteration.
type pipeline struct {
	bus   *busevents.EventBus
	store *resourcestore.Store

	resourceWatcher *resourcewatcher.Component
	reconciler      *reconciler.Reconciler
	executor        *executor.Executor
	reloader        *reloader.Component
	status          *status.Component
	metrics         *metrics.Component
	commentator     *commentator.EventCommentator
	stateCache      *StateCache
	eventBuffer     *debug.EventBuffer
	elector         *leaderelectionctrl.Component

	metricsServer *pkgmetrics.Server
	debugServer   *introspection.Server
	stopRecorder  func()
}

func newPipeline(ctx context.Context, loaded *LoadedConfig, k8sClient *client.Client, manager dataplane.Manager, logger *slog.Logger) (*pipeline, error) {
	cfg := loaded.Config
	if manager == nil {
		adjustToCapabilities(ctx, cfg, dataplane.ExecRunner, logger)
	}
	bus := busevents.NewEventBus(cfg.Timing.EventQueueSize)
	store := resourcestore.New()

	rend, err := renderer.New(rendererOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	if manager == nil {
		manager = dataplane.NewNginxManager(dataplaneOptions(cfg), logger)
	}

	watcherComponent, err := resourcewatcher.New(watcherOptions(cfg), k8sClient.Dynamic(), store, bus, logger)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		bus:             bus,
		store:           store,
		resourceWatcher: watcherComponent,
		reconciler: reconciler.New(bus, logger, &reconciler.Config{
			BatchInterval: cfg.Timing.GetBatchInterval(),
			MaxWait:       cfg.Timing.GetBatchMaxWait(),
		}),
		executor:    executor.New(bus, store, configuration.NewBuilder(builderOptions(cfg), logger), rend, logger),
		reloader:    reloader.New(bus, manager, reloaderOptions(cfg), logger),
		commentator: commentator.NewEventCommentator(bus, logger, commentator.DefaultBufferSize),
		eventBuffer: debug.NewEventBuffer(1000, bus),
	}
	p.stateCache = NewStateCache(bus, cfg, loaded.Version, store, p.reloader)

	recorder, stopRecorder := k8sstatus.NewEventRecorder(k8sClient.Clientset(), EventSource)
	p.stopRecorder = stopRecorder
	writer := k8sstatus.NewWriter(k8sClient.Dynamic(), recorder, logger)

	leading := true
	if cfg.Controller.LeaderElection.IsEnabled() {
		leading = false
		electionCfg, err := electionConfig(cfg, k8sClient.Namespace())
		if err != nil {
			stopRecorder()
			return nil, err
		}
		p.elector, err = leaderelectionctrl.New(electionCfg, k8sClient.Clientset(), bus, logger)
		if err != nil {
			stopRecorder()
			return nil, fmt.Errorf("failed to create leader election: %w", err)
		}
	}
	p.status = status.New(bus, writer, leading, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p.metrics = metrics.NewComponent(metrics.New(registry), bus)
	p.metricsServer = pkgmetrics.NewServer(fmt.Sprintf(":%d", cfg.Controller.MetricsPort), registry, logger)
	p.metricsServer.Handle("/debug/config", appliedConfigHandler(p.reloader))

	vars := introspection.NewRegistry()
	debug.RegisterVariables(vars, p.stateCache, p.eventBuffer)
	p.debugServer = introspection.NewServer(
		fmt.Sprintf(":%d", cfg.Controller.HealthzPort),
		vars,
		debug.Readiness(bus, readinessComponents, ReadinessTimeout),
		logger,
	)

	return p, nil
}

// start runs every component in g. Components return nil on cancellation;
// an error from the resource watcher ends the iteration.
func (p *pipeline) start(ctx context.Context, g *errgroup.Group, logger *slog.Logger) {
	g.Go(func() error { return p.resourceWatcher.Start(ctx) })
	g.Go(func() error { return p.reconciler.Start(ctx) })
	g.Go(func() error { return p.executor.Start(ctx) })
	g.Go(func() error { return p.reloader.Start(ctx) })
	g.Go(func() error { return p.status.Start(ctx) })
	g.Go(func() error { return p.metrics.Start(ctx) })
	g.Go(func() error { return p.commentator.Start(ctx) })
	g.Go(func() error { return p.stateCache.Start(ctx) })
	g.Go(func() error { return p.eventBuffer.Start(ctx) })

	if p.elector != nil {
		g.Go(func() error { return p.elector.Run(ctx) })
	}

	// a server that cannot bind is logged, the pipeline keeps running
	g.Go(func() error {
		if err := p.metricsServer.Start(ctx); err != nil {
			logger.Error("metrics server failed", "error", err, "addr", p.metricsServer.Addr())
		}
		return nil
	})
	g.Go(func() error {
		if err := p.debugServer.Start(ctx); err != nil {
			logger.Error("debug server failed", "error", err, "addr", p.debugServer.Addr())
		}
		return nil
	})
}

// waitForGoroutinesToFinish waits up to ShutdownTimeout for g.
func waitForGoroutinesToFinish(g *errgroup.Group, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("components stopped with error", "error", err)
		}
		return err
	case <-time.After(ShutdownTimeout):
		logger.Warn("shutdown timeout exceeded, some components may still be running", "timeout", ShutdownTimeout)
		return nil
	}
}

func appliedConfigHandler(src AppliedSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := src.Applied()
		if cfg == nil {
			http.Error(w, "no configuration applied yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Config-Checksum", cfg.Checksum())
		_, _ = w.Write([]byte(cfg.Main))
	})
}

func builderOptions(cfg *coreconfig.Config) configuration.Options {
	return configuration.Options{
		IngressClass:               cfg.Controller.IngressClass,
		GlobalConfiguration:        cfg.Controller.GlobalConfiguration,
		ConfigMap:                  cfg.Controller.NginxConfigMap,
		EnableSnippets:             cfg.Features.EnableSnippets,
		EnableTLSPassthrough:       cfg.Features.EnableTLSPassthrough,
		TLSPassthroughPort:         cfg.Features.TLSPassthroughPort,
		EnableDynamicWeightChanges: cfg.Features.EnableDynamicWeightChangesReload,
	}
}

// adjustToCapabilities turns off the dynamic update features the local nginx
// build cannot serve. cfg is left as is when the version is unknown.
func adjustToCapabilities(ctx context.Context, cfg *coreconfig.Config, run dataplane.CommandRunner, logger *slog.Logger) {
	v, err := dataplane.DetectVersion(ctx, run, cfg.Nginx.Binary)
	if err != nil {
		logger.Warn("failed to detect nginx version", "error", err)
		return
	}
	logger.Info("detected nginx", "version", v.Full, "plus", v.Plus)

	caps := dataplane.CapabilitiesFromVersion(v)
	if cfg.Features.EnableDynamicSSLReload && !caps.DynamicCertificates {
		logger.Warn("nginx cannot load certificates per handshake, dynamic SSL reload disabled", "version", v.Full)
		cfg.Features.EnableDynamicSSLReload = false
	}
	if cfg.Features.EnableDynamicWeightChangesReload && !caps.KeyValAPI {
		logger.Warn("dynamic weight changes need the NGINX Plus key-value API, disabled", "version", v.Full)
		cfg.Features.EnableDynamicWeightChangesReload = false
	}
}

func rendererOptions(cfg *coreconfig.Config) renderer.Options {
	return renderer.Options{
		EnableIPv6:             cfg.Features.EnableIPv6,
		EnableSnippets:         cfg.Features.EnableSnippets,
		EnableDynamicSSLReload: cfg.Features.EnableDynamicSSLReload,
		Plus:                   cfg.Nginx.Plus,
		StatusPort:             cfg.Nginx.StatusPort,
		Paths: templating.PathResolver{
			ConfDir:    cfg.Nginx.ConfDir,
			SecretsDir: cfg.Nginx.SecretsDir,
			StateDir:   cfg.Nginx.StateDir,
		},
		Templates:      cfg.Templates,
		PostProcessors: cfg.PostProcessors,
	}
}

func reloaderOptions(cfg *coreconfig.Config) reloader.Options {
	return reloader.Options{
		Flags: reloader.Flags{
			DynamicSSL:     cfg.Features.EnableDynamicSSLReload,
			DynamicWeights: cfg.Features.EnableDynamicWeightChangesReload,
		},
		MinReloadInterval: cfg.Timing.GetMinReloadInterval(),
	}
}

func dataplaneOptions(cfg *coreconfig.Config) dataplane.Options {
	n := cfg.Nginx
	return dataplane.Options{
		Binary: n.Binary,
		Paths: dataplane.Paths{
			ConfDir:    n.ConfDir,
			SecretsDir: n.SecretsDir,
			PIDFile:    n.PidFile,
		},
		StatusURL:       fmt.Sprintf("http://127.0.0.1:%d", n.StatusPort),
		PlusAPIVersion:  n.PlusAPIVersion,
		ReloadTimeout:   n.GetReloadTimeout(),
		StartIfStopped:  n.StartNginx,
		BreakerFailures: uint32(n.BreakerFailures), //nolint:gosec // validated to be positive
		BreakerTimeout:  n.GetBreakerTimeout(),
	}
}

func watcherOptions(cfg *coreconfig.Config) resourcewatcher.Options {
	return resourcewatcher.Options{
		CustomResources:   cfg.Features.CustomResources(),
		Namespaces:        cfg.Watch.Namespaces,
		NamespaceSelector: cfg.Watch.NamespaceLabel,
		RetryBudget:       cfg.Watch.RetryBudget,
	}
}

func electionConfig(cfg *coreconfig.Config, namespace string) (k8sleaderelection.Config, error) {
	if namespace == "" {
		namespace = os.Getenv("POD_NAMESPACE")
	}
	if namespace == "" {
		return k8sleaderelection.Config{}, errors.New("leader election needs the controller namespace: set POD_NAMESPACE or run in-cluster")
	}
	identity, err := k8sleaderelection.Identity()
	if err != nil {
		return k8sleaderelection.Config{}, err
	}

	le := cfg.Controller.LeaderElection
	return k8sleaderelection.Config{
		Identity:        identity,
		LeaseName:       le.LeaseName,
		LeaseNamespace:  namespace,
		LeaseDuration:   le.GetLeaseDuration(),
		RenewDeadline:   le.GetRenewDeadline(),
		RetryPeriod:     le.GetRetryPeriod(),
		ReleaseOnCancel: true,
	}, nil
}
